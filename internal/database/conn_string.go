package database

import (
	"net"
	"net/url"
	"strconv"

	"github.com/bgapp/marine-realtime/internal/config"
	"github.com/bgapp/marine-realtime/internal/version"
)

// BuildConnString builds a postgres:// URL from cfg. The password is escaped
// by url.UserPassword, sslmode defaults to prefer, and application_name
// identifies the recorder in pg_stat_activity.
func BuildConnString(cfg config.DBConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	q := url.Values{}
	q.Set("sslmode", sslMode)
	q.Set("application_name", version.Product)

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + cfg.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}
