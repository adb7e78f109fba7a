package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bgapp/marine-realtime/internal/feed"
	"github.com/bgapp/marine-realtime/internal/model"
)

// feedStatus is what the status endpoint reports per channel.
type feedStatus interface {
	Channel() string
	LastUpdate() time.Time
	Updates() int64
	Err() error
}

type startStopper interface {
	Start(ctx context.Context) error
	Stop()
}

// feedSet follows every configured channel: typed feeds for the well-known
// channels, raw feeds for the rest.
type feedSet struct {
	typed  []startStopper
	status []feedStatus
	raw    *feed.Multi
}

func newFeedSet(src feed.Source, channels []string, logger *slog.Logger) *feedSet {
	fs := &feedSet{}
	var other []string
	seen := make(map[string]bool, len(channels))

	for _, ch := range channels {
		if seen[ch] {
			continue
		}
		seen[ch] = true

		switch ch {
		case model.ChannelMetrics:
			fs.add(feed.Metrics(src, logger))
		case model.ChannelAlerts:
			fs.add(feed.Alerts(src, logger))
		case model.ChannelOceanData:
			fs.add(feed.OceanData(src, logger))
		case model.ChannelBiodiversity:
			fs.add(feed.Biodiversity(src, logger))
		default:
			other = append(other, ch)
		}
	}

	fs.raw = feed.NewMulti(src, other, true, logger)
	for _, ch := range fs.raw.Channels() {
		f, _ := fs.raw.Get(ch)
		fs.status = append(fs.status, f)
	}
	return fs
}

func (fs *feedSet) add(f interface {
	startStopper
	feedStatus
}) {
	fs.typed = append(fs.typed, f)
	fs.status = append(fs.status, f)
}

// Start starts every feed and joins their errors.
func (fs *feedSet) Start(ctx context.Context) error {
	var errs []error
	for _, f := range fs.typed {
		if err := f.Start(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := fs.raw.Start(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (fs *feedSet) Stop() {
	for _, f := range fs.typed {
		f.Stop()
	}
	fs.raw.Stop()
}

func (fs *feedSet) statuses() []feedStatus {
	return fs.status
}
