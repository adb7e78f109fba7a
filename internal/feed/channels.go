package feed

import (
	"log/slog"

	"github.com/bgapp/marine-realtime/internal/model"
)

// Metrics follows the metrics channel, starting from an all-zero sample.
func Metrics(src Source, logger *slog.Logger) *Feed[model.SystemMetrics] {
	return New(src, Config[model.SystemMetrics]{
		Channel:  model.ChannelMetrics,
		Fallback: &model.SystemMetrics{},
		Connect:  true,
	}, logger)
}

// Alerts follows the alerts channel and logs every alert at a level
// matching its severity.
func Alerts(src Source, logger *slog.Logger) *Feed[model.Alert] {
	if logger == nil {
		logger = slog.Default()
	}
	f := New(src, Config[model.Alert]{
		Channel: model.ChannelAlerts,
		Connect: true,
	}, logger)

	f.OnUpdate(func(a model.Alert) {
		args := []any{"id", a.ID, "title", a.Title, "message", a.Message}
		switch a.Type {
		case model.AlertInfo:
			logger.Info("alert", args...)
		case model.AlertWarning:
			logger.Warn("alert", args...)
		case model.AlertError, model.AlertCritical:
			logger.Error("alert", append(args, "severity", a.Type)...)
		default:
			logger.Warn("alert with unknown type", append(args, "type", a.Type)...)
		}
	})
	return f
}

// OceanData follows the ocean-data channel, starting from a zero reading.
func OceanData(src Source, logger *slog.Logger) *Feed[model.OceanReading] {
	return New(src, Config[model.OceanReading]{
		Channel:  model.ChannelOceanData,
		Fallback: &model.OceanReading{},
		Connect:  true,
	}, logger)
}

// Biodiversity follows the biodiversity channel.
func Biodiversity(src Source, logger *slog.Logger) *Feed[model.BiodiversityReport] {
	return New(src, Config[model.BiodiversityReport]{
		Channel: model.ChannelBiodiversity,
		Connect: true,
	}, logger)
}
