package feed

import (
	"context"
	"errors"
	"log/slog"

	"github.com/goccy/go-json"
)

// Multi groups raw feeds for several channels on one source.
type Multi struct {
	order []string
	feeds map[string]*Feed[json.RawMessage]
}

// NewMulti creates one raw feed per channel. Duplicate names are ignored.
func NewMulti(src Source, channels []string, connect bool, logger *slog.Logger) *Multi {
	m := &Multi{feeds: make(map[string]*Feed[json.RawMessage], len(channels))}
	for _, ch := range channels {
		if _, ok := m.feeds[ch]; ok {
			continue
		}
		m.order = append(m.order, ch)
		m.feeds[ch] = New(src, Config[json.RawMessage]{Channel: ch, Connect: connect}, logger)
	}
	return m
}

// Start starts every feed and joins their errors.
func (m *Multi) Start(ctx context.Context) error {
	var errs []error
	for _, ch := range m.order {
		if err := m.feeds[ch].Start(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stop stops every feed.
func (m *Multi) Stop() {
	for _, ch := range m.order {
		m.feeds[ch].Stop()
	}
}

// Get returns the feed for ch.
func (m *Multi) Get(ch string) (*Feed[json.RawMessage], bool) {
	f, ok := m.feeds[ch]
	return f, ok
}

// Channels returns the channel names in the order given to NewMulti.
func (m *Multi) Channels() []string {
	return append([]string(nil), m.order...)
}
