package recorder

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sony/gobreaker/v2"

	"github.com/bgapp/marine-realtime/internal/metrics"
	"github.com/bgapp/marine-realtime/internal/outbox"
)

// BatchSender is the subset of pgxpool.Pool the recorder writes through.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Stats counts recorder outcomes.
type Stats struct {
	Received  int64
	Inserts   int64
	Conflicts int64
	Failed    int64
	Flushes   int64
	Errors    int64
	Rejected  int64 // Add after Stop
}

const insertMessageSQL = `
	INSERT INTO channel_messages (id, channel, ts, received_at, source, payload)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (id) DO NOTHING
`

// Recorder consumes Records from its input buffer and writes them to
// channel_messages in batches.
type Recorder struct {
	cfg    Config
	logger *slog.Logger

	input   *outbox.Buffer[Record]
	db      BatchSender
	breaker *gobreaker.CircuitBreaker[int]

	batch       []messageRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	ctx      context.Context
	cancel   context.CancelFunc
	consumer sync.WaitGroup
	flusher  sync.WaitGroup

	statsMu sync.Mutex
	stats   Stats
}

// New creates a Recorder writing through db.
func New(cfg Config, db BatchSender, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	r := &Recorder{
		cfg:    cfg,
		logger: logger.With("component", "recorder"),
		input:  outbox.NewBuffer[Record](cfg.BufferSize),
		db:     db,
		batch:  make([]messageRow, 0, cfg.BatchSize),
	}

	name := "recorder-" + cfg.Source
	r.breaker = gobreaker.NewCircuitBreaker[int](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsExcluded: func(err error) bool {
			return errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			r.logger.Warn("recorder circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(gobreaker.StateClosed))

	return r
}

// Add queues rec for insertion. Returns false once the recorder is stopped.
func (r *Recorder) Add(rec Record) bool {
	ok := r.input.Push(rec)
	r.statsMu.Lock()
	if ok {
		r.stats.Received++
	} else {
		r.stats.Rejected++
	}
	r.statsMu.Unlock()
	return ok
}

// Pending returns the number of records not yet taken into a batch.
func (r *Recorder) Pending() int {
	return r.input.Len()
}

// Start begins consuming records and flushing batches.
func (r *Recorder) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.flushTicker = time.NewTicker(r.cfg.FlushInterval)

	r.consumer.Add(1)
	go r.consumeLoop()

	r.flusher.Add(1)
	go r.flushLoop()

	r.logger.Info("recorder started",
		"batch_size", r.cfg.BatchSize,
		"flush_interval", r.cfg.FlushInterval,
	)
	return nil
}

// Stop closes the input, drains it, and writes the final batch using ctx.
func (r *Recorder) Stop(ctx context.Context) error {
	r.logger.Info("stopping recorder")

	r.input.Close()

	done := make(chan struct{})
	go func() {
		r.consumer.Wait()
		if r.cancel != nil {
			r.cancel()
		}
		r.flusher.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warn("recorder stop timed out", "pending", r.input.Len())
		return ctx.Err()
	}

	if r.flushTicker != nil {
		r.flushTicker.Stop()
	}

	r.flush(ctx)
	r.logger.Info("recorder stopped")
	return nil
}

// Stats returns current counters.
func (r *Recorder) Stats() Stats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return r.stats
}

// BreakerState returns the insert circuit breaker state.
func (r *Recorder) BreakerState() gobreaker.State {
	return r.breaker.State()
}

// consumeLoop moves records from the input buffer into the batch until the
// buffer is closed and empty.
func (r *Recorder) consumeLoop() {
	defer r.consumer.Done()

	for {
		rec, ok := r.input.Receive()
		if !ok {
			return
		}
		r.handleRecord(rec)
	}
}

func (r *Recorder) flushLoop() {
	defer r.flusher.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.flushTicker.C:
			r.flush(r.ctx)
		}
	}
}

func (r *Recorder) handleRecord(rec Record) {
	row := r.transform(rec)

	r.batchMu.Lock()
	r.batch = append(r.batch, row)
	shouldFlush := len(r.batch) >= r.cfg.BatchSize
	r.batchMu.Unlock()

	if shouldFlush {
		r.flush(r.ctx)
	}
}

func (r *Recorder) transform(rec Record) messageRow {
	return messageRow{
		ID:         rec.ID,
		Channel:    rec.Channel,
		Ts:         rec.Timestamp,
		ReceivedAt: rec.ReceivedAt.UnixMicro(),
		Source:     r.cfg.Source,
		Payload:    []byte(rec.Payload),
	}
}

// flush writes the current batch. A failed batch is counted and dropped.
func (r *Recorder) flush(ctx context.Context) {
	r.batchMu.Lock()
	if len(r.batch) == 0 {
		r.batchMu.Unlock()
		return
	}

	batch := r.batch
	r.batch = make([]messageRow, 0, r.cfg.BatchSize)
	r.batchMu.Unlock()

	start := time.Now()

	conflicts, err := r.breaker.Execute(func() (int, error) {
		return r.batchInsert(ctx, batch)
	})
	duration := time.Since(start)

	if err != nil {
		metrics.RecordRecorderFlush(0, 0, len(batch), duration)
		r.statsMu.Lock()
		r.stats.Errors++
		r.stats.Failed += int64(len(batch))
		r.statsMu.Unlock()

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			r.logger.Warn("recorder batch skipped", "error", err, "count", len(batch))
			return
		}
		r.logger.Error("batch insert failed", "error", err, "count", len(batch))
		return
	}

	metrics.RecordRecorderFlush(len(batch)-conflicts, conflicts, 0, duration)
	r.statsMu.Lock()
	r.stats.Inserts += int64(len(batch) - conflicts)
	r.stats.Conflicts += int64(conflicts)
	r.stats.Flushes++
	r.statsMu.Unlock()

	r.logger.Debug("flushed channel messages",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", duration,
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (r *Recorder) batchInsert(ctx context.Context, rows []messageRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(insertMessageSQL,
			row.ID, row.Channel, row.Ts, row.ReceivedAt, row.Source, row.Payload)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
