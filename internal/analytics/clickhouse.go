package analytics

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/heliumhq/helium-go/internal/metrics"
	"github.com/heliumhq/helium-go/internal/models"
)

// Sink receives every lifecycle event for offline analysis. Record must
// never block the event dispatch path.
type Sink interface {
	Record(ev models.Event)
}

// NopSink discards events. Used when analytics is disabled.
type NopSink struct{}

// Record discards the event.
func (NopSink) Record(models.Event) {}

// ClickHouseSink batches lifecycle events into a ClickHouse table. The
// buffer is bounded: on overflow events are dropped and counted rather
// than backing up into the dispatch path.
type ClickHouseSink struct {
	conn          driver.Conn
	table         string
	batchSize     int
	flushInterval time.Duration

	buf     chan models.Event
	done    chan struct{}
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Options configures a ClickHouse sink.
type Options struct {
	Table         string
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int
}

// NewClickHouseSink constructs a sink. Run must be started for events
// to flush.
func NewClickHouseSink(conn driver.Conn, opts Options, logger *zap.Logger, m *metrics.Metrics) *ClickHouseSink {
	if opts.Table == "" {
		opts.Table = "helium_events"
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 5 * time.Second
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 10000
	}

	return &ClickHouseSink{
		conn:          conn,
		table:         opts.Table,
		batchSize:     opts.BatchSize,
		flushInterval: opts.FlushInterval,
		buf:           make(chan models.Event, opts.BufferSize),
		done:          make(chan struct{}),
		logger:        logger,
		metrics:       m,
	}
}

// Record enqueues an event for batching. Drops on overflow.
func (s *ClickHouseSink) Record(ev models.Event) {
	select {
	case s.buf <- ev:
	default:
		if s.metrics != nil {
			s.metrics.AnalyticsDropped.Inc()
		}
	}
}

// Run batches and flushes events until the context is cancelled, then
// drains what is buffered.
func (s *ClickHouseSink) Run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	batch := make([]models.Event, 0, s.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.insert(batch); err != nil {
			s.logger.Warn("analytics batch insert failed",
				zap.Int("events", len(batch)),
				zap.Error(err),
			)
		} else if s.metrics != nil {
			s.metrics.AnalyticsFlushed.Add(float64(len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case ev := <-s.buf:
			batch = append(batch, ev)
			if len(batch) >= s.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			// Drain whatever is still buffered before exiting.
			for {
				select {
				case ev := <-s.buf:
					batch = append(batch, ev)
					if len(batch) >= s.batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// Done is closed once Run has drained and exited.
func (s *ClickHouseSink) Done() <-chan struct{} {
	return s.done
}

func (s *ClickHouseSink) insert(events []models.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO "+s.table)
	if err != nil {
		return err
	}

	for _, ev := range events {
		if err := batch.Append(
			ev.ID,
			string(ev.Kind),
			ev.Timestamp,
			ev.Trigger,
			ev.PaywallName,
			ev.SessionID,
			ev.UserID,
			string(ev.SkipReason),
			ev.ButtonName,
			ev.ActionName,
			ev.ProductID,
			ev.Error,
			ev.ConfigID.String(),
			ev.RenderTimeMS,
			ev.LoadingBudgetMS,
		); err != nil {
			return err
		}
	}

	return batch.Send()
}
