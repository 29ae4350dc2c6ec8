package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/google/uuid"

	"github.com/nulpointcorp/modelgate/internal/core"
)

const (
	channelBuffer = 10_000
	batchSize     = 100
	flushInterval = time.Second
)

// ClickHouseConfig dials a ClickHouse native-protocol endpoint.
type ClickHouseConfig struct {
	Addr     string
	Database string
	Username string
	Password string
}

// ClickHouseRecorder is a non-blocking, batched Recorder that flushes usage
// records into ClickHouse via its native client's batch insert API.
//
// Grounded directly on the teacher's internal/logger.Logger: the same
// buffered-channel-plus-background-goroutine shape (10k buffer, 100-row
// batches, 1s flush ticker, drop-on-full with a DroppedRecords counter)
// adapted to flush into a ClickHouse table instead of slog lines. This
// wires github.com/ClickHouse/clickhouse-go/v2 — present in the teacher's
// go.mod but unused anywhere in its own tree.
type ClickHouseRecorder struct {
	conn clickhouse.Conn
	ch   chan core.UsageRecord
	done chan struct{}

	closeOnce sync.Once
	wg        sync.WaitGroup

	dropped int64
	log     *slog.Logger
}

// NewClickHouseRecorder opens a native ClickHouse connection and starts the
// background flush loop. The caller must eventually call Close.
func NewClickHouseRecorder(ctx context.Context, cfg ClickHouseConfig, log *slog.Logger) (*ClickHouseRecorder, error) {
	if log == nil {
		log = slog.Default()
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("analytics: open clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("analytics: ping clickhouse: %w", err)
	}

	r := &ClickHouseRecorder{
		conn: conn,
		ch:   make(chan core.UsageRecord, channelBuffer),
		done: make(chan struct{}),
		log:  log,
	}
	r.wg.Add(1)
	go r.run(ctx)
	return r, nil
}

// LogUsage enqueues rec for async flush. If the buffer is full the record
// is dropped and counted — logging usage must never block the request
// path, matching the teacher's logger.Logger.Log semantics exactly.
func (r *ClickHouseRecorder) LogUsage(_ context.Context, rec core.UsageRecord) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.TS.IsZero() {
		rec.TS = time.Now()
	}
	select {
	case r.ch <- rec:
	default:
		atomic.AddInt64(&r.dropped, 1)
	}
}

// DroppedRecords returns the count of usage records dropped due to a full
// buffer.
func (r *ClickHouseRecorder) DroppedRecords() int64 {
	return atomic.LoadInt64(&r.dropped)
}

// Close stops the flush loop, flushing any buffered records first.
func (r *ClickHouseRecorder) Close() error {
	r.closeOnce.Do(func() { close(r.done) })
	r.wg.Wait()
	return r.conn.Close()
}

func (r *ClickHouseRecorder) run(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]core.UsageRecord, 0, batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := r.flushBatch(ctx, batch); err != nil {
			r.log.Error("analytics: flush failed", slog.String("error", err.Error()), slog.Int("rows", len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case rec := <-r.ch:
			batch = append(batch, rec)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-r.done:
			for {
				select {
				case rec := <-r.ch:
					batch = append(batch, rec)
					if len(batch) >= batchSize {
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

func (r *ClickHouseRecorder) flushBatch(ctx context.Context, records []core.UsageRecord) error {
	b, err := r.conn.PrepareBatch(ctx, `
		INSERT INTO usage_records (
			id, ts, owner, requested_model, actual_model,
			input_tokens, output_tokens, total_tokens, cost_usd,
			latency_ms, success, error_kind, routing_strategy,
			endpoint_id, cache_hit
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, rec := range records {
		if err := b.Append(
			rec.ID, rec.TS, rec.Owner, rec.RequestedModel, rec.ActualModel,
			rec.InputTokens, rec.OutputTokens, rec.TotalTokens, rec.CostUSD,
			rec.LatencyMs, rec.Success, string(rec.ErrorKind), string(rec.RoutingStrategy),
			rec.EndpointID, rec.CacheHit,
		); err != nil {
			return fmt.Errorf("append row: %w", err)
		}
	}
	return b.Send()
}
