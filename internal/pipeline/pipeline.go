package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/kzaleski/signalmap/internal/domain"
	"github.com/kzaleski/signalmap/internal/observability"
)

// maxPayloadPreview bounds how much of a malformed payload is logged.
const maxPayloadPreview = 300

// BatchExtractor reads up to batchSize raw messages from the queue.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawMessage, error)
}

// BatchWriter persists both record sequences atomically: all rows across both
// kinds commit in one transaction or none do.
type BatchWriter interface {
	WriteBatch(ctx context.Context, telemetry []domain.TelemetrySample, speedtests []domain.SpeedtestSample) error
}

// Pipeline orchestrates the extract-normalize-write ingestion loop.
type Pipeline struct {
	extractor BatchExtractor
	writer    BatchWriter
	logger    *slog.Logger
	metrics   *observability.Metrics
	ready     atomic.Bool
	batchSize int
}

// New creates a Pipeline with the given stages and observability.
func New(e BatchExtractor, w BatchWriter, logger *slog.Logger, metrics *observability.Metrics, batchSize int) *Pipeline {
	return &Pipeline{
		extractor: e,
		writer:    w,
		logger:    logger,
		metrics:   metrics,
		batchSize: batchSize,
	}
}

// CheckReadiness returns nil if the pipeline has persisted at least one batch,
// or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not persisted any batches yet")
	}
	return nil
}

// Run executes the ingestion loop until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "batch_size", p.batchSize)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	// Exponential backoff: start at 200ms, double each retry, cap at 5s.
	// Keeps retry storms short while avoiding tight loops during outages.
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if !p.processBatch(ctx, &backoff, maxBackoff) {
			return nil
		}
	}
}

// processBatch runs one extract-normalize-write cycle. Returns false if the
// pipeline should stop.
func (p *Pipeline) processBatch(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	start := time.Now()

	rawBatch, err := p.extractor.ExtractBatch(ctx, p.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("extract batch failed", "error", err)
		return p.backoffOrStop(ctx, backoff, maxBackoff)
	}

	if len(rawBatch) == 0 {
		return ctx.Err() == nil
	}

	p.metrics.MessagesConsumed.Add(float64(len(rawBatch)))
	p.metrics.BatchSize.Observe(float64(len(rawBatch)))
	*backoff = 200 * time.Millisecond

	written, ok := p.normalizeAndWrite(ctx, rawBatch, backoff, maxBackoff)
	if !ok {
		return false
	}

	if written > 0 {
		p.metrics.BatchWriteDuration.Observe(time.Since(start).Seconds())
		p.ready.Store(true)
	}
	return true
}

// normalizeAndWrite normalizes each message, persists the survivors in one
// transaction, and commits offsets. Malformed or rejected messages are
// dropped individually (offset committed, no retry); a write failure leaves
// all offsets uncommitted so the transport redelivers the whole batch.
// Returns the number of persisted records and false if the pipeline should stop.
func (p *Pipeline) normalizeAndWrite(ctx context.Context, rawBatch []domain.RawMessage, backoff *time.Duration, maxBackoff time.Duration) (int, bool) {
	telemetry := make([]domain.TelemetrySample, 0, len(rawBatch))
	speedtests := make([]domain.SpeedtestSample, 0)
	accepted := make([]domain.RawMessage, 0, len(rawBatch))

	for _, raw := range rawBatch {
		var obj map[string]any
		if err := json.Unmarshal(raw.Value, &obj); err != nil {
			p.logger.Warn("malformed message, dropping",
				"error", err,
				"payload", payloadPreview(raw.Value),
				"topic", raw.Topic,
				"partition", raw.Partition,
				"offset", raw.Offset,
			)
			p.metrics.ParseErrors.Inc()
			p.commitOffset(ctx, raw)
			continue
		}

		if kind, _ := obj["kind"].(string); kind == domain.KindSpeedtest {
			sp, err := domain.NormalizeSpeedtest(obj)
			if err != nil {
				p.reject(ctx, raw, "speedtest", err)
				continue
			}
			speedtests = append(speedtests, sp)
		} else {
			tel, err := domain.NormalizeTelemetry(obj)
			if err != nil {
				p.reject(ctx, raw, "telemetry", err)
				continue
			}
			telemetry = append(telemetry, tel)
		}
		accepted = append(accepted, raw)
	}

	if len(telemetry) == 0 && len(speedtests) == 0 {
		return 0, true
	}

	if err := p.writer.WriteBatch(ctx, telemetry, speedtests); err != nil {
		p.logger.Error("batch write failed, batch will be redelivered",
			"error", err,
			"telemetry", len(telemetry),
			"speedtests", len(speedtests),
		)
		p.metrics.WriteFailures.Inc()
		return 0, p.backoffOrStop(ctx, backoff, maxBackoff)
	}

	p.metrics.SamplesWritten.WithLabelValues("telemetry").Add(float64(len(telemetry)))
	p.metrics.SamplesWritten.WithLabelValues("speedtest").Add(float64(len(speedtests)))

	for _, raw := range accepted {
		p.commitOffset(ctx, raw)
	}

	return len(telemetry) + len(speedtests), true
}

// reject drops one record that failed normalization. Sibling records in the
// same batch still proceed.
func (p *Pipeline) reject(ctx context.Context, raw domain.RawMessage, kind string, err error) {
	p.logger.Warn("record rejected, dropping",
		"kind", kind,
		"reason", err,
		"topic", raw.Topic,
		"partition", raw.Partition,
		"offset", raw.Offset,
	)
	p.metrics.SamplesRejected.WithLabelValues(kind).Inc()
	p.commitOffset(ctx, raw)
}

// backoffOrStop checks for context cancellation, sleeps with the current backoff,
// and advances the backoff. Returns false if the pipeline should stop.
func (p *Pipeline) backoffOrStop(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !sleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = nextBackoff(*backoff, maxBackoff)
	return true
}

// commitOffset commits the message offset if a commit function is available.
func (p *Pipeline) commitOffset(ctx context.Context, raw domain.RawMessage) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}

func payloadPreview(value []byte) string {
	if len(value) > maxPayloadPreview {
		return string(value[:maxPayloadPreview])
	}
	return string(value)
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
