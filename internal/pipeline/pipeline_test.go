package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kzaleski/signalmap/internal/domain"
	"github.com/kzaleski/signalmap/internal/observability"
)

type stubExtractor struct {
	mu      sync.Mutex
	batches [][]domain.RawMessage
	err     error
}

func (s *stubExtractor) ExtractBatch(_ context.Context, _ int) ([]domain.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if len(s.batches) == 0 {
		return nil, nil
	}
	batch := s.batches[0]
	s.batches = s.batches[1:]
	return batch, nil
}

type stubWriter struct {
	mu         sync.Mutex
	telemetry  []domain.TelemetrySample
	speedtests []domain.SpeedtestSample
	calls      int
	failures   int // fail the first N calls
}

func (s *stubWriter) WriteBatch(_ context.Context, tel []domain.TelemetrySample, sp []domain.SpeedtestSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return errors.New("database unavailable")
	}
	s.telemetry = append(s.telemetry, tel...)
	s.speedtests = append(s.speedtests, sp...)
	return nil
}

type commitRecorder struct {
	mu      sync.Mutex
	offsets []int64
}

func (c *commitRecorder) message(offset int64, value string) domain.RawMessage {
	return domain.RawMessage{
		Topic:     "radio-measurements",
		Partition: 0,
		Offset:    offset,
		Value:     []byte(value),
		Commit: func(context.Context) error {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.offsets = append(c.offsets, offset)
			return nil
		},
	}
}

func (c *commitRecorder) committed() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int64(nil), c.offsets...)
}

func newTestPipeline(e BatchExtractor, w BatchWriter) *Pipeline {
	return New(e, w, slog.New(slog.NewTextHandler(io.Discard, nil)), observability.NewMetricsForTesting(), 50)
}

const validTelemetryJSON = `{
	"operator": "Play",
	"network_type": "LTE",
	"signal": -95,
	"lat": 52.23,
	"lon": 21.01,
	"send_time": "2025-06-01T12:00:00Z",
	"enb": 4000
}`

const validSpeedtestJSON = `{
	"kind": "speedtest",
	"shortCode": "AB2C-D3EF-GH4J",
	"downloadMbps": 312.5,
	"sentTime": "2025-06-01T12:00:00Z"
}`

func TestProcessBatch_WritesAndCommits(t *testing.T) {
	rec := &commitRecorder{}
	extractor := &stubExtractor{batches: [][]domain.RawMessage{{
		rec.message(10, validTelemetryJSON),
		rec.message(11, validSpeedtestJSON),
	}}}
	writer := &stubWriter{}
	p := newTestPipeline(extractor, writer)

	backoff := 200 * time.Millisecond
	assert.True(t, p.processBatch(context.Background(), &backoff, 5*time.Second))

	require.Len(t, writer.telemetry, 1)
	assert.Equal(t, "Play", writer.telemetry[0].Operator)
	require.Len(t, writer.speedtests, 1)
	assert.Equal(t, []int64{10, 11}, rec.committed())
	assert.NoError(t, p.CheckReadiness(context.Background()))
}

func TestProcessBatch_MalformedMessageDroppedSiblingsSurvive(t *testing.T) {
	rec := &commitRecorder{}
	extractor := &stubExtractor{batches: [][]domain.RawMessage{{
		rec.message(20, `{not json`),
		rec.message(21, validTelemetryJSON),
	}}}
	writer := &stubWriter{}
	p := newTestPipeline(extractor, writer)

	backoff := 200 * time.Millisecond
	assert.True(t, p.processBatch(context.Background(), &backoff, 5*time.Second))

	require.Len(t, writer.telemetry, 1)
	// The malformed message commits immediately, the accepted one after the write.
	assert.Equal(t, []int64{20, 21}, rec.committed())
}

func TestProcessBatch_RejectedRecordDroppedSiblingsSurvive(t *testing.T) {
	rec := &commitRecorder{}
	extractor := &stubExtractor{batches: [][]domain.RawMessage{{
		rec.message(30, `{"operator": "Play", "signal": -95}`), // missing core fields
		rec.message(31, validTelemetryJSON),
	}}}
	writer := &stubWriter{}
	p := newTestPipeline(extractor, writer)

	backoff := 200 * time.Millisecond
	assert.True(t, p.processBatch(context.Background(), &backoff, 5*time.Second))

	require.Len(t, writer.telemetry, 1)
	assert.Equal(t, []int64{30, 31}, rec.committed())
}

func TestProcessBatch_WriteFailureLeavesOffsetsUncommitted(t *testing.T) {
	rec := &commitRecorder{}
	extractor := &stubExtractor{batches: [][]domain.RawMessage{{
		rec.message(40, validTelemetryJSON),
	}}}
	writer := &stubWriter{failures: 1}
	p := newTestPipeline(extractor, writer)

	backoff := 1 * time.Millisecond
	assert.True(t, p.processBatch(context.Background(), &backoff, 5*time.Second))

	assert.Empty(t, rec.committed())
	assert.Error(t, p.CheckReadiness(context.Background()))
	// Backoff advanced for the next attempt.
	assert.Equal(t, 2*time.Millisecond, backoff)
}

func TestProcessBatch_AllRejectedSkipsWrite(t *testing.T) {
	rec := &commitRecorder{}
	extractor := &stubExtractor{batches: [][]domain.RawMessage{{
		rec.message(50, `{broken`),
	}}}
	writer := &stubWriter{}
	p := newTestPipeline(extractor, writer)

	backoff := 200 * time.Millisecond
	assert.True(t, p.processBatch(context.Background(), &backoff, 5*time.Second))

	assert.Zero(t, writer.calls)
	assert.Equal(t, []int64{50}, rec.committed())
	assert.Error(t, p.CheckReadiness(context.Background()))
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	extractor := &stubExtractor{}
	writer := &stubWriter{}
	p := newTestPipeline(extractor, writer)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not stop after context cancellation")
	}
}

func TestRun_RetriesAfterWriteFailure(t *testing.T) {
	rec := &commitRecorder{}
	extractor := &stubExtractor{batches: [][]domain.RawMessage{
		{rec.message(60, validTelemetryJSON)},
		{rec.message(60, validTelemetryJSON)}, // redelivery
	}}
	writer := &stubWriter{failures: 1}
	p := newTestPipeline(extractor, writer)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		writer.mu.Lock()
		defer writer.mu.Unlock()
		return len(writer.telemetry) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, []int64{60}, rec.committed())
}

func TestCheckReadiness_BeforeFirstBatch(t *testing.T) {
	p := newTestPipeline(&stubExtractor{}, &stubWriter{})
	assert.Error(t, p.CheckReadiness(context.Background()))
}

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, 400*time.Millisecond, nextBackoff(200*time.Millisecond, 5*time.Second))
	assert.Equal(t, 5*time.Second, nextBackoff(3*time.Second, 5*time.Second))
	assert.Equal(t, 5*time.Second, nextBackoff(5*time.Second, 5*time.Second))
}
