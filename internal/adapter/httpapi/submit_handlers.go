package httpapi

import (
	"encoding/json"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kzaleski/signalmap/internal/domain"
)

// idempotencyHeader optionally carries the client's submission token; the
// payload's idempotencyKey field is the fallback, a generated UUID the last
// resort. The token becomes the queue message key. Storage does not enforce
// uniqueness; the key exists so duplicates are traceable downstream.
const idempotencyHeader = "Idempotency-Key"

// handleSubmit validates and enqueues one telemetry sample.
// POST /api/submit
func (s *Server) handleSubmit(c *gin.Context) {
	payload, ok := s.bindPayload(c)
	if !ok {
		return
	}
	if msg := validateTelemetrySubmission(payload); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}
	if _, present := payload["send_time"]; !present {
		if _, present := payload["sentTime"]; !present {
			payload["send_time"] = time.Now().UTC().Format(time.RFC3339)
		}
	}

	s.enqueue(c, payload)
}

// handleSubmitSpeedtest validates and enqueues one speedtest result.
// POST /api/speedtest
func (s *Server) handleSubmitSpeedtest(c *gin.Context) {
	payload, ok := s.bindPayload(c)
	if !ok {
		return
	}
	payload["kind"] = domain.KindSpeedtest
	if msg := validateSpeedtestSubmission(payload); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}
	if _, present := payload["sentTime"]; !present {
		payload["sentTime"] = time.Now().UTC().Format(time.RFC3339)
	}

	s.enqueue(c, payload)
}

// bindPayload decodes the request body and stamps the authenticated device's
// short code onto it. The token subject wins over any client-supplied value.
func (s *Server) bindPayload(c *gin.Context) (map[string]any, bool) {
	var payload map[string]any
	if err := c.ShouldBindJSON(&payload); err != nil || payload == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return nil, false
	}
	if shortCode, exists := c.Get(shortCodeKey); exists {
		payload["shortCode"] = shortCode
	}
	return payload, true
}

func (s *Server) enqueue(c *gin.Context, payload map[string]any) {
	token := c.GetHeader(idempotencyHeader)
	if token == "" {
		token, _ = payload["idempotencyKey"].(string)
	}
	if token == "" {
		token = uuid.NewString()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	if err := s.enqueuer.Enqueue(ctx, token, body); err != nil {
		s.logger.Error("enqueue failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue unavailable"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":         "queued",
		"idempotencyKey": token,
	})
}

// validateTelemetrySubmission checks the core fields before the sample is
// accepted into the queue. The worker re-validates on consumption; rejecting
// obvious garbage here gives the client an immediate 400 instead of a silent
// drop later.
func validateTelemetrySubmission(payload map[string]any) string {
	op, _ := payload["operator"].(string)
	if op == "" {
		return "operator is required"
	}
	if nt := stringOr(payload, "networkType", "network_type"); nt == "" {
		return "networkType is required"
	}
	if !isStrictInt(payload["signal"]) {
		return "signal must be an integer"
	}
	lat, latOK := numberValue(payload["lat"])
	lon, lonOK := numberValue(payload["lon"])
	if !latOK || !lonOK {
		return "lat and lon are required"
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return "lat/lon out of range"
	}
	if msg := checkSubmittedTime(payload, "send_time", "sentTime"); msg != "" {
		return msg
	}
	return ""
}

func validateSpeedtestSubmission(payload map[string]any) string {
	for _, field := range []string{"latencyMs", "jitterMs", "downloadMbps", "uploadMbps"} {
		if v, present := payload[field]; present {
			if _, ok := numberValue(v); !ok {
				return field + " must be a number"
			}
		}
	}
	lat, latOK := numberValue(payload["lat"])
	lon, lonOK := numberValue(payload["lon"])
	if latOK && lonOK && (lat < -90 || lat > 90 || lon < -180 || lon > 180) {
		return "lat/lon out of range"
	}
	if msg := checkSubmittedTime(payload, "sentTime", "send_time"); msg != "" {
		return msg
	}
	return ""
}

func checkSubmittedTime(payload map[string]any, keys ...string) string {
	for _, key := range keys {
		v, present := payload[key]
		if !present {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return key + " must be an ISO-8601 timestamp"
		}
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			return key + " must be an ISO-8601 timestamp"
		}
	}
	return ""
}

func stringOr(payload map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := payload[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// isStrictInt accepts only JSON numbers with no fractional part. Strings and
// booleans that the lenient worker-side coercion would take are refused at the
// submission boundary.
func isStrictInt(v any) bool {
	f, ok := v.(float64)
	return ok && f == math.Trunc(f)
}

func numberValue(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

// handleSpeedtestPing answers with an empty body so clients can measure
// round-trip latency without payload-size noise.
// GET /api/speedtest/ping
func handleSpeedtestPing(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// handleSpeedtestUpload sinks a client upload and reports the byte count,
// letting the client compute its upstream throughput. The body is discarded,
// never stored, and cut off at the configured cap.
// POST /api/speedtest/upload
func (s *Server) handleSpeedtestUpload(c *gin.Context) {
	n, err := io.Copy(io.Discard, io.LimitReader(c.Request.Body, s.cfg.SpeedtestMaxUploadBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "upload interrupted"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"receivedBytes": n})
}
