package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kzaleski/signalmap/internal/adapter/postgres"
	"github.com/kzaleski/signalmap/internal/domain"
)

// telemetryItem is one telemetry row as the map frontend consumes it:
// the sample's fields plus a GeoJSON-ordered [lon, lat] position and, on the
// enrichment endpoint, the matched registry entry.
type telemetryItem struct {
	domain.TelemetrySample
	Position   []float64       `json:"position"`
	RelatedBts *domain.Station `json:"relatedBts,omitempty"`
}

func toTelemetryItems(samples []domain.TelemetrySample) []telemetryItem {
	items := make([]telemetryItem, len(samples))
	for i, s := range samples {
		items[i] = telemetryItem{
			TelemetrySample: s,
			Position:        []float64{s.Lon, s.Lat},
		}
	}
	return items
}

// speedtestItem is one speedtest row in wire form. Position is null when the
// result was submitted without coordinates.
type speedtestItem struct {
	ID           int64      `json:"id"`
	ShortCode    *string    `json:"shortCode"`
	LatencyMs    *int64     `json:"latencyMs"`
	JitterMs     *int64     `json:"jitterMs"`
	DownloadMbps *float64   `json:"downloadMbps"`
	UploadMbps   *float64   `json:"uploadMbps"`
	SendTime     time.Time  `json:"sendTime"`
	ReceivedAt   time.Time  `json:"receivedAt"`
	Position     []float64  `json:"position"`
	Operator     *string    `json:"operator"`
}

func toSpeedtestItems(samples []domain.SpeedtestSample) []speedtestItem {
	items := make([]speedtestItem, len(samples))
	for i, s := range samples {
		item := speedtestItem{
			ID:           s.ID,
			ShortCode:    s.ShortCode,
			LatencyMs:    s.LatencyMs,
			JitterMs:     s.JitterMs,
			DownloadMbps: s.DownloadMbps,
			UploadMbps:   s.UploadMbps,
			SendTime:     s.SendTime,
			ReceivedAt:   s.ReceivedAt,
			Operator:     s.Operator,
		}
		if s.Lat != nil && s.Lon != nil {
			item.Position = []float64{*s.Lon, *s.Lat}
		}
		items[i] = item
	}
	return items
}

// handleTelemetry lists samples by time window and operator.
// GET /api/telemetry?minutes=&start=&end=&shortCode=&operator=&limit=
func (s *Server) handleTelemetry(c *gin.Context) {
	q, ok := parseTelemetryQuery(c)
	if !ok {
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	samples, err := s.store.QueryTelemetry(ctx, q)
	if err != nil {
		s.logger.Error("telemetry query failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	items := toTelemetryItems(samples)
	c.JSON(http.StatusOK, gin.H{
		"data": items,
		"meta": gin.H{"count": len(items)},
	})
}

// handleTelemetryWithBts lists samples with each one's best-matching registry
// entry attached. One registry round trip covers the whole page: the distinct
// decoded keys are collected first, then every sample is ranked against the
// candidates of its own key.
// GET /api/telemetry-with-bts?minutes=&start=&end=&shortCode=&operator=&limit=
func (s *Server) handleTelemetryWithBts(c *gin.Context) {
	q, ok := parseTelemetryQuery(c)
	if !ok {
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	samples, err := s.store.QueryTelemetry(ctx, q)
	if err != nil {
		s.logger.Error("telemetry query failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	items := toTelemetryItems(samples)

	keys := domain.CollectKeys(samples)
	if !keys.Empty() {
		lookupStart := time.Now()
		stations, err := s.store.LookupStations(ctx, keys)
		if err != nil {
			s.logger.Error("registry lookup failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		s.metrics.RegistryLookupDuration.Observe(time.Since(lookupStart).Seconds())

		idx := domain.BuildCandidateIndex(stations)
		for i := range items {
			items[i].RelatedBts = domain.SelectBestMatch(&items[i].TelemetrySample, idx, s.cfg.MatchRadiusDeg)
		}
	}

	matched := 0
	for i := range items {
		if items[i].RelatedBts != nil {
			matched++
		}
	}
	s.metrics.EnrichmentSamples.WithLabelValues("matched").Add(float64(matched))
	s.metrics.EnrichmentSamples.WithLabelValues("unmatched").Add(float64(len(items) - matched))

	c.JSON(http.StatusOK, gin.H{
		"data": items,
		"meta": gin.H{"count": len(items), "matched": matched},
	})
}

// handleStations lists positioned registry entries.
// GET /api/bts?operator=&limit=
func (s *Server) handleStations(c *gin.Context) {
	limit, ok := parseIntParam(c, "limit", 0)
	if !ok {
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	stations, err := s.store.ListStations(ctx, postgres.StationQuery{
		Operator: c.Query("operator"),
		Limit:    limit,
	})
	if err != nil {
		s.logger.Error("station listing failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": stations,
		"meta": gin.H{"count": len(stations)},
	})
}

// handleSpeedtests lists speedtest results; without a window the last 30 days.
// GET /api/speedtest?minutes=&start=&end=&shortCode=&operator=&limit=
func (s *Server) handleSpeedtests(c *gin.Context) {
	minutes, ok := parseIntParam(c, "minutes", 0)
	if !ok {
		return
	}
	limit, ok := parseIntParam(c, "limit", 0)
	if !ok {
		return
	}
	start, ok := parseTimeParam(c, "start")
	if !ok {
		return
	}
	end, ok := parseTimeParam(c, "end")
	if !ok {
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	results, err := s.store.QuerySpeedtests(ctx, postgres.SpeedtestQuery{
		Minutes:   minutes,
		Start:     start,
		End:       end,
		ShortCode: c.Query("shortCode"),
		Operator:  c.Query("operator"),
		Limit:     limit,
	})
	if err != nil {
		s.logger.Error("speedtest query failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	items := toSpeedtestItems(results)
	c.JSON(http.StatusOK, gin.H{
		"data": items,
		"meta": gin.H{"count": len(items)},
	})
}

func parseTelemetryQuery(c *gin.Context) (postgres.TelemetryQuery, bool) {
	minutes, ok := parseIntParam(c, "minutes", 0)
	if !ok {
		return postgres.TelemetryQuery{}, false
	}
	limit, ok := parseIntParam(c, "limit", 0)
	if !ok {
		return postgres.TelemetryQuery{}, false
	}
	start, ok := parseTimeParam(c, "start")
	if !ok {
		return postgres.TelemetryQuery{}, false
	}
	end, ok := parseTimeParam(c, "end")
	if !ok {
		return postgres.TelemetryQuery{}, false
	}

	return postgres.TelemetryQuery{
		Minutes:   minutes,
		Start:     start,
		End:       end,
		ShortCode: c.Query("shortCode"),
		Operator:  c.Query("operator"),
		Limit:     limit,
	}, true
}

func parseIntParam(c *gin.Context, name string, def int) (int, bool) {
	s := c.Query(name)
	if s == "" {
		return def, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return n, true
}

func parseTimeParam(c *gin.Context, name string) (*time.Time, bool) {
	s := c.Query(name)
	if s == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name + " timestamp"})
		return nil, false
	}
	u := t.UTC()
	return &u, true
}
