package domain

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

// Rejection reasons surfaced by the normalizers. A rejected record is dropped
// individually; sibling records in the same batch still proceed.
var (
	ErrMissingCoreFields  = errors.New("missing or invalid core fields")
	ErrPositionOutOfRange = errors.New("position out of range")
	ErrBadSendTime        = errors.New("send_time must be ISO-8601")
	ErrBadSentTime        = errors.New("sentTime must be ISO-8601")
	ErrBadPosition        = errors.New("position must be numeric")
)

// NormalizeTelemetry converts a raw queue payload into a canonical telemetry
// sample or rejects it with a reason. No partial result is ever returned.
func NormalizeTelemetry(raw map[string]any) (TelemetrySample, error) {
	operator := strings.TrimSpace(stringField(raw, "operator"))
	networkType := strings.TrimSpace(stringField(raw, "network_type", "networkType"))
	var signal int64
	signalOK := false
	if v, ok := fieldValue(raw, "signal"); ok {
		signal, signalOK = intValue(v)
	}

	latRaw, latPresent := positionField(raw, "lat")
	lonRaw, lonPresent := positionField(raw, "lon")

	sendTime, err := resolveSendTime(raw, ErrBadSendTime, "send_time", "sentTime")
	if err != nil {
		return TelemetrySample{}, err
	}

	if operator == "" || networkType == "" || !signalOK || !latPresent || !lonPresent {
		return TelemetrySample{}, ErrMissingCoreFields
	}

	lat, latOK := floatValue(latRaw)
	lon, lonOK := floatValue(lonRaw)
	if !latOK || !lonOK {
		return TelemetrySample{}, ErrMissingCoreFields
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return TelemetrySample{}, ErrPositionOutOfRange
	}

	return TelemetrySample{
		Operator:     operator,
		OperatorNorm: ResolveCarrier(operator),
		NetworkType:  networkType,
		Signal:       signal,
		Lat:          lat,
		Lon:          lon,
		SendTime:     sendTime,

		ShortCode: optString(raw, "short_code", "shortCode"),

		RAT:           optString(raw, "rat", "networkType"),
		NRMode:        optString(raw, "nr_mode", "nrMode"),
		Band:          optString(raw, "band"),
		ARFCN:         optInt(raw, "arfcn"),
		RSRP:          optInt(raw, "rsrp"),
		RSRQ:          optInt(raw, "rsrq"),
		SINR:          optInt(raw, "sinr"),
		RSSI:          optInt(raw, "rssi"),
		TimingAdvance: optInt(raw, "timing_advance", "timingAdvance"),
		PCI:           optInt(raw, "pci"),
		ECI:           optInt(raw, "eci"),
		NCI:           optInt(raw, "nci"),
		CellID:        optInt(raw, "cell_id", "cellId"),
		Enb:           optInt(raw, "enb"),
		SectorID:      optInt(raw, "sector_id", "sectorId"),
		TAC:           optInt(raw, "tac"),
		LAC:           optInt(raw, "lac"),
	}, nil
}

// NormalizeSpeedtest converts a raw speedtest payload into its canonical form.
// It shares the aliasing and timestamp rules with telemetry but has no
// operator-brand mapping and no signal/network-type requirements.
func NormalizeSpeedtest(raw map[string]any) (SpeedtestSample, error) {
	sendTime, err := resolveSendTime(raw, ErrBadSentTime, "sentTime", "send_time")
	if err != nil {
		return SpeedtestSample{}, err
	}

	var lat, lon *float64
	if v, ok := positionField(raw, "lat"); ok {
		f, fOK := floatValue(v)
		if !fOK {
			return SpeedtestSample{}, ErrBadPosition
		}
		lat = &f
	}
	if v, ok := positionField(raw, "lon"); ok {
		f, fOK := floatValue(v)
		if !fOK {
			return SpeedtestSample{}, ErrBadPosition
		}
		lon = &f
	}
	// Both coordinates or neither; a half-present position persists as null.
	if lat == nil || lon == nil {
		lat, lon = nil, nil
	}

	return SpeedtestSample{
		ShortCode:    optString(raw, "shortCode", "short_code"),
		LatencyMs:    optInt(raw, "latencyMs", "latency_ms"),
		JitterMs:     optInt(raw, "jitterMs", "jitter_ms"),
		DownloadMbps: optFloat(raw, "downloadMbps", "download_mbps"),
		UploadMbps:   optFloat(raw, "uploadMbps", "upload_mbps"),
		SendTime:     sendTime,
		ReceivedAt:   clock.Now().UTC().Truncate(time.Second),
		Lat:          lat,
		Lon:          lon,
		Operator:     optString(raw, "operator"),
	}, nil
}

// resolveSendTime parses the capture time from the first present alias, or
// defaults to the normalization instant. All times are normalized to UTC with
// second precision.
func resolveSendTime(raw map[string]any, rejectErr error, keys ...string) (time.Time, error) {
	v, ok := fieldValue(raw, keys...)
	if !ok {
		return clock.Now().UTC().Truncate(time.Second), nil
	}
	s, isStr := v.(string)
	if !isStr || strings.TrimSpace(s) == "" {
		return time.Time{}, rejectErr
	}
	t, err := parseISOTime(strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, rejectErr
	}
	return t.UTC().Truncate(time.Second), nil
}

// isoLayouts are tried in order. Naive timestamps (no zone) are taken as UTC.
var isoLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseISOTime(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range isoLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// fieldValue resolves a logical field from an ordered list of candidate keys:
// the first key that is present with a non-nil value wins.
func fieldValue(raw map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// positionField resolves a coordinate: explicit top-level field first, the
// nested position object second.
func positionField(raw map[string]any, coord string) (any, bool) {
	if v, ok := fieldValue(raw, coord); ok {
		return v, true
	}
	if pos, ok := raw["position"].(map[string]any); ok {
		return fieldValue(pos, coord)
	}
	return nil, false
}

// stringField returns the first candidate that stringifies non-empty, or "".
func stringField(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := stringify(raw[k]); strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return ""
	}
}

// optString returns a trimmed string pointer, or nil when every candidate is
// absent or blank.
func optString(raw map[string]any, keys ...string) *string {
	s := strings.TrimSpace(stringField(raw, keys...))
	if s == "" {
		return nil
	}
	return &s
}

// optInt best-effort coerces an optional radio parameter to an integer.
// Non-numeric, empty, boolean, or absent values all coerce to nil rather
// than failing: these fields are telemetry, not correctness-critical.
func optInt(raw map[string]any, keys ...string) *int64 {
	v, ok := fieldValue(raw, keys...)
	if !ok {
		return nil
	}
	n, ok := intValue(v)
	if !ok {
		return nil
	}
	return &n
}

// optFloat best-effort coerces an optional numeric field, nil on anything else.
func optFloat(raw map[string]any, keys ...string) *float64 {
	v, ok := fieldValue(raw, keys...)
	if !ok {
		return nil
	}
	if _, isBool := v.(bool); isBool {
		return nil
	}
	f, ok := floatValue(v)
	if !ok {
		return nil
	}
	return &f
}

// intValue coerces a loosely-typed value to an integer. Booleans are always
// rejected even though they are integer-like in loosely-typed sources.
// Fractional floats are truncated, matching the historical worker behavior.
func intValue(v any) (int64, bool) {
	switch x := v.(type) {
	case bool:
		return 0, false
	case float64:
		return int64(x), true
	case int:
		return int64(x), true
	case int64:
		return x, true
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, false
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// floatValue coerces a loosely-typed value to a float. Booleans are rejected.
func floatValue(v any) (float64, bool) {
	switch x := v.(type) {
	case bool:
		return 0, false
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, false
		}
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
