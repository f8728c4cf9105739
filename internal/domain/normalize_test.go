package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// payload decodes a JSON literal into the loosely-typed map the queue delivers.
func payload(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &m))
	return m
}

func validTelemetry(t *testing.T) map[string]any {
	return payload(t, `{
		"operator": "Play",
		"network_type": "LTE",
		"signal": -95,
		"lat": 52.23,
		"lon": 21.01,
		"send_time": "2025-06-01T12:00:00Z",
		"enb": 4000,
		"rsrp": -101,
		"lac": 100
	}`)
}

func TestNormalizeTelemetry_Valid(t *testing.T) {
	s, err := NormalizeTelemetry(validTelemetry(t))
	require.NoError(t, err)

	assert.Equal(t, "Play", s.Operator)
	assert.Equal(t, CarrierPlay, s.OperatorNorm)
	assert.Equal(t, "LTE", s.NetworkType)
	assert.Equal(t, int64(-95), s.Signal)
	assert.InDelta(t, 52.23, s.Lat, 1e-9)
	assert.InDelta(t, 21.01, s.Lon, 1e-9)
	assert.Equal(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), s.SendTime)
	require.NotNil(t, s.Enb)
	assert.Equal(t, int64(4000), *s.Enb)
	require.NotNil(t, s.RSRP)
	assert.Equal(t, int64(-101), *s.RSRP)
	require.NotNil(t, s.LAC)
	assert.Equal(t, int64(100), *s.LAC)
	assert.Nil(t, s.CellID)
}

func TestNormalizeTelemetry_AliasedKeys(t *testing.T) {
	raw := payload(t, `{
		"operator": "Orange",
		"networkType": "3G",
		"signal": -80,
		"position": {"lat": 50.06, "lon": 19.94},
		"sentTime": "2025-06-01T12:00:00+02:00",
		"cellId": 131221,
		"timingAdvance": 3
	}`)

	s, err := NormalizeTelemetry(raw)
	require.NoError(t, err)

	assert.Equal(t, "3G", s.NetworkType)
	assert.InDelta(t, 50.06, s.Lat, 1e-9)
	assert.InDelta(t, 19.94, s.Lon, 1e-9)
	// +02:00 normalizes to UTC.
	assert.Equal(t, time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC), s.SendTime)
	require.NotNil(t, s.CellID)
	assert.Equal(t, int64(131221), *s.CellID)
	require.NotNil(t, s.TimingAdvance)
	assert.Equal(t, int64(3), *s.TimingAdvance)
}

func TestNormalizeTelemetry_TopLevelPositionWins(t *testing.T) {
	raw := validTelemetry(t)
	raw["position"] = map[string]any{"lat": 0.0, "lon": 0.0}

	s, err := NormalizeTelemetry(raw)
	require.NoError(t, err)
	assert.InDelta(t, 52.23, s.Lat, 1e-9)
}

func TestNormalizeTelemetry_BooleanSignalRejected(t *testing.T) {
	raw := validTelemetry(t)
	raw["signal"] = true

	_, err := NormalizeTelemetry(raw)
	assert.ErrorIs(t, err, ErrMissingCoreFields)
}

func TestNormalizeTelemetry_NumericStringSignalAccepted(t *testing.T) {
	raw := validTelemetry(t)
	raw["signal"] = "-87"

	s, err := NormalizeTelemetry(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(-87), s.Signal)
}

func TestNormalizeTelemetry_MissingCoreFields(t *testing.T) {
	for _, field := range []string{"operator", "network_type", "signal", "lat", "lon"} {
		t.Run(field, func(t *testing.T) {
			raw := validTelemetry(t)
			delete(raw, field)
			_, err := NormalizeTelemetry(raw)
			assert.ErrorIs(t, err, ErrMissingCoreFields)
		})
	}
}

func TestNormalizeTelemetry_PositionOutOfRange(t *testing.T) {
	raw := validTelemetry(t)
	raw["lat"] = 95.0

	_, err := NormalizeTelemetry(raw)
	assert.ErrorIs(t, err, ErrPositionOutOfRange)

	raw = validTelemetry(t)
	raw["lon"] = -181.0

	_, err = NormalizeTelemetry(raw)
	assert.ErrorIs(t, err, ErrPositionOutOfRange)
}

func TestNormalizeTelemetry_BadSendTime(t *testing.T) {
	raw := validTelemetry(t)
	raw["send_time"] = "yesterday at noon"

	_, err := NormalizeTelemetry(raw)
	assert.ErrorIs(t, err, ErrBadSendTime)
}

func TestNormalizeTelemetry_MissingSendTimeDefaultsToNow(t *testing.T) {
	frozen := time.Date(2025, 6, 2, 8, 30, 15, 999_000_000, time.UTC)
	SetClock(clockwork.NewFakeClockAt(frozen))
	defer SetClock(nil)

	raw := validTelemetry(t)
	delete(raw, "send_time")

	s, err := NormalizeTelemetry(raw)
	require.NoError(t, err)
	assert.Equal(t, frozen.Truncate(time.Second), s.SendTime)
}

func TestNormalizeTelemetry_OptionalCoercion(t *testing.T) {
	raw := validTelemetry(t)
	raw["rsrq"] = "not-a-number"
	raw["sinr"] = true
	raw["rssi"] = ""
	raw["pci"] = "261"
	raw["tac"] = 30210.0

	s, err := NormalizeTelemetry(raw)
	require.NoError(t, err)

	assert.Nil(t, s.RSRQ)
	assert.Nil(t, s.SINR)
	assert.Nil(t, s.RSSI)
	require.NotNil(t, s.PCI)
	assert.Equal(t, int64(261), *s.PCI)
	require.NotNil(t, s.TAC)
	assert.Equal(t, int64(30210), *s.TAC)
}

func TestNormalizeTelemetry_RATDefaultsToNetworkTypeAlias(t *testing.T) {
	raw := payload(t, `{
		"operator": "Plus",
		"networkType": "LTE",
		"signal": -90,
		"lat": 52.0,
		"lon": 21.0
	}`)

	s, err := NormalizeTelemetry(raw)
	require.NoError(t, err)
	require.NotNil(t, s.RAT)
	assert.Equal(t, "LTE", *s.RAT)
}

func TestNormalizeSpeedtest_Valid(t *testing.T) {
	frozen := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	SetClock(clockwork.NewFakeClockAt(frozen))
	defer SetClock(nil)

	raw := payload(t, `{
		"kind": "speedtest",
		"shortCode": "AB2C-D3EF-GH4J",
		"latencyMs": 24,
		"jitterMs": 3,
		"downloadMbps": 312.5,
		"uploadMbps": 48.1,
		"sentTime": "2025-06-01T12:00:00Z",
		"position": {"lat": 52.4, "lon": 16.9},
		"operator": "Orange"
	}`)

	s, err := NormalizeSpeedtest(raw)
	require.NoError(t, err)

	require.NotNil(t, s.ShortCode)
	assert.Equal(t, "AB2C-D3EF-GH4J", *s.ShortCode)
	require.NotNil(t, s.LatencyMs)
	assert.Equal(t, int64(24), *s.LatencyMs)
	require.NotNil(t, s.DownloadMbps)
	assert.InDelta(t, 312.5, *s.DownloadMbps, 1e-9)
	assert.Equal(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), s.SendTime)
	assert.Equal(t, frozen, s.ReceivedAt)
	require.NotNil(t, s.Lat)
	assert.InDelta(t, 52.4, *s.Lat, 1e-9)
}

func TestNormalizeSpeedtest_NoPosition(t *testing.T) {
	raw := payload(t, `{"kind": "speedtest", "downloadMbps": 100}`)

	s, err := NormalizeSpeedtest(raw)
	require.NoError(t, err)
	assert.Nil(t, s.Lat)
	assert.Nil(t, s.Lon)
}

func TestNormalizeSpeedtest_HalfPositionDropsBoth(t *testing.T) {
	raw := payload(t, `{"kind": "speedtest", "lat": 52.0}`)

	s, err := NormalizeSpeedtest(raw)
	require.NoError(t, err)
	assert.Nil(t, s.Lat)
	assert.Nil(t, s.Lon)
}

func TestNormalizeSpeedtest_BadSentTime(t *testing.T) {
	raw := payload(t, `{"kind": "speedtest", "sentTime": "not-a-time"}`)

	_, err := NormalizeSpeedtest(raw)
	assert.ErrorIs(t, err, ErrBadSentTime)
}
