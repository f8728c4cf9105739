package domain

import (
	"context"
	"time"
)

// RawMessage represents an unprocessed message from the measurement topic.
type RawMessage struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// KindSpeedtest is the value of the optional "kind" discriminator that marks
// a queue payload as a speedtest result. Any other value (or its absence)
// means telemetry.
const KindSpeedtest = "speedtest"

// TelemetrySample is the canonical form of one radio measurement. Operator,
// network type, signal, position, and send time are always present on a
// persisted sample; every radio parameter may be absent.
type TelemetrySample struct {
	ID           int64     `json:"id"`
	Operator     string    `json:"operator"`
	OperatorNorm string    `json:"-"` // one of the four MNOs or "Unknown"
	NetworkType  string    `json:"networkType"`
	Signal       int64     `json:"signal"`
	Lat          float64   `json:"latitude"`
	Lon          float64   `json:"longitude"`
	SendTime     time.Time `json:"sendTime"`

	ShortCode *string `json:"-"`

	RAT           *string `json:"rat"`
	NRMode        *string `json:"nrMode"`
	Band          *string `json:"band"`
	ARFCN         *int64  `json:"arfcn"`
	RSRP          *int64  `json:"rsrp"`
	RSRQ          *int64  `json:"rsrq"`
	SINR          *int64  `json:"sinr"`
	RSSI          *int64  `json:"rssi"`
	TimingAdvance *int64  `json:"timingAdvance"`
	PCI           *int64  `json:"pci"`
	ECI           *int64  `json:"eci"`
	NCI           *int64  `json:"nci"`
	CellID        *int64  `json:"cellId"`
	Enb           *int64  `json:"enb"`
	SectorID      *int64  `json:"sectorId"`
	TAC           *int64  `json:"tac"`
	LAC           *int64  `json:"lac"`
}

// SpeedtestSample is the canonical form of one speedtest result. Position is
// optional; a positionless result persists a null point.
type SpeedtestSample struct {
	ID           int64
	ShortCode    *string
	LatencyMs    *int64
	JitterMs     *int64
	DownloadMbps *float64
	UploadMbps   *float64
	SendTime     time.Time
	ReceivedAt   time.Time
	Lat          *float64
	Lon          *float64
	Operator     *string
}

// Station is a BTS registry entry describing a fixed network cell. The
// registry is maintained by an external import process and is read-only here.
// BTSID is text in the registry (imported as-is); key membership is decided
// by which identifier columns are populated, not by the radio generation.
//
// JSON keys mirror the registry import's column naming, which the map
// frontend consumes directly.
type Station struct {
	ID          int64      `json:"id"`
	Operator    *string    `json:"siecId"`
	Voivodeship *string    `json:"wojewodztwoId"`
	Town        *string    `json:"miejscowosc"`
	Location    *string    `json:"lokalizacja"`
	NetworkType *string    `json:"standard"`
	Band        *string    `json:"pasmo"`
	Duplex      *string    `json:"duplex,omitempty"`
	LAC         *int64     `json:"lac"`
	BTSID       *string    `json:"btsid"`
	ECID        *string    `json:"ecid,omitempty"`
	Enbi        *int64     `json:"enbi"`
	CLID        *string    `json:"clid,omitempty"`
	Comments    *string    `json:"uwagi"`
	Lat         *float64   `json:"lat"`
	Lon         *float64   `json:"lon"`
	UpdatedAt   *time.Time `json:"aktualizacja"`
	StationID   *string    `json:"stationId"`
	RNC         *int64     `json:"rnc"`
	Carrier     *string    `json:"carrier"`
}
