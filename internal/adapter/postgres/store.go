package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kzaleski/signalmap/internal/config"
	"github.com/kzaleski/signalmap/internal/domain"
)

// Schema is the DDL for all tables, applied by deployments and the
// integration tests.
//
//go:embed schema.sql
var Schema string

// Store wraps all database access. Telemetry and speedtest positions are
// PostGIS geography points; the BTS registry keeps plain lat/lon columns as
// delivered by the registry import.
type Store struct {
	pool      *pgxpool.Pool
	chunkSize int
}

// New creates a Store backed by a pgx pool.
func New(ctx context.Context, cfg *config.Config) (*Store, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	return &Store{pool: pool, chunkSize: cfg.InsertChunkSize}, nil
}

// Close releases the pool resources.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// WriteBatch persists both record sequences in a single transaction. Inserts
// are chunked to keep each statement's parameter count bounded, but every
// chunk commits or rolls back together.
func (s *Store) WriteBatch(ctx context.Context, telemetry []domain.TelemetrySample, speedtests []domain.SpeedtestSample) error {
	if len(telemetry) == 0 && len(speedtests) == 0 {
		return nil
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin batch transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, chunk := range chunks(telemetry, s.chunkSize) {
		sql, args := buildTelemetryInsert(chunk)
		if _, err := tx.Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("insert telemetry chunk: %w", err)
		}
	}
	for _, chunk := range chunks(speedtests, s.chunkSize) {
		sql, args := buildSpeedtestInsert(chunk)
		if _, err := tx.Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("insert speedtest chunk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch transaction: %w", err)
	}
	return nil
}

// chunks splits items into consecutive slices of at most size elements.
func chunks[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}

const telemetryInsertPrefix = `INSERT INTO telemetry (
	operator, operator_norm, network_type, signal, position, send_time,
	short_code, rat, nr_mode, band, arfcn, rsrp, rsrq, sinr, rssi,
	timing_advance, pci, eci, nci, cell_id, enb, sector_id, tac, lac
) VALUES `

// buildTelemetryInsert renders one multi-row insert for a chunk. Each row
// consumes 25 placeholders (the point expression takes lon and lat).
func buildTelemetryInsert(chunk []domain.TelemetrySample) (string, []any) {
	var b strings.Builder
	b.WriteString(telemetryInsertPrefix)

	args := make([]any, 0, len(chunk)*25)
	n := 0
	next := func() string {
		n++
		return "$" + strconv.Itoa(n)
	}

	for i := range chunk {
		t := &chunk[i]
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		b.WriteString(next() + ", " + next() + ", " + next() + ", " + next() + ", ")
		b.WriteString("ST_SetSRID(ST_MakePoint(" + next() + ", " + next() + "), 4326)::geography, ")
		b.WriteString(next() + "::timestamptz")
		for range 18 {
			b.WriteString(", " + next())
		}
		b.WriteString(")")

		args = append(args,
			t.Operator, t.OperatorNorm, t.NetworkType, t.Signal,
			t.Lon, t.Lat,
			t.SendTime,
			t.ShortCode, t.RAT, t.NRMode, t.Band, t.ARFCN,
			t.RSRP, t.RSRQ, t.SINR, t.RSSI, t.TimingAdvance,
			t.PCI, t.ECI, t.NCI, t.CellID, t.Enb, t.SectorID, t.TAC, t.LAC,
		)
	}

	return b.String(), args
}

const speedtestInsertPrefix = `INSERT INTO speed_test (
	short_code, latency_ms, jitter_ms, download_mbps, upload_mbps,
	send_time, position, operator, received_at
) VALUES `

// buildSpeedtestInsert renders one multi-row insert for a chunk. Position is
// optional: a half-absent coordinate pair never reaches this layer, so lon and
// lat are either both set or both nil.
func buildSpeedtestInsert(chunk []domain.SpeedtestSample) (string, []any) {
	var b strings.Builder
	b.WriteString(speedtestInsertPrefix)

	args := make([]any, 0, len(chunk)*10)
	n := 0
	next := func() string {
		n++
		return "$" + strconv.Itoa(n)
	}

	for i := range chunk {
		sp := &chunk[i]
		if i > 0 {
			b.WriteString(", ")
		}
		lon, lat := next(), next()
		b.WriteString("(")
		b.WriteString(next() + ", " + next() + ", " + next() + ", " + next() + ", " + next() + ", ")
		b.WriteString(next() + "::timestamptz, ")
		b.WriteString("CASE WHEN " + lon + "::float8 IS NULL THEN NULL ELSE ST_SetSRID(ST_MakePoint(" + lon + ", " + lat + "), 4326)::geography END, ")
		b.WriteString(next() + ", " + next() + "::timestamptz)")

		args = append(args,
			sp.Lon, sp.Lat,
			sp.ShortCode, sp.LatencyMs, sp.JitterMs, sp.DownloadMbps, sp.UploadMbps,
			sp.SendTime,
			sp.Operator, sp.ReceivedAt,
		)
	}

	return b.String(), args
}

// TelemetryQuery holds the filters of a telemetry listing request. Zero values
// mean unfiltered; Minutes and the explicit window are mutually exclusive and
// Minutes wins when both are set.
type TelemetryQuery struct {
	Minutes   int
	Start     *time.Time
	End       *time.Time
	ShortCode string
	Operator  string
	Limit     int
}

const telemetrySelect = `SELECT
	id, operator, operator_norm, network_type, signal,
	ST_Y(position::geometry), ST_X(position::geometry), send_time,
	rat, nr_mode, band, arfcn, rsrp, rsrq, sinr, rssi,
	timing_advance, pci, eci, nci, cell_id, enb, sector_id, tac, lac
FROM telemetry`

// defaultQueryLimit caps listing responses when the caller sets no limit.
const defaultQueryLimit = 5000

// QueryTelemetry returns samples matching the filters, newest first.
func (s *Store) QueryTelemetry(ctx context.Context, q TelemetryQuery) ([]domain.TelemetrySample, error) {
	sql, args := buildTelemetryQuery(q)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query telemetry: %w", err)
	}
	defer rows.Close()

	samples := make([]domain.TelemetrySample, 0)
	for rows.Next() {
		var t domain.TelemetrySample
		if err := rows.Scan(
			&t.ID, &t.Operator, &t.OperatorNorm, &t.NetworkType, &t.Signal,
			&t.Lat, &t.Lon, &t.SendTime,
			&t.RAT, &t.NRMode, &t.Band, &t.ARFCN, &t.RSRP, &t.RSRQ, &t.SINR, &t.RSSI,
			&t.TimingAdvance, &t.PCI, &t.ECI, &t.NCI, &t.CellID, &t.Enb, &t.SectorID, &t.TAC, &t.LAC,
		); err != nil {
			return nil, fmt.Errorf("scan telemetry row: %w", err)
		}
		samples = append(samples, t)
	}
	return samples, rows.Err()
}

func buildTelemetryQuery(q TelemetryQuery) (string, []any) {
	var conds []string
	var args []any
	argPos := 1

	switch {
	case q.Minutes > 0:
		conds = append(conds, "send_time >= now() - ($"+strconv.Itoa(argPos)+" * interval '1 minute')")
		args = append(args, q.Minutes)
		argPos++
	default:
		if q.Start != nil {
			conds = append(conds, "send_time >= $"+strconv.Itoa(argPos))
			args = append(args, *q.Start)
			argPos++
		}
		if q.End != nil {
			conds = append(conds, "send_time <= $"+strconv.Itoa(argPos))
			args = append(args, *q.End)
			argPos++
		}
	}
	if q.ShortCode != "" {
		conds = append(conds, "short_code = $"+strconv.Itoa(argPos))
		args = append(args, q.ShortCode)
		argPos++
	}
	if q.Operator != "" {
		conds = append(conds, "operator_norm = $"+strconv.Itoa(argPos))
		args = append(args, q.Operator)
		argPos++
	}

	sql := telemetrySelect
	if len(conds) > 0 {
		sql += " WHERE " + strings.Join(conds, " AND ")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	sql += " ORDER BY send_time DESC LIMIT $" + strconv.Itoa(argPos)
	args = append(args, limit)

	return sql, args
}

// SpeedtestQuery holds the filters of a speedtest listing request. Minutes
// wins over the explicit window when both are set.
type SpeedtestQuery struct {
	Minutes   int
	Start     *time.Time
	End       *time.Time
	ShortCode string
	Operator  string
	Limit     int
}

const speedtestSelect = `SELECT
	id, short_code, latency_ms, jitter_ms, download_mbps, upload_mbps,
	send_time, received_at,
	CASE WHEN position IS NULL THEN NULL ELSE ST_Y(position::geometry) END,
	CASE WHEN position IS NULL THEN NULL ELSE ST_X(position::geometry) END,
	operator
FROM speed_test`

// QuerySpeedtests returns speedtest results matching the filters, newest
// first. Without an explicit window the listing covers the last 30 days.
func (s *Store) QuerySpeedtests(ctx context.Context, q SpeedtestQuery) ([]domain.SpeedtestSample, error) {
	sql, args := buildSpeedtestQuery(q)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query speedtests: %w", err)
	}
	defer rows.Close()

	results := make([]domain.SpeedtestSample, 0)
	for rows.Next() {
		var sp domain.SpeedtestSample
		if err := rows.Scan(
			&sp.ID, &sp.ShortCode, &sp.LatencyMs, &sp.JitterMs, &sp.DownloadMbps, &sp.UploadMbps,
			&sp.SendTime, &sp.ReceivedAt, &sp.Lat, &sp.Lon, &sp.Operator,
		); err != nil {
			return nil, fmt.Errorf("scan speedtest row: %w", err)
		}
		results = append(results, sp)
	}
	return results, rows.Err()
}

func buildSpeedtestQuery(q SpeedtestQuery) (string, []any) {
	var conds []string
	var args []any
	argPos := 1

	switch {
	case q.Minutes > 0:
		conds = append(conds, "send_time >= now() - ($"+strconv.Itoa(argPos)+" * interval '1 minute')")
		args = append(args, q.Minutes)
		argPos++
	case q.Start == nil && q.End == nil:
		conds = append(conds, "send_time >= now() - interval '30 days'")
	default:
		if q.Start != nil {
			conds = append(conds, "send_time >= $"+strconv.Itoa(argPos))
			args = append(args, *q.Start)
			argPos++
		}
		if q.End != nil {
			conds = append(conds, "send_time <= $"+strconv.Itoa(argPos))
			args = append(args, *q.End)
			argPos++
		}
	}
	if q.ShortCode != "" {
		conds = append(conds, "short_code = $"+strconv.Itoa(argPos))
		args = append(args, q.ShortCode)
		argPos++
	}
	if q.Operator != "" {
		conds = append(conds, "operator = $"+strconv.Itoa(argPos))
		args = append(args, q.Operator)
		argPos++
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	sql := speedtestSelect + " WHERE " + strings.Join(conds, " AND ") +
		" ORDER BY send_time DESC LIMIT $" + strconv.Itoa(argPos)
	args = append(args, limit)

	return sql, args
}

const stationColumns = `id, siec_id, wojewodztwo_id, miejscowosc, lokalizacja,
	standard, pasmo, duplex, lac, btsid, ecid, enbi, clid, uwagi,
	lat, lon, aktualizacja, station_id, rnc, carrier`

// StationQuery holds the filters of a registry listing request.
type StationQuery struct {
	Operator string
	Limit    int
}

// ListStations returns positioned registry entries. Rows without a position
// cannot be drawn on the map or ranked by the matcher, so they are excluded
// at the source.
func (s *Store) ListStations(ctx context.Context, q StationQuery) ([]domain.Station, error) {
	sql, args := buildStationList(q)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list stations: %w", err)
	}
	defer rows.Close()
	return scanStations(rows)
}

func buildStationList(q StationQuery) (string, []any) {
	sql := `SELECT ` + stationColumns + `
FROM bts
WHERE lat IS NOT NULL AND lon IS NOT NULL`
	var args []any
	argPos := 1

	if q.Operator != "" {
		sql += " AND siec_id = $" + strconv.Itoa(argPos)
		args = append(args, q.Operator)
		argPos++
	}
	sql += " ORDER BY id"
	if q.Limit > 0 {
		sql += " LIMIT $" + strconv.Itoa(argPos)
		args = append(args, q.Limit)
	}
	return sql, args
}

// LookupStations returns positioned registry entries matching any key in the
// set. The three key spaces form one disjunction so a single round trip covers
// a whole result page's enrichment.
func (s *Store) LookupStations(ctx context.Context, ks domain.KeySet) ([]domain.Station, error) {
	if ks.Empty() {
		return []domain.Station{}, nil
	}

	sql, args := buildStationLookup(ks)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("lookup stations: %w", err)
	}
	defer rows.Close()
	return scanStations(rows)
}

// buildStationLookup renders the disjunction over the populated key spaces.
// Keys are sorted so the statement text is deterministic for a given set.
func buildStationLookup(ks domain.KeySet) (string, []any) {
	var clauses []string
	var args []any
	argPos := 1
	next := func() string {
		p := "$" + strconv.Itoa(argPos)
		argPos++
		return p
	}

	if len(ks.Enb) > 0 {
		enbs := make([]int64, 0, len(ks.Enb))
		for k := range ks.Enb {
			enbs = append(enbs, k.Enb)
		}
		sort.Slice(enbs, func(i, j int) bool { return enbs[i] < enbs[j] })
		clauses = append(clauses, "enbi = ANY("+next()+")")
		args = append(args, enbs)
	}

	if len(ks.Umts) > 0 {
		keys := make([]domain.UmtsKey, 0, len(ks.Umts))
		for k := range ks.Umts {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			if keys[i].RNC != keys[j].RNC {
				return keys[i].RNC < keys[j].RNC
			}
			return keys[i].BTSID < keys[j].BTSID
		})
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			rnc, btsid := next(), next()
			pairs = append(pairs, "(rnc = "+rnc+" AND btsid = "+btsid+")")
			args = append(args, k.RNC, strconv.FormatInt(k.BTSID, 10))
		}
		clauses = append(clauses, "("+strings.Join(pairs, " OR ")+")")
	}

	if len(ks.Gsm) > 0 {
		btsids := make([]string, 0, len(ks.Gsm))
		for k := range ks.Gsm {
			btsids = append(btsids, strconv.FormatInt(k.BTSID, 10))
		}
		sort.Strings(btsids)
		clauses = append(clauses, "btsid = ANY("+next()+")")
		args = append(args, btsids)
	}

	sql := `SELECT ` + stationColumns + `
FROM bts
WHERE lat IS NOT NULL AND lon IS NOT NULL
  AND (` + strings.Join(clauses, " OR ") + `)`

	return sql, args
}

func scanStations(rows pgx.Rows) ([]domain.Station, error) {
	stations := make([]domain.Station, 0)
	for rows.Next() {
		var st domain.Station
		if err := rows.Scan(
			&st.ID, &st.Operator, &st.Voivodeship, &st.Town, &st.Location,
			&st.NetworkType, &st.Band, &st.Duplex, &st.LAC, &st.BTSID, &st.ECID,
			&st.Enbi, &st.CLID, &st.Comments, &st.Lat, &st.Lon, &st.UpdatedAt,
			&st.StationID, &st.RNC, &st.Carrier,
		); err != nil {
			return nil, fmt.Errorf("scan station row: %w", err)
		}
		stations = append(stations, st)
	}
	return stations, rows.Err()
}

const registerViewerSQL = `INSERT INTO viewer (short_code, created_at)
VALUES ($1, now())
ON CONFLICT (short_code) DO NOTHING`

// RegisterViewer records a device's short code. Re-registering the same code
// is a no-op, which makes device registration safely retryable.
func (s *Store) RegisterViewer(ctx context.Context, shortCode string) error {
	if _, err := s.pool.Exec(ctx, registerViewerSQL, shortCode); err != nil {
		return fmt.Errorf("register viewer: %w", err)
	}
	return nil
}

const viewerExistsSQL = `SELECT EXISTS (SELECT 1 FROM viewer WHERE short_code = $1)`

// ViewerExists reports whether a short code has been registered.
func (s *Store) ViewerExists(ctx context.Context, shortCode string) (bool, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, viewerExistsSQL, shortCode).Scan(&exists); err != nil {
		return false, fmt.Errorf("check viewer: %w", err)
	}
	return exists, nil
}
