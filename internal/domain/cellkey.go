package domain

import "strings"

// CellKey is the decoded, generation-specific station key of a sample.
// It is a closed sum: EnbKey, UmtsKey, or GsmKey. All three are comparable
// structs so they can key candidate maps directly.
type CellKey interface {
	cellKey()
}

// EnbKey identifies a 4G station by its eNB number.
type EnbKey struct {
	Enb int64
}

// UmtsKey identifies a 3G station by its (RNC, BTS id) pair.
type UmtsKey struct {
	RNC   int64
	BTSID int64
}

// GsmKey identifies a 2G station by its BTS id.
type GsmKey struct {
	BTSID int64
}

func (EnbKey) cellKey()  {}
func (UmtsKey) cellKey() {}
func (GsmKey) cellKey()  {}

// IsUMTS reports whether a network type string names a 3G technology.
// Classification is a case-insensitive substring match, mirroring how
// handsets label their connection ("3G", "3G HSPA+", ...).
func IsUMTS(networkType string) bool {
	return strings.Contains(strings.ToLower(networkType), "3g")
}

// IsGSM reports whether a network type string names a 2G technology.
func IsGSM(networkType string) bool {
	nt := strings.ToLower(networkType)
	return strings.Contains(nt, "gsm") || strings.Contains(nt, "2g")
}

// DecodeUmtsKey derives the (RNC, BTS id) pair from a packed UMTS cell id:
// the RNC occupies the high half word and the trailing sector digit of the
// CID is dropped. Returns ok=false when the cell id is absent.
func DecodeUmtsKey(cellID *int64) (UmtsKey, bool) {
	if cellID == nil {
		return UmtsKey{}, false
	}
	rnc := *cellID / 65536
	cid := *cellID - rnc*65536
	return UmtsKey{RNC: rnc, BTSID: cid / 10}, true
}

// DecodeGsmKey derives the BTS id from a GSM cell id by dropping the trailing
// sector digit. Returns ok=false when the cell id is absent.
func DecodeGsmKey(cellID *int64) (GsmKey, bool) {
	if cellID == nil {
		return GsmKey{}, false
	}
	return GsmKey{BTSID: *cellID / 10}, true
}

// DecodeCellKey derives the station key for one sample. An eNB carried on the
// sample wins outright (LTE does not decode cell_id at all); otherwise the
// network type picks the decoding. ok=false means the sample carries nothing
// decodable for its generation, which is an expected outcome, not an error.
func DecodeCellKey(networkType string, cellID, enb *int64) (CellKey, bool) {
	if enb != nil {
		return EnbKey{Enb: *enb}, true
	}
	if IsUMTS(networkType) {
		if key, ok := DecodeUmtsKey(cellID); ok {
			return key, true
		}
	}
	if IsGSM(networkType) {
		if key, ok := DecodeGsmKey(cellID); ok {
			return key, true
		}
	}
	return nil, false
}
