package domain

import (
	"math"
	"strconv"
)

// KeySet holds the distinct decoded keys observed across a result set. One
// sample can contribute to more than one space: eNB membership is decided by
// field presence while UMTS/GSM membership is decided by the network type.
type KeySet struct {
	Enb  map[EnbKey]struct{}
	Umts map[UmtsKey]struct{}
	Gsm  map[GsmKey]struct{}
}

// Empty reports whether no key was decoded at all.
func (ks KeySet) Empty() bool {
	return len(ks.Enb) == 0 && len(ks.Umts) == 0 && len(ks.Gsm) == 0
}

// CollectKeys decodes every sample in the result set and returns the distinct
// keys per space. Samples that decode to nothing simply contribute nothing.
func CollectKeys(samples []TelemetrySample) KeySet {
	ks := KeySet{
		Enb:  make(map[EnbKey]struct{}),
		Umts: make(map[UmtsKey]struct{}),
		Gsm:  make(map[GsmKey]struct{}),
	}
	for i := range samples {
		s := &samples[i]
		if s.Enb != nil {
			ks.Enb[EnbKey{Enb: *s.Enb}] = struct{}{}
		}
		if IsUMTS(s.NetworkType) {
			if key, ok := DecodeUmtsKey(s.CellID); ok {
				ks.Umts[key] = struct{}{}
			}
		}
		if IsGSM(s.NetworkType) {
			if key, ok := DecodeGsmKey(s.CellID); ok {
				ks.Gsm[key] = struct{}{}
			}
		}
	}
	return ks
}

// CandidateIndex partitions registry stations by their generation-specific
// identifiers. A station with several populated identifier columns appears in
// several maps; a key may map to more than one station (duplicate tower
// records are not de-duplicated here).
type CandidateIndex struct {
	ByEnb  map[EnbKey][]Station
	ByUmts map[UmtsKey][]Station
	ByGsm  map[GsmKey][]Station
}

// BuildCandidateIndex builds the three candidate maps from one registry
// lookup's rows. Built once per enrichment request and passed by value; it is
// never shared mutable state.
func BuildCandidateIndex(stations []Station) CandidateIndex {
	idx := CandidateIndex{
		ByEnb:  make(map[EnbKey][]Station),
		ByUmts: make(map[UmtsKey][]Station),
		ByGsm:  make(map[GsmKey][]Station),
	}
	for _, st := range stations {
		btsid, btsidOK := stationBTSID(&st)
		if st.Enbi != nil {
			key := EnbKey{Enb: *st.Enbi}
			idx.ByEnb[key] = append(idx.ByEnb[key], st)
		}
		if st.RNC != nil && btsidOK {
			key := UmtsKey{RNC: *st.RNC, BTSID: btsid}
			idx.ByUmts[key] = append(idx.ByUmts[key], st)
		}
		if btsidOK {
			key := GsmKey{BTSID: btsid}
			idx.ByGsm[key] = append(idx.ByGsm[key], st)
		}
	}
	return idx
}

// stationBTSID parses the registry's textual btsid column. Rows with a
// non-numeric btsid cannot participate in the UMTS/GSM key spaces.
func stationBTSID(st *Station) (int64, bool) {
	if st.BTSID == nil {
		return 0, false
	}
	n, err := strconv.ParseInt(*st.BTSID, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// SelectBestMatch picks at most one station for a sample. An eNB match is
// tried first and, when the eNB is known to the index, is final even if no
// candidate survives ranking. UMTS and GSM fall back to the next space only
// when their key is absent or ranking eliminates everything. A nil return
// means unmatched, which is a normal outcome.
func SelectBestMatch(s *TelemetrySample, idx CandidateIndex, radiusDeg float64) *Station {
	if s.Enb != nil {
		if cands, ok := idx.ByEnb[EnbKey{Enb: *s.Enb}]; ok {
			return pickNearest(s, cands, radiusDeg)
		}
	}
	if IsUMTS(s.NetworkType) {
		if key, ok := DecodeUmtsKey(s.CellID); ok {
			if best := pickNearest(s, idx.ByUmts[key], radiusDeg); best != nil {
				return best
			}
		}
	}
	if IsGSM(s.NetworkType) {
		if key, ok := DecodeGsmKey(s.CellID); ok {
			if best := pickNearest(s, idx.ByGsm[key], radiusDeg); best != nil {
				return best
			}
		}
	}
	return nil
}

// pickNearest ranks candidates for one sample. A candidate whose LAC is known
// and differs from the sample's known LAC is discarded; an unknown LAC on
// either side never vetoes. Among positioned survivors the minimum planar
// degree distance wins, but only strictly inside the radius. Equal distances
// resolve to the candidate encountered first: true ties are measurement
// noise, not a meaningful distinction.
func pickNearest(s *TelemetrySample, cands []Station, radiusDeg float64) *Station {
	var best *Station
	bestDist := math.Inf(1)
	for i := range cands {
		c := &cands[i]
		if s.LAC != nil && c.LAC != nil && *s.LAC != *c.LAC {
			continue
		}
		if c.Lat == nil || c.Lon == nil {
			continue
		}
		d := math.Hypot(s.Lat-*c.Lat, s.Lon-*c.Lon)
		if d < radiusDeg && d < bestDist {
			bestDist = d
			best = c
		}
	}
	return best
}
