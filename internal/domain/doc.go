// Package domain models cellular radio measurements and their correlation
// with the BTS station registry.
//
// # Measurements
//
// Client devices report loosely-typed JSON snapshots: operator name as shown
// by the handset, network type string ("LTE", "3G HSPA+", "GSM", ...), signal
// strength, a WGS-84 position, and whichever radio parameters the modem
// exposed (ARFCN, RSRP/RSRQ/SINR/RSSI, timing advance, PCI, ECI/NCI, cell id,
// eNB, sector, TAC, LAC). Historical client versions used different key
// spellings (networkType vs network_type, sentTime vs send_time, flat lat/lon
// vs a nested position object), so every logical field is resolved from an
// ordered list of candidate keys. Only operator, network type, signal,
// position, and capture time are required; radio parameters are best-effort
// and independently nullable.
//
// # Cell identifier conventions
//
// The registry keys stations per radio generation:
//
//	4G/LTE: matched directly on the eNB identifier reported by the modem.
//	3G/UMTS: the reported cell id packs the RNC in the high half word,
//	  cell_id = rnc*65536 + cid. Registry entries identify the station, not
//	  the sector, so the trailing sector digit of the CID is dropped:
//	  btsid = cid/10. Key is the (rnc, btsid) pair.
//	2G/GSM: btsid = cell_id/10, same trailing-digit convention.
//
// A sample that carries nothing decodable for its generation yields no key,
// which is a normal outcome and simply leaves the sample unenriched.
//
// # Operator brand resolution
//
// The free-text operator name is mapped onto one of the four Polish mobile
// network operators (T-Mobile, Orange, Play, Plus) or "Unknown". A
// parenthesized qualifier, when present, frequently names the actual
// infrastructure owner in roaming/MVNO setups ("Plus (Vectra)") and is tried
// first. Vectra is an MVNO hosted on Play's network.
//
// # Matching
//
// Candidates sharing the sample's decoded key are filtered by LAC (a known
// LAC on both sides must agree; an unknown LAC never vetoes) and ranked by
// planar Euclidean distance in degrees. The nearest candidate wins if it is
// strictly inside the configured radius (default 0.15 deg). The planar
// approximation is deliberate: it is good enough for city-scale
// disambiguation and is not corrected for latitude.
package domain
