package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func i64(v int64) *int64 { return &v }

func TestDecodeCellKey_LTEUsesEnbDirectly(t *testing.T) {
	key, ok := DecodeCellKey("LTE", i64(123456), i64(4000))
	require.True(t, ok)
	assert.Equal(t, EnbKey{Enb: 4000}, key)
}

func TestDecodeCellKey_LTEWithoutEnbYieldsNoKey(t *testing.T) {
	// cell_id alone never produces an LTE key.
	_, ok := DecodeCellKey("LTE", i64(123456), nil)
	assert.False(t, ok)
}

func TestDecodeCellKey_UMTS(t *testing.T) {
	// 131161 = 2*65536 + 89; btsid drops the trailing sector digit.
	key, ok := DecodeCellKey("3G HSPA+", i64(131161), nil)
	require.True(t, ok)
	assert.Equal(t, UmtsKey{RNC: 2, BTSID: 8}, key)
}

func TestDecodeCellKey_GSM(t *testing.T) {
	key, ok := DecodeCellKey("GSM", i64(4567), nil)
	require.True(t, ok)
	assert.Equal(t, GsmKey{BTSID: 456}, key)
}

func TestDecodeCellKey_EnbWinsOverNetworkType(t *testing.T) {
	// A 3G-labeled sample carrying an eNB still keys on the eNB.
	key, ok := DecodeCellKey("3G", i64(131221), i64(77))
	require.True(t, ok)
	assert.Equal(t, EnbKey{Enb: 77}, key)
}

func TestDecodeCellKey_AbsentCellID(t *testing.T) {
	for _, nt := range []string{"3G", "GSM", "2G", ""} {
		_, ok := DecodeCellKey(nt, nil, nil)
		assert.False(t, ok, "network type %q", nt)
	}
}

func TestDecodeUmtsKey(t *testing.T) {
	tests := []struct {
		name   string
		cellID int64
		want   UmtsKey
	}{
		{"packed rnc and cid", 131161, UmtsKey{RNC: 2, BTSID: 8}},
		{"small cid", 1234, UmtsKey{RNC: 0, BTSID: 123}},
		{"exact boundary", 65536, UmtsKey{RNC: 1, BTSID: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, ok := DecodeUmtsKey(&tt.cellID)
			require.True(t, ok)
			assert.Equal(t, tt.want, key)
		})
	}
}

func TestNetworkTypeClassification(t *testing.T) {
	assert.True(t, IsUMTS("3G"))
	assert.True(t, IsUMTS("umts 3g hspa"))
	assert.False(t, IsUMTS("LTE"))

	assert.True(t, IsGSM("GSM"))
	assert.True(t, IsGSM("2G EDGE"))
	assert.False(t, IsGSM("3G"))
}
