package objfmt

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRelocListInsertOrder(t *testing.T) {
	rl := NewRelocList()
	require.NoError(t, rl.Insert(uint8(SegText), 4))
	require.NoError(t, rl.Insert(uint8(SegText), 10))
	require.NoError(t, rl.Insert(uint8(SegData), 10))
	require.Error(t, rl.Insert(uint8(SegText), 9), "lower address than tail must be rejected")
	require.Equal(t, 3, rl.Len())
}

func TestRelocListDeltaRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		addrs []uint16
	}{
		{"empty", nil},
		{"small deltas", []uint16{0, 2, 4, 100}},
		{"delta needing one continuation", []uint16{0, 254}},
		{"delta needing several continuations", []uint16{0, 600}},
		{"delta exactly 253", []uint16{0, 253}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rl := NewRelocList()
			for i, a := range tt.addrs {
				require.NoError(t, rl.Insert(uint8(SegText), a), "insert %d", i)
			}
			encoded := rl.EncodeDelta()
			decoded, err := DecodeDelta(encoded)
			require.NoError(t, err)
			require.Equal(t, len(tt.addrs), len(decoded))
			for i, a := range tt.addrs {
				require.Equal(t, a, decoded[i].Offset)
			}
		})
	}
}

func TestRelocSectionRoundTrip(t *testing.T) {
	recs := []RelocRecord{
		{Tag: uint8(SegText), Offset: 2},
		{Tag: 5, Offset: 18},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteSection(&buf, recs))
	got, err := ReadSection(&buf)
	require.NoError(t, err)
	require.Equal(t, recs, got)
}

func TestRelocSectionEmptyTerminator(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSection(&buf, nil))
	// u16 count (0) + 3-byte terminator
	require.Equal(t, 5, buf.Len())
}
