package h265

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTypeOf(t *testing.T) {
	// type occupies bits 1..6 of the first header byte
	require.Equal(t, NALUTypeIDRWRADL, TypeOf([]byte{0x26, 0x01}))
	require.Equal(t, NALUTypeVPS, TypeOf([]byte{0x40, 0x01}))
	require.Equal(t, NALUTypeSPS, TypeOf([]byte{0x42, 0x01}))
	require.Equal(t, NALUTypePPS, TypeOf([]byte{0x44, 0x01}))
	require.Equal(t, NALUTypeAggregation, TypeOf([]byte{0x60, 0x01}))
	require.Equal(t, NALUTypeFragmentation, TypeOf([]byte{0x62, 0x01}))
}

func TestIsIRAP(t *testing.T) {
	require.True(t, NALUTypeBLAWLP.IsIRAP())
	require.True(t, NALUTypeIDRWRADL.IsIRAP())
	require.True(t, NALUTypeCRANUT.IsIRAP())
	require.False(t, NALUTypeTrailR.IsIRAP())
	require.False(t, NALUTypeVPS.IsIRAP())
}
