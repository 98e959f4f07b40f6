package common

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateRandByteArray_LengthAndVariance(t *testing.T) {
	a := GenerateRandByteArray(32)
	b := GenerateRandByteArray(32)

	require.Len(t, a, 32)
	require.Len(t, b, 32)
	require.NotEqual(t, a, b)
}

func TestMakeRandHexString_ValidHex(t *testing.T) {
	s, err := MakeRandHexString(16)
	require.NoError(t, err)
	require.Len(t, s, 32)

	_, err = hex.DecodeString(s)
	require.NoError(t, err)
}

func TestMakeRandString_RespectsCharset(t *testing.T) {
	const charset = "ABC123"

	s, err := MakeRandString(24, charset)
	require.NoError(t, err)
	require.Len(t, s, 24)

	for _, r := range s {
		require.True(t, strings.ContainsRune(charset, r), "unexpected rune %q", r)
	}
}
