package util

import (
	"testing"

	boterrors "github.com/devrev/tierbot/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeChecksum(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", []byte{}},
		{"simple", []byte("hello world")},
		{"binary", []byte{0x00, 0x01, 0x02, 0x03, 0xFF}},
		{"large", make([]byte, 10000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, ComputeChecksum(tt.data), ComputeChecksum(tt.data))
		})
	}
}

func TestVerifyChecksum(t *testing.T) {
	data := []byte(`{"tiers":{"basic":[1,2]}}`)
	checksum := ComputeChecksum(data)

	assert.NoError(t, VerifyChecksum(data, checksum))

	err := VerifyChecksum(data, checksum+1)
	require.Error(t, err)
	assert.Equal(t, boterrors.ErrCodeCorruptedData, boterrors.GetCode(err))

	corrupted := append([]byte{}, data...)
	corrupted[0] ^= 0xFF
	assert.Error(t, VerifyChecksum(corrupted, checksum))
}

func TestCanonicalChecksum_MapOrderIndependent(t *testing.T) {
	a := map[string][]int{"basic": {1, 2}, "advanced": {3}}
	b := map[string][]int{"advanced": {3}, "basic": {1, 2}}

	sumA, err := CanonicalChecksum(a)
	require.NoError(t, err)
	sumB, err := CanonicalChecksum(b)
	require.NoError(t, err)
	assert.Equal(t, sumA, sumB)

	c := map[string][]int{"basic": {2, 1}, "advanced": {3}}
	sumC, err := CanonicalChecksum(c)
	require.NoError(t, err)
	assert.NotEqual(t, sumA, sumC, "member order is significant")
}
