package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTier(t *testing.T) {
	tests := []struct {
		input   string
		want    Tier
		wantErr bool
	}{
		{"basic", TierBasic, false},
		{"BASIC", TierBasic, false},
		{" advanced ", TierAdvanced, false},
		{"premium", TierBasic, false},
		{"full_premium", TierAdvanced, false},
		{"none", TierNone, false},
		{"gold", TierNone, true},
		{"", TierNone, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseTier(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseGrantableTier_RejectsNone(t *testing.T) {
	_, err := ParseGrantableTier("none")
	assert.Error(t, err)

	got, err := ParseGrantableTier("advanced")
	require.NoError(t, err)
	assert.Equal(t, TierAdvanced, got)
}

func TestTier_Allows(t *testing.T) {
	assert.True(t, TierAdvanced.Allows(TierBasic))
	assert.True(t, TierBasic.Allows(TierBasic))
	assert.True(t, TierNone.Allows(TierNone))
	assert.False(t, TierBasic.Allows(TierAdvanced))
	assert.False(t, TierNone.Allows(TierBasic))
}

func TestTier_Names(t *testing.T) {
	assert.Equal(t, "advanced", TierAdvanced.String())
	assert.Equal(t, "Full Premium", TierAdvanced.DisplayName())
	assert.Equal(t, "Free", TierNone.DisplayName())
	assert.False(t, Tier(7).Valid())
}
