package tank

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyBoundaries(t *testing.T) {
	th := DefaultThresholds()

	tests := []struct {
		volume float64
		want   FillState
	}{
		{volume: 133.9, want: Red},
		{volume: 200, want: Red},
		{volume: 133.8999, want: Yellow},
		{volume: 100, want: Yellow},
		{volume: 80.5, want: Yellow},
		{volume: 80.4999, want: Green},
		{volume: 0, want: Green},
		{volume: -50, want: Green},
		{volume: math.Inf(1), want: Red},
		{volume: math.Inf(-1), want: Green},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, th.Classify(tc.volume), "volume %v", tc.volume)
	}
}

func TestClassifyNeverUnknown(t *testing.T) {
	th := DefaultThresholds()
	for v := -200.0; v <= 300; v += 0.25 {
		s := th.Classify(v)
		assert.Contains(t, []FillState{Green, Yellow, Red}, s)
	}
}

func TestThresholdsValidate(t *testing.T) {
	assert.NoError(t, DefaultThresholds().Validate())
	assert.Error(t, Thresholds{Full: 80, Half: 80}.Validate())
	assert.Error(t, Thresholds{Full: 50, Half: 80}.Validate())
}

func TestParseFillState(t *testing.T) {
	for _, s := range []FillState{Green, Yellow, Red, Unknown} {
		parsed, err := ParseFillState(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
	off, err := ParseFillState("off")
	require.NoError(t, err)
	assert.Equal(t, Unknown, off)

	_, err = ParseFillState("blue")
	assert.Error(t, err)
}
