package esda

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAlternative(t *testing.T) {
	tests := []struct {
		in      string
		want    Alternative
		wantErr bool
	}{
		{"greater", Greater, false},
		{"less", Less, false},
		{"two-sided", TwoSided, false},
		{"", Greater, false},
		{"both", "", true},
		{"GREATER", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAlternative(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAlternativePValue(t *testing.T) {
	assert.InDelta(t, 0.5, Greater.PValue(0), 1e-12)
	assert.InDelta(t, 0.05, Greater.PValue(1.6449), 1e-4)
	assert.InDelta(t, 0.05, Less.PValue(-1.6449), 1e-4)
	assert.InDelta(t, 0.05, TwoSided.PValue(1.96), 1e-3)
	assert.InDelta(t, 0.05, TwoSided.PValue(-1.96), 1e-3)
	assert.InDelta(t, 1.0, TwoSided.PValue(0), 1e-12)

	// Tails are complementary.
	z := 0.7312
	assert.InDelta(t, 1.0, Greater.PValue(z)+Less.PValue(z), 1e-12)
}
