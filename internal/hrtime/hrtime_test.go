package hrtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNow_Monotonic(t *testing.T) {
	a := Now()
	require.NotZero(t, a)

	time.Sleep(2 * time.Millisecond)
	b := Now()

	assert.GreaterOrEqual(t, b, a)
	assert.GreaterOrEqual(t, b-a, uint64(time.Millisecond))
}

func TestElapsed(t *testing.T) {
	tests := []struct {
		name       string
		start, end uint64
		want       uint64
	}{
		{"normal", 100, 250, 150},
		{"equal", 100, 100, 0},
		{"backwards", 250, 100, 0},
		{"missing start", 0, 100, 0},
		{"missing end", 100, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Elapsed(tt.start, tt.end))
		})
	}
}
