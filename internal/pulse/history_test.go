package pulse

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHistory_DropsOldest(t *testing.T) {
	var h History
	for i := 1; i <= HistorySize+3; i++ {
		h.Push(uint32(i * 10))
	}
	assert.Equal(t, HistorySize, h.Len())
	v := h.Values()
	assert.Equal(t, 40.0, v[0])
	assert.Equal(t, 180.0, v[len(v)-1])
}

func TestHistory_Stats(t *testing.T) {
	var h History
	assert.Equal(t, Stats{}, h.Stats())

	h.Push(800)
	st := h.Stats()
	assert.Equal(t, 1, st.Count)
	assert.InDelta(t, 75, st.BPM, 1e-9)
	assert.Zero(t, st.SDNNMs)

	for _, ibi := range []uint32{820, 780, 800} {
		h.Push(ibi)
	}
	st = h.Stats()
	assert.Equal(t, 4, st.Count)
	assert.InDelta(t, 800, st.MeanMs, 1e-9)
	// sample standard deviation of {800,820,780,800}
	assert.InDelta(t, math.Sqrt(800.0/3), st.SDNNMs, 1e-9)
	// successive differences 20,-40,20
	assert.InDelta(t, math.Sqrt(2400.0/3), st.RMSSDMs, 1e-9)
}
