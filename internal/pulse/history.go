package pulse

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// HistorySize is the number of IBIs retained for variability statistics.
const HistorySize = 15

// History keeps the most recent inter-beat intervals, oldest first.
type History struct {
	ibis []float64
}

// Stats summarises a History.
type Stats struct {
	Count  int     `json:"count"`
	MeanMs float64 `json:"mean_ms"`
	SDNNMs float64 `json:"sdnn_ms"`
	// RMSSDMs is the root mean square of successive differences.
	RMSSDMs float64 `json:"rmssd_ms"`
	BPM     float64 `json:"bpm"`
}

// Push appends an interval, dropping the oldest once full.
func (h *History) Push(ibiMs uint32) {
	if len(h.ibis) == HistorySize {
		copy(h.ibis, h.ibis[1:])
		h.ibis = h.ibis[:HistorySize-1]
	}
	h.ibis = append(h.ibis, float64(ibiMs))
}

// Len returns the number of stored intervals.
func (h *History) Len() int { return len(h.ibis) }

// Values returns a copy of the stored intervals.
func (h *History) Values() []float64 {
	out := make([]float64, len(h.ibis))
	copy(out, h.ibis)
	return out
}

// Stats computes heart-rate variability figures. Fields that need more
// samples than are stored are left at zero.
func (h *History) Stats() Stats {
	st := Stats{Count: len(h.ibis)}
	if st.Count == 0 {
		return st
	}
	st.MeanMs = stat.Mean(h.ibis, nil)
	if st.MeanMs > 0 {
		st.BPM = 60000 / st.MeanMs
	}
	if st.Count < 2 {
		return st
	}
	st.SDNNMs = stat.StdDev(h.ibis, nil)

	sq := make([]float64, st.Count-1)
	for i := 1; i < st.Count; i++ {
		d := h.ibis[i] - h.ibis[i-1]
		sq[i-1] = d * d
	}
	st.RMSSDMs = math.Sqrt(stat.Mean(sq, nil))
	return st
}
