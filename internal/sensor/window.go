package sensor

// WindowSize is the number of readings in a smoothing window.
const WindowSize = 5

// Window is a ring of recent scaled readings owned by one sampler.
type Window struct {
	buf  [WindowSize]int32
	n    int
	next int
}

// Average returns the mean of the stored readings and false when empty.
func (w *Window) Average() (int32, bool) {
	if w.n == 0 {
		return 0, false
	}
	var sum int32
	for i := 0; i < w.n; i++ {
		sum += w.buf[i]
	}
	return sum / int32(w.n), true
}

// Observe computes current minus the average of the previous readings, then
// stores current. The first reading yields a delta of zero.
func (w *Window) Observe(current int32) int32 {
	var delta int32
	if avg, ok := w.Average(); ok {
		delta = current - avg
	}
	w.buf[w.next] = current
	w.next = (w.next + 1) % WindowSize
	if w.n < WindowSize {
		w.n++
	}
	return delta
}

// Len returns how many readings are stored.
func (w *Window) Len() int { return w.n }
