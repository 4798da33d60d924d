package sensor

import "math"

// Scale is a two-point linear calibration from millivolts onto an integer
// output range.
type Scale struct {
	MinMillivolts int64
	MaxMillivolts int64
	OutMax        int64
	// FullScaleMillivolts bounds valid input; readings above it are faults.
	FullScaleMillivolts int64
}

// ByteScale maps [min,max] mV onto 0..255.
func ByteScale(minMV, maxMV, fullScaleMV int) Scale {
	return Scale{
		MinMillivolts:       int64(minMV),
		MaxMillivolts:       int64(maxMV),
		OutMax:              255,
		FullScaleMillivolts: int64(fullScaleMV),
	}
}

// DistanceScale maps the proximity sensor onto feet*100 (15 m range).
func DistanceScale(minMV, maxMV, fullScaleMV int) Scale {
	return Scale{
		MinMillivolts:       int64(minMV),
		MaxMillivolts:       int64(maxMV),
		OutMax:              4920,
		FullScaleMillivolts: int64(fullScaleMV),
	}
}

// Valid reports whether volts is a usable reading.
func (s Scale) Valid(volts float64) bool {
	if math.IsNaN(volts) || volts <= 0 {
		return false
	}
	if s.FullScaleMillivolts > 0 && volts*1000 > float64(s.FullScaleMillivolts) {
		return false
	}
	return true
}

// Map converts volts with integer arithmetic and clamps to [0, OutMax].
// Input is clamped to the calibration range first, so out-of-range or
// non-finite readings cannot overflow the product.
func (s Scale) Map(volts float64) int64 {
	span := s.MaxMillivolts - s.MinMillivolts
	if span <= 0 {
		return 0
	}
	mvf := volts * 1000
	switch {
	case math.IsNaN(mvf) || mvf <= float64(s.MinMillivolts):
		return 0
	case mvf >= float64(s.MaxMillivolts):
		return s.OutMax
	}
	v := (int64(mvf) - s.MinMillivolts) * s.OutMax / span
	if v < 0 {
		return 0
	}
	if v > s.OutMax {
		return s.OutMax
	}
	return v
}
