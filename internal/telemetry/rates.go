package telemetry

// CounterPoint is one (timestamp, counter value) observation used as
// input to Rates.
type CounterPoint struct {
	TimestampUnix float64
	Value         uint64
}

// Rates converts a sequence of monotonic-counter observations into a
// sequence of KB/s rates, one per adjacent pair (spec §4.2): rate =
// max(0, v[i+1]-v[i]) / Δt / 1024. A non-positive Δt drops that point
// entirely (the source ticked twice at the same timestamp, or went
// backward); a negative value delta — a counter reset from a runtime
// restart — clamps to exactly zero rather than going negative.
func Rates(points []CounterPoint) []float64 {
	if len(points) < 2 {
		return nil
	}
	out := make([]float64, 0, len(points)-1)
	for i := 0; i+1 < len(points); i++ {
		dt := points[i+1].TimestampUnix - points[i].TimestampUnix
		if dt <= 0 {
			continue
		}
		var delta float64
		if points[i+1].Value > points[i].Value {
			delta = float64(points[i+1].Value - points[i].Value)
		}
		out = append(out, delta/dt/1024)
	}
	return out
}
