package decode

import "math/big"

// Rational is a stream timebase, Num/Den seconds per tick.
type Rational struct {
	Num int
	Den int
}

// Microseconds is the timebase used by the clock.
var Microseconds = Rational{Num: 1, Den: 1_000_000}

// Valid reports whether r can be used for rescaling.
func (r Rational) Valid() bool { return r.Num > 0 && r.Den > 0 }

// Rescale converts v from timebase from to timebase to, rounding to the
// nearest tick with halves away from zero. Intermediate products are
// exact.
func Rescale(v int64, from, to Rational) int64 {
	if !from.Valid() || !to.Valid() {
		return v
	}
	num := new(big.Int).Mul(big.NewInt(v), big.NewInt(int64(from.Num)*int64(to.Den)))
	den := big.NewInt(int64(from.Den) * int64(to.Num))

	q, m := new(big.Int).QuoRem(num, den, new(big.Int))
	m.Abs(m).Lsh(m, 1)
	if m.Cmp(den) >= 0 {
		if num.Sign() < 0 {
			q.Sub(q, big.NewInt(1))
		} else {
			q.Add(q, big.NewInt(1))
		}
	}
	return q.Int64()
}

// ToMicros converts stream ticks to microseconds.
func (r Rational) ToMicros(ticks int64) int64 { return Rescale(ticks, r, Microseconds) }

// FromMicros converts microseconds to stream ticks.
func (r Rational) FromMicros(us int64) int64 { return Rescale(us, Microseconds, r) }

// PresentationTime turns a picture timestamp into microseconds of stream
// time: an undefined timestamp counts as 0, and the stream start time is
// subtracted when known.
func PresentationTime(ts int64, info StreamInfo) int64 {
	if ts == NoTimestamp {
		ts = 0
	}
	if info.StartTime != NoTimestamp {
		ts -= info.StartTime
	}
	return info.TimeBase.ToMicros(ts)
}
