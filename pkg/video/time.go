// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package video

import "time"

// H264Timescale is the number of time units that pass per second in the
// H.264 time base (90kHz).
const H264Timescale = 90000

// UnixNano is a point in time expressed as nanoseconds since the Unix epoch.
type UnixNano int64

// UnixH264 is a point in time expressed as 90kHz ticks since the Unix epoch.
type UnixH264 int64

// DurationNano is a span of time in nanoseconds.
type DurationNano int64

// DurationH264 is a span of time in 90kHz ticks.
type DurationH264 int64

// DtsOffset is the signed difference between a sample's presentation and
// decode timestamps such that dts = pts - offset.
type DtsOffset int32

const (
	// NanoSecond is one second in the UnixNano time base.
	NanoSecond = DurationNano(time.Second)

	// NanoMinute is one minute in the UnixNano time base.
	NanoMinute = 60 * NanoSecond

	// NanoHour is one hour in the UnixNano time base.
	NanoHour = 60 * NanoMinute
)

// NowUnixNano returns the current time in the UnixNano time base.
func NowUnixNano() UnixNano {
	return UnixNano(time.Now().UnixNano())
}

// H264 converts to the 90kHz time base. The conversion is exact for all
// timestamps that originated as whole ticks.
func (t UnixNano) H264() UnixH264 {
	return UnixH264(multiplyDivide(int64(t), H264Timescale, int64(time.Second)))
}

// Nano converts to the nanosecond time base.
func (t UnixH264) Nano() UnixNano {
	return UnixNano(multiplyDivide(int64(t), int64(time.Second), H264Timescale))
}

// Time converts to a stdlib time.Time.
func (t UnixNano) Time() time.Time {
	return time.Unix(0, int64(t))
}

// Time converts to a stdlib time.Time.
func (t UnixH264) Time() time.Time {
	return t.Nano().Time()
}

// Add returns t shifted by d ticks.
func (t UnixH264) Add(d DurationH264) UnixH264 {
	return t + UnixH264(d)
}

// Sub returns the duration t-u.
func (t UnixH264) Sub(u UnixH264) DurationH264 {
	return DurationH264(t - u)
}

// H264 converts to the 90kHz time base.
func (d DurationNano) H264() DurationH264 {
	return DurationH264(multiplyDivide(int64(d), H264Timescale, int64(time.Second)))
}

// Nano converts to the nanosecond time base.
func (d DurationH264) Nano() DurationNano {
	return DurationNano(multiplyDivide(int64(d), int64(time.Second), H264Timescale))
}

// Seconds returns the duration as a floating point number of seconds.
func (d DurationH264) Seconds() float64 {
	return float64(d) / H264Timescale
}

// multiplyDivide computes v*m/d rounded to nearest, without
// intermediate overflow for the magnitudes that occur when converting
// between nanosecond and 90kHz Unix timestamps. Rounding keeps
// tick-nano-tick round trips exact.
func multiplyDivide(v, m, d int64) int64 {
	neg := v < 0
	if neg {
		v = -v
	}
	whole := v / d
	rem := v % d
	res := whole*m + (rem*m+d/2)/d
	if neg {
		return -res
	}
	return res
}
