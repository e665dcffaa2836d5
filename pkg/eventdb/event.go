// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package eventdb

import (
	"errors"

	"github.com/SentryShot/sentryshot/pkg/video"
)

// Event is one object-detection event.
type Event struct {
	Time       video.UnixNano     `json:"time"`
	Duration   video.DurationNano `json:"duration"`
	Detections []Detection        `json:"detections"`

	// Source names the detector that produced the event.
	Source *string `json:"source"`

	// RecDuration extends the recording session trigger. It is not part
	// of the wire format.
	RecDuration video.DurationNano `json:"-"`
}

// Detection is one detected object.
type Detection struct {
	Label  string  `json:"label"`
	Score  float64 `json:"score"`
	Region *Region `json:"region,omitempty"`
}

// Region is the area of the frame a detection covers.
type Region struct {
	Rectangle *Rectangle `json:"rectangle,omitempty"`
	Polygon   *Polygon   `json:"polygon,omitempty"`
}

// Rectangle within a frame.
type Rectangle struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Point within a frame.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Polygon within a frame.
type Polygon []Point

// ErrEventNoTime is returned for events without a timestamp.
var ErrEventNoTime = errors.New("event: time missing")

// Validate checks event fields.
func (e *Event) Validate() error {
	if e.Time == 0 {
		return ErrEventNoTime
	}
	return nil
}
