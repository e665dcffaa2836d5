// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package recording defines recording identifiers, the on-disk meta
// format and the finalized recording side-car.
package recording

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/SentryShot/sentryshot/pkg/video"
)

// ID is the canonical recording identifier
// "YYYY-MM-DD_HH-MM-SS_<monitor>". It orders lexicographically in time
// order.
type ID string

const idTimeLayout = "2006-01-02_15-04-05"

// Errors.
var (
	ErrIDTooShort  = errors.New("recording id too short")
	ErrIDInvalid   = errors.New("recording id invalid")
	ErrIDForbidden = errors.New("recording id contains forbidden characters")
)

// ParseID validates a raw identifier.
func ParseID(raw string) (ID, error) {
	if len(raw) < len(idTimeLayout)+2 {
		return "", ErrIDTooShort
	}
	for _, c := range raw {
		if c < 0x20 || c > 0x7e || c == '/' || c == '\\' || c == '.' {
			return "", ErrIDForbidden
		}
	}
	if _, err := time.Parse(idTimeLayout, raw[:len(idTimeLayout)]); err != nil {
		return "", fmt.Errorf("%w: %v", ErrIDInvalid, err)
	}
	if raw[len(idTimeLayout)] != '_' {
		return "", ErrIDInvalid
	}
	return ID(raw), nil
}

// IDFromNanos builds the identifier of a recording starting at time for
// a monitor. Sub-second precision is lost.
func IDFromNanos(t video.UnixNano, monitorID string) ID {
	return ID(t.Time().UTC().Format(idTimeLayout) + "_" + monitorID)
}

// ZeroID sorts before every valid identifier.
func ZeroID() ID {
	return "0000-00-00_00-00-00_x"
}

// MaxID sorts after every valid identifier.
func MaxID() ID {
	return "9999-99-99_99-99-99_x"
}

// NanosInexact parses the timestamp part. Sub-second precision was lost
// when the identifier was created.
func (id ID) NanosInexact() (video.UnixNano, error) {
	if len(id) < len(idTimeLayout) {
		return 0, ErrIDTooShort
	}
	t, err := time.Parse(idTimeLayout, string(id[:len(idTimeLayout)]))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIDInvalid, err)
	}
	return video.UnixNano(t.UnixNano()), nil
}

// MonitorID returns the monitor part of the identifier.
func (id ID) MonitorID() string {
	if len(id) <= len(idTimeLayout)+1 {
		return ""
	}
	return string(id[len(idTimeLayout)+1:])
}

// FullPath returns the relative directory path
// "YYYY/MM/DD/<monitor>/<id>".
func (id ID) FullPath() string {
	s := string(id)
	return filepath.Join(s[:4], s[5:7], s[8:10], id.MonitorID(), s)
}
