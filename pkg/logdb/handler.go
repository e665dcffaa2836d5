// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package logdb

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Handler is a slog.Handler that tees records into the log database so
// process diagnostics become queryable. Attributes named "source" and
// "monitor" map to the record's fixed-width fields; the rest are
// appended to the message.
type Handler struct {
	db    *DB
	level slog.Leveler

	source  string
	monitor string
	attrs   []slog.Attr
}

// NewHandler creates a Handler writing to db.
func NewHandler(db *DB, level slog.Leveler) *Handler {
	return &Handler{db: db, level: level}
}

// Enabled implements slog.Handler.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements slog.Handler.
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	source := h.source
	monitor := h.monitor

	var sb strings.Builder
	sb.WriteString(r.Message)

	writeAttr := func(a slog.Attr) {
		switch a.Key {
		case "source":
			source = a.Value.String()
		case "monitor":
			monitor = a.Value.String()
		default:
			fmt.Fprintf(&sb, " %s=%v", a.Key, a.Value)
		}
	}
	for _, a := range h.attrs {
		writeAttr(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(a)
		return true
	})

	if len(source) > srcMaxLength {
		source = source[:srcMaxLength]
	}
	if len(monitor) > monitorIDMaxLength {
		monitor = monitor[:monitorIDMaxLength]
	}

	return h.db.SaveLog(Entry{
		Level:     LevelFromSlog(r.Level),
		Time:      UnixMicro(r.Time.UnixMicro()),
		Src:       source,
		MonitorID: monitor,
		Msg:       sb.String(),
	})
}

// WithAttrs implements slog.Handler.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := *h
	h2.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	for _, a := range attrs {
		switch a.Key {
		case "source":
			h2.source = a.Value.String()
		case "monitor":
			h2.monitor = a.Value.String()
		}
	}
	return &h2
}

// WithGroup implements slog.Handler. Groups are flattened.
func (h *Handler) WithGroup(string) slog.Handler {
	return h
}
