// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dusted-go/logging/prettylog"
)

// NewSlogHandler creates a handler for the given format, honoring the
// global log level.
func NewSlogHandler(logFormat string) (slog.Handler, error) {
	switch logFormat {
	case LogText:
		return slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}), nil
	case LogJSON:
		return slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}), nil
	case LogPretty:
		f := func(groups []string, a slog.Attr) slog.Attr { return a }
		return prettylog.NewHandler(&slog.HandlerOptions{
			Level:       logLevel,
			AddSource:   false,
			ReplaceAttr: f}), nil
	case LogDiscard:
		return slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: logLevel}), nil
	default:
		return nil, fmt.Errorf("logFormat %q not known", logFormat)
	}
}

// InitSlog initializes the global slog logger.
//
// level and logFormat determine what is logged and in what format.
func InitSlog(level string, logFormat string) error {
	logLevel = new(slog.LevelVar)
	handler, err := NewSlogHandler(logFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(handler))
	return SetLogLevel(level)
}
