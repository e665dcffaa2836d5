// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/SentryShot/sentryshot/pkg/eventdb"
	"github.com/SentryShot/sentryshot/pkg/hls"
	"github.com/SentryShot/sentryshot/pkg/logdb"
	"github.com/SentryShot/sentryshot/pkg/logging"
	"github.com/SentryShot/sentryshot/pkg/monitor"
	"github.com/SentryShot/sentryshot/pkg/mp4streamer"
	"github.com/SentryShot/sentryshot/pkg/recdb"
	"github.com/SentryShot/sentryshot/pkg/video"
	"github.com/SentryShot/sentryshot/pkg/vod"
)

const (
	pruneInterval     = 10 * time.Minute
	logPruneInterval  = time.Hour
	diskCacheMaxAge   = 9 * time.Minute
	eventWriteBufSize = 32
	eventCacheSize    = 128
)

// Server wires the stores, muxers and HTTP layer together.
type Server struct {
	Router *chi.Mux
	Cfg    *ServerConfig

	logger   *slog.Logger
	logDB    *logdb.DB
	eventDB  *eventdb.Database
	recDB    *recdb.RecDb
	vodCache *vod.Cache
	streamer *mp4streamer.Streamer
	manager  *monitor.Manager

	ctx context.Context
	wg  sync.WaitGroup

	muxersMu     sync.Mutex
	hlsMuxers    map[string]*hls.Muxer
	streamParams map[string]video.TrackParameters
}

// SetupServer creates the stores and the router.
func SetupServer(ctx context.Context, cfg *ServerConfig) (*Server, error) {
	logDB, err := logdb.New(
		filepath.Join(cfg.StorageDir, "logs"),
		int64(cfg.MaxDiskUsageGB)<<30,
		100<<20,
	)
	if err != nil {
		return nil, fmt.Errorf("create log database: %w", err)
	}

	// Tee diagnostics into the log database so they become queryable.
	logger := slog.New(fanoutHandler{
		slog.Default().Handler(),
		logdb.NewHandler(logDB, slog.LevelInfo),
	})

	s := &Server{
		Router:       chi.NewRouter(),
		Cfg:          cfg,
		logger:       logger,
		logDB:        logDB,
		vodCache:     vod.NewCache(),
		streamer:     mp4streamer.NewStreamer(ctx),
		ctx:          ctx,
		hlsMuxers:    make(map[string]*hls.Muxer),
		streamParams: make(map[string]video.TrackParameters),
	}

	s.wg.Add(1)
	s.eventDB, err = eventdb.New(
		ctx, s.wg.Done, logger,
		filepath.Join(cfg.StorageDir, "eventdb"),
		eventCacheSize, eventWriteBufSize,
	)
	if err != nil {
		return nil, fmt.Errorf("create event database: %w", err)
	}

	recordingsDir := filepath.Join(cfg.StorageDir, "recordings")
	if err := os.MkdirAll(recordingsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create recordings directory: %w", err)
	}
	disk := recdb.NewDisk(recordingsDir, int64(cfg.MaxDiskUsageGB)<<30, diskCacheMaxAge)
	s.recDB = recdb.New(logger, recordingsDir, disk)

	s.manager = monitor.NewManager(
		logger, s.recDB, s.eventDB, s.newMonitorSource, nil)

	if cfg.MonitorsFile != "" {
		if err := s.startMonitors(ctx, cfg.MonitorsFile); err != nil {
			return nil, err
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logDB.PruneLoop(ctx, logPruneInterval)
	}()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.pruneLoop(ctx)
	}()

	s.Router.Use(middleware.RequestID)
	s.Router.Use(logging.SlogMiddleWare(logger))
	s.Router.Use(NewPrometheusMiddleware())
	if err := s.Routes(); err != nil {
		return nil, err
	}
	return s, nil
}

// Shutdown waits for the stores to drain.
func (s *Server) Shutdown() {
	s.manager.StopAll()
	s.wg.Wait()
	if err := s.logDB.Close(); err != nil {
		s.logger.Error("close log database", "error", err.Error())
	}
}

func (s *Server) startMonitors(ctx context.Context, monitorsFile string) error {
	raw, err := os.ReadFile(monitorsFile)
	if err != nil {
		return fmt.Errorf("read monitors file: %w", err)
	}
	var configs []monitor.Config
	if err := json.Unmarshal(raw, &configs); err != nil {
		return fmt.Errorf("parse monitors file: %w", err)
	}
	for _, config := range configs {
		if err := s.manager.StartMonitor(ctx, config); err != nil {
			return fmt.Errorf("start monitor %q: %w", config.ID, err)
		}
	}
	return nil
}

func (s *Server) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.recDB.Prune(); err != nil {
				s.logger.Error("recdb prune", "error", err.Error())
			}
		}
	}
}

func (s *Server) healthzHandlerFunc(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, true, http.StatusOK)
}

// jsonResponse marshals message and responds with code.
//
// Don't add any more content after this since Content-Length is set.
func (s *Server) jsonResponse(w http.ResponseWriter, message any, code int) {
	raw, err := json.Marshal(message)
	if err != nil {
		http.Error(w, fmt.Sprintf("{message: \"%s\"}", err), http.StatusInternalServerError)
		s.logger.Error(err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(raw)))
	w.WriteHeader(code)
	_, err = w.Write(raw)
	if err != nil {
		s.logger.Error("could not write HTTP response", "err", err)
	}
}

// fanoutHandler sends records to every wrapped handler.
type fanoutHandler []slog.Handler

func (h fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, handler := range h {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (h fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanoutHandler, len(h))
	for i, handler := range h {
		out[i] = handler.WithAttrs(attrs)
	}
	return out
}

func (h fanoutHandler) WithGroup(name string) slog.Handler {
	out := make(fanoutHandler, len(h))
	for i, handler := range h {
		out[i] = handler.WithGroup(name)
	}
	return out
}
