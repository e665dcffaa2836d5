// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package monitor supervises one recording pipeline per camera: it
// consumes segments from a live muxer, persists them through the
// recording database and records the accompanying event log.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/SentryShot/sentryshot/pkg/eventdb"
	"github.com/SentryShot/sentryshot/pkg/recdb"
	"github.com/SentryShot/sentryshot/pkg/video"
)

// Source provides the live muxers of one camera. Stream acquisition is
// external; the monitor only consumes the segment view.
type Source interface {
	// Muxer returns the main stream muxer, waiting for the stream to
	// come up.
	Muxer(ctx context.Context) (video.StreamerMuxer, error)

	// SubMuxer returns the sub stream muxer if the camera has one.
	SubMuxer(ctx context.Context) (video.StreamerMuxer, bool, error)
}

// ThumbnailFunc converts the first IDR sample of a recording into an
// encoded JPEG. Decoding and scaling are external.
type ThumbnailFunc func(params video.TrackParameters, sample *video.Sample) ([]byte, error)

// Monitor is one supervised camera.
type Monitor struct {
	config   Config
	logger   *slog.Logger
	recorder *recorder
	cancel   context.CancelFunc
	done     chan struct{}
}

// Manager owns every monitor.
type Manager struct {
	logger    *slog.Logger
	recDB     *recdb.RecDb
	eventDB   *eventdb.Database
	newSource func(Config) (Source, error)
	thumbnail ThumbnailFunc

	mu       sync.Mutex
	monitors map[string]*Monitor
}

// NewManager allocates a Manager.
func NewManager(
	logger *slog.Logger,
	recDB *recdb.RecDb,
	eventDB *eventdb.Database,
	newSource func(Config) (Source, error),
	thumbnail ThumbnailFunc,
) *Manager {
	return &Manager{
		logger:    logger,
		recDB:     recDB,
		eventDB:   eventDB,
		newSource: newSource,
		thumbnail: thumbnail,
		monitors:  make(map[string]*Monitor),
	}
}

// StartMonitor starts a monitor from config, replacing a previous
// instance with the same id.
func (m *Manager) StartMonitor(ctx context.Context, config Config) error {
	if err := config.Validate(); err != nil {
		return err
	}
	if !config.Enable {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, exists := m.monitors[config.ID]; exists {
		prev.stop()
		delete(m.monitors, config.ID)
	}

	source, err := m.newSource(config)
	if err != nil {
		return fmt.Errorf("create source: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	monitor := &Monitor{
		config: config,
		logger: m.logger.With("monitor", config.ID),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	monitor.recorder = newRecorder(
		monitor.logger, config, source, m.recDB, m.thumbnail)

	go func() {
		defer close(monitor.done)
		monitor.recorder.start(ctx)
	}()

	if config.AlwaysRecord {
		monitor.recorder.sendEvent(ctx, eventdb.Event{
			Time:        video.NowUnixNano(),
			RecDuration: video.DurationNano(1<<62 - 1),
		})
	}

	m.monitors[config.ID] = monitor
	return nil
}

// StopMonitor stops one monitor.
func (m *Manager) StopMonitor(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if monitor, exists := m.monitors[id]; exists {
		monitor.stop()
		delete(m.monitors, id)
	}
}

// StopAll stops every monitor and waits for them to finish.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, monitor := range m.monitors {
		monitor.stop()
		delete(m.monitors, id)
	}
}

// SendEvent delivers a detection event to a monitor's recorder and to
// the event database.
func (m *Manager) SendEvent(ctx context.Context, monitorID string, event eventdb.Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}

	source := monitorID
	event.Source = &source
	m.eventDB.WriteEvent(ctx, event)

	m.mu.Lock()
	monitor, exists := m.monitors[monitorID]
	m.mu.Unlock()
	if !exists {
		return errors.New("monitor does not exist")
	}
	monitor.recorder.sendEvent(ctx, event)
	return nil
}

func (m *Monitor) stop() {
	m.cancel()
	<-m.done
}
