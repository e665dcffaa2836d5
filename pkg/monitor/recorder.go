// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/SentryShot/sentryshot/pkg/eventdb"
	"github.com/SentryShot/sentryshot/pkg/recdb"
	"github.com/SentryShot/sentryshot/pkg/recording"
	"github.com/SentryShot/sentryshot/pkg/video"
)

// ErrSkippedSegment means the muxer produced a non-contiguous segment
// id, so the recording cannot be continued.
var ErrSkippedSegment = errors.New("skipped segment")

// restartBackoff after a crashed recording process.
const restartBackoff = 3 * time.Second

// recorder creates and saves recordings. A session is started by the
// first event that lands within its recording window; subsequent events
// may extend the session's timer end but never retract it.
type recorder struct {
	logger    *slog.Logger
	config    Config
	source    Source
	recDB     *recdb.RecDb
	thumbnail ThumbnailFunc

	eventChan chan eventdb.Event
	events    *eventCache

	prevSeg video.Segment
}

func newRecorder(
	logger *slog.Logger,
	config Config,
	source Source,
	recDB *recdb.RecDb,
	thumbnail ThumbnailFunc,
) *recorder {
	return &recorder{
		logger:    logger,
		config:    config,
		source:    source,
		recDB:     recDB,
		thumbnail: thumbnail,
		eventChan: make(chan eventdb.Event),
		events:    &eventCache{},
	}
}

func (r *recorder) sendEvent(ctx context.Context, event eventdb.Event) {
	select {
	case r.eventChan <- event:
	case <-ctx.Done():
	}
}

func (r *recorder) start(ctx context.Context) {
	var recCtx context.Context
	recCancel := func() {}
	isRecording := false
	triggerTimer := time.NewTimer(time.Duration(1<<62 - 1))
	triggerTimer.Stop()
	onRecExit := make(chan error)

	startRecording := func() {
		onRecExit <- r.runRecordingProcess(recCtx)
	}

	recStopped := func() {
		triggerTimer.Stop()
		isRecording = false
		r.logger.Info("recording stopped")
	}

	var timerEnd time.Time
	for {
		select {
		case <-ctx.Done():
			recCancel()
			if isRecording {
				<-onRecExit
				recStopped()
			}
			return

		case event := <-r.eventChan:
			r.events.push(event)

			end := event.Time.Time().Add(time.Duration(event.RecDuration))
			if end.After(timerEnd) {
				timerEnd = end
			}

			if isRecording {
				triggerTimer.Stop()
				triggerTimer = time.NewTimer(time.Until(timerEnd))
				continue
			}

			triggerTimer = time.NewTimer(time.Until(timerEnd))
			recCtx, recCancel = context.WithCancel(ctx)
			isRecording = true
			go startRecording()

		case <-triggerTimer.C:
			r.logger.Info("trigger reached end, stopping recording")
			recCancel()

		case err := <-onRecExit:
			if recCtx.Err() != nil {
				// Recording was cancelled and stopped.
				recStopped()
				continue
			}

			if err != nil {
				// Recording crashed. Wait a moment and start it again.
				r.logger.Error("recording process", "error", err.Error())
				go func() {
					select {
					case <-ctx.Done():
						onRecExit <- nil
					case <-time.After(restartBackoff):
						go startRecording()
					}
				}()
				continue
			}

			// Recording reached its maximum length and stopped
			// normally. The trigger is still active, so start again.
			go startRecording()
		}
	}
}

func (r *recorder) muxer(ctx context.Context) (video.StreamerMuxer, error) {
	if r.config.UseSubStream {
		muxer, exists, err := r.source.SubMuxer(ctx)
		if err != nil {
			return nil, err
		}
		if exists {
			return muxer, nil
		}
	}
	return r.source.Muxer(ctx)
}

func (r *recorder) runRecordingProcess(ctx context.Context) error {
	muxer, err := r.muxer(ctx)
	if err != nil {
		return fmt.Errorf("get muxer: %w", err)
	}

	firstSegment, err := muxer.NextSegment(r.prevSeg)
	if err != nil {
		return fmt.Errorf("first segment: %w", err)
	}

	startTime := firstSegment.StartTime()
	params := muxer.Params()

	rec, err := r.recDB.NewRecording(r.config.ID, startTime)
	if err != nil {
		return fmt.Errorf("new recording: %w", err)
	}
	defer rec.Close()

	r.logger.Info("starting recording", "recording", string(rec.ID()))

	go r.generateThumbnail(rec, params, firstSegment)

	endTime, err := r.generateVideo(ctx, rec, muxer, firstSegment, params)
	if err != nil {
		return fmt.Errorf("write video: %w", err)
	}
	r.logger.Info("video generated", "recording", string(rec.ID()))

	r.saveRecordingData(rec, startTime, endTime)
	return nil
}

// generateVideo persists segments until cancellation or the maximum
// video length, returning the end time of the last written segment.
func (r *recorder) generateVideo(
	ctx context.Context,
	rec *recdb.Handle,
	muxer video.StreamerMuxer,
	firstSegment video.Segment,
	params video.TrackParameters,
) (video.UnixH264, error) {
	startTime := firstSegment.StartTime()
	stopTime := startTime.Add(video.DurationNano(r.config.videoLength()).H264())
	endTime := startTime

	meta, err := rec.NewFile("meta")
	if err != nil {
		return 0, err
	}
	defer meta.Close()
	mdat, err := rec.NewFile("mdat")
	if err != nil {
		return 0, err
	}
	defer mdat.Close()

	w, err := recording.NewVideoWriter(meta, mdat, recording.MetaHeader{
		StartTime: startTime,
		Width:     params.Width,
		Height:    params.Height,
		ExtraData: params.ExtraData,
	})
	if err != nil {
		return 0, err
	}

	writeSegment := func(seg video.Segment) error {
		var writeErr error
		seg.Samples(func(sample *video.Sample) bool {
			if err := w.WriteSample(sample); err != nil {
				writeErr = err
				return false
			}
			return true
		})
		if writeErr != nil {
			return writeErr
		}
		r.prevSeg = seg
		endTime = seg.StartTime().Add(seg.Duration())
		rec.SetEndTime(endTime)
		return nil
	}

	if err := writeSegment(firstSegment); err != nil {
		return 0, err
	}

	for {
		if ctx.Err() != nil {
			return endTime, nil
		}

		seg, err := muxer.NextSegment(r.prevSeg)
		if err != nil {
			return endTime, nil
		}

		if seg.ID() != r.prevSeg.ID()+1 && seg.MuxerID() == r.prevSeg.MuxerID() {
			return 0, fmt.Errorf("%w: expected %v got %v",
				ErrSkippedSegment, r.prevSeg.ID()+1, seg.ID())
		}

		if err := writeSegment(seg); err != nil {
			return 0, err
		}

		if seg.StartTime().Time().After(stopTime.Time()) {
			return endTime, nil
		}
	}
}

// generateThumbnail feeds the first IDR sample to the thumbnail hook and
// writes the result.
func (r *recorder) generateThumbnail(
	rec *recdb.Handle,
	params video.TrackParameters,
	firstSegment video.Segment,
) {
	var firstSample *video.Sample
	firstSegment.Samples(func(sample *video.Sample) bool {
		firstSample = sample
		return false
	})
	if firstSample == nil || r.thumbnail == nil {
		return
	}

	jpeg, err := r.thumbnail(params, firstSample)
	if err != nil {
		r.logger.Error("generate thumbnail", "error", err.Error())
		return
	}

	file, err := rec.NewFile("jpeg")
	if err != nil {
		r.logger.Error("create thumbnail file", "error", err.Error())
		return
	}
	defer file.Close()
	if _, err := file.Write(jpeg); err != nil {
		r.logger.Error("write thumbnail", "error", err.Error())
		return
	}
	r.logger.Info("thumbnail generated", "recording", string(rec.ID()))
}

// saveRecordingData drains the event cache into the side-car, which
// marks the recording as finalized.
func (r *recorder) saveRecordingData(
	rec *recdb.Handle,
	startTime video.UnixH264,
	endTime video.UnixH264,
) {
	data := recording.Data{
		Start:  startTime.Nano(),
		End:    endTime.Nano(),
		Events: r.events.queryAndPrune(startTime.Nano(), endTime.Nano()),
	}
	raw, err := json.MarshalIndent(data, "", "    ")
	if err != nil {
		r.logger.Error("marshal recording data", "error", err.Error())
		return
	}

	file, err := rec.NewFile("json")
	if err != nil {
		r.logger.Error("create data file", "error", err.Error())
		return
	}
	defer file.Close()
	if _, err := file.Write(raw); err != nil {
		r.logger.Error("write data file", "error", err.Error())
		return
	}
	r.logger.Info("recording saved", "recording", string(rec.ID()))
}
