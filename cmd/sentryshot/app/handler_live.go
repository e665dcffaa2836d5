// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/SentryShot/sentryshot/pkg/hls"
	"github.com/SentryShot/sentryshot/pkg/mp4streamer"
)

// hlsHandlerFunc serves the playlists, init segment, segments and parts
// of a monitor's live stream. LL-HLS blocking reloads are driven by the
// _HLS_msn, _HLS_part and _HLS_skip query parameters.
func (s *Server) hlsHandlerFunc(w http.ResponseWriter, r *http.Request) {
	monitorID := chi.URLParam(r, "monitor")
	file := chi.URLParam(r, "file")

	muxer, exists := s.hlsMuxer(monitorID)
	if !exists {
		http.Error(w, "stream not found", http.StatusNotFound)
		return
	}

	query, err := parseHlsQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res := muxer.File(file, query)
	for key, value := range res.Header {
		w.Header().Set(key, value)
	}
	w.WriteHeader(res.Status)
	if res.Body != nil && r.Method != http.MethodHead {
		_, _ = io.Copy(w, res.Body)
	}
}

func parseHlsQuery(r *http.Request) (hls.Query, error) {
	var query hls.Query
	values := r.URL.Query()

	msnRaw := values.Get("_HLS_msn")
	partRaw := values.Get("_HLS_part")
	if msnRaw != "" {
		msn, err := strconv.ParseUint(msnRaw, 10, 64)
		if err != nil {
			return query, fmt.Errorf("invalid _HLS_msn: %w", err)
		}
		var part uint64
		if partRaw != "" {
			part, err = strconv.ParseUint(partRaw, 10, 64)
			if err != nil {
				return query, fmt.Errorf("invalid _HLS_part: %w", err)
			}
		}
		query.MsnAndPart = &hls.MsnAndPart{Msn: msn, Part: part}
	}
	query.IsDeltaUpdate = values.Get("_HLS_skip") == "YES"
	return query, nil
}

// mp4StreamHandlerFunc serves a live stream as a single fragmented-MP4
// byte stream with session-based byte-range reads.
func (s *Server) mp4StreamHandlerFunc(w http.ResponseWriter, r *http.Request) {
	monitorID := chi.URLParam(r, "monitor")
	muxer, exists := s.streamer.Muxer(monitorID)
	if !exists {
		http.Error(w, "stream not found", http.StatusNotFound)
		return
	}

	sessionRaw := r.URL.Query().Get("session")
	sessionID64, err := strconv.ParseUint(sessionRaw, 10, 32)
	if err != nil {
		http.Error(w, "invalid session", http.StatusBadRequest)
		return
	}
	sessionID := uint32(sessionID64)

	start, err := parseRangeStart(r.Header.Get("Range"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusRequestedRangeNotSatisfiable)
		return
	}

	if start == 0 {
		if _, err := muxer.StartSession(sessionID); err != nil &&
			!errors.Is(err, mp4streamer.ErrSessionAlreadyOpen) {
			writeStreamerError(w, err)
			return
		}
	}

	res, err := muxer.Play(sessionID, start)
	if err != nil {
		writeStreamerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Accept-Ranges", "bytes")
	if start > 0 {
		w.Header().Set("Content-Range",
			fmt.Sprintf("bytes %d-%d/*", res.Start, res.Start+res.Length-1))
		w.WriteHeader(http.StatusPartialContent)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if r.Method != http.MethodHead {
		_, _ = io.Copy(w, res.Body)
	}
}

// parseRangeStart accepts at most a single open-ended range.
func parseRangeStart(header string) (uint64, error) {
	if header == "" {
		return 0, nil
	}
	if strings.Contains(header, ",") {
		return 0, errors.New("multiple ranges are not supported")
	}
	rest, found := strings.CutPrefix(header, "bytes=")
	if !found {
		return 0, errors.New("invalid range unit")
	}
	startRaw, _, found := strings.Cut(rest, "-")
	if !found || startRaw == "" {
		return 0, errors.New("invalid range")
	}
	start, err := strconv.ParseUint(startRaw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid range: %w", err)
	}
	return start, nil
}

func writeStreamerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, mp4streamer.ErrMuxerCancelled),
		errors.Is(err, mp4streamer.ErrSessionNotExist),
		errors.Is(err, mp4streamer.ErrNotReady):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, mp4streamer.ErrFramesExpired):
		http.Error(w, err.Error(), http.StatusGone)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
