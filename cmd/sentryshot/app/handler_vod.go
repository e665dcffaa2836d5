// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/SentryShot/sentryshot/pkg/recording"
	"github.com/SentryShot/sentryshot/pkg/video"
	"github.com/SentryShot/sentryshot/pkg/vod"
)

// vodHandlerFunc synthesizes a single seekable MP4 across the requested
// window and serves it with single-range and precondition support.
// Multi-range requests are refused with 416.
func (s *Server) vodHandlerFunc(w http.ResponseWriter, r *http.Request) {
	query, err := parseVodQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	reader, err := vod.NewReader(s.recDB, s.vodCache, query)
	if err != nil {
		writeVodError(w, err)
		return
	}
	defer reader.Close()

	if strings.Contains(r.Header.Get("Range"), ",") {
		http.Error(w, "multiple ranges are not supported",
			http.StatusRequestedRangeNotSatisfiable)
		return
	}

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Accept-Ranges", "bytes")
	// ServeContent handles Range and the If-* preconditions.
	http.ServeContent(w, r, "vod.mp4", time.Time{}, reader)
}

func parseVodQuery(r *http.Request) (vod.Query, error) {
	values := r.URL.Query()
	var query vod.Query

	query.MonitorID = values.Get("monitor-id")
	if query.MonitorID == "" {
		return query, errors.New("monitor-id missing")
	}

	start, err := strconv.ParseInt(values.Get("start"), 10, 64)
	if err != nil {
		return query, fmt.Errorf("invalid start: %w", err)
	}
	end, err := strconv.ParseInt(values.Get("end"), 10, 64)
	if err != nil {
		return query, fmt.Errorf("invalid end: %w", err)
	}
	query.Start = video.UnixNano(start)
	query.End = video.UnixNano(end)

	if cacheRaw := values.Get("cache-id"); cacheRaw != "" {
		cacheID, err := strconv.ParseUint(cacheRaw, 10, 32)
		if err != nil {
			return query, fmt.Errorf("invalid cache-id: %w", err)
		}
		query.CacheID = uint32(cacheID)
	}
	return query, nil
}

func writeVodError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, vod.ErrNoRecordings):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, vod.ErrNegativeDuration), errors.Is(err, vod.ErrMaxDuration):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// thumbnailHandlerFunc serves a recording's thumbnail.
func (s *Server) thumbnailHandlerFunc(w http.ResponseWriter, r *http.Request) {
	id, err := recording.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	path, exists := s.recDB.ThumbnailPath(id)
	if !exists {
		http.Error(w, "thumbnail not found", http.StatusNotFound)
		return
	}
	http.ServeFile(w, r, path)
}
