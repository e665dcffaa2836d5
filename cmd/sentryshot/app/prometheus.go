// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	defaultBuckets = []float64{5, 10, 20, 50, 100, 200, 500, 1000}
	prometheusMW   prometheusMiddleware
)

const (
	playlistReqsName    = "playlist_requests_total"
	playlistLatencyName = "playlist_request_duration_milliseconds"
	segReqsName         = "segment_requests_total"
	segLatencyName      = "segment_request_duration_milliseconds"
	vodReqsName         = "vod_requests_total"
	vodLatencyName      = "vod_request_duration_milliseconds"
	service             = "sentryshot"
)

// prometheusMiddleware provides a handler that exposes prometheus
// metrics for various requests.
type prometheusMiddleware struct {
	playlistReqs    *prometheus.CounterVec
	playlistLatency *prometheus.HistogramVec
	segReqs         *prometheus.CounterVec
	segLatency      *prometheus.HistogramVec
	vodReqs         *prometheus.CounterVec
	vodLatency      *prometheus.HistogramVec
}

func init() {
	prometheusMW.playlistReqs = newCounter(playlistReqsName,
		"Number of playlist requests processed, partitioned by status code.", service)
	prometheusMW.playlistLatency = newHistogram(playlistLatencyName,
		"Playlist response latency.", service, defaultBuckets)
	prometheusMW.segReqs = newCounter(segReqsName,
		"Number of segment and part requests processed, partitioned by status code.", service)
	prometheusMW.segLatency = newHistogram(segLatencyName,
		"Segment response latency.", service, defaultBuckets)
	prometheusMW.vodReqs = newCounter(vodReqsName,
		"Number of VOD requests processed, partitioned by status code.", service)
	prometheusMW.vodLatency = newHistogram(vodLatencyName,
		"VOD response latency.", service, defaultBuckets)
}

// NewPrometheusMiddleware returns a new prometheus Middleware handler.
func NewPrometheusMiddleware() func(next http.Handler) http.Handler {
	return prometheusMW.handler
}

func (mw prometheusMiddleware) handler(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := strconv.Itoa(ww.Status())
		latencyMS := float64(time.Since(start).Milliseconds())
		switch {
		case strings.HasSuffix(path, ".m3u8"):
			mw.playlistReqs.WithLabelValues(status).Inc()
			mw.playlistLatency.WithLabelValues(status).Observe(latencyMS)
		case strings.HasSuffix(path, ".mp4") && strings.HasPrefix(path, "/live/"):
			mw.segReqs.WithLabelValues(status).Inc()
			mw.segLatency.WithLabelValues(status).Observe(latencyMS)
		case strings.HasPrefix(path, "/vod/"):
			mw.vodReqs.WithLabelValues(status).Inc()
			mw.vodLatency.WithLabelValues(status).Observe(latencyMS)
		}
	}
	return http.HandlerFunc(fn)
}

func newCounter(name, help, service string) *prometheus.CounterVec {
	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        name,
			Help:        help,
			ConstLabels: prometheus.Labels{"service": service},
		},
		[]string{"code"},
	)
	prometheus.MustRegister(counter)
	return counter
}

func newHistogram(name, help, service string, buckets []float64) *prometheus.HistogramVec {
	histogram := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:        name,
			Help:        help,
			ConstLabels: prometheus.Labels{"service": service},
			Buckets:     buckets,
		},
		[]string{"code"},
	)
	prometheus.MustRegister(histogram)
	return histogram
}
