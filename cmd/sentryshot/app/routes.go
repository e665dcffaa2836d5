// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/SentryShot/sentryshot/pkg/logging"
)

// Routes defines dispatches for all routes.
func (s *Server) Routes() error {
	for _, route := range logging.LogRoutes {
		s.Router.MethodFunc(route.Method, route.Path, route.Handler)
	}
	s.Router.Mount("/debug", middleware.Profiler())
	s.Router.Handle("/metrics", promhttp.Handler())
	s.Router.MethodFunc("GET", "/healthz", s.healthzHandlerFunc)

	// Live playback.
	s.Router.MethodFunc("GET", "/live/{monitor}/hls/{file}", s.hlsHandlerFunc)
	s.Router.MethodFunc("GET", "/live/{monitor}/mp4", s.mp4StreamHandlerFunc)

	// VOD playback.
	s.Router.MethodFunc("GET", "/vod/vod.mp4", s.vodHandlerFunc)
	s.Router.MethodFunc("HEAD", "/vod/vod.mp4", s.vodHandlerFunc)

	// Thumbnails.
	s.Router.MethodFunc("GET", "/recording/{id}/thumbnail", s.thumbnailHandlerFunc)

	// Query API.
	s.Router.Route("/api", createRouteAPI(s))

	s.Router.MethodFunc("OPTIONS", "/*", s.optionsHandlerFunc)
	return nil
}

func (s *Server) optionsHandlerFunc(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "*")
	w.WriteHeader(http.StatusNoContent)
}
