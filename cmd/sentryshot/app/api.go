// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/SentryShot/sentryshot/pkg/eventdb"
	"github.com/SentryShot/sentryshot/pkg/logdb"
	"github.com/SentryShot/sentryshot/pkg/recdb"
	"github.com/SentryShot/sentryshot/pkg/recording"
	"github.com/SentryShot/sentryshot/pkg/video"
)

type eventsInput struct {
	Start int64 `query:"start" doc:"Window start in Unix nanoseconds"`
	End   int64 `query:"end" doc:"Window end in Unix nanoseconds, exclusive"`
	Limit int   `query:"limit" default:"100" minimum:"1" maximum:"100000" doc:"Maximum number of events"`
}

type eventsResponse struct {
	Body struct {
		Events []eventdb.Event `json:"events"`
	}
}

func createEventsHdlr(s *Server) func(context.Context, *eventsInput) (*eventsResponse, error) {
	return func(ctx context.Context, input *eventsInput) (*eventsResponse, error) {
		events, err := s.eventDB.Query(ctx, eventdb.EventQuery{
			Start: video.UnixNano(input.Start),
			End:   video.UnixNano(input.End),
			Limit: input.Limit,
		})
		if err != nil {
			return nil, huma.Error400BadRequest(err.Error())
		}
		resp := &eventsResponse{}
		resp.Body.Events = events
		return resp, nil
	}
}

type logsInput struct {
	Levels   string `query:"levels" doc:"Comma-separated levels [error, warning, info, debug]"`
	Sources  string `query:"sources" doc:"Comma-separated sources"`
	Monitors string `query:"monitors" doc:"Comma-separated monitor ids"`
	Time     int64  `query:"time" doc:"Return entries strictly before this Unix microsecond time"`
	Limit    int    `query:"limit" default:"100" minimum:"1" maximum:"100000" doc:"Maximum number of entries"`
}

type logEntry struct {
	Level     string `json:"level"`
	Time      int64  `json:"time"`
	Source    string `json:"source"`
	MonitorID string `json:"monitorID,omitempty"`
	Message   string `json:"message"`
}

type logsResponse struct {
	Body struct {
		Entries []logEntry `json:"entries"`
	}
}

func parseLogLevels(raw string) ([]logdb.Level, error) {
	if raw == "" {
		return nil, nil
	}
	var levels []logdb.Level
	for _, name := range strings.Split(raw, ",") {
		switch name {
		case "error":
			levels = append(levels, logdb.LevelError)
		case "warning":
			levels = append(levels, logdb.LevelWarning)
		case "info":
			levels = append(levels, logdb.LevelInfo)
		case "debug":
			levels = append(levels, logdb.LevelDebug)
		default:
			return nil, huma.Error400BadRequest("unknown level: " + name)
		}
	}
	return levels, nil
}

func levelName(level logdb.Level) string {
	switch level {
	case logdb.LevelError:
		return "error"
	case logdb.LevelWarning:
		return "warning"
	case logdb.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

func createLogsHdlr(s *Server) func(context.Context, *logsInput) (*logsResponse, error) {
	return func(_ context.Context, input *logsInput) (*logsResponse, error) {
		levels, err := parseLogLevels(input.Levels)
		if err != nil {
			return nil, err
		}
		entries, err := s.logDB.Query(logdb.Query{
			Levels:   levels,
			Sources:  splitCSV(input.Sources),
			Monitors: splitCSV(input.Monitors),
			Time:     logdb.UnixMicro(input.Time),
			Limit:    input.Limit,
		})
		if err != nil {
			return nil, huma.Error500InternalServerError(err.Error())
		}
		resp := &logsResponse{}
		resp.Body.Entries = make([]logEntry, 0, len(entries))
		for _, entry := range entries {
			resp.Body.Entries = append(resp.Body.Entries, logEntry{
				Level:     levelName(entry.Level),
				Time:      int64(entry.Time),
				Source:    entry.Src,
				MonitorID: entry.MonitorID,
				Message:   entry.Msg,
			})
		}
		return resp, nil
	}
}

type recordingsInput struct {
	RecordingID string `query:"recording-id" doc:"Inclusive starting recording id"`
	Limit       int    `query:"limit" default:"100" minimum:"1" maximum:"100000" doc:"Maximum number of recordings"`
	Reverse     bool   `query:"reverse" doc:"Scan oldest first"`
	Monitors    string `query:"monitors" doc:"Comma-separated monitor ids"`
	IncludeData bool   `query:"include-data" doc:"Include the finalized side-car data"`
}

type recordingsResponse struct {
	Body struct {
		Recordings []recdb.Response `json:"recordings"`
	}
}

func createRecordingsHdlr(s *Server) func(context.Context, *recordingsInput) (*recordingsResponse, error) {
	return func(_ context.Context, input *recordingsInput) (*recordingsResponse, error) {
		recordingID := recording.MaxID()
		if input.RecordingID != "" {
			var err error
			recordingID, err = recording.ParseID(input.RecordingID)
			if err != nil {
				return nil, huma.Error400BadRequest(err.Error())
			}
		} else if input.Reverse {
			recordingID = recording.ZeroID()
		}

		recordings, err := s.recDB.RecordingsByQuery(&recdb.Query{
			RecordingID: recordingID,
			Limit:       input.Limit,
			Reverse:     input.Reverse,
			Monitors:    splitCSV(input.Monitors),
			IncludeData: input.IncludeData,
		})
		if err != nil {
			return nil, huma.Error500InternalServerError(err.Error())
		}
		resp := &recordingsResponse{}
		resp.Body.Recordings = recordings
		return resp, nil
	}
}

func createRouteAPI(s *Server) func(r chi.Router) {
	return func(r chi.Router) {
		config := huma.DefaultConfig("SentryShot query API", "1.0.0")
		config.Servers = []*huma.Server{
			{URL: "/api"},
		}
		config.Info.Description = `Query interface over the event, log and recording databases.`

		api := humachi.New(r, config)

		huma.Register(api, huma.Operation{
			OperationID: "query-events",
			Method:      http.MethodGet,
			Path:        "/events",
			Summary:     "Query detection events",
			Tags:        []string{"events"},
			Errors:      []int{400},
		}, createEventsHdlr(s))

		huma.Register(api, huma.Operation{
			OperationID: "query-logs",
			Method:      http.MethodGet,
			Path:        "/logs",
			Summary:     "Query diagnostic logs",
			Description: "Entries are returned in reverse chronological order.",
			Tags:        []string{"logs"},
			Errors:      []int{400},
		}, createLogsHdlr(s))

		huma.Register(api, huma.Operation{
			OperationID: "query-recordings",
			Method:      http.MethodGet,
			Path:        "/recordings",
			Summary:     "Query recordings",
			Tags:        []string{"recordings"},
			Errors:      []int{400},
		}, createRecordingsHdlr(s))
	}
}
