// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package recdb

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/SentryShot/sentryshot/pkg/recording"
)

// Query selects recordings for the crawler to find.
type Query struct {
	// RecordingID is the inclusive starting point.
	RecordingID recording.ID

	// End is an optional inclusive upper bound, only used with Reverse.
	End recording.ID

	// Limit caps the result count.
	Limit int

	// Reverse scans oldest first (ascending) when true, newest first
	// (descending) when false.
	Reverse bool

	// Monitors filters by monitor id. Empty matches all.
	Monitors []string

	// IncludeData reads the finalized side-car into each response.
	IncludeData bool
}

// State of a recording.
type State string

// Recording states.
const (
	// StateActive means the recording is in progress.
	StateActive State = "active"

	// StateFinalized means the recording finished successfully.
	StateFinalized State = "finalized"

	// StateIncomplete means something happened before the side-car was
	// written.
	StateIncomplete State = "incomplete"
)

// Response is one found recording.
type Response struct {
	ID    recording.ID    `json:"id"`
	State State           `json:"state"`
	Data  *recording.Data `json:"data,omitempty"`
}

// crawl walks the recording tree lazily level-by-level: year, month,
// day, monitor, files. Names are compared lexicographically, which
// matches time order for both path components and recording ids.
func crawl(root string, q *Query, active map[recording.ID]struct{}) ([]Response, error) {
	ids := make([]recording.ID, 0, q.Limit)

	// Walk date directories in scan order, collecting day by day.
	days, err := listDays(root, q)
	if err != nil {
		return nil, err
	}
outer:
	for _, day := range days {
		dayIDs := listDayRecordings(root, day, q)
		for _, id := range dayIDs {
			if !idInRange(id, q) {
				continue
			}
			ids = append(ids, id)
			if len(ids) >= q.Limit && len(active) == 0 {
				break outer
			}
		}
	}

	ids = mergeActive(ids, active, q)

	responses := make([]Response, 0, len(ids))
	for _, id := range ids {
		if len(responses) >= q.Limit {
			break
		}
		responses = append(responses, makeResponse(root, id, active, q.IncludeData))
	}
	return responses, nil
}

// listDays returns "YYYY/MM/DD" paths in scan order, pruned to the
// query bound at each level.
func listDays(root string, q *Query) ([]string, error) {
	bound := string(q.RecordingID)
	if len(bound) < 10 {
		if q.Reverse {
			bound = string(recording.ZeroID())
		} else {
			bound = string(recording.MaxID())
		}
	}
	var days []string

	years, err := listDirs(root, q.Reverse)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	for _, year := range years {
		if pruneLevel(year, bound[:4], q.Reverse) {
			continue
		}
		months, err := listDirs(filepath.Join(root, year), q.Reverse)
		if err != nil {
			continue
		}
		for _, month := range months {
			if year == bound[:4] && pruneLevel(month, bound[5:7], q.Reverse) {
				continue
			}
			dayDirs, err := listDirs(filepath.Join(root, year, month), q.Reverse)
			if err != nil {
				continue
			}
			for _, day := range dayDirs {
				if year == bound[:4] && month == bound[5:7] &&
					pruneLevel(day, bound[8:10], q.Reverse) {
					continue
				}
				days = append(days, filepath.Join(year, month, day))
			}
		}
	}
	return days, nil
}

// pruneLevel reports whether a path component lies entirely outside the
// scan range.
func pruneLevel(name, bound string, ascending bool) bool {
	if ascending {
		return name < bound
	}
	return name > bound
}

// listDayRecordings returns the unique recording ids of one day across
// the allowed monitors, in scan order.
func listDayRecordings(root, day string, q *Query) []recording.ID {
	monitors, err := listDirs(filepath.Join(root, day), q.Reverse)
	if err != nil {
		return nil
	}

	seen := make(map[recording.ID]struct{})
	var ids []recording.ID
	for _, monitor := range monitors {
		if !monitorAllowed(monitor, q.Monitors) {
			continue
		}
		files, err := os.ReadDir(filepath.Join(root, day, monitor))
		if err != nil {
			continue
		}
		for _, file := range files {
			name := file.Name()
			ext := filepath.Ext(name)
			if ext == "" {
				continue
			}
			id, err := recording.ParseID(strings.TrimSuffix(name, ext))
			if err != nil {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}

	sort.Slice(ids, func(i, j int) bool {
		if q.Reverse {
			return ids[i] < ids[j]
		}
		return ids[i] > ids[j]
	})
	return ids
}

func idInRange(id recording.ID, q *Query) bool {
	if q.Reverse {
		if id < q.RecordingID {
			return false
		}
		if q.End != "" && id > q.End {
			return false
		}
		return true
	}
	return id <= q.RecordingID
}

// mergeActive splices active recordings into the sorted result stream.
func mergeActive(ids []recording.ID, active map[recording.ID]struct{}, q *Query) []recording.ID {
	if len(active) == 0 {
		return ids
	}
	present := make(map[recording.ID]struct{}, len(ids))
	for _, id := range ids {
		present[id] = struct{}{}
	}
	for id := range active {
		if _, dup := present[id]; dup {
			continue
		}
		if !monitorAllowed(id.MonitorID(), q.Monitors) || !idInRange(id, q) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if q.Reverse {
			return ids[i] < ids[j]
		}
		return ids[i] > ids[j]
	})
	return ids
}

func makeResponse(
	root string,
	id recording.ID,
	active map[recording.ID]struct{},
	includeData bool,
) Response {
	if _, isActive := active[id]; isActive {
		return Response{ID: id, State: StateActive}
	}

	jsonPath := filepath.Join(root, id.FullPath()+".json")
	raw, err := os.ReadFile(jsonPath)
	if err != nil {
		return Response{ID: id, State: StateIncomplete}
	}
	res := Response{ID: id, State: StateFinalized}
	if includeData {
		var data recording.Data
		if err := json.Unmarshal(raw, &data); err == nil {
			res.Data = &data
		}
	}
	return res
}

func monitorAllowed(monitor string, monitors []string) bool {
	if len(monitors) == 0 {
		return true
	}
	for _, m := range monitors {
		if m == monitor {
			return true
		}
	}
	return false
}

func listDirs(path string, ascending bool) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Slice(names, func(i, j int) bool {
		if ascending {
			return names[i] < names[j]
		}
		return names[i] > names[j]
	})
	return names, nil
}
