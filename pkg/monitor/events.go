// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package monitor

import (
	"sync"

	"github.com/SentryShot/sentryshot/pkg/eventdb"
	"github.com/SentryShot/sentryshot/pkg/video"
)

// eventCache collects the events of the active recording session.
type eventCache struct {
	mu     sync.Mutex
	events []eventdb.Event
}

func (c *eventCache) push(event eventdb.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

// queryAndPrune returns events within [start, end) and discards
// everything up to end.
func (c *eventCache) queryAndPrune(start, end video.UnixNano) []eventdb.Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	returned := []eventdb.Event{}
	var kept []eventdb.Event
	for _, event := range c.events {
		if event.Time < start {
			continue
		}
		if event.Time >= end {
			kept = append(kept, event)
			continue
		}
		returned = append(returned, event)
	}
	c.events = kept
	return returned
}
