package correlation

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/vigilo/vigilo/internal/database"
)

// Store is the persistence surface the correlator needs
type Store interface {
	AssignGroup(eventUUID, groupUUID string) error
	RelabelGroup(fromUUID, toUUID string) error
}

// bufferedEvent is the in-memory view of a recent event
type bufferedEvent struct {
	eventUUID  string
	sourceUUID string
	timestamp  time.Time
	categories []string
	groupID    string
	seenAt     time.Time
}

// Service links events from distinct sources that likely represent one
// real-world occurrence. It keeps a short time-bounded buffer of recent
// events and is called asynchronously after persistence; the main
// pipeline never waits on it.
//
// Grouping is pairwise-triggered union: any pairwise match joins (or
// merges) groups, without requiring transitive closure inside a single
// time window.
type Service struct {
	mu        sync.Mutex
	buffer    []bufferedEvent
	window    time.Duration
	retention time.Duration
	store     Store
	now       func() time.Time
}

// NewService creates a correlation service. window is the maximum
// timestamp distance for two events to correlate (default 10s);
// retention bounds the in-memory buffer (default 60s).
func NewService(store Store, window, retention time.Duration) *Service {
	if window <= 0 {
		window = 10 * time.Second
	}
	if retention <= 0 {
		retention = 60 * time.Second
	}
	return &Service{
		window:    window,
		retention: retention,
		store:     store,
		now:       time.Now,
	}
}

// Check scans the buffer for candidates matching the new event:
// different source, timestamps within the window, overlapping detected
// categories. On a match the shared group id is assigned (or groups
// are merged) and persisted. Returns the assigned group id, or ""
// when the event remains ungrouped. Linear in buffer size.
func (s *Service) Check(event *database.SemanticEvent) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.prune(now)

	categories := []string(event.Categories)
	if len(categories) == 0 && event.TriggerCategory != "" {
		categories = []string{event.TriggerCategory}
	}

	var matches []*bufferedEvent
	for i := range s.buffer {
		candidate := &s.buffer[i]
		if candidate.sourceUUID == event.SourceUUID {
			continue
		}
		if absDuration(event.Timestamp.Sub(candidate.timestamp)) > s.window {
			continue
		}
		if len(lo.Intersect(categories, candidate.categories)) == 0 {
			continue
		}
		matches = append(matches, candidate)
	}

	groupID := ""
	if len(matches) > 0 {
		groupID = s.assignGroups(event, matches)
	}

	s.buffer = append(s.buffer, bufferedEvent{
		eventUUID:  event.UUID,
		sourceUUID: event.SourceUUID,
		timestamp:  event.Timestamp,
		categories: categories,
		groupID:    groupID,
		seenAt:     now,
	})

	return groupID
}

// assignGroups picks the shared group for the event and its matches,
// merging any pre-existing groups into one
func (s *Service) assignGroups(event *database.SemanticEvent, matches []*bufferedEvent) string {
	// Adopt the oldest existing group among the matches, if any
	target := ""
	for _, m := range matches {
		if m.groupID != "" {
			target = m.groupID
			break
		}
	}
	if target == "" {
		target = uuid.New().String()
	}

	// Merge other groups into the target; the relabel moves their
	// persisted members too
	for _, m := range matches {
		if m.groupID != "" && m.groupID != target {
			from := m.groupID
			if err := s.store.RelabelGroup(from, target); err != nil {
				log.Printf("Correlation: failed to merge group %s into %s: %v", from, target, err)
				continue
			}
			for i := range s.buffer {
				if s.buffer[i].groupID == from {
					s.buffer[i].groupID = target
				}
			}
		}
	}

	for _, m := range matches {
		if m.groupID == "" {
			if err := s.store.AssignGroup(m.eventUUID, target); err != nil {
				log.Printf("Correlation: failed to assign group to %s: %v", m.eventUUID, err)
				continue
			}
			m.groupID = target
		}
	}

	if err := s.store.AssignGroup(event.UUID, target); err != nil {
		log.Printf("Correlation: failed to assign group to %s: %v", event.UUID, err)
		return ""
	}

	return target
}

// prune drops buffer entries past the retention horizon
func (s *Service) prune(now time.Time) {
	cutoff := now.Add(-s.retention)
	kept := s.buffer[:0]
	for _, e := range s.buffer {
		if e.seenAt.After(cutoff) {
			kept = append(kept, e)
		}
	}
	s.buffer = kept
}

// BufferLen returns the current buffer size
func (s *Service) BufferLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
