package subscribe

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"weatherbot/pkg/logx"
)

// Store owns the durable subscription ledger: a single JSON file mapping
// group key to an ordered sequence of subscriptions (insertion order is
// display order). Every mutation persists the full ledger synchronously
// before returning.
//
// Expired one-shot entries are hidden from the upcoming view but never
// auto-deleted from disk; only explicit removal prunes them. Ledger growth is
// therefore bounded only by user behavior.
type Store struct {
	mu   sync.RWMutex
	path string
	loc  *time.Location
	log  logx.Logger

	groups map[string][]Subscription
}

// OpenStore loads the ledger file, creating an empty one if absent.
// A present-but-unreadable ledger is a fatal configuration error
// (ErrStorageCorrupt), never silently reset.
func OpenStore(path string, loc *time.Location, log logx.Logger) (*Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if loc == nil {
		loc = time.Local
	}
	s := &Store{
		path:   path,
		loc:    loc,
		log:    log,
		groups: map[string][]Subscription{},
	}

	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		if err := s.persistLocked(); err != nil {
			return nil, err
		}
		log.Info("ledger created", logx.String("path", path))
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrStorageCorrupt, err)
	default:
		if len(b) > 0 {
			if err := json.Unmarshal(b, &s.groups); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrStorageCorrupt, path, err)
			}
		}
		if s.groups == nil {
			s.groups = map[string][]Subscription{}
		}
		n := 0
		for _, subs := range s.groups {
			n += len(subs)
		}
		log.Info("ledger loaded", logx.String("path", path), logx.Int("groups", len(s.groups)), logx.Int("subscriptions", n))
	}
	return s, nil
}

// Add appends sub to the group's sequence, assigning a random unique id if
// absent, and persists. Duplicate payloads are permitted.
func (s *Store) Add(groupKey string, sub Subscription) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	s.groups[groupKey] = append(s.groups[groupKey], sub)
	if err := s.persistLocked(); err != nil {
		// Roll back the in-memory append so memory and disk stay reconciled.
		subs := s.groups[groupKey]
		s.groups[groupKey] = subs[:len(subs)-1]
		return Subscription{}, err
	}
	return sub, nil
}

// ListUpcoming returns the group's subscriptions that are recurring or whose
// fire time is still >= now in the store's time zone. The result is a copy.
func (s *Store) ListUpcoming(groupKey string) []Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.upcomingLocked(groupKey, time.Now().In(s.loc))
}

func (s *Store) upcomingLocked(groupKey string, now time.Time) []Subscription {
	var out []Subscription
	for _, sub := range s.groups[groupKey] {
		if sub.Recurring() {
			out = append(out, sub)
			continue
		}
		at, err := sub.FireTime(s.loc)
		if err != nil {
			s.log.Warn("unparseable fire time in ledger", logx.String("id", sub.ID), logx.String("datetime", sub.FireAt))
			continue
		}
		// >= : a subscription firing exactly now is still upcoming.
		if !at.Before(now) {
			out = append(out, sub)
		}
	}
	return out
}

// Remove deletes the subscription at 1-based position pos of the freshly
// computed upcoming view (expired one-shots are not addressable) and
// persists. The position is resolved under the write lock, so a concurrent
// mutation can never be applied against a stale view.
func (s *Store) Remove(groupKey string, pos int) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	upcoming := s.upcomingLocked(groupKey, time.Now().In(s.loc))
	if len(upcoming) == 0 {
		return Subscription{}, ErrEmptyStore
	}
	if pos < 1 || pos > len(upcoming) {
		return Subscription{}, fmt.Errorf("%w: %d (have 1..%d)", ErrIndexOutOfRange, pos, len(upcoming))
	}
	victim := upcoming[pos-1]

	subs := s.groups[groupKey]
	idx := -1
	for i := range subs {
		if subs[i].ID == victim.ID {
			idx = i
			break
		}
	}
	if idx < 0 {
		// Upcoming is derived from the same locked state; this cannot happen.
		return Subscription{}, ErrIndexOutOfRange
	}
	s.groups[groupKey] = append(subs[:idx:idx], subs[idx+1:]...)
	if len(s.groups[groupKey]) == 0 {
		delete(s.groups, groupKey)
	}
	if err := s.persistLocked(); err != nil {
		s.groups[groupKey] = subs
		return Subscription{}, err
	}
	return victim, nil
}

// Discard removes the subscription with id from the group and persists. It
// backs out an Add whose live trigger could not be armed; an unknown id is a
// no-op.
func (s *Store) Discard(groupKey, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.groups[groupKey]
	idx := -1
	for i := range subs {
		if subs[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	s.groups[groupKey] = append(subs[:idx:idx], subs[idx+1:]...)
	if len(s.groups[groupKey]) == 0 {
		delete(s.groups, groupKey)
	}
	if err := s.persistLocked(); err != nil {
		s.groups[groupKey] = subs
		return err
	}
	return nil
}

// Get looks up a subscription by id across all groups. Used by the scheduler
// at fire time so edits between arm and fire are observed.
func (s *Store) Get(id string) (groupKey string, sub Subscription, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for g, subs := range s.groups {
		for _, sb := range subs {
			if sb.ID == id {
				return g, sb, true
			}
		}
	}
	return "", Subscription{}, false
}

// All returns a deep copy of the full ledger (including expired one-shots),
// for startup recovery.
func (s *Store) All() map[string][]Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]Subscription, len(s.groups))
	for g, subs := range s.groups {
		out[g] = append([]Subscription(nil), subs...)
	}
	return out
}

// Location returns the store's configured time zone.
func (s *Store) Location() *time.Location { return s.loc }

// persistLocked rewrites the whole ledger atomically (tmp + rename). Not
// transactional across a crash mid-write, but a rename never leaves a
// half-written file behind.
func (s *Store) persistLocked() error {
	b, err := json.MarshalIndent(s.groups, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
