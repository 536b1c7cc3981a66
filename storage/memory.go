/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps everything in process memory. It has the same semantics
// as SQLStore and is used for tests and throwaway servers.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[int64]GameSession
	progress []ProgressEntry
	finished []FinishedSession

	nextSession  int64
	nextProgress int64
	nextFinished int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[int64]GameSession),
	}
}

func (m *MemoryStore) CreateSession(_ context.Context, gs GameSession) (GameSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gs.CreatedAt.IsZero() {
		gs.CreatedAt = time.Now()
	}
	gs.CreatedAt = fromMillis(toMillis(gs.CreatedAt))

	m.nextSession++
	gs.ID = m.nextSession
	m.sessions[gs.ID] = gs

	return gs, nil
}

func (m *MemoryStore) Session(_ context.Context, id int64, secret string) (GameSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	gs, ok := m.sessions[id]
	if !ok || !secretsMatch(gs.Secret, secret) {
		return GameSession{}, ErrNotFound
	}

	return gs, nil
}

func (m *MemoryStore) activeIndexLocked(sessionID int64) int {
	for i, e := range m.progress {
		if e.SessionID == sessionID && e.IsActive {
			return i
		}
	}

	return -1
}

func (m *MemoryStore) ActivateRegion(_ context.Context, sessionID int64, secret string, regionID int, at time.Time) (ProgressEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeIndexLocked(sessionID) >= 0 {
		return ProgressEntry{}, ErrActiveRegionExists
	}

	m.nextProgress++
	e := ProgressEntry{
		ID:        m.nextProgress,
		SessionID: sessionID,
		Secret:    secret,
		RegionID:  regionID,
		IsActive:  true,
		CreatedAt: fromMillis(toMillis(at)),
	}
	m.progress = append(m.progress, e)

	return e, nil
}

func (m *MemoryStore) ActiveEntry(_ context.Context, sessionID int64) (ProgressEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.activeIndexLocked(sessionID)
	if i < 0 {
		return ProgressEntry{}, ErrNotFound
	}

	return m.progress[i], nil
}

func (m *MemoryStore) entriesLocked(sessionID int64) []ProgressEntry {
	var out []ProgressEntry
	for _, e := range m.progress {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}

	return out
}

func (m *MemoryStore) Entries(_ context.Context, sessionID int64) ([]ProgressEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.entriesLocked(sessionID), nil
}

func (m *MemoryStore) Resolve(_ context.Context, r Resolution, finish FinishFunc) (*FinishedSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.activeIndexLocked(r.SessionID)
	if i < 0 || m.progress[i].ID != r.EntryID {
		return nil, ErrNoActiveRegion
	}

	// Work on a copy so a failing finish leaves the entry untouched.
	closed := m.progress[i]
	closed.IsActive = false
	closed.IsCorrect = r.IsCorrect
	closed.TimeTaken = r.TimeTaken

	entries := m.entriesLocked(r.SessionID)
	for j := range entries {
		if entries[j].ID == closed.ID {
			entries[j] = closed
		}
	}

	var fs *FinishedSession
	if finish != nil {
		var err error
		fs, err = finish(entries)
		if err != nil {
			return nil, err
		}
	}

	m.progress[i] = closed

	if fs != nil {
		if fs.CreatedAt.IsZero() {
			fs.CreatedAt = r.At
		}
		fs.CreatedAt = fromMillis(toMillis(fs.CreatedAt))
		m.nextFinished++
		fs.ID = m.nextFinished
		m.finished = append(m.finished, *fs)
	}

	return fs, nil
}

func (m *MemoryStore) FinishedByUser(_ context.Context, userID string) ([]FinishedSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []FinishedSession
	for _, fs := range m.finished {
		if fs.UserID == userID {
			out = append(out, fs)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	return out, nil
}

func (m *MemoryStore) BestScores(_ context.Context, userID string) ([]FinishedSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	type pair struct{ mode, atlas string }

	best := make(map[pair]FinishedSession)
	for _, fs := range m.finished {
		if fs.UserID != userID {
			continue
		}
		k := pair{fs.Mode, fs.AtlasID}
		if cur, ok := best[k]; !ok || fs.Score > cur.Score {
			best[k] = fs
		}
	}

	out := make([]FinishedSession, 0, len(best))
	for _, fs := range best {
		out = append(out, fs)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Mode != out[j].Mode {
			return out[i].Mode < out[j].Mode
		}
		return out[i].AtlasID < out[j].AtlasID
	})

	return out, nil
}

func (m *MemoryStore) TopScores(_ context.Context, f ScoreFilter) ([]ScoreRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	type key struct{ user, mode, atlas string }

	best := make(map[key]int)
	for _, fs := range m.finished {
		if !f.Since.IsZero() && fs.CreatedAt.Before(f.Since) {
			continue
		}
		if f.Mode != "" && fs.Mode != f.Mode {
			continue
		}
		k := key{fs.UserID, fs.Mode, fs.AtlasID}
		if cur, ok := best[k]; !ok || fs.Score > cur {
			best[k] = fs.Score
		}
	}

	out := make([]ScoreRow, 0, len(best))
	for k, score := range best {
		out = append(out, ScoreRow{UserID: k.user, Mode: k.mode, AtlasID: k.atlas, Score: score})
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.UserID != b.UserID {
			return a.UserID < b.UserID
		}
		if a.Mode != b.Mode {
			return a.Mode < b.Mode
		}
		return a.AtlasID < b.AtlasID
	})

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}

	return out, nil
}

func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
