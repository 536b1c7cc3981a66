/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package game implements the single-player session engine: starting a
// session, picking regions to ask, checking guesses and scoring finished
// sessions. All session state lives in the store; the engine only keeps
// per-session locks.
package game

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/Seednode/neuroguessr/atlas"
	"github.com/Seednode/neuroguessr/storage"
)

// Atlases resolves atlas ids to loaded atlases.
type Atlases interface {
	Lookup(id string) (*atlas.Atlas, bool)
}

type Engine struct {
	atlases Atlases
	store   storage.Store
	secrets *Secrets
	now     func() time.Time
	pick    func(n int) int
	locks   *sessionLocks
}

type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithPicker replaces the uniform random index picker. pick(n) must return
// a value in [0, n).
func WithPicker(pick func(n int) int) Option {
	return func(e *Engine) {
		e.pick = pick
	}
}

func WithSecrets(s *Secrets) Option {
	return func(e *Engine) {
		e.secrets = s
	}
}

func New(atlases Atlases, store storage.Store, opts ...Option) (*Engine, error) {
	if atlases == nil || store == nil {
		return nil, errors.New("atlases and store are required")
	}

	e := &Engine{
		atlases: atlases,
		store:   store,
		now:     time.Now,
		pick:    rand.IntN,
		locks:   newSessionLocks(),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.secrets == nil {
		s, err := NewSecrets(nil)
		if err != nil {
			return nil, err
		}
		e.secrets = s
	}

	return e, nil
}

type Start struct {
	SessionID int64
	Secret    string
}

// StartSession creates a new session for userID. Each call creates a new
// session.
func (e *Engine) StartSession(ctx context.Context, userID, mode, atlasID string) (Start, error) {
	mode = strings.TrimSpace(mode)
	atlasID = strings.TrimSpace(atlasID)

	switch {
	case strings.TrimSpace(userID) == "":
		return Start{}, invalid("userId", "user is required")
	case mode == "" || atlasID == "":
		return Start{}, invalid("mode/atlas", "mode and atlas are required to start a session")
	case !Mode(mode).Valid():
		return Start{}, invalid("mode", "unknown mode %q", mode)
	}

	a, ok := e.atlases.Lookup(atlasID)
	if !ok || len(a.Regions) == 0 {
		return Start{}, invalid("atlas", "unknown atlas %q", atlasID)
	}

	now := e.now()

	secret, err := e.secrets.Issue(userID, Mode(mode), atlasID, now)
	if err != nil {
		return Start{}, err
	}

	gs, err := e.store.CreateSession(ctx, storage.GameSession{
		UserID:    userID,
		Mode:      mode,
		AtlasID:   atlasID,
		Secret:    secret,
		CreatedAt: now,
	})
	if err != nil {
		return Start{}, fmt.Errorf("start session: %w", err)
	}

	return Start{SessionID: gs.ID, Secret: gs.Secret}, nil
}

// session loads a session and its atlas, mapping a mismatch to
// ErrUnauthorized.
func (e *Engine) session(ctx context.Context, sessionID int64, secret string) (storage.GameSession, *atlas.Atlas, error) {
	if secret == "" {
		return storage.GameSession{}, nil, ErrUnauthorized
	}

	gs, err := e.store.Session(ctx, sessionID, secret)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.GameSession{}, nil, ErrUnauthorized
	}
	if err != nil {
		return storage.GameSession{}, nil, fmt.Errorf("load session: %w", err)
	}

	a, ok := e.atlases.Lookup(gs.AtlasID)
	if !ok || len(a.Regions) == 0 {
		return storage.GameSession{}, nil, invalid("atlas", "invalid atlas specified in the session")
	}

	if !Mode(gs.Mode).Valid() {
		return storage.GameSession{}, nil, invalid("mode", "invalid mode specified in the session")
	}

	return gs, a, nil
}

type Next struct {
	RegionID  int
	Name      string
	Exhausted bool

	// Pending is set when the session already had an unanswered region,
	// which is returned instead of picking a new one.
	Pending bool
}

// NextRegion picks the next region to ask. In time-attack regions already
// answered correctly are not asked again; when none are left the result is
// Exhausted and nothing is stored.
func (e *Engine) NextRegion(ctx context.Context, sessionID int64, secret string) (Next, error) {
	unlock := e.locks.lock(sessionID)
	defer unlock()

	gs, a, err := e.session(ctx, sessionID, secret)
	if err != nil {
		return Next{}, err
	}

	if active, err := e.store.ActiveEntry(ctx, gs.ID); err == nil {
		return e.pending(a, active), nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return Next{}, fmt.Errorf("load active region: %w", err)
	}

	candidates := a.Regions

	if Mode(gs.Mode) == TimeAttack {
		entries, err := e.store.Entries(ctx, gs.ID)
		if err != nil {
			return Next{}, fmt.Errorf("load progress: %w", err)
		}

		candidates = remaining(a.Regions, entries)
		if len(candidates) == 0 {
			return Next{RegionID: Exhausted, Exhausted: true}, nil
		}
	}

	regionID := candidates[e.pick(len(candidates))]

	entry, err := e.store.ActivateRegion(ctx, gs.ID, secret, regionID, e.now())
	if errors.Is(err, storage.ErrActiveRegionExists) {
		// Another process got there first.
		active, err := e.store.ActiveEntry(ctx, gs.ID)
		if err != nil {
			return Next{}, fmt.Errorf("load active region: %w", err)
		}
		return e.pending(a, active), nil
	}
	if err != nil {
		return Next{}, fmt.Errorf("activate region: %w", err)
	}

	return Next{
		RegionID: entry.RegionID,
		Name:     a.Labels[entry.RegionID],
	}, nil
}

func (e *Engine) pending(a *atlas.Atlas, active storage.ProgressEntry) Next {
	return Next{
		RegionID: active.RegionID,
		Name:     a.Labels[active.RegionID],
		Pending:  true,
	}
}

// remaining returns the regions not yet answered correctly.
func remaining(regions []int, entries []storage.ProgressEntry) []int {
	answered := make(map[int]struct{})
	for _, e := range entries {
		if e.IsCorrect {
			answered[e.RegionID] = struct{}{}
		}
	}

	out := make([]int, 0, len(regions))
	for _, id := range regions {
		if _, ok := answered[id]; !ok {
			out = append(out, id)
		}
	}

	return out
}

type Result struct {
	IsCorrect  bool
	RegionID   int
	VoxelValue int
	Endgame    bool
	Accuracy   float64
	FinalScore int
	QuitReason string
}

// ValidateGuess checks the voxel at coords against the pending region of
// the session. Either the whole transition is stored (entry closed and, at
// the end of the game, the finished session) or nothing is.
func (e *Engine) ValidateGuess(ctx context.Context, sessionID int64, secret string, coords []int) (Result, error) {
	unlock := e.locks.lock(sessionID)
	defer unlock()

	gs, a, err := e.session(ctx, sessionID, secret)
	if err != nil {
		return Result{}, err
	}

	active, err := e.store.ActiveEntry(ctx, gs.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return Result{}, ErrNoActiveRegion
	}
	if err != nil {
		return Result{}, fmt.Errorf("load active region: %w", err)
	}

	if len(coords) != 3 {
		return Result{}, invalid("coordinates", "expected [x, y, z], got %d values", len(coords))
	}

	x, y, z := coords[0], coords[1], coords[2]
	if !atlas.InBounds(a.Volume, x, y, z) {
		return Result{}, invalid("coordinates", "coordinates are out of bounds")
	}

	voxel := a.Volume.Label(x, y, z)
	isCorrect := voxel == active.RegionID

	now := e.now()

	timeTaken := int(now.Sub(active.CreatedAt) / time.Second)
	if timeTaken < 0 {
		timeTaken = 0
	}

	res := Result{
		IsCorrect:  isCorrect,
		RegionID:   active.RegionID,
		VoxelValue: voxel,
	}

	finished, err := e.store.Resolve(ctx, storage.Resolution{
		SessionID: gs.ID,
		EntryID:   active.ID,
		IsCorrect: isCorrect,
		TimeTaken: timeTaken,
		At:        now,
	}, func(entries []storage.ProgressEntry) (*storage.FinishedSession, error) {
		over, reason := endOfGame(Mode(gs.Mode), entries, isCorrect)
		if !over {
			return nil, nil
		}
		return summarize(gs, entries, reason, now), nil
	})
	if errors.Is(err, storage.ErrNoActiveRegion) {
		return Result{}, ErrNoActiveRegion
	}
	if err != nil {
		return Result{}, fmt.Errorf("resolve guess: %w", err)
	}

	if finished != nil {
		res.Endgame = true
		res.Accuracy = finished.Accuracy
		res.FinalScore = finished.Score
		res.QuitReason = finished.QuitReason
	}

	return res, nil
}

// BestScores returns the best finished session of userID for every (mode,
// atlas) pair played.
func (e *Engine) BestScores(ctx context.Context, userID string) ([]storage.FinishedSession, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, invalid("userId", "user is required")
	}

	rows, err := e.store.BestScores(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("best scores: %w", err)
	}

	return rows, nil
}
