/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package storage persists game sessions, their progress entries and the
// summaries of finished sessions.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrActiveRegionExists = errors.New("session already has an active region")
	ErrNoActiveRegion     = errors.New("no active region")
)

type GameSession struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"userId"`
	Mode      string    `json:"mode"`
	AtlasID   string    `json:"atlas"`
	Secret    string    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
}

// ProgressEntry is one round of a session. At most one entry per session is
// active at a time.
type ProgressEntry struct {
	ID        int64     `json:"id"`
	SessionID int64     `json:"sessionId"`
	Secret    string    `json:"-"`
	RegionID  int       `json:"regionId"`
	TimeTaken int       `json:"timeTaken"`
	IsActive  bool      `json:"isActive"`
	IsCorrect bool      `json:"isCorrect"`
	CreatedAt time.Time `json:"createdAt"`
}

type FinishedSession struct {
	ID             int64     `json:"id"`
	UserID         string    `json:"userId"`
	Mode           string    `json:"mode"`
	AtlasID        string    `json:"atlas"`
	Score          int       `json:"score"`
	Accuracy       float64   `json:"accuracy"`
	Duration       int       `json:"duration"`
	Attempts       int       `json:"attempts"`
	Correct        int       `json:"correct"`
	Incorrect      int       `json:"incorrect"`
	MinTime        float64   `json:"minTimePerRegion"`
	MaxTime        float64   `json:"maxTimePerRegion"`
	AvgTime        float64   `json:"avgTimePerRegion"`
	MinCorrectTime float64   `json:"minTimePerCorrectRegion"`
	MaxCorrectTime float64   `json:"maxTimePerCorrectRegion"`
	AvgCorrectTime float64   `json:"avgTimePerCorrectRegion"`
	QuitReason     string    `json:"quitReason"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Resolution closes the active entry of a session.
type Resolution struct {
	SessionID int64
	EntryID   int64
	IsCorrect bool
	TimeTaken int
	At        time.Time
}

// FinishFunc decides, from the full history of a session after an entry was
// closed, whether the session is over. A non-nil FinishedSession is stored
// in the same transaction as the closed entry.
type FinishFunc func(entries []ProgressEntry) (*FinishedSession, error)

// ScoreFilter narrows TopScores.
type ScoreFilter struct {
	Mode  string
	Since time.Time
	Limit int
}

// ScoreRow is the best score of one user on one (mode, atlas) pair.
type ScoreRow struct {
	UserID  string `json:"userId"`
	Mode    string `json:"mode"`
	AtlasID string `json:"atlas"`
	Score   int    `json:"score"`
}

type Store interface {
	CreateSession(ctx context.Context, s GameSession) (GameSession, error)

	// Session returns the session matching both id and secret.
	Session(ctx context.Context, id int64, secret string) (GameSession, error)

	// ActivateRegion inserts a pending entry unless the session already has
	// one, in which case it returns ErrActiveRegionExists.
	ActivateRegion(ctx context.Context, sessionID int64, secret string, regionID int, at time.Time) (ProgressEntry, error)

	ActiveEntry(ctx context.Context, sessionID int64) (ProgressEntry, error)

	Entries(ctx context.Context, sessionID int64) ([]ProgressEntry, error)

	// Resolve closes an active entry and runs finish over the updated
	// history. Nothing is written if any step fails.
	Resolve(ctx context.Context, r Resolution, finish FinishFunc) (*FinishedSession, error)

	FinishedByUser(ctx context.Context, userID string) ([]FinishedSession, error)

	// BestScores returns one highest-score row per (mode, atlas).
	BestScores(ctx context.Context, userID string) ([]FinishedSession, error)

	TopScores(ctx context.Context, f ScoreFilter) ([]ScoreRow, error)

	Close() error
}
