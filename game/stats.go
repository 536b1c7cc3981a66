/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Seednode/neuroguessr/storage"
)

type ProgressPoint struct {
	Date             time.Time `json:"date"`
	Score            int       `json:"score"`
	MaxScore         int       `json:"maxScore"`
	AvgTimePerRegion float64   `json:"avgTimePerRegion"`
	ErrorRate        *float64  `json:"errorRate,omitempty"`
	BestStreak       *int      `json:"bestStreak,omitempty"`
}

type ModeStats struct {
	Games       int             `json:"games"`
	AvgScore    float64         `json:"avgScore"`
	BestScore   int             `json:"bestScore"`
	AvgDuration float64         `json:"avgDuration"`
	Progression []ProgressPoint `json:"progression"`
}

// UserStats aggregates every finished session of a user.
type UserStats struct {
	TotalGames              int                       `json:"totalGames"`
	AvgScore                float64                   `json:"avgScore"`
	BestScore               int                       `json:"bestScore"`
	AvgDuration             float64                   `json:"avgDuration"`
	PerMode                 map[string]*ModeStats     `json:"perMode"`
	FirstGame               time.Time                 `json:"firstGame"`
	LastGame                time.Time                 `json:"lastGame"`
	TotalCorrect            int                       `json:"totalCorrect"`
	TotalIncorrect          int                       `json:"totalIncorrect"`
	QuitReasons             map[string]int            `json:"quitReasons"`
	AvgTimePerRegion        float64                   `json:"avgTimePerRegion"`
	MinTimePerRegion        float64                   `json:"minTimePerRegion"`
	MaxTimePerRegion        float64                   `json:"maxTimePerRegion"`
	AvgTimePerCorrectRegion float64                   `json:"avgTimePerCorrectRegion"`
	MinTimePerCorrectRegion float64                   `json:"minTimePerCorrectRegion"`
	MaxTimePerCorrectRegion float64                   `json:"maxTimePerCorrectRegion"`
	MostPlayedMode          string                    `json:"mostPlayedMode,omitempty"`
	MostPlayedAtlas         string                    `json:"mostPlayedAtlas,omitempty"`
	Sessions                []storage.FinishedSession `json:"sessions"`
}

func (e *Engine) Stats(ctx context.Context, userID string) (UserStats, error) {
	if strings.TrimSpace(userID) == "" {
		return UserStats{}, invalid("userId", "user is required")
	}

	sessions, err := e.store.FinishedByUser(ctx, userID)
	if err != nil {
		return UserStats{}, fmt.Errorf("load finished sessions: %w", err)
	}

	return computeStats(sessions), nil
}

func computeStats(sessions []storage.FinishedSession) UserStats {
	st := UserStats{
		PerMode:     make(map[string]*ModeStats),
		QuitReasons: make(map[string]int),
		Sessions:    sessions,
	}

	if st.Sessions == nil {
		st.Sessions = []storage.FinishedSession{}
	}

	if len(sessions) == 0 {
		return st
	}

	st.TotalGames = len(sessions)
	st.FirstGame = sessions[0].CreatedAt
	st.LastGame = sessions[0].CreatedAt

	modeCount := make(map[string]int)
	atlasCount := make(map[string]int)
	modeScore := make(map[string]int)
	modeDuration := make(map[string]int)
	running := make(map[string]int)

	var scoreSum, durationSum int
	var avgTimeSum, avgCorrectSum float64
	first := true

	for _, s := range sessions {
		scoreSum += s.Score
		durationSum += s.Duration
		st.TotalCorrect += s.Correct
		st.TotalIncorrect += s.Incorrect

		if s.Score > st.BestScore {
			st.BestScore = s.Score
		}
		if s.CreatedAt.Before(st.FirstGame) {
			st.FirstGame = s.CreatedAt
		}
		if s.CreatedAt.After(st.LastGame) {
			st.LastGame = s.CreatedAt
		}

		reason := s.QuitReason
		if reason == "" {
			reason = "unknown"
		}
		st.QuitReasons[reason]++

		avgTimeSum += s.AvgTime
		avgCorrectSum += s.AvgCorrectTime
		if first {
			st.MinTimePerRegion, st.MaxTimePerRegion = s.MinTime, s.MaxTime
			st.MinTimePerCorrectRegion, st.MaxTimePerCorrectRegion = s.MinCorrectTime, s.MaxCorrectTime
			first = false
		} else {
			st.MinTimePerRegion = min(st.MinTimePerRegion, s.MinTime)
			st.MaxTimePerRegion = max(st.MaxTimePerRegion, s.MaxTime)
			st.MinTimePerCorrectRegion = min(st.MinTimePerCorrectRegion, s.MinCorrectTime)
			st.MaxTimePerCorrectRegion = max(st.MaxTimePerCorrectRegion, s.MaxCorrectTime)
		}

		modeCount[s.Mode]++
		atlasCount[s.AtlasID]++
		modeScore[s.Mode] += s.Score
		modeDuration[s.Mode] += s.Duration

		ms, ok := st.PerMode[s.Mode]
		if !ok {
			ms = &ModeStats{Progression: []ProgressPoint{}}
			st.PerMode[s.Mode] = ms
		}
		ms.Games++
		if s.Score > ms.BestScore {
			ms.BestScore = s.Score
		}

		running[s.Mode] = max(running[s.Mode], s.Score)
		point := ProgressPoint{
			Date:             s.CreatedAt,
			Score:            s.Score,
			MaxScore:         running[s.Mode],
			AvgTimePerRegion: s.AvgTime,
		}
		switch Mode(s.Mode) {
		case TimeAttack:
			if total := s.Correct + s.Incorrect; total > 0 {
				rate := float64(s.Incorrect) / float64(total)
				point.ErrorRate = &rate
			}
		case Streak:
			streak := s.Correct
			point.BestStreak = &streak
		}
		ms.Progression = append(ms.Progression, point)
	}

	n := float64(len(sessions))
	st.AvgScore = float64(scoreSum) / n
	st.AvgDuration = float64(durationSum) / n
	st.AvgTimePerRegion = avgTimeSum / n
	st.AvgTimePerCorrectRegion = avgCorrectSum / n

	for mode, ms := range st.PerMode {
		ms.AvgScore = float64(modeScore[mode]) / float64(ms.Games)
		ms.AvgDuration = float64(modeDuration[mode]) / float64(ms.Games)
	}

	st.MostPlayedMode = mostPlayed(modeCount)
	st.MostPlayedAtlas = mostPlayed(atlasCount)

	return st
}

// mostPlayed returns the key with the highest count, ties broken by name.
func mostPlayed(counts map[string]int) string {
	best, bestCount := "", 0
	for k, c := range counts {
		if c > bestCount || (c == bestCount && k < best) {
			best, bestCount = k, c
		}
	}

	return best
}

// LeaderboardQuery filters the public leaderboard.
type LeaderboardQuery struct {
	Mode string

	// Atlas restricts per-atlas rows; "total" keeps only the summed rows.
	Atlas       string
	AppendTotal bool
	Limit       int

	// Days keeps sessions finished in the last Days days; 0 keeps all.
	Days int
}

type LeaderboardEntry struct {
	UserID    string `json:"userId"`
	Mode      string `json:"mode"`
	AtlasID   string `json:"atlas"`
	BestScore int    `json:"best_score"`
}

const (
	DefaultLeaderboardLimit = 10
	DefaultLeaderboardDays  = 7
	totalAtlas              = "total"
)

func (e *Engine) Leaderboard(ctx context.Context, q LeaderboardQuery) ([]LeaderboardEntry, error) {
	if q.Mode != "" && !Mode(q.Mode).Valid() {
		return nil, invalid("mode", "unknown mode %q", q.Mode)
	}
	if q.Limit <= 0 {
		q.Limit = DefaultLeaderboardLimit
	}

	filter := storage.ScoreFilter{
		Mode:  q.Mode,
		Limit: q.Limit,
	}
	if q.Days > 0 {
		filter.Since = e.now().Add(-time.Duration(q.Days) * 24 * time.Hour)
	}

	rows, err := e.store.TopScores(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}

	return shapeLeaderboard(rows, q.Atlas, q.AppendTotal), nil
}

func shapeLeaderboard(rows []storage.ScoreRow, atlasID string, appendTotal bool) []LeaderboardEntry {
	var totals []LeaderboardEntry
	if appendTotal || atlasID == totalAtlas {
		totals = summedLeaderboard(rows)
	}

	out := []LeaderboardEntry{}
	if atlasID != totalAtlas {
		for _, r := range rows {
			if atlasID != "" && r.AtlasID != atlasID {
				continue
			}
			out = append(out, LeaderboardEntry{
				UserID:    r.UserID,
				Mode:      r.Mode,
				AtlasID:   r.AtlasID,
				BestScore: r.Score,
			})
		}
	}

	return append(out, totals...)
}

// summedLeaderboard adds up every atlas best of a user per mode.
func summedLeaderboard(rows []storage.ScoreRow) []LeaderboardEntry {
	type key struct{ user, mode string }

	sums := make(map[key]int)
	var order []key
	for _, r := range rows {
		k := key{r.UserID, r.Mode}
		if _, ok := sums[k]; !ok {
			order = append(order, k)
		}
		sums[k] += r.Score
	}

	out := make([]LeaderboardEntry, 0, len(order))
	for _, k := range order {
		out = append(out, LeaderboardEntry{
			UserID:    k.user,
			Mode:      k.mode,
			AtlasID:   totalAtlas,
			BestScore: sums[k],
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].BestScore > out[j].BestScore
	})

	return out
}
