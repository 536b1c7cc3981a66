/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/Seednode/neuroguessr/storage"
)

func TestEndOfGame(t *testing.T) {
	correct := storage.ProgressEntry{RegionID: 1, IsCorrect: true}
	wrong := storage.ProgressEntry{RegionID: 2}

	rounds := func(n int, e storage.ProgressEntry) []storage.ProgressEntry {
		out := make([]storage.ProgressEntry, n)
		for i := range out {
			out[i] = e
		}
		return out
	}

	tests := []struct {
		name        string
		mode        Mode
		entries     []storage.ProgressEntry
		lastCorrect bool
		over        bool
		reason      string
	}{
		{"streak continues", Streak, rounds(5, correct), true, false, ""},
		{"streak miss", Streak, []storage.ProgressEntry{correct, wrong}, false, true, QuitStreakEnded},
		{"time-attack miss continues", TimeAttack, []storage.ProgressEntry{wrong}, false, false, ""},
		{"time-attack 17 rounds", TimeAttack, rounds(17, wrong), false, false, ""},
		{"time-attack 17 correct rounds", TimeAttack, rounds(17, correct), true, false, ""},
		{"time-attack 18 rounds", TimeAttack, rounds(18, wrong), false, true, QuitAllAnswered},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			over, reason := endOfGame(tt.mode, tt.entries, tt.lastCorrect)
			if over != tt.over || reason != tt.reason {
				t.Fatalf("endOfGame = %v %q, want %v %q", over, reason, tt.over, tt.reason)
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	entries := []storage.ProgressEntry{
		{RegionID: 1, IsCorrect: true, TimeTaken: 2},
		{RegionID: 2, IsCorrect: false, TimeTaken: 9},
		{RegionID: 3, IsCorrect: true, TimeTaken: 4},
		{RegionID: 4, IsCorrect: false, TimeTaken: 1},
	}

	gs := storage.GameSession{UserID: "u", Mode: string(TimeAttack), AtlasID: "aal"}
	fs := summarize(gs, entries, QuitAllAnswered, at)

	want := &storage.FinishedSession{
		UserID:         "u",
		Mode:           "time-attack",
		AtlasID:        "aal",
		Score:          2,
		Accuracy:       0.5,
		Duration:       6,
		Attempts:       4,
		Correct:        2,
		Incorrect:      2,
		MinTime:        1,
		MaxTime:        9,
		AvgTime:        4,
		MinCorrectTime: 2,
		MaxCorrectTime: 4,
		AvgCorrectTime: 3,
		QuitReason:     QuitAllAnswered,
		CreatedAt:      at,
	}
	if !reflect.DeepEqual(fs, want) {
		t.Fatalf("summarize =\n%+v\nwant\n%+v", fs, want)
	}

	gs.Mode = string(Streak)
	if fs := summarize(gs, entries, QuitStreakEnded, at); fs.Accuracy != 0 {
		t.Fatalf("streak accuracy = %v, want 0", fs.Accuracy)
	}
}

func TestComputeStats(t *testing.T) {
	day := func(d int) time.Time {
		return time.Date(2026, 3, d, 12, 0, 0, 0, time.UTC)
	}

	sessions := []storage.FinishedSession{
		{Mode: "streak", AtlasID: "aal", Score: 4, Duration: 10, Correct: 4, Incorrect: 1, QuitReason: QuitStreakEnded, CreatedAt: day(1), MinTime: 1, MaxTime: 5, AvgTime: 2},
		{Mode: "streak", AtlasID: "aal", Score: 2, Duration: 6, Correct: 2, Incorrect: 1, QuitReason: QuitStreakEnded, CreatedAt: day(3), MinTime: 2, MaxTime: 3, AvgTime: 2.5},
		{Mode: "time-attack", AtlasID: "hoa", Score: 9, Duration: 20, Correct: 9, Incorrect: 9, QuitReason: QuitAllAnswered, CreatedAt: day(2), MinTime: 0, MaxTime: 7, AvgTime: 3},
	}

	st := computeStats(sessions)

	if st.TotalGames != 3 || st.BestScore != 9 || st.AvgScore != 5 || st.AvgDuration != 12 {
		t.Fatalf("totals = %+v", st)
	}
	if !st.FirstGame.Equal(day(1)) || !st.LastGame.Equal(day(3)) {
		t.Fatalf("first/last = %v/%v", st.FirstGame, st.LastGame)
	}
	if st.TotalCorrect != 15 || st.TotalIncorrect != 11 {
		t.Fatalf("correct/incorrect = %d/%d", st.TotalCorrect, st.TotalIncorrect)
	}
	if st.MinTimePerRegion != 0 || st.MaxTimePerRegion != 7 {
		t.Fatalf("min/max time = %v/%v", st.MinTimePerRegion, st.MaxTimePerRegion)
	}
	if st.MostPlayedMode != "streak" || st.MostPlayedAtlas != "aal" {
		t.Fatalf("most played = %q/%q", st.MostPlayedMode, st.MostPlayedAtlas)
	}
	if st.QuitReasons[QuitStreakEnded] != 2 || st.QuitReasons[QuitAllAnswered] != 1 {
		t.Fatalf("quit reasons = %v", st.QuitReasons)
	}

	streak := st.PerMode["streak"]
	if streak == nil || streak.Games != 2 || streak.AvgScore != 3 || streak.BestScore != 4 {
		t.Fatalf("streak stats = %+v", streak)
	}
	if got := streak.Progression[1].MaxScore; got != 4 {
		t.Fatalf("running max = %d, want 4", got)
	}
	if streak.Progression[0].BestStreak == nil || *streak.Progression[0].BestStreak != 4 {
		t.Fatalf("best streak missing from progression")
	}

	ta := st.PerMode["time-attack"]
	if ta == nil || ta.Progression[0].ErrorRate == nil || *ta.Progression[0].ErrorRate != 0.5 {
		t.Fatalf("time-attack stats = %+v", ta)
	}
}

func TestComputeStatsEmpty(t *testing.T) {
	st := computeStats(nil)
	if st.TotalGames != 0 || st.Sessions == nil || st.PerMode == nil {
		t.Fatalf("empty stats = %+v", st)
	}
}

func TestShapeLeaderboard(t *testing.T) {
	rows := []storage.ScoreRow{
		{UserID: "ann", Mode: "streak", AtlasID: "aal", Score: 9},
		{UserID: "bob", Mode: "streak", AtlasID: "hoa", Score: 7},
		{UserID: "bob", Mode: "streak", AtlasID: "aal", Score: 5},
	}

	entry := func(user, atlas string, score int) LeaderboardEntry {
		return LeaderboardEntry{UserID: user, Mode: "streak", AtlasID: atlas, BestScore: score}
	}

	tests := []struct {
		name        string
		atlas       string
		appendTotal bool
		want        []LeaderboardEntry
	}{
		{
			name: "all atlases",
			want: []LeaderboardEntry{entry("ann", "aal", 9), entry("bob", "hoa", 7), entry("bob", "aal", 5)},
		},
		{
			name:  "one atlas",
			atlas: "aal",
			want:  []LeaderboardEntry{entry("ann", "aal", 9), entry("bob", "aal", 5)},
		},
		{
			name:  "totals only",
			atlas: "total",
			want:  []LeaderboardEntry{entry("bob", "total", 12), entry("ann", "total", 9)},
		},
		{
			name:        "atlas with totals appended",
			atlas:       "hoa",
			appendTotal: true,
			want:        []LeaderboardEntry{entry("bob", "hoa", 7), entry("bob", "total", 12), entry("ann", "total", 9)},
		},
		{
			name:  "unknown atlas",
			atlas: "nope",
			want:  []LeaderboardEntry{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := shapeLeaderboard(rows, tt.atlas, tt.appendTotal)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("shapeLeaderboard =\n%+v\nwant\n%+v", got, tt.want)
			}
		})
	}
}

func TestLeaderboardRejectsUnknownMode(t *testing.T) {
	f := newFixture(t, nil)

	if _, err := f.engine.Leaderboard(context.Background(), LeaderboardQuery{Mode: "marathon"}); !IsValidation(err) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestLeaderboardDefaultsAndWindow(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	play := func(user string) {
		s, err := f.engine.StartSession(ctx, user, "streak", "small")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.engine.NextRegion(ctx, s.SessionID, s.Secret); err != nil {
			t.Fatal(err)
		}
		if _, err := f.engine.ValidateGuess(ctx, s.SessionID, s.Secret, []int{2, 0, 0}); err != nil {
			t.Fatal(err)
		}
	}

	play("old")
	f.clock.advance(10 * 24 * time.Hour)
	play("new")

	all, err := f.engine.Leaderboard(ctx, LeaderboardQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d rows without a window, want 2", len(all))
	}

	recent, err := f.engine.Leaderboard(ctx, LeaderboardQuery{Days: DefaultLeaderboardDays})
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 1 || recent[0].UserID != "new" {
		t.Fatalf("recent = %+v, want only the new player", recent)
	}
}
