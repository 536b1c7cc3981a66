/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

import (
	"time"

	"github.com/Seednode/neuroguessr/storage"
)

// endOfGame decides whether a session is over once the entry with the given
// outcome has been closed. A time-attack session that has found every region
// stays open; NextRegion reports the exhaustion instead.
func endOfGame(mode Mode, entries []storage.ProgressEntry, lastCorrect bool) (bool, string) {
	switch mode {
	case Streak:
		if !lastCorrect {
			return true, QuitStreakEnded
		}
	case TimeAttack:
		if len(entries) >= TimeAttackRounds {
			return true, QuitAllAnswered
		}
	}

	return false, ""
}

// summarize computes the final record of a session from its full history.
// The score is the number of correct entries and the duration the time
// spent on them; accuracy is only meaningful in time-attack.
func summarize(gs storage.GameSession, entries []storage.ProgressEntry, reason string, at time.Time) *storage.FinishedSession {
	fs := &storage.FinishedSession{
		UserID:     gs.UserID,
		Mode:       gs.Mode,
		AtlasID:    gs.AtlasID,
		Attempts:   len(entries),
		QuitReason: reason,
		CreatedAt:  at,
	}

	var all, correct []int
	for _, e := range entries {
		all = append(all, e.TimeTaken)
		if e.IsCorrect {
			correct = append(correct, e.TimeTaken)
			fs.Duration += e.TimeTaken
		}
	}

	fs.Correct = len(correct)
	fs.Incorrect = fs.Attempts - fs.Correct
	fs.Score = fs.Correct

	if Mode(gs.Mode) == TimeAttack && fs.Attempts > 0 {
		fs.Accuracy = float64(fs.Correct) / float64(fs.Attempts)
	}

	fs.MinTime, fs.MaxTime, fs.AvgTime = spread(all)
	fs.MinCorrectTime, fs.MaxCorrectTime, fs.AvgCorrectTime = spread(correct)

	return fs
}

func spread(values []int) (lo, hi, avg float64) {
	if len(values) == 0 {
		return 0, 0, 0
	}

	lo, hi = float64(values[0]), float64(values[0])
	sum := 0
	for _, v := range values {
		f := float64(v)
		if f < lo {
			lo = f
		}
		if f > hi {
			hi = f
		}
		sum += v
	}

	return lo, hi, float64(sum) / float64(len(values))
}
