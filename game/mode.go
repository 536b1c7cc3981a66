/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

type Mode string

const (
	Streak     Mode = "streak"
	TimeAttack Mode = "time-attack"
)

const (
	// TimeAttackRounds is the number of attempts in a time-attack session.
	TimeAttackRounds = 18

	// Exhausted is returned as the region id when a time-attack session has
	// no region left to ask.
	Exhausted = -1
)

// Quit reasons recorded on finished sessions.
const (
	QuitStreakEnded = "streak-ended"
	QuitAllAnswered = "all-answered"
)

func (m Mode) Valid() bool {
	return m == Streak || m == TimeAttack
}

// Modes lists the supported game modes.
func Modes() []Mode {
	return []Mode{Streak, TimeAttack}
}
