package app

import (
	"time"

	"github.com/dkeye/huddle/internal/domain"
)

type RosterAction int

const (
	IgnoreRoster RosterAction = iota
	Converge
	AutoLeave
)

func (a RosterAction) String() string {
	switch a {
	case Converge:
		return "converge"
	case AutoLeave:
		return "auto_leave"
	default:
		return "ignore"
	}
}

type Policy interface {
	OnRoster(s domain.Session, now time.Time, roster domain.Roster, self domain.UserID) RosterAction
}

// GracePolicy treats a roster without self as an eviction once the session
// is older than Grace. Younger sessions may still be racing their own join.
type GracePolicy struct {
	Grace time.Duration
}

func (p GracePolicy) OnRoster(s domain.Session, now time.Time, roster domain.Roster, self domain.UserID) RosterAction {
	if !s.Active || roster.RoomID != s.RoomID {
		return IgnoreRoster
	}
	if roster.Len() > 0 && !roster.Contains(self) && now.Sub(s.JoinedAt) >= p.Grace {
		return AutoLeave
	}
	return Converge
}
