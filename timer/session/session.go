// Package session implements the per-entity run state machine: countdown on
// entering a start zone, timing while running, pause on disconnect and
// finish on entering the end zone.
package session

import (
	"time"

	"github.com/Ftotnem/GO-TIMING/shared/models"
	"github.com/google/uuid"
)

// State is the lifecycle state of a Session.
type State int

const (
	Idle State = iota
	CountingDown
	Running
	Paused
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case CountingDown:
		return "counting_down"
	case Running:
		return "running"
	case Paused:
		return "paused"
	default:
		return "unknown"
	}
}

// Session is one entity's run in progress. A countdown handle is present
// only while CountingDown.
type Session struct {
	Entity         uuid.UUID
	Name           string
	Course         string
	State          State
	RunStart       time.Time
	Accumulated    time.Duration
	NextCheckpoint int

	countdown *Countdown
}

// Elapsed is the run time at now: accumulated plus the open interval when running.
func (s *Session) Elapsed(now time.Time) time.Duration {
	if s.State == Running {
		return s.Accumulated + now.Sub(s.RunStart)
	}
	return s.Accumulated
}

// timed reports whether the session holds a run clock (running or paused).
func (s *Session) timed() bool {
	return s.State == Running || s.State == Paused
}

func (s *Session) ongoing(now time.Time) models.OngoingRun {
	return models.OngoingRun{Course: s.Course, Entity: s.Entity, Name: s.Name, Elapsed: s.Elapsed(now)}
}

// View is a read-only copy of a Session.
type View struct {
	Entity           uuid.UUID     `json:"uuid"`
	Name             string        `json:"name"`
	Course           string        `json:"course"`
	State            string        `json:"state"`
	Elapsed          time.Duration `json:"elapsedNanos"`
	SecondsRemaining int           `json:"secondsRemaining,omitempty"`
	NextCheckpoint   int           `json:"nextCheckpoint"`
}

func (s *Session) view(now time.Time) View {
	v := View{
		Entity:         s.Entity,
		Name:           s.Name,
		Course:         s.Course,
		State:          s.State.String(),
		Elapsed:        s.Elapsed(now),
		NextCheckpoint: s.NextCheckpoint,
	}
	if s.countdown != nil {
		v.SecondsRemaining = s.countdown.Remaining()
	}
	return v
}
