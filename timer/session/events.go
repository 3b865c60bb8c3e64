package session

import (
	"time"

	"github.com/google/uuid"
)

// EventKind identifies what happened to a session.
type EventKind int

const (
	EventCountdown EventKind = iota
	EventGo
	EventRestart
	EventCheckpoint
	EventFinish
	EventPause
	EventResume
	EventCancel
)

func (k EventKind) String() string {
	switch k {
	case EventCountdown:
		return "countdown"
	case EventGo:
		return "go"
	case EventRestart:
		return "restart"
	case EventCheckpoint:
		return "checkpoint"
	case EventFinish:
		return "finish"
	case EventPause:
		return "pause"
	case EventResume:
		return "resume"
	case EventCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// CancelReason explains an EventCancel.
type CancelReason string

const (
	ReasonLeftStart    CancelReason = "left_start_zone"
	ReasonDisconnected CancelReason = "disconnected"
	ReasonUnconfigured CancelReason = "course_unconfigured"
	ReasonLeft         CancelReason = "left"
	ReasonReset        CancelReason = "reset"
)

// Event is a plain-value notification for presentation layers.
type Event struct {
	Kind       EventKind     `json:"-"`
	Type       string        `json:"type"`
	Entity     uuid.UUID     `json:"uuid"`
	Course     string        `json:"course"`
	Seconds    int           `json:"seconds,omitempty"`
	Elapsed    time.Duration `json:"elapsedNanos,omitempty"`
	Checkpoint int           `json:"checkpoint,omitempty"`
	Reason     CancelReason  `json:"reason,omitempty"`
	At         time.Time     `json:"at"`
}

// Notifier receives events. It is called with the engine lock held and must
// not call back into the Engine.
type Notifier func(Event)
