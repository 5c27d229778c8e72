package jobmon

import (
	"math"
	"strings"
	"time"
)

// State is the monitor's lifecycle position.
type State int

const (
	NotStarted State = iota
	Triggered
	Polling
	Completed
	Errored
	TimedOut
	Cancelled
)

var stateNames = map[State]string{
	NotStarted: "not_started",
	Triggered:  "triggered",
	Polling:    "polling",
	Completed:  "completed",
	Errored:    "errored",
	TimedOut:   "timed_out",
	Cancelled:  "cancelled",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// Terminal reports whether no further updates follow.
func (s State) Terminal() bool {
	return s == Completed || s == Errored || s == TimedOut || s == Cancelled
}

// MarshalText lets State render as its name in JSON and SSE payloads.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Phase is the display classification of a raw backend status string.
type Phase string

const (
	PhaseNone       Phase = ""
	PhaseStarting   Phase = "starting"
	PhaseGenerating Phase = "generating"
	PhaseCompleted  Phase = "completed"
	PhaseError      Phase = "error"
	PhaseUnknown    Phase = "unknown"
)

// Classify maps a raw status to a phase by case-insensitive prefix.
func Classify(raw string) Phase {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case strings.HasPrefix(s, "completed"):
		return PhaseCompleted
	case strings.HasPrefix(s, "error"):
		return PhaseError
	case strings.HasPrefix(s, "starting"):
		return PhaseStarting
	case strings.HasPrefix(s, "generating"):
		return PhaseGenerating
	}
	return PhaseUnknown
}

// Clamp limits progress to [0,1]. NaN is reported as 0.
func Clamp(p float64) float64 {
	if math.IsNaN(p) || p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// Update is one observation of the job, delivered to subscribers.
type Update struct {
	State    State         `json:"state"`
	Phase    Phase         `json:"phase,omitempty"`
	Raw      string        `json:"raw,omitempty"`
	Progress float64       `json:"progress"`
	Message  string        `json:"message"`
	Warning  string        `json:"warning,omitempty"`
	Elapsed  time.Duration `json:"elapsed"`
}

func phaseMessage(p Phase, raw string) string {
	switch p {
	case PhaseStarting:
		return "Content loaded, generation started"
	case PhaseGenerating:
		return "Generating configuration..."
	case PhaseCompleted:
		return "Configuration refresh completed."
	case PhaseError:
		return "Configuration refresh failed. Check the server logs for details."
	}
	return "Status unknown: " + raw
}
