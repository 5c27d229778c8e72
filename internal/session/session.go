// Package session holds the per-operator workflow state: the bound customer,
// one-shot notices, upload generations and the rank editing draft.
package session

import (
	"sync"
	"time"

	"github.com/zulandar/csmportal/internal/jobmon"
)

// Surface names a resettable upload control.
type Surface string

const (
	Contacts        Surface = "contacts"
	Ranks           Surface = "ranks"
	Recommendations Surface = "recommendations"
)

// Level is the severity of a notice.
type Level string

const (
	Info    Level = "info"
	Success Level = "success"
	Warning Level = "warning"
	Error   Level = "error"
)

// Notice is a message rendered exactly once.
type Notice struct {
	Level Level
	Text  string
}

// Customer is the backend binding established by a successful connect.
type Customer struct {
	ID       string
	Name     string
	DSRoot   string
	Accounts []string
}

// RankEdit is one row of the rank working copy. Rank is kept as typed by the
// operator and only parsed on confirmation.
type RankEdit struct {
	InitiativeName string
	Rank           string
}

// RankDraft is the working copy of one account's ranks.
type RankDraft struct {
	Account string
	Rows    []RankEdit
	// Pending is set by save and cleared by confirm or cancel.
	Pending bool
}

// Session is one operator's state. All methods are safe for concurrent use.
type Session struct {
	ID string

	mu            sync.Mutex
	authenticated bool
	customer      Customer
	setupComplete bool
	notice        *Notice
	generations   map[Surface]int
	claimed       map[Surface]bool
	ranks         RankDraft
	job           *jobmon.Job
	starting      bool
	lastSeen      time.Time
}

// New returns an empty session.
func New(id string, now time.Time) *Session {
	return &Session{
		ID:          id,
		generations: make(map[Surface]int),
		claimed:     make(map[Surface]bool),
		lastSeen:    now,
	}
}

// Authenticated reports whether the operator passed the access gate.
func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

// SetAuthenticated records the gate outcome for this session.
func (s *Session) SetAuthenticated(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authenticated = v
}

// Customer returns a copy of the bound customer.
func (s *Session) Customer() Customer {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.customer
	c.Accounts = append([]string(nil), s.customer.Accounts...)
	return c
}

// SetupComplete reports whether a connect has succeeded.
func (s *Session) SetupComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setupComplete
}

// Bind replaces the customer binding and marks setup complete. Any rank draft
// from the previous customer is discarded.
func (s *Session) Bind(c Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.Accounts = append([]string(nil), c.Accounts...)
	s.customer = c
	s.setupComplete = true
	s.ranks = RankDraft{}
}

// HasAccount reports whether account belongs to the bound customer.
func (s *Session) HasAccount(account string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.customer.Accounts {
		if a == account {
			return true
		}
	}
	return false
}

// SetNotice stores the one-shot notice, replacing any unread one.
func (s *Session) SetNotice(level Level, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notice = &Notice{Level: level, Text: text}
}

// TakeNotice returns the stored notice and clears the slot.
func (s *Session) TakeNotice() *Notice {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.notice
	s.notice = nil
	return n
}

// Generation returns the current generation of an upload surface.
func (s *Session) Generation(surface Surface) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generations[surface]
}

// Claim reserves gen for one submission on surface. It fails when gen is not
// the live generation or another submission of it is still in flight. A
// successful Claim must be ended with Settle.
func (s *Session) Claim(surface Surface, gen int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generations[surface] != gen || s.claimed[surface] {
		return false
	}
	s.claimed[surface] = true
	return true
}

// Settle releases a claim. A successful submission moves the surface to a
// fresh generation; a failed one leaves the control as it was.
func (s *Session) Settle(surface Surface, succeeded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claimed, surface)
	if succeeded {
		s.generations[surface]++
	}
}

// Ranks returns a copy of the rank draft.
func (s *Session) Ranks() RankDraft {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.ranks
	d.Rows = append([]RankEdit(nil), s.ranks.Rows...)
	return d
}

// LoadRanks replaces the draft with freshly loaded rows.
func (s *Session) LoadRanks(account string, rows []RankEdit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ranks = RankDraft{Account: account, Rows: append([]RankEdit(nil), rows...)}
}

// ArmRanks stores the edited rows and sets the pending confirmation flag.
func (s *Session) ArmRanks(rows []RankEdit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ranks.Rows = append([]RankEdit(nil), rows...)
	s.ranks.Pending = true
}

// DisarmRanks clears the pending flag and leaves the rows alone.
func (s *Session) DisarmRanks() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ranks.Pending = false
}

// Job returns the config refresh job being monitored, if any.
func (s *Session) Job() *jobmon.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.job
}

// SetJob records the job being monitored.
func (s *Session) SetJob(j *jobmon.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.job = j
}

// BeginRefresh reserves the session's single job slot. It fails while a job
// is running or another start is in flight.
func (s *Session) BeginRefresh() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.starting || (s.job != nil && s.job.Running()) {
		return false
	}
	s.starting = true
	return true
}

// EndRefresh releases the slot taken by BeginRefresh, recording j when the
// start succeeded.
func (s *Session) EndRefresh(j *jobmon.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starting = false
	if j != nil {
		s.job = j
	}
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = now
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}
