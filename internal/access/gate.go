// Package access implements the shared-PIN gate that precedes every portal
// action.
package access

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"sync"
	"time"
)

const (
	// DefaultMaxAttempts is the number of consecutive failures that triggers a lockout.
	DefaultMaxAttempts = 5
	// DefaultLockout is how long the gate stays locked.
	DefaultLockout = 60 * time.Second
)

// Decision is the outcome of Check.
type Decision int

const (
	// Prompt means the operator must enter the PIN.
	Prompt Decision = iota
	// Allow means the caller is authenticated.
	Allow
	// Locked means too many failures; wait for Result.Wait.
	Locked
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Locked:
		return "locked"
	default:
		return "prompt"
	}
}

// AuthError reports a rejected attempt.
type AuthError struct {
	Locked    bool
	Remaining int           // attempts left before lockout
	Wait      time.Duration // time until the lock lifts
	Disabled  bool          // gate misconfigured, nothing can succeed
}

func (e *AuthError) Error() string {
	switch {
	case e.Disabled:
		return "access: portal is locked, contact the administrator"
	case e.Locked:
		return fmt.Sprintf("access: too many attempts, try again in %d seconds", waitSeconds(e.Wait))
	default:
		return fmt.Sprintf("access: incorrect PIN, %d attempts remaining", e.Remaining)
	}
}

func waitSeconds(d time.Duration) int {
	s := int((d + time.Second - 1) / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}

// Opts holds parameters for creating a Gate.
type Opts struct {
	// PIN is the configured secret. If it is not valid the gate fails closed.
	PIN         string
	Valid       bool
	MaxAttempts int
	Lockout     time.Duration
	// For testing: clock override.
	Now func() time.Time
}

// Gate tracks failed attempts and lockout for the whole process. Whether a
// given caller is authenticated is held by the caller and passed to Check.
type Gate struct {
	mu          sync.Mutex
	digest      [sha256.Size]byte
	disabled    bool
	maxAttempts int
	lockout     time.Duration
	now         func() time.Time

	failed    int
	lockUntil time.Time
}

// New creates a Gate.
func New(opts Opts) *Gate {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Lockout <= 0 {
		opts.Lockout = DefaultLockout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	g := &Gate{
		disabled:    !opts.Valid,
		maxAttempts: opts.MaxAttempts,
		lockout:     opts.Lockout,
		now:         opts.Now,
	}
	if !g.disabled {
		g.digest = sha256.Sum256([]byte(opts.PIN))
	}
	return g
}

// Disabled reports whether the gate is failing closed.
func (g *Gate) Disabled() bool { return g.disabled }

// Attempt checks candidate against the PIN. A nil error means the caller is
// now authenticated. Both sides are hashed before the constant-time compare so
// the comparison time does not depend on the candidate's length either.
func (g *Gate) Attempt(candidate string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if now.Before(g.lockUntil) {
		return &AuthError{Locked: true, Wait: g.lockUntil.Sub(now)}
	}
	if g.disabled {
		return &AuthError{Disabled: true}
	}

	sum := sha256.Sum256([]byte(candidate))
	if subtle.ConstantTimeCompare(sum[:], g.digest[:]) == 1 {
		g.failed = 0
		g.lockUntil = time.Time{}
		return nil
	}

	g.failed++
	if g.failed >= g.maxAttempts {
		g.failed = 0
		g.lockUntil = now.Add(g.lockout)
		return &AuthError{Locked: true, Wait: g.lockout}
	}
	return &AuthError{Remaining: g.maxAttempts - g.failed}
}

// Check decides what an operator with the given authentication state may do.
// The returned duration is the remaining lockout when Locked.
func (g *Gate) Check(authenticated bool) (Decision, time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if now.Before(g.lockUntil) {
		return Locked, g.lockUntil.Sub(now)
	}
	if authenticated && !g.disabled {
		return Allow, 0
	}
	return Prompt, 0
}

// Failed returns the current consecutive failure count.
func (g *Gate) Failed() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.failed
}
