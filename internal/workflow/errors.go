package workflow

import (
	"errors"
	"strings"

	"github.com/zulandar/csmportal/internal/gateway"
	"github.com/zulandar/csmportal/internal/jobmon"
)

var (
	// ErrSetupRequired means no customer is bound yet.
	ErrSetupRequired = errors.New("workflow: initial setup not complete")
	// ErrNoAccounts means accountnames returned nothing usable.
	ErrNoAccounts = errors.New("workflow: no accounts for customer")
	// ErrUnknownAccount means the account is not one of the bound customer's.
	ErrUnknownAccount = errors.New("workflow: unknown account")
	// ErrStaleSubmission means the form came from an upload control that was
	// already submitted.
	ErrStaleSubmission = errors.New("workflow: stale upload generation")
	// ErrNothingPending means confirm was requested without a prior save.
	ErrNothingPending = errors.New("workflow: no pending rank changes")
	// ErrNoRanksLoaded means save was requested before ranks were loaded.
	ErrNoRanksLoaded = errors.New("workflow: no ranks loaded")
)

var messages = map[error]string{
	ErrSetupRequired:        "Complete Initial Setup to enable this section.",
	ErrNoAccounts:           "No accounts found for this customer ID or failed to fetch them.",
	ErrUnknownAccount:       "That account does not belong to the connected customer.",
	ErrStaleSubmission:      "This form was already submitted. Choose the file again to upload another.",
	ErrNothingPending:       "There are no pending rank changes to confirm.",
	ErrNoRanksLoaded:        "Load ranks for an account first.",
	jobmon.ErrStartRejected: "The backend did not start the config refresh.",
	jobmon.ErrJobRunning:    "A config refresh is already being monitored.",
}

// ValidationError is a problem caught before any backend call.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "workflow: validation failed: " + strings.Join(e.Problems, "; ")
}

func invalid(problems ...string) error {
	return &ValidationError{Problems: problems}
}

// Message renders any workflow error for the operator.
func Message(err error) string {
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return strings.Join(vErr.Problems, " ")
	}
	for target, msg := range messages {
		if errors.Is(err, target) {
			return msg
		}
	}
	return gateway.Message(err)
}
