package identity

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound           = errors.New("identity: not found")
	ErrNotProvisioned     = errors.New("identity: account not provisioned")
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
	ErrAlreadyExists      = errors.New("identity: already exists")
	ErrInvalidInput       = errors.New("identity: invalid input")
	ErrConsistencyGap     = errors.New("identity: consistency gap")
	ErrSessionRevoked     = errors.New("identity: session revoked")
)

// ConsistencyError reports a multi-store operation that left the credential
// store and the side-store out of step.
type ConsistencyError struct {
	Op        string
	AccountID string
	// Steps names the writes that could not be applied or undone.
	Steps []string
	Err   error
}

func (e *ConsistencyError) Error() string {
	msg := fmt.Sprintf("identity: %s left account %s inconsistent (%s)", e.Op, e.AccountID, strings.Join(e.Steps, ", "))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConsistencyError) Is(target error) bool {
	return target == ErrConsistencyGap
}

func (e *ConsistencyError) Unwrap() error {
	return e.Err
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
