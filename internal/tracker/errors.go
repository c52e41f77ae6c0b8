package tracker

import (
	"errors"
	"fmt"
)

var (
	// ErrPermission: the required permission set is not granted. Never retried.
	ErrPermission = errors.New("location permissions (including background) are not granted")
	// ErrNoProvider: no source is enabled.
	ErrNoProvider = errors.New("no location provider is enabled")
	// ErrTimeout: the one-shot bound elapsed with no fix.
	ErrTimeout = errors.New("timed out waiting for a location fix")
	// ErrSubscription: a source rejected a subscription request.
	ErrSubscription = errors.New("location provider rejected subscription")

	// ErrSessionActive: Start was called while a session is starting or running.
	ErrSessionActive = errors.New("a tracking session is already active")
	// ErrStartAborted: Stop arrived while the session was still starting.
	ErrStartAborted = errors.New("session start aborted by stop request")
	// ErrInvalidConfig: negative thresholds in a SessionConfig.
	ErrInvalidConfig = errors.New("invalid session config")
)

// SubscriptionError names the source that rejected a subscription.
type SubscriptionError struct {
	Source string
	Err    error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscribe to %s: %v", e.Source, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrSubscription) hold for every SubscriptionError.
func (e *SubscriptionError) Is(target error) bool {
	return target == ErrSubscription
}
