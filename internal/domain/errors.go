package domain

import (
	"errors"
	"fmt"
)

const (
	PresenterBusyMessage     = "Another user is currently acting as presenter. Try again later ..."
	NoActivePresenterMessage = "No active presenter. Try again later..."
)

var (
	// ErrPresenterBusy is returned when the presenter slot is already claimed.
	ErrPresenterBusy = errors.New(PresenterBusyMessage)
	// ErrNoActivePresenter is returned when a viewer arrives before the presenter
	// is active, or when the presenter vanished while an orchestration was in flight.
	ErrNoActivePresenter = errors.New(NoActivePresenterMessage)
	ErrRateLimited       = errors.New("too many requests, slow down")
	// ErrSessionClosed stops an orchestration whose connection went away mid-flight.
	ErrSessionClosed = errors.New("session closed")
)

// ConnectionError means the media server could not be reached.
type ConnectionError struct {
	URI string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("Could not find media server at address %s. Exiting with error %v", e.URI, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// StepError is a failed media engine call. Error() is the engine message
// unchanged so it can be echoed to the client verbatim.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return e.Err.Error() }

func (e *StepError) Unwrap() error { return e.Err }

func NewStepError(step string, err error) error {
	if err == nil {
		return nil
	}
	var se *StepError
	if errors.As(err, &se) {
		return err
	}
	return &StepError{Step: step, Err: err}
}
