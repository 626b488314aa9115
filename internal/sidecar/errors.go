package sidecar

import (
	"errors"
	"fmt"
)

var (
	// ErrBackendUnavailable is returned by every call on a bridge that is not
	// Ready: the worker failed to start, exited, or its channel broke.
	ErrBackendUnavailable = errors.New("sidecar: backend unavailable")

	// ErrTimeout reports a handshake that exceeded its bound. Callers see it
	// as unavailable: errors.Is(ErrTimeout, ErrBackendUnavailable) holds.
	ErrTimeout = fmt.Errorf("%w: handshake timed out", ErrBackendUnavailable)

	// ErrWorkerExited reports that the worker process terminated.
	ErrWorkerExited = fmt.Errorf("%w: worker exited", ErrBackendUnavailable)

	// ErrStopped is returned after Stop.
	ErrStopped = fmt.Errorf("%w: bridge stopped", ErrBackendUnavailable)

	ErrUnknownLanguage = errors.New("sidecar: no bridge for language")
)
