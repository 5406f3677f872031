package core

import (
	"errors"
	"fmt"
)

var (
	// Caller supplied invalid input. Not retried.
	ErrValidationFailure = errors.New("validation failure")
	// A non-optional extension or validation layer is unsupported.
	ErrCapabilityMissing = errors.New("capability missing")
	// The backend context exposes no adapters.
	ErrNoAdapterFound = errors.New("no adapter found")
	// A native graphics API call returned a non-success status.
	ErrNativeAPIFailure = errors.New("native api failure")

	ErrContextInUse    = errors.New("backend context still has live devices")
	ErrDeviceDestroyed = errors.New("logical device already destroyed")
	ErrJobAbandoned    = errors.New("job abandoned, job system shutting down")
)

// NativeError wraps the status code returned by a failed native call.
type NativeError struct {
	Call   string
	Result int32
	// Description is the readable form of Result, when the driver knows it.
	Description string
}

func (e *NativeError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s failed: %s (%d)", e.Call, e.Description, e.Result)
	}
	return fmt.Sprintf("%s failed with result %d", e.Call, e.Result)
}

func (e *NativeError) Is(target error) bool {
	return target == ErrNativeAPIFailure
}
