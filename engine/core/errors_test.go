package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestNativeError(t *testing.T) {
	err := fmt.Errorf("create device: %w", &NativeError{Call: "vkCreateDevice", Result: -3, Description: "VK_ERROR_INITIALIZATION_FAILED"})

	if !errors.Is(err, ErrNativeAPIFailure) {
		t.Error("NativeError does not match ErrNativeAPIFailure")
	}
	if errors.Is(err, ErrCapabilityMissing) {
		t.Error("NativeError matches an unrelated kind")
	}
	var native *NativeError
	if !errors.As(err, &native) || native.Result != -3 {
		t.Fatalf("errors.As = %v", native)
	}
	if got := native.Error(); got != "vkCreateDevice failed: VK_ERROR_INITIALIZATION_FAILED (-3)" {
		t.Errorf("Error() = %q", got)
	}
	if got := (&NativeError{Call: "vkFoo", Result: -1}).Error(); got != "vkFoo failed with result -1" {
		t.Errorf("Error() = %q", got)
	}
}
