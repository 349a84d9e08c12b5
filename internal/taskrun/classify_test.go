package taskrun

import (
	"errors"
	"fmt"
	"testing"

	"scour/internal/services"
)

func TestIsCapacityErrorKnownKinds(t *testing.T) {
	kinds := []string{
		"actor-memory-limit-exceeded",
		"not-enough-usage-to-run-paid-actor",
		"usage-limit-exceeded",
		"concurrent-runs-limit-exceeded",
		"account-usage-limit-exceeded",
	}
	for _, kind := range kinds {
		err := &RunError{Kind: kind, Message: "unrelated text", StatusCode: 500}
		if !IsCapacityError(err) {
			t.Errorf("kind %q should classify as capacity", kind)
		}
	}
}

func TestIsCapacityErrorMessagePhrases(t *testing.T) {
	messages := []string{
		"Run exceeded the Memory Limit for this actor",
		"monthly usage limit reached",
		"this run would exceed your remaining usage",
		"You have reached the concurrent runs limit",
		"ACCOUNT LIMIT has been hit",
	}
	for _, message := range messages {
		err := &RunError{Kind: "some-other-kind", Message: message, StatusCode: 500}
		if !IsCapacityError(err) {
			t.Errorf("message %q should classify as capacity", message)
		}
	}
}

func TestIsCapacityErrorPaymentRequiredStatus(t *testing.T) {
	err := &RunError{Kind: "unknown", Message: "totally unrelated", StatusCode: 402}
	if !IsCapacityError(err) {
		t.Fatal("status 402 should classify as capacity regardless of message")
	}
}

func TestIsCapacityErrorRejectsFunctionalErrors(t *testing.T) {
	cases := []*RunError{
		{Kind: "validation-error", Message: "input.keywords is required", StatusCode: 400},
		{Kind: "actor-not-found", Message: "no such task", StatusCode: 404},
		{Kind: "", Message: "internal error", StatusCode: 500},
	}
	for _, err := range cases {
		if IsCapacityError(err) {
			t.Errorf("%+v should not classify as capacity", err)
		}
	}
}

func TestIsCapacityErrorWrappedAndForeign(t *testing.T) {
	wrapped := fmt.Errorf("start run: %w", &RunError{Kind: "usage-limit-exceeded"})
	if !IsCapacityError(wrapped) {
		t.Fatal("wrapped RunError should still classify")
	}
	if IsCapacityError(errors.New("usage limit")) {
		t.Fatal("plain errors never classify, only RunError values")
	}
	if IsCapacityError(nil) {
		t.Fatal("nil is not a capacity error")
	}
}

func TestIsCapacityErrorMarker(t *testing.T) {
	err := services.Wrap(services.ErrCapacity, "executor", "execute", "quota sweep", nil)
	if !IsCapacityError(err) {
		t.Fatal("the capacity marker should classify without a RunError")
	}
}
