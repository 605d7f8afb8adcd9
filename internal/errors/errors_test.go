package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestHiloErrorFormat(t *testing.T) {
	tests := []struct {
		name     string
		err      *HiloError
		wantErr  string
		wantUser string
	}{
		{
			name:     "what only",
			err:      &HiloError{What: "something broke"},
			wantErr:  "something broke",
			wantUser: "Error: something broke",
		},
		{
			name:     "what and why",
			err:      &HiloError{What: "something broke", Why: "bad input"},
			wantErr:  "something broke: bad input",
			wantUser: "Error: something broke\n\nWhy: bad input",
		},
		{
			name: "full error",
			err: &HiloError{
				What: "something broke",
				Why:  "bad input",
				Fix:  "try again",
			},
			wantErr:  "something broke: bad input",
			wantUser: "Error: something broke\n\nWhy: bad input\n\nFix: try again",
		},
		{
			name: "with cause",
			err: &HiloError{
				What:  "something broke",
				Cause: errors.New("underlying error"),
			},
			wantErr:  "something broke: underlying error",
			wantUser: "Error: something broke",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantErr {
				t.Errorf("Error() = %q, want %q", got, tt.wantErr)
			}
			if got := tt.err.UserMessage(); got != tt.wantUser {
				t.Errorf("UserMessage() = %q, want %q", got, tt.wantUser)
			}
		})
	}
}

func TestHiloErrorJSON(t *testing.T) {
	err := FatalBoot("efi", 3, errors.New("postcode stuck"))

	data, marshalErr := json.Marshal(err)
	if marshalErr != nil {
		t.Fatalf("MarshalJSON failed: %v", marshalErr)
	}

	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if result["code"] != string(CodeFatalBoot) {
		t.Errorf("code = %v, want %v", result["code"], CodeFatalBoot)
	}
	if result["what"] != "step efi failed after 3 attempts" {
		t.Errorf("what = %v", result["what"])
	}
	if result["cause"] != "postcode stuck" {
		t.Errorf("cause = %v, want %v", result["cause"], "postcode stuck")
	}
}

func TestCommandTimeoutError(t *testing.T) {
	err := CommandTimeout("pause", 5*time.Second)

	if err.Code != CodeCommandTimeout {
		t.Errorf("Code = %v, want %v", err.Code, CodeCommandTimeout)
	}
	if err.What != "pause was not acknowledged within 5s" {
		t.Errorf("What = %v", err.What)
	}
	if err.Fix == "" {
		t.Error("Fix should not be empty")
	}
}

func TestPollTimeoutIsTransient(t *testing.T) {
	err := PollTimeout("postcode", 0xef0000ff, 0xbf000000, time.Minute)

	if !errors.Is(err, ErrTransientHardware) {
		t.Error("poll timeout should classify as transient hardware failure")
	}
	if err.Why != "last reading 0xbf000000" {
		t.Errorf("Why = %v", err.Why)
	}
}

func TestErrorCodeUniqueness(t *testing.T) {
	codes := []Code{
		CodeTransientHardware,
		CodeFatalBoot,
		CodeProbeBusy,
		CodeCommandTimeout,
		CodeCommandRejected,
		CodePauseTimeout,
		CodeRunInvalidState,
		CodeRunNotFound,
		CodePlanInvalid,
		CodeConfigInvalid,
	}

	seen := make(map[Code]bool)
	for _, code := range codes {
		if seen[code] {
			t.Errorf("duplicate error code: %s", code)
		}
		seen[code] = true
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err        *HiloError
		wantStatus int
	}{
		{TransientHardware("boot", 1, nil), 503},
		{FatalBoot("boot", 3, nil), 500},
		{ProbeBusy(42), 409},
		{CommandTimeout("cancel", time.Second), 504},
		{CommandRejected("cancel", "completed"), 409},
		{PauseTimeout(time.Hour), 504},
		{RunInvalidState("running", "idle"), 409},
		{RunNotFound("x"), 404},
		{PlanInvalid("plan.yaml", "no experiments"), 400},
		{ConfigInvalid("retry.max_attempts", "must be positive"), 400},
		{&HiloError{Code: "SOMETHING_ELSE"}, 500},
	}

	for _, tt := range tests {
		t.Run(string(tt.err.Code), func(t *testing.T) {
			if got := tt.err.HTTPStatus(); got != tt.wantStatus {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.wantStatus)
			}
		})
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := RunNotFound("X").WithCause(cause)

	if errors.Unwrap(err) != cause {
		t.Error("Unwrap should return the cause")
	}
}

func TestWithCause(t *testing.T) {
	original := RunNotFound("run-1")
	cause := errors.New("no rows")
	wrapped := original.WithCause(cause)

	if wrapped.Cause != cause {
		t.Error("WithCause should set the cause")
	}
	if original.Cause != nil {
		t.Error("Original should not be modified")
	}
	if wrapped.Code != original.Code || wrapped.What != original.What {
		t.Error("Code and What should be copied")
	}
}

func TestIs(t *testing.T) {
	err1 := FatalBoot("mrc", 3, nil)
	err2 := FatalBoot("efi", 2, nil)
	err3 := CommandTimeout("pause", time.Second)

	if !errors.Is(err1, err2) {
		t.Error("errors with same code should match with Is")
	}
	if errors.Is(err1, err3) {
		t.Error("errors with different codes should not match")
	}
	if !errors.Is(fmt.Errorf("iteration 2: %w", err1), ErrFatalBoot) {
		t.Error("wrapped error should match sentinel")
	}
}

func TestAsHiloError(t *testing.T) {
	hiloErr := RunNotFound("X")

	if AsHiloError(hiloErr) == nil {
		t.Error("AsHiloError should return the error")
	}
	if AsHiloError(fmt.Errorf("load: %w", hiloErr)) == nil {
		t.Error("AsHiloError should return wrapped HiloError")
	}
	if AsHiloError(errors.New("regular error")) != nil {
		t.Error("AsHiloError should return nil for non-HiloError")
	}
	if AsHiloError(nil) != nil {
		t.Error("AsHiloError should return nil for nil error")
	}
}

func TestWrap(t *testing.T) {
	cause := errors.New("underlying")
	err := Wrap(cause, "operation failed")

	if err.What != "operation failed" {
		t.Errorf("What = %v, want 'operation failed'", err.What)
	}
	if err.Cause != cause {
		t.Error("Cause should be set")
	}
	if err.Code != Code("UNKNOWN") {
		t.Errorf("Code = %v, want UNKNOWN", err.Code)
	}
}
