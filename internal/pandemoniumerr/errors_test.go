package pandemoniumerr

import (
	"errors"
	"testing"
)

func TestKindFatal(t *testing.T) {
	tests := []struct {
		kind  Kind
		fatal bool
	}{
		{KindAttachFailure, true},
		{KindWatchdogUnload, true},
		{KindStreamOverflow, false},
		{KindMapContention, false},
		{KindUserInterrupt, false},
		{KindPersistWriteFailure, false},
	}
	for _, tc := range tests {
		t.Run(tc.kind.String(), func(t *testing.T) {
			if got := tc.kind.Fatal(); got != tc.fatal {
				t.Errorf("%s.Fatal() = %v, want %v", tc.kind, got, tc.fatal)
			}
		})
	}
}

func TestKindStringUnknown(t *testing.T) {
	var k Kind = 99
	if got := k.String(); got != "unknown" {
		t.Errorf("String() = %q, want %q", got, "unknown")
	}
}

func TestErrorWrapsCause(t *testing.T) {
	cause := errors.New("device busy")
	err := Wrap(KindMapContention, "write knobs_map", cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is should unwrap to the original cause")
	}

	want := "map_contention: write knobs_map: device busy"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestErrorWithoutCause(t *testing.T) {
	err := Wrap(KindUserInterrupt, "SIGINT received", nil)
	want := "user_interrupt: SIGINT received"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if err.Unwrap() != nil {
		t.Error("Unwrap() should be nil when no cause was given")
	}
}

func TestAttachFailedIsFatal(t *testing.T) {
	err := AttachFailed("struct_ops map missing", errors.New("not found"))
	if !err.Kind.Fatal() {
		t.Error("AttachFailed should always produce a fatal kind")
	}
}
