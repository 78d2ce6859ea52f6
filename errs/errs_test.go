package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFormattingIncludesVenueAndCause(t *testing.T) {
	err := New(
		"TESTEX",
		CodeRejected,
		WithOp("place"),
		WithHTTP(200),
		WithMessage("order refused"),
		WithRawMessage("not enough liquidity"),
		WithCause(errors.New("ok=false")),
	)

	out := err.Error()
	for _, want := range []string{
		"venue=TESTEX",
		"op=place",
		"code=rejected",
		"http=200",
		`message="order refused"`,
		`raw_msg="not enough liquidity"`,
		`cause="ok=false"`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in error string: %s", want, out)
		}
	}
}

func TestEmptyVenueRendersUnknown(t *testing.T) {
	out := New("  ", "").Error()
	if !strings.Contains(out, "venue=unknown") || !strings.Contains(out, "code=unknown") {
		t.Fatalf("expected unknown markers: %s", out)
	}
}

func TestNilEnvelopeError(t *testing.T) {
	var e *E
	if e.Error() != "<nil>" {
		t.Fatalf("expected <nil>, got %q", e.Error())
	}
}

func TestCodeOfThroughWrapping(t *testing.T) {
	base := New("TESTEX", CodeNotFound)
	wrapped := fmt.Errorf("cancel order 7: %w", base)
	if got := CodeOf(wrapped); got != CodeNotFound {
		t.Fatalf("expected not_found, got %q", got)
	}
	if !Is(wrapped, CodeNotFound) {
		t.Fatalf("expected Is to match wrapped code")
	}
	if CodeOf(errors.New("plain")) != "" {
		t.Fatalf("plain errors carry no code")
	}
}

func TestRetryable(t *testing.T) {
	cases := map[string]struct {
		err  error
		want bool
	}{
		"nil":         {nil, false},
		"network":     {New("v", CodeNetwork), true},
		"unavailable": {New("v", CodeUnavailable), true},
		"plain":       {errors.New("boom"), true},
		"rejected":    {New("v", CodeRejected), false},
		"not found":   {New("v", CodeNotFound), false},
		"invalid":     {New("v", CodeInvalid), false},
	}
	for name, tc := range cases {
		if got := Retryable(tc.err); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", name, tc.want, got)
		}
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := New("v", CodeNetwork, WithCause(cause))
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to reach the cause")
	}
}
