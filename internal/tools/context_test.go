package tools

import (
	"context"
	"errors"
	"testing"
)

func TestCallerFromContext(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		want string
	}{
		{"default when unset", context.Background(), "local"},
		{"round trip", WithCaller(context.Background(), "192.0.2.10:5312"), "192.0.2.10:5312"},
		{"empty string returns default", WithCaller(context.Background(), ""), "local"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CallerFromContext(tt.ctx); got != tt.want {
				t.Errorf("CallerFromContext() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOutcome(t *testing.T) {
	if o := OutcomeFromContext(context.Background()); o != nil {
		t.Fatalf("OutcomeFromContext() = %v, want nil", o)
	}

	// A nil Outcome ignores failures.
	var none *Outcome
	none.Fail(errors.New("ignored"))
	if err := none.Err(); err != nil {
		t.Errorf("nil Outcome Err() = %v", err)
	}

	ctx, o := WithOutcome(context.Background())
	if OutcomeFromContext(ctx) != o {
		t.Fatal("OutcomeFromContext did not return the attached Outcome")
	}
	if err := o.Err(); err != nil {
		t.Errorf("fresh Outcome Err() = %v", err)
	}

	first := errors.New("first")
	o.Fail(nil)
	o.Fail(first)
	o.Fail(errors.New("second"))
	if err := o.Err(); err != first {
		t.Errorf("Err() = %v, want %v", err, first)
	}
}
