package probes

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/queueprobe/queueprobe/internal/config"
	"github.com/queueprobe/queueprobe/internal/sidechannel"
)

func newTestSuite(t *testing.T) (*Suite, *sidechannel.Client) {
	t.Helper()
	s := miniredis.RunT(t)
	side := sidechannel.NewWithClient(redis.NewClient(&redis.Options{Addr: s.Addr()}))
	return New(side, config.Probes{}), side
}

func TestExpectedErrorEquality(t *testing.T) {
	tests := []struct {
		name string
		a    error
		b    error
		want bool
	}{
		{"same args", NewExpectedError("x", "y"), NewExpectedError("x", "y"), true},
		{"no args", NewExpectedError(), NewExpectedError(), true},
		{"different args", NewExpectedError("x"), NewExpectedError("y"), false},
		{"different arity", NewExpectedError("x"), NewExpectedError("x", "y"), false},
		{"other error type", NewExpectedError("x"), errors.New("x"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.Is(tt.a, tt.b); got != tt.want {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestFailCarriesSentinel(t *testing.T) {
	err := Fail("extra", "context")
	if err == nil {
		t.Fatal("Fail() returned nil")
	}
	want := NewExpectedError("Task expected to fail", "extra", "context")
	if !errors.Is(err, want) {
		t.Errorf("Fail() = %v, want sentinel %v", err, want)
	}
	if !strings.HasPrefix(err.Error(), "Task expected to fail") {
		t.Errorf("Fail().Error() = %q, want prefix %q", err.Error(), "Task expected to fail")
	}
}

func TestRaiseError(t *testing.T) {
	err := RaiseError("ignored", "args")
	if err == nil || err.Error() != "deliberate error" {
		t.Errorf("RaiseError() = %v, want %q", err, "deliberate error")
	}
}

func TestUnserializableErrorLifecycle(t *testing.T) {
	t.Run("construction requires bar", func(t *testing.T) {
		if _, err := NewUnserializableError("foo", ""); err == nil {
			t.Error("NewUnserializableError() accepted missing bar")
		}
	})

	t.Run("message survives, value does not", func(t *testing.T) {
		uerr, err := NewUnserializableError("foo", "bar")
		if err != nil {
			t.Fatalf("NewUnserializableError() error: %v", err)
		}
		if uerr.Error() != "foo" {
			t.Errorf("Error() = %q, want %q", uerr.Error(), "foo")
		}
		if _, err := json.Marshal(uerr); err == nil {
			t.Error("json.Marshal() of unserializable error succeeded")
		}
		if err := json.Unmarshal([]byte(`{"Foo":"foo"}`), uerr); err == nil {
			t.Error("json.Unmarshal() into unserializable error succeeded")
		}
	})
}

func TestFailUnserializable(t *testing.T) {
	err := FailUnserializable("foo", "bar")
	var uerr *UnserializableError
	if !errors.As(err, &uerr) {
		t.Fatalf("FailUnserializable() = %T, want *UnserializableError", err)
	}
	if uerr.Bar != "bar" {
		t.Errorf("Bar = %q, want %q", uerr.Bar, "bar")
	}

	// Missing bar degrades to the construction error, not a panic.
	err = FailUnserializable("foo", "")
	if err == nil || err.Error() != "bar must be provided" {
		t.Errorf("FailUnserializable(foo, \"\") = %v, want construction error", err)
	}
}

func TestErrbacks(t *testing.T) {
	suite, side := newTestSuite(t)
	ctx := context.Background()

	if err := suite.ErrbackEcho("boom happened"); err != nil {
		t.Fatalf("ErrbackEcho() error: %v", err)
	}
	got, err := side.Range(ctx, sidechannel.DefaultEchoKey)
	if err != nil {
		t.Fatalf("Range() error: %v", err)
	}
	if len(got) != 1 || got[0] != "boom happened" {
		t.Errorf("echo list = %v, want [boom happened]", got)
	}

	id, err := suite.ErrbackCount("boom happened", "req-42")
	if err != nil {
		t.Fatalf("ErrbackCount() error: %v", err)
	}
	if id != "req-42" {
		t.Errorf("ErrbackCount() = %q, want %q", id, "req-42")
	}
	n, err := side.CountValue(ctx, "req-42")
	if err != nil {
		t.Fatalf("CountValue() error: %v", err)
	}
	if n != 1 {
		t.Errorf("counter for req-42 = %d, want 1", n)
	}
}
