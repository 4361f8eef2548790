package probes

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestIdentity(t *testing.T) {
	got, err := Identity("echo me")
	if err != nil {
		t.Fatalf("Identity() error: %v", err)
	}
	if got != "echo me" {
		t.Errorf("Identity() = %q, want %q", got, "echo me")
	}
}

func TestAddFamily(t *testing.T) {
	must := func(n int64, err error) int64 {
		t.Helper()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return n
	}

	tests := []struct {
		name string
		got  int64
		want int64
	}{
		{"add", must(Add(2, 3)), 5},
		{"add negative", must(Add(-2, 3)), 1},
		{"add three", must(AddThree(1, 2, 3)), 6},
		{"add variadic empty", must(AddVariadic()), 0},
		{"add variadic many", must(AddVariadic(1, 2, 3, 4)), 10},
		{"mul", must(Mul(4, 5)), 20},
		{"mul by zero", must(Mul(4, 0)), 0},
		{"tsum", must(TSum([]int64{1, 2, 3, 4})), 10},
		{"tsum empty", must(TSum(nil)), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %d, want %d", tt.got, tt.want)
			}
		})
	}
}

func TestXSum(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    int64
		wantErr bool
	}{
		{"flat numbers", "[1,2,3]", 6, false},
		{"nested lists", "[[1,2],[3,4]]", 10, false},
		{"mixed", "[1,[2,3],4]", 10, false},
		{"empty", "[]", 0, false},
		{"not an array", `{"x":1}`, 0, true},
		{"string element", `[1,"two"]`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := XSum(tt.payload)
			if tt.wantErr {
				if err == nil {
					t.Fatal("XSum() accepted bad payload")
				}
				return
			}
			if err != nil {
				t.Fatalf("XSum() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("XSum(%q) = %d, want %d", tt.payload, got, tt.want)
			}
		})
	}
}

func TestDelayedSum(t *testing.T) {
	start := time.Now()
	got, err := DelayedSum([]int64{1, 2, 3}, 20)
	if err != nil {
		t.Fatalf("DelayedSum() error: %v", err)
	}
	if got != 6 {
		t.Errorf("DelayedSum() = %d, want 6", got)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("DelayedSum() returned after %v, want >= 20ms", elapsed)
	}
}

func TestDelayedSumGuarded(t *testing.T) {
	t.Run("completes within pause", func(t *testing.T) {
		got, err := DelayedSumGuarded(context.Background(), []int64{1, 2, 3}, 5)
		if err != nil {
			t.Fatalf("DelayedSumGuarded() error: %v", err)
		}
		if got != 6 {
			t.Errorf("DelayedSumGuarded() = %d, want 6", got)
		}
	})

	t.Run("soft guard on cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		got, err := DelayedSumGuarded(ctx, []int64{1, 2, 3}, 1000)
		if err != nil {
			t.Fatalf("DelayedSumGuarded() error: %v", err)
		}
		if got != 0 {
			t.Errorf("DelayedSumGuarded() after cancel = %d, want 0", got)
		}
	})
}

func TestSleeping(t *testing.T) {
	if err := Sleeping(context.Background(), 1); err != nil {
		t.Errorf("Sleeping() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleeping(ctx, 1000); err == nil {
		t.Error("Sleeping() with cancelled context returned nil")
	}
}

func TestWriteToFileAndReturnInt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ordering.txt")

	for _, i := range []int64{3, 1, 2} {
		got, err := WriteToFileAndReturnInt(path, i)
		if err != nil {
			t.Fatalf("WriteToFileAndReturnInt(%d) error: %v", i, err)
		}
		if got != i {
			t.Errorf("WriteToFileAndReturnInt(%d) = %d, want %d", i, got, i)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "3\n1\n2\n" {
		t.Errorf("file contents = %q, want %q", data, "3\n1\n2\n")
	}
}

func TestReturnError(t *testing.T) {
	msg, sentinel, err := ReturnError("boom")
	if err != nil {
		t.Fatalf("ReturnError() error: %v", err)
	}
	if msg != "boom" || !sentinel {
		t.Errorf("ReturnError() = (%q, %v), want (%q, true)", msg, sentinel, "boom")
	}
}
