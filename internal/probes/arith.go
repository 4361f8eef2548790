package probes

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Identity returns the argument.
func Identity(x string) (string, error) {
	return x, nil
}

// Add adds two numbers.
func Add(x, y int64) (int64, error) {
	return x + y, nil
}

// AddThree adds three numbers.
func AddThree(x, y, z int64) (int64, error) {
	return x + y + z, nil
}

// AddVariadic adds any number of addends without checking arity.
func AddVariadic(nums ...int64) (int64, error) {
	var sum int64
	for _, n := range nums {
		sum += n
	}
	return sum, nil
}

// AddIgnoreResult adds two numbers but reports nothing back through the
// result backend; execution is observable only in the worker log.
func (s *Suite) AddIgnoreResult(x, y int64) error {
	s.log.Plain().WithProbe("add_ignore_result").WithField("sum", x+y).Info("computed sum, result ignored")
	return nil
}

// Mul multiplies two numbers.
func Mul(x, y int64) (int64, error) {
	return x * y, nil
}

// TSum sums a slice of numbers.
func TSum(nums []int64) (int64, error) {
	var sum int64
	for _, n := range nums {
		sum += n
	}
	return sum, nil
}

// XSum sums a JSON array whose elements are numbers or nested arrays of
// numbers, e.g. [1,[2,3],4]. Exercises loosely typed argument payloads.
func XSum(payload string) (int64, error) {
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(payload), &items); err != nil {
		return 0, fmt.Errorf("xsum: %w", err)
	}
	var sum int64
	for _, item := range items {
		var n int64
		if err := json.Unmarshal(item, &n); err == nil {
			sum += n
			continue
		}
		var nested []int64
		if err := json.Unmarshal(item, &nested); err != nil {
			return 0, fmt.Errorf("xsum: element %s is neither number nor number list", item)
		}
		for _, n := range nested {
			sum += n
		}
	}
	return sum, nil
}

// DelayedSum sleeps for the given pause and then sums the numbers, keeping
// the task in a running state for a bounded period.
func DelayedSum(nums []int64, pauseMS int64) (int64, error) {
	time.Sleep(time.Duration(pauseMS) * time.Millisecond)
	return TSum(nums)
}

// DelayedSumGuarded is DelayedSum with a soft guard: if the invocation
// context is cancelled before the pause elapses it returns 0 instead of
// failing.
func DelayedSumGuarded(ctx context.Context, nums []int64, pauseMS int64) (int64, error) {
	select {
	case <-time.After(time.Duration(pauseMS) * time.Millisecond):
		return TSum(nums)
	case <-ctx.Done():
		return 0, nil
	}
}

// Sleeping sleeps for the given number of milliseconds and returns nothing,
// used to simulate long-running work for timeout tests.
func Sleeping(ctx context.Context, ms int64) error {
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WriteToFileAndReturnInt appends the value as a line to the named file and
// returns it. The harness uses the file as an ordering assertion.
func WriteToFileAndReturnInt(fileName string, i int64) (int64, error) {
	f, err := os.OpenFile(fileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%d\n", i); err != nil {
		return 0, err
	}
	return i, nil
}

// ReturnError returns the message together with a sentinel true, proving the
// value made it through result serialization rather than error propagation.
func ReturnError(message string) (string, bool, error) {
	return message, true, nil
}
