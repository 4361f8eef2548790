package probes

import (
	"context"
	"encoding/json"

	"github.com/RichardKnop/machinery/v2/tasks"

	"github.com/queueprobe/queueprobe/internal/metrics"
)

// Retry simulates multiple retries through the framework's retry signal.
// With a return value it succeeds after three retries; without one it keeps
// asking to be re-delivered.
func (s *Suite) Retry(ctx context.Context, returnValue string) (string, error) {
	sig := requestSignature(ctx)

	if returnValue != "" {
		attempt := s.attempts.Load(sig.UUID)
		s.log.Plain().WithProbe("retry").WithTask(sig.UUID).WithField("attempt", attempt).Info("retry attempt")
		if attempt >= 3 {
			s.attempts.Clear(sig.UUID)
			return returnValue, nil
		}
		s.attempts.Bump(sig.UUID)
	}

	metrics.RetrySignalsTotal.WithLabelValues("retry").Inc()
	return "", tasks.NewErrRetryTaskLater(NewExpectedError("retry expected").Error(), s.retryDelay)
}

// RetryUnserializable raises a retry signal whose underlying failure cannot
// be reconstructed on the client side.
func (s *Suite) RetryUnserializable(ctx context.Context, foo, bar string) error {
	uerr, err := NewUnserializableError(foo, bar)
	if err != nil {
		return err
	}
	metrics.RetrySignalsTotal.WithLabelValues("retry_unserializable").Inc()
	return tasks.NewErrRetryTaskLater(uerr.Error(), s.retryDelay)
}

// RetryOnce fails while the framework still owes it retries and then returns
// the number of retries performed. Dispatch it with RetryCount set.
func (s *Suite) RetryOnce(ctx context.Context) (int64, error) {
	sig := requestSignature(ctx)
	attempt := s.attempts.Bump(sig.UUID)

	if sig.RetryCount == 0 {
		s.attempts.Clear(sig.UUID)
		return attempt - 1, nil
	}
	metrics.RetrySignalsTotal.WithLabelValues("retry_once").Inc()
	return 0, NewExpectedError("failing until retries are exhausted")
}

// RetryOncePriority fails once and then returns the delivery priority the
// framework carried across the retry.
func (s *Suite) RetryOncePriority(ctx context.Context) (int64, error) {
	sig := requestSignature(ctx)

	if sig.RetryCount == 0 {
		s.attempts.Clear(sig.UUID)
		return int64(sig.Priority), nil
	}
	s.attempts.Bump(sig.UUID)
	metrics.RetrySignalsTotal.WithLabelValues("retry_once_priority").Inc()
	return 0, NewExpectedError("failing until retries are exhausted")
}

// RetryOnceHeaders fails once and then returns the signature headers as
// JSON, proving custom headers survive re-delivery.
func (s *Suite) RetryOnceHeaders(ctx context.Context) (string, error) {
	sig := requestSignature(ctx)

	if sig.RetryCount == 0 {
		s.attempts.Clear(sig.UUID)
		b, err := json.Marshal(sig.Headers)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	s.attempts.Bump(sig.UUID)
	metrics.RetrySignalsTotal.WithLabelValues("retry_once_headers").Inc()
	return "", NewExpectedError("failing until retries are exhausted")
}

// AutoRetryProbe keeps mutable attempt state on the task value itself, a
// class-based task whose failures the framework converts into retries via
// the signature's retry budget.
type AutoRetryProbe struct {
	attempts *attemptRegistry
}

// Run fails on first delivery and returns the attempts performed once the
// retry budget is spent.
func (p *AutoRetryProbe) Run(ctx context.Context) (int64, error) {
	sig := requestSignature(ctx)
	attempt := p.attempts.Bump(sig.UUID)

	if sig.RetryCount == 0 {
		p.attempts.Clear(sig.UUID)
		return attempt - 1, nil
	}
	metrics.RetrySignalsTotal.WithLabelValues("auto_retry").Inc()
	return 0, NewExpectedError("auto retry value error")
}
