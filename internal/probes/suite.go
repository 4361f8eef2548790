// Package probes is the roster of registered tasks the integration harness
// dispatches against a running worker. Each probe is a thin, single-purpose
// body that exercises one framework behavior: retries, timeouts, chaining,
// replacement-style dispatch, error propagation or serialization edge cases.
// The broker, result backend, retry engine and canvas primitives all belong
// to machinery; nothing here reimplements them.
package probes

import (
	"context"
	"sync"
	"time"

	"github.com/RichardKnop/machinery/v2/backends/result"
	"github.com/RichardKnop/machinery/v2/tasks"

	"github.com/queueprobe/queueprobe/internal/config"
	"github.com/queueprobe/queueprobe/internal/logging"
	"github.com/queueprobe/queueprobe/internal/sidechannel"
)

// Dispatcher is the slice of the framework server the replacement probes
// use to send substitute canvases. *machinery.Server satisfies it.
type Dispatcher interface {
	SendTaskWithContext(ctx context.Context, signature *tasks.Signature) (*result.AsyncResult, error)
	SendChainWithContext(ctx context.Context, chain *tasks.Chain) (*result.ChainAsyncResult, error)
	SendGroupWithContext(ctx context.Context, group *tasks.Group, sendConcurrency int) ([]*result.AsyncResult, error)
	SendChordWithContext(ctx context.Context, chord *tasks.Chord, sendConcurrency int) (*result.ChordAsyncResult, error)
}

type Suite struct {
	side       *sidechannel.Client
	keys       config.Probes
	log        *logging.Logger
	dispatcher Dispatcher
	attempts   *attemptRegistry
	retryDelay time.Duration
	autoRetry  *AutoRetryProbe
}

// New builds a probe suite bound to the given side channel. The dispatcher
// is attached separately because the server is constructed after the suite
// (it needs the registry).
func New(side *sidechannel.Client, keys config.Probes) *Suite {
	if keys.EchoKey == "" {
		keys.EchoKey = sidechannel.DefaultEchoKey
	}
	if keys.CountKey == "" {
		keys.CountKey = sidechannel.DefaultCountKey
	}
	if keys.GroupKey == "" {
		keys.GroupKey = sidechannel.DefaultGroupKey
	}
	s := &Suite{
		side:       side,
		keys:       keys,
		log:        logging.New("queueprobe-probes"),
		attempts:   newAttemptRegistry(),
		retryDelay: 5 * time.Second,
	}
	s.autoRetry = &AutoRetryProbe{attempts: newAttemptRegistry()}
	return s
}

// AttachDispatcher gives the replacement probes a server handle.
func (s *Suite) AttachDispatcher(d Dispatcher) {
	s.dispatcher = d
}

// SetRetryDelay shortens the retry-signal delay, used by tests.
func (s *Suite) SetRetryDelay(d time.Duration) {
	s.retryDelay = d
}

// Registry maps task names to probe functions for server registration.
func (s *Suite) Registry() map[string]interface{} {
	return map[string]interface{}{
		// pure value probes
		"identity":                     Identity,
		"add":                          Add,
		"add_three":                    AddThree,
		"add_variadic":                 AddVariadic,
		"add_ignore_result":            s.AddIgnoreResult,
		"mul":                          Mul,
		"tsum":                         TSum,
		"xsum":                         XSum,
		"delayed_sum":                  DelayedSum,
		"delayed_sum_guarded":          DelayedSumGuarded,
		"sleeping":                     Sleeping,
		"write_to_file_and_return_int": WriteToFileAndReturnInt,
		"return_error":                 ReturnError,

		// failure probes
		"raise_error":         RaiseError,
		"fail":                Fail,
		"fail_unserializable": FailUnserializable,
		"errback_echo":        s.ErrbackEcho,
		"errback_count":       s.ErrbackCount,

		// retry probes
		"retry":                s.Retry,
		"retry_unserializable": s.RetryUnserializable,
		"retry_once":           s.RetryOnce,
		"retry_once_priority":  s.RetryOncePriority,
		"retry_once_headers":   s.RetryOnceHeaders,
		"auto_retry":           s.autoRetry.Run,

		// replacement / canvas dispatch probes
		"add_replaced":               s.AddReplaced,
		"replace_with_chain":         s.ReplaceWithChain,
		"replace_with_error_chain":   s.ReplaceWithErrorChain,
		"replace_with_empty_chain":   s.ReplaceWithEmptyChain,
		"add_to_all":                 s.AddToAll,
		"extend_chord":               s.ExtendChord,
		"extend_chord_with_chord":    s.ExtendChordWithChord,
		"second_order_replace_outer": s.SecondOrderReplaceOuter,
		"second_order_replace_inner": s.SecondOrderReplaceInner,
		"fail_replaced":              s.FailReplaced,
		"replaced_with_me":           ReplacedWithMe,
		"replace_with_stamped_task":  s.ReplaceWithStampedTask,
		"chain_add":                  s.ChainAdd,
		"chord_add":                  s.ChordAdd,
		"build_chain_inside_task":    s.BuildChainInsideTask,

		// introspection probes
		"ids":                  IDs,
		"collect_ids":          CollectIDs,
		"return_priority":      ReturnPriority,
		"return_properties":    ReturnProperties,
		"print_unicode":        s.PrintUnicode,
		"redis_echo":           s.RedisEcho,
		"redis_echo_group_id":  s.EchoGroupID,
		"redis_count":          s.RedisCount,
		"misconfigured_limits": MisconfiguredLimits,

		// schema probes
		"add_validated":       AddValidated,
		"add_validated_alias": AddValidatedAlias,

		// nested signature serialization probes
		"nested_chain_chain": NestedChainChain,
		"nested_chain_group": NestedChainGroup,
		"nested_chain_chord": NestedChainChord,
		"nested_group_chain": NestedGroupChain,
		"nested_group_group": NestedGroupGroup,
		"nested_group_chord": NestedGroupChord,
		"nested_chord_chain": NestedChordChain,
		"nested_chord_group": NestedChordGroup,
		"nested_chord_chord": NestedChordChord,
		"rebuild_canvas":     RebuildCanvas,
	}
}

// attemptRegistry tracks attempts per task UUID across retries within one
// logical invocation. Process-local mutable state on the task scaffold is an
// anti-pattern tolerated only because this is test scaffolding.
type attemptRegistry struct {
	mu sync.Mutex
	m  map[string]int64
}

func newAttemptRegistry() *attemptRegistry {
	return &attemptRegistry{m: make(map[string]int64)}
}

// Bump increments and returns the attempt count for the given UUID.
func (r *attemptRegistry) Bump(uuid string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[uuid]++
	return r.m[uuid]
}

// Load returns the attempt count without incrementing.
func (r *attemptRegistry) Load(uuid string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.m[uuid]
}

// Clear forgets the UUID once its invocation chain settles.
func (r *attemptRegistry) Clear(uuid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.m, uuid)
}

// requestSignature returns the framework-injected signature for the current
// invocation, or an empty one when the probe runs outside a worker.
func requestSignature(ctx context.Context) *tasks.Signature {
	if sig := tasks.SignatureFromContext(ctx); sig != nil {
		return sig
	}
	return &tasks.Signature{}
}
