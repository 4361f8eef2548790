package probes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/RichardKnop/machinery/v2/tasks"

	"github.com/queueprobe/queueprobe/internal/metrics"
	"github.com/queueprobe/queueprobe/internal/tracing"
)

// ErrNoDispatcher is returned by replacement probes running without a
// server handle.
var ErrNoDispatcher = errors.New("probes: no dispatcher attached")

// ErrEmptyChain is returned when a probe is asked to substitute itself with
// a canvas that has no tasks.
var ErrEmptyChain = errors.New("probes: refusing to dispatch an empty chain")

// StampHeader is set on substitute signatures dispatched by the stamping
// probe.
const StampHeader = "stamped_on_replace"

func intArg(v int64) tasks.Arg {
	return tasks.Arg{Type: "int64", Value: v}
}

func stringArg(v string) tasks.Arg {
	return tasks.Arg{Type: "string", Value: v}
}

// stampTrace copies the active trace context onto substitute signatures so
// the dispatched canvas stays in the replaced probe's trace.
func stampTrace(ctx context.Context, sigs ...*tasks.Signature) {
	carrier := tracing.PropagateTraceToHeaders(ctx)
	if len(carrier) == 0 {
		return
	}
	for _, sig := range sigs {
		if sig.Headers == nil {
			sig.Headers = tasks.Headers{}
		}
		for k, v := range carrier {
			sig.Headers[k] = v
		}
	}
}

func addSignature(x, y int64) *tasks.Signature {
	return &tasks.Signature{
		Name: "add",
		Args: []tasks.Arg{intArg(x), intArg(y)},
	}
}

// echoSignature builds a redis_echo signature. With a message it is pinned
// immutable so chain results do not displace it.
func echoSignature(message string) *tasks.Signature {
	sig := &tasks.Signature{Name: "redis_echo"}
	if message != "" {
		sig.Args = []tasks.Arg{stringArg(message)}
		sig.Immutable = true
	}
	return sig
}

// dispatchChain sends the substitute chain and returns its leading task
// UUID. Replacement is modeled as dispatch: the framework has no in-place
// substitution, so the harness observes the substitute through the side
// channel and the returned id.
func (s *Suite) dispatchChain(ctx context.Context, sigs ...*tasks.Signature) (string, error) {
	if s.dispatcher == nil {
		return "", ErrNoDispatcher
	}
	if len(sigs) == 0 {
		return "", ErrEmptyChain
	}
	chain, err := tasks.NewChain(sigs...)
	if err != nil {
		return "", err
	}
	stampTrace(ctx, chain.Tasks...)
	if _, err := s.dispatcher.SendChainWithContext(ctx, chain); err != nil {
		return "", err
	}
	metrics.ReplacementsTotal.Inc()
	return chain.Tasks[0].UUID, nil
}

// AddReplaced substitutes itself with a plain add task.
func (s *Suite) AddReplaced(ctx context.Context, x, y int64) (string, error) {
	return s.dispatchChain(ctx, addSignature(x, y))
}

// ReplaceWithChain substitutes itself with identity|identity and links an
// echo to the chain's success. A non-empty linkMsg pins the echo to that
// message instead of the chain result.
func (s *Suite) ReplaceWithChain(ctx context.Context, value, linkMsg string) (string, error) {
	first := &tasks.Signature{Name: "identity", Args: []tasks.Arg{stringArg(value)}}
	second := &tasks.Signature{Name: "identity"}
	link := echoSignature(linkMsg)

	if s.dispatcher == nil {
		return "", ErrNoDispatcher
	}
	chain, err := tasks.NewChain(first, second)
	if err != nil {
		return "", err
	}
	last := chain.Tasks[len(chain.Tasks)-1]
	last.OnSuccess = append(last.OnSuccess, link)
	stampTrace(ctx, chain.Tasks...)

	if _, err := s.dispatcher.SendChainWithContext(ctx, chain); err != nil {
		return "", err
	}
	metrics.ReplacementsTotal.Inc()
	return chain.Tasks[0].UUID, nil
}

// ReplaceWithErrorChain substitutes itself with identity|raise_error and
// links an echo to the chain's failure.
func (s *Suite) ReplaceWithErrorChain(ctx context.Context, value, linkMsg string) (string, error) {
	first := &tasks.Signature{Name: "identity", Args: []tasks.Arg{stringArg(value)}}
	second := &tasks.Signature{Name: "raise_error"}
	link := echoSignature(linkMsg)
	second.OnError = append(second.OnError, link)

	return s.dispatchChain(ctx, first, second)
}

// ReplaceWithEmptyChain asks for an empty substitution, which the suite
// rejects at the boundary.
func (s *Suite) ReplaceWithEmptyChain(ctx context.Context) (string, error) {
	return s.dispatchChain(ctx)
}

// AddToAll substitutes itself with a parallel group adding val to every
// supplied number and returns the group id.
func (s *Suite) AddToAll(ctx context.Context, nums []int64, val int64) (string, error) {
	if s.dispatcher == nil {
		return "", ErrNoDispatcher
	}
	sigs := make([]*tasks.Signature, 0, len(nums))
	for _, num := range nums {
		sigs = append(sigs, addSignature(num, val))
	}
	group, err := tasks.NewGroup(sigs...)
	if err != nil {
		return "", err
	}
	stampTrace(ctx, group.Tasks...)
	if _, err := s.dispatcher.SendGroupWithContext(ctx, group, len(sigs)); err != nil {
		return "", err
	}
	metrics.ReplacementsTotal.Inc()
	return group.GroupUUID, nil
}

// ExtendChord grows the running workflow with a chord summing the adds.
func (s *Suite) ExtendChord(ctx context.Context, nums []int64, val int64) (int64, error) {
	if s.dispatcher == nil {
		return 0, ErrNoDispatcher
	}
	sigs := make([]*tasks.Signature, 0, len(nums))
	for _, num := range nums {
		sigs = append(sigs, addSignature(num, val))
	}
	group, err := tasks.NewGroup(sigs...)
	if err != nil {
		return 0, err
	}
	chord, err := tasks.NewChord(group, &tasks.Signature{Name: "tsum"})
	if err != nil {
		return 0, err
	}
	stampTrace(ctx, append(group.Tasks, chord.Callback)...)
	if _, err := s.dispatcher.SendChordWithContext(ctx, chord, len(sigs)); err != nil {
		return 0, err
	}
	metrics.ReplacementsTotal.Inc()
	return 0, nil
}

// ExtendChordWithChord grows the running workflow with a chord nested one
// level deeper than ExtendChord: the summing callback chains onward into a
// pass-through add carrying the chord result.
func (s *Suite) ExtendChordWithChord(ctx context.Context, nums []int64, val int64) (int64, error) {
	if s.dispatcher == nil {
		return 0, ErrNoDispatcher
	}
	sigs := make([]*tasks.Signature, 0, len(nums))
	for _, num := range nums {
		sigs = append(sigs, addSignature(num, val))
	}
	group, err := tasks.NewGroup(sigs...)
	if err != nil {
		return 0, err
	}
	callback := &tasks.Signature{Name: "tsum"}
	callback.OnSuccess = []*tasks.Signature{{Name: "add", Args: []tasks.Arg{intArg(0)}}}
	chord, err := tasks.NewChord(group, callback)
	if err != nil {
		return 0, err
	}
	stampTrace(ctx, append(group.Tasks, chord.Callback)...)
	if _, err := s.dispatcher.SendChordWithContext(ctx, chord, len(sigs)); err != nil {
		return 0, err
	}
	metrics.ReplacementsTotal.Inc()
	return 0, nil
}

// SecondOrderReplaceOuter echoes its entry, substitutes itself with
// inner|outer(done), and on the second pass echoes its exit. The echo list
// In A, In B, In/Out C, Out B, Out A proves replacement ordering.
func (s *Suite) SecondOrderReplaceOuter(ctx context.Context, done bool) (string, error) {
	if done {
		return "", s.side.Echo(ctx, s.keys.EchoKey, "Out A")
	}
	if err := s.side.Echo(ctx, s.keys.EchoKey, "In A"); err != nil {
		return "", err
	}
	inner := &tasks.Signature{Name: "second_order_replace_inner", Args: []tasks.Arg{{Type: "bool", Value: false}}}
	outer := &tasks.Signature{Name: "second_order_replace_outer", Args: []tasks.Arg{{Type: "bool", Value: true}}, Immutable: true}
	return s.dispatchChain(ctx, inner, outer)
}

// SecondOrderReplaceInner is the inner half of the second-order replacement
// ordering probe.
func (s *Suite) SecondOrderReplaceInner(ctx context.Context, done bool) (string, error) {
	if done {
		return "", s.side.Echo(ctx, s.keys.EchoKey, "Out B")
	}
	if err := s.side.Echo(ctx, s.keys.EchoKey, "In B"); err != nil {
		return "", err
	}
	echo := &tasks.Signature{Name: "redis_echo", Args: []tasks.Arg{stringArg("In/Out C")}, Immutable: true}
	again := &tasks.Signature{Name: "second_order_replace_inner", Args: []tasks.Arg{{Type: "bool", Value: true}}, Immutable: true}
	return s.dispatchChain(ctx, echo, again)
}

// FailReplaced substitutes itself with the failing sentinel task.
func (s *Suite) FailReplaced(ctx context.Context, args ...string) (string, error) {
	sig := &tasks.Signature{Name: "fail", Immutable: true}
	for _, a := range args {
		sig.Args = append(sig.Args, stringArg(a))
	}
	return s.dispatchChain(ctx, sig)
}

// ReplacedWithMe is the trivial substitution target.
func ReplacedWithMe() (bool, error) {
	return true, nil
}

// ReplaceWithStampedTask substitutes itself with the named task (default
// replaced_with_me) after stamping the substitute's headers.
func (s *Suite) ReplaceWithStampedTask(ctx context.Context, replaceWith string) (string, error) {
	if replaceWith == "" {
		replaceWith = "replaced_with_me"
	}
	sig := &tasks.Signature{Name: replaceWith}
	stampOnReplace(sig)
	return s.dispatchChain(ctx, sig)
}

func stampOnReplace(sig *tasks.Signature) {
	if sig.Headers == nil {
		sig.Headers = tasks.Headers{}
	}
	sig.Headers[StampHeader] = "This is the replaced task"
}

// ChainAdd fires add(x,x)|add(y) without waiting on the result.
func (s *Suite) ChainAdd(ctx context.Context, x, y int64) error {
	_, err := s.dispatchChain(ctx, addSignature(x, x), &tasks.Signature{Name: "add", Args: []tasks.Arg{intArg(y)}})
	return err
}

// ChordAdd fires chord(add(x,x), add(y)) without waiting on the result.
func (s *Suite) ChordAdd(ctx context.Context, x, y int64) error {
	if s.dispatcher == nil {
		return ErrNoDispatcher
	}
	group, err := tasks.NewGroup(addSignature(x, x))
	if err != nil {
		return err
	}
	chord, err := tasks.NewChord(group, &tasks.Signature{Name: "add", Args: []tasks.Arg{intArg(y)}})
	if err != nil {
		return err
	}
	stampTrace(ctx, append(group.Tasks, chord.Callback)...)
	if _, err := s.dispatcher.SendChordWithContext(ctx, chord, 1); err != nil {
		return err
	}
	metrics.ReplacementsTotal.Inc()
	return nil
}

// BuildChainInsideTask builds and dispatches a chain from inside a task
// body and returns the chain's task UUIDs as JSON, verifying dispatch
// handles convert into serializable values.
func (s *Suite) BuildChainInsideTask(ctx context.Context) (string, error) {
	if s.dispatcher == nil {
		return "", ErrNoDispatcher
	}
	chain, err := tasks.NewChain(
		addSignature(1, 1),
		&tasks.Signature{Name: "add", Args: []tasks.Arg{intArg(2)}},
		&tasks.Signature{Name: "add", Args: []tasks.Arg{intArg(5)}},
	)
	if err != nil {
		return "", err
	}
	stampTrace(ctx, chain.Tasks...)
	if _, err := s.dispatcher.SendChainWithContext(ctx, chain); err != nil {
		return "", err
	}
	metrics.ReplacementsTotal.Inc()

	uuids := make([]string, 0, len(chain.Tasks))
	for _, t := range chain.Tasks {
		uuids = append(uuids, t.UUID)
	}
	b, err := json.Marshal(uuids)
	if err != nil {
		return "", fmt.Errorf("marshal chain ids: %w", err)
	}
	return string(b), nil
}
