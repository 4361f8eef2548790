package probes

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/RichardKnop/machinery/v2/backends/result"
	"github.com/RichardKnop/machinery/v2/tasks"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/queueprobe/queueprobe/internal/sidechannel"
	"github.com/queueprobe/queueprobe/internal/tracing"
)

// fakeDispatcher records everything sent through it.
type fakeDispatcher struct {
	sigs   []*tasks.Signature
	chains []*tasks.Chain
	groups []*tasks.Group
	chords []*tasks.Chord
}

func (f *fakeDispatcher) SendTaskWithContext(_ context.Context, sig *tasks.Signature) (*result.AsyncResult, error) {
	f.sigs = append(f.sigs, sig)
	return nil, nil
}

func (f *fakeDispatcher) SendChainWithContext(_ context.Context, chain *tasks.Chain) (*result.ChainAsyncResult, error) {
	f.chains = append(f.chains, chain)
	return nil, nil
}

func (f *fakeDispatcher) SendGroupWithContext(_ context.Context, group *tasks.Group, _ int) ([]*result.AsyncResult, error) {
	f.groups = append(f.groups, group)
	return nil, nil
}

func (f *fakeDispatcher) SendChordWithContext(_ context.Context, chord *tasks.Chord, _ int) (*result.ChordAsyncResult, error) {
	f.chords = append(f.chords, chord)
	return nil, nil
}

func newReplaceSuite(t *testing.T) (*Suite, *fakeDispatcher, *sidechannel.Client) {
	t.Helper()
	suite, side := newTestSuite(t)
	d := &fakeDispatcher{}
	suite.AttachDispatcher(d)
	return suite, d, side
}

func TestReplacementProbesRequireDispatcher(t *testing.T) {
	suite, _ := newTestSuite(t)
	ctx := context.Background()

	if _, err := suite.AddReplaced(ctx, 1, 2); !errors.Is(err, ErrNoDispatcher) {
		t.Errorf("AddReplaced() without dispatcher = %v, want ErrNoDispatcher", err)
	}
	if _, err := suite.AddToAll(ctx, []int64{1}, 1); !errors.Is(err, ErrNoDispatcher) {
		t.Errorf("AddToAll() without dispatcher = %v, want ErrNoDispatcher", err)
	}
}

func TestAddReplaced(t *testing.T) {
	suite, d, _ := newReplaceSuite(t)

	uuid, err := suite.AddReplaced(context.Background(), 2, 3)
	if err != nil {
		t.Fatalf("AddReplaced() error: %v", err)
	}
	if len(d.chains) != 1 {
		t.Fatalf("dispatched %d chains, want 1", len(d.chains))
	}
	chain := d.chains[0]
	if len(chain.Tasks) != 1 || chain.Tasks[0].Name != "add" {
		t.Errorf("substitute chain = %+v, want single add task", chain.Tasks)
	}
	if uuid != chain.Tasks[0].UUID {
		t.Errorf("returned uuid %q, want leading task uuid %q", uuid, chain.Tasks[0].UUID)
	}
}

func TestReplaceWithChain(t *testing.T) {
	tests := []struct {
		name        string
		linkMsg     string
		wantLinkArg bool
	}{
		{"link follows chain result", "", false},
		{"pinned link message", "chain done", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			suite, d, _ := newReplaceSuite(t)

			_, err := suite.ReplaceWithChain(context.Background(), "hello", tt.linkMsg)
			if err != nil {
				t.Fatalf("ReplaceWithChain() error: %v", err)
			}
			if len(d.chains) != 1 {
				t.Fatalf("dispatched %d chains, want 1", len(d.chains))
			}
			chain := d.chains[0]
			if len(chain.Tasks) != 2 {
				t.Fatalf("chain has %d tasks, want 2", len(chain.Tasks))
			}

			last := chain.Tasks[1]
			if len(last.OnSuccess) == 0 {
				t.Fatal("last chain task has no success link")
			}
			link := last.OnSuccess[len(last.OnSuccess)-1]
			if link.Name != "redis_echo" {
				t.Errorf("link task = %q, want redis_echo", link.Name)
			}
			if tt.wantLinkArg {
				if !link.Immutable || len(link.Args) != 1 || link.Args[0].Value != tt.linkMsg {
					t.Errorf("link = %+v, want immutable with arg %q", link, tt.linkMsg)
				}
			} else if link.Immutable {
				t.Error("link without message must stay mutable to receive the chain result")
			}
		})
	}
}

func TestReplaceWithErrorChain(t *testing.T) {
	suite, d, _ := newReplaceSuite(t)

	_, err := suite.ReplaceWithErrorChain(context.Background(), "hello", "it failed")
	if err != nil {
		t.Fatalf("ReplaceWithErrorChain() error: %v", err)
	}
	chain := d.chains[0]
	last := chain.Tasks[len(chain.Tasks)-1]
	if last.Name != "raise_error" {
		t.Errorf("last task = %q, want raise_error", last.Name)
	}
	if len(last.OnError) != 1 || last.OnError[0].Name != "redis_echo" {
		t.Errorf("error link = %+v, want redis_echo", last.OnError)
	}
}

func TestReplaceWithEmptyChain(t *testing.T) {
	suite, _, _ := newReplaceSuite(t)

	if _, err := suite.ReplaceWithEmptyChain(context.Background()); !errors.Is(err, ErrEmptyChain) {
		t.Errorf("ReplaceWithEmptyChain() = %v, want ErrEmptyChain", err)
	}
}

func TestAddToAll(t *testing.T) {
	suite, d, _ := newReplaceSuite(t)

	groupID, err := suite.AddToAll(context.Background(), []int64{1, 2, 3}, 10)
	if err != nil {
		t.Fatalf("AddToAll() error: %v", err)
	}
	if len(d.groups) != 1 {
		t.Fatalf("dispatched %d groups, want 1", len(d.groups))
	}
	group := d.groups[0]
	if len(group.Tasks) != 3 {
		t.Errorf("group has %d tasks, want 3", len(group.Tasks))
	}
	if groupID != group.GroupUUID {
		t.Errorf("returned group id %q, want %q", groupID, group.GroupUUID)
	}
	for _, sig := range group.Tasks {
		if sig.Name != "add" {
			t.Errorf("group member = %q, want add", sig.Name)
		}
		if sig.GroupUUID != group.GroupUUID {
			t.Errorf("member group uuid = %q, want %q", sig.GroupUUID, group.GroupUUID)
		}
	}
}

func TestExtendChord(t *testing.T) {
	suite, d, _ := newReplaceSuite(t)

	got, err := suite.ExtendChord(context.Background(), []int64{1, 2}, 5)
	if err != nil {
		t.Fatalf("ExtendChord() error: %v", err)
	}
	if got != 0 {
		t.Errorf("ExtendChord() = %d, want 0", got)
	}
	if len(d.chords) != 1 {
		t.Fatalf("dispatched %d chords, want 1", len(d.chords))
	}
	chord := d.chords[0]
	if chord.Callback.Name != "tsum" {
		t.Errorf("chord callback = %q, want tsum", chord.Callback.Name)
	}
}

func TestExtendChordWithChordNestsCallback(t *testing.T) {
	suite, d, _ := newReplaceSuite(t)
	ctx := context.Background()

	if _, err := suite.ExtendChord(ctx, []int64{1, 2}, 5); err != nil {
		t.Fatalf("ExtendChord() error: %v", err)
	}
	if _, err := suite.ExtendChordWithChord(ctx, []int64{1, 2}, 5); err != nil {
		t.Fatalf("ExtendChordWithChord() error: %v", err)
	}
	if len(d.chords) != 2 {
		t.Fatalf("dispatched %d chords, want 2", len(d.chords))
	}

	flat, nested := d.chords[0], d.chords[1]
	if len(flat.Callback.OnSuccess) != 0 {
		t.Errorf("flat chord callback chains %+v, want none", flat.Callback.OnSuccess)
	}
	if nested.Callback.Name != "tsum" {
		t.Errorf("nested chord callback = %q, want tsum", nested.Callback.Name)
	}
	if len(nested.Callback.OnSuccess) != 1 || nested.Callback.OnSuccess[0].Name != "add" {
		t.Fatalf("nested chord callback chains %+v, want a single add", nested.Callback.OnSuccess)
	}
	if args := nested.Callback.OnSuccess[0].Args; len(args) != 1 || args[0].Value != int64(0) {
		t.Errorf("pass-through add args = %+v, want pinned 0", args)
	}
}

func TestSubstituteCarriesTraceHeaders(t *testing.T) {
	otel.SetTracerProvider(sdktrace.NewTracerProvider())
	otel.SetTextMapPropagator(propagation.TraceContext{})

	suite, d, _ := newReplaceSuite(t)
	ctx, span := tracing.StartSpan(context.Background(), "replace.dispatch")
	defer span.End()

	if _, err := suite.AddReplaced(ctx, 1, 2); err != nil {
		t.Fatalf("AddReplaced() error: %v", err)
	}
	sig := d.chains[0].Tasks[0]
	if _, ok := sig.Headers["traceparent"]; !ok {
		t.Errorf("chain headers = %v, want traceparent", sig.Headers)
	}

	if _, err := suite.AddToAll(ctx, []int64{1, 2}, 3); err != nil {
		t.Fatalf("AddToAll() error: %v", err)
	}
	for _, member := range d.groups[0].Tasks {
		if _, ok := member.Headers["traceparent"]; !ok {
			t.Errorf("group member headers = %v, want traceparent", member.Headers)
		}
	}

	// Without an active span the substitute stays unstamped.
	fresh := &fakeDispatcher{}
	suite.AttachDispatcher(fresh)
	if _, err := suite.AddReplaced(context.Background(), 1, 2); err != nil {
		t.Fatalf("AddReplaced() error: %v", err)
	}
	if headers := fresh.chains[0].Tasks[0].Headers; headers != nil {
		t.Errorf("headers without an active span = %v, want none", headers)
	}
}

func TestSecondOrderReplaceOrdering(t *testing.T) {
	suite, d, side := newReplaceSuite(t)
	ctx := context.Background()

	// Drive the replacement chain by hand the way re-delivery would.
	if _, err := suite.SecondOrderReplaceOuter(ctx, false); err != nil {
		t.Fatalf("outer(false) error: %v", err)
	}
	if _, err := suite.SecondOrderReplaceInner(ctx, false); err != nil {
		t.Fatalf("inner(false) error: %v", err)
	}
	if err := suite.RedisEcho("In/Out C"); err != nil {
		t.Fatalf("echo error: %v", err)
	}
	if _, err := suite.SecondOrderReplaceInner(ctx, true); err != nil {
		t.Fatalf("inner(true) error: %v", err)
	}
	if _, err := suite.SecondOrderReplaceOuter(ctx, true); err != nil {
		t.Fatalf("outer(true) error: %v", err)
	}

	got, err := side.Range(ctx, sidechannel.DefaultEchoKey)
	if err != nil {
		t.Fatalf("Range() error: %v", err)
	}
	want := []string{"In A", "In B", "In/Out C", "Out B", "Out A"}
	if len(got) != len(want) {
		t.Fatalf("echo list = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("echo[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	// Each non-terminal pass dispatched one substitute chain.
	if len(d.chains) != 2 {
		t.Errorf("dispatched %d chains, want 2", len(d.chains))
	}
}

func TestFailReplaced(t *testing.T) {
	suite, d, _ := newReplaceSuite(t)

	_, err := suite.FailReplaced(context.Background(), "extra")
	if err != nil {
		t.Fatalf("FailReplaced() error: %v", err)
	}
	sig := d.chains[0].Tasks[0]
	if sig.Name != "fail" || !sig.Immutable {
		t.Errorf("substitute = %+v, want immutable fail task", sig)
	}
	if len(sig.Args) != 1 || sig.Args[0].Value != "extra" {
		t.Errorf("substitute args = %+v, want [extra]", sig.Args)
	}
}

func TestReplaceWithStampedTask(t *testing.T) {
	suite, d, _ := newReplaceSuite(t)

	t.Run("default target", func(t *testing.T) {
		if _, err := suite.ReplaceWithStampedTask(context.Background(), ""); err != nil {
			t.Fatalf("ReplaceWithStampedTask() error: %v", err)
		}
		sig := d.chains[0].Tasks[0]
		if sig.Name != "replaced_with_me" {
			t.Errorf("substitute = %q, want replaced_with_me", sig.Name)
		}
		if sig.Headers[StampHeader] != "This is the replaced task" {
			t.Errorf("stamp header = %v, want stamp", sig.Headers[StampHeader])
		}
	})

	t.Run("explicit target", func(t *testing.T) {
		if _, err := suite.ReplaceWithStampedTask(context.Background(), "identity"); err != nil {
			t.Fatalf("ReplaceWithStampedTask() error: %v", err)
		}
		sig := d.chains[1].Tasks[0]
		if sig.Name != "identity" {
			t.Errorf("substitute = %q, want identity", sig.Name)
		}
	})
}

func TestReplacedWithMe(t *testing.T) {
	ok, err := ReplacedWithMe()
	if err != nil || !ok {
		t.Errorf("ReplacedWithMe() = (%v, %v), want (true, nil)", ok, err)
	}
}

func TestChainAddAndChordAdd(t *testing.T) {
	suite, d, _ := newReplaceSuite(t)
	ctx := context.Background()

	if err := suite.ChainAdd(ctx, 4, 8); err != nil {
		t.Fatalf("ChainAdd() error: %v", err)
	}
	if len(d.chains) != 1 || len(d.chains[0].Tasks) != 2 {
		t.Fatalf("ChainAdd dispatched %+v, want one 2-task chain", d.chains)
	}

	if err := suite.ChordAdd(ctx, 4, 8); err != nil {
		t.Fatalf("ChordAdd() error: %v", err)
	}
	if len(d.chords) != 1 {
		t.Fatalf("ChordAdd dispatched %d chords, want 1", len(d.chords))
	}
	if d.chords[0].Callback.Name != "add" {
		t.Errorf("chord callback = %q, want add", d.chords[0].Callback.Name)
	}
}

func TestBuildChainInsideTask(t *testing.T) {
	suite, d, _ := newReplaceSuite(t)

	payload, err := suite.BuildChainInsideTask(context.Background())
	if err != nil {
		t.Fatalf("BuildChainInsideTask() error: %v", err)
	}

	var uuids []string
	if err := json.Unmarshal([]byte(payload), &uuids); err != nil {
		t.Fatalf("result is not a JSON id list: %v", err)
	}
	if len(uuids) != 3 {
		t.Fatalf("returned %d ids, want 3", len(uuids))
	}
	for i, sig := range d.chains[0].Tasks {
		if uuids[i] != sig.UUID {
			t.Errorf("uuids[%d] = %q, want %q", i, uuids[i], sig.UUID)
		}
	}
}
