package probes

import (
	"github.com/RichardKnop/machinery/v2/tasks"

	"github.com/queueprobe/queueprobe/internal/canvas"
)

// The nested builders return canvas envelopes that are never dispatched:
// their arguments would not be fulfilled. They exist to push nested
// signature trees through result serialization.

func addLeaf() *canvas.Node {
	return canvas.Sig(&tasks.Signature{Name: "add"})
}

func NestedChainChain() (string, error) {
	return canvas.Encode(canvas.Chain(canvas.Chain(addLeaf())))
}

func NestedChainGroup() (string, error) {
	return canvas.Encode(canvas.Chain(canvas.Group(addLeaf())))
}

func NestedChainChord() (string, error) {
	return canvas.Encode(canvas.Chain(canvas.Chord(addLeaf(), addLeaf())))
}

func NestedGroupChain() (string, error) {
	return canvas.Encode(canvas.Group(canvas.Chain(addLeaf())))
}

func NestedGroupGroup() (string, error) {
	return canvas.Encode(canvas.Group(canvas.Group(addLeaf())))
}

func NestedGroupChord() (string, error) {
	return canvas.Encode(canvas.Group(canvas.Chord(addLeaf(), addLeaf())))
}

func NestedChordChain() (string, error) {
	return canvas.Encode(canvas.Chord(addLeaf(), canvas.Chain(addLeaf())))
}

func NestedChordGroup() (string, error) {
	return canvas.Encode(canvas.Chord(addLeaf(), canvas.Group(addLeaf())))
}

func NestedChordChord() (string, error) {
	return canvas.Encode(canvas.Chord(addLeaf(), canvas.Chord(addLeaf(), addLeaf())))
}

// RebuildCanvas re-validates a canvas envelope produced by the nested
// builders, failing on anything that is not a signature tree.
func RebuildCanvas(payload string) error {
	_, err := canvas.Rebuild(payload)
	return err
}
