// Package canvas carries composed workflow signatures (chains, groups,
// chords) as a JSON envelope. The envelope is a wire format only: it is
// produced by probes that return nested signatures and re-validated by the
// rebuild probe. Execution of canvases stays with the task framework.
package canvas

import (
	"encoding/json"
	"fmt"

	"github.com/RichardKnop/machinery/v2/tasks"
)

const (
	KindSignature = "sig"
	KindChain     = "chain"
	KindGroup     = "group"
	KindChord     = "chord"
)

// Node is one element of a canvas tree. Leaf nodes hold a task signature,
// composite nodes hold child nodes and, for chords, a callback.
type Node struct {
	Kind      string           `json:"kind"`
	Signature *tasks.Signature `json:"signature,omitempty"`
	Tasks     []*Node          `json:"tasks,omitempty"`
	Callback  *Node            `json:"callback,omitempty"`
}

// Sig wraps a task signature as a leaf node.
func Sig(sig *tasks.Signature) *Node {
	return &Node{Kind: KindSignature, Signature: sig}
}

// Chain composes nodes sequentially.
func Chain(nodes ...*Node) *Node {
	return &Node{Kind: KindChain, Tasks: nodes}
}

// Group composes nodes in parallel.
func Group(nodes ...*Node) *Node {
	return &Node{Kind: KindGroup, Tasks: nodes}
}

// Chord composes nodes in parallel with a completion callback.
func Chord(callback *Node, nodes ...*Node) *Node {
	return &Node{Kind: KindChord, Tasks: nodes, Callback: callback}
}

// Encode serializes the canvas tree to JSON.
func Encode(n *Node) (string, error) {
	b, err := json.Marshal(n)
	if err != nil {
		return "", fmt.Errorf("encode canvas: %w", err)
	}
	return string(b), nil
}

// Decode parses a JSON canvas envelope without validating it.
func Decode(payload string) (*Node, error) {
	var n Node
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return nil, fmt.Errorf("decode canvas: %w", err)
	}
	return &n, nil
}

// Rebuild decodes the payload and walks the whole tree, failing on the
// first node that is not a well-formed signature tree.
func Rebuild(payload string) (*Node, error) {
	n, err := Decode(payload)
	if err != nil {
		return nil, err
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}
	return n, nil
}

// Validate recursively checks the canvas tree.
func (n *Node) Validate() error {
	if n == nil {
		return fmt.Errorf("canvas: nil node is not a signature")
	}
	switch n.Kind {
	case KindSignature:
		if n.Signature == nil || n.Signature.Name == "" {
			return fmt.Errorf("canvas: signature node without a task name")
		}
		if len(n.Tasks) > 0 || n.Callback != nil {
			return fmt.Errorf("canvas: signature node %q carries children", n.Signature.Name)
		}
		return nil
	case KindChain, KindGroup:
		for _, child := range n.Tasks {
			if err := child.Validate(); err != nil {
				return err
			}
		}
		if n.Callback != nil {
			return fmt.Errorf("canvas: %s node carries a callback", n.Kind)
		}
		return nil
	case KindChord:
		for _, child := range n.Tasks {
			if err := child.Validate(); err != nil {
				return err
			}
		}
		if n.Callback == nil {
			return fmt.Errorf("canvas: chord node without a callback")
		}
		return n.Callback.Validate()
	default:
		return fmt.Errorf("canvas: %q is not a signature kind", n.Kind)
	}
}

// Signatures returns the leaf signatures of the tree in traversal order,
// chord callbacks last within their node.
func (n *Node) Signatures() []*tasks.Signature {
	if n == nil {
		return nil
	}
	if n.Kind == KindSignature {
		if n.Signature == nil {
			return nil
		}
		return []*tasks.Signature{n.Signature}
	}
	var sigs []*tasks.Signature
	for _, child := range n.Tasks {
		sigs = append(sigs, child.Signatures()...)
	}
	if n.Callback != nil {
		sigs = append(sigs, n.Callback.Signatures()...)
	}
	return sigs
}
