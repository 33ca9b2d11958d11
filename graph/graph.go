// Package graph builds content-addressed rendering graphs for the
// platform's graph registry. Node ids are stable hashes over the
// operator, its canonicalized parameters and its ancestor ids, so the
// same tree built anywhere hashes to the same graph.
package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/rdatools/rda/utils"
)

type Node struct {
	ID         string            `json:"id"`
	Operator   string            `json:"operator"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

type Edge struct {
	ID          string `json:"id"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Index       int    `json:"index"`
}

type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Op is one node of an operator tree under construction. Ops are
// immutable once built; sharing a subtree shares its ids.
type Op struct {
	operator  string
	params    map[string]string
	ancestors []*Op
	id        string
}

// NewOp builds an operator node over the given ancestors. Parameter
// values that are not strings are serialized as JSON; values that JSON
// cannot express are rejected.
func NewOp(operator string, params map[string]interface{}, ancestors ...*Op) (*Op, error) {
	if len(operator) == 0 {
		return nil, fmt.Errorf("empty operator name: %w", utils.ErrBadGraph)
	}
	for i, a := range ancestors {
		if a == nil || len(a.id) == 0 {
			return nil, fmt.Errorf("operator %s: ancestor %d is not a built op: %w", operator, i, utils.ErrBadGraph)
		}
	}

	canonical := make(map[string]string, len(params))
	for k, v := range params {
		s, err := canonicalValue(v)
		if err != nil {
			return nil, fmt.Errorf("operator %s: parameter %s: %w", operator, k, err)
		}
		canonical[k] = s
	}

	op := &Op{operator: operator, params: canonical, ancestors: ancestors}
	op.id = op.hash()
	return op, nil
}

func canonicalValue(v interface{}) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case nil:
		return "null", nil
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return "", fmt.Errorf("%v: %w", err, utils.ErrBadParameter)
		}
		return string(data), nil
	}
}

func (op *Op) hash() string {
	h := sha256.New()
	h.Write([]byte(op.operator))
	h.Write([]byte{0})

	keys := make([]string, 0, len(op.params))
	for k := range op.params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(op.params[k]))
		h.Write([]byte{0})
	}

	h.Write([]byte{0})
	for _, a := range op.ancestors {
		h.Write([]byte(a.id))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func edgeID(source, destination string, index int) string {
	h := sha256.New()
	h.Write([]byte(source))
	h.Write([]byte{0})
	h.Write([]byte(destination))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(index)))
	return hex.EncodeToString(h.Sum(nil))
}

func (op *Op) ID() string {
	return op.id
}

func (op *Op) Operator() string {
	return op.operator
}

func (op *Op) Parameters() map[string]string {
	out := make(map[string]string, len(op.params))
	for k, v := range op.params {
		out[k] = v
	}
	return out
}

func (op *Op) Ancestors() []*Op {
	return op.ancestors
}

// Graph walks the tree rooted at op and produces the canonical
// payload: nodes and edges deduplicated on id and sorted by id.
func (op *Op) Graph() *Graph {
	nodes := map[string]Node{}
	edges := map[string]Edge{}

	var walk func(o *Op)
	walk = func(o *Op) {
		if _, seen := nodes[o.id]; seen {
			return
		}
		nodes[o.id] = Node{ID: o.id, Operator: o.operator, Parameters: o.params}
		for i, a := range o.ancestors {
			e := Edge{Source: a.id, Destination: o.id, Index: i + 1}
			e.ID = edgeID(e.Source, e.Destination, e.Index)
			edges[e.ID] = e
			walk(a)
		}
	}
	walk(op)

	g := &Graph{
		Nodes: make([]Node, 0, len(nodes)),
		Edges: make([]Edge, 0, len(edges)),
	}
	for _, n := range nodes {
		g.Nodes = append(g.Nodes, n)
	}
	for _, e := range edges {
		g.Edges = append(g.Edges, e)
	}
	sort.Slice(g.Nodes, func(i, j int) bool { return g.Nodes[i].ID < g.Nodes[j].ID })
	sort.Slice(g.Edges, func(i, j int) bool { return g.Edges[i].ID < g.Edges[j].ID })
	return g
}

// CanonicalJSON is the byte-stable serialization posted to the
// registry. Identical graphs yield identical payloads.
func (g *Graph) CanonicalJSON() ([]byte, error) {
	return json.Marshal(g)
}
