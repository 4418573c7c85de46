// Package stn implements a simple temporal network over task and robot
// timepoints. Constraints are held in distance-graph form: a requirement
// b - a in [min, max] becomes the directed edges a->b with weight max and
// b->a with weight -min. The network is consistent exactly when the distance
// graph has no negative cycle.
package stn

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
)

// ErrTemporalConflict is returned when an edge insertion or bound change
// would create a negative cycle. The change is rolled back before returning.
var ErrTemporalConflict = errors.New("temporal conflict")

// Point identifies a timepoint in the network.
type Point int

// Zero is the zero timepoint every absolute bound is anchored to.
const Zero Point = 0

// TxID identifies an open transaction.
type TxID = uuid.UUID

type undoOp struct {
	from, to Point
	prev     float64
	existed  bool
}

type savepoint struct {
	id     TxID
	undo   []undoOp
	points int // point count when the savepoint was opened
}

// Network is a mutable simple temporal network. It is not safe for concurrent
// use; each fleet instance owns one exclusively under a single-writer
// discipline.
type Network struct {
	names []string
	out   map[Point]map[Point]float64

	txs []*savepoint

	dirty    bool
	earliest []float64
	latest   []float64
}

// New creates a network containing only the zero timepoint.
func New() *Network {
	return &Network{
		names: []string{"z"},
		out:   make(map[Point]map[Point]float64),
		dirty: true,
	}
}

// AddPoint appends a timepoint. Points created inside a transaction are
// removed again if the transaction rolls back.
func (n *Network) AddPoint(name string) Point {
	p := Point(len(n.names))
	n.names = append(n.names, name)
	n.dirty = true
	return p
}

// NumPoints returns the number of timepoints, including the zero timepoint.
func (n *Network) NumPoints() int { return len(n.names) }

// PointName returns the debug name of a timepoint.
func (n *Network) PointName(p Point) string {
	if int(p) < 0 || int(p) >= len(n.names) {
		return fmt.Sprintf("p%d", int(p))
	}
	return n.names[p]
}

func (n *Network) weight(from, to Point) (float64, bool) {
	row, ok := n.out[from]
	if !ok {
		return 0, false
	}
	w, ok := row[to]
	return w, ok
}

func (n *Network) setWeight(from, to Point, w float64, ops *[]undoOp) {
	prev, existed := n.weight(from, to)
	if existed && prev == w {
		return
	}
	*ops = append(*ops, undoOp{from: from, to: to, prev: prev, existed: existed})
	row := n.out[from]
	if row == nil {
		row = make(map[Point]float64)
		n.out[from] = row
	}
	row[to] = w
	n.dirty = true
}

func (n *Network) deleteWeight(from, to Point, ops *[]undoOp) {
	prev, existed := n.weight(from, to)
	if !existed {
		return
	}
	*ops = append(*ops, undoOp{from: from, to: to, prev: prev, existed: true})
	delete(n.out[from], to)
	n.dirty = true
}

// tighten intersects the edge with a new upper weight.
func (n *Network) tighten(from, to Point, w float64, ops *[]undoOp) {
	if prev, ok := n.weight(from, to); ok && prev <= w {
		return
	}
	n.setWeight(from, to, w, ops)
}

func (n *Network) applyUndo(ops []undoOp) {
	for i := len(ops) - 1; i >= 0; i-- {
		op := ops[i]
		if op.existed {
			n.out[op.from][op.to] = op.prev
		} else {
			delete(n.out[op.from], op.to)
		}
	}
	if len(ops) > 0 {
		n.dirty = true
	}
}

// record appends local ops to the innermost open transaction, if any.
func (n *Network) record(ops []undoOp) {
	if len(n.txs) == 0 {
		return
	}
	top := n.txs[len(n.txs)-1]
	top.undo = append(top.undo, ops...)
}

// AddConstraint requires b - a to lie in [min, max]. Infinite bounds are
// skipped. If the constraint makes the network inconsistent it is undone and
// ErrTemporalConflict is returned.
func (n *Network) AddConstraint(a, b Point, min, max float64) error {
	var ops []undoOp
	if !math.IsInf(max, 1) {
		n.tighten(a, b, max, &ops)
	}
	if !math.IsInf(min, -1) {
		n.tighten(b, a, -min, &ops)
	}
	return n.finish(ops)
}

// RemoveConstraint deletes both directed edges between a and b.
func (n *Network) RemoveConstraint(a, b Point) {
	var ops []undoOp
	n.deleteWeight(a, b, &ops)
	n.deleteWeight(b, a, &ops)
	n.record(ops)
}

// Tighten sets the upper bound of p relative to the zero timepoint,
// overwriting any previous explicit bound. Returns ErrTemporalConflict and
// restores the old bound if the new one is inconsistent.
func (n *Network) Tighten(p Point, bound float64) error {
	var ops []undoOp
	n.setWeight(Zero, p, bound, &ops)
	return n.finish(ops)
}

// RaiseLower sets the lower bound of p relative to the zero timepoint.
func (n *Network) RaiseLower(p Point, bound float64) error {
	var ops []undoOp
	n.setWeight(p, Zero, -bound, &ops)
	return n.finish(ops)
}

// Upper returns the explicit upper bound of p, or +inf if none is set.
func (n *Network) Upper(p Point) float64 {
	if w, ok := n.weight(Zero, p); ok {
		return w
	}
	return math.Inf(1)
}

// Lower returns the explicit lower bound of p, or -inf if none is set.
func (n *Network) Lower(p Point) float64 {
	if w, ok := n.weight(p, Zero); ok {
		return -w
	}
	return math.Inf(-1)
}

// WidenUpper relaxes the upper bound of p by delta. Widening cannot create a
// negative cycle, but the bound must already exist.
func (n *Network) WidenUpper(p Point, delta float64) error {
	w, ok := n.weight(Zero, p)
	if !ok {
		return fmt.Errorf("point %s has no upper bound to widen", n.PointName(p))
	}
	var ops []undoOp
	n.setWeight(Zero, p, w+delta, &ops)
	n.record(ops)
	return nil
}

// finish validates the network after a mutation. On conflict the local ops
// are undone so the caller observes no change.
func (n *Network) finish(ops []undoOp) error {
	if len(ops) == 0 {
		return nil
	}
	if !n.IsConsistent() {
		n.applyUndo(ops)
		return ErrTemporalConflict
	}
	n.record(ops)
	return nil
}

// IsConsistent probes the distance graph for a negative cycle using a
// Bellman-Ford pass with all points as sources.
func (n *Network) IsConsistent() bool {
	v := len(n.names)
	dist := make([]float64, v)
	for i := 0; i < v-1; i++ {
		changed := false
		for from, row := range n.out {
			for to, w := range row {
				if dist[from]+w < dist[to] {
					dist[to] = dist[from] + w
					changed = true
				}
			}
		}
		if !changed {
			return true
		}
	}
	for from, row := range n.out {
		for to, w := range row {
			if dist[from]+w < dist[to] {
				return false
			}
		}
	}
	return true
}

// solve recomputes earliest and latest times for all points. latest(p) is
// the shortest distance Zero->p; earliest(p) is the negated shortest distance
// p->Zero. Requires a consistent network.
func (n *Network) solve() {
	if !n.dirty {
		return
	}
	v := len(n.names)

	latest := make([]float64, v)
	for i := range latest {
		latest[i] = math.Inf(1)
	}
	latest[Zero] = 0
	for i := 0; i < v-1; i++ {
		changed := false
		for from, row := range n.out {
			if math.IsInf(latest[from], 1) {
				continue
			}
			for to, w := range row {
				if latest[from]+w < latest[to] {
					latest[to] = latest[from] + w
					changed = true
				}
			}
		}
		if !changed {
			break
		}
	}

	// Shortest paths to Zero, via relaxation over incoming edges.
	toZero := make([]float64, v)
	for i := range toZero {
		toZero[i] = math.Inf(1)
	}
	toZero[Zero] = 0
	for i := 0; i < v-1; i++ {
		changed := false
		for from, row := range n.out {
			for to, w := range row {
				if w+toZero[to] < toZero[from] {
					toZero[from] = w + toZero[to]
					changed = true
				}
			}
		}
		if !changed {
			break
		}
	}

	earliest := make([]float64, v)
	for i := range earliest {
		earliest[i] = -toZero[i]
	}

	n.earliest, n.latest = earliest, latest
	n.dirty = false
}

// EarliestTime returns the earliest consistent time of p.
func (n *Network) EarliestTime(p Point) float64 {
	n.solve()
	return n.earliest[p]
}

// LatestTime returns the latest consistent time of p.
func (n *Network) LatestTime(p Point) float64 {
	n.solve()
	return n.latest[p]
}

// EarliestTimes returns the earliest consistent time of every point.
func (n *Network) EarliestTimes() map[Point]float64 {
	n.solve()
	out := make(map[Point]float64, len(n.earliest))
	for i, t := range n.earliest {
		out[Point(i)] = t
	}
	return out
}

// LatestTimes returns the latest consistent time of every point.
func (n *Network) LatestTimes() map[Point]float64 {
	n.solve()
	out := make(map[Point]float64, len(n.latest))
	for i, t := range n.latest {
		out[Point(i)] = t
	}
	return out
}
