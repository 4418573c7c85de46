package risk

import (
	"github.com/elektrokombinacija/mrta-research/internal/core"
	"github.com/elektrokombinacija/mrta-research/internal/timetable"
)

// Bid is one robot's locally computed cost for taking over a displaced task.
// Cost is the added finish time of the task plus the residual slack the
// insertion consumes on that robot's timeline.
type Bid struct {
	Robot core.RobotID
	Cost  float64
	Eval  timetable.Eval
}

// ComputeBid evaluates every insertion position on one robot and returns its
// lowest-cost bid. ok is false when the robot cannot accommodate the task at
// any position.
func ComputeBid(tt *timetable.Timetable, rid core.RobotID, task *core.Task) (Bid, bool) {
	var best Bid
	found := false
	line := tt.Line(rid)
	for pos := tt.Frontier(rid); pos <= len(line); pos++ {
		ev, err := tt.TryInsert(rid, task, pos)
		if err != nil {
			continue
		}
		cost := ev.Finish + ev.SlackConsumed
		if !found || cost < best.Cost || (cost == best.Cost && ev.Pos < best.Eval.Pos) {
			best = Bid{Robot: rid, Cost: cost, Eval: ev}
			found = true
		}
	}
	return best, found
}

// CollectBids gathers one bid per robot, in ascending robot id order.
func CollectBids(tt *timetable.Timetable, task *core.Task) []Bid {
	var bids []Bid
	for _, rid := range tt.Robots() {
		if bid, ok := ComputeBid(tt, rid, task); ok {
			bids = append(bids, bid)
		}
	}
	return bids
}

// WinningBid selects the lowest-cost bid; ties break by lowest robot id so
// the auction outcome is a total order.
func WinningBid(bids []Bid) (Bid, bool) {
	if len(bids) == 0 {
		return Bid{}, false
	}
	best := bids[0]
	for _, b := range bids[1:] {
		if b.Cost < best.Cost || (b.Cost == best.Cost && b.Robot < best.Robot) {
			best = b
		}
	}
	return best, true
}
