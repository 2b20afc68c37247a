package turn

import (
	"context"
	"sync"

	"github.com/safegate/safegate/domain"
)

// DualResult carries the independent outcomes of a side-by-side comparison
// turn. A failure on one side never affects the other.
type DualResult struct {
	Left     *domain.TurnRecord `json:"left,omitempty"`
	Right    *domain.TurnRecord `json:"right,omitempty"`
	LeftErr  error              `json:"-"`
	RightErr error              `json:"-"`
}

// DualCoordinator fans one user input into two independent orchestrators
// with distinct sessions and configurations. The two turns run concurrently
// with no ordering guarantee between their completions; the only shared
// state is the originating input text.
type DualCoordinator struct {
	left  *Orchestrator
	right *Orchestrator
}

// NewDualCoordinator pairs two orchestrators for comparison mode.
func NewDualCoordinator(left, right *Orchestrator) *DualCoordinator {
	return &DualCoordinator{left: left, right: right}
}

// Left returns the left-hand orchestrator.
func (d *DualCoordinator) Left() *Orchestrator { return d.left }

// Right returns the right-hand orchestrator.
func (d *DualCoordinator) Right() *Orchestrator { return d.right }

// Submit runs the same input through both sides concurrently and waits for
// both to settle.
func (d *DualCoordinator) Submit(ctx context.Context, text string) DualResult {
	var res DualResult
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		res.Left, res.LeftErr = d.left.Submit(ctx, text)
	}()
	go func() {
		defer wg.Done()
		res.Right, res.RightErr = d.right.Submit(ctx, text)
	}()

	wg.Wait()
	return res
}
