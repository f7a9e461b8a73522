package sequence

import (
	"context"

	"leadpilot/models"
	"leadpilot/store"
)

// Block reasons reported by the gate.
const (
	BlockReplied = "replied"
	BlockPaused  = "paused"
	BlockDead    = "dead"
)

// Gate decides whether the next scheduled send for a lead should proceed.
// It is side-effect free; unenrollment is the caller's job.
type Gate struct {
	Store store.Store
}

func NewGate(s store.Store) *Gate {
	return &Gate{Store: s}
}

// ShouldSend checks an already-loaded lead. The empty reason means clear.
func (g *Gate) ShouldSend(lead *models.Lead) (bool, string) {
	switch {
	case lead.HasReplied || lead.Status == models.StatusReplied:
		return false, BlockReplied
	case lead.SequencePaused:
		return false, BlockPaused
	case lead.Status == models.StatusDead:
		return false, BlockDead
	}
	return true, ""
}

// ShouldSendNext fetches the lead and applies ShouldSend. Safe to call
// repeatedly.
func (g *Gate) ShouldSendNext(ctx context.Context, leadID uint) (bool, error) {
	lead, err := g.Store.GetLead(ctx, leadID)
	if err != nil {
		return false, err
	}
	ok, _ := g.ShouldSend(lead)
	return ok, nil
}
