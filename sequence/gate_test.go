package sequence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadpilot/models"
	"leadpilot/store"
)

func TestGateShouldSend(t *testing.T) {
	gate := NewGate(store.NewMemoryStore())

	tests := []struct {
		name   string
		lead   models.Lead
		ok     bool
		reason string
	}{
		{"clear", models.Lead{Status: models.StatusEmailed}, true, ""},
		{"replied flag", models.Lead{HasReplied: true}, false, BlockReplied},
		{"replied status", models.Lead{Status: models.StatusReplied}, false, BlockReplied},
		{"paused", models.Lead{SequencePaused: true}, false, BlockPaused},
		{"dead", models.Lead{Status: models.StatusDead}, false, BlockDead},
		// replied wins over paused when both are set
		{"replied and paused", models.Lead{HasReplied: true, SequencePaused: true}, false, BlockReplied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := gate.ShouldSend(&tt.lead)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestGateShouldSendNextFetchesFreshLead(t *testing.T) {
	st := store.NewMemoryStore()
	gate := NewGate(st)
	ctx := context.Background()

	lead := &models.Lead{Email: "a@b.com", Status: models.StatusEmailed}
	require.NoError(t, st.SaveLead(ctx, lead))

	ok, err := gate.ShouldSendNext(ctx, lead.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	lead.HasReplied = true
	require.NoError(t, st.SaveLead(ctx, lead))

	ok, err = gate.ShouldSendNext(ctx, lead.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGateShouldSendNextUnknownLead(t *testing.T) {
	gate := NewGate(store.NewMemoryStore())
	_, err := gate.ShouldSendNext(context.Background(), 42)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
