package activity

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadpilot/models"
	"leadpilot/store"
)

func newTestEmitter(st store.Store, at time.Time) (*Emitter, *time.Time) {
	now := at
	em := NewEmitter(st, log.New(io.Discard, "", 0))
	em.Now = func() time.Time { return now }
	return em, &now
}

func updateEvent(entityID uint, fields ...string) *models.ActivityEvent {
	meta := map[string]interface{}{}
	if len(fields) > 0 {
		list := make([]interface{}, 0, len(fields))
		for _, f := range fields {
			list = append(list, f)
		}
		meta["fields_updated"] = list
	}
	return &models.ActivityEvent{
		ActorName:  "System",
		ActionVerb: "updated",
		ActionType: "lead",
		EntityType: "lead",
		EntityID:   entityID,
		Priority:   3,
		Metadata:   meta,
	}
}

func TestEmitAggregatesWithinWindow(t *testing.T) {
	st := store.NewMemoryStore()
	base := time.Date(2025, 3, 1, 9, 3, 0, 0, time.UTC)
	em, now := newTestEmitter(st, base)
	ctx := context.Background()

	em.Emit(ctx, updateEvent(7, "company", "position"))
	*now = base.Add(5 * time.Minute)
	em.Emit(ctx, updateEvent(7, "position", "website"))

	rows, err := st.ListActivities(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	row := rows[0]
	assert.True(t, row.IsAggregated)
	assert.Equal(t, 2, row.AggregatedCount)
	assert.Equal(t, base, row.FirstOccurredAt)

	// arrays concatenate and de-duplicate across merges
	fields, ok := row.Metadata["fields_updated"].([]interface{})
	require.True(t, ok)
	assert.ElementsMatch(t, []interface{}{"company", "position", "website"}, fields)
}

func TestEmitSeparateRowsAcrossWindows(t *testing.T) {
	st := store.NewMemoryStore()
	base := time.Date(2025, 3, 1, 9, 3, 0, 0, time.UTC)
	em, now := newTestEmitter(st, base)
	ctx := context.Background()

	em.Emit(ctx, updateEvent(7, "company"))
	*now = base.Add(AggregationWindow + time.Minute)
	em.Emit(ctx, updateEvent(7, "website"))

	rows, err := st.ListActivities(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, 1, row.AggregatedCount)
	}
}

func TestEmitDoesNotAggregateAcrossEntitiesOrActors(t *testing.T) {
	st := store.NewMemoryStore()
	base := time.Date(2025, 3, 1, 9, 3, 0, 0, time.UTC)
	em, _ := newTestEmitter(st, base)
	ctx := context.Background()

	em.Emit(ctx, updateEvent(7))
	em.Emit(ctx, updateEvent(8))

	actor := uint(12)
	ev := updateEvent(7)
	ev.ActorID = &actor
	em.Emit(ctx, ev)

	rows, err := st.ListActivities(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestEmitSignificantVerbsGetOwnRows(t *testing.T) {
	st := store.NewMemoryStore()
	em, _ := newTestEmitter(st, time.Date(2025, 3, 1, 9, 3, 0, 0, time.UTC))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		em.Emit(ctx, &models.ActivityEvent{
			ActorName:  "System",
			ActionVerb: "sent",
			ActionType: "email",
			EntityType: "lead",
			EntityID:   7,
			Priority:   5,
		})
	}

	rows, err := st.ListActivities(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.False(t, row.IsAggregated)
	}
}

func TestEmitDropsInvalidEvents(t *testing.T) {
	st := store.NewMemoryStore()
	em, _ := newTestEmitter(st, time.Now())
	ctx := context.Background()

	em.Emit(ctx, &models.ActivityEvent{ActionType: "lead", EntityType: "lead", EntityID: 7})
	em.Emit(ctx, &models.ActivityEvent{ActionVerb: "sent", ActionType: "email", EntityType: "lead"})

	rows, err := st.ListActivities(ctx, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestEmitFansOutToOnEvent(t *testing.T) {
	st := store.NewMemoryStore()
	em, _ := newTestEmitter(st, time.Date(2025, 3, 1, 9, 3, 0, 0, time.UTC))

	var got []models.ActivityEvent
	em.OnEvent = func(ev models.ActivityEvent) { got = append(got, ev) }

	em.Emit(context.Background(), updateEvent(7, "company"))
	em.Emit(context.Background(), updateEvent(7, "website"))

	require.Len(t, got, 2)
	// the merged aggregate is what reaches subscribers
	assert.Equal(t, 1, got[0].AggregatedCount)
	assert.Equal(t, 2, got[1].AggregatedCount)
}

func TestAggregationKeyDeterminism(t *testing.T) {
	at := time.Date(2025, 3, 1, 9, 3, 0, 0, time.UTC)
	actor := uint(12)

	assert.Equal(t,
		AggregationKey(&actor, 7, "updated", at),
		AggregationKey(&actor, 7, "updated", at.Add(time.Minute)))
	assert.NotEqual(t,
		AggregationKey(&actor, 7, "updated", at),
		AggregationKey(nil, 7, "updated", at))
	assert.NotEqual(t,
		AggregationKey(&actor, 7, "updated", at),
		AggregationKey(&actor, 7, "viewed", at))
	assert.Len(t, AggregationKey(nil, 7, "updated", at), 32)
}

func TestMergeMetadataScalarOverwrite(t *testing.T) {
	merged := MergeMetadata(
		map[string]interface{}{"source": "import", "fields_updated": []interface{}{"company"}},
		map[string]interface{}{"source": "manual", "fields_updated": []interface{}{"company", "website"}},
	)
	assert.Equal(t, "manual", merged["source"])
	assert.ElementsMatch(t, []interface{}{"company", "website"}, merged["fields_updated"].([]interface{}))
}
