package activity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"leadpilot/models"
	"leadpilot/store"
	"leadpilot/utils"
)

// AggregationWindow is the rolling bucket size for merging repetitive
// events into a single feed row.
const AggregationWindow = 30 * time.Minute

// Verbs that get merged into an existing feed row inside the aggregation
// window. Everything else is significant enough for its own row.
var aggregatableVerbs = map[string]bool{
	"updated":  true,
	"viewed":   true,
	"tagged":   true,
	"enriched": true,
}

// Metadata keys treated as accumulating arrays when merging.
var arrayMetadataKeys = map[string]bool{
	"fields_updated": true,
	"field_changes":  true,
}

// Notifier receives significant feed events for external delivery.
type Notifier interface {
	Notify(ev models.ActivityEvent)
}

// Emitter is the only path domain events take into the activity feed.
// Emission never fails the caller: invalid events are dropped with a log
// line and store errors are reported, not returned.
type Emitter struct {
	Store    store.Store
	Logger   *log.Logger
	Notifier Notifier                   // optional
	OnEvent  func(models.ActivityEvent) // optional, e.g. websocket broadcast

	Now func() time.Time
}

func NewEmitter(s store.Store, logger *log.Logger) *Emitter {
	return &Emitter{Store: s, Logger: logger, Now: time.Now}
}

// AggregationKey builds the deterministic bucket key for an event.
func AggregationKey(actorID *uint, entityID uint, verb string, at time.Time) string {
	actor := "system"
	if actorID != nil {
		actor = fmt.Sprintf("%d", *actorID)
	}
	bucket := at.Unix() / int64(AggregationWindow.Seconds())
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%s:%d", actor, entityID, verb, bucket)))
	return hex.EncodeToString(sum[:])[:32]
}

// Emit validates, aggregates and persists one domain event.
func (em *Emitter) Emit(ctx context.Context, ev *models.ActivityEvent) {
	if ev.ActionVerb == "" || ev.ActionType == "" || ev.EntityType == "" || ev.EntityID == 0 {
		em.Logger.Printf("dropping activity event with missing required fields: verb=%q type=%q entity=%q/%d",
			ev.ActionVerb, ev.ActionType, ev.EntityType, ev.EntityID)
		return
	}

	now := em.Now()
	if ev.FirstOccurredAt.IsZero() {
		ev.FirstOccurredAt = now
	}
	if ev.AggregatedCount == 0 {
		ev.AggregatedCount = 1
	}

	if aggregatableVerbs[ev.ActionVerb] {
		em.emitAggregated(ctx, ev, now)
		return
	}

	ev.IsAggregated = false
	if err := em.Store.CreateActivity(ctx, ev); err != nil {
		utils.LogError("activity_insert_failed", err, map[string]interface{}{
			"verb": ev.ActionVerb, "entity_id": ev.EntityID,
		})
		return
	}
	em.fanOut(*ev)
}

func (em *Emitter) emitAggregated(ctx context.Context, ev *models.ActivityEvent, now time.Time) {
	key := AggregationKey(ev.ActorID, ev.EntityID, ev.ActionVerb, now)

	// Read-merge-conditional-write; one retry when another emit lands in the
	// same bucket first, then fall back to a fresh row.
	for attempt := 0; attempt < 2; attempt++ {
		existing, err := em.Store.FindAggregate(ctx, key)
		if err != nil {
			break // not found or store error: insert below
		}

		expected := existing.AggregatedCount
		existing.AggregatedCount = expected + 1
		existing.Metadata = MergeMetadata(existing.Metadata, ev.Metadata)
		if ev.Priority > existing.Priority {
			existing.Priority = ev.Priority
		}

		ok, err := em.Store.UpdateAggregate(ctx, existing, expected)
		if err != nil {
			utils.LogError("activity_aggregate_update_failed", err, map[string]interface{}{"key": key})
			return
		}
		if ok {
			em.fanOut(*existing)
			return
		}
	}

	ev.IsAggregated = true
	ev.AggregationKey = &key
	ev.AggregatedCount = 1
	ev.FirstOccurredAt = now
	if err := em.Store.CreateActivity(ctx, ev); err != nil {
		utils.LogError("activity_insert_failed", err, map[string]interface{}{
			"verb": ev.ActionVerb, "entity_id": ev.EntityID,
		})
		return
	}
	em.fanOut(*ev)
}

func (em *Emitter) fanOut(ev models.ActivityEvent) {
	if em.OnEvent != nil {
		em.OnEvent(ev)
	}
	if em.Notifier != nil {
		go em.Notifier.Notify(ev)
	}
}

// MergeMetadata folds the newest event's metadata into an aggregate row's.
// Array-valued keys concatenate and de-duplicate by value; scalars are
// overwritten by the newest event.
func MergeMetadata(existing, incoming map[string]interface{}) map[string]interface{} {
	if existing == nil {
		existing = map[string]interface{}{}
	}
	for k, v := range incoming {
		if arrayMetadataKeys[k] {
			existing[k] = mergeValueList(existing[k], v)
			continue
		}
		existing[k] = v
	}
	return existing
}

func mergeValueList(a, b interface{}) []interface{} {
	var out []interface{}
	seen := map[string]bool{}
	appendAll := func(v interface{}) {
		switch list := v.(type) {
		case []interface{}:
			for _, item := range list {
				k := fmt.Sprintf("%v", item)
				if !seen[k] {
					seen[k] = true
					out = append(out, item)
				}
			}
		case []string:
			for _, item := range list {
				if !seen[item] {
					seen[item] = true
					out = append(out, item)
				}
			}
		case nil:
		default:
			k := fmt.Sprintf("%v", v)
			if !seen[k] {
				seen[k] = true
				out = append(out, v)
			}
		}
	}
	appendAll(a)
	appendAll(b)
	return out
}
