// Package events defines the logical events the core emits at its
// notification boundary. Events are written to the outbox inside the same
// transaction as the state change that produced them; the kafka publisher
// delivers them to the external dispatcher, which owns formatting.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tungvs/charity-delivery/internal/db"
	"github.com/tungvs/charity-delivery/internal/repository"
)

const Topic = "delivery_events"

type Kind string

const (
	RouteCreated    Kind = "route_created"
	RouteAccepted   Kind = "route_accepted"
	RouteFinished   Kind = "route_finished"
	RouteCanceled   Kind = "route_canceled"
	RequestReported Kind = "request_reported"
)

type Event struct {
	Kind       Kind       `json:"kind"`
	RouteID    *uuid.UUID `json:"route_id,omitempty"`
	RequestID  *uuid.UUID `json:"request_id,omitempty"`
	BranchID   uuid.UUID  `json:"branch_id"`
	ActorID    *uuid.UUID `json:"actor_id,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// OutboxRepo is the slice of the outbox repository the emitter needs.
type OutboxRepo interface {
	CreateTx(ctx context.Context, tx db.Tx, task *repository.OutboxTask) error
}

// Emitter enqueues events transactionally.
type Emitter struct {
	outbox OutboxRepo
}

func NewEmitter(outbox OutboxRepo) *Emitter {
	return &Emitter{outbox: outbox}
}

// EmitTx serializes the event and appends it to the outbox within tx. The
// event becomes visible to the publisher only when the transaction commits.
func (e *Emitter) EmitTx(ctx context.Context, tx db.Tx, ev Event) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", ev.Kind, err)
	}
	task := &repository.OutboxTask{
		Payload: payload,
		Topic:   Topic,
	}
	if err := e.outbox.CreateTx(ctx, tx, task); err != nil {
		return fmt.Errorf("enqueue event %s: %w", ev.Kind, err)
	}
	return nil
}
