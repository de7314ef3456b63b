package repository

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrObjectNotFound = errors.New("not found")

// DeliveryRequest is one physical leg moving a known set of items between an
// origin and a destination. Status changes go through the state machine in
// status.go only.
type DeliveryRequest struct {
	ID             uuid.UUID      `db:"id"`
	Type           DeliveryType   `db:"delivery_type"`
	Status         DeliveryStatus `db:"status"`
	BranchID       uuid.UUID      `db:"branch_id"`
	RouteID        *uuid.UUID     `db:"route_id"`
	FromAddress    string         `db:"from_address"`
	FromLat        float64        `db:"from_lat"`
	FromLon        float64        `db:"from_lon"`
	ToAddress      string         `db:"to_address"`
	ToLat          float64        `db:"to_lat"`
	ToLon          float64        `db:"to_lon"`
	ScheduledDay   time.Time      `db:"scheduled_day"`
	WindowStart    time.Time      `db:"window_start"`
	WindowEnd      time.Time      `db:"window_end"`
	ProofImageURL  *string        `db:"proof_image_url"`
	CanceledReason *string        `db:"canceled_reason"`
	ReportReason   *string        `db:"report_reason"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

// DeliveryItem is one line of a delivery request. ReceivedQuantity stays nil
// until the courier (or branch admin) confirms the collected amount.
type DeliveryItem struct {
	ID               uuid.UUID  `db:"id"`
	RequestID        uuid.UUID  `db:"request_id"`
	ItemID           uuid.UUID  `db:"item_id"`
	Quantity         int        `db:"quantity"`
	ReceivedQuantity *int       `db:"received_quantity"`
	UnitVolume       float64    `db:"unit_volume"`
	ExpiresAt        *time.Time `db:"expires_at"`
}

// ScheduledRoute is an ordered multi-stop assignment of delivery requests to
// exactly one courier.
type ScheduledRoute struct {
	ID                  uuid.UUID   `db:"id"`
	Type                RouteType   `db:"route_type"`
	Status              RouteStatus `db:"status"`
	BranchID            uuid.UUID   `db:"branch_id"`
	ScheduledDay        time.Time   `db:"scheduled_day"`
	WindowStart         time.Time   `db:"window_start"`
	WindowEnd           time.Time   `db:"window_end"`
	TotalDistanceMeters int         `db:"total_distance_meters"`
	TotalTimeSeconds    int         `db:"total_time_seconds"`
	BulkyLevel          BulkyLevel  `db:"bulky_level"`
	AcceptedUserID      *uuid.UUID  `db:"accepted_user_id"`
	AcceptedAt          *time.Time  `db:"accepted_at"`
	CreatedAt           time.Time   `db:"created_at"`
	UpdatedAt           time.Time   `db:"updated_at"`
}

type StopKind string

const (
	StopKindBranch  StopKind = "BRANCH"
	StopKindRequest StopKind = "REQUEST"
)

// RouteStop is one ordered stop of a scheduled route. A stop is either the
// branch itself or a delivery request; RequestID is set only for REQUEST
// stops. Leg metrics are from the previous stop (or the route origin for the
// first one).
type RouteStop struct {
	ID                 uuid.UUID  `db:"id"`
	RouteID            uuid.UUID  `db:"route_id"`
	Seq                int        `db:"seq"`
	Kind               StopKind   `db:"kind"`
	RequestID          *uuid.UUID `db:"request_id"`
	Address            string     `db:"address"`
	Lat                float64    `db:"lat"`
	Lon                float64    `db:"lon"`
	LegDistanceMeters  int        `db:"leg_distance_meters"`
	LegDurationSeconds int        `db:"leg_duration_seconds"`
}

// Stock is one batch of an item currently on hand at a branch. Batches carry
// the expiration used for FIFO export ordering.
type Stock struct {
	ID        uuid.UUID `db:"id"`
	BranchID  uuid.UUID `db:"branch_id"`
	ItemID    uuid.UUID `db:"item_id"`
	Quantity  int       `db:"quantity"`
	ExpiresAt time.Time `db:"expires_at"`
	CreatedAt time.Time `db:"created_at"`
}

// StockMovement is one append-only ledger entry. Entries are never mutated
// or deleted.
type StockMovement struct {
	ID        uuid.UUID         `db:"id"`
	Type      StockMovementType `db:"movement_type"`
	BranchID  uuid.UUID         `db:"branch_id"`
	RouteID   *uuid.UUID        `db:"route_id"`
	RequestID *uuid.UUID        `db:"request_id"`
	ActorID   uuid.UUID         `db:"actor_id"`
	CreatedAt time.Time         `db:"created_at"`
}

type StockMovementDetail struct {
	ID         uuid.UUID  `db:"id"`
	MovementID uuid.UUID  `db:"movement_id"`
	ItemID     uuid.UUID  `db:"item_id"`
	StockID    *uuid.UUID `db:"stock_id"`
	Quantity   int        `db:"quantity"`
}

// Branch carries the coordinates the route builder and range checks need.
// Everything else about branches is managed outside this core.
type Branch struct {
	ID      uuid.UUID `db:"id"`
	Name    string    `db:"name"`
	Address string    `db:"address"`
	Lat     float64   `db:"lat"`
	Lon     float64   `db:"lon"`
}

// User is the courier profile slice this core touches: identity plus the
// last known location, reported by the courier and used when Accept is
// called without explicit coordinates.
type User struct {
	ID        uuid.UUID `db:"id"`
	Name      string    `db:"name"`
	LastLat   *float64  `db:"last_lat"`
	LastLon   *float64  `db:"last_lon"`
	UpdatedAt time.Time `db:"updated_at"`
}
