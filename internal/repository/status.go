package repository

import "time"

type DeliveryType string

const (
	DeliveryDonatedToBranch DeliveryType = "DONATED_REQUEST_TO_BRANCH"
	DeliveryBranchToAid     DeliveryType = "BRANCH_TO_AID_REQUEST"
	DeliveryBranchToBranch  DeliveryType = "BRANCH_TO_BRANCH"
)

func (t DeliveryType) Valid() bool {
	switch t {
	case DeliveryDonatedToBranch, DeliveryBranchToAid, DeliveryBranchToBranch:
		return true
	}
	return false
}

// RouteTypeFor derives the route direction from the delivery type: donated
// goods travel toward the branch, everything else departs from it.
func (t DeliveryType) RouteTypeFor() RouteType {
	if t == DeliveryDonatedToBranch {
		return RouteImport
	}
	return RouteExport
}

type DeliveryStatus string

const (
	DeliveryPending         DeliveryStatus = "PENDING"
	DeliveryAccepted        DeliveryStatus = "ACCEPTED"
	DeliveryShipping        DeliveryStatus = "SHIPPING"
	DeliveryArrivedPickup   DeliveryStatus = "ARRIVED_PICKUP"
	DeliveryCollected       DeliveryStatus = "COLLECTED"
	DeliveryArrivedDelivery DeliveryStatus = "ARRIVED_DELIVERY"
	DeliveryFinished        DeliveryStatus = "FINISHED"
	DeliveryReported        DeliveryStatus = "REPORTED"
	DeliveryExpired         DeliveryStatus = "EXPIRED"
	DeliveryCanceled        DeliveryStatus = "CANCELED"
)

// happyPath is the courier-driven progression a request walks in lockstep
// with its route. Side branches (REPORTED, EXPIRED, CANCELED) are not part
// of it.
var happyPath = map[DeliveryStatus]DeliveryStatus{
	DeliveryPending:         DeliveryAccepted,
	DeliveryAccepted:        DeliveryShipping,
	DeliveryShipping:        DeliveryArrivedPickup,
	DeliveryArrivedPickup:   DeliveryCollected,
	DeliveryCollected:       DeliveryArrivedDelivery,
	DeliveryArrivedDelivery: DeliveryFinished,
}

// NextStatus returns the next happy-path status, or false when the current
// status has no courier-driven successor.
func (s DeliveryStatus) NextStatus() (DeliveryStatus, bool) {
	next, ok := happyPath[s]
	return next, ok
}

// Terminal reports whether no further transition is possible.
func (s DeliveryStatus) Terminal() bool {
	switch s {
	case DeliveryFinished, DeliveryExpired, DeliveryCanceled:
		return true
	}
	return false
}

// cancelableStatuses lists, per delivery type, the statuses from which a
// branch admin may cancel. A donated-to-branch pickup is trivial to abort;
// an already-loaded branch-to-aid or branch-to-branch delivery can be
// canceled even mid-flight.
var cancelableStatuses = map[DeliveryType][]DeliveryStatus{
	DeliveryDonatedToBranch: {DeliveryPending, DeliveryAccepted},
	DeliveryBranchToAid: {
		DeliveryPending, DeliveryAccepted, DeliveryShipping,
		DeliveryArrivedPickup, DeliveryCollected, DeliveryArrivedDelivery,
	},
	DeliveryBranchToBranch: {
		DeliveryPending, DeliveryAccepted, DeliveryShipping,
		DeliveryArrivedPickup, DeliveryCollected, DeliveryArrivedDelivery,
	},
}

func (s DeliveryStatus) CancelableFor(t DeliveryType) bool {
	for _, allowed := range cancelableStatuses[t] {
		if s == allowed {
			return true
		}
	}
	return false
}

// Reportable reports whether a courier or charity unit may flag a problem
// from the current status.
func (s DeliveryStatus) Reportable() bool {
	switch s {
	case DeliveryShipping, DeliveryArrivedPickup, DeliveryFinished:
		return true
	}
	return false
}

type RouteType string

const (
	RouteImport RouteType = "IMPORT"
	RouteExport RouteType = "EXPORT"
)

type RouteStatus string

const (
	RoutePending    RouteStatus = "PENDING"
	RouteAccepted   RouteStatus = "ACCEPTED"
	RouteProcessing RouteStatus = "PROCESSING"
	RouteFinished   RouteStatus = "FINISHED"
	RouteCanceled   RouteStatus = "CANCEL"
)

// Active reports whether the route still claims its member requests. Only
// inactive routes release requests back to the builder's candidate pool.
func (s RouteStatus) Active() bool {
	return s != RouteCanceled && s != RouteFinished
}

type StockMovementType string

const (
	MovementDirectDonate      StockMovementType = "DIRECT_DONATE"
	MovementBranchAdminImport StockMovementType = "BRANCH_ADMIN_IMPORT"
	MovementScheduledImport   StockMovementType = "SCHEDULED_IMPORT"
	MovementExportByItems     StockMovementType = "EXPORT_BY_ITEMS"
	MovementExportByStocks    StockMovementType = "EXPORT_BY_STOCKS"
)

// Import reports whether the movement increases on-hand stock.
func (t StockMovementType) Import() bool {
	switch t {
	case MovementDirectDonate, MovementBranchAdminImport, MovementScheduledImport:
		return true
	}
	return false
}

type BulkyLevel string

const (
	BulkyNormal BulkyLevel = "NORMAL"
	BulkyBulky  BulkyLevel = "BULKY"
	BulkyVery   BulkyLevel = "VERY_BULKY"
)

// SameDay compares calendar dates in UTC.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// IntersectWindows narrows [aStart,aEnd] by [bStart,bEnd]. The second value
// is false when the windows do not overlap.
func IntersectWindows(aStart, aEnd, bStart, bEnd time.Time) (time.Time, time.Time, bool) {
	start := aStart
	if bStart.After(start) {
		start = bStart
	}
	end := aEnd
	if bEnd.Before(end) {
		end = bEnd
	}
	if !start.Before(end) {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}
