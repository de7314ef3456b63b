package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeliveryHappyPath(t *testing.T) {
	want := []DeliveryStatus{
		DeliveryPending, DeliveryAccepted, DeliveryShipping,
		DeliveryArrivedPickup, DeliveryCollected, DeliveryArrivedDelivery,
		DeliveryFinished,
	}
	cur := DeliveryPending
	for i := 1; i < len(want); i++ {
		next, ok := cur.NextStatus()
		assert.True(t, ok, "expected successor for %s", cur)
		assert.Equal(t, want[i], next)
		cur = next
	}
	_, ok := cur.NextStatus()
	assert.False(t, ok, "FINISHED must have no successor")
}

func TestDeliveryStatusTerminal(t *testing.T) {
	assert.True(t, DeliveryFinished.Terminal())
	assert.True(t, DeliveryCanceled.Terminal())
	assert.True(t, DeliveryExpired.Terminal())
	assert.False(t, DeliveryReported.Terminal())
	assert.False(t, DeliveryShipping.Terminal())
}

func TestCancelableFor(t *testing.T) {
	tests := []struct {
		name   string
		typ    DeliveryType
		status DeliveryStatus
		want   bool
	}{
		{"donated pending", DeliveryDonatedToBranch, DeliveryPending, true},
		{"donated accepted", DeliveryDonatedToBranch, DeliveryAccepted, true},
		{"donated shipping", DeliveryDonatedToBranch, DeliveryShipping, false},
		{"branch-to-aid mid flight", DeliveryBranchToAid, DeliveryCollected, true},
		{"branch-to-aid finished", DeliveryBranchToAid, DeliveryFinished, false},
		{"branch-to-branch arrived", DeliveryBranchToBranch, DeliveryArrivedDelivery, true},
		{"branch-to-branch reported", DeliveryBranchToBranch, DeliveryReported, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.CancelableFor(tt.typ))
		})
	}
}

func TestReportable(t *testing.T) {
	assert.True(t, DeliveryShipping.Reportable())
	assert.True(t, DeliveryArrivedPickup.Reportable())
	assert.True(t, DeliveryFinished.Reportable())
	assert.False(t, DeliveryPending.Reportable())
	assert.False(t, DeliveryCollected.Reportable())
}

func TestRouteTypeFor(t *testing.T) {
	assert.Equal(t, RouteImport, DeliveryDonatedToBranch.RouteTypeFor())
	assert.Equal(t, RouteExport, DeliveryBranchToAid.RouteTypeFor())
	assert.Equal(t, RouteExport, DeliveryBranchToBranch.RouteTypeFor())
}

func TestRouteStatusActive(t *testing.T) {
	assert.True(t, RoutePending.Active())
	assert.True(t, RouteProcessing.Active())
	assert.False(t, RouteFinished.Active())
	assert.False(t, RouteCanceled.Active())
}

func TestIntersectWindows(t *testing.T) {
	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	at := func(h int) time.Time { return day.Add(time.Duration(h) * time.Hour) }

	start, end, ok := IntersectWindows(at(9), at(12), at(10), at(14))
	assert.True(t, ok)
	assert.Equal(t, at(10), start)
	assert.Equal(t, at(12), end)

	_, _, ok = IntersectWindows(at(9), at(10), at(10), at(12))
	assert.False(t, ok, "touching windows do not overlap")

	_, _, ok = IntersectWindows(at(9), at(10), at(14), at(16))
	assert.False(t, ok)
}

func TestSameDay(t *testing.T) {
	a := time.Date(2025, 6, 1, 23, 0, 0, 0, time.UTC)
	b := time.Date(2025, 6, 1, 1, 0, 0, 0, time.UTC)
	c := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	assert.True(t, SameDay(a, b))
	assert.False(t, SameDay(a, c))
}

func TestMovementTypeImport(t *testing.T) {
	assert.True(t, MovementDirectDonate.Import())
	assert.True(t, MovementBranchAdminImport.Import())
	assert.True(t, MovementScheduledImport.Import())
	assert.False(t, MovementExportByItems.Import())
	assert.False(t, MovementExportByStocks.Import())
}
