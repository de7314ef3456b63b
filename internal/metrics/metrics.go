package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RoutesPlannedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "charity_routes_planned_total",
		Help: "Total number of scheduled routes created by the builder.",
	})

	RoutesAcceptedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "charity_routes_accepted_total",
		Help: "Total number of routes accepted by a courier.",
	})

	RouteAcceptConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "charity_route_accept_conflicts_total",
		Help: "Total number of Accept calls that lost the race on a pending route.",
	})

	RoutesFinishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "charity_routes_finished_total",
		Help: "Total number of routes that reached FINISHED.",
	})

	RequestsCanceledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "charity_delivery_requests_canceled_total",
		Help: "Total number of delivery requests canceled by a branch admin.",
	})

	StockExportsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "charity_stock_exports_total",
		Help: "Total number of committed stock export movements.",
	})

	InsufficientStockTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "charity_insufficient_stock_total",
		Help: "Total number of exports rejected for insufficient stock.",
	})

	OperationErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "charity_operation_errors_total",
		Help: "Total number of errors encountered during specific operations.",
	},
		[]string{"operation"},
	)

	BranchCacheItems = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "charity_branch_cache_items",
		Help: "Current number of branches held in the in-memory cache.",
	})
)
