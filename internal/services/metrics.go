package services

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/fleetsync/server/internal/models"
)

const instrumentationName = "github.com/fleetsync/server/services"

// FleetMetrics holds fleet-level metrics
type FleetMetrics struct {
	deploysTotal       metric.Int64Counter
	stateReportsTotal  metric.Int64Counter
	stateChangesTotal  metric.Int64Counter
	rolloutTransitions metric.Int64Counter
	rollbacksTotal     metric.Int64Counter
}

// NewFleetMetrics creates fleet metrics instruments
func NewFleetMetrics() (*FleetMetrics, error) {
	meter := otel.Meter(instrumentationName)

	deploysTotal, err := meter.Int64Counter(
		"fleet.target_state.deploys",
		metric.WithDescription("Total number of committed target state deploys"),
		metric.WithUnit("{deploys}"),
	)
	if err != nil {
		return nil, err
	}

	stateReportsTotal, err := meter.Int64Counter(
		"fleet.current_state.reports",
		metric.WithDescription("Total number of device state reports"),
		metric.WithUnit("{reports}"),
	)
	if err != nil {
		return nil, err
	}

	stateChangesTotal, err := meter.Int64Counter(
		"fleet.current_state.changes",
		metric.WithDescription("Reports whose content differed from the previous report"),
		metric.WithUnit("{reports}"),
	)
	if err != nil {
		return nil, err
	}

	rolloutTransitions, err := meter.Int64Counter(
		"fleet.rollout.transitions",
		metric.WithDescription("Rollout status transitions"),
		metric.WithUnit("{transitions}"),
	)
	if err != nil {
		return nil, err
	}

	rollbacksTotal, err := meter.Int64Counter(
		"fleet.rollout.rollbacks",
		metric.WithDescription("Devices rolled back to their pre-update snapshot"),
		metric.WithUnit("{devices}"),
	)
	if err != nil {
		return nil, err
	}

	return &FleetMetrics{
		deploysTotal:       deploysTotal,
		stateReportsTotal:  stateReportsTotal,
		stateChangesTotal:  stateChangesTotal,
		rolloutTransitions: rolloutTransitions,
		rollbacksTotal:     rollbacksTotal,
	}, nil
}

// All recorders tolerate a nil receiver so services can run without
// telemetry wired (tests, one-off tools).

// RecordDeploy counts a committed target state deploy
func (m *FleetMetrics) RecordDeploy(ctx context.Context, trigger string) {
	if m == nil {
		return
	}
	m.deploysTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", trigger)))
}

// RecordReport counts a device state report
func (m *FleetMetrics) RecordReport(ctx context.Context, changed bool) {
	if m == nil {
		return
	}
	m.stateReportsTotal.Add(ctx, 1)
	if changed {
		m.stateChangesTotal.Add(ctx, 1)
	}
}

// RecordTransition counts a rollout status transition
func (m *FleetMetrics) RecordTransition(ctx context.Context, to models.RolloutStatus) {
	if m == nil {
		return
	}
	m.rolloutTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(to))))
}

// RecordRollback counts a device rollback
func (m *FleetMetrics) RecordRollback(ctx context.Context) {
	if m == nil {
		return
	}
	m.rollbacksTotal.Add(ctx, 1)
}
