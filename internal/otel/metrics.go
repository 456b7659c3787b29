package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all taskhubd metrics instruments.
type Metrics struct {
	RequestDuration metric.Float64Histogram
	ClaimDuration   metric.Float64Histogram
	ActiveLeases    metric.Int64UpDownCounter
	LeasesReclaimed metric.Int64Counter
	BurnoutRouted   metric.Int64Counter
	Conflicts       metric.Int64Counter
	TasksCreated    metric.Int64Counter
	TasksAccepted   metric.Int64Counter
	TasksRejected   metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.RequestDuration, err = meter.Float64Histogram("taskhub.request.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.ClaimDuration, err = meter.Float64Histogram("taskhub.claim.duration",
		metric.WithDescription("Time from a claim request reaching the engine to the conditional write committing"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.ActiveLeases, err = meter.Int64UpDownCounter("taskhub.lease.active",
		metric.WithDescription("Number of tasks currently holding a live lease (claimed or provisional)"),
	)
	if err != nil {
		return nil, err
	}

	m.LeasesReclaimed, err = meter.Int64Counter("taskhub.lease.reclaimed",
		metric.WithDescription("Leases released by the reconciler after expiry"),
	)
	if err != nil {
		return nil, err
	}

	m.BurnoutRouted, err = meter.Int64Counter("taskhub.submit.burnout_routed",
		metric.WithDescription("Submissions routed to needs_continuation by the burnout heuristic"),
	)
	if err != nil {
		return nil, err
	}

	m.Conflicts, err = meter.Int64Counter("taskhub.transition.conflicts",
		metric.WithDescription("Conditional writes that lost the version race"),
	)
	if err != nil {
		return nil, err
	}

	m.TasksCreated, err = meter.Int64Counter("taskhub.task.created",
		metric.WithDescription("Tasks created"),
	)
	if err != nil {
		return nil, err
	}

	m.TasksAccepted, err = meter.Int64Counter("taskhub.task.accepted",
		metric.WithDescription("Tasks accepted into done"),
	)
	if err != nil {
		return nil, err
	}

	m.TasksRejected, err = meter.Int64Counter("taskhub.task.rejected",
		metric.WithDescription("Tasks rejected back to incoming"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
