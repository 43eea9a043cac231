package domain

import "time"

const (
	// HealthStatusOK indicates every probe passed.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates an optional dependency failed; requests are still served.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates a critical dependency is unavailable.
	HealthStatusError = "error"
)

// DependencyHealth is the outcome of one dependency probe.
type DependencyHealth struct {
	Status    string
	Critical  bool
	Detail    string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates probe results for the readiness endpoint.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]DependencyHealth
	GeneratedAt time.Time
}
