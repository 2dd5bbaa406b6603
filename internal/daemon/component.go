// Package daemon runs the secretary's long-lived components with
// dependency-ordered startup, reverse-ordered shutdown, and periodic
// health checks.
package daemon

import (
	"context"
)

// HealthStatus is the daemon-wide lifecycle state.
type HealthStatus string

const (
	StatusStarting HealthStatus = "starting"
	StatusRunning  HealthStatus = "running"
	StatusStopping HealthStatus = "stopping"
	StatusStopped  HealthStatus = "stopped"
)

// ComponentHealth is one component's answer to a health probe.
type ComponentHealth struct {
	Name    string
	Healthy bool
	Error   error
}

// Component is a unit the daemon manages. Init must be safe to roll
// back with Stop even when it failed partway.
type Component interface {
	Name() string
	Dependencies() []string
	Init(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health(ctx context.Context) (*ComponentHealth, error)
}
