// Package heartbeat classifies liveness of in-flight tasks from elapsed
// time since their last update. The classification is advisory only: it is
// attached to read-side snapshots and never feeds back into the workflow
// state machine.
package heartbeat

import (
	"fmt"
	"time"

	"kanline/internal/domain"
)

// Thresholds are the age boundaries between classifications.
type Thresholds struct {
	Active  time.Duration // below this the task is active
	Stalled time.Duration // at or above this the task is stalled
}

// DefaultThresholds match the monitoring defaults: under 3 minutes is
// active, 10 minutes or more is stalled, in between is a warning.
var DefaultThresholds = Thresholds{
	Active:  180 * time.Second,
	Stalled: 600 * time.Second,
}

func (t Thresholds) orDefault() Thresholds {
	if t.Active <= 0 || t.Stalled <= 0 {
		return DefaultThresholds
	}
	return t
}

// Classify derives a heartbeat for one task. It returns nil for any task
// that is not in an in-flight state, so Done or Blocked tasks carry no
// heartbeat at all.
func Classify(t domain.Task, now time.Time, th Thresholds) *domain.Heartbeat {
	if !t.State.InFlight() {
		return nil
	}
	th = th.orDefault()
	updated, err := time.Parse(time.RFC3339, t.UpdatedAt)
	if err != nil {
		return &domain.Heartbeat{Status: "unknown", Label: "unknown"}
	}
	age := now.Sub(updated)
	if age < 0 {
		age = 0
	}
	sec := int(age / time.Second)
	min := sec / 60
	switch {
	case age < th.Active:
		return &domain.Heartbeat{Status: "active", Label: fmt.Sprintf("active %dm ago", min), AgeSec: &sec}
	case age < th.Stalled:
		return &domain.Heartbeat{Status: "warn", Label: fmt.Sprintf("possibly stalled %dm ago", min), AgeSec: &sec}
	default:
		return &domain.Heartbeat{Status: "stalled", Label: fmt.Sprintf("stalled for %dm", min), AgeSec: &sec}
	}
}

// Enrich attaches heartbeats in place across a snapshot.
func Enrich(tasks []domain.Task, now time.Time, th Thresholds) {
	for i := range tasks {
		tasks[i].Heartbeat = Classify(tasks[i], now, th)
	}
}
