package heartbeat_test

import (
	"testing"
	"time"

	"kanline/internal/domain"
	"kanline/internal/heartbeat"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func taskUpdatedAgo(state domain.State, age time.Duration) domain.Task {
	return domain.Task{
		ID:        "KAN-20260301-001",
		State:     state,
		UpdatedAt: base.Add(-age).Format(time.RFC3339),
	}
}

func TestClassifyBands(t *testing.T) {
	cases := []struct {
		age    time.Duration
		status string
	}{
		{30 * time.Second, "active"},
		{179 * time.Second, "active"},
		{180 * time.Second, "warn"},
		{599 * time.Second, "warn"},
		{600 * time.Second, "stalled"},
		{2 * time.Hour, "stalled"},
	}
	for _, tc := range cases {
		hb := heartbeat.Classify(taskUpdatedAgo(domain.StateDoing, tc.age), base, heartbeat.DefaultThresholds)
		if hb == nil {
			t.Fatalf("age %v: expected heartbeat", tc.age)
		}
		if hb.Status != tc.status {
			t.Fatalf("age %v: got %q want %q", tc.age, hb.Status, tc.status)
		}
		if hb.AgeSec == nil || *hb.AgeSec != int(tc.age/time.Second) {
			t.Fatalf("age %v: bad ageSec %v", tc.age, hb.AgeSec)
		}
	}
}

func TestClassifyOnlyInFlightStates(t *testing.T) {
	for _, state := range []domain.State{
		domain.StatePending, domain.StateTaizi, domain.StateZhongshu,
		domain.StateMenxia, domain.StateNext, domain.StateDone,
		domain.StateBlocked, domain.StateCancelled,
	} {
		if hb := heartbeat.Classify(taskUpdatedAgo(state, time.Hour), base, heartbeat.DefaultThresholds); hb != nil {
			t.Fatalf("%s: expected no heartbeat, got %+v", state, hb)
		}
	}
	for _, state := range []domain.State{domain.StateDoing, domain.StateAssigned, domain.StateReview} {
		if hb := heartbeat.Classify(taskUpdatedAgo(state, time.Hour), base, heartbeat.DefaultThresholds); hb == nil {
			t.Fatalf("%s: expected heartbeat", state)
		}
	}
}

func TestClassifyUnparseableTimestamp(t *testing.T) {
	task := domain.Task{State: domain.StateDoing, UpdatedAt: "yesterday-ish"}
	hb := heartbeat.Classify(task, base, heartbeat.DefaultThresholds)
	if hb == nil || hb.Status != "unknown" {
		t.Fatalf("expected unknown heartbeat, got %+v", hb)
	}
	if hb.AgeSec != nil {
		t.Fatalf("unknown heartbeat must not carry an age: %d", *hb.AgeSec)
	}
}

func TestClassifyFutureTimestampClampsToZero(t *testing.T) {
	task := taskUpdatedAgo(domain.StateDoing, -time.Minute)
	hb := heartbeat.Classify(task, base, heartbeat.DefaultThresholds)
	if hb == nil || hb.Status != "active" || hb.AgeSec == nil || *hb.AgeSec != 0 {
		t.Fatalf("future timestamp not clamped: %+v", hb)
	}
}

func TestCustomThresholds(t *testing.T) {
	th := heartbeat.Thresholds{Active: 10 * time.Second, Stalled: 20 * time.Second}
	hb := heartbeat.Classify(taskUpdatedAgo(domain.StateReview, 15*time.Second), base, th)
	if hb == nil || hb.Status != "warn" {
		t.Fatalf("custom thresholds ignored: %+v", hb)
	}
}

func TestEnrich(t *testing.T) {
	tasks := []domain.Task{
		taskUpdatedAgo(domain.StateDoing, 30*time.Second),
		taskUpdatedAgo(domain.StateDone, 30*time.Second),
	}
	heartbeat.Enrich(tasks, base, heartbeat.DefaultThresholds)
	if tasks[0].Heartbeat == nil {
		t.Fatal("in-flight task missing heartbeat")
	}
	if tasks[1].Heartbeat != nil {
		t.Fatal("done task should have no heartbeat")
	}
}
