package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestEventLogBoundsCapacity(t *testing.T) {
	log := NewEventLog(3)
	for i := 0; i < 5; i++ {
		log.Add(EventInfo, "event %d", i)
	}

	events := log.Snapshot()
	if len(events) != 3 {
		t.Fatalf("expected log capped at 3, got %d", len(events))
	}
	if events[0].Message != "event 2" {
		t.Errorf("expected oldest retained event to be 'event 2', got %q", events[0].Message)
	}
	if events[2].Message != "event 4" {
		t.Errorf("expected newest event to be 'event 4', got %q", events[2].Message)
	}
}

func TestEventLogDefaultsCapacityWhenZero(t *testing.T) {
	log := NewEventLog(0)
	if log.max != eventLogCapacity {
		t.Errorf("expected default capacity %d, got %d", eventLogCapacity, log.max)
	}
}

func TestDispatcherStatusReflectsStateAndLogs(t *testing.T) {
	dome := &fakeDome{angleDeg: 0, gain: 1.0, err: errors.New("bus fault")}
	d := newTestDispatcher(dome)

	res := d.Dispatch(context.Background(), Command{Kind: CmdGoto, TargetDeg: 10})
	if res.Err == nil {
		t.Fatal("expected GOTO to fail")
	}

	status := d.Status(dome.angleDeg, true)
	if status.State != StateError {
		t.Errorf("expected status.State ERROR, got %v", status.State)
	}
	if !status.Simulation {
		t.Error("expected simulation flag to be carried through")
	}
	if len(status.Logs) == 0 {
		t.Fatal("expected a fault event to be recorded")
	}
	if status.UpdatedAt.IsZero() || time.Since(status.UpdatedAt) > time.Second {
		t.Errorf("expected a fresh UpdatedAt, got %v", status.UpdatedAt)
	}
}

func TestDispatcherEventsAccessor(t *testing.T) {
	dome := &fakeDome{angleDeg: 0, gain: 1.0}
	d := newTestDispatcher(dome)

	if r := d.Dispatch(context.Background(), Command{Kind: CmdStartTrack}); r.Err != nil {
		t.Fatalf("START_TRACK failed: %v", r.Err)
	}
	if r := d.Dispatch(context.Background(), Command{Kind: CmdStopTrack}); r.Err != nil {
		t.Fatalf("STOP_TRACK failed: %v", r.Err)
	}

	events := d.Events().Snapshot()
	if len(events) < 2 {
		t.Fatalf("expected tracking start/stop events to be logged, got %d", len(events))
	}
}
