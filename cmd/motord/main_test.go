package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/unklstewy/domecore/internal/ipc"
	"github.com/unklstewy/domecore/pkg/dispatch"
	"github.com/unklstewy/domecore/pkg/encoder"
)

func TestIPCPositionReaderReturnsFreshAngle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "encoder_position.json")
	snap := encoder.Snapshot{AngleDeg: 123.4, Status: encoder.StatusOK, Timestamp: time.Now()}
	if err := ipc.Publish(path, snap); err != nil {
		t.Fatalf("publish: %v", err)
	}

	reader := &ipcPositionReader{path: path, maxAge: time.Second}
	angle, err := reader.CurrentAngle(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if angle != 123.4 {
		t.Errorf("expected 123.4, got %v", angle)
	}
}

func TestIPCPositionReaderRejectsStaleSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "encoder_position.json")
	snap := encoder.Snapshot{AngleDeg: 1, Status: encoder.StatusOK, Timestamp: time.Now().Add(-time.Hour)}
	if err := ipc.Publish(path, snap); err != nil {
		t.Fatalf("publish: %v", err)
	}

	reader := &ipcPositionReader{path: path, maxAge: time.Second}
	if _, err := reader.CurrentAngle(context.Background()); err == nil {
		t.Error("expected staleness error, got nil")
	}
}

func TestIPCPositionReaderRejectsAbsentEncoder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "encoder_position.json")
	snap := encoder.Snapshot{AngleDeg: 1, Status: encoder.StatusAbsent, Timestamp: time.Now()}
	if err := ipc.Publish(path, snap); err != nil {
		t.Fatalf("publish: %v", err)
	}

	reader := &ipcPositionReader{path: path, maxAge: time.Second}
	if _, err := reader.CurrentAngle(context.Background()); err == nil {
		t.Error("expected absent-encoder error, got nil")
	}
}

func TestIPCPositionReaderMissingFile(t *testing.T) {
	dir := t.TempDir()
	reader := &ipcPositionReader{path: filepath.Join(dir, "missing.json"), maxAge: time.Second}
	if _, err := reader.CurrentAngle(context.Background()); err == nil {
		t.Error("expected error when snapshot file is missing")
	}
}

func TestSimulatedPositionReaderWrapsEncoder(t *testing.T) {
	sim := encoder.NewSimulated(10, 45.0, 1.0)
	reader := &simulatedPositionReader{encoder: sim, calibrationFactor: 1.0}
	angle, err := reader.CurrentAngle(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if angle < 0 || angle >= 360 {
		t.Errorf("expected angle in [0,360), got %v", angle)
	}
}

func TestMotorServicePollCommandDispatchesFastCommandsInline(t *testing.T) {
	dir := t.TempDir()
	commandPath := filepath.Join(dir, "motor_command.json")

	sim := encoder.NewSimulated(0, 45.0, 1.0)
	reader := &simulatedPositionReader{encoder: sim, calibrationFactor: 1.0}
	mover := &stepperMover{} // unused by STOP

	disp := dispatch.New(reader, mover, 0.5, time.Second)
	svc := &motorService{disp: disp, reader: reader, mover: mover, commandPath: commandPath, statusPath: filepath.Join(dir, "motor_status.json")}

	wire := dispatch.WireCommand{ID: "cmd-1", Kind: dispatch.CmdStop, IssuedAt: time.Now()}
	data, err := json.Marshal(wire)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(commandPath, data, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	svc.pollCommand(context.Background())

	if disp.State() != dispatch.StateIdle {
		t.Errorf("expected IDLE after STOP, got %s", disp.State())
	}
}

func TestMotorServicePublishStatusWritesSnapshot(t *testing.T) {
	dir := t.TempDir()
	statusPath := filepath.Join(dir, "motor_status.json")

	sim := encoder.NewSimulated(0, 45.0, 1.0)
	reader := &simulatedPositionReader{encoder: sim, calibrationFactor: 1.0}
	mover := &stepperMover{}
	disp := dispatch.New(reader, mover, 0.5, time.Second)
	svc := &motorService{disp: disp, reader: reader, mover: mover, statusPath: statusPath, simulation: true}

	svc.publishStatus()

	var status dispatch.MotorStatus
	ok, err := ipc.Read(statusPath, &status)
	if err != nil || !ok {
		t.Fatalf("expected a readable status snapshot, ok=%v err=%v", ok, err)
	}
	if status.State != dispatch.StateIdle {
		t.Errorf("expected IDLE, got %s", status.State)
	}
	if !status.Simulation {
		t.Error("expected Simulation=true")
	}
}
