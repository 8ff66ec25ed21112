// Command domed runs the Encoder Daemon (§4.1): it owns the SPI bus and
// the reference microswitch, samples the dome's absolute angle at
// 50 Hz, and publishes the resulting snapshot over IPC for the Motor
// Service to consume.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/unklstewy/domecore/internal/ipc"
	"github.com/unklstewy/domecore/pkg/config"
	"github.com/unklstewy/domecore/pkg/encoder"
)

const (
	sampleInterval   = 20 * time.Millisecond // 50 Hz
	snapshotFileName = "encoder_position.json"
)

func main() {
	configPath := flag.String("config", "configs/config.json", "Path to configuration file")
	statePath := flag.String("state-dir", "/dev/shm", "Directory holding IPC snapshot files")
	simulate := flag.Bool("simulate", false, "Run against a simulated encoder bus instead of real SPI hardware")
	flag.Parse()

	log.Println("===========================================")
	log.Println("  Dome Encoder Daemon")
	log.Println("===========================================")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	log.Printf("Configuration loaded from: %s", *configPath)

	if err := os.MkdirAll(*statePath, 0755); err != nil {
		log.Fatalf("Failed to create state directory: %v", err)
	}
	snapshotPath := filepath.Join(*statePath, snapshotFileName)

	var bus encoder.Bus
	simulation := *simulate || !cfg.Encoder.Enabled
	if simulation {
		log.Println("⚠️  Running with a simulated encoder bus (no hardware access)")
		bus = encoder.NewSimulated(0, cfg.Encoder.CalibrationAngleDeg, cfg.Motor.CalibrationFactor)
	} else {
		log.Printf("Opening SPI bus %s at %d Hz", cfg.Encoder.SPIBus, cfg.Encoder.SPISpeedHz)
		spiBus, err := encoder.OpenSPIBus(cfg.Encoder.SPIBus, cfg.Encoder.SPISpeedHz, fmt.Sprintf("GPIO%d", cfg.GPIO.SwitchPin))
		if err != nil {
			log.Fatalf("Failed to open SPI bus: %v", err)
		}
		defer spiBus.Close()
		bus = spiBus
		log.Println("✓ SPI bus opened")
	}

	daemon := encoder.NewDaemon(bus, cfg.Encoder.CalibrationAngleDeg, cfg.Motor.CalibrationFactor, cfg.Encoder.MedianWindow)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	doneChan := make(chan struct{})
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("PANIC in sampling loop: %v", r)
			}
			close(doneChan)
		}()
		runSamplingLoop(ctx, daemon, snapshotPath)
	}()

	log.Println("\n===========================================")
	log.Println("  Encoder daemon started")
	log.Println("  Press Ctrl+C to stop")
	log.Println("===========================================")

	select {
	case sig := <-sigChan:
		log.Printf("\nReceived signal: %v", sig)
	case <-doneChan:
		log.Println("\nSampling loop exited unexpectedly")
	}

	cancel()
	log.Println("Shutting down gracefully...")
	log.Println("✓ Encoder daemon stopped")
}

// runSamplingLoop drives the 50 Hz sample/publish cycle until ctx is
// cancelled. heartbeatActive is always true here: the daemon has no
// direct visibility into whether the Motor Service is mid-command, so
// it conservatively assumes motion could be in progress for the FROZEN
// check (§4.1) — a consumer reading a FROZEN status while genuinely
// idle simply ignores it, since nothing depends on dome motion then.
func runSamplingLoop(ctx context.Context, daemon *encoder.Daemon, snapshotPath string) {
	limiter := rate.NewLimiter(rate.Every(sampleInterval), 1)

	statsTicker := time.NewTicker(30 * time.Second)
	defer statsTicker.Stop()

	var samples int64
	var lastSnapshot encoder.Snapshot

	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-statsTicker.C:
			log.Printf("[%s] angle=%.3f° status=%s calibrated=%v samples=%d",
				lastSnapshot.Timestamp.Format("15:04:05"), lastSnapshot.AngleDeg,
				lastSnapshot.Status, lastSnapshot.Calibrated, samples)
		default:
		}

		snap := daemon.Sample(ctx, true)
		lastSnapshot = snap
		samples++
		if err := publishSnapshot(snapshotPath, snap); err != nil {
			log.Printf("✗ Failed to publish encoder snapshot: %v", err)
		}
	}
}

// publishSnapshot writes snap to snapshotPath via the atomic
// write-via-temp-then-rename IPC contract (§4.2).
func publishSnapshot(snapshotPath string, snap encoder.Snapshot) error {
	return ipc.Publish(snapshotPath, snap)
}
