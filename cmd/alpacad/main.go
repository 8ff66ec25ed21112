// Command alpacad bridges this core to an external ASCOM Alpaca dome
// controller (§6's optional interop adapter): it polls motor_status.json
// and, whenever the Motor Service's position changes, mirrors the move
// through pkg/alpaca's DomeClient; shutter state is not mirrored. It
// exists purely for
// interoperability with observatory software that only knows how to
// address a dome over Alpaca; none of the core's own control loops
// depend on it running.
package main

import (
	"context"
	"flag"
	"log"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/unklstewy/domecore/internal/ipc"
	"github.com/unklstewy/domecore/pkg/alpaca"
	"github.com/unklstewy/domecore/pkg/config"
	"github.com/unklstewy/domecore/pkg/dispatch"
)

const (
	pollInterval     = 2 * time.Second
	statsInterval    = 30 * time.Second
	statusFileName   = "motor_status.json"
	slewThresholdDeg = 0.5 // suppress Alpaca slew chatter for sub-threshold drift
)

func main() {
	configPath := flag.String("config", "configs/config.json", "Path to configuration file")
	statePath := flag.String("state-dir", "/dev/shm", "Directory holding IPC snapshot files")
	flag.Parse()

	log.Println("===========================================")
	log.Println("  Alpaca Dome Bridge")
	log.Println("===========================================")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	log.Printf("Configuration loaded from: %s", *configPath)
	log.Printf("Bridging to Alpaca dome at %s (device #%d)", cfg.Telescope.BaseURL, cfg.Telescope.DeviceNumber)

	statusPath := filepath.Join(*statePath, statusFileName)

	client := alpaca.NewDomeClient(cfg.Telescope)
	if err := client.Connect(); err != nil {
		log.Fatalf("Failed to connect to Alpaca dome: %v", err)
	}
	defer client.Disconnect()
	log.Println("✓ Connected to Alpaca dome")

	bridge := &bridgeService{client: client, statusPath: statusPath}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	doneChan := make(chan struct{})
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("PANIC in bridge loop: %v", r)
			}
			close(doneChan)
		}()
		bridge.run(ctx)
	}()

	log.Println("\n===========================================")
	log.Println("  Alpaca bridge started")
	log.Println("  Press Ctrl+C to stop")
	log.Println("===========================================")

	select {
	case sig := <-sigChan:
		log.Printf("\nReceived signal: %v", sig)
	case <-doneChan:
		log.Println("\nBridge loop exited unexpectedly")
	}

	cancel()
	log.Println("Shutting down gracefully...")
	log.Println("✓ Alpaca bridge stopped")
}

// bridgeService mirrors motor_status.json onto an external Alpaca dome.
type bridgeService struct {
	client     *alpaca.DomeClient
	statusPath string

	haveLastAz   bool
	lastAzSynced float64
	totalSynced  int
	totalErrors  int
}

func (b *bridgeService) run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	statsTicker := time.NewTicker(statsInterval)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.sync(ctx)
		case <-statsTicker.C:
			log.Printf("📊 Alpaca bridge: %d synced, %d errors, last az %.2f°",
				b.totalSynced, b.totalErrors, b.lastAzSynced)
		}
	}
}

// sync reads the latest published MotorStatus and, if the dome's
// position has drifted more than slewThresholdDeg since the last sync,
// issues a slew against the external Alpaca dome.
func (b *bridgeService) sync(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("PANIC in sync(): %v", r)
		}
	}()

	var status dispatch.MotorStatus
	ok, err := ipc.Read(b.statusPath, &status)
	if err != nil {
		log.Printf("✗ Failed to read motor status: %v", err)
		b.totalErrors++
		return
	}
	if !ok {
		return
	}

	if status.State == dispatch.StateMoving || status.State == dispatch.StateTracking {
		// The dome is already actively correcting; let it settle before
		// mirroring another slew to avoid fighting its own motion.
		return
	}

	if b.haveLastAz && math.Abs(status.PositionDeg-b.lastAzSynced) < slewThresholdDeg {
		return
	}

	if err := b.client.SlewToAzimuth(status.PositionDeg); err != nil {
		log.Printf("✗ Failed to mirror slew to %.2f°: %v", status.PositionDeg, err)
		b.totalErrors++
		return
	}

	b.lastAzSynced = status.PositionDeg
	b.haveLastAz = true
	b.totalSynced++
}
