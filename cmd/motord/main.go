// Command motord runs the Motor Service (§4.3, §4.5): it owns the
// stepper GPIO lines, hosts the Command Dispatcher and the Adaptive
// Tracking Engine, polls motor_command.json for inbound commands, and
// publishes motor_status.json at 20 Hz.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/unklstewy/domecore/internal/errs"
	"github.com/unklstewy/domecore/internal/ipc"
	"github.com/unklstewy/domecore/pkg/abaque"
	"github.com/unklstewy/domecore/pkg/angle"
	"github.com/unklstewy/domecore/pkg/astro"
	"github.com/unklstewy/domecore/pkg/config"
	"github.com/unklstewy/domecore/pkg/coordinates"
	"github.com/unklstewy/domecore/pkg/dispatch"
	"github.com/unklstewy/domecore/pkg/encoder"
	"github.com/unklstewy/domecore/pkg/motor"
	"github.com/unklstewy/domecore/pkg/tracking"
)

const (
	dispatchInterval = 50 * time.Millisecond // 20 Hz
	commandFileName  = "motor_command.json"
	statusFileName   = "motor_status.json"
	encoderFileName  = "encoder_position.json"

	// maxConvergeDuration bounds one Converge/handleGoto call (§4.4).
	maxConvergeDuration = 30 * time.Second
)

func main() {
	configPath := flag.String("config", "configs/config.json", "Path to configuration file")
	statePath := flag.String("state-dir", "/dev/shm", "Directory holding IPC snapshot files")
	simulate := flag.Bool("simulate", false, "Run against a simulated stepper and encoder instead of real hardware")
	flag.Parse()

	log.Println("===========================================")
	log.Println("  Dome Motor Service")
	log.Println("===========================================")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	log.Printf("Configuration loaded from: %s", *configPath)

	if err := os.MkdirAll(*statePath, 0755); err != nil {
		log.Fatalf("Failed to create state directory: %v", err)
	}
	commandPath := filepath.Join(*statePath, commandFileName)
	statusPath := filepath.Join(*statePath, statusFileName)
	encoderPath := filepath.Join(*statePath, encoderFileName)

	simulation := *simulate || !cfg.Encoder.Enabled

	var reader dispatch.PositionReader
	var mover dispatch.Mover
	var calibrated bool

	degPerStep := 360.0 / (float64(cfg.Motor.StepsPerRevolution) * float64(cfg.Motor.Microsteps) * cfg.Motor.GearRatio)

	if simulation {
		log.Println("⚠️  Running with a simulated stepper and encoder (no hardware access)")
		simEncoder := encoder.NewSimulated(0, cfg.Encoder.CalibrationAngleDeg, cfg.Motor.CalibrationFactor)
		simMotor := motor.NewSimulated(simEncoder, degPerStep)
		reader = &simulatedPositionReader{encoder: simEncoder, calibrationFactor: cfg.Motor.CalibrationFactor}
		mover = &stepperMover{driver: simMotor, params: motorParams(cfg)}
		calibrated = true
	} else {
		log.Printf("Opening stepper GPIO lines dir=%d step=%d", cfg.GPIO.DirPin, cfg.GPIO.StepPin)
		driver, err := motor.OpenGPIODriver(fmt.Sprintf("GPIO%d", cfg.GPIO.DirPin), fmt.Sprintf("GPIO%d", cfg.GPIO.StepPin))
		if err != nil {
			log.Fatalf("Failed to open stepper GPIO lines: %v", err)
		}
		log.Println("✓ Stepper GPIO lines opened")
		reader = &ipcPositionReader{path: encoderPath, maxAge: time.Duration(cfg.Encoder.MaxAgeMillis) * time.Millisecond}
		mover = &stepperMover{driver: driver, params: motorParams(cfg)}
	}

	disp := dispatch.New(reader, mover, cfg.Thresholds.ToleranceDeg, maxConvergeDuration)
	disp.SetCalibrated(calibrated)

	samples, err := abaque.LoadSamples(cfg.Abaque.SamplesPath)
	if err != nil {
		log.Printf("⚠️  Failed to load abaque samples from %s (%v); falling back to identity table", cfg.Abaque.SamplesPath, err)
		samples = abaque.DefaultSamples()
	}
	table, err := abaque.Build(samples)
	if err != nil {
		log.Fatalf("Failed to build abaque table: %v", err)
	}

	site := coordinates.Observer{
		Location: coordinates.Geographic{
			Latitude:  cfg.Site.Latitude,
			Longitude: cfg.Site.Longitude,
			Altitude:  cfg.Site.Altitude,
		},
	}
	limits := tracking.DefaultTrackingLimits()
	provider := astro.NewStubProvider()

	svc := &motorService{
		disp:                 disp,
		reader:               reader,
		mover:                mover,
		provider:             provider,
		table:                table,
		site:                 site,
		cfg:                  cfg.Adaptive,
		limits:               limits,
		stagnationMinMoveDeg: cfg.Thresholds.StagnationMinMoveDeg,

		commandPath: commandPath,
		statusPath:  statusPath,
		simulation:  simulation,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	doneChan := make(chan struct{})
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("PANIC in dispatch loop: %v", r)
			}
			close(doneChan)
		}()
		svc.run(ctx)
	}()

	log.Println("\n===========================================")
	log.Println("  Motor service started")
	log.Println("  Press Ctrl+C to stop")
	log.Println("===========================================")

	select {
	case sig := <-sigChan:
		log.Printf("\nReceived signal: %v", sig)
	case <-doneChan:
		log.Println("\nDispatch loop exited unexpectedly")
	}

	cancel()
	log.Println("Shutting down gracefully...")
	log.Println("✓ Motor service stopped")
}

func motorParams(cfg *config.Config) motor.Params {
	return motor.Params{
		StepsPerRevolution: cfg.Motor.StepsPerRevolution,
		Microsteps:         cfg.Motor.Microsteps,
		GearRatio:          cfg.Motor.GearRatio,
		CalibrationScale:   cfg.Motor.CalibrationFactor,
		MinStepPeriod:      time.Duration(cfg.Motor.MinStepPeriodSeconds * float64(time.Second)),
		RampStepThreshold:  cfg.Motor.RampStepThreshold,
		RampStartPeriod:    time.Duration(cfg.Motor.RampStartPeriodSeconds * float64(time.Second)),
	}
}

// ipcPositionReader adapts the encoder_position.json snapshot file into
// the dispatch.PositionReader the dispatcher and tracking engine expect.
type ipcPositionReader struct {
	path   string
	maxAge time.Duration
}

func (r *ipcPositionReader) CurrentAngle(ctx context.Context) (float64, error) {
	var snap encoder.Snapshot
	ok, err := ipc.Read(r.path, &snap)
	if err != nil {
		return 0, errs.NewEncoderFault("read", "ipc read failed", err)
	}
	if !ok {
		return 0, errs.NewEncoderFault("read", "no encoder snapshot available", errs.ErrEncoderUnavailable)
	}
	freshness := ipc.Freshness{MaxAge: r.maxAge}
	if freshness.IsStale(snap.Timestamp) {
		return 0, errs.NewEncoderFault("read", "encoder snapshot stale", errs.ErrEncoderUnavailable)
	}
	if snap.Status == encoder.StatusAbsent {
		return 0, errs.NewEncoderFault("read", "encoder absent", errs.ErrEncoderUnavailable)
	}
	return snap.AngleDeg, nil
}

// simulatedPositionReader reads position directly off an in-process
// encoder.Simulated, used in -simulate mode where motord owns both ends
// of the loop instead of reading domed's published snapshot.
type simulatedPositionReader struct {
	encoder           *encoder.Simulated
	calibrationFactor float64
}

func (r *simulatedPositionReader) CurrentAngle(ctx context.Context) (float64, error) {
	raw, err := r.encoder.ReadRaw(ctx)
	if err != nil {
		return 0, err
	}
	deg := float64(raw) * r.calibrationFactor * 360.0 / float64(encoder.CounterRange)
	for deg < 0 {
		deg += 360
	}
	for deg >= 360 {
		deg -= 360
	}
	return deg, nil
}

// stepperMover adapts a motor.Driver and motor.Params into the
// dispatch.Mover/tracking.Mover capability. It also implements
// tracking.PeriodSetter: the Adaptive Tracking Engine overrides the step
// cadence per mode (NORMAL/CRITICAL/CONTINUOUS each specify their own
// step_period_ms), falling back to the configured MinStepPeriod for
// plain GOTO/JOG/CONTINUOUS dispatcher commands.
type stepperMover struct {
	driver motor.Driver
	params motor.Params

	mu             sync.Mutex
	overridePeriod time.Duration
}

// SetStepPeriod overrides the step cadence used by the next Correct
// call, until cleared by another SetStepPeriod(0).
func (m *stepperMover) SetStepPeriod(period time.Duration) {
	m.mu.Lock()
	m.overridePeriod = period
	m.mu.Unlock()
}

func (m *stepperMover) Correct(ctx context.Context, deltaDeg float64) error {
	m.mu.Lock()
	period := m.overridePeriod
	m.mu.Unlock()
	if period <= 0 {
		period = m.params.MinStepPeriod
	}
	if period <= 0 {
		period = time.Millisecond
	}
	_, err := motor.Move(ctx, m.driver, deltaDeg, m.params, period)
	if err != nil {
		if ctx.Err() != nil {
			return errs.ErrCancelled
		}
		return errs.NewMotorFault("correct", "move failed", err)
	}
	return nil
}

// motorService bundles everything the dispatch loop needs across ticks:
// the dispatcher, an on-demand tracking engine created by START_TRACK,
// and the IPC file paths it polls/publishes.
type motorService struct {
	disp                 *dispatch.Dispatcher
	reader               dispatch.PositionReader
	mover                dispatch.Mover
	provider             astro.Provider
	table                *abaque.Table
	site                 coordinates.Observer
	cfg                  config.AdaptiveConfig
	limits               tracking.TrackingLimits
	stagnationMinMoveDeg float64

	commandPath string
	statusPath  string
	simulation  bool

	engine           *tracking.Engine
	lastReport       tracking.Report
	totalCorrections int
	encoderOffsetDeg float64
}

// run drives the 20 Hz command-poll/dispatch/status-publish cycle until
// ctx is cancelled.
func (s *motorService) run(ctx context.Context) {
	limiter := rate.NewLimiter(rate.Every(dispatchInterval), 1)

	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		s.disp.Tick()
		s.pollCommand(ctx)
		s.stepTracking(ctx)
		s.publishStatus()
	}
}

// pollCommand reads motor_command.json, if present, and dispatches it.
// Repeated reads of an unchanged file are safe: the dispatcher memoizes
// by command ID and treats a repeat as a no-op (§4.5).
func (s *motorService) pollCommand(ctx context.Context) {
	var wire dispatch.WireCommand
	ok, err := ipc.Read(s.commandPath, &wire)
	if err != nil || !ok {
		return
	}
	cmd := wire.ToCommand()

	switch cmd.Kind {
	case dispatch.CmdStop, dispatch.CmdReload, dispatch.CmdStopTrack:
		s.disp.Dispatch(ctx, cmd)
		if cmd.Kind == dispatch.CmdStopTrack {
			s.engine = nil
		}
	case dispatch.CmdStartTrack:
		// Resolve the object and compute the initial dome-frame target
		// (az_dome_target) and the encoder offset at handoff before
		// dispatching, since the dispatcher itself stays decoupled from
		// astro/abaque (§4.5 step 4, §8 scenario 1). Only from IDLE, so a
		// repeat read of an already-accepted START_TRACK leaves the running
		// engine and encoder offset alone.
		if wire.Params.Object != nil && s.disp.State() == dispatch.StateIdle {
			if obj, err := s.provider.Resolve(*wire.Params.Object); err == nil {
				if azObj, altObj, err := s.provider.Horizontal(obj, s.site, time.Now()); err == nil {
					targetAz, _ := s.table.Query(altObj, azObj)
					cmd.TargetDeg = targetAz
					if encAngle, err := s.reader.CurrentAngle(ctx); err == nil {
						s.encoderOffsetDeg = angle.ShortestDelta(encAngle, targetAz)
					}
					s.engine = tracking.NewEngine(s.provider, s.table, s.reader, s.mover, s.site, s.cfg, s.limits, obj, s.stagnationMinMoveDeg)
				}
			}
		}
		// START_TRACK runs an initial GOTO-with-feedback before it enters
		// TRACKING (§4.5), so it blocks like GOTO/JOG/CONTINUOUS below.
		go s.disp.Dispatch(ctx, cmd)
	default:
		// GOTO/JOG/CONTINUOUS block for the duration of the move; run
		// them off the main loop goroutine so Tick()/status publishing
		// keep their 20 Hz cadence during a long slew.
		go s.disp.Dispatch(ctx, cmd)
	}
}

// stepTracking advances the on-demand tracking engine once per cycle
// while the dispatcher reports TRACKING.
func (s *motorService) stepTracking(ctx context.Context) {
	if s.disp.State() != dispatch.StateTracking || s.engine == nil {
		return
	}
	report, err := s.engine.Step(ctx, time.Now())
	if err != nil {
		// A Step failure (repeated stagnation, encoder unavailable, a
		// tripped tracking limit) escalates straight to ERROR with a
		// human-readable reason rather than quietly dropping to IDLE
		// (§4.6 step 7/8, §7); ERROR auto-recovers to IDLE after its
		// own timeout.
		s.disp.EnterError(err.Error())
		s.engine = nil
		return
	}
	if report.Corrected {
		s.totalCorrections++
	}
	s.lastReport = report
}

// publishStatus writes the current dispatcher snapshot, enriched with
// tracking detail when an engine is active, to motor_status.json.
func (s *motorService) publishStatus() {
	positionDeg := 0.0
	if pos, err := s.reader.CurrentAngle(context.Background()); err == nil {
		positionDeg = pos
	}

	status := s.disp.Status(positionDeg, s.simulation)

	if s.disp.State() == dispatch.StateTracking && s.engine != nil {
		mode := string(s.lastReport.Mode)
		status.Mode = &mode
		status.TrackingInfo = &dispatch.TrackingInfo{
			AzimuthDeg:         s.lastReport.ObjectAzDeg,
			AltitudeDeg:        s.lastReport.ObjectAltDeg,
			NextCheckInSec:     time.Until(s.lastReport.NextCheckAt).Seconds(),
			TotalCorrections:   s.totalCorrections,
			TotalCorrectionDeg: s.lastReport.CorrectedDeg,
			EncoderOffsetDeg:   s.encoderOffsetDeg,
			IntervalSec:        s.lastReport.IntervalSec,
		}
	}

	if err := ipc.Publish(s.statusPath, status); err != nil {
		log.Printf("✗ Failed to publish motor status: %v", err)
	}
}
