// Package engine owns the monitor's shared state and wires the samplers,
// the fusion arbiter, the buzzer and the alert dispatcher into one
// lifecycle.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/banshee-data/drowsiness.monitor/internal/adc"
	"github.com/banshee-data/drowsiness.monitor/internal/blink"
	"github.com/banshee-data/drowsiness.monitor/internal/buzzer"
	"github.com/banshee-data/drowsiness.monitor/internal/config"
	"github.com/banshee-data/drowsiness.monitor/internal/db"
	"github.com/banshee-data/drowsiness.monitor/internal/fusion"
	"github.com/banshee-data/drowsiness.monitor/internal/gpio"
	"github.com/banshee-data/drowsiness.monitor/internal/notify"
	"github.com/banshee-data/drowsiness.monitor/internal/pulse"
	"github.com/banshee-data/drowsiness.monitor/internal/sensor"
	"github.com/banshee-data/drowsiness.monitor/internal/timeutil"
	"github.com/banshee-data/drowsiness.monitor/internal/version"
)

// Hardware is the set of opened devices the engine drives. Blinks may be
// nil when no blink detector is running. The engine closes ADC and Blinks
// during teardown.
type Hardware struct {
	ADC    adc.Source
	GPIO   gpio.Driver
	Blinks blink.Source
}

// Options configures an Engine. Journal and Sinks are optional.
type Options struct {
	Config     *config.MonitorConfig
	Logger     *zap.Logger
	Clock      timeutil.Clock
	Journal    *db.DB
	Sinks      []notify.Sink
	ADCBackend string
}

// Engine runs one monitoring session.
type Engine struct {
	cfg    *config.MonitorConfig
	logger *zap.Logger
	clock  timeutil.Clock

	adc    *adc.Bus
	gpio   *gpio.Bus
	blinks blink.Source
	state  *sensor.SharedState

	proximity *sensor.Sampler
	grip      *sensor.Sampler
	pulse     *pulse.Sampler
	arbiter   *fusion.Arbiter
	buzzer    *buzzer.Actuator
	notify    *notify.Dispatcher

	journal   *db.DB
	sessionID string
	backend   string

	runOnce sync.Once
}

// New wires the engine. Nothing runs until Run is called.
func New(hw Hardware, opts Options) (*Engine, error) {
	if hw.ADC == nil {
		return nil, errors.New("engine: no ADC source")
	}
	if hw.GPIO == nil {
		return nil, errors.New("engine: no GPIO driver")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultMonitorConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	e := &Engine{
		cfg:     cfg,
		logger:  logger,
		clock:   clock,
		adc:     adc.NewBus(hw.ADC),
		gpio:    gpio.NewBus(hw.GPIO),
		blinks:  hw.Blinks,
		state:   sensor.NewSharedState(uint32(cfg.GetPulseDefaultIBI())),
		journal: opts.Journal,
		backend: opts.ADCBackend,
	}

	fullScale := cfg.GetFullScaleMillivolts()
	proxScale := sensor.ByteScale(cfg.GetProximityMinMillivolts(), cfg.GetProximityMaxMillivolts(), fullScale)
	distScale := sensor.DistanceScale(cfg.GetProximityMinMillivolts(), cfg.GetProximityMaxMillivolts(), fullScale)
	e.proximity = sensor.NewSampler(sensor.SamplerConfig{
		Name:      "proximity",
		Channel:   cfg.GetProximityChannel(),
		Period:    cfg.GetProximityPeriod(),
		Scale:     proxScale,
		Indicator: e.gpio,
		PWMPin:    cfg.GetProximityPin(),
		Publish: func(r sensor.Reading) {
			e.state.PublishProximity(r.Value, r.Delta, uint32(distScale.Map(r.Volts)))
		},
	}, e.adc, clock)

	e.grip = sensor.NewSampler(sensor.SamplerConfig{
		Name:      "grip",
		Channel:   cfg.GetGripChannel(),
		Period:    cfg.GetGripPeriod(),
		Scale:     sensor.ByteScale(cfg.GetGripMinMillivolts(), cfg.GetGripMaxMillivolts(), fullScale),
		Indicator: e.gpio,
		PWMPin:    cfg.GetGripPin(),
		Publish: func(r sensor.Reading) {
			e.state.PublishGrip(r.Value, r.Delta)
		},
	}, e.adc, clock)

	e.pulse = pulse.NewSampler(pulse.SamplerConfig{
		Channel:      cfg.GetPulseChannel(),
		Period:       cfg.GetPulsePeriod(),
		IndicatorPin: cfg.GetPulsePin(),
		Detector: pulse.Config{
			Baseline:   cfg.GetPulseBaseline(),
			DefaultIBI: cfg.GetPulseDefaultIBI(),
		},
	}, e.adc, e.gpio, e.state, clock)

	e.buzzer = buzzer.New(e.gpio, cfg.GetBuzzerPin(), cfg.GetBuzzerDuration(), clock)

	var sinks []notify.Sink
	if e.journal != nil {
		id, err := e.journal.StartSession(context.Background(), clock.Now(), version.Version, e.backend)
		if err != nil {
			return nil, fmt.Errorf("engine: start session: %w", err)
		}
		e.sessionID = id
		sinks = append(sinks, &db.Journal{DB: e.journal, SessionID: id})
	}
	sinks = append(sinks, opts.Sinks...)
	e.notify = notify.NewDispatcher(logger.Named("notify"), 256, sinks...)

	e.arbiter = fusion.NewArbiter(fusion.Options{
		Thresholds: Thresholds(cfg),
		State:      e.state,
		Blinks:     e.blinks,
		Alerts:     e.buzzer,
		Buzzer:     e.buzzer,
		Clock:      clock,
		Period:     cfg.GetFusionPeriod(),
		OnAlert:    e.notify.Submit,
	})
	return e, nil
}

// Thresholds converts the configured rule parameters.
func Thresholds(cfg *config.MonitorConfig) fusion.Thresholds {
	return fusion.Thresholds{
		ApproachDelta:    int32(cfg.GetApproachDelta()),
		ApproachCooldown: uint32(cfg.GetApproachCooldown()),
		BlinkFast:        uint32(cfg.GetBlinkFastInterval()),
		BlinkCooldown:    uint32(cfg.GetBlinkCooldown()),
		BlinkSlow:        uint32(cfg.GetBlinkSlowInterval()),
		Proximity:        uint8(cfg.GetProximityThreshold()),
		Grip:             uint8(cfg.GetGripThreshold()),
		IBI:              uint32(cfg.GetIBIThreshold()),
		CombinedCooldown: uint32(cfg.GetCombinedCooldown()),
		NoGrip: fusion.GripConfig{
			NoGripLevel: uint8(cfg.GetNoGripLevel()),
			Dwell:       uint32(cfg.GetNoGripDwell()),
			Cooldown:    uint32(cfg.GetGripAlertCooldown()),
		},
	}
}

func (e *Engine) State() *sensor.SharedState     { return e.state }
func (e *Engine) Arbiter() *fusion.Arbiter       { return e.arbiter }
func (e *Engine) Buzzer() *buzzer.Actuator       { return e.buzzer }
func (e *Engine) Dispatcher() *notify.Dispatcher { return e.notify }
func (e *Engine) SessionID() string              { return e.sessionID }

// Run starts every task, blocks until ctx is cancelled, then shuts down in
// order: fusion, pulse, grip, proximity, buzzer, dispatcher. Each join is
// bounded by the configured grace period; a task that overruns is logged
// and abandoned. Outputs are driven low and devices closed last. Run may be
// called once.
func (e *Engine) Run(ctx context.Context) error {
	err := errors.New("engine: already run")
	e.runOnce.Do(func() { err = e.run(ctx) })
	return err
}

func (e *Engine) run(ctx context.Context) error {
	grace := e.cfg.GetShutdownGrace()
	e.logger.Info("monitor starting",
		zap.String("session_id", e.sessionID),
		zap.String("adc_backend", e.backend),
		zap.Bool("blink_detector", e.blinks != nil),
		zap.Strings("sinks", e.notify.Sinks()))

	dispatchTask := start("dispatcher", e.notify.Run)
	buzzTask := start("buzzer", e.buzzer.Run)
	proxTask := start("proximity", e.proximity.Run)
	gripTask := start("grip", e.grip.Run)
	pulseTask := start("pulse", e.pulse.Run)
	fusionTask := start("fusion", e.arbiter.Run)

	<-ctx.Done()
	e.logger.Info("monitor stopping", zap.Uint32("tick", e.arbiter.Tick()))

	var errs []error
	for _, t := range []*task{fusionTask, pulseTask, gripTask, proxTask} {
		if err := t.stop(e.clock, grace); err != nil {
			e.logger.Warn("task did not stop", zap.String("task", t.name), zap.Error(err))
			errs = append(errs, err)
		}
	}
	// an actuation in flight finishes, so allow for its full duration
	if err := buzzTask.stop(e.clock, grace+e.cfg.GetBuzzerDuration()); err != nil {
		e.logger.Warn("task did not stop", zap.String("task", buzzTask.name), zap.Error(err))
		errs = append(errs, err)
	}
	if err := dispatchTask.stop(e.clock, grace); err != nil {
		e.logger.Warn("task did not stop", zap.String("task", dispatchTask.name), zap.Error(err))
		errs = append(errs, err)
	}

	errs = append(errs, e.teardown()...)
	e.logger.Info("monitor stopped",
		zap.Any("alerts", e.arbiter.Counts()),
		zap.Uint64("buzzes", e.buzzer.Actuations()),
		zap.Uint64("proximity_faults", e.proximity.Faults()),
		zap.Uint64("grip_faults", e.grip.Faults()))
	return errors.Join(errs...)
}

func (e *Engine) teardown() []error {
	var errs []error
	if err := e.gpio.AllLow(e.cfg.GetBuzzerPin(), e.cfg.GetPulsePin(), e.cfg.GetProximityPin(), e.cfg.GetGripPin()); err != nil {
		e.logger.Error("failed to reset outputs", zap.Error(err))
		errs = append(errs, err)
	}
	if err := e.gpio.Close(); err != nil {
		e.logger.Warn("failed to release GPIO", zap.Error(err))
	}
	if e.blinks != nil {
		if err := e.blinks.Close(); err != nil {
			e.logger.Warn("failed to close blink source", zap.Error(err))
		}
	}
	if err := e.adc.Close(); err != nil {
		e.logger.Warn("failed to close ADC", zap.Error(err))
	}
	if e.journal != nil && e.sessionID != "" {
		if err := e.journal.EndSession(context.Background(), e.sessionID, e.clock.Now()); err != nil {
			e.logger.Error("failed to end session", zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errs
}

// task is one goroutine with its own cancellation.
type task struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func start(name string, fn func(context.Context) error) *task {
	ctx, cancel := context.WithCancel(context.Background())
	t := &task{name: name, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(t.done)
		t.err = fn(ctx)
	}()
	return t
}

var errJoinTimeout = errors.New("join timed out")

// stop cancels the task and waits up to grace for it to return.
func (t *task) stop(clock timeutil.Clock, grace time.Duration) error {
	t.cancel()
	timer := clock.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-t.done:
		if t.err != nil && !errors.Is(t.err, context.Canceled) {
			return fmt.Errorf("%s: %w", t.name, t.err)
		}
		return nil
	case <-timer.C():
		return fmt.Errorf("%s: %w after %s", t.name, errJoinTimeout, grace)
	}
}
