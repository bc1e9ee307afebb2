// Package monitor runs the control loop: telemetry samples in, rate-limited
// fan commands out.
package monitor

import (
	"context"
	"errors"
	"log"
	"net"
	"sync"
	"time"

	"simfan/internal/config"
	"simfan/internal/control"
	"simfan/internal/metrics"
	"simfan/internal/outgauge"
	"simfan/internal/web"
)

// TelemetrySource delivers decoded OutGauge frames. Read blocks for at most
// a bounded timeout and returns outgauge.ErrTimeout when the game is idle.
type TelemetrySource interface {
	Read() (outgauge.Packet, error)
	Close() error
}

// CommandSink receives the fan values the limiter lets through.
type CommandSink interface {
	Enqueue(pct int)
	Connected() bool
}

// Service owns the per-sample pipeline: mapper, compensator and limiter.
// Pipeline state is only ever touched under mu, by the loop goroutine and
// the occasional web action (toggle, force-stop, settings apply).
type Service struct {
	src    TelemetrySource
	sink   CommandSink
	status *web.Status

	mu   sync.Mutex
	cfg  config.Config
	comp *control.Compensator
	lim  control.Limiter

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

func New(cfg config.Config, src TelemetrySource, sink CommandSink, status *web.Status) *Service {
	return &Service{
		src:    src,
		sink:   sink,
		status: status,
		cfg:    cfg,
		comp:   control.NewCompensator(time.Now()),
		stopCh: make(chan struct{}),
	}
}

func (s *Service) Start(ctx context.Context) {
	s.status.SetStatic(s.cfg.Fan.Backend, s.cfg.Telemetry.Listen)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run()
	}()

	go func() {
		<-ctx.Done()
		s.Close()
	}()
}

// Close stops the loop and waits for it to exit.
func (s *Service) Close() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	// Closing the source unblocks a pending Read.
	_ = s.src.Close()
	s.wg.Wait()
}

func (s *Service) run() {
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		pkt, err := s.src.Read()
		now := time.Now()
		switch {
		case err == nil:
			metrics.SamplesReceived.Inc()
			s.status.AddSample()
			s.process(pkt.SpeedKMH(), now)
		case errors.Is(err, outgauge.ErrTimeout):
			// Game idle: keep observers fresh with a zero-speed view.
			metrics.TelemetryTimeouts.Inc()
			s.markIdle(now)
		case errors.Is(err, net.ErrClosed):
			return
		default:
			metrics.DecodeErrors.Inc()
			log.Printf("telemetry: %v", err)
		}
	}
}

// process runs one sample through the pipeline and hands the result to the
// sink when the limiter lets it through.
func (s *Service) process(speedKMH float64, now time.Time) {
	s.mu.Lock()
	cfg := s.cfg
	p := pipelineParams(cfg)

	base := control.MapSpeed(speedKMH, p)
	fan, comp := base, 0
	if p.RateCompensation > 0 {
		fan, comp = s.comp.Apply(speedKMH, base, p, now)
	}
	if !cfg.Control.Enabled {
		// Disabled drives toward off through the same rate-limited path.
		fan, comp = 0, 0
	}
	dispatch := s.lim.Allow(fan, cfg.Control.Cooldown(), now)
	s.mu.Unlock()

	s.publish(now, speedKMH, fan, comp, cfg.Control.Enabled)

	if dispatch {
		s.sink.Enqueue(fan)
		s.status.AddCommand()
	} else {
		metrics.CommandsSuppressed.Inc()
		s.status.AddSuppressed()
	}
}

func (s *Service) markIdle(now time.Time) {
	s.mu.Lock()
	enabled := s.cfg.Control.Enabled
	fan := 0
	if enabled {
		fan = s.lim.Last()
	}
	s.mu.Unlock()

	s.publish(now, 0, fan, 0, enabled)
}

func (s *Service) publish(now time.Time, speedKMH float64, fan, comp int, enabled bool) {
	s.status.SetLive(now.UTC(), web.Live{
		SpeedKMH:     speedKMH,
		FanSpeed:     fan,
		Compensation: comp,
		Enabled:      enabled,
		Connected:    s.sink.Connected(),
	})
	metrics.VehicleSpeedKMH.Set(speedKMH)
	metrics.FanSpeed.Set(float64(fan))
	metrics.CompensationValue.Set(float64(comp))
}

// ForceStop pushes a 0 target through the limiter right away, without waiting
// for the next telemetry sample. The cooldown still applies; a 0 that the
// limiter suppresses is simply dropped (the fan is already off or a command
// was dispatched moments ago).
func (s *Service) ForceStop() {
	now := time.Now()
	s.mu.Lock()
	cooldown := s.cfg.Control.Cooldown()
	enabled := s.cfg.Control.Enabled
	dispatch := s.lim.Allow(0, cooldown, now)
	s.mu.Unlock()

	if dispatch {
		s.sink.Enqueue(0)
		s.status.AddCommand()
	}

	speed := s.status.Live().SpeedKMH
	s.publish(now, speed, 0, 0, enabled)
}

// SetEnabled flips the master switch. Disabling also drives the fan toward
// off immediately instead of waiting for the next sample.
func (s *Service) SetEnabled(enabled bool) {
	s.mu.Lock()
	changed := s.cfg.Control.Enabled != enabled
	s.cfg.Control.Enabled = enabled
	s.mu.Unlock()

	if !changed {
		return
	}
	if enabled {
		log.Printf("monitor: system enabled")
		return
	}
	log.Printf("monitor: system disabled")
	s.ForceStop()
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Control.Enabled
}

// EffectiveConfig returns a copy of the configuration currently in effect.
func (s *Service) EffectiveConfig() config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// ApplyConfig validates cfg and makes it effective for the next sample. The
// previous configuration stays in effect when validation fails.
func (s *Service) ApplyConfig(cfg config.Config) error {
	if err := config.DefaultAndValidate(&cfg); err != nil {
		return err
	}

	s.mu.Lock()
	wasEnabled := s.cfg.Control.Enabled
	s.cfg = cfg
	s.mu.Unlock()

	s.status.SetStatic(cfg.Fan.Backend, cfg.Telemetry.Listen)
	if wasEnabled && !cfg.Control.Enabled {
		s.ForceStop()
	}
	return nil
}

func pipelineParams(cfg config.Config) control.Params {
	return control.Params{
		MinSpeedKMH:      cfg.Mapping.MinSpeedKMH,
		MaxSpeedKMH:      cfg.Mapping.MaxSpeedKMH,
		MinFan:           cfg.Mapping.MinFan,
		MaxFan:           cfg.Mapping.MaxFan,
		RateCompensation: cfg.Control.RateCompensation,
		RateSmoothing:    cfg.Control.RateSmoothing,
	}
}
