// Package waterer runs the weekly watering cycle: wait for the next slot,
// reload settings, drive the relay for the configured duration, repeat.
package waterer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kernelmethod/rpi-watering/internal/gpio"
	"github.com/kernelmethod/rpi-watering/internal/metrics"
	"github.com/kernelmethod/rpi-watering/internal/mqtt"
	"github.com/kernelmethod/rpi-watering/internal/schedule"
	"github.com/kernelmethod/rpi-watering/internal/settings"
	"github.com/kernelmethod/rpi-watering/internal/status"
)

// DefaultSlice is the longest single wait while idle. The wall clock is
// re-read after every slice so a clock step is noticed.
const DefaultSlice = time.Minute

// TimeLayout formats session times in the activity log.
const TimeLayout = "2006-01-02 15:04:05"

// Loader returns the current watering settings. It must not fail.
type Loader interface {
	Load(ctx context.Context) settings.Result
}

// Diary is the activity log.
type Diary interface {
	Printf(format string, args ...any)
	Errorf(format string, args ...any)
	With(fields map[string]any) *logrus.Entry
	Sync() error
}

// Options wires a Scheduler. Relay, Loader and Diary are required.
type Options struct {
	Relay     gpio.Relay
	Loader    Loader
	Diary     Diary
	Publisher mqtt.Publisher        // nil publishes nothing
	MQTT      mqtt.ConnectionStatus // optional, mirrored into Tracker
	Tracker   *status.Tracker       // optional
	Metrics   *metrics.Metrics      // optional

	Now   func() time.Time
	Wait  func(ctx context.Context, d time.Duration) error
	Slice time.Duration
}

// Scheduler owns the relay and the activity log. It is not safe for
// concurrent use; one goroutine calls Run or RunOnce.
type Scheduler struct {
	relay   gpio.Relay
	loader  Loader
	diary   Diary
	pub     mqtt.Publisher
	conn    mqtt.ConnectionStatus
	tracker *status.Tracker
	metrics *metrics.Metrics
	now     func() time.Time
	wait    func(ctx context.Context, d time.Duration) error
	slice   time.Duration

	cfg settings.Config

	// current watering session, empty while idle
	session string
	started time.Time
}

// New creates a Scheduler.
func New(opts Options) *Scheduler {
	s := &Scheduler{
		relay:   opts.Relay,
		loader:  opts.Loader,
		diary:   opts.Diary,
		pub:     opts.Publisher,
		conn:    opts.MQTT,
		tracker: opts.Tracker,
		metrics: opts.Metrics,
		now:     opts.Now,
		wait:    opts.Wait,
		slice:   opts.Slice,
		cfg:     settings.Default(),
	}
	if s.pub == nil {
		s.pub = mqtt.Nop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.wait == nil {
		s.wait = Sleep
	}
	if s.slice <= 0 {
		s.slice = DefaultSlice
	}
	return s
}

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Config returns the settings in effect.
func (s *Scheduler) Config() settings.Config {
	return s.cfg
}

// Run waters on schedule until ctx is cancelled. Cancellation is a clean
// exit and returns nil; any other failure is returned after the relay has
// been switched off.
func (s *Scheduler) Run(ctx context.Context) error {
	s.diary.Printf("Started; process PID is %d", os.Getpid())
	s.reload(ctx)

	var err error
	for err == nil {
		if err = s.idle(ctx); err != nil {
			break
		}
		s.reload(ctx)
		err = s.water(ctx, func(ctx context.Context) error {
			return s.wait(ctx, s.cfg.Duration)
		})
	}
	return s.finish(ctx, err)
}

// RunOnce waters immediately and keeps the relay on until stop is closed
// or ctx is cancelled.
func (s *Scheduler) RunOnce(ctx context.Context, stop <-chan struct{}) error {
	s.diary.Printf("Started; process PID is %d", os.Getpid())
	s.reload(ctx)

	err := s.water(ctx, func(ctx context.Context) error {
		select {
		case <-stop:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	return s.finish(ctx, err)
}

// Abort ends a run that never started a cycle, e.g. when ctx was cancelled
// while the operator was being asked for a mode. It switches the relay off
// and logs the interrupt like Run does.
func (s *Scheduler) Abort(ctx context.Context) error {
	return s.finish(ctx, ctx.Err())
}

func (s *Scheduler) reload(ctx context.Context) {
	res := s.loader.Load(ctx)
	if res.Err != nil && ctx.Err() != nil {
		// Interrupted: keep the settings in effect, the caller is stopping.
		return
	}
	s.cfg = res.Config
	s.metrics.ConfigLoaded(res.Source)
	if s.tracker != nil {
		s.tracker.SetSettings(res)
	}
	log.Printf("waterer: settings %v (%s)", s.cfg, res.Source)
}

func (s *Scheduler) idle(ctx context.Context) error {
	next := s.cfg.Next(s.now())
	if next.IsZero() {
		return fmt.Errorf("no watering slot for settings %v", s.cfg)
	}

	s.setPhase(status.PhaseIdle, schedule.StateOff)
	if s.tracker != nil {
		s.tracker.SetNextSession(next)
	}
	s.metrics.NextSession(next)

	s.diary.Printf("Next session on %s %s", schedule.WeekdayOf(next), next.Format(TimeLayout))
	if err := s.diary.Sync(); err != nil {
		return err
	}
	s.publish(schedule.Event{
		Timestamp:   s.now(),
		Type:        schedule.EventNextSession,
		Relay:       schedule.StateOff,
		NextSession: next,
		Duration:    s.cfg.Duration,
	})

	return s.sleepUntil(ctx, next)
}

// sleepUntil waits in slices, re-reading the clock after each one.
func (s *Scheduler) sleepUntil(ctx context.Context, deadline time.Time) error {
	for {
		rem := deadline.Sub(s.now())
		if rem <= 0 {
			return nil
		}
		if rem > s.slice {
			rem = s.slice
		}
		if err := s.wait(ctx, rem); err != nil {
			return err
		}
	}
}

func (s *Scheduler) water(ctx context.Context, hold func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.relay.Set(true); err != nil {
		return fmt.Errorf("relay on: %w", err)
	}
	s.session = uuid.NewString()
	s.started = s.now()
	s.setPhase(status.PhaseWatering, schedule.StateOn)
	s.metrics.RelaySet(true)

	s.diary.With(map[string]any{
		"session":  s.session,
		"duration": s.cfg.Duration,
	}).Infof("Started watering at %s", s.started.Format(TimeLayout))
	s.publish(schedule.Event{
		Timestamp: s.started,
		Type:      schedule.EventWateringOn,
		Relay:     schedule.StateOn,
		Session:   s.session,
		Duration:  s.cfg.Duration,
	})

	if err := hold(ctx); err != nil {
		return err
	}
	if err := s.relay.Set(false); err != nil {
		return fmt.Errorf("relay off: %w", err)
	}
	s.endSession()
	return nil
}

// endSession records the stop of the current session. The relay must
// already be off.
func (s *Scheduler) endSession() {
	if s.session == "" {
		return
	}
	stop := s.now()
	elapsed := stop.Sub(s.started)

	s.setPhase(status.PhaseIdle, schedule.StateOff)
	s.metrics.RelaySet(false)
	s.metrics.SessionDone(elapsed)
	if s.tracker != nil {
		s.tracker.RecordSession(s.started, stop)
	}

	s.diary.With(map[string]any{
		"session": s.session,
		"elapsed": elapsed,
	}).Infof("Stopped watering at %s", stop.Format(TimeLayout))
	s.publish(schedule.Event{
		Timestamp: stop,
		Type:      schedule.EventWateringOff,
		Relay:     schedule.StateOff,
		Session:   s.session,
		Duration:  elapsed,
	})
	s.session = ""
}

// finish switches the relay off and writes the closing diary lines.
// Cancellation of ctx is a clean exit.
func (s *Scheduler) finish(ctx context.Context, err error) error {
	offErr := s.relay.Set(false)
	if offErr == nil {
		s.endSession()
		s.setPhase(status.PhaseStopping, schedule.StateOff)
	} else {
		offErr = fmt.Errorf("relay off: %w", offErr)
		// The line may still be driven; do not report it as off.
		s.setPhase(status.PhaseStopping, schedule.StateOn)
	}

	interrupted := err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err())
	if interrupted {
		err = nil
	}
	err = errors.Join(err, offErr)

	if err != nil {
		s.diary.Errorf("%v", err)
		s.diary.Errorf("Error; exiting.")
	} else if interrupted {
		s.diary.Printf("Quit")
	}
	if syncErr := s.diary.Sync(); syncErr != nil {
		log.Printf("waterer: %v", syncErr)
	}
	return err
}

func (s *Scheduler) setPhase(p status.Phase, relay schedule.State) {
	if s.tracker != nil {
		s.tracker.SetPhase(p, relay)
	}
}

func (s *Scheduler) publish(event schedule.Event) {
	if err := s.pub.Publish(event); err != nil {
		log.Printf("mqtt: publish %s: %v", event.Type, err)
	}
	if s.tracker != nil && s.conn != nil {
		s.tracker.SetMQTTConnected(s.conn.IsConnected())
	}
}
