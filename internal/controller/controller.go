// Package controller owns the simulated drivetrain state (vehicle, gear,
// speed), the periodic frame emission and the bus lifecycle. All state is
// guarded by one mutex so readers never observe a torn (vehicle, gear,
// speed) triple and reconfiguration holds the bus exclusively for its
// whole stop/uninstall/install/start sequence.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-cansim/internal/bus"
	"github.com/kstaniek/go-cansim/internal/can"
	"github.com/kstaniek/go-cansim/internal/logging"
	"github.com/kstaniek/go-cansim/internal/metrics"
	"github.com/kstaniek/go-cansim/internal/profile"
	"github.com/kstaniek/go-cansim/internal/vehicle"
)

// BusLifecycle tracks how far the bus driver has been brought up.
// Reconfiguration is the only writer.
type BusLifecycle int

const (
	BusStopped BusLifecycle = iota
	BusInstalled
	BusRunning
)

func (s BusLifecycle) String() string {
	switch s {
	case BusStopped:
		return "stopped"
	case BusInstalled:
		return "installed"
	case BusRunning:
		return "running"
	}
	return fmt.Sprintf("BusLifecycle(%d)", int(s))
}

var (
	ErrUnknownVehicle = errors.New("unknown vehicle")
	ErrInvalidSpeed   = errors.New("speed out of range")
)

// ProfileSource resolves a vehicle identifier to its encoding profile.
// Implemented by *profile.Registry.
type ProfileSource interface {
	Lookup(vehicle.ID) (*profile.Profile, bool)
}

var _ ProfileSource = (*profile.Registry)(nil)

// State defaults.
const (
	DefaultVehicle = vehicle.VWT6
	DefaultGear    = vehicle.Park
	DefaultSpeed   = 0

	MaxSpeedKmh = 250

	fallbackBaud = 500000

	defaultTickPeriod   = 100 * time.Millisecond
	defaultTxTimeout    = time.Second
	defaultDrainTimeout = time.Second

	drainBackoffMin = 20 * time.Millisecond
	drainBackoffMax = 500 * time.Millisecond
)

// Controller is the transmission controller.
type Controller struct {
	drv      bus.Driver
	profiles ProfileSource
	logger   *slog.Logger

	tickPeriod   time.Duration
	txTimeout    time.Duration
	drainTimeout time.Duration

	mu         sync.Mutex
	vehicle    vehicle.ID
	gear       vehicle.Gear
	speed      int
	busState   BusLifecycle
	lastBusErr error

	// onChange callbacks run after a successful mutation, outside the
	// lock. Guarded by mu; registration is safe at any time.
	onChange []func()
}

type Option func(*Controller)

func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithTickPeriod(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.tickPeriod = d
		}
	}
}

func WithTransmitTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.txTimeout = d
		}
	}
}

func WithDrainTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.drainTimeout = d
		}
	}
}

// New creates a controller with the default state triple. The bus is
// not touched until Run.
func New(drv bus.Driver, profiles ProfileSource, opts ...Option) *Controller {
	c := &Controller{
		drv:          drv,
		profiles:     profiles,
		logger:       logging.L(),
		tickPeriod:   defaultTickPeriod,
		txTimeout:    defaultTxTimeout,
		drainTimeout: defaultDrainTimeout,
		vehicle:      DefaultVehicle,
		gear:         DefaultGear,
		speed:        DefaultSpeed,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// OnStateChange registers a callback invoked after every successful
// mutation. Safe to call concurrently with running setters.
func (c *Controller) OnStateChange(fn func()) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.onChange = append(c.onChange, fn)
	c.mu.Unlock()
}

func (c *Controller) notify() {
	c.mu.Lock()
	fns := make([]func(), len(c.onChange))
	copy(fns, c.onChange)
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Vehicle returns the currently selected vehicle.
func (c *Controller) Vehicle() vehicle.ID { c.mu.Lock(); defer c.mu.Unlock(); return c.vehicle }

// Gear returns the current gear position.
func (c *Controller) Gear() vehicle.Gear { c.mu.Lock(); defer c.mu.Unlock(); return c.gear }

// Speed returns the current speed in km/h.
func (c *Controller) Speed() int { c.mu.Lock(); defer c.mu.Unlock(); return c.speed }

// BusState returns the bus lifecycle state.
func (c *Controller) BusState() BusLifecycle { c.mu.Lock(); defer c.mu.Unlock(); return c.busState }

// BusRunning reports whether frames can currently be transmitted.
func (c *Controller) BusRunning() bool { return c.BusState() == BusRunning }

// LastBusError returns the error recorded by the most recent failed
// reconfiguration, or nil.
func (c *Controller) LastBusError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastBusErr
}

// SupportedVehicles lists the identifiers with an encoding profile, if
// the profile source can enumerate them.
func (c *Controller) SupportedVehicles() []vehicle.ID {
	if r, ok := c.profiles.(interface{ SupportedVehicles() []vehicle.ID }); ok {
		return r.SupportedVehicles()
	}
	return nil
}

// SetVehicle selects a vehicle. Identifiers outside the label table are
// rejected. A labeled identifier is accepted even without an encoding
// profile; transmission then degrades to a no-op. A changed identifier
// triggers a synchronous bus reconfiguration; its outcome does not fail
// the selection, it only decides whether the bus is usable afterwards.
func (c *Controller) SetVehicle(id vehicle.ID) error {
	if !vehicle.Known(id) {
		return fmt.Errorf("%w: %d", ErrUnknownVehicle, int(id))
	}
	c.mu.Lock()
	prev := c.vehicle
	c.vehicle = id
	changed := prev != id
	if changed {
		c.logger.Info("vehicle_selected", "vehicle", id.String(), "label", vehicle.Label(id))
		c.reconfigureLocked()
	}
	c.mu.Unlock()
	if changed {
		c.notify()
	}
	return nil
}

// SetGear updates the gear position. Every Gear value is valid.
func (c *Controller) SetGear(g vehicle.Gear) {
	c.mu.Lock()
	c.gear = g
	c.mu.Unlock()
	c.logger.Info("gear_set", "gear", g.String())
	c.notify()
}

// SetSpeed updates the speed. Values outside [0,250] are rejected and
// the prior value is retained.
func (c *Controller) SetSpeed(kmh int) error {
	if kmh < 0 || kmh > MaxSpeedKmh {
		return fmt.Errorf("%w: %d", ErrInvalidSpeed, kmh)
	}
	c.mu.Lock()
	c.speed = kmh
	c.mu.Unlock()
	metrics.SetSpeed(kmh)
	c.logger.Info("speed_set", "kmh", kmh)
	c.notify()
	return nil
}

// Reset restores the default vehicle, gear and speed through the normal
// setters (so callbacks and reconfiguration fire as usual).
func (c *Controller) Reset() {
	_ = c.SetVehicle(DefaultVehicle)
	c.SetGear(DefaultGear)
	_ = c.SetSpeed(DefaultSpeed)
}

// reconfigureLocked runs the stop/uninstall/install/start sequence for
// the current vehicle's baud rate. Stop and uninstall are best effort;
// install or start failure leaves the lifecycle at the last state
// reached, with no automatic retry. Caller holds c.mu.
func (c *Controller) reconfigureLocked() {
	baud := fallbackBaud
	if p, ok := c.profiles.Lookup(c.vehicle); ok {
		baud = p.Baud()
	}
	preset, known := bus.PresetFor(baud)
	if !known {
		c.logger.Warn("unsupported_baud", "baud", baud, "used", preset.BitRate())
	}
	c.logger.Info("reconfigure_begin", "vehicle", c.vehicle.String(), "baud", preset.BitRate(), "from", c.busState.String())

	if c.busState == BusRunning {
		if err := c.drv.Stop(); err != nil {
			metrics.IncError(metrics.ErrBusStop)
			c.logger.Warn("bus_stop_error", "error", err)
		}
		c.busState = BusInstalled
	}
	if c.busState == BusInstalled {
		if err := c.drv.Uninstall(); err != nil {
			metrics.IncError(metrics.ErrBusUninstall)
			c.logger.Warn("bus_uninstall_error", "error", err)
		}
		c.busState = BusStopped
	}

	if err := c.drv.Install(bus.DefaultGeneral(), preset, bus.AcceptAll()); err != nil {
		c.recordBusFailureLocked(metrics.ErrBusInstall, "bus_install_error", err)
		return
	}
	c.busState = BusInstalled

	if err := c.drv.Start(); err != nil {
		c.recordBusFailureLocked(metrics.ErrBusStart, "bus_start_error", err)
		return
	}
	c.busState = BusRunning
	c.lastBusErr = nil
	metrics.IncReconfig()
	metrics.SetBusState(int(c.busState))
	c.logger.Info("reconfigure_done", "baud", preset.BitRate())
}

func (c *Controller) recordBusFailureLocked(label, event string, err error) {
	c.lastBusErr = err
	metrics.IncError(label)
	metrics.IncReconfigFailure()
	metrics.SetBusState(int(c.busState))
	c.logger.Error(event, "error", err, "state", c.busState.String())
}

// Tick emits one gear frame and one speed frame, in that fixed order.
// If a reconfiguration (or setter) currently holds the controller the
// tick is dropped, not queued. A failed gear submit does not stop the
// speed submit. Tick never reconfigures the bus.
func (c *Controller) Tick() {
	if !c.mu.TryLock() {
		metrics.IncTickSkipped()
		return
	}
	defer c.mu.Unlock()
	metrics.IncTick()

	p, ok := c.profiles.Lookup(c.vehicle)
	if !ok {
		c.logger.Debug("tick_no_profile", "vehicle", c.vehicle.String())
		return
	}
	if c.busState != BusRunning {
		c.logger.Debug("tick_bus_down", "state", c.busState.String())
		return
	}

	if c.submitLocked(p.EncodeGear(c.gear)) {
		metrics.IncTxGear()
	}
	if c.submitLocked(p.EncodeSpeed(c.speed)) {
		metrics.IncTxSpeed()
	}
}

func (c *Controller) submitLocked(fr can.Frame) bool {
	if err := c.drv.Transmit(fr, c.txTimeout); err != nil {
		metrics.IncTxDropped()
		metrics.IncError(metrics.ErrBusTransmit)
		c.logger.Warn("transmit_drop", "frame", fr.String(), "error", err)
		return false
	}
	return true
}

// Run performs the startup reconfiguration and launches the transmit
// scheduler and the bus drain loop. It returns immediately; the two
// goroutines stop when ctx is cancelled. A failed startup
// reconfiguration leaves the bus unavailable until the next vehicle
// change, it does not abort the daemon.
func (c *Controller) Run(ctx context.Context, wg *sync.WaitGroup) {
	c.mu.Lock()
	c.reconfigureLocked()
	c.mu.Unlock()

	wg.Add(2)
	go func() {
		defer wg.Done()
		c.tickLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		c.drainLoop(ctx)
	}()
}

func (c *Controller) tickLoop(ctx context.Context) {
	defer c.logger.Info("tick_loop_end")
	t := time.NewTicker(c.tickPeriod)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c.Tick()
		case <-ctx.Done():
			return
		}
	}
}

// drainLoop keeps the bus healthy by consuming inbound frames; every
// frame is discarded.
func (c *Controller) drainLoop(ctx context.Context) {
	defer c.logger.Info("drain_loop_end")
	backoff := drainBackoffMin
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		var fr can.Frame
		err := c.drv.Receive(&fr, c.drainTimeout)
		switch {
		case err == nil:
			metrics.IncRxDrained()
			backoff = drainBackoffMin
		case errors.Is(err, bus.ErrTimeout):
			backoff = drainBackoffMin
		case errors.Is(err, bus.ErrClosed):
			return
		default:
			if ctx.Err() != nil {
				return
			}
			// Covers ErrNotRunning while the bus is down; back off so a
			// wedged driver cannot spin this loop.
			metrics.IncError(metrics.ErrBusReceive)
			c.logger.Debug("drain_receive_error", "error", err, "backoff", backoff)
			sleepFn(backoff)
			backoff *= 2
			if backoff > drainBackoffMax {
				backoff = drainBackoffMax
			}
		}
	}
}

// sleepFn allows tests to intercept backoff sleeps.
var sleepFn = time.Sleep
