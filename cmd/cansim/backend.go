package main

import (
	"fmt"
	"log/slog"

	"github.com/kstaniek/go-cansim/internal/bus"
)

// openSocketCANDriver is a hook for tests.
var openSocketCANDriver = func(iface string) bus.Driver { return bus.NewSocketCAN(iface) }

// initBackend selects the bus driver implementation. The mock backend
// lets the simulator run on machines without a CAN interface.
func initBackend(cfg *appConfig, l *slog.Logger) (bus.Driver, error) {
	switch cfg.backend {
	case "mock":
		l.Info("backend_mock")
		return bus.NewMock(), nil
	case "socketcan":
		l.Info("backend_socketcan", "if", cfg.canIf)
		return openSocketCANDriver(cfg.canIf), nil
	default:
		return nil, fmt.Errorf("unknown backend %q (use mock|socketcan)", cfg.backend)
	}
}
