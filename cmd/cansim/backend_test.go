package main

import (
	"testing"

	"github.com/kstaniek/go-cansim/internal/bus"
	"github.com/kstaniek/go-cansim/internal/logging"
)

func TestInitBackendMock(t *testing.T) {
	cfg := baseConfig()
	drv, err := initBackend(cfg, logging.L())
	if err != nil {
		t.Fatalf("init mock backend: %v", err)
	}
	if _, ok := drv.(*bus.Mock); !ok {
		t.Fatalf("expected *bus.Mock, got %T", drv)
	}
}

func TestInitBackendSocketCAN(t *testing.T) {
	called := ""
	orig := openSocketCANDriver
	openSocketCANDriver = func(iface string) bus.Driver {
		called = iface
		return bus.NewMock()
	}
	defer func() { openSocketCANDriver = orig }()

	cfg := baseConfig()
	cfg.backend = "socketcan"
	cfg.canIf = "vcan7"
	if _, err := initBackend(cfg, logging.L()); err != nil {
		t.Fatalf("init socketcan backend: %v", err)
	}
	if called != "vcan7" {
		t.Fatalf("driver opened for %q, want vcan7", called)
	}
}

func TestInitBackendUnknown(t *testing.T) {
	cfg := baseConfig()
	cfg.backend = "carrier-pigeon"
	if _, err := initBackend(cfg, logging.L()); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}
