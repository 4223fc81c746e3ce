package main

import (
	"os"
	"testing"
	"time"
)

func TestApplyEnvOverrides_Basic(t *testing.T) {
	base := baseConfig()

	os.Setenv("CANSIM_BACKEND", "socketcan")
	os.Setenv("CANSIM_IF", "vcan0")
	os.Setenv("CANSIM_TICK_PERIOD", "200ms")
	os.Setenv("CANSIM_SERIAL_ENABLE", "true")
	os.Setenv("CANSIM_LOG_METRICS_INTERVAL", "5s")
	t.Cleanup(func() {
		os.Unsetenv("CANSIM_BACKEND")
		os.Unsetenv("CANSIM_IF")
		os.Unsetenv("CANSIM_TICK_PERIOD")
		os.Unsetenv("CANSIM_SERIAL_ENABLE")
		os.Unsetenv("CANSIM_LOG_METRICS_INTERVAL")
	})
	if err := applyEnvOverrides(base, map[string]struct{}{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base.backend != "socketcan" {
		t.Fatalf("expected backend override, got %q", base.backend)
	}
	if base.canIf != "vcan0" {
		t.Fatalf("expected can-if override, got %q", base.canIf)
	}
	if base.tickPeriod != 200*time.Millisecond {
		t.Fatalf("expected tickPeriod 200ms got %v", base.tickPeriod)
	}
	if !base.serialEnable {
		t.Fatalf("expected serialEnable true")
	}
	if base.logMetricsEvery != 5*time.Second {
		t.Fatalf("expected logMetricsEvery 5s got %v", base.logMetricsEvery)
	}
}

func TestApplyEnvOverrides_FlagPrecedence(t *testing.T) {
	base := baseConfig()
	os.Setenv("CANSIM_SERIAL_BAUD", "230400")
	t.Cleanup(func() { os.Unsetenv("CANSIM_SERIAL_BAUD") })
	// Simulate user passed -serial-baud flag (so env should be ignored).
	if err := applyEnvOverrides(base, map[string]struct{}{"serial-baud": {}}); err != nil {
		t.Fatalf("err: %v", err)
	}
	if base.serialBaud != 115200 {
		t.Fatalf("expected serialBaud unchanged 115200 got %d", base.serialBaud)
	}
}

func TestApplyEnvOverrides_BadInt(t *testing.T) {
	base := baseConfig()
	os.Setenv("CANSIM_MAX_CLIENTS", "notint")
	t.Cleanup(func() { os.Unsetenv("CANSIM_MAX_CLIENTS") })
	if err := applyEnvOverrides(base, map[string]struct{}{}); err == nil {
		t.Fatalf("expected error for bad integer")
	}
}

func TestApplyEnvOverrides_BadDuration(t *testing.T) {
	base := baseConfig()
	os.Setenv("CANSIM_TX_TIMEOUT", "whenever")
	t.Cleanup(func() { os.Unsetenv("CANSIM_TX_TIMEOUT") })
	if err := applyEnvOverrides(base, map[string]struct{}{}); err == nil {
		t.Fatalf("expected error for bad duration")
	}
}
