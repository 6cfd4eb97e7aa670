package main

import (
	"testing"

	canif "github.com/kstaniek/go-canif"
)

func validConfig() *appConfig {
	return &appConfig{
		backend:   "socketcan",
		canIf:     "can0",
		serialDev: "/dev/ttyACM0",
		baud:      115200,
		restartMs: -1,
		hubBuffer: 512,
		hubPolicy: "drop",
		logFormat: "text",
		logLevel:  "info",
	}
}

func TestValidate(t *testing.T) {
	if err := validConfig().validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	bad := []func(*appConfig){
		func(c *appConfig) { c.backend = "tcp" },
		func(c *appConfig) { c.logFormat = "xml" },
		func(c *appConfig) { c.logLevel = "trace" },
		func(c *appConfig) { c.hubPolicy = "block" },
		func(c *appConfig) { c.hubBuffer = 0 },
		func(c *appConfig) { c.baud = -1 },
		func(c *appConfig) { c.filters = "123" },
		func(c *appConfig) { c.hwTimestamp = true; c.backend = "slcan" },
	}
	for i, mutate := range bad {
		c := validConfig()
		mutate(c)
		if err := c.validate(); err == nil {
			t.Errorf("case %d: invalid config accepted", i)
		}
	}
}

func TestParseFilters(t *testing.T) {
	fs, err := parseFilters("100:7FF, 1FFFFFFF:1FFFFFFF")
	if err != nil {
		t.Fatalf("parseFilters: %v", err)
	}
	if len(fs) != 2 || fs[0] != (canif.Filter{ID: 0x100, Mask: 0x7FF}) {
		t.Errorf("filters = %+v", fs)
	}
	if fs, err := parseFilters(""); err != nil || fs != nil {
		t.Errorf("empty filters = (%v, %v)", fs, err)
	}
	for _, bad := range []string{"100", "zz:7FF", "100:zz"} {
		if _, err := parseFilters(bad); err == nil {
			t.Errorf("parseFilters(%q) succeeded", bad)
		}
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CAN_MONITOR_IF", "vcan7")
	t.Setenv("CAN_MONITOR_BAUD", "57600")
	t.Setenv("CAN_MONITOR_FD", "true")
	c := validConfig()
	if err := applyEnvOverrides(c, map[string]struct{}{}); err != nil {
		t.Fatalf("applyEnvOverrides: %v", err)
	}
	if c.canIf != "vcan7" || c.baud != 57600 || !c.canFD {
		t.Errorf("env not applied: %+v", c)
	}

	// An explicitly set flag beats the environment.
	c = validConfig()
	if err := applyEnvOverrides(c, map[string]struct{}{"if": {}}); err != nil {
		t.Fatalf("applyEnvOverrides: %v", err)
	}
	if c.canIf != "can0" {
		t.Errorf("flag did not win over env: %s", c.canIf)
	}

	t.Setenv("CAN_MONITOR_BAUD", "not-a-number")
	c = validConfig()
	if err := applyEnvOverrides(c, map[string]struct{}{}); err == nil {
		t.Error("bad numeric env accepted")
	}
}

func TestCanifConfigTranslation(t *testing.T) {
	c := validConfig()
	c.bitrate = 250_000
	c.canFD = true
	c.dbitrate = 2_000_000
	c.listenOnly = true
	c.restartMs = 100
	c.polled = true
	cfg := c.canifConfig()
	if cfg.Bitrate != 250_000 || cfg.DBitrate != 2_000_000 {
		t.Errorf("bitrates = (%d, %d)", cfg.Bitrate, cfg.DBitrate)
	}
	if !cfg.CanFdEnabled || !cfg.PolledMode {
		t.Error("mode flags lost in translation")
	}
	if cfg.RestartMs != 100 {
		t.Errorf("restartMs = %d", cfg.RestartMs)
	}
	if cfg.CtrlMode.Mask != canif.CtrlModeListenOnly {
		t.Errorf("ctrl mode = %+v", cfg.CtrlMode)
	}

	// Unset tool flags keep the library sentinels.
	cfg = validConfig().canifConfig()
	if cfg.Bitrate != canif.InvalidBitrate || cfg.RestartMs != canif.InvalidRestartMs {
		t.Error("sentinels lost for unset flags")
	}
	if cfg.CtrlMode.Mask != canif.UnconfiguredCtrlMode {
		t.Error("ctrl mode sentinel lost")
	}
}
