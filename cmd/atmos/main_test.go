package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/gogpu/atmos"
)

func TestParseFlagsDefaults(t *testing.T) {
	var stderr bytes.Buffer
	f, opts, err := parseFlags(nil, &stderr)
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	if f.weather != "stratocumulus" || f.terrain != "default" {
		t.Errorf("defaults = %q/%q, want stratocumulus/default", f.weather, f.terrain)
	}
	if !f.godRays || f.idleStall {
		t.Errorf("godRays = %v, idleStall = %v", f.godRays, f.idleStall)
	}

	cfg := atmos.DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default flags give invalid config: %v", err)
	}
}

func TestParseFlagsInvalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown weather", []string{"-weather", "drizzle"}, "unknown weather"},
		{"unknown terrain", []string{"-terrain", "canyon"}, "unknown terrain"},
		{"unknown flag", []string{"-fps", "60"}, "flag provided but not defined"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stderr bytes.Buffer
			_, _, err := parseFlags(tt.args, &stderr)
			if !errors.Is(err, errUsage) {
				t.Fatalf("parseFlags() error = %v, want errUsage", err)
			}
			if !strings.Contains(stderr.String(), tt.want) {
				t.Errorf("stderr = %q, want %q", stderr.String(), tt.want)
			}
			if !strings.Contains(stderr.String(), "-weather") {
				t.Error("usage not printed")
			}
		})
	}
}

func TestRunExitCodes(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want int
	}{
		{"sim frames", []string{"-backend", "sim", "-frames", "3", "-width", "64", "-height", "48", "-god-rays=false"}, 0},
		{"bad weather", []string{"-weather", "fog"}, 1},
		{"unknown backend", []string{"-backend", "metal", "-frames", "1"}, 1},
		{"zero size", []string{"-backend", "sim", "-frames", "1", "-width", "0"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if got := run(tt.args, &stdout, &stderr); got != tt.want {
				t.Errorf("run() = %d, want %d; stderr:\n%s", got, tt.want, stderr.String())
			}
			if tt.want == 0 && !strings.Contains(stdout.String(), "Composition") {
				t.Errorf("report missing pass rows:\n%s", stdout.String())
			}
		})
	}
	atmos.SetLogger(nil)
}
