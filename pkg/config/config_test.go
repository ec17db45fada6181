package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type sample struct {
	Name  string        `yaml:"name"`
	Delay time.Duration `yaml:"delay"`
	Port  int           `yaml:"port"`
}

func (s *sample) Validate() error {
	if s.Port <= 0 {
		return errors.New("port must be positive")
	}
	return nil
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadExpandsEnvAndKeepsDefaults(t *testing.T) {
	t.Setenv("MINICYCLE_TEST_NAME", "daily")
	p := writeFile(t, "name: ${MINICYCLE_TEST_NAME}\ndelay: 750ms\n")

	cfg := sample{Port: 8080}
	if err := Load(p, &cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Name != "daily" || cfg.Delay != 750*time.Millisecond || cfg.Port != 8080 {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadValidates(t *testing.T) {
	p := writeFile(t, "port: 0\n")
	cfg := sample{Port: 1}
	err := Load(p, &cfg)
	if err == nil || !strings.Contains(err.Error(), "validation failed") {
		t.Errorf("err = %v", err)
	}
}

func TestLoadBadYAML(t *testing.T) {
	p := writeFile(t, "port: [\n")
	cfg := sample{Port: 1}
	if err := Load(p, &cfg); err == nil || !strings.Contains(err.Error(), "failed to parse") {
		t.Errorf("err = %v", err)
	}
}

func TestLoadOptional(t *testing.T) {
	cfg := sample{Port: 9000}
	found, err := LoadOptional(filepath.Join(t.TempDir(), "missing.yaml"), &cfg)
	if err != nil || found {
		t.Fatalf("missing file = %v, %v", found, err)
	}
	if cfg.Port != 9000 {
		t.Errorf("defaults lost: %+v", cfg)
	}

	bad := sample{}
	if _, err := LoadOptional(filepath.Join(t.TempDir(), "missing.yaml"), &bad); err == nil {
		t.Error("defaults should still be validated")
	}

	p := writeFile(t, "port: 7000\n")
	found, err = LoadOptional(p, &cfg)
	if err != nil || !found || cfg.Port != 7000 {
		t.Errorf("present file = %v, %v, %+v", found, err, cfg)
	}
}
