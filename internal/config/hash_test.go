package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestComputeBlake3Hash(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("service:\n  name: a\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	first, err := ComputeBlake3Hash(path)
	if err != nil {
		t.Fatalf("ComputeBlake3Hash() error = %v", err)
	}
	if len(first) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(first))
	}

	if err := os.WriteFile(path, []byte("service:\n  name: b\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	second, err := ComputeBlake3Hash(path)
	if err != nil {
		t.Fatalf("ComputeBlake3Hash() error = %v", err)
	}
	if first == second {
		t.Fatal("expected hash to change with content")
	}

	if _, err := ComputeBlake3Hash(filepath.Join(dir, "missing")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestFingerprint(t *testing.T) {
	path := writeConfig(t, "service:\n  name: a\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	fp, err := cfg.Fingerprint()
	if err != nil {
		t.Fatalf("Fingerprint() error = %v", err)
	}
	full, _ := ComputeBlake3Hash(path)
	if fp != full[:12] {
		t.Fatalf("expected %q, got %q", full[:12], fp)
	}

	envCfg := Defaults()
	if fp, _ := envCfg.Fingerprint(); fp != "env" {
		t.Fatalf("expected env fingerprint, got %q", fp)
	}
}
