package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Sinogram.Views != 32 || cfg.Sinogram.DetRows != 32 || cfg.Sinogram.DetChannels != 64 {
		t.Errorf("unexpected default sinogram shape: %+v", cfg.Sinogram)
	}
	if cfg.Geometry.SourceDetectorDist != 256 {
		t.Errorf("default source-detector distance: got %g, want 256", cfg.Geometry.SourceDetectorDist)
	}

	mag, err := cfg.Magnification()
	if err != nil {
		t.Fatalf("Magnification: %v", err)
	}
	if mag != 1 {
		t.Errorf("default magnification: got %g, want 1", mag)
	}
}

func TestMagnificationRejectsZeroIsoDist(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Geometry.SourceIsoDist = 0

	if _, err := cfg.Magnification(); err == nil {
		t.Error("expected error for zero source-iso distance")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig on missing file: %v", err)
	}
	if cfg.Sinogram.Views != DefaultConfig().Sinogram.Views {
		t.Error("missing config file should produce defaults")
	}
}

func TestConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "recon.yaml")

	cfg := DefaultConfig()
	cfg.Sinogram.Views = 16
	cfg.Geometry.DetChannelOffset = 10.5
	cfg.Recon.Granularities = []int{1, 8}
	cfg.Recon.WeightType = "transmission"

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if loaded.Sinogram.Views != 16 {
		t.Errorf("views: got %d, want 16", loaded.Sinogram.Views)
	}
	if loaded.Geometry.DetChannelOffset != 10.5 {
		t.Errorf("channel offset: got %g, want 10.5", loaded.Geometry.DetChannelOffset)
	}
	if len(loaded.Recon.Granularities) != 2 || loaded.Recon.Granularities[1] != 8 {
		t.Errorf("granularities: got %v", loaded.Recon.Granularities)
	}
	if loaded.Recon.WeightType != "transmission" {
		t.Errorf("weight type: got %q", loaded.Recon.WeightType)
	}
}

func TestLoadConfigRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("sinogram: ["), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected error for malformed YAML")
	}
}
