package abaque

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadSamples(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "samples.csv")
	content := "altitude,azimuth_object,azimuth_dome\n" +
		"10.0,0.0,0.5\n" +
		"10.0,180.0,180.5\n" +
		"40.0,0.0,1.2\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	samples, err := LoadSamples(path)
	if err != nil {
		t.Fatalf("LoadSamples failed: %v", err)
	}
	if len(samples) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(samples))
	}
	if samples[0].AltitudeDeg != 10.0 || samples[0].AzimuthDomeDeg != 0.5 {
		t.Errorf("unexpected first sample: %+v", samples[0])
	}

	table, err := Build(samples)
	if err != nil {
		t.Fatalf("Build failed on loaded samples: %v", err)
	}
	if _, ok := table.Query(10.0, 0.0); !ok {
		t.Error("expected an in-bounds query at a measured grid point")
	}
}

func TestLoadSamplesMissingFile(t *testing.T) {
	_, err := LoadSamples(filepath.Join(t.TempDir(), "does-not-exist.csv"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadSamplesMalformedRow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.csv")
	content := "altitude,azimuth_object,azimuth_dome\nnotanumber,0.0,0.5\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	_, err := LoadSamples(path)
	if err == nil {
		t.Fatal("expected error for malformed altitude")
	}
}
