package reload

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/pithecene-io/frr-agent/log"
)

func TestStagedPath(t *testing.T) {
	got := StagedPath("/tmp/configs/hedgehog", 42)
	want := "/tmp/configs/hedgehog/frr-config-gen-42.conf"
	if got != want {
		t.Errorf("StagedPath = %q, want %q", got, want)
	}

	if got := ConfigFileName(-7); got != "frr-config-gen--7.conf" {
		t.Errorf("ConfigFileName(-7) = %q", got)
	}
}

func TestStage_CreatesMissingDirectories(t *testing.T) {
	outdir := filepath.Join(t.TempDir(), "a", "b", "c")

	path, err := Stage(1, "hostname leaf-1\n", outdir, log.NewNop())
	if err != nil {
		t.Fatalf("Stage failed: %v", err)
	}
	if path != StagedPath(outdir, 1) {
		t.Errorf("path = %q, want %q", path, StagedPath(outdir, 1))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "hostname leaf-1\n" {
		t.Errorf("contents = %q", data)
	}
}

func TestStage_OverwritesSameGeneration(t *testing.T) {
	outdir := t.TempDir()

	if _, err := Stage(5, "a much longer first configuration\n", outdir, log.NewNop()); err != nil {
		t.Fatalf("first Stage failed: %v", err)
	}
	path, err := Stage(5, "short\n", outdir, log.NewNop())
	if err != nil {
		t.Fatalf("second Stage failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "short\n" {
		t.Errorf("contents = %q, want %q (file not truncated)", data, "short\n")
	}

	entries, err := os.ReadDir(outdir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("outdir has %d entries, want 1", len(entries))
	}
}

func TestStage_EmptyConfig(t *testing.T) {
	path, err := Stage(0, "", t.TempDir(), log.NewNop())
	if err != nil {
		t.Fatalf("Stage failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size() != 0 {
		t.Errorf("size = %d, want 0", info.Size())
	}
}

func TestStage_OutdirIsFile(t *testing.T) {
	outdir := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(outdir, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	_, err := Stage(1, "config", outdir, log.NewNop())
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("expected *StageError, got %T", err)
	}
	if stageErr.Op != "create dir" {
		t.Errorf("Op = %q, want %q", stageErr.Op, "create dir")
	}
	if got := osErrorText(err); got != "not a directory" {
		t.Errorf("osErrorText = %q, want %q", got, "not a directory")
	}
}
