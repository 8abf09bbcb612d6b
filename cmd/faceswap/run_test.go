package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dudu/faceswap/internal/config"
)

func TestStageFrames(t *testing.T) {
	src := t.TempDir()
	for name, data := range map[string]string{
		"0002.png":  "b",
		"0001.png":  "a",
		"notes.txt": "skip",
	} {
		if err := os.WriteFile(filepath.Join(src, name), []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(src, "nested.png"), 0o755); err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(t.TempDir(), "swapped")
	paths, err := stageFrames(src, out)
	if err != nil {
		t.Fatal(err)
	}

	want := []string{filepath.Join(out, "0001.png"), filepath.Join(out, "0002.png")}
	if len(paths) != len(want) {
		t.Fatalf("paths = %v, want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("paths[%d] = %s, want %s", i, paths[i], want[i])
		}
	}
	data, err := os.ReadFile(want[0])
	if err != nil || string(data) != "a" {
		t.Errorf("staged content = %q, %v", data, err)
	}
}

func TestApplyRunFlags(t *testing.T) {
	cfg = config.Default()
	t.Cleanup(func() { cfg = nil })

	if err := runCmd.Flags().Set("model", "simswap_256"); err != nil {
		t.Fatal(err)
	}
	if err := runCmd.Flags().Set("mask-types", "box,occlusion"); err != nil {
		t.Fatal(err)
	}
	applyRunFlags(runCmd)

	if cfg.Swapper.Model != "simswap_256" {
		t.Errorf("model = %q", cfg.Swapper.Model)
	}
	if len(cfg.Mask.Types) != 2 {
		t.Errorf("mask types = %v", cfg.Mask.Types)
	}
	// Unset flags keep the configured values
	if cfg.Selector.Mode != "reference" || cfg.Execution.Workers != 4 {
		t.Errorf("unset flags overrode config: mode=%q workers=%d", cfg.Selector.Mode, cfg.Execution.Workers)
	}
}
