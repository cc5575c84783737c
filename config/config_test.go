package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/chazu/pyjion/jit"
)

func writeFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestDefaultMatchesRuntimeDefaults(t *testing.T) {
	f := Default()
	if err := f.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	got, err := f.Runtime()
	if err != nil {
		t.Fatal(err)
	}
	if got != jit.DefaultConfig() {
		t.Errorf("Runtime() = %+v, want %+v", got, jit.DefaultConfig())
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, `
[jit]
level = 2
graph = true
disable = ["InternRichCompare"]

[journal]
path = "jit.db"
`)
	f, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if f.JIT.Level != 2 || !f.JIT.Graph || f.Journal.Path != "jit.db" {
		t.Errorf("loaded %+v", f)
	}
	if !f.JIT.PGC || f.JIT.PGCThreshold != 2 {
		t.Error("absent keys should keep their defaults")
	}
	cfg, err := f.Runtime()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Flags().Has(jit.InternRichCompare) {
		t.Error("disable list not applied")
	}
	if f.Path != path {
		t.Errorf("Path = %q, want %q", f.Path, path)
	}
}

func TestFindAndLoadWalksUp(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "[jit]\nthreshold = 7\n")
	sub := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	f, err := FindAndLoad(sub)
	if err != nil {
		t.Fatal(err)
	}
	if f.JIT.Threshold != 7 {
		t.Errorf("Threshold = %d, want 7 from the parent directory", f.JIT.Threshold)
	}
}

func TestFindAndLoadWithoutFile(t *testing.T) {
	f, err := FindAndLoad(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if f.Path != "" || f.JIT.Level != 1 {
		t.Errorf("expected defaults, got %+v", f)
	}
}

func TestLoadParseError(t *testing.T) {
	path := writeFile(t, t.TempDir(), "[jit\nlevel = ")
	if _, err := Load(path); err == nil {
		t.Error("expected a parse error")
	}
}

func TestApplyEnv(t *testing.T) {
	f := Default()
	err := f.ApplyEnv(env(map[string]string{
		EnvPGC:       "0",
		EnvLevel:     "2",
		EnvGraph:     "true",
		EnvThreshold: "3",
		EnvJournal:   "/tmp/j.db",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if f.JIT.PGC || f.JIT.Level != 2 || !f.JIT.Graph || f.JIT.Threshold != 3 || f.Journal.Path != "/tmp/j.db" {
		t.Errorf("after env %+v", f.JIT)
	}

	for _, bad := range []map[string]string{
		{EnvLevel: "high"},
		{EnvPGC: "maybe"},
	} {
		if err := Default().ApplyEnv(env(bad)); !errors.Is(err, jit.ErrInvalidConfig) {
			t.Errorf("ApplyEnv(%v) error = %v, want ErrInvalidConfig", bad, err)
		}
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*File)
	}{
		{"level", func(f *File) { f.JIT.Level = 3 }},
		{"threshold", func(f *File) { f.JIT.Threshold = 300 }},
		{"pgc threshold", func(f *File) { f.JIT.PGCThreshold = 0 }},
		{"size", func(f *File) { f.JIT.CodeSizeLimit = -5 }},
		{"backend", func(f *File) { f.JIT.Backend = "" }},
		{"verbosity", func(f *File) { f.Log.Verbosity = 9 }},
		{"flag name", func(f *File) { f.JIT.Enable = []string{"Turbo"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Default()
			tt.mutate(f)
			if err := f.Validate(); !errors.Is(err, jit.ErrInvalidConfig) {
				t.Errorf("Validate error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}
