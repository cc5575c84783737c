// Package config loads pyjion.toml and layers the PYJION_* environment over
// it. Command-line flags are applied last by the caller.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/BurntSushi/toml"

	"github.com/chazu/pyjion/jit"
)

// FileName is the configuration file looked up by FindAndLoad.
const FileName = "pyjion.toml"

// File is the merged configuration.
type File struct {
	JIT     JIT     `toml:"jit" json:"jit"`
	Journal Journal `toml:"journal" json:"journal"`
	Server  Server  `toml:"server" json:"server"`
	Log     Log     `toml:"log" json:"log"`

	// Path is the file the configuration was read from, if any.
	Path string `toml:"-" json:"-"`
}

// JIT configures the runtime.
type JIT struct {
	Backend       string   `toml:"backend" json:"backend"`
	Level         int      `toml:"level" json:"level"`
	PGC           bool     `toml:"pgc" json:"pgc"`
	Graph         bool     `toml:"graph" json:"graph"`
	Debug         bool     `toml:"debug" json:"debug"`
	Tracing       bool     `toml:"tracing" json:"tracing"`
	Profiling     bool     `toml:"profiling" json:"profiling"`
	Threshold     int      `toml:"threshold" json:"threshold"`
	PGCThreshold  int      `toml:"pgc-threshold" json:"pgc-threshold"`
	CodeSizeLimit int      `toml:"code-size-limit" json:"code-size-limit"`
	Enable        []string `toml:"enable" json:"enable"`
	Disable       []string `toml:"disable" json:"disable"`
}

// Journal configures the compile journal. An empty path disables it.
type Journal struct {
	Path string `toml:"path" json:"path"`
}

// Server configures the control service. An empty address disables it.
type Server struct {
	Addr string `toml:"addr" json:"addr"`
}

// Log configures logging.
type Log struct {
	Verbosity int    `toml:"verbosity" json:"verbosity"`
	File      string `toml:"file" json:"file"`
}

// Default returns the built-in configuration.
func Default() *File {
	d := jit.DefaultConfig()
	return &File{
		JIT: JIT{
			Backend:       "reference",
			Level:         d.Level,
			PGC:           d.PGC,
			Graph:         d.Graph,
			Debug:         d.Debug,
			Threshold:     d.Threshold,
			PGCThreshold:  d.PGCThreshold,
			CodeSizeLimit: d.CodeSizeLimit,
		},
	}
}

// Load reads the file at path over the defaults.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	f := Default()
	if err := toml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	f.Path, err = filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	return f, nil
}

// FindAndLoad walks up from startDir to find a pyjion.toml file and loads
// it. With no file it returns the defaults.
func FindAndLoad(startDir string) (*File, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return Default(), nil
		}
		dir = parent
	}
}

// Environment variables read by ApplyEnv.
const (
	EnvBackend   = "PYJION_BACKEND"
	EnvLevel     = "PYJION_LEVEL"
	EnvPGC       = "PYJION_PGC"
	EnvGraph     = "PYJION_GRAPH"
	EnvDebug     = "PYJION_DEBUG"
	EnvThreshold = "PYJION_THRESHOLD"
	EnvJournal   = "PYJION_JOURNAL"
)

// ApplyEnv overrides fields from the environment. getenv is usually
// os.Getenv.
func (f *File) ApplyEnv(getenv func(string) string) error {
	if v := getenv(EnvBackend); v != "" {
		f.JIT.Backend = v
	}
	if v := getenv(EnvJournal); v != "" {
		f.Journal.Path = v
	}
	for _, iv := range []struct {
		name string
		dst  *int
	}{
		{EnvLevel, &f.JIT.Level},
		{EnvThreshold, &f.JIT.Threshold},
	} {
		v := strings.TrimSpace(getenv(iv.name))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not an integer", jit.ErrInvalidConfig, iv.name, v)
		}
		*iv.dst = n
	}
	for _, bv := range []struct {
		name string
		dst  *bool
	}{
		{EnvPGC, &f.JIT.PGC},
		{EnvGraph, &f.JIT.Graph},
		{EnvDebug, &f.JIT.Debug},
	} {
		v := strings.TrimSpace(getenv(bv.name))
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a boolean", jit.ErrInvalidConfig, bv.name, v)
		}
		*bv.dst = b
	}
	return nil
}

//go:embed schema.cue
var schemaSource string

// Validate checks f against the schema and the runtime's own rules.
func (f *File) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))
	val := def.Unify(ctx.Encode(f))
	if err := val.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w: %s", jit.ErrInvalidConfig, strings.TrimSpace(cueerrors.Details(err, nil)))
	}
	_, err := f.Runtime()
	return err
}

// Runtime converts the [jit] table to a runtime configuration.
func (f *File) Runtime() (jit.Config, error) {
	enable, err := jit.ParseFlags(strings.Join(f.JIT.Enable, ","))
	if err != nil {
		return jit.Config{}, err
	}
	disable, err := jit.ParseFlags(strings.Join(f.JIT.Disable, ","))
	if err != nil {
		return jit.Config{}, err
	}
	c := jit.Config{
		Level:         f.JIT.Level,
		PGC:           f.JIT.PGC,
		Graph:         f.JIT.Graph,
		Debug:         f.JIT.Debug,
		Tracing:       f.JIT.Tracing,
		Profiling:     f.JIT.Profiling,
		Threshold:     f.JIT.Threshold,
		PGCThreshold:  f.JIT.PGCThreshold,
		CodeSizeLimit: f.JIT.CodeSizeLimit,
		Enable:        enable,
		Disable:       disable,
	}
	return c, c.Validate()
}
