package jit

import "fmt"

// DefaultCodeSizeLimit is the largest unit, in bytecode bytes, a backend is
// asked to compile.
const DefaultCodeSizeLimit = 10000

// Config is the runtime's optimization configuration. A snapshot is taken
// when a compile starts; later changes affect only later compiles.
type Config struct {
	Level     int  // 0..MaxLevel
	PGC       bool // instrument compiled units and specialize on stable shapes
	Graph     bool // keep a control-flow graph for Graph()
	Debug     bool // keep a line table in artifacts
	Tracing   bool // insert frame entry, line and frame exit trace hooks
	Profiling bool // insert frame entry and exit profile hooks

	// Threshold is the number of warm-up calls a unit runs on the baseline
	// interpreter before its first compile.
	Threshold int

	// PGCThreshold is how many consecutive invocations must agree on a
	// site's shape before the unit is specialized.
	PGCThreshold int

	// CodeSizeLimit rejects units larger than this many bytes; 0 disables
	// the check.
	CodeSizeLimit int

	// Enable and Disable adjust the level's permitted flags.
	Enable  OptimizationFlags
	Disable OptimizationFlags
}

// DefaultConfig returns the configuration a runtime starts with.
func DefaultConfig() Config {
	return Config{
		Level:         1,
		PGC:           true,
		PGCThreshold:  2,
		CodeSizeLimit: DefaultCodeSizeLimit,
	}
}

// Validate checks every field's range.
func (c Config) Validate() error {
	if c.Level < 0 || c.Level > MaxLevel {
		return fmt.Errorf("%w: optimization level %d must be between 0 and %d", ErrInvalidConfig, c.Level, MaxLevel)
	}
	if c.Threshold < 0 || c.Threshold > 255 {
		return fmt.Errorf("%w: threshold %d must be between 0 and 255", ErrInvalidConfig, c.Threshold)
	}
	if c.PGCThreshold < 1 {
		return fmt.Errorf("%w: pgc threshold %d must be at least 1", ErrInvalidConfig, c.PGCThreshold)
	}
	if c.CodeSizeLimit < 0 {
		return fmt.Errorf("%w: code size limit %d must not be negative", ErrInvalidConfig, c.CodeSizeLimit)
	}
	if unknown := (c.Enable | c.Disable) &^ AllFlags; unknown != 0 {
		return fmt.Errorf("%w: unknown optimization flags 0x%x", ErrInvalidConfig, uint32(unknown))
	}
	return nil
}

// Flags returns the flags a backend is permitted to apply under c.
func (c Config) Flags() OptimizationFlags {
	return (PermittedFlags(c.Level) | c.Enable) &^ c.Disable
}
