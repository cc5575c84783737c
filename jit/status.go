package jit

import "fmt"

// Status is the compilation state of a unit.
type Status uint8

const (
	Uncompiled Status = iota
	Compiled
	Failed
)

func (s Status) String() string {
	switch s {
	case Uncompiled:
		return "uncompiled"
	case Compiled:
		return "compiled"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// PgcStatus is the profile-guided compilation state of a unit. It never
// decreases once a unit is compiled.
type PgcStatus uint8

const (
	PgcUncompiled         PgcStatus = 0
	PgcCompiledWithProbes PgcStatus = 1
	PgcOptimized          PgcStatus = 2
)

func (p PgcStatus) String() string {
	switch p {
	case PgcUncompiled:
		return "uncompiled"
	case PgcCompiledWithProbes:
		return "probed"
	case PgcOptimized:
		return "optimized"
	}
	return fmt.Sprintf("PgcStatus(%d)", uint8(p))
}

// CompileResult is the outcome of the most recent compile attempt. The
// numeric values are stable; diagnostics and the journal report them.
type CompileResult int

const (
	NoResult                     CompileResult = 0
	Success                      CompileResult = 1
	CompilationException         CompileResult = 10
	CompilationJitFailure        CompileResult = 11
	CompilationStackEffectFault  CompileResult = 12
	IncompatibleCompilerFlags    CompileResult = 100
	IncompatibleSize             CompileResult = 101
	IncompatibleOpcodeYield      CompileResult = 102
	IncompatibleOpcodeWithExcept CompileResult = 103
	IncompatibleOpcodeWith       CompileResult = 104
	IncompatibleOpcodeUnknown    CompileResult = 110
	IncompatibleFrameGlobal      CompileResult = 120
)

var resultNames = map[CompileResult]string{
	NoResult:                     "NoResult",
	Success:                      "Success",
	CompilationException:         "CompilationException",
	CompilationJitFailure:        "CompilationJitFailure",
	CompilationStackEffectFault:  "CompilationStackEffectFault",
	IncompatibleCompilerFlags:    "IncompatibleCompilerFlags",
	IncompatibleSize:             "IncompatibleSize",
	IncompatibleOpcodeYield:      "IncompatibleOpcode_Yield",
	IncompatibleOpcodeWithExcept: "IncompatibleOpcode_WithExcept",
	IncompatibleOpcodeWith:       "IncompatibleOpcode_With",
	IncompatibleOpcodeUnknown:    "IncompatibleOpcode_Unknown",
	IncompatibleFrameGlobal:      "IncompatibleFrameGlobal",
}

func (r CompileResult) String() string {
	if name, ok := resultNames[r]; ok {
		return name
	}
	return fmt.Sprintf("CompileResult(%d)", int(r))
}

// IsFailure reports whether r is a terminal failure code.
func (r CompileResult) IsFailure() bool {
	return r != NoResult && r != Success
}
