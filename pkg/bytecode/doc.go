// Package bytecode is the host side of the JIT: the code unit model, a
// textual assembler and disassembler, the value model and the baseline
// stack interpreter.
//
// The instruction set is a compact subset of a dynamic-language bytecode.
// Every instruction is one opcode byte, optionally followed by a big-endian
// uint16 operand. Jump operands are absolute byte offsets.
//
// # Code units
//
// A *Chunk is the body of one function. The JIT keys its per-function state
// on chunk identity, so a chunk must not be copied after assembly. Chunks are
// produced by Assemble from ".pjasm" source and grouped into a Module.
//
// # Execution
//
// Interpreter.Run executes a *Function (a chunk bound to its module globals).
// Calls between functions go through the Interpreter's Invoker, which lets
// the host route every call through the JIT. Compiled code runs on the same
// interpreter but supplies Hooks: Step sees the operands of each operator and
// may replace its result with a specialized computation, and Enter, Line and
// Exit drive tracing.
//
// Generators run eagerly: calling a generator body runs it to completion and
// returns a *Generator holding every yielded value.
package bytecode
