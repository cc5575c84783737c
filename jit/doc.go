// Package jit is the control plane of a per-function JIT compiler.
//
// A Runtime decides, for every call of a code unit, whether the host's
// baseline interpreter runs it or a compiled artifact does. Each unit has a
// Record in the Registry that moves Uncompiled -> Compiled or Failed on its
// first eligible call. Failed is terminal: the unit is never compiled
// again.
//
// Compiled artifacts report the operand shapes seen at their probe sites.
// Once a site has shown the same shape on PGCThreshold consecutive
// invocations the unit is recompiled with those shapes as guarded
// assumptions and its PGC status becomes Optimized. Guards that miss take
// the generic path, so specialization never changes results.
//
// Code generation is delegated to a Backend. The Runtime depends only on
// the interfaces in this package.
package jit
