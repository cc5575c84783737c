package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/chazu/pyjion/host"
	"github.com/chazu/pyjion/jit"
	"github.com/chazu/pyjion/journal"
)

// printInfo prints one row per unit the runtime has seen.
func printInfo(w io.Writer, infos []jit.Info, stats jit.Stats) {
	fmt.Fprintf(w, "%-20s %-10s %-10s %6s %6s  %s\n", "FUNCTION", "STATUS", "PGC", "CALLS", "MISSES", "OPTIMIZATIONS")
	for _, info := range infos {
		status := "uncompiled"
		switch {
		case info.Failed:
			status = "failed"
		case info.Compiled:
			status = "compiled"
		}
		opts := strings.Join(info.Optimizations.Names(), ",")
		if info.Failed {
			opts = info.CompileResult.String()
		}
		fmt.Fprintf(w, "%-20s %-10s %-10s %6d %6d  %s\n",
			info.Name, status, info.PGC, info.RunCount, info.GuardFailures, opts)
	}
	fmt.Fprintf(w, "\n%d functions, %d compiled (%d optimized), %d failed, %d calls\n",
		stats.Units, stats.Compiled, stats.Optimized, stats.Failed, stats.Calls)
}

// printListing prints the compiled listing of a function, and its graph
// when one was kept.
func printListing(w io.Writer, rt *jit.Runtime, h *host.Host, name string) error {
	unit, ok := h.Unit(name)
	if !ok {
		return fmt.Errorf("no function named %q", name)
	}
	listing := rt.Dis(unit)
	if listing == "" {
		fmt.Fprintf(w, "; %s was not compiled (%s)\n", name, rt.Info(unit).CompileResult)
		return nil
	}
	fmt.Fprint(w, listing)
	if !strings.HasSuffix(listing, "\n") {
		fmt.Fprintln(w)
	}
	if graph, ok := rt.Graph(unit); ok {
		fmt.Fprintln(w)
		fmt.Fprint(w, graph)
	}
	return nil
}

func printProfile(w io.Writer, entries []host.ProfileEntry) {
	fmt.Fprintf(w, "%-20s %8s %14s\n", "FUNCTION", "CALLS", "TOTAL")
	for _, e := range entries {
		fmt.Fprintf(w, "%-20s %8d %14s\n", e.Name, e.Calls, e.Total)
	}
}

func printJournalSummary(w io.Writer, summary []journal.UnitSummary) {
	fmt.Fprintf(w, "%-20s %8s %8s %8s %8s  %s\n", "FUNCTION", "COMPILES", "FAILURES", "SPECIAL", "MISSES", "LAST")
	for _, s := range summary {
		fmt.Fprintf(w, "%-20s %8d %8d %8d %8d  %s\n",
			s.Unit, s.Compiles, s.Failures, s.Specializations, s.GuardMisses, s.LastResult)
	}
}
