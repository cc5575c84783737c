package server

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/chazu/pyjion/host"
	"github.com/chazu/pyjion/jit"
	"github.com/chazu/pyjion/pkg/bytecode"
)

// JitServiceName is the fully qualified service name used in procedure paths.
const JitServiceName = "pyjion.v1.JitService"

// Procedure paths served by JitService.
const (
	EnableProcedure  = "/" + JitServiceName + "/Enable"
	DisableProcedure = "/" + JitServiceName + "/Disable"
	ConfigProcedure  = "/" + JitServiceName + "/Config"
	InfoProcedure    = "/" + JitServiceName + "/Info"
	DisProcedure     = "/" + JitServiceName + "/Dis"
	GraphProcedure   = "/" + JitServiceName + "/Graph"
	UnitsProcedure   = "/" + JitServiceName + "/Units"
	CallProcedure    = "/" + JitServiceName + "/Call"
)

type (
	structRequest  = connect.Request[structpb.Struct]
	structResponse = connect.Response[structpb.Struct]
)

// JitService exposes the runtime's control and introspection surface.
// Requests and responses are free-form structs so the service works from
// curl as well as from generated gRPC clients.
type JitService struct {
	worker   *HostWorker
	rt       *jit.Runtime
	onToggle func()
}

// NewJitService creates a JitService. onToggle, if non-nil, runs after
// every Enable or Disable.
func NewJitService(worker *HostWorker, onToggle func()) *JitService {
	return &JitService{
		worker:   worker,
		rt:       worker.Host().Runtime(),
		onToggle: onToggle,
	}
}

// Enable turns the JIT on.
func (s *JitService) Enable(ctx context.Context, req *structRequest) (*structResponse, error) {
	changed := s.rt.Enable()
	s.toggled()
	return respond(map[string]any{"changed": changed, "enabled": true})
}

// Disable turns the JIT off and restores the default configuration.
func (s *JitService) Disable(ctx context.Context, req *structRequest) (*structResponse, error) {
	changed := s.rt.Disable()
	s.toggled()
	return respond(map[string]any{"changed": changed, "enabled": false})
}

func (s *JitService) toggled() {
	if s.onToggle != nil {
		s.onToggle()
	}
}

// Config applies any fields present in the request on top of the active
// configuration and returns the result. An empty request only reads.
func (s *JitService) Config(ctx context.Context, req *structRequest) (*structResponse, error) {
	fields := req.Msg.GetFields()
	if len(fields) > 0 {
		err := s.rt.Update(func(c *jit.Config) error {
			return mergeConfig(c, fields)
		})
		if err != nil {
			return nil, connect.NewError(connect.CodeInvalidArgument, err)
		}
		cfg := s.rt.Config()
		log.Infof("configuration changed: level=%d pgc=%t", cfg.Level, cfg.PGC)
	}
	return respond(configFields(s.rt.Config(), s.rt.Enabled()))
}

// Info returns the record snapshot for a unit. Units that were never
// called report zero values.
func (s *JitService) Info(ctx context.Context, req *structRequest) (*structResponse, error) {
	unit, err := s.unit(req.Msg)
	if err != nil {
		return nil, err
	}
	return respond(infoFields(s.rt.Info(unit)))
}

// Dis returns the compiled listing of a unit, or an empty string.
func (s *JitService) Dis(ctx context.Context, req *structRequest) (*structResponse, error) {
	unit, err := s.unit(req.Msg)
	if err != nil {
		return nil, err
	}
	symbols := map[string]any{}
	for token, name := range s.rt.Symbols(unit) {
		symbols[fmt.Sprint(token)] = name
	}
	return respond(map[string]any{
		"unit":    unit.Name(),
		"listing": s.rt.Dis(unit),
		"symbols": symbols,
	})
}

// Graph returns the control-flow graph of a unit compiled with graphs on.
func (s *JitService) Graph(ctx context.Context, req *structRequest) (*structResponse, error) {
	unit, err := s.unit(req.Msg)
	if err != nil {
		return nil, err
	}
	graph, ok := s.rt.Graph(unit)
	return respond(map[string]any{"unit": unit.Name(), "graph": graph, "present": ok})
}

// Units lists every unit the runtime has seen.
func (s *JitService) Units(ctx context.Context, req *structRequest) (*structResponse, error) {
	infos := s.rt.Units()
	units := make([]any, 0, len(infos))
	for _, info := range infos {
		units = append(units, infoFields(info))
	}
	stats := s.rt.Stats()
	return respond(map[string]any{
		"units": units,
		"stats": map[string]any{
			"units":          stats.Units,
			"compiled":       stats.Compiled,
			"optimized":      stats.Optimized,
			"failed":         stats.Failed,
			"calls":          stats.Calls,
			"guard_failures": stats.GuardFailures,
		},
	})
}

// Call runs a named function of the loaded module with the given args.
func (s *JitService) Call(ctx context.Context, req *structRequest) (*structResponse, error) {
	name := req.Msg.GetFields()["unit"].GetStringValue()
	if name == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("unit is required"))
	}
	var args []bytecode.Value
	for i, v := range req.Msg.GetFields()["args"].GetListValue().GetValues() {
		arg, err := fromProto(v)
		if err != nil {
			return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("args[%d]: %w", i, err))
		}
		args = append(args, arg)
	}

	type outcome struct {
		value bytecode.Value
		err   error
		found bool
	}
	res, err := s.worker.Do(func(h *host.Host) any {
		if _, ok := h.Unit(name); !ok {
			return outcome{}
		}
		v, err := h.Call(ctx, name, args...)
		return outcome{value: v, err: err, found: true}
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	out := res.(outcome)
	if !out.found {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("unit %q not found", name))
	}
	if out.err != nil {
		var rtErr *bytecode.RuntimeError
		if errors.As(out.err, &rtErr) {
			return nil, connect.NewError(connect.CodeAborted, out.err)
		}
		if ctx.Err() != nil {
			return nil, connect.NewError(connect.CodeCanceled, out.err)
		}
		return nil, connect.NewError(connect.CodeInternal, out.err)
	}
	return respond(map[string]any{
		"unit":   name,
		"repr":   bytecode.Repr(out.value),
		"type":   bytecode.TypeName(out.value),
		"result": toNative(out.value),
	})
}

// unit resolves the "unit" field of a request on the host goroutine.
func (s *JitService) unit(msg *structpb.Struct) (jit.CodeUnit, error) {
	name := msg.GetFields()["unit"].GetStringValue()
	if name == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("unit is required"))
	}
	res, err := s.worker.Do(func(h *host.Host) any {
		c, ok := h.Unit(name)
		if !ok {
			return nil
		}
		return c
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	c, ok := res.(*bytecode.Chunk)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("unit %q not found", name))
	}
	return c, nil
}

// ---------------------------------------------------------------------------
// Struct conversion
// ---------------------------------------------------------------------------

func respond(fields map[string]any) (*structResponse, error) {
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

func configFields(c jit.Config, enabled bool) map[string]any {
	return map[string]any{
		"enabled":         enabled,
		"level":           c.Level,
		"pgc":             c.PGC,
		"graph":           c.Graph,
		"debug":           c.Debug,
		"tracing":         c.Tracing,
		"profiling":       c.Profiling,
		"threshold":       c.Threshold,
		"pgc_threshold":   c.PGCThreshold,
		"code_size_limit": c.CodeSizeLimit,
		"enable":          c.Enable.String(),
		"disable":         c.Disable.String(),
		"optimizations":   stringsToAny(c.Flags().Names()),
	}
}

// mergeConfig overlays request fields onto c.
func mergeConfig(c *jit.Config, fields map[string]*structpb.Value) error {
	for key, v := range fields {
		var err error
		switch key {
		case "level":
			c.Level, err = intField(key, v)
		case "threshold":
			c.Threshold, err = intField(key, v)
		case "pgc_threshold":
			c.PGCThreshold, err = intField(key, v)
		case "code_size_limit":
			c.CodeSizeLimit, err = intField(key, v)
		case "pgc":
			c.PGC, err = boolField(key, v)
		case "graph":
			c.Graph, err = boolField(key, v)
		case "debug":
			c.Debug, err = boolField(key, v)
		case "tracing":
			c.Tracing, err = boolField(key, v)
		case "profiling":
			c.Profiling, err = boolField(key, v)
		case "enable":
			c.Enable, err = jit.ParseFlags(v.GetStringValue())
		case "disable":
			c.Disable, err = jit.ParseFlags(v.GetStringValue())
		default:
			err = fmt.Errorf("%w: unknown field %q", jit.ErrInvalidConfig, key)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func intField(key string, v *structpb.Value) (int, error) {
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok || n.NumberValue != math.Trunc(n.NumberValue) {
		return 0, fmt.Errorf("%w: %s must be an integer", jit.ErrInvalidConfig, key)
	}
	return int(n.NumberValue), nil
}

func boolField(key string, v *structpb.Value) (bool, error) {
	b, ok := v.GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return false, fmt.Errorf("%w: %s must be a boolean", jit.ErrInvalidConfig, key)
	}
	return b.BoolValue, nil
}

func infoFields(info jit.Info) map[string]any {
	probes := make([]any, 0, len(info.Probes))
	for _, p := range info.Probes {
		probes = append(probes, map[string]any{
			"site":   p.Site,
			"shape":  p.Shape.String(),
			"streak": p.Streak,
		})
	}
	fields := map[string]any{
		"id":             info.ID,
		"name":           info.Name,
		"failed":         info.Failed,
		"compile_result": info.CompileResult.String(),
		"compiled":       info.Compiled,
		"optimizations":  stringsToAny(info.Optimizations.Names()),
		"pgc":            info.PGC.String(),
		"run_count":      info.RunCount,
		"tracing":        info.Tracing,
		"profiling":      info.Profiling,
		"guard_failures": info.GuardFailures,
		"warmup_calls":   info.WarmupCalls,
		"probes":         probes,
	}
	if info.Compiled {
		fields["compile_seconds"] = info.CompileDuration.Seconds()
	}
	return fields
}

func stringsToAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// fromProto converts a JSON-shaped value to a bytecode value. Integral
// numbers become ints; lists become lists.
func fromProto(v *structpb.Value) (bytecode.Value, error) {
	switch k := v.GetKind().(type) {
	case nil, *structpb.Value_NullValue:
		return nil, nil
	case *structpb.Value_BoolValue:
		return k.BoolValue, nil
	case *structpb.Value_StringValue:
		return k.StringValue, nil
	case *structpb.Value_NumberValue:
		f := k.NumberValue
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f), nil
		}
		return f, nil
	case *structpb.Value_ListValue:
		items := make([]bytecode.Value, 0, len(k.ListValue.GetValues()))
		for _, item := range k.ListValue.GetValues() {
			x, err := fromProto(item)
			if err != nil {
				return nil, err
			}
			items = append(items, x)
		}
		return bytecode.NewList(items...), nil
	default:
		return nil, fmt.Errorf("unsupported argument type %T", k)
	}
}

// toNative converts a result to something structpb can hold. Values with
// no JSON form are returned as their repr.
func toNative(v bytecode.Value) any {
	switch x := v.(type) {
	case nil, bool, int64, string:
		return x
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return bytecode.Repr(x)
		}
		return x
	case bytecode.Tuple:
		return nativeSlice(x)
	case *bytecode.List:
		return nativeSlice(x.Items)
	default:
		return bytecode.Repr(x)
	}
}

func nativeSlice(items []bytecode.Value) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = toNative(item)
	}
	return out
}

// procedureName returns the method part of a procedure path.
func procedureName(procedure string) string {
	return procedure[strings.LastIndex(procedure, "/")+1:]
}
