package backend

import (
	"github.com/chazu/pyjion/jit"
	"github.com/chazu/pyjion/pkg/bytecode"
)

// KindOf classifies a host value for shape probes.
func KindOf(v bytecode.Value) jit.Kind {
	switch v.(type) {
	case nil:
		return jit.KindNone
	case bool:
		return jit.KindBool
	case int64:
		return jit.KindInt
	case float64:
		return jit.KindFloat
	case string:
		return jit.KindStr
	case *bytecode.List:
		return jit.KindList
	case bytecode.Tuple:
		return jit.KindTuple
	case *bytecode.Dict:
		return jit.KindDict
	case bytecode.Range, *bytecode.Iterator, *bytecode.Generator:
		return jit.KindIterable
	}
	return jit.KindObject
}

// siteShape extracts the probed operands of ins from its stack operands,
// given in push order.
func siteShape(op bytecode.Opcode, operands []bytecode.Value) jit.Shape {
	switch op {
	case bytecode.OpStoreSubscr:
		// value, container, index
		return jit.ShapeOf(KindOf(operands[1]), KindOf(operands[2]))
	case bytecode.OpUnpackSequence:
		return jit.ShapeOf(KindOf(operands[0]))
	}
	return jit.ShapeOf(KindOf(operands[0]), KindOf(operands[1]))
}
