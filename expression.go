//  Copyright 2023 Stealth Rocket, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dwarfdbg

import "encoding/binary"

// WasmValueKind tags a WasmValue's variant.
type WasmValueKind int

const (
	WasmI32 WasmValueKind = iota
	WasmI64
	WasmF32
	WasmF64
)

// WasmValue is one value of a running wasm instance's local, global, or
// operand-stack slot, as the host reports it.
type WasmValue struct {
	Kind WasmValueKind
	I32  int32
	I64  int64
	F32  float32
	F64  float64
}

// AsUint64 widens an integer WasmValue to u64, the only conversion the
// frame-base protocol needs. Non-integer values report ok=false.
func (v WasmValue) AsUint64() (u uint64, ok bool) {
	switch v.Kind {
	case WasmI32:
		return uint64(uint32(v.I32)), true
	case WasmI64:
		return uint64(v.I64), true
	default:
		return 0, false
	}
}

// frameBaseKind distinguishes the three evaluation contexts an expression
// can run under.
type frameBaseKind int

const (
	frameBaseWasm frameBaseKind = iota
	frameBaseData
	frameBaseRBP
)

// FrameBase is the evaluator's initial context: exactly one of a wasm
// frame-base value, a data-section base, or a host-stack frame pointer.
// Only one applies per evaluation; an expression that requests the other
// kind of context fails.
type FrameBase struct {
	kind  frameBaseKind
	value uint64
}

// WasmFrameBase supplies the live value of the wasm local, global, or
// stack slot a subroutine's frame_base attribute names. DW_OP_fbreg
// resolves against it.
func WasmFrameBase(value uint64) FrameBase { return FrameBase{kind: frameBaseWasm, value: value} }

// WasmDataBase supplies the base address of wasm linear memory's data
// segment. DW_OP_addr's operand is relocated against it.
func WasmDataBase(value uint64) FrameBase { return FrameBase{kind: frameBaseData, value: value} }

// RBPBase supplies a host-stack frame pointer, reserved for non-wasm
// targets; this engine never constructs one itself.
func RBPBase(value uint64) FrameBase { return FrameBase{kind: frameBaseRBP, value: value} }

// ExprPiece is the only location-result kind this evaluator produces: a
// concrete address. Register locations, implicit values, and other piece
// kinds from the full DWARF expression machine are outside the subset
// wasm-LLVM emits.
type ExprPiece struct {
	Address uint64
}

const (
	dwOpAddr  = 0x03
	dwOpFbreg = 0x91
)

// EvaluateExpression runs a single DWARF location expression against fb.
// It implements only the two forms LLVM's wasm backend actually emits:
// DW_OP_addr (a data-section-relative address needing WasmDataBase) and
// DW_OP_fbreg (a signed offset from WasmFrameBase). Anything else fails
// with ErrUnsupportedExpr.
func EvaluateExpression(expr []byte, fb FrameBase) ([]ExprPiece, error) {
	if len(expr) == 0 {
		return nil, wrapf(ErrUnsupportedExpr, "empty dwarf expression")
	}

	op := expr[0]
	operand := expr[1:]

	switch op {
	case dwOpAddr:
		if len(operand) < wasm32AddressSize {
			return nil, wrapf(ErrDwarfFormat, "DW_OP_addr: truncated operand")
		}
		addr := uint64(binary.LittleEndian.Uint32(operand[:wasm32AddressSize]))
		if fb.kind != frameBaseData {
			return nil, wrapf(ErrRelocationMissing, "DW_OP_addr requires a relocated address context")
		}
		return []ExprPiece{{Address: addr + fb.value}}, nil

	case dwOpFbreg:
		offset, n := decodeSLEB128(operand)
		if n == 0 {
			return nil, wrapf(ErrDwarfFormat, "DW_OP_fbreg: truncated operand")
		}
		if fb.kind != frameBaseWasm {
			return nil, wrapf(ErrFrameBaseMissing, "DW_OP_fbreg requires a frame-base context")
		}
		return []ExprPiece{{Address: uint64(int64(fb.value) + offset)}}, nil

	default:
		return nil, wrapf(ErrUnsupportedExpr, "unsupported dwarf opcode 0x%x", op)
	}
}

// decodeSLEB128 decodes a signed LEB128 integer from the front of b,
// returning the value and the number of bytes consumed (0 if b is
// exhausted before a terminating byte is found).
func decodeSLEB128(b []byte) (int64, int) {
	var result int64
	var shift uint
	for n, c := range b {
		result |= int64(c&0x7f) << shift
		shift += 7
		if c&0x80 == 0 {
			if shift < 64 && c&0x40 != 0 {
				result |= -1 << shift
			}
			return result, n + 1
		}
	}
	return 0, 0
}

// ResolveWasmFrameBase selects the frame-base value for a subroutine's
// WasmLoc against the host-supplied locals/globals/operand-stack vectors,
// widening I32/I64 to u64. Any other WasmValue kind fails with
// ErrUnexpectedFrameBase, as does an out-of-range index.
func ResolveWasmFrameBase(loc *WasmLoc, locals, globals, stack []WasmValue) (uint64, error) {
	var vec []WasmValue
	switch loc.Kind {
	case WasmLocLocal:
		vec = locals
	case WasmLocGlobal:
		vec = globals
	case WasmLocStack:
		vec = stack
	default:
		return 0, wrapf(ErrUnsupportedExpr, "unknown wasm location kind")
	}

	if loc.Index >= uint64(len(vec)) {
		return 0, wrapf(ErrUnexpectedFrameBase, "wasm %s index %d out of range (have %d)", loc.Kind, loc.Index, len(vec))
	}
	value, ok := vec[loc.Index].AsUint64()
	if !ok {
		return 0, wrapf(ErrUnexpectedFrameBase, "wasm %s %d is not an integer", loc.Kind, loc.Index)
	}
	return value, nil
}
