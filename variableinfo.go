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

import (
	"debug/dwarf"
	"encoding/binary"
)

// pointerByteSize is the width of a pointer's own stored bits, used when an
// address expression bottoms out at a Pointer indirection: the host must
// first deliver the pointer's value before this engine can request the
// pointee's bytes.
const pointerByteSize = wasm32AddressSize

// VarLocKind tags one reduced step of a VariableInfo's address expression,
// after the expression evaluator has collapsed every Location(Exprloc) step
// down to a concrete address.
type VarLocKind int

const (
	VarLocAddress VarLocKind = iota
	VarLocOffset
	VarLocPointer
)

// VariableLocation is one step of the reduced address expression a
// VariableInfo walks: an absolute address, a signed offset to add to the
// address accumulated so far, or a pointer indirection the host must
// resolve by delivering memory.
type VariableLocation struct {
	Kind    VarLocKind
	Address uint64
	Offset  int64
}

// VarInfoState is a VariableInfo's position in its evaluation state
// machine.
type VarInfoState int

const (
	VarInfoReady VarInfoState = iota
	VarInfoRequireMemorySlice
	VarInfoComplete
)

// MemorySlice describes a byte range this engine needs read out of the
// running instance's linear memory, and (once the host has delivered it)
// the bytes themselves.
type MemorySlice struct {
	Address  uint64
	ByteSize int
	Bytes    []byte
}

// TypeTag classifies a VariableInfo's resolved type for formatting
// purposes: base types render their contents, aggregate types render only
// their name.
type TypeTag int

const (
	TypeTagBase TypeTag = iota
	TypeTagAggregate
)

// VariableInfo drives one variable's evaluation from its discovered
// SymbolVariable through to a display string, suspending on
// VarInfoRequireMemorySlice whenever it needs the host to read wasm linear
// memory. State only ever advances Ready -> RequireMemorySlice -> Complete,
// and a variable that bottoms out in a Pointer indirection suspends once
// for the pointer's own bits and again for the pointee's value.
type VariableInfo struct {
	Name string

	addressExpr []VariableLocation

	Tag      TypeTag
	Encoding int64
	ByteSize int
	TypeName string

	State VarInfoState
	Slice MemorySlice
}

// NewVariableInfo reduces v's Contents against fb into an address
// expression and resolves its type, producing a VariableInfo ready for
// Evaluate. The expression evaluator runs here, once, for every
// Location(Exprloc) step; Location(Sdata/Udata) steps become a plain
// Offset with no evaluator involved.
func NewVariableInfo(dw *dwarf.Data, v *SymbolVariable, fb FrameBase) (*VariableInfo, error) {
	info := &VariableInfo{Name: v.Name, State: VarInfoReady}

	var haveConst bool
	for _, step := range v.Contents {
		switch step.Kind {
		case VarExprLocation:
			loc := step.Location
			switch loc.Kind {
			case LocationExprLoc:
				pieces, err := EvaluateExpression(loc.Expr, fb)
				if err != nil {
					return nil, err
				}
				if len(pieces) == 0 {
					return nil, wrapf(ErrUnsupportedExpr, "location expression produced no pieces")
				}
				info.addressExpr = append(info.addressExpr, VariableLocation{Kind: VarLocAddress, Address: pieces[0].Address})
			case LocationConstant:
				info.addressExpr = append(info.addressExpr, VariableLocation{Kind: VarLocOffset, Offset: loc.Constant})
			case LocationListsRef:
				return nil, wrapf(ErrUnimplemented, "location lists are not supported")
			default:
				return nil, wrapf(ErrUnsupportedExpr, "unsupported location attribute variant")
			}

		case VarExprConstValue:
			info.Slice.Bytes = step.ConstValue
			haveConst = true

		case VarExprPointer:
			info.addressExpr = append(info.addressExpr, VariableLocation{Kind: VarLocPointer})

		default:
			return nil, wrapf(ErrMalformedDebugInfo, "unrecognized variable content %q", step.Unknown)
		}
	}

	tag, byteSize, encoding, typeName, err := resolveTypeInfo(dw, v.Type)
	if err != nil {
		return nil, err
	}
	info.Tag = tag
	info.ByteSize = byteSize
	info.Encoding = encoding
	info.TypeName = typeName

	if haveConst {
		info.Slice.ByteSize = byteSize
	}

	return info, nil
}

// resolveTypeInfo follows v's type reference (if any) to a base or
// aggregate type DIE, reading the fields the formatter needs. A
// TypeDescDescription (synthetic entries: namespaces, variables DWARF
// couldn't type) resolves directly to an aggregate with that description as
// its name. Any other DIE tag (typedefs, qualifiers, pointers as a
// variable's own declared type) is followed one DW_AT_type step at a time
// until a base or aggregate type is reached.
func resolveTypeInfo(dw *dwarf.Data, ty TypeDescriptor) (tag TypeTag, byteSize int, encoding int64, typeName string, err error) {
	if ty.Kind == TypeDescDescription {
		return TypeTagAggregate, 0, 0, ty.Description, nil
	}

	visited := map[dwarf.Offset]bool{}
	offset := ty.Offset
	for {
		if visited[offset] {
			return 0, 0, 0, "", wrapf(ErrUnsupportedType, "cyclic type reference chain")
		}
		visited[offset] = true

		r := dw.Reader()
		r.Seek(offset)
		e, rerr := r.Next()
		if rerr != nil || e == nil {
			return 0, 0, 0, "", wrapf(ErrDwarfFormat, "reading type entry at offset %d", offset)
		}

		switch e.Tag {
		case dwarf.TagBaseType:
			size := wasm32AddressSize
			if sf := e.AttrField(dwarf.AttrByteSize); sf != nil {
				if v, ok := sf.Val.(int64); ok {
					size = int(v)
				}
			}
			enc := int64(dwAteUnsigned)
			if ef := e.AttrField(dwarf.AttrEncoding); ef != nil {
				if v, ok := ef.Val.(int64); ok {
					enc = v
				}
			}
			name, _ := e.Val(dwarf.AttrName).(string)
			return TypeTagBase, size, enc, name, nil

		case dwarf.TagClassType, dwarf.TagStructType, dwarf.TagUnionType, dwarf.TagArrayType:
			size := 0
			if sf := e.AttrField(dwarf.AttrByteSize); sf != nil {
				if v, ok := sf.Val.(int64); ok {
					size = int(v)
				}
			}
			name, ok := e.Val(dwarf.AttrName).(string)
			if !ok || name == "" {
				name = "<no type name>"
			}
			return TypeTagAggregate, size, 0, name, nil

		// Pointer and reference types fall through to the default case
		// below: a variable whose address expression ends with a Pointer
		// step (see expandType) is displayed using the pointee's type,
		// not the pointer's own, so the type chain keeps following
		// DW_AT_type through the indirection.
		default:
			tf := e.AttrField(dwarf.AttrType)
			if tf == nil {
				return 0, 0, 0, "", wrapf(ErrUnsupportedType, "type chain ends at unsupported tag")
			}
			off, ok := tf.Val.(dwarf.Offset)
			if !ok {
				return 0, 0, 0, "", wrapf(ErrUnsupportedType, "type chain ends at unsupported tag")
			}
			offset = off
		}
	}
}

// Evaluate runs the reduction loop from Ready. If the address expression is
// already empty (a const-only variable, or one whose steps fully consumed
// without requesting memory — which cannot happen from a fresh call but is
// handled uniformly with the post-resume case) it completes immediately
// using whatever Slice.Bytes already holds. Otherwise it reduces as far as
// it can and suspends on RequireMemorySlice. Calling Evaluate outside the
// Ready state is a no-op and reports ok=false.
func (v *VariableInfo) Evaluate() (value string, ok bool) {
	if v.State != VarInfoReady {
		return "", false
	}
	if len(v.addressExpr) == 0 {
		return v.complete()
	}
	v.reduce(0)
	return "", false
}

// IsRequireMemorySlice reports whether the host must deliver memory before
// this variable can make further progress.
func (v *VariableInfo) IsRequireMemorySlice() bool {
	return v.State == VarInfoRequireMemorySlice
}

// RequiredMemorySlice returns the address and byte count the host must
// read out of linear memory, valid only in VarInfoRequireMemorySlice.
func (v *VariableInfo) RequiredMemorySlice() (MemorySlice, bool) {
	if v.State != VarInfoRequireMemorySlice {
		return MemorySlice{}, false
	}
	return v.Slice, true
}

// ResumeWithMemorySlice delivers the bytes the host read for the most
// recent RequiredMemorySlice request. If the address expression still
// starts with a Pointer marker, those bytes are the pointer's own stored
// value: it is decoded as a little-endian unsigned integer, the Pointer
// marker is replaced by the decoded address, and reduction continues,
// suspending again to request the pointee's value. Otherwise those
// bytes are the variable's final value and evaluation completes.
func (v *VariableInfo) ResumeWithMemorySlice(bytes []byte) (value string, ok bool) {
	if v.State != VarInfoRequireMemorySlice {
		return "", false
	}
	v.Slice.Bytes = bytes

	if len(v.addressExpr) > 0 && v.addressExpr[0].Kind == VarLocPointer {
		if len(bytes) < pointerByteSize {
			logFailure("variableinfo.resume", wrapf(ErrDwarfFormat, "pointer memory slice shorter than %d bytes", pointerByteSize))
			v.State = VarInfoComplete
			return "", false
		}
		decoded := uint64(binary.LittleEndian.Uint32(bytes[:pointerByteSize]))
		rest := v.addressExpr[1:]
		v.addressExpr = append([]VariableLocation{{Kind: VarLocAddress, Address: decoded}}, rest...)
		v.reduce(0)
		if v.State == VarInfoRequireMemorySlice {
			return "", false
		}
		return v.complete()
	}

	return v.complete()
}

// reduce consumes the leading Address and Offset steps of the address
// expression, accumulating into address (the seed is only used if the
// expression doesn't start with an Address step, which shouldn't normally
// happen but is handled rather than panicking). It then either suspends on
// the remaining Pointer marker, or requests the variable's own byte_size at
// the resolved address when no indirection remains.
func (v *VariableInfo) reduce(address uint64) {
	for len(v.addressExpr) > 0 && v.addressExpr[0].Kind == VarLocAddress {
		address = v.addressExpr[0].Address
		v.addressExpr = v.addressExpr[1:]
	}
	for len(v.addressExpr) > 0 && v.addressExpr[0].Kind == VarLocOffset {
		address = uint64(int64(address) + v.addressExpr[0].Offset)
		v.addressExpr = v.addressExpr[1:]
	}

	if len(v.addressExpr) > 0 && v.addressExpr[0].Kind == VarLocPointer {
		v.Slice = MemorySlice{Address: address, ByteSize: pointerByteSize}
		v.State = VarInfoRequireMemorySlice
		return
	}

	v.Slice = MemorySlice{Address: address, ByteSize: v.ByteSize}
	v.State = VarInfoRequireMemorySlice
}

// complete transitions to Complete and formats the current Slice.Bytes.
// Format failures are logged and reported as ok=false, but the state still
// advances: a formatting error is terminal, not retryable.
func (v *VariableInfo) complete() (string, bool) {
	v.State = VarInfoComplete
	s, ok := formatValue(v.Tag, v.Encoding, v.ByteSize, v.TypeName, v.Slice.Bytes)
	if !ok {
		return "", false
	}
	return s, true
}
