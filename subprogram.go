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

// wasm32AddressSize is the pointer width this engine assumes throughout;
// targets other than wasm32 are out of scope.
const wasm32AddressSize = 4

// WasmLocKind selects which wasm value space a frame-base location refers
// to.
type WasmLocKind int

const (
	WasmLocLocal WasmLocKind = iota
	WasmLocGlobal
	WasmLocStack
)

func (k WasmLocKind) String() string {
	switch k {
	case WasmLocLocal:
		return "local"
	case WasmLocGlobal:
		return "global"
	case WasmLocStack:
		return "stack"
	default:
		return "unknown"
	}
}

// WasmLoc identifies a single wasm local, global, or operand-stack slot by
// index. It is how a subroutine's DW_AT_frame_base expression, decoded by
// decodeFrameBaseLoc, names the value that stands in for the frame base.
type WasmLoc struct {
	Kind  WasmLocKind
	Index uint64
}

// Subroutine is one entry of the subprogram index: a DW_TAG_subprogram's
// half-open PC range plus enough to re-enter its DIE subtree later (for
// variable discovery) and to resolve its frame base (for evaluation).
type Subroutine struct {
	// Name is the DW_AT_name of the subprogram DIE, or empty.
	Name string
	// QualifiedName prefixes Name with every enclosing DW_TAG_namespace,
	// joined by "::", giving a stable name across subprograms that share
	// a short local name in different namespaces.
	QualifiedName string

	Low, High uint64

	UnitOffset  dwarf.Offset
	EntryOffset dwarf.Offset

	// AddressSize is the pointer width of the owning compilation unit;
	// always wasm32AddressSize for this engine.
	AddressSize int

	// FrameBaseLoc is the decoded DW_AT_frame_base wasm location, or nil
	// if the subprogram carries no frame base (or one this engine does
	// not recognize).
	FrameBaseLoc *WasmLoc
}

// SubprogramIndex is the flat, eagerly built table of every subprogram in
// a module, searchable by PC.
type SubprogramIndex struct {
	subroutines []*Subroutine
}

// NewSubprogramIndex walks every compilation unit once, depth-first,
// collecting subprograms. Local variables and formal parameters are never
// descended into here; they belong to variable discovery.
func NewSubprogramIndex(dw *dwarf.Data) (*SubprogramIndex, error) {
	idx := &SubprogramIndex{}

	r := dw.Reader()
	for {
		ent, err := r.Next()
		if err != nil {
			return nil, wrapf(ErrDwarfFormat, "scanning units for subprograms: %s", err)
		}
		if ent == nil {
			break
		}
		if ent.Tag != dwarf.TagCompileUnit {
			r.SkipChildren()
			continue
		}
		idx.walkChildren(r, ent, ent, "")
	}
	return idx, nil
}

// walkChildren consumes parent's children from r (which must be positioned
// immediately after parent was read), recording subprograms and recursing
// into namespaces and other container tags so nested subprograms are
// discovered. cu stays the compilation-unit root across every level of
// recursion: a subprogram nested inside a namespace or another subprogram
// must still record its unit's offset, not its enclosing DIE's. It returns
// once it has consumed parent's terminating null entry.
func (idx *SubprogramIndex) walkChildren(r *dwarf.Reader, cu, parent *dwarf.Entry, namespace string) {
	if !parent.Children {
		return
	}
	for {
		ent, err := r.Next()
		if err != nil || ent == nil {
			return
		}
		if ent.Tag == 0 {
			return
		}

		switch ent.Tag {
		case dwarf.TagSubprogram:
			// Recurse into the subprogram's own children first, so
			// that any nested subprogram it contains is appended to
			// the index before this one is. find_subroutine scans
			// in list order and returns the first match, so an
			// inner range must sort ahead of the outer range that
			// contains it.
			if ent.Children {
				idx.walkChildren(r, cu, ent, namespace)
			}
			idx.addSubprogram(ent, cu, namespace)
		case dwarf.TagNamespace:
			name, _ := ent.Val(dwarf.AttrName).(string)
			child := namespace
			if name != "" {
				child += name + "::"
			}
			idx.walkChildren(r, cu, ent, child)
		default:
			if ent.Children {
				idx.walkChildren(r, cu, ent, namespace)
			}
		}
	}
}

// addSubprogram validates and appends one subprogram entry. Missing
// low_pc/high_pc, or a non-positive resulting size, silently drops the
// entry rather than failing the whole index.
func (idx *SubprogramIndex) addSubprogram(e, cu *dwarf.Entry, namespace string) {
	low, high, ok := readSubprogramRange(e)
	if !ok {
		return
	}

	name, _ := e.Val(dwarf.AttrName).(string)
	qualified := namespace + name

	idx.subroutines = append(idx.subroutines, &Subroutine{
		Name:          name,
		QualifiedName: qualified,
		Low:           low,
		High:          high,
		UnitOffset:    cu.Offset,
		EntryOffset:   e.Offset,
		AddressSize:   wasm32AddressSize,
		FrameBaseLoc:  decodeFrameBaseLoc(e),
	})
}

// readSubprogramRange reads DW_AT_low_pc/DW_AT_high_pc, handling both the
// "high_pc is an absolute address" and "high_pc is a size added to low_pc"
// forms. Reports ok=false if either attribute is missing, malformed, or
// the resulting range isn't positive.
func readSubprogramRange(e *dwarf.Entry) (low, high uint64, ok bool) {
	lowField := e.AttrField(dwarf.AttrLowpc)
	if lowField == nil {
		return 0, 0, false
	}
	lowAddr, isAddr := lowField.Val.(uint64)
	if !isAddr {
		return 0, 0, false
	}

	highField := e.AttrField(dwarf.AttrHighpc)
	if highField == nil {
		return 0, 0, false
	}

	switch v := highField.Val.(type) {
	case uint64:
		if highField.Class == dwarf.ClassAddress {
			high = v
		} else {
			high = lowAddr + v
		}
	case int64:
		if v < 0 {
			return 0, 0, false
		}
		high = lowAddr + uint64(v)
	default:
		return 0, 0, false
	}

	if high <= lowAddr {
		return 0, 0, false
	}
	return lowAddr, high, true
}

// Subroutines returns every indexed subprogram, in discovery order. Callers
// must not mutate the returned slice's elements.
func (idx *SubprogramIndex) Subroutines() []*Subroutine {
	return idx.subroutines
}

// FindSubroutine linearly scans for the first subroutine whose half-open
// range contains pc. Subprograms nested within another are indexed ahead
// of their enclosing subprogram (see walkChildren), so the first match is
// always the innermost one.
func (idx *SubprogramIndex) FindSubroutine(pc uint64) (*Subroutine, bool) {
	for _, s := range idx.subroutines {
		if pc >= s.Low && pc < s.High {
			return s, true
		}
	}
	return nil, false
}

// decodeFrameBaseLoc decodes a subprogram's DW_AT_frame_base attribute as
// a wasm location: the leading byte must be the engine's wasm-specific
// DWARF operator (0xED), followed by a one-byte kind selector and an index
// encoded per kind. Returns nil if the attribute is absent or doesn't
// match this encoding.
func decodeFrameBaseLoc(e *dwarf.Entry) *WasmLoc {
	block, ok := e.Val(dwarf.AttrFrameBase).([]byte)
	if !ok || len(block) < 2 || block[0] != 0xED {
		return nil
	}
	switch block[1] {
	case 0x00:
		idx, _ := decodeULEB128(block[2:])
		return &WasmLoc{Kind: WasmLocLocal, Index: idx}
	case 0x01:
		idx, _ := decodeULEB128(block[2:])
		return &WasmLoc{Kind: WasmLocGlobal, Index: idx}
	case 0x02:
		idx, _ := decodeULEB128(block[2:])
		return &WasmLoc{Kind: WasmLocStack, Index: idx}
	case 0x03:
		if len(block) < 6 {
			return nil
		}
		return &WasmLoc{Kind: WasmLocGlobal, Index: uint64(binary.LittleEndian.Uint32(block[2:6]))}
	default:
		return nil
	}
}

// decodeULEB128 decodes an unsigned LEB128 integer from the front of b,
// returning the value and the number of bytes consumed.
func decodeULEB128(b []byte) (uint64, int) {
	var result uint64
	var shift uint
	for n, c := range b {
		result |= uint64(c&0x7f) << shift
		if c&0x80 == 0 {
			return result, n + 1
		}
		shift += 7
	}
	return result, len(b)
}
