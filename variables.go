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

// VariableExprKind tags one step of a SymbolVariable's address expression.
type VariableExprKind int

const (
	VarExprLocation VariableExprKind = iota
	VarExprConstValue
	VarExprPointer
	VarExprUnknown
)

// LocationKind distinguishes the DWARF attribute form that seeded a
// VarExprLocation step.
type LocationKind int

const (
	LocationExprLoc LocationKind = iota
	LocationConstant
	LocationListsRef
	LocationOther
)

// LocationValue is the decoded form of a DW_AT_location or
// DW_AT_data_member_location attribute.
type LocationValue struct {
	Kind           LocationKind
	Expr           []byte // valid when Kind == LocationExprLoc
	Constant       int64  // valid when Kind == LocationConstant
	ListsRefOffset int64  // valid when Kind == LocationListsRef
}

// VariableExpr is one step of a SymbolVariable's contents sequence.
type VariableExpr struct {
	Kind       VariableExprKind
	Location   LocationValue // valid when Kind == VarExprLocation
	ConstValue []byte        // valid when Kind == VarExprConstValue
	Unknown    string        // valid when Kind == VarExprUnknown
}

// TypeDescKind tags a TypeDescriptor's variant.
type TypeDescKind int

const (
	TypeDescOffset TypeDescKind = iota
	TypeDescDescription
)

// TypeDescriptor names a SymbolVariable's type: either a reference to
// another DIE in the same unit, or a literal description for synthetic
// entries (namespaces, unresolvable types).
type TypeDescriptor struct {
	Kind        TypeDescKind
	Offset      dwarf.Offset
	Description string
}

func (t TypeDescriptor) unitOffset() (dwarf.Offset, bool) {
	if t.Kind == TypeDescOffset {
		return t.Offset, true
	}
	return 0, false
}

// SymbolVariable is one flattened entry of a variable-discovery walk:
// a local, parameter, global, structure member, pointer target, or
// synthetic namespace marker.
type SymbolVariable struct {
	Name        string
	DisplayName string
	Contents    []VariableExpr
	Type        TypeDescriptor

	GroupID      int64
	ChildGroupID *int64
}

// groupAllocator mints the group and child_group_id values a discovery
// walk assigns, following the single rule that governs both: a value
// under 10_000 is remapped into a fresh 10_000-aligned bucket, a value at
// or above 10_000 simply advances by one. The very first call seeds the
// walk's top-level group from the caller's root_group_id; every later
// call mints a fresh, unique child group.
type groupAllocator struct {
	current int64
}

func newGroupAllocator(rootGroupID int64) *groupAllocator {
	return &groupAllocator{current: rootGroupID}
}

func (a *groupAllocator) next() int64 {
	if a.current < 10000 {
		a.current = (a.current - 1000 + 1) * 10000
	} else {
		a.current++
	}
	return a.current
}

// walkCtx carries the state shared across one discovery call: the dwarf
// view, the query PC used to filter lexical blocks, whether lexical-block
// filtering should be skipped entirely (globals), and the group
// allocator.
type walkCtx struct {
	dw                 *dwarf.Data
	pc                 uint64
	ignoreLexicalRange bool
	alloc              *groupAllocator
}

// VariablesInSubroutine walks the DIE subtree rooted at a subroutine's
// entry, producing locals and formal parameters visible at pc, with
// structure members and pointer targets expanded inline.
func VariablesInSubroutine(dw *dwarf.Data, unitOffset, entryOffset dwarf.Offset, pc uint64, rootGroupID int64) ([]SymbolVariable, error) {
	r := dw.Reader()
	r.Seek(entryOffset)
	root, err := r.Next()
	if err != nil {
		return nil, wrapf(ErrDwarfFormat, "reading subroutine entry: %s", err)
	}
	if root == nil {
		return nil, wrapf(ErrNoSuchSubroutine, "no entry at offset %d", entryOffset)
	}

	ctx := &walkCtx{dw: dw, pc: pc, alloc: newGroupAllocator(rootGroupID)}
	group := ctx.alloc.next()

	var out []SymbolVariable
	ctx.walkChildren(r, root, group, &out)
	return out, nil
}

// VariablesInUnit walks a compilation unit's top-level children, used for
// globals. pc is fixed at 0 and lexical-block range filtering is skipped
// entirely: every lexical block is descended into regardless of range.
func VariablesInUnit(dw *dwarf.Data, unitOffset dwarf.Offset, rootGroupID int64) ([]SymbolVariable, error) {
	cu, err := unitEntryAt(dw, unitOffset)
	if err != nil {
		return nil, err
	}
	if cu == nil {
		return nil, wrapf(ErrNoSuchVariable, "no unit at offset %d", unitOffset)
	}

	r := dw.Reader()
	r.Seek(cu.Offset)
	root, err := r.Next()
	if err != nil {
		return nil, wrapf(ErrDwarfFormat, "reading unit entry: %s", err)
	}

	ctx := &walkCtx{dw: dw, pc: 0, ignoreLexicalRange: true, alloc: newGroupAllocator(rootGroupID)}
	group := ctx.alloc.next()

	var out []SymbolVariable
	ctx.walkChildren(r, root, group, &out)
	return out, nil
}

func (c *walkCtx) walkChildren(r *dwarf.Reader, parent *dwarf.Entry, group int64, out *[]SymbolVariable) {
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
		case dwarf.TagVariable, dwarf.TagFormalParameter:
			if ent.Children {
				r.SkipChildren()
			}
			c.emitVariable(ent, group, out)

		case dwarf.TagLexDwarfBlock:
			if c.ignoreLexicalRange {
				c.walkChildren(r, ent, group, out)
				continue
			}
			low, high, ok := readSubprogramRange(ent)
			if ok && c.pc >= low && c.pc < high {
				c.walkChildren(r, ent, group, out)
			} else {
				r.SkipChildren()
			}

		case dwarf.TagNamespace:
			name, _ := ent.Val(dwarf.AttrName).(string)
			childGroup := c.alloc.next()
			*out = append(*out, SymbolVariable{
				Name:         name,
				DisplayName:  name,
				Type:         TypeDescriptor{Kind: TypeDescDescription, Description: "namespace"},
				GroupID:      group,
				ChildGroupID: &childGroup,
			})
			c.walkChildren(r, ent, childGroup, out)

		default:
			if ent.Children {
				r.SkipChildren()
			}
		}
	}
}

// emitVariable transforms e into a SymbolVariable, appends it, and expands
// its type if it has one.
func (c *walkCtx) emitVariable(e *dwarf.Entry, group int64, out *[]SymbolVariable) {
	v, err := transformVariable(e)
	if err != nil {
		logFailure("variables.transform_variable", err)
		return
	}
	v.GroupID = group
	*out = append(*out, *v)
	idx := len(*out) - 1

	if typeOffset, ok := v.Type.unitOffset(); ok {
		c.expandType(typeOffset, idx, v.Contents, v.DisplayName, out, map[dwarf.Offset]bool{})
	}
}

// expandType walks a variable's type DIE, expanding structure/class/union
// members and following pointer/reference/const-qualified indirections.
// visiting guards against a type that (directly or through a pointer)
// references itself.
func (c *walkCtx) expandType(typeOffset dwarf.Offset, parentIdx int, parentContents []VariableExpr, parentDisplayName string, out *[]SymbolVariable, visiting map[dwarf.Offset]bool) {
	if visiting[typeOffset] {
		return
	}
	visiting[typeOffset] = true
	defer delete(visiting, typeOffset)

	r := c.dw.Reader()
	r.Seek(typeOffset)
	typeEntry, err := r.Next()
	if err != nil || typeEntry == nil {
		return
	}

	switch typeEntry.Tag {
	case dwarf.TagClassType, dwarf.TagStructType, dwarf.TagUnionType:
		if !typeEntry.Children {
			return
		}
		childGroup := c.alloc.next()
		(*out)[parentIdx].ChildGroupID = &childGroup

		for {
			ent, err := r.Next()
			if err != nil || ent == nil || ent.Tag == 0 {
				return
			}
			if ent.Tag != dwarf.TagMember {
				if ent.Children {
					r.SkipChildren()
				}
				continue
			}

			member, err := transformVariable(ent)
			if err != nil {
				logFailure("variables.structure_member", err)
				continue
			}
			member.Contents = append(append([]VariableExpr{}, parentContents...), member.Contents...)
			member.DisplayName = parentDisplayName + "." + member.DisplayName
			member.GroupID = childGroup

			*out = append(*out, *member)
			memberIdx := len(*out) - 1

			if off, ok := member.Type.unitOffset(); ok {
				c.expandType(off, memberIdx, member.Contents, member.DisplayName, out, visiting)
			}
		}

	case dwarf.TagPointerType, dwarf.TagReferenceType:
		nextContents := append(append([]VariableExpr{}, parentContents...), VariableExpr{Kind: VarExprPointer})
		(*out)[parentIdx].Contents = nextContents
		if tf := typeEntry.AttrField(dwarf.AttrType); tf != nil {
			if off, ok := tf.Val.(dwarf.Offset); ok {
				c.expandType(off, parentIdx, nextContents, parentDisplayName, out, visiting)
			}
		}

	case dwarf.TagConstType, dwarf.TagVolatileType, dwarf.TagTypedef:
		if tf := typeEntry.AttrField(dwarf.AttrType); tf != nil {
			if off, ok := tf.Val.(dwarf.Offset); ok {
				c.expandType(off, parentIdx, parentContents, parentDisplayName, out, visiting)
			}
		}

	default:
		// Base types and anything else terminate expansion.
	}
}

// transformVariable builds a SymbolVariable from a DW_TAG_variable,
// DW_TAG_formal_parameter, or DW_TAG_member entry, without descending
// into its type.
func transformVariable(e *dwarf.Entry) (*SymbolVariable, error) {
	var contents []VariableExpr

	switch {
	case e.AttrField(dwarf.AttrLocation) != nil:
		step, err := locationStep(e.AttrField(dwarf.AttrLocation))
		if err != nil {
			return nil, err
		}
		contents = append(contents, step)

	case e.AttrField(dwarf.AttrDataMemberLoc) != nil:
		step, err := locationStep(e.AttrField(dwarf.AttrDataMemberLoc))
		if err != nil {
			return nil, err
		}
		contents = append(contents, step)

	case e.AttrField(dwarf.AttrConstValue) != nil:
		bytes, err := constValueBytes(e.AttrField(dwarf.AttrConstValue))
		if err != nil {
			return nil, err
		}
		contents = append(contents, VariableExpr{Kind: VarExprConstValue, ConstValue: bytes})
	}

	name, _ := e.Val(dwarf.AttrName).(string)

	ty := TypeDescriptor{Kind: TypeDescDescription, Description: "<unnamed>"}
	if tf := e.AttrField(dwarf.AttrType); tf != nil {
		if off, ok := tf.Val.(dwarf.Offset); ok {
			ty = TypeDescriptor{Kind: TypeDescOffset, Offset: off}
		}
	}

	return &SymbolVariable{
		Name:        name,
		DisplayName: name,
		Contents:    contents,
		Type:        ty,
	}, nil
}

// locationStep decodes a DW_AT_location/DW_AT_data_member_location field
// into a single Location(...) content step. The attribute's DWARF form
// class determines the sub-variant; unrecognized classes are preserved as
// LocationOther and fail only when the expression evaluator actually
// needs to reduce them.
func locationStep(f *dwarf.Field) (VariableExpr, error) {
	switch f.Class {
	case dwarf.ClassExprLoc:
		b, ok := f.Val.([]byte)
		if !ok {
			return VariableExpr{}, wrapf(ErrUnsupportedAttr, "malformed exprloc location attribute")
		}
		return VariableExpr{Kind: VarExprLocation, Location: LocationValue{Kind: LocationExprLoc, Expr: b}}, nil

	case dwarf.ClassConstant:
		v, ok := f.Val.(int64)
		if !ok {
			return VariableExpr{}, wrapf(ErrUnsupportedAttr, "malformed constant location attribute")
		}
		return VariableExpr{Kind: VarExprLocation, Location: LocationValue{Kind: LocationConstant, Constant: v}}, nil

	case dwarf.ClassLocListPtr:
		v, _ := f.Val.(int64)
		return VariableExpr{Kind: VarExprLocation, Location: LocationValue{Kind: LocationListsRef, ListsRefOffset: v}}, nil

	default:
		return VariableExpr{Kind: VarExprLocation, Location: LocationValue{Kind: LocationOther}}, nil
	}
}

// constValueBytes decodes a DW_AT_const_value attribute into bytes
// suitable for the Value Formatter. debug/dwarf collapses DW_FORM_data1,
// data2, data4, data8, sdata, and udata into a single int64-valued
// ClassConstant, discarding the encoded width; this always materializes
// the full 8-byte little-endian representation of that int64, which the
// formatter already truncates to the type's own byte_size, so the
// observable result is the same as a width-aware encoding would produce.
func constValueBytes(f *dwarf.Field) ([]byte, error) {
	switch f.Class {
	case dwarf.ClassBlock:
		b, ok := f.Val.([]byte)
		if !ok {
			return nil, wrapf(ErrUnsupportedAttr, "malformed block const_value")
		}
		return b, nil

	case dwarf.ClassConstant:
		v, ok := f.Val.(int64)
		if !ok {
			return nil, wrapf(ErrUnsupportedAttr, "malformed constant const_value")
		}
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, uint64(v))
		return buf, nil

	case dwarf.ClassString:
		s, ok := f.Val.(string)
		if !ok {
			return nil, wrapf(ErrUnsupportedAttr, "malformed string const_value")
		}
		return []byte(s), nil

	default:
		return nil, wrapf(ErrUnsupportedAttr, "unsupported const_value form")
	}
}
