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
	"testing"
)

func TestGroupAllocatorLocalsRoot(t *testing.T) {
	a := newGroupAllocator(RootGroupLocals)
	if got := a.next(); got != 10000 {
		t.Fatalf("first next() from root 1000 = %d, want 10000", got)
	}
	if got := a.next(); got != 10001 {
		t.Fatalf("second next() = %d, want 10001", got)
	}
	if got := a.next(); got != 10002 {
		t.Fatalf("third next() = %d, want 10002", got)
	}
}

func TestGroupAllocatorGlobalsRoot(t *testing.T) {
	a := newGroupAllocator(RootGroupGlobals)
	if got := a.next(); got != 20000 {
		t.Fatalf("first next() from root 1001 = %d, want 20000", got)
	}
	if got := a.next(); got != 20001 {
		t.Fatalf("second next() = %d, want 20001", got)
	}
}

func TestTransformVariableLocation(t *testing.T) {
	e := &dwarf.Entry{Tag: dwarf.TagVariable, Field: []dwarf.Field{
		{Attr: dwarf.AttrName, Val: "x"},
		{Attr: dwarf.AttrLocation, Val: []byte{dwOpFbreg, 0x7c}, Class: dwarf.ClassExprLoc},
		{Attr: dwarf.AttrType, Val: dwarf.Offset(0x20)},
	}}
	v, err := transformVariable(e)
	if err != nil {
		t.Fatalf("transformVariable: %v", err)
	}
	if v.Name != "x" || v.DisplayName != "x" {
		t.Fatalf("transformVariable name = %q/%q, want x/x", v.Name, v.DisplayName)
	}
	if len(v.Contents) != 1 || v.Contents[0].Kind != VarExprLocation || v.Contents[0].Location.Kind != LocationExprLoc {
		t.Fatalf("transformVariable contents = %+v, want one Location(Exprloc) step", v.Contents)
	}
	off, ok := v.Type.unitOffset()
	if !ok || off != 0x20 {
		t.Fatalf("transformVariable type offset = %d, %v, want 0x20, true", off, ok)
	}
}

func TestTransformVariableConstValue(t *testing.T) {
	e := &dwarf.Entry{Tag: dwarf.TagVariable, Field: []dwarf.Field{
		{Attr: dwarf.AttrName, Val: "pi"},
		{Attr: dwarf.AttrConstValue, Val: int64(3), Class: dwarf.ClassConstant},
	}}
	v, err := transformVariable(e)
	if err != nil {
		t.Fatalf("transformVariable: %v", err)
	}
	if len(v.Contents) != 1 || v.Contents[0].Kind != VarExprConstValue {
		t.Fatalf("transformVariable contents = %+v, want one ConstValue step", v.Contents)
	}
	if got := binary.LittleEndian.Uint64(v.Contents[0].ConstValue); got != 3 {
		t.Fatalf("const value bytes decode to %d, want 3", got)
	}
}

func TestTransformVariableMemberOffset(t *testing.T) {
	e := &dwarf.Entry{Tag: dwarf.TagMember, Field: []dwarf.Field{
		{Attr: dwarf.AttrName, Val: "b"},
		{Attr: dwarf.AttrDataMemberLoc, Val: int64(4), Class: dwarf.ClassConstant},
		{Attr: dwarf.AttrType, Val: dwarf.Offset(0x10)},
	}}
	v, err := transformVariable(e)
	if err != nil {
		t.Fatalf("transformVariable: %v", err)
	}
	if len(v.Contents) != 1 || v.Contents[0].Location.Kind != LocationConstant || v.Contents[0].Location.Constant != 4 {
		t.Fatalf("transformVariable member offset = %+v, want constant offset 4", v.Contents)
	}
}

func TestConstValueBytesUnsupportedForm(t *testing.T) {
	f := &dwarf.Field{Class: dwarf.ClassFlag, Val: true}
	if _, err := constValueBytes(f); err == nil {
		t.Fatalf("constValueBytes(flag) should fail")
	}
}

func TestLocationStepOtherClass(t *testing.T) {
	f := &dwarf.Field{Class: dwarf.ClassReference, Val: dwarf.Offset(0)}
	step, err := locationStep(f)
	if err != nil {
		t.Fatalf("locationStep: %v", err)
	}
	if step.Location.Kind != LocationOther {
		t.Fatalf("locationStep(reference) = %+v, want LocationOther", step)
	}
}
