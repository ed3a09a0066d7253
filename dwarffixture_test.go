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

// This file hand-assembles a minimal, well-formed DWARF4 .debug_abbrev,
// .debug_info, and .debug_line triple, byte for byte, so every other test
// in this package can drive the engine against a real *dwarf.Data instead
// of mocking debug/dwarf's own types. There is exactly one compilation
// unit, so every DW_FORM_ref4 value below is a raw absolute .debug_info
// offset (the unit's own base offset is 0, and debug/dwarf adds that base
// to every reference).
//
// The synthetic program models:
//
//	int main() {
//	    int x;        // DW_OP_fbreg -4
//	    int *p;       // DW_OP_fbreg -8, pointer to int
//	    struct S s;   // DW_OP_fbreg -16, { int a; int b; }
//	}
//	int g;            // DW_OP_addr 0x2000
//	namespace ns {
//	    int n;        // DW_OP_addr 0x2004
//	    int helper() {
//	        int t;    // DW_OP_fbreg -4
//	    }
//	}
//
// compiled to wasm32 with main's code at [16, 64) and ns::helper's at
// [64, 80), each with a frame base of wasm local 0, backed by a three-row
// line program mapping addresses 16/20/24 to lines 3/4/5 of "/src/app.c".

import (
	"bytes"
	"debug/dwarf"
	"encoding/binary"
	"testing"
)

// abbrev codes, matching the literal table built by testAbbrev.
const (
	abbrevCU          = 1
	abbrevBaseType    = 2
	abbrevPointerType = 3
	abbrevStructType  = 4
	abbrevMember      = 5
	abbrevSubprogram  = 6
	abbrevVariable    = 7
	abbrevNamespace   = 8
)

// testAbbrev is the fixture's single, shared abbreviation table. Every
// field value here is below 128, so each ULEB128 is exactly one byte.
var testAbbrev = []byte{
	abbrevCU, 0x11, 1, 0x03, 0x08, 0x1B, 0x08, 0x10, 0x06, 0, 0,
	abbrevBaseType, 0x24, 0, 0x03, 0x08, 0x0B, 0x0B, 0x3E, 0x0B, 0, 0,
	abbrevPointerType, 0x0F, 0, 0x0B, 0x0B, 0x49, 0x13, 0, 0,
	abbrevStructType, 0x13, 1, 0x03, 0x08, 0x0B, 0x0B, 0, 0,
	abbrevMember, 0x0D, 0, 0x03, 0x08, 0x49, 0x13, 0x38, 0x0B, 0, 0,
	abbrevSubprogram, 0x2E, 1, 0x03, 0x08, 0x11, 0x01, 0x12, 0x06, 0x40, 0x0A, 0, 0,
	abbrevVariable, 0x34, 0, 0x03, 0x08, 0x49, 0x13, 0x02, 0x18, 0, 0,
	abbrevNamespace, 0x39, 1, 0x03, 0x08, 0, 0,
	0,
}

// fixtureOffsets names every DIE's .debug_info offset, used both to build
// the byte stream (DW_FORM_ref4 operands) and to assert against once the
// fixture is parsed back.
type fixtureOffsets struct {
	cu                               dwarf.Offset
	intType, pointerType, structType dwarf.Offset
	memberA, memberB                 dwarf.Offset
	subprogram, varX, varP, varS     dwarf.Offset
	globalG, namespaceNS, varN       dwarf.Offset
	helper, varT                     dwarf.Offset
}

func writeStrz(buf *bytes.Buffer, s string) {
	buf.WriteString(s)
	buf.WriteByte(0)
}

func writeRef4(buf *bytes.Buffer, off dwarf.Offset) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(off))
	buf.Write(b[:])
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

// buildTestInfo assembles the .debug_info bytes described atop this file
// and reports the offset of every DIE it wrote.
func buildTestInfo() ([]byte, fixtureOffsets) {
	var off fixtureOffsets
	var buf bytes.Buffer

	buf.Write([]byte{0, 0, 0, 0}) // unit_length, patched below
	buf.Write([]byte{0x04, 0x00}) // version 4
	buf.Write([]byte{0, 0, 0, 0}) // abbrev_offset 0
	buf.WriteByte(0x04)           // address_size (wasm32)

	off.cu = dwarf.Offset(buf.Len())
	buf.WriteByte(abbrevCU)
	writeStrz(&buf, "app.c")
	writeStrz(&buf, "/src")
	buf.Write([]byte{0, 0, 0, 0}) // stmt_list: our only line program starts at .debug_line offset 0

	off.intType = dwarf.Offset(buf.Len())
	buf.WriteByte(abbrevBaseType)
	writeStrz(&buf, "int")
	buf.WriteByte(4)           // byte_size
	buf.WriteByte(dwAteSigned) // encoding

	off.pointerType = dwarf.Offset(buf.Len())
	buf.WriteByte(abbrevPointerType)
	buf.WriteByte(4) // byte_size
	writeRef4(&buf, off.intType)

	off.structType = dwarf.Offset(buf.Len())
	buf.WriteByte(abbrevStructType)
	writeStrz(&buf, "S")
	buf.WriteByte(8) // byte_size

	off.memberA = dwarf.Offset(buf.Len())
	buf.WriteByte(abbrevMember)
	writeStrz(&buf, "a")
	writeRef4(&buf, off.intType)
	buf.WriteByte(0) // data_member_location

	off.memberB = dwarf.Offset(buf.Len())
	buf.WriteByte(abbrevMember)
	writeStrz(&buf, "b")
	writeRef4(&buf, off.intType)
	buf.WriteByte(4) // data_member_location

	buf.WriteByte(0) // end structure_type children

	off.subprogram = dwarf.Offset(buf.Len())
	buf.WriteByte(abbrevSubprogram)
	writeStrz(&buf, "main")
	writeU32(&buf, 16) // low_pc
	writeU32(&buf, 48) // high_pc (size form)
	frameBase := []byte{0xED, 0x00, 0x00}
	buf.WriteByte(byte(len(frameBase)))
	buf.Write(frameBase)

	off.varX = dwarf.Offset(buf.Len())
	buf.WriteByte(abbrevVariable)
	writeStrz(&buf, "x")
	writeRef4(&buf, off.intType)
	exprX := append([]byte{dwOpFbreg}, encodeSLEB128(-4)...)
	buf.WriteByte(byte(len(exprX)))
	buf.Write(exprX)

	off.varP = dwarf.Offset(buf.Len())
	buf.WriteByte(abbrevVariable)
	writeStrz(&buf, "p")
	writeRef4(&buf, off.pointerType)
	exprP := append([]byte{dwOpFbreg}, encodeSLEB128(-8)...)
	buf.WriteByte(byte(len(exprP)))
	buf.Write(exprP)

	off.varS = dwarf.Offset(buf.Len())
	buf.WriteByte(abbrevVariable)
	writeStrz(&buf, "s")
	writeRef4(&buf, off.structType)
	exprS := append([]byte{dwOpFbreg}, encodeSLEB128(-16)...)
	buf.WriteByte(byte(len(exprS)))
	buf.Write(exprS)

	buf.WriteByte(0) // end subprogram children

	off.globalG = dwarf.Offset(buf.Len())
	buf.WriteByte(abbrevVariable)
	writeStrz(&buf, "g")
	writeRef4(&buf, off.intType)
	exprG := []byte{dwOpAddr, 0, 0, 0, 0}
	binary.LittleEndian.PutUint32(exprG[1:], 0x2000)
	buf.WriteByte(byte(len(exprG)))
	buf.Write(exprG)

	off.namespaceNS = dwarf.Offset(buf.Len())
	buf.WriteByte(abbrevNamespace)
	writeStrz(&buf, "ns")

	off.varN = dwarf.Offset(buf.Len())
	buf.WriteByte(abbrevVariable)
	writeStrz(&buf, "n")
	writeRef4(&buf, off.intType)
	exprN := []byte{dwOpAddr, 0, 0, 0, 0}
	binary.LittleEndian.PutUint32(exprN[1:], 0x2004)
	buf.WriteByte(byte(len(exprN)))
	buf.Write(exprN)

	off.helper = dwarf.Offset(buf.Len())
	buf.WriteByte(abbrevSubprogram)
	writeStrz(&buf, "helper")
	writeU32(&buf, 64) // low_pc
	writeU32(&buf, 16) // high_pc (size form)
	buf.WriteByte(byte(len(frameBase)))
	buf.Write(frameBase)

	off.varT = dwarf.Offset(buf.Len())
	buf.WriteByte(abbrevVariable)
	writeStrz(&buf, "t")
	writeRef4(&buf, off.intType)
	exprT := append([]byte{dwOpFbreg}, encodeSLEB128(-4)...)
	buf.WriteByte(byte(len(exprT)))
	buf.Write(exprT)

	buf.WriteByte(0) // end helper children
	buf.WriteByte(0) // end namespace children
	buf.WriteByte(0) // end compile_unit children

	info := buf.Bytes()
	binary.LittleEndian.PutUint32(info[0:4], uint32(len(info)-4))
	return info, off
}

// standardOpcodeLengths is the canonical DWARF4 table for opcode_base 13,
// indices 1..12 (DW_LNS_copy through DW_LNS_set_isa).
var standardOpcodeLengths = []byte{0, 1, 1, 1, 1, 0, 0, 0, 1, 0, 0, 1}

const (
	lnsCopy        = 1
	lnsAdvancePC   = 2
	lnsAdvanceLine = 3
	lneEndSequence = 1
	lneSetAddress  = 2
)

// buildTestLine assembles a .debug_line program with one file ("app.c",
// resolved against comp_dir "/src") and three rows: address 16 -> line 3,
// address 20 -> line 4, address 24 -> line 5, followed by an end-of-sequence
// marker at address 24.
func buildTestLine() []byte {
	var buf bytes.Buffer

	buf.Write([]byte{0, 0, 0, 0}) // unit_length, patched below
	buf.Write([]byte{0x04, 0x00}) // version 4
	buf.Write([]byte{0, 0, 0, 0}) // header_length, patched below
	headerLengthStart := buf.Len()

	buf.WriteByte(1)    // minimum_instruction_length
	buf.WriteByte(1)    // maximum_operations_per_instruction
	buf.WriteByte(1)    // default_is_stmt
	buf.WriteByte(0xFB) // line_base = -5
	buf.WriteByte(14)   // line_range
	buf.WriteByte(13)   // opcode_base
	buf.Write(standardOpcodeLengths)

	buf.WriteByte(0) // include_directories: none beyond comp_dir

	writeStrz(&buf, "app.c")
	buf.WriteByte(0) // directory_index 0 (comp_dir)
	buf.WriteByte(0) // mtime
	buf.WriteByte(0) // length
	buf.WriteByte(0) // file_names terminator

	programStart := buf.Len()

	// DW_LNE_set_address 16
	buf.WriteByte(0)
	buf.WriteByte(5) // length: sub-opcode + 4-byte address
	buf.WriteByte(lneSetAddress)
	writeU32(&buf, 16)

	emitRow := func(lineDelta int64, pcAdvance uint64) {
		if pcAdvance > 0 {
			buf.WriteByte(lnsAdvancePC)
			buf.WriteByte(byte(pcAdvance)) // < 128, fits one ULEB128 byte
		}
		buf.WriteByte(lnsAdvanceLine)
		buf.Write(encodeSLEB128(lineDelta))
		buf.WriteByte(lnsCopy)
	}
	emitRow(2, 0) // line 1 -> 3, address 16
	emitRow(1, 4) // line 3 -> 4, address 20
	emitRow(1, 4) // line 4 -> 5, address 24

	// DW_LNE_end_sequence
	buf.WriteByte(0)
	buf.WriteByte(1)
	buf.WriteByte(lneEndSequence)

	line := buf.Bytes()
	binary.LittleEndian.PutUint32(line[6:10], uint32(programStart-headerLengthStart))
	binary.LittleEndian.PutUint32(line[0:4], uint32(len(line)-4))
	return line
}

// buildTestDwarfData assembles the full fixture and parses it back through
// debug/dwarf.New, exactly the way sections.go's DwarfDebugData.Parse does.
func buildTestDwarfData(t *testing.T) (*dwarf.Data, fixtureOffsets) {
	t.Helper()
	info, off := buildTestInfo()
	line := buildTestLine()
	dw, err := dwarf.New(testAbbrev, nil, nil, info, line, nil, nil, nil)
	if err != nil {
		t.Fatalf("dwarf.New: %v", err)
	}
	return dw, off
}
