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
	"encoding/binary"
	"fmt"
)

// The functions in this file inspect the contents of a well-formed wasm
// binary directly, for sections wazero doesn't expose structured access to.
// They are weak parsers: they assume a well-formed module and do not
// validate it themselves, so malformed input may make them panic.

const (
	wasmCodeSectionID = 10
	wasmDataSectionID = 11
)

// ScanCodeSectionBase scans a wasm module binary for the start of its Code
// section's function bodies and returns that byte offset, the conventional
// code_base wasm-LLVM's DWARF emission relocates DW_AT_low_pc/DW_AT_high_pc
// against. A host wiring this engine together is responsible for passing
// code_base to New; this helper is offered so a host doesn't have to
// reimplement wasm section scanning itself.
func ScanCodeSectionBase(b []byte) (uint64, bool) {
	body, offset, ok := findSection(b, wasmCodeSectionID)
	if !ok {
		return 0, false
	}
	_, n := binary.Uvarint(body) // function count
	if n <= 0 {
		return 0, false
	}
	return uint64(offset + n), true
}

// ScanDataSectionBase scans a wasm module binary for the start of its Data
// section's segment table, the equivalent data_base relocation point for
// DW_OP_addr operands.
func ScanDataSectionBase(b []byte) (uint64, bool) {
	_, offset, ok := findSection(b, wasmDataSectionID)
	if !ok {
		return 0, false
	}
	return uint64(offset), true
}

// findSection returns the section body and its byte offset within b for the
// first top-level section matching id.
func findSection(b []byte, id byte) (body []byte, offset int, ok bool) {
	if len(b) < 8 {
		return nil, 0, false
	}
	pos := 8 // skip magic+version
	for pos+2 <= len(b) {
		sectionID := b[pos]
		pos++
		length, n := binary.Uvarint(b[pos:])
		if n <= 0 {
			return nil, 0, false
		}
		pos += n
		if sectionID == id {
			return b[pos : pos+int(length)], pos, true
		}
		pos += int(length)
	}
	return nil, 0, false
}

// wasmDataSection returns the raw bytes of a wasm module's Data section, or
// nil if it has none.
func wasmDataSection(b []byte) []byte {
	body, _, ok := findSection(b, wasmDataSectionID)
	if !ok {
		return nil
	}
	return body
}

// dataIterator iterates over the segments contained in a wasm Data section.
// Only mode 0 (memory 0 + constant offset) segments are supported, the only
// form wasm-LLVM emits for a single-memory module.
type dataIterator struct {
	b []byte // remaining bytes in the Data section
	n uint64 // number of segments

	offset int // offset of b in the Data section.
}

// newDataIterator prepares an iterator using the bytes of a well-formed data
// section.
func newDataIterator(b []byte) dataIterator {
	segments, r := binary.Uvarint(b)
	return dataIterator{
		b:      b[r:],
		n:      segments,
		offset: r,
	}
}

func (d *dataIterator) read(n int) (b []byte) {
	b, d.b = d.b[:n], d.b[n:]
	d.offset += n
	return b
}

func (d *dataIterator) skip(n int) {
	d.b = d.b[n:]
	d.offset += n
}

func (d *dataIterator) byte() byte {
	b := d.b[0]
	d.skip(1)
	return b
}

func (d *dataIterator) varint() int64 {
	x, n := sleb128(64, d.b)
	d.skip(n)
	return x
}

func sleb128(size int, b []byte) (result int64, read int) {
	// The difference between sleb128 and protobuf's binary.Varint is that
	// the latter puts the sign at the least significant bit.
	shift := 0

	var byt byte
	for {
		byt = b[0]
		read++
		b = b[1:]

		result |= int64(0b01111111&byt) << shift
		shift += 7
		if 0b10000000&byt == 0 {
			break
		}
	}
	if (shift < size) && (0x40&byt > 0) {
		result |= (^0 << shift)
	}
	return result, read
}

func (d *dataIterator) uvarint() uint64 {
	x, n := binary.Uvarint(d.b)
	d.skip(n)
	return x
}

// Next returns the bytes of the following segment, and its address in
// virtual memory, or a nil slice if there are no more segments.
func (d *dataIterator) Next() (vaddr int64, seg []byte) {
	if d.n == 0 {
		return 0, nil
	}

	// Format of mode 0 segment:
	//
	// varuint32 - mode (1 byte, 0)
	// byte      - i32.const (0x41)
	// varint64  - virtual address
	// byte      - end of expression (0x0B)
	// varuint64 - length
	// bytes     - raw bytes of the segment

	mode := d.uvarint()
	if mode != 0x0 {
		panic(fmt.Errorf("unsupported data segment mode %#x", mode))
	}

	v := d.byte()
	if v != 0x41 {
		panic(fmt.Errorf("expected constant i32.const (0x41); got %#x", v))
	}

	vaddr = d.varint()

	v = d.byte()
	if v != 0x0B {
		panic(fmt.Errorf("expected end of expr (0x0B); got %#x", v))
	}

	length := d.uvarint()
	seg = d.read(int(length))
	d.n--

	return vaddr, seg
}

// vmemb reconstructs a flat virtual-memory image from a wasm module's Data
// section segments, in address order.
type vmemb struct {
	// Start is the virtual address of the first byte of memory.
	Start int64
	// b is the reconstructed memory buffer.
	b []byte
}

func (m *vmemb) Has(addr int) bool {
	return addr < len(m.b)
}

func (m *vmemb) CopyAtAddress(addr int64, b []byte) {
	end := int64(len(m.b)) + m.Start
	if addr < end {
		panic(fmt.Errorf("address %d already mapped (end=%d)", addr, end))
	}
	size := len(m.b)
	zeroes := int(addr - end)
	total := zeroes + len(b) + size
	if cap(m.b) < total {
		newBuf := make([]byte, total)
		copy(newBuf, m.b)
		m.b = newBuf
	} else {
		m.b = m.b[:total]
	}
	copy(m.b[size+zeroes:], b)

	if m.Start+int64(len(m.b)) != addr+int64(len(b)) {
		panic("invalid copy")
	}
}

// buildVirtualMemory reconstructs a vmemb spanning every data segment of a
// wasm module's Data section, for hosts (like cmd/dwarfdbg-inspect) that
// have no running instance to read memory from.
func buildVirtualMemory(wasmBytes []byte) (*vmemb, error) {
	section := wasmDataSection(wasmBytes)
	if section == nil {
		return &vmemb{}, nil
	}

	it := newDataIterator(section)
	var mem *vmemb
	for {
		vaddr, seg := it.Next()
		if seg == nil {
			break
		}
		if mem == nil {
			mem = &vmemb{Start: vaddr}
		}
		mem.CopyAtAddress(vaddr, seg)
	}
	if mem == nil {
		mem = &vmemb{}
	}
	return mem, nil
}

// StaticMemoryHost answers RequireMemorySlice requests from a wasm module's
// reconstructed initial Data-section image, with no running instance
// involved. It lets cmd/dwarfdbg-inspect drive the full Variable-Info
// state machine end to end against a static module file.
type StaticMemoryHost struct {
	mem *vmemb
}

// NewStaticMemoryHost reconstructs wasmBytes' initial linear memory image
// from its Data section.
func NewStaticMemoryHost(wasmBytes []byte) (*StaticMemoryHost, error) {
	mem, err := buildVirtualMemory(wasmBytes)
	if err != nil {
		return nil, err
	}
	return &StaticMemoryHost{mem: mem}, nil
}

// ReadMemory returns byteSize bytes starting at address from the
// reconstructed image. It reports ok=false if the range isn't fully inside
// the image, which spans from the first segment's start to the last
// segment's end; gaps between segments read as zero bytes.
func (h *StaticMemoryHost) ReadMemory(address uint64, byteSize int) (data []byte, ok bool) {
	start := int64(address) - h.mem.Start
	if start < 0 || start > int64(len(h.mem.b)) {
		return nil, false
	}
	end := start + int64(byteSize)
	if end > int64(len(h.mem.b)) {
		return nil, false
	}
	return h.mem.b[start:end], true
}

// Evaluate drives v to completion against h, resolving every
// RequireMemorySlice suspension with ReadMemory. It is the synchronous
// convenience a host without its own event loop (such as the CLI) uses in
// place of manually stepping the state machine.
func (h *StaticMemoryHost) Evaluate(v *VariableInfo) (string, bool) {
	value, ok := v.Evaluate()
	for v.IsRequireMemorySlice() {
		req, _ := v.RequiredMemorySlice()
		data, found := h.ReadMemory(req.Address, req.ByteSize)
		if !found {
			logFailure("wasmbin.static_memory_host", wrapf(ErrDwarfFormat, "no mapped memory at address %d size %d", req.Address, req.ByteSize))
			return "", false
		}
		value, ok = v.ResumeWithMemorySlice(data)
	}
	return value, ok
}
