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
	"math"
	"testing"
)

func TestFormatValueAggregate(t *testing.T) {
	s, ok := formatValue(TypeTagAggregate, 0, 0, "struct S", nil)
	if !ok || s != "struct S" {
		t.Fatalf("formatValue(aggregate) = %q, %v; want %q, true", s, ok, "struct S")
	}
}

func TestFormatValueSigned(t *testing.T) {
	buf := make([]byte, 4)
	v := int32(-12)
	binary.LittleEndian.PutUint32(buf, uint32(v))
	s, ok := formatValue(TypeTagBase, dwAteSigned, 4, "int", buf)
	if !ok || s != "(int)-12" {
		t.Fatalf("formatValue(signed) = %q, %v; want %q, true", s, ok, "(int)-12")
	}
}

func TestFormatValueUnsigned(t *testing.T) {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, 300)
	s, ok := formatValue(TypeTagBase, dwAteUnsigned, 4, "unsigned int", buf)
	if !ok || s != "(unsigned int)300" {
		t.Fatalf("formatValue(unsigned) = %q, %v; want %q, true", s, ok, "(unsigned int)300")
	}
}

func TestFormatValueBoolean(t *testing.T) {
	s, ok := formatValue(TypeTagBase, dwAteBoolean, 1, "bool", []byte{1})
	if !ok || s != "(bool)true" {
		t.Fatalf("formatValue(bool true) = %q, %v", s, ok)
	}
	s, ok = formatValue(TypeTagBase, dwAteBoolean, 1, "bool", []byte{0})
	if !ok || s != "(bool)false" {
		t.Fatalf("formatValue(bool false) = %q, %v", s, ok)
	}
}

func TestFormatValueFloat(t *testing.T) {
	buf4 := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf4, math.Float32bits(3.5))
	s, ok := formatValue(TypeTagBase, dwAteFloat, 4, "float", buf4)
	if !ok || s != "(float)3.5" {
		t.Fatalf("formatValue(float32) = %q, %v", s, ok)
	}

	buf8 := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf8, math.Float64bits(2.25))
	s, ok = formatValue(TypeTagBase, dwAteFloat, 8, "double", buf8)
	if !ok || s != "(double)2.25" {
		t.Fatalf("formatValue(float64) = %q, %v", s, ok)
	}

	_, ok = formatValue(TypeTagBase, dwAteFloat, 2, "half", []byte{0, 0})
	if ok {
		t.Fatalf("formatValue(float16) should fail, got ok=true")
	}
}

func TestFormatValueUnsupportedEncoding(t *testing.T) {
	if _, ok := formatValue(TypeTagBase, dwAteComplexFloat, 8, "complex", make([]byte, 8)); ok {
		t.Fatalf("formatValue(complex float) should fail")
	}
}

func TestFormatValueShortSlice(t *testing.T) {
	if _, ok := formatValue(TypeTagBase, dwAteSigned, 4, "int", []byte{1, 2}); ok {
		t.Fatalf("formatValue should fail on a memory slice shorter than byte_size")
	}
}

func TestDecodeSignedDecimalNegative(t *testing.T) {
	buf := make([]byte, 2)
	v := int16(-1)
	binary.LittleEndian.PutUint16(buf, uint16(v))
	if got := decodeSignedDecimal(buf); got != "-1" {
		t.Errorf("decodeSignedDecimal(-1 as u16) = %q, want -1", got)
	}
}

func TestDecodeUnsignedDecimalWide(t *testing.T) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, 1<<40)
	if got := decodeUnsignedDecimal(buf); got != "1099511627776" {
		t.Errorf("decodeUnsignedDecimal = %q, want 1099511627776", got)
	}
}
