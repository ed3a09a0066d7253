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
	"math"
	"math/big"
)

// DW_ATE_* base-type encoding constants. debug/dwarf exposes DW_AT_encoding
// as a bare int64 with no named constants of its own.
const (
	dwAteAddress      = 0x01
	dwAteBoolean      = 0x02
	dwAteComplexFloat = 0x03
	dwAteFloat        = 0x04
	dwAteSigned       = 0x05
	dwAteSignedChar   = 0x06
	dwAteUnsigned     = 0x07
	dwAteUnsignedChar = 0x08
)

// formatValue renders a Complete VariableInfo's memory slice (or const
// bytes) into the display string the host shows. Aggregate types render
// as their bare type name; base types render as "(type)value".
func formatValue(tag TypeTag, encoding int64, byteSize int, typeName string, slice []byte) (string, bool) {
	if tag == TypeTagAggregate {
		return typeName, true
	}
	if tag != TypeTagBase {
		logFailure("format", wrapf(ErrUnsupportedType, "variable tag is neither base nor aggregate"))
		return "", false
	}

	if byteSize <= 0 {
		byteSize = wasm32AddressSize
	}
	if len(slice) < byteSize {
		logFailure("format", wrapf(ErrDwarfFormat, "memory slice shorter than byte_size %d", byteSize))
		return "", false
	}
	data := slice[:byteSize]

	switch encoding {
	case dwAteSigned, dwAteSignedChar:
		return fmt.Sprintf("(%s)%s", typeName, decodeSignedDecimal(data)), true

	case dwAteUnsigned, dwAteUnsignedChar:
		return fmt.Sprintf("(%s)%s", typeName, decodeUnsignedDecimal(data)), true

	case dwAteBoolean:
		if data[0] != 0 {
			return fmt.Sprintf("(%s)true", typeName), true
		}
		return fmt.Sprintf("(%s)false", typeName), true

	case dwAteFloat:
		switch byteSize {
		case 4:
			bits := binary.LittleEndian.Uint32(data)
			return fmt.Sprintf("(%s)%v", typeName, math.Float32frombits(bits)), true
		case 8:
			bits := binary.LittleEndian.Uint64(data)
			return fmt.Sprintf("(%s)%v", typeName, math.Float64frombits(bits)), true
		default:
			logFailure("format", wrapf(ErrUnsupportedEncoding, "float encoding at byte_size %d", byteSize))
			return "", false
		}

	default:
		logFailure("format", wrapf(ErrUnsupportedEncoding, "base type encoding 0x%x", encoding))
		return "", false
	}
}

// decodeUnsignedDecimal interprets data as an arbitrary-width unsigned
// little-endian integer and renders it as decimal.
func decodeUnsignedDecimal(data []byte) string {
	var v big.Int
	v.SetBytes(reverseBytes(data))
	return v.String()
}

// decodeSignedDecimal interprets data as an arbitrary-width two's
// complement little-endian integer and renders it as decimal.
func decodeSignedDecimal(data []byte) string {
	var v big.Int
	v.SetBytes(reverseBytes(data))
	if len(data) > 0 && data[len(data)-1]&0x80 != 0 {
		var mod big.Int
		mod.Lsh(big.NewInt(1), uint(len(data)*8))
		v.Sub(&v, &mod)
	}
	return v.String()
}

func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		out[len(b)-1-i] = c
	}
	return out
}
