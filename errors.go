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
	"errors"
	"fmt"
	"log"
	"os"
)

// Logger receives the one-line-per-error side channel required when a host
// call fails: the engine never surfaces an error across its API boundary as
// a panic, it logs and returns false/nil instead.
var Logger = log.New(os.Stderr, "dwarfdbg: ", log.LstdFlags)

// Sentinel error kinds surfaced by the engine. Host-facing queries never
// return these directly; they log them via Logger and return the zero value.
var (
	ErrMalformedContainer  = errors.New("malformed wasm container")
	ErrDwarfFormat         = errors.New("malformed dwarf data")
	ErrUnsupportedAttr     = errors.New("unsupported attribute variant")
	ErrUnsupportedExpr     = errors.New("unsupported dwarf expression result")
	ErrUnsupportedEncoding = errors.New("unsupported base type encoding")
	ErrUnsupportedType     = errors.New("unsupported type for formatting")
	ErrUnimplemented       = errors.New("unimplemented dwarf feature")
	ErrFrameBaseMissing    = errors.New("frame base required but not available")
	ErrRelocationMissing   = errors.New("relocated address required but no data base available")
	ErrUnexpectedFrameBase = errors.New("frame base wasm value is not an integer")
	ErrNoSuchVariable      = errors.New("no such variable")
	ErrNoSuchSubroutine    = errors.New("no subroutine covers this program counter")
	ErrMalformedDebugInfo  = errors.New("malformed debug info")
)

// logFailure reports err via Logger. A single bad lookup never aborts the
// caller; it logs and the query reports no result.
func logFailure(op string, err error) {
	Logger.Printf("%s: %s", op, err)
}

// wrapf is a small helper around fmt.Errorf("...: %w", ...) used throughout
// the package so every error can be matched with errors.Is against the
// sentinels above.
func wrapf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), sentinel)
}
