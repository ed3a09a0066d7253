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
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
)

// newDebugData compiles wasmBytes just far enough to validate the container
// and enumerate its custom sections. The engine receives raw bytes, so it
// owns a short-lived wazero.Runtime just for the compile-and-inspect step.
func newDebugData(ctx context.Context, wasmBytes []byte) (*DwarfDebugData, error) {
	// WithCustomSections is required: wazero discards custom sections
	// (including ours) during compilation unless explicitly asked to
	// retain them.
	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCustomSections(true))
	defer rt.Close(ctx)

	mod, err := rt.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, wrapf(ErrMalformedContainer, "compiling wasm module: %s", err)
	}
	defer mod.Close(ctx)

	var store sectionStore
	for _, section := range mod.CustomSections() {
		// Copy: section.Data() aliases memory owned by the compiled
		// module, which is released when mod/rt are closed above.
		data := append([]byte(nil), section.Data()...)
		store.set(section.Name(), data)
	}

	return &DwarfDebugData{sections: store}, nil
}

// NewDebugData parses a complete wasm module binary and collects the DWARF
// custom sections it carries. It fails with ErrMalformedContainer if
// the wasm header is invalid or truncated; it never fails merely because
// DWARF sections are absent — parsing those lazily is Parse's job.
func NewDebugData(ctx context.Context, wasmBytes []byte) (*DwarfDebugData, error) {
	data, err := newDebugData(ctx, wasmBytes)
	if err != nil {
		return nil, err
	}
	if data.sections.info == nil && data.sections.line == nil {
		Logger.Printf("loader: no .debug_info/.debug_line custom sections found (wasm module built without -g?)")
	} else {
		Logger.Printf("loader: found dwarf sections %s", data.wasmSectionSummary())
	}
	return data, nil
}

// wasmSectionSummary reports the byte size of each recognized DWARF section,
// for the found-sections log line above.
func (d *DwarfDebugData) wasmSectionSummary() string {
	s := &d.sections
	return fmt.Sprintf(
		"abbrev=%d info=%d line=%d str=%d ranges=%d loc=%d pubnames=%d pubtypes=%d",
		len(s.abbrev), len(s.info), len(s.line), len(s.str),
		len(s.ranges), len(s.loc), len(s.pubnames), len(s.pubtypes),
	)
}
