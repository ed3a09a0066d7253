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
	"debug/dwarf"
)

// Root group identifiers the host uses to seed a variable listing: locals
// and parameters are seeded with 1000, globals with 1001. The group
// allocator turns these seeds into the listing's top-level groups, 10000
// for locals and 20000 for globals. VariableNameList and
// GlobalVariableNameList always seed with these, so hosts never need to
// invent their own.
const (
	RootGroupLocals  = 1000
	RootGroupGlobals = 1001
)

// WasmLineInfo is the boundary value type for a source position: a file
// path, an optional line (absent when the line program recorded none), and
// an optional column (absent when the line is also absent).
type WasmLineInfo struct {
	File      string
	Line      int
	HasLine   bool
	Column    Column
	HasColumn bool
}

// VariableName is one entry of a variable listing: enough for a UI to
// render a tree node and, on expansion, ask for the node's children via
// ChildGroupID.
type VariableName struct {
	Name         string
	DisplayName  string
	TypeName     string
	GroupID      int64
	ChildGroupID *int64
}

// Engine is the façade a host embeds: it owns the parsed DWARF view and the
// derived indexes, and answers every debugger query. Construction never
// fails merely because a module carries no DWARF section; queries against a
// DWARF-less Engine simply report no result.
type Engine struct {
	debugData *DwarfDebugData
	dwarf     *dwarf.Data

	sourceMap *SourceMap
	subindex  *SubprogramIndex

	codeBase uint64
	dataBase uint64
}

// New parses wasmBytes and builds every index eagerly except the source
// map, which stays lazy (see sourcemap.go). codeBase and dataBase are the
// host-derived relocation bases; ScanCodeSectionBase in wasmbin.go computes
// the code base equivalent for a host that wants it.
func New(ctx context.Context, wasmBytes []byte, codeBase, dataBase uint64) (*Engine, error) {
	debugData, err := NewDebugData(ctx, wasmBytes)
	if err != nil {
		return nil, err
	}

	dw, err := debugData.Parse()
	if err != nil {
		return nil, err
	}

	subindex, err := NewSubprogramIndex(dw)
	if err != nil {
		return nil, err
	}

	return &Engine{
		debugData: debugData,
		dwarf:     dw,
		sourceMap: NewSourceMap(dw),
		subindex:  subindex,
		codeBase:  codeBase,
		dataBase:  dataBase,
	}, nil
}

// Subroutines exposes the full subprogram index for tools that dump a
// module's symbol table (cmd/dwarfdbg-symbols), rather than querying one PC
// at a time. PC ranges are code-section-relative, without codeBase applied.
func (e *Engine) Subroutines() []*Subroutine {
	return e.subindex.Subroutines()
}

// SetDirectoryMap forwards to the source map's output-rewriting rule.
func (e *Engine) SetDirectoryMap(from, to string) {
	e.sourceMap.SetDirectoryMap(from, to)
}

// rebase translates a host instruction offset, which includes codeBase,
// into the code-section-relative address space every DWARF table in this
// engine is keyed by. Offsets before codeBase cannot belong to the code
// section and report a miss.
func (e *Engine) rebase(instructionOffset uint64) (uint64, bool) {
	if instructionOffset < e.codeBase {
		return 0, false
	}
	return instructionOffset - e.codeBase, true
}

// FindFileInfoFromAddress resolves an instruction offset to a source
// position. instructionOffset includes codeBase, as every address exchanged
// with the host does.
func (e *Engine) FindFileInfoFromAddress(instructionOffset uint64) (WasmLineInfo, bool) {
	offset, ok := e.rebase(instructionOffset)
	if !ok {
		return WasmLineInfo{}, false
	}
	li, ok := e.sourceMap.FindLineInfo(offset)
	if !ok {
		return WasmLineInfo{}, false
	}
	return WasmLineInfo{
		File:      li.File,
		Line:      li.Line,
		HasLine:   li.Line != 0,
		Column:    li.Column,
		HasColumn: li.Line != 0,
	}, true
}

// FindAddressFromFileInfo resolves a source position back to an
// instruction offset including codeBase, returning the nearest preceding
// line on a miss (no exact line, the greatest line less than the requested
// one wins), approximating the next executable statement.
func (e *Engine) FindAddressFromFileInfo(file WasmLineInfo) (uint64, bool) {
	addr, ok := e.sourceMap.FindAddress(LineInfo{File: file.File, Line: file.Line, Column: file.Column})
	if !ok {
		return 0, false
	}
	return addr + e.codeBase, true
}

// VariableNameList lists the locals and formal parameters visible at
// instructionOffset, rooted at group 1000.
func (e *Engine) VariableNameList(instructionOffset uint64) ([]VariableName, bool) {
	offset, ok := e.rebase(instructionOffset)
	if !ok {
		return nil, false
	}
	sub, ok := e.subindex.FindSubroutine(offset)
	if !ok {
		logFailure("engine.variable_name_list", wrapf(ErrNoSuchSubroutine, "offset %d", instructionOffset))
		return nil, false
	}
	vars, err := VariablesInSubroutine(e.dwarf, sub.UnitOffset, sub.EntryOffset, offset, RootGroupLocals)
	if err != nil {
		logFailure("engine.variable_name_list", err)
		return nil, false
	}
	return e.projectVariableNames(vars), true
}

// GlobalVariableNameList lists the globals visible from instructionOffset's
// owning compilation unit, rooted at group 1001.
func (e *Engine) GlobalVariableNameList(instructionOffset uint64) ([]VariableName, bool) {
	offset, ok := e.rebase(instructionOffset)
	if !ok {
		return nil, false
	}
	sub, ok := e.subindex.FindSubroutine(offset)
	if !ok {
		logFailure("engine.global_variable_name_list", wrapf(ErrNoSuchSubroutine, "offset %d", instructionOffset))
		return nil, false
	}
	vars, err := VariablesInUnit(e.dwarf, sub.UnitOffset, RootGroupGlobals)
	if err != nil {
		logFailure("engine.global_variable_name_list", err)
		return nil, false
	}
	return e.projectVariableNames(vars), true
}

func (e *Engine) projectVariableNames(vars []SymbolVariable) []VariableName {
	out := make([]VariableName, len(vars))
	for i, v := range vars {
		out[i] = VariableName{
			Name:         v.Name,
			DisplayName:  v.DisplayName,
			TypeName:     e.typeName(v.Type),
			GroupID:      v.GroupID,
			ChildGroupID: v.ChildGroupID,
		}
	}
	return out
}

// typeName resolves a TypeDescriptor to display text: a synthetic entry's
// literal description, or the DW_AT_name of the type DIE it references.
func (e *Engine) typeName(ty TypeDescriptor) string {
	if ty.Kind == TypeDescDescription {
		return ty.Description
	}
	r := e.dwarf.Reader()
	r.Seek(ty.Offset)
	ent, err := r.Next()
	if err != nil || ent == nil {
		return "<no type name>"
	}
	name, ok := ent.Val(dwarf.AttrName).(string)
	if !ok || name == "" {
		return "<no type name>"
	}
	return name
}

// GetVariableInfo looks up name first among the locals/parameters visible
// at instructionOffset, then among the owning unit's globals, and reduces
// the match to a VariableInfo ready for evaluation. locals, globals, and
// stack are the live wasm value vectors the frame-base protocol may need;
// stack is topmost-first, as the runtime reports it, and is indexed
// directly with no reversal.
func (e *Engine) GetVariableInfo(name string, locals, globals, stack []WasmValue, instructionOffset uint64) (*VariableInfo, bool) {
	offset, ok := e.rebase(instructionOffset)
	if !ok {
		return nil, false
	}
	sub, ok := e.subindex.FindSubroutine(offset)
	if !ok {
		logFailure("engine.get_variable_info", wrapf(ErrNoSuchSubroutine, "offset %d", instructionOffset))
		return nil, false
	}

	if sv, ok := findSymbolVariable(name, func() ([]SymbolVariable, error) {
		return VariablesInSubroutine(e.dwarf, sub.UnitOffset, sub.EntryOffset, offset, RootGroupLocals)
	}); ok {
		// The frame base is resolved only once a local matches: a
		// global-only query may legitimately arrive with empty value
		// vectors, which must not fail frame-base selection.
		var fb FrameBase
		if sub.FrameBaseLoc != nil {
			value, err := ResolveWasmFrameBase(sub.FrameBaseLoc, locals, globals, stack)
			if err != nil {
				logFailure("engine.get_variable_info", err)
				return nil, false
			}
			fb = WasmFrameBase(value)
		}
		return e.buildVariableInfo(sv, fb)
	}

	dataFB := WasmDataBase(e.dataBase)
	if sv, ok := findSymbolVariable(name, func() ([]SymbolVariable, error) {
		return VariablesInUnit(e.dwarf, sub.UnitOffset, RootGroupGlobals)
	}); ok {
		return e.buildVariableInfo(sv, dataFB)
	}

	logFailure("engine.get_variable_info", wrapf(ErrNoSuchVariable, "%q", name))
	return nil, false
}

func (e *Engine) buildVariableInfo(sv *SymbolVariable, fb FrameBase) (*VariableInfo, bool) {
	info, err := NewVariableInfo(e.dwarf, sv, fb)
	if err != nil {
		logFailure("engine.get_variable_info", err)
		return nil, false
	}
	return info, true
}

func findSymbolVariable(name string, list func() ([]SymbolVariable, error)) (*SymbolVariable, bool) {
	vars, err := list()
	if err != nil {
		logFailure("engine.find_symbol_variable", err)
		return nil, false
	}
	for i := range vars {
		if vars[i].Name == name {
			return &vars[i], true
		}
	}
	return nil, false
}
