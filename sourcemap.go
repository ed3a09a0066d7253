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
	"io"
	"strings"

	"golang.org/x/exp/slices"
)

// Column is the 1-based column of a source position, or the "left edge" of
// the line when the line program didn't record one.
type Column struct {
	LeftEdge bool
	Number   int
}

// LineInfo is an immutable (file, line, column) triple. Line is 0 when the
// line program recorded no line for the row.
type LineInfo struct {
	File   string
	Line   int
	Column Column
}

type unitLineRow struct {
	address uint64
	file    string
	line    int
	column  Column
}

// unitSourceMap is a pair of sorted tables for one compilation unit:
// address-ascending for FindLineInfo, and per-file/line-ascending for
// FindAddress.
type unitSourceMap struct {
	byAddress []unitLineRow
	byFile    map[string][]unitLineRow
}

// SourceMap answers address-to-line and line-to-address queries over a
// module's line programs. It parses each compilation unit's .debug_line
// program at most once: the first call to FindLineInfo or FindAddress
// materializes every unit's tables (merging them into the SourceMap-wide
// tables this type searches), and the per-unit results are cached in
// unitCache keyed by compilation-unit offset so a second SourceMap over
// the same *dwarf.Data would reuse nothing (each SourceMap owns its own
// cache), but repeated queries against the same SourceMap never reparse.
//
// This is coarser than per-unit laziness, which would need a
// compilation-unit address-range index just to decide which unit a query
// touches before parsing anything. Typical modules carry few units, so the
// one-time full parse is not worth that extra coupling.
type SourceMap struct {
	dwarf *dwarf.Data

	loaded       bool
	mergedByAddr []unitLineRow
	mergedByFile map[string][]unitLineRow
	unitCache    map[dwarf.Offset]*unitSourceMap

	directoryMap map[string]string
}

// NewSourceMap builds a SourceMap over the units visible in dw. No line
// programs are parsed until the first query.
func NewSourceMap(dw *dwarf.Data) *SourceMap {
	return &SourceMap{
		dwarf:        dw,
		mergedByFile: map[string][]unitLineRow{},
		unitCache:    map[dwarf.Offset]*unitSourceMap{},
		directoryMap: map[string]string{},
	}
}

// SetDirectoryMap adds or replaces an output-rewriting rule. It never
// touches stored keys: a lookup for the original, un-remapped path still
// succeeds after this call.
func (s *SourceMap) SetDirectoryMap(from, to string) {
	s.directoryMap[from] = to
}

func (s *SourceMap) remap(file string) string {
	for from, to := range s.directoryMap {
		file = strings.ReplaceAll(file, from, to)
	}
	return file
}

// FindLineInfo finds the greatest address in the unit-merged address table
// that is <= codeOffset. Returns false if codeOffset precedes every known
// address, or if no line program could be parsed.
func (s *SourceMap) FindLineInfo(codeOffset uint64) (LineInfo, bool) {
	if err := s.ensureLoaded(); err != nil {
		logFailure("sourcemap.find_line_info", err)
		return LineInfo{}, false
	}
	i, ok := slices.BinarySearchFunc(s.mergedByAddr, codeOffset, func(r unitLineRow, target uint64) int {
		switch {
		case r.address < target:
			return -1
		case r.address > target:
			return 1
		default:
			return 0
		}
	})
	if !ok {
		if i == 0 {
			return LineInfo{}, false
		}
		i--
	}
	row := s.mergedByAddr[i]
	return LineInfo{File: s.remap(row.file), Line: row.line, Column: row.column}, true
}

// FindAddress canonicalizes file.File, locates its file-sorted row list,
// and binary-searches for the requested line: exact match wins, otherwise
// the greatest line <= requested, approximating the next executable
// statement. Returns false if no such line exists.
func (s *SourceMap) FindAddress(file LineInfo) (uint64, bool) {
	if err := s.ensureLoaded(); err != nil {
		logFailure("sourcemap.find_address", err)
		return 0, false
	}
	key := canonicalPath(file.File)
	rows, ok := s.mergedByFile[key]
	if !ok || len(rows) == 0 {
		return 0, false
	}
	i, exact := slices.BinarySearchFunc(rows, file.Line, func(r unitLineRow, target int) int {
		switch {
		case r.line < target:
			return -1
		case r.line > target:
			return 1
		default:
			return 0
		}
	})
	if !exact {
		if i == 0 {
			return 0, false
		}
		i--
	}
	return rows[i].address, true
}

// ensureLoaded parses every compilation unit's line program on first call,
// merging their tables into the SourceMap-wide search structures and
// caching each unit's table individually.
func (s *SourceMap) ensureLoaded() error {
	if s.loaded {
		return nil
	}
	s.loaded = true

	r := s.dwarf.Reader()
	for {
		ent, err := r.Next()
		if err != nil {
			return wrapf(ErrDwarfFormat, "scanning compilation units: %s", err)
		}
		if ent == nil {
			break
		}
		if ent.Tag != dwarf.TagCompileUnit {
			continue
		}
		r.SkipChildren()

		um, err := s.buildUnitSourceMap(ent)
		if err != nil {
			logFailure("sourcemap.load_unit", err)
			continue
		}
		if um == nil {
			continue
		}
		s.unitCache[ent.Offset] = um
		s.mergedByAddr = append(s.mergedByAddr, um.byAddress...)
		for file, rows := range um.byFile {
			s.mergedByFile[file] = append(s.mergedByFile[file], rows...)
		}
	}

	slices.SortFunc(s.mergedByAddr, func(a, b unitLineRow) bool { return a.address < b.address })
	for file, rows := range s.mergedByFile {
		slices.SortFunc(rows, func(a, b unitLineRow) bool { return a.line < b.line })
		s.mergedByFile[file] = rows
	}
	return nil
}

// buildUnitSourceMap decodes one compilation unit's line program into its
// two sorted tables. A unit with no DW_AT_stmt_list (no line program at
// all) yields (nil, nil): that is not an error, it just contributes
// nothing to the merged tables.
func (s *SourceMap) buildUnitSourceMap(cu *dwarf.Entry) (*unitSourceMap, error) {
	lr, err := s.dwarf.LineReader(cu)
	if err != nil {
		return nil, wrapf(ErrDwarfFormat, "reading line program: %s", err)
	}
	if lr == nil {
		return nil, nil
	}

	compDir, _ := cu.Val(dwarf.AttrCompDir).(string)

	um := &unitSourceMap{byFile: map[string][]unitLineRow{}}

	var le dwarf.LineEntry
	for {
		err := lr.Next(&le)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, wrapf(ErrDwarfFormat, "iterating line rows: %s", err)
		}
		// End-of-sequence rows mark the end of a contiguous address
		// range; they carry no source position and are skipped
		// without splitting the table.
		if le.EndSequence {
			continue
		}

		file := resolveLineFile(le.File, compDir)
		column := Column{LeftEdge: true}
		if le.Column > 0 {
			column = Column{Number: le.Column}
		}

		row := unitLineRow{address: le.Address, file: file, line: le.Line, column: column}
		um.byAddress = append(um.byAddress, row)
		um.byFile[file] = append(um.byFile[file], row)
	}

	slices.SortFunc(um.byAddress, func(a, b unitLineRow) bool { return a.address < b.address })
	for file, rows := range um.byFile {
		slices.SortFunc(rows, func(a, b unitLineRow) bool { return a.line < b.line })
		um.byFile[file] = rows
	}
	return um, nil
}

// resolveLineFile canonicalizes a decoded line-table file entry, joining it
// against the unit's comp_dir when it isn't already absolute. debug/dwarf's
// LineReader already resolves the version-dependent file-index base (DWARF
// <=4's synthetic index-0 entry vs. DWARF 5's native 0-indexing) before
// handing us *dwarf.LineFile, so this function only has path joining and
// canonicalization left to do.
func resolveLineFile(lf *dwarf.LineFile, compDir string) string {
	if lf == nil {
		return ""
	}
	name := strings.ReplaceAll(lf.Name, `\`, "/")
	if compDir == "" || isAbsolutePath(lowerDriveLetter(name)) {
		return canonicalPath(name)
	}
	return joinPath(compDir, name)
}
