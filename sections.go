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

import "debug/dwarf"

// Well-known DWARF custom section names, matched exactly against wasm
// custom section names.
const (
	sectionDebugInfo     = ".debug_info"
	sectionDebugAbbrev   = ".debug_abbrev"
	sectionDebugLine     = ".debug_line"
	sectionDebugStr      = ".debug_str"
	sectionDebugRanges   = ".debug_ranges"
	sectionDebugLoc      = ".debug_loc"
	sectionDebugPubNames = ".debug_pubnames"
	sectionDebugPubTypes = ".debug_pubtypes"
)

// sectionStore holds the raw bytes of every recognized DWARF section found
// in a wasm module's custom sections. It owns the bytes; every Dwarf view
// built from it borrows the same backing array, so repeated Parse calls
// never re-copy section data.
type sectionStore struct {
	abbrev   []byte
	info     []byte
	line     []byte
	str      []byte
	ranges   []byte
	loc      []byte
	pubnames []byte
	pubtypes []byte
}

func (s *sectionStore) set(name string, data []byte) {
	switch name {
	case sectionDebugAbbrev:
		s.abbrev = data
	case sectionDebugInfo:
		s.info = data
	case sectionDebugLine:
		s.line = data
	case sectionDebugStr:
		s.str = data
	case sectionDebugRanges:
		s.ranges = data
	case sectionDebugLoc:
		s.loc = data
	case sectionDebugPubNames:
		s.pubnames = data
	case sectionDebugPubTypes:
		s.pubtypes = data
	}
}

// DwarfDebugData is a handle over the section store. Its content is
// immutable after construction; Parse may be called any number of times to
// obtain a fresh, independent reader view.
type DwarfDebugData struct {
	sections sectionStore
}

// Parse reconstructs a *dwarf.Data reader view over the stored sections.
// Sections absent from the store are treated as empty. Wasm DWARF is always
// little-endian; readers built from the result share the underlying byte
// slices with DwarfDebugData.
func (d *DwarfDebugData) Parse() (*dwarf.Data, error) {
	abbrev, info := d.sections.abbrev, d.sections.info
	if len(info) == 0 {
		// debug/dwarf rejects an empty .debug_info outright, so a store
		// without one is parsed as a single DWARF 4 unit header with no
		// entries (over an empty abbreviation table): the resulting view
		// has no DIEs, and every query against it finds nothing.
		abbrev = []byte{0}
		info = []byte{7, 0, 0, 0, 4, 0, 0, 0, 0, 0, wasm32AddressSize}
	}
	data, err := dwarf.New(
		abbrev,
		nil, // aranges, unused by this engine
		nil, // frame, call-frame info is out of scope for this engine
		info,
		d.sections.line,
		nil, // pubnames, unused
		d.sections.ranges,
		d.sections.str,
	)
	if err != nil {
		return nil, wrapf(ErrDwarfFormat, "parsing dwarf sections: %s", err)
	}
	return data, nil
}

// unitEntryAt scans the root entry of every unit in the DWARF data and
// returns the compilation-unit root entry whose section offset in
// .debug_info equals unitOffset. It returns (nil, nil) without error when
// no compilation unit's root entry sits at that offset, including offsets
// past the end of .debug_info; it fails with ErrDwarfFormat only when the
// units themselves cannot be read.
//
// Only unit roots are visited: each root's children are skipped, so the
// scan costs one entry per unit rather than a full tree walk.
func unitEntryAt(d *dwarf.Data, unitOffset dwarf.Offset) (*dwarf.Entry, error) {
	r := d.Reader()
	for {
		ent, err := r.Next()
		if err != nil {
			return nil, wrapf(ErrDwarfFormat, "scanning for unit at offset %d: %s", unitOffset, err)
		}
		if ent == nil {
			return nil, nil
		}
		if ent.Tag == dwarf.TagCompileUnit && ent.Offset == unitOffset {
			return ent, nil
		}
		r.SkipChildren()
	}
}
