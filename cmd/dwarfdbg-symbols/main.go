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

// dwarfdbg-symbols dumps a wasm module's resolved subprogram and line index
// as a sample-less pprof profile (Function/Location only), so it can be
// opened with `go tool pprof -web` to eyeball what the engine recovered
// from a module's DWARF. There is no sampling machinery: exactly one
// synthetic sample of value 1 per subroutine, just enough for pprof's
// tools to render the symbol table.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/pprof/profile"

	"github.com/stealthrocket/dwarfdbg"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var outPath string
	flag.StringVar(&outPath, "out", "symbols.pprof", "Path to write the resulting pprof profile to.")
	flag.Parse()

	if flag.NArg() != 1 {
		return fmt.Errorf("usage: dwarfdbg-symbols [-out path] <wasm-file>")
	}

	wasmBytes, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		return fmt.Errorf("reading wasm module: %w", err)
	}

	codeBase, _ := dwarfdbg.ScanCodeSectionBase(wasmBytes)
	dataBase, _ := dwarfdbg.ScanDataSectionBase(wasmBytes)

	engine, err := dwarfdbg.New(context.Background(), wasmBytes, codeBase, dataBase)
	if err != nil {
		return fmt.Errorf("building engine: %w", err)
	}

	prof := buildSymbolProfile(engine, codeBase)

	w, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", outPath, err)
	}
	defer w.Close()
	return prof.Write(w)
}

// buildSymbolProfile builds one Location (with one Line) per subroutine in
// the module's subprogram index, resolving each subroutine's source file
// from the line program at its entry PC when available. Subroutine PC
// ranges are code-section-relative, so codeBase is added back before
// querying the engine or recording a Location address.
func buildSymbolProfile(engine *dwarfdbg.Engine, codeBase uint64) *profile.Profile {
	prof := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "subroutines", Unit: "count"}},
	}

	funcs := map[string]*profile.Function{}

	for _, sub := range engine.Subroutines() {
		name := sub.QualifiedName
		if name == "" {
			name = sub.Name
		}
		if name == "" {
			name = fmt.Sprintf("sub_%#x", sub.Low)
		}

		file := ""
		if li, ok := engine.FindFileInfoFromAddress(sub.Low + codeBase); ok {
			file = li.File
		}

		fn := funcs[name]
		if fn == nil {
			fn = &profile.Function{
				ID:         uint64(len(funcs)) + 1,
				Name:       name,
				SystemName: name,
				Filename:   file,
			}
			funcs[name] = fn
			prof.Function = append(prof.Function, fn)
		}

		loc := &profile.Location{
			ID:      uint64(len(prof.Location)) + 1,
			Address: sub.Low + codeBase,
			Line:    []profile.Line{{Function: fn, Line: int64(fn.StartLine)}},
		}
		prof.Location = append(prof.Location, loc)
		prof.Sample = append(prof.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{1},
		})
	}

	return prof
}
