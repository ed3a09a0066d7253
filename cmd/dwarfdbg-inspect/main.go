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

// dwarfdbg-inspect is an interactive command-line front end for the
// dwarfdbg engine, backed by a StaticMemoryHost built from the module's own
// Data section instead of a running wasm instance: it exercises every
// query in the engine's surface against a module file on disk.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/stealthrocket/dwarfdbg"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type program struct {
	filePath     string
	codeBase     uint64
	dataBase     uint64
	autoCodeBase bool
	autoDataBase bool
	directoryMap []string
}

func run() error {
	prog := &program{}

	var codeBase, dataBase int64
	pflag.Int64Var(&codeBase, "code-base", -1, "Relocation base for code addresses (default: scan the module's Code section).")
	pflag.Int64Var(&dataBase, "data-base", -1, "Relocation base for data addresses (default: scan the module's Data section).")
	pflag.StringArrayVar(&prog.directoryMap, "set-directory-map", nil, "from=to directory remap rule, repeatable.")
	pflag.Parse()

	if pflag.NArg() != 1 {
		return fmt.Errorf("usage: dwarfdbg-inspect [flags] <wasm-file>")
	}
	prog.filePath = pflag.Arg(0)

	if codeBase < 0 {
		prog.autoCodeBase = true
	} else {
		prog.codeBase = uint64(codeBase)
	}
	if dataBase < 0 {
		prog.autoDataBase = true
	} else {
		prog.dataBase = uint64(dataBase)
	}

	return prog.run(context.Background())
}

func (prog *program) run(ctx context.Context) error {
	wasmBytes, err := os.ReadFile(prog.filePath)
	if err != nil {
		return fmt.Errorf("reading wasm module: %w", err)
	}

	if prog.autoCodeBase {
		if base, ok := dwarfdbg.ScanCodeSectionBase(wasmBytes); ok {
			prog.codeBase = base
		}
	}
	if prog.autoDataBase {
		if base, ok := dwarfdbg.ScanDataSectionBase(wasmBytes); ok {
			prog.dataBase = base
		}
	}

	engine, err := dwarfdbg.New(ctx, wasmBytes, prog.codeBase, prog.dataBase)
	if err != nil {
		return fmt.Errorf("building engine: %w", err)
	}

	for _, rule := range prog.directoryMap {
		from, to, ok := strings.Cut(rule, "=")
		if !ok {
			return fmt.Errorf("malformed --set-directory-map rule %q, want from=to", rule)
		}
		engine.SetDirectoryMap(from, to)
	}

	host, err := dwarfdbg.NewStaticMemoryHost(wasmBytes)
	if err != nil {
		return fmt.Errorf("reconstructing static memory: %w", err)
	}

	return prog.repl(engine, host, os.Stdin, os.Stdout)
}

// repl drives a tiny line-oriented command loop:
//
//	line <offset>                 find_file_info_from_address
//	addr <file> <line>            find_address_from_file_info
//	vars <offset>                 variable_name_list
//	globals <offset>              global_variable_name_list
//	var <name> <offset>           get_variable_info, evaluated against host
//	quit
func (prog *program) repl(engine *dwarfdbg.Engine, host *dwarfdbg.StaticMemoryHost, in *os.File, out *os.File) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "dwarfdbg> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "quit", "exit":
			return nil

		case "line":
			if len(fields) != 2 {
				fmt.Fprintln(out, "usage: line <offset>")
				continue
			}
			offset, err := strconv.ParseUint(fields[1], 0, 64)
			if err != nil {
				fmt.Fprintln(out, err)
				continue
			}
			li, ok := engine.FindFileInfoFromAddress(offset)
			if !ok {
				fmt.Fprintln(out, "not found")
				continue
			}
			fmt.Fprintf(out, "%s:%d\n", li.File, li.Line)

		case "addr":
			if len(fields) != 3 {
				fmt.Fprintln(out, "usage: addr <file> <line>")
				continue
			}
			line, err := strconv.Atoi(fields[2])
			if err != nil {
				fmt.Fprintln(out, err)
				continue
			}
			addr, ok := engine.FindAddressFromFileInfo(dwarfdbg.WasmLineInfo{File: fields[1], Line: line})
			if !ok {
				fmt.Fprintln(out, "not found")
				continue
			}
			fmt.Fprintf(out, "0x%x\n", addr)

		case "vars":
			if len(fields) != 2 {
				fmt.Fprintln(out, "usage: vars <offset>")
				continue
			}
			offset, err := strconv.ParseUint(fields[1], 0, 64)
			if err != nil {
				fmt.Fprintln(out, err)
				continue
			}
			names, ok := engine.VariableNameList(offset)
			if !ok {
				fmt.Fprintln(out, "not found")
				continue
			}
			printVariableNames(out, names)

		case "globals":
			if len(fields) != 2 {
				fmt.Fprintln(out, "usage: globals <offset>")
				continue
			}
			offset, err := strconv.ParseUint(fields[1], 0, 64)
			if err != nil {
				fmt.Fprintln(out, err)
				continue
			}
			names, ok := engine.GlobalVariableNameList(offset)
			if !ok {
				fmt.Fprintln(out, "not found")
				continue
			}
			printVariableNames(out, names)

		case "var":
			if len(fields) != 3 {
				fmt.Fprintln(out, "usage: var <name> <offset>")
				continue
			}
			offset, err := strconv.ParseUint(fields[2], 0, 64)
			if err != nil {
				fmt.Fprintln(out, err)
				continue
			}
			info, ok := engine.GetVariableInfo(fields[1], nil, nil, nil, offset)
			if !ok {
				fmt.Fprintln(out, "not found")
				continue
			}
			value, ok := host.Evaluate(info)
			if !ok {
				fmt.Fprintln(out, "could not evaluate")
				continue
			}
			fmt.Fprintln(out, value)

		default:
			fmt.Fprintf(out, "unknown command %q\n", fields[0])
		}
	}
}

func printVariableNames(out *os.File, names []dwarfdbg.VariableName) {
	for _, n := range names {
		child := ""
		if n.ChildGroupID != nil {
			child = fmt.Sprintf(" child_group=%d", *n.ChildGroupID)
		}
		fmt.Fprintf(out, "  [%d]%s %s %s\n", n.GroupID, child, n.TypeName, n.DisplayName)
	}
}
