// rnaflow: dataflow orchestration for RNA-seq sample processing.
// Copyright (c) 2021 imec vzw.

// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version, and Additional Terms
// (see below).

// This program is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.

// You should have received a copy of the GNU Affero General Public
// License and Additional Terms along with this program. If not, see
// <https://github.com/ExaScience/rnaflow/blob/master/LICENSE.txt>.

// rnaflow orchestrates RNA-seq processing. It drives the inputs listed
// in an index file through the alignment and quantification stages,
// and collects every produced artifact in a manifest.
//
// Please see https://github.com/exascience/rnaflow for a documentation
// of the tool.
package main

import (
	"fmt"
	"os"

	"github.com/exascience/rnaflow/cmd"
)

func printHelp() {
	fmt.Fprintln(os.Stderr, "Available commands: run, plan")
	fmt.Fprint(os.Stderr, "\n", cmd.RunHelp)
	fmt.Fprint(os.Stderr, "\n", cmd.PlanHelp)
}

func main() {
	fmt.Fprint(os.Stderr, cmd.ProgramMessage)
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "Incorrect number of parameters.")
		fmt.Fprint(os.Stderr, cmd.HelpMessage)
		printHelp()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = cmd.Run(os.Args[2:])
	case "plan":
		err = cmd.Plan(os.Args[2:])
	case "help", "-help", "--help", "-h", "--h":
		printHelp()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %v.\n", os.Args[1])
		printHelp()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
