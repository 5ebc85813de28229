// Command borgrun loads a rudder Model file and translates-then-executes
// one of its functions, the way wazero's own cmd/wazero loads a %.wasm
// file and runs an exported function -- here over this translator's own
// CBOR Model format (SPEC_FULL.md "MODEL FILE FORMAT") instead.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	borg "github.com/avisi-group/borg-sub001"
	"github.com/avisi-group/borg-sub001/internal/backend/x86"
	"github.com/avisi-group/borg-sub001/internal/execctx"
	"github.com/avisi-group/borg-sub001/internal/rudder"
)

func main() {
	os.Exit(doMain(os.Stdout, os.Stderr))
}

// doMain is separated out for the purpose of unit testing.
func doMain(stdOut, stdErr io.Writer) int {
	flag.CommandLine.SetOutput(stdErr)

	var help bool
	flag.BoolVar(&help, "h", false, "Prints usage.")
	flag.Parse()

	if help || flag.NArg() < 2 {
		printUsage(stdErr)
		if help {
			return 0
		}
		return 1
	}

	return doRun(flag.Arg(0), flag.Arg(1), stdOut, stdErr)
}

func doRun(modelPath, functionName string, stdOut, stdErr io.Writer) int {
	data, err := os.ReadFile(modelPath)
	if err != nil {
		fmt.Fprintln(stdErr, "borgrun:", err)
		return 1
	}

	model := rudder.NewModel()
	if err := model.UnmarshalBinary(data); err != nil {
		fmt.Fprintln(stdErr, "borgrun: decoding model:", err)
		return 1
	}

	fn, ok := model.Function(functionName)
	if !ok {
		fmt.Fprintf(stdErr, "borgrun: model has no function %q\n", functionName)
		return 1
	}

	cfg := x86.Config{MemoryMask: true}
	session, err := borg.NewSession(model, cfg, execctx.Features{})
	if err != nil {
		fmt.Fprintln(stdErr, "borgrun:", err)
		return 1
	}
	defer session.Close()

	result, err := session.Execute(borg.Unit{Function: fn})
	if err != nil {
		fmt.Fprintln(stdErr, "borgrun:", err)
		return 1
	}

	fmt.Fprintf(stdOut, "result=0x%x interrupt_pending=%v\n", result, result&0b10 != 0)
	return 0
}

func printUsage(stdErr io.Writer) {
	fmt.Fprintln(stdErr, "borgrun: translate and execute one function of a rudder Model file")
	fmt.Fprintln(stdErr)
	fmt.Fprintln(stdErr, "Usage:\n  borgrun <path to model file> <function name>")
}
