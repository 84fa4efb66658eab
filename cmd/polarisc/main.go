// SPDX-License-Identifier: Apache-2.0
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/llir/llvm/asm"
	"github.com/tliron/commonlog"

	"polaris/internal/diag"
	"polaris/internal/obfuscate"
	"polaris/internal/passframework"
	"polaris/internal/verify"
)

func main() {
	out := flag.String("o", "", "output path (default: stdout)")
	seedFlag := flag.String("seed", "", "deterministic RNG seed (default: OS entropy)")
	only := flag.String("functions", "", "comma-separated list of function names to transform (default: all)")
	virtualize := flag.Bool("virtualize", false, "opt eligible functions into the virtualization subsystem")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Println("Usage: polarisc [flags] <file.ll>")
		flag.PrintDefaults()
		os.Exit(1)
	}
	path := flag.Arg(0)

	level := 0
	if *verbose {
		level = 1
	}
	commonlog.Configure(level, nil)

	reporter := diag.NewReporter()

	module, err := asm.ParseFile(path)
	if err != nil {
		reporter.Report(diag.Diagnostic{
			Level:    diag.Error,
			Code:     diag.CodeParseFailed,
			Message:  fmt.Sprintf("failed to parse %s: %s", path, err),
			Location: diag.Location{Index: -1},
		})
		fmt.Print(reporter.Format())
		os.Exit(1)
	}

	opts := obfuscate.Options{
		Logger:      passframework.NewCommonLogAdapter("polarisc"),
		Virtualize:  *virtualize,
		Diagnostics: reporter,
	}
	if *seedFlag != "" {
		seed, err := strconv.ParseInt(*seedFlag, 10, 64)
		if err != nil {
			reporter.Report(diag.Diagnostic{
				Level:    diag.Error,
				Code:     diag.CodeInvalidFlag,
				Message:  fmt.Sprintf("invalid -seed %q: %s", *seedFlag, err),
				Location: diag.Location{Index: -1},
			})
			fmt.Print(reporter.Format())
			os.Exit(1)
		}
		opts.Seed = &seed
	}
	if *only != "" {
		selected := make(passframework.Selection)
		for _, name := range strings.Split(*only, ",") {
			selected[strings.TrimSpace(name)] = true
		}
		opts.Selected = selected
	}

	changed, err := obfuscate.Run(module, opts)
	if err != nil {
		reporter.Report(diag.Diagnostic{
			Level:    diag.Error,
			Code:     codeForRunError(err),
			Message:  fmt.Sprintf("obfuscation failed: %s", err),
			Location: diag.Location{Function: path, Index: -1},
		})
		fmt.Print(reporter.Format())
		os.Exit(1)
	}

	rendered := module.String()
	if *out == "" {
		fmt.Print(rendered)
	} else {
		if err := os.WriteFile(*out, []byte(rendered), 0o644); err != nil {
			reporter.Report(diag.Diagnostic{
				Level:    diag.Error,
				Code:     diag.CodeWriteFailed,
				Message:  fmt.Sprintf("failed to write %s: %s", *out, err),
				Location: diag.Location{Index: -1},
			})
			fmt.Print(reporter.Format())
			os.Exit(1)
		}
	}

	if len(reporter.All()) > 0 {
		fmt.Print(reporter.Format())
	}

	if changed {
		color.Green("✅ obfuscated %s", path)
	} else {
		color.Green("✅ %s unchanged (no eligible functions)", path)
	}
}

// codeForRunError picks the diag code range matching what obfuscate.Run
// actually failed on: a *verify.Error after the pipeline succeeded, or a
// pipeline-internal abort otherwise (internal/diag/codes.go's P04xx vs
// P00xx ranges).
func codeForRunError(err error) string {
	if _, ok := err.(*verify.Error); ok {
		return diag.CodeVerificationFailed
	}
	return diag.CodePipelineAborted
}
