// Command scanop builds and evaluates loops described by JSON scan definitions.
//
//	scanop run      [flags] <definition.json|->
//	scanop describe [flags] <definition.json|->
//	scanop validate <definition.json|->
//	scanop version
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/rendis/scanop/internal/definition"
	"github.com/rendis/scanop/internal/logging"
	"github.com/rendis/scanop/internal/query"
	"github.com/rendis/scanop/pkg/scan"
	"github.com/rendis/scanop/pkg/schema"
)

const usage = `usage: scanop <command> [flags] <definition.json|->

commands:
  run       build the loop and print its evaluated outputs and cell updates
  describe  build the loop and print its configuration and signatures
  validate  check a definition against the schema
  version   print the version
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr, loadConfig()))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer, cfg Config) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "run", "describe":
		return runBuild(cmd, rest, stdin, stdout, stderr, cfg)
	case "validate":
		return runValidate(rest, stdin, stdout, stderr)
	case "version", "--version":
		printVersion(stdout)
		return 0
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}
}

func runBuild(cmd string, args []string, stdin io.Reader, stdout, stderr io.Writer, cfg Config) int {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(stderr)
	dialect := fs.String("dialect", cfg.Dialect, "step dialect when the definition names none: expr, cel")
	logLevel := fs.String("log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	logFormat := fs.String("log-format", cfg.LogFormat, "log format: text, json")
	pretty := fs.Bool("pretty", cfg.Pretty, "indent JSON output")
	testValues := fs.String("test-values", string(scan.TestValuesOff), "debug sample values: off, ignore, warn")
	jq := fs.String("query", "", "jq expression applied to the report")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintf(stderr, "%s: expected one definition path\n", cmd)
		return 2
	}
	cfg.Dialect, cfg.LogLevel, cfg.LogFormat, cfg.Pretty = *dialect, *logLevel, *logFormat, *pretty

	mode := scan.TestValueMode(*testValues)
	switch mode {
	case scan.TestValuesOff, scan.TestValuesIgnore, scan.TestValuesWarn:
	default:
		fmt.Fprintf(stderr, "%s: invalid -test-values %q\n", cmd, *testValues)
		return 2
	}

	def, err := readDefinition(fs.Arg(0), stdin)
	if err != nil {
		return fail(stderr, err)
	}

	logger := newLogger(cfg, stderr)
	ctx := logging.WithCommand(context.Background(), cmd)
	built, err := definition.Build(ctx, def, definition.Options{Dialect: cfg.Dialect, TestValues: mode, Logger: logger})
	if err != nil {
		return fail(stderr, err)
	}

	var report any
	if cmd == "describe" {
		report = definition.Describe(built)
	} else {
		rep, err := definition.Run(built)
		if err != nil {
			return fail(stderr, err)
		}
		report = rep
	}
	return emit(ctx, stdout, stderr, report, *jq, cfg.Pretty)
}

func runValidate(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "validate: expected one definition path")
		return 2
	}
	if _, err := readDefinition(fs.Arg(0), stdin); err != nil {
		return fail(stderr, err)
	}
	fmt.Fprintln(stdout, "ok")
	return 0
}

func readDefinition(path string, stdin io.Reader) (*schema.Definition, error) {
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "cannot read definition: %s", err.Error()).WithCause(err)
	}
	v, err := definition.NewValidator()
	if err != nil {
		return nil, err
	}
	return v.Decode(raw)
}

func emit(ctx context.Context, stdout, stderr io.Writer, report any, jq string, pretty bool) int {
	doc, err := definition.Document(report)
	if err != nil {
		return fail(stderr, err)
	}
	out, err := query.New().Apply(ctx, jq, doc)
	if err != nil {
		return fail(stderr, err)
	}
	enc := json.NewEncoder(stdout)
	if pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(out); err != nil {
		return fail(stderr, err)
	}
	return 0
}

// fail prints err as JSON on stderr. Structured errors keep their code and details.
func fail(stderr io.Writer, err error) int {
	var se *schema.ScanError
	if !errors.As(err, &se) {
		se = schema.NewError(schema.ErrCodeEvaluation, err.Error())
	}
	data, _ := json.Marshal(map[string]any{"error": se})
	fmt.Fprintln(stderr, string(data))
	return 1
}
