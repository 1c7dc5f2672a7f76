package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "validate":
		return runValidate(args[1:])
	case "ingest":
		return runIngest(args[1:])
	case "consolidate":
		return runConsolidate(args[1:])
	case "consume":
		return runConsume(args[1:])
	case "enqueue":
		return runEnqueue(args[1:])
	case "serve":
		return runServe(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "dronewatch CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  dronewatch <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health       Verify store connectivity")
	fmt.Fprintln(os.Stderr, "  validate     Validate candidate JSON files against the v1 schema")
	fmt.Fprintln(os.Stderr, "  ingest       Match candidates one by one and fold or create incidents")
	fmt.Fprintln(os.Stderr, "  consolidate  Consolidate a directory of candidates in batch mode")
	fmt.Fprintln(os.Stderr, "  consume      Ingest candidates from the Redis queue")
	fmt.Fprintln(os.Stderr, "  enqueue      Push candidate files onto the Redis queue")
	fmt.Fprintln(os.Stderr, "  serve        Start the incident API")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"dronewatch <command> -h\" for command-specific flags.")
}
