package app

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"dronewatch.eu/core/internal/cli"
	"dronewatch.eu/core/internal/ingest"
	"dronewatch.eu/core/internal/logging"
)

func runIngest(args []string) int {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envFile := cli.AddEnvFlag(fs, ".env")
	timeout := fs.Duration("timeout", 2*time.Minute, "Command timeout")
	payload := fs.String("payload", "", "Candidate JSON (one object or an array)")
	payloadFile := fs.String("payload-file", "", "Path to a candidate JSON file, or - for stdin (overrides --payload)")
	mode := fs.String("mode", ingest.ModeStream, "Matching mode: stream or batch")
	origin := fs.String("origin", "manual_cli", "Origin recorded on the ingest run")
	printDecisions := fs.Bool("decisions", false, "Print one line per decided candidate")

	cfg, logger, code := bootstrap(fs, envFile, args)
	if code >= 0 {
		return code
	}

	payloadJSON, err := loadJSONInput(*payload, *payloadFile, "payload", os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid payload: %v\n", err)
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rt, err := openPipeline(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("ingest setup failed")
		fmt.Fprintf(os.Stderr, "Ingest setup failed: %v\n", err)
		return 1
	}
	defer rt.Close()

	svc := ingest.NewService(rt.pipeline, rt.backend, logging.Component(logger, "ingest"))
	result, err := svc.IngestPayload(ctx, ingest.Request{
		Origin:  strings.TrimSpace(*origin),
		Mode:    *mode,
		Payload: payloadJSON,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
		return 1
	}

	printResult("ingest", result)
	if *printDecisions {
		for _, decision := range result.Decisions {
			fmt.Printf(
				"decision outcome=%s tier=%s incident_id=%s evidence=%d sources=%d\n",
				decision.Outcome,
				decision.Tier,
				decision.IncidentID,
				decision.EvidenceScore,
				decision.SourceCount,
			)
		}
	}
	return 0
}

func printResult(command string, result ingest.Result) {
	fmt.Printf(
		"%s run_id=%s status=%s processed=%d new_incidents=%d merged=%d rejected=%d failed=%d\n",
		command,
		result.RunID,
		result.Status,
		result.Processed,
		result.NewIncidents,
		result.Merged,
		result.Rejected,
		result.Failed,
	)
}

func loadJSONInput(inlineValue, filePath, label string, stdin io.Reader) (json.RawMessage, error) {
	if path := strings.TrimSpace(filePath); path != "" {
		var (
			payload []byte
			err     error
		)
		if path == "-" {
			payload, err = io.ReadAll(stdin)
		} else {
			payload, err = os.ReadFile(path)
		}
		if err != nil {
			return nil, fmt.Errorf("read %s file %q: %w", label, path, err)
		}
		trimmed := strings.TrimSpace(string(payload))
		if trimmed == "" {
			return nil, fmt.Errorf("%s file %q is empty", label, path)
		}
		return json.RawMessage(trimmed), nil
	}

	trimmed := strings.TrimSpace(inlineValue)
	if trimmed == "" {
		return nil, fmt.Errorf("%s JSON is empty", label)
	}
	return json.RawMessage(trimmed), nil
}
