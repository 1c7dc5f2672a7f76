package app

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"dronewatch.eu/core/internal/cli"
	"dronewatch.eu/core/internal/ingest"
	"dronewatch.eu/core/internal/logging"
)

func runConsolidate(args []string) int {
	fs := flag.NewFlagSet("consolidate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envFile := cli.AddEnvFlag(fs, ".env")
	timeout := fs.Duration("timeout", 30*time.Minute, "Command timeout")
	dir := fs.String("dir", "testdata/candidates", "Directory containing .json candidate files")
	recursive := fs.Bool("recursive", true, "Recursively scan subdirectories")
	origin := fs.String("origin", "consolidate_cli", "Origin recorded on the ingest run")

	cfg, logger, code := bootstrap(fs, envFile, args)
	if code >= 0 {
		return code
	}

	files, err := collectJSONFiles(strings.TrimSpace(*dir), *recursive)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Consolidate setup failed: %v\n", err)
		return 1
	}
	payload, err := concatPayloads(files)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Consolidate setup failed: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rt, err := openPipeline(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("consolidate setup failed")
		fmt.Fprintf(os.Stderr, "Consolidate setup failed: %v\n", err)
		return 1
	}
	defer rt.Close()

	svc := ingest.NewService(rt.pipeline, rt.backend, logging.Component(logger, "ingest"))
	result, err := svc.IngestPayload(ctx, ingest.Request{
		Origin:  strings.TrimSpace(*origin),
		Mode:    ingest.ModeBatch,
		Payload: payload,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Consolidate failed: %v\n", err)
		return 1
	}

	printResult("consolidate", result)
	fmt.Printf("consolidate files=%d groups=%d\n", len(files), result.Groups)
	return 0
}

// concatPayloads merges files holding one candidate or an array of them into
// a single array, keeping file order. Files that are not JSON stay in as raw
// strings so the schema rejects them with the others.
func concatPayloads(files []string) ([]byte, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("no .json files found")
	}

	elements := make([]json.RawMessage, 0, len(files))
	for _, path := range files {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		trimmed := bytes.TrimSpace(raw)
		if bytes.HasPrefix(trimmed, []byte("[")) {
			var batch []json.RawMessage
			if err := json.Unmarshal(trimmed, &batch); err == nil {
				elements = append(elements, batch...)
				continue
			}
		}
		if json.Valid(trimmed) {
			elements = append(elements, json.RawMessage(trimmed))
			continue
		}
		quoted, err := json.Marshal(string(trimmed))
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", path, err)
		}
		elements = append(elements, quoted)
	}
	return json.Marshal(elements)
}
