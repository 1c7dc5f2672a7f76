// Package ingest feeds candidate payloads from files, stdin or a queue into
// the matching pipeline and keeps the run ledger.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"dronewatch.eu/core/internal/globaltime"
	"dronewatch.eu/core/internal/incident"
	"dronewatch.eu/core/internal/pipeline"
	"dronewatch.eu/core/internal/queue"
	"dronewatch.eu/core/internal/store"
	payloadschema "dronewatch.eu/core/schema"
)

const maxIngestErrorLength = 4000

const (
	ModeStream = "stream"
	ModeBatch  = "batch"
	ModeQueue  = "queue"
)

// Pipeline is the part of pipeline.Service the runner drives.
type Pipeline interface {
	Ingest(ctx context.Context, c incident.Candidate) (pipeline.Decision, error)
	Consolidate(ctx context.Context, candidates []incident.Candidate) (pipeline.BatchResult, error)
}

// Queue is a source of raw payloads with somewhere to park the bad ones.
type Queue interface {
	Pop(ctx context.Context) ([]byte, error)
	DeadLetter(ctx context.Context, kind string, payload []byte, cause error) error
}

type Service struct {
	pipeline Pipeline
	ledger   store.RunLedger
	logger   zerolog.Logger
}

type Request struct {
	Origin  string
	Mode    string
	Payload []byte
}

type ConsumeOptions struct {
	Origin string
	// Drain stops the consumer the first time the queue is empty.
	Drain       bool
	MaxMessages int
}

type Result struct {
	RunID        uuid.UUID
	Status       string
	Messages     int
	Processed    int
	NewIncidents int
	Merged       int
	Rejected     int
	Failed       int
	Groups       int
	Decisions    []pipeline.Decision
}

// NewService builds a runner. The ledger may be nil, in which case runs are
// not recorded.
func NewService(p Pipeline, ledger store.RunLedger, logger zerolog.Logger) *Service {
	return &Service{
		pipeline: p,
		ledger:   ledger,
		logger:   logger,
	}
}

// IngestPayload decodes a payload holding one candidate or an array of them
// and runs it through the pipeline. Stream mode decides candidates one by one
// in payload order; batch mode consolidates the whole set.
func (s *Service) IngestPayload(ctx context.Context, req Request) (Result, error) {
	if s == nil || s.pipeline == nil {
		return Result{}, fmt.Errorf("ingest service is not initialized")
	}
	mode := strings.ToLower(strings.TrimSpace(req.Mode))
	if mode == "" {
		mode = ModeStream
	}
	if mode != ModeStream && mode != ModeBatch {
		return Result{}, fmt.Errorf("unsupported ingest mode %q", req.Mode)
	}

	run, err := s.startRun(ctx, req.Origin, mode)
	if err != nil {
		return Result{}, err
	}
	result := Result{RunID: run.ID, Messages: 1}

	decoded, err := payloadschema.DecodeCandidates(req.Payload)
	if err != nil {
		err = fmt.Errorf("%w: %v", incident.ErrMalformedCandidate, err)
		result.Rejected++
		return s.finish(ctx, run, result, err)
	}

	valid := make([]incident.Candidate, 0, len(decoded))
	for _, element := range decoded {
		if element.Err != nil {
			result.Processed++
			result.Rejected++
			s.logger.Warn().Err(element.Err).Int("index", element.Index).Msg("candidate rejected by schema")
			continue
		}
		valid = append(valid, element.Candidate)
	}

	switch mode {
	case ModeBatch:
		batch, err := s.pipeline.Consolidate(ctx, valid)
		result.Processed += batch.Processed
		result.NewIncidents += batch.NewIncidents
		result.Merged += batch.Merged
		result.Rejected += batch.Rejected
		result.Failed += batch.Failed
		result.Groups = batch.Groups
		if err != nil {
			return s.finish(ctx, run, result, fmt.Errorf("consolidate: %w", err))
		}
	default:
		for _, candidate := range valid {
			if err := ctx.Err(); err != nil {
				return s.finish(ctx, run, result, err)
			}
			decision, err := s.pipeline.Ingest(ctx, candidate)
			result.tally(decision, err)
			if err != nil && !errors.Is(err, incident.ErrMalformedCandidate) {
				s.logger.Error().Err(err).Str("title", candidate.Title).Msg("candidate failed")
			}
		}
	}

	return s.finish(ctx, run, result, nil)
}

// Consume pops payloads until ctx is cancelled, MaxMessages is reached, or
// the queue runs dry in drain mode. Malformed payloads go to the rejected
// list; candidates the pipeline could not store go to the failed list so they
// can be replayed.
func (s *Service) Consume(ctx context.Context, q Queue, opts ConsumeOptions) (Result, error) {
	if s == nil || s.pipeline == nil {
		return Result{}, fmt.Errorf("ingest service is not initialized")
	}
	if q == nil {
		return Result{}, fmt.Errorf("queue is required")
	}

	run, err := s.startRun(ctx, opts.Origin, ModeQueue)
	if err != nil {
		return Result{}, err
	}
	result := Result{RunID: run.ID}

	for {
		if ctx.Err() != nil {
			return s.finish(ctx, run, result, nil)
		}
		if opts.MaxMessages > 0 && result.Messages >= opts.MaxMessages {
			return s.finish(ctx, run, result, nil)
		}

		payload, err := q.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return s.finish(ctx, run, result, nil)
			}
			return s.finish(ctx, run, result, fmt.Errorf("pop payload: %w", err))
		}
		if payload == nil {
			if opts.Drain {
				return s.finish(ctx, run, result, nil)
			}
			continue
		}
		result.Messages++
		s.consumeOne(ctx, q, payload, &result)
	}
}

func (s *Service) consumeOne(ctx context.Context, q Queue, payload []byte, result *Result) {
	decoded, err := payloadschema.DecodeCandidates(payload)
	if err != nil {
		result.Processed++
		result.Rejected++
		s.deadLetter(ctx, q, queue.DeadLetterRejected, payload, err)
		return
	}

	for _, element := range decoded {
		if element.Err != nil {
			result.Processed++
			result.Rejected++
			s.deadLetter(ctx, q, queue.DeadLetterRejected, element.Raw, element.Err)
			continue
		}
		decision, err := s.pipeline.Ingest(ctx, element.Candidate)
		result.tally(decision, err)
		switch {
		case err == nil:
		case errors.Is(err, incident.ErrMalformedCandidate):
			s.deadLetter(ctx, q, queue.DeadLetterRejected, element.Raw, err)
		default:
			s.deadLetter(ctx, q, queue.DeadLetterFailed, element.Raw, err)
		}
	}
}

func (s *Service) deadLetter(ctx context.Context, q Queue, kind string, payload []byte, cause error) {
	s.logger.Warn().Err(cause).Str("dead_letter", kind).Msg("payload parked")
	// Parking must survive the cancellation that may have caused the failure.
	if err := q.DeadLetter(context.WithoutCancel(ctx), kind, payload, cause); err != nil {
		s.logger.Error().Err(err).Str("dead_letter", kind).Msg("failed to park payload")
	}
}

func (r *Result) tally(decision pipeline.Decision, err error) {
	r.Processed++
	switch {
	case errors.Is(err, incident.ErrMalformedCandidate):
		r.Rejected++
		return
	case err != nil:
		r.Failed++
		return
	case decision.Outcome == store.OutcomeMerged:
		r.Merged++
	default:
		r.NewIncidents++
	}
	r.Decisions = append(r.Decisions, decision)
}

func (s *Service) startRun(ctx context.Context, origin, mode string) (store.IngestRun, error) {
	run := store.IngestRun{
		ID:        uuid.New(),
		Origin:    normalizeOrigin(origin),
		Mode:      mode,
		Status:    store.RunStatusRunning,
		StartedAt: globaltime.UTC(),
	}
	if s.ledger == nil {
		return run, nil
	}
	started, err := s.ledger.StartRun(ctx, run)
	if err != nil {
		return store.IngestRun{}, fmt.Errorf("insert ingest run: %w", err)
	}
	return started, nil
}

func (s *Service) finish(ctx context.Context, run store.IngestRun, result Result, runErr error) (Result, error) {
	finishedAt := globaltime.UTC()
	run.FinishedAt = &finishedAt
	run.Processed = result.Processed
	run.NewIncidents = result.NewIncidents
	run.Merged = result.Merged
	run.Rejected = result.Rejected
	run.Failed = result.Failed
	run.Status = store.RunStatusCompleted
	if runErr != nil {
		run.Status = store.RunStatusFailed
		run.Error = truncateError(runErr.Error())
	}
	result.Status = run.Status

	if s.ledger != nil {
		if err := s.ledger.FinishRun(context.WithoutCancel(ctx), run); err != nil {
			if runErr != nil {
				return result, fmt.Errorf("ingest failed (%v); failed to mark run failed: %w", runErr, err)
			}
			return result, fmt.Errorf("mark ingest run completed: %w", err)
		}
	}

	s.logger.Info().
		Str("run_id", run.ID.String()).
		Str("mode", run.Mode).
		Str("status", run.Status).
		Int("processed", result.Processed).
		Int("new_incidents", result.NewIncidents).
		Int("merged", result.Merged).
		Int("rejected", result.Rejected).
		Int("failed", result.Failed).
		Msg("ingest run finished")

	return result, runErr
}

func normalizeOrigin(origin string) string {
	trimmed := strings.TrimSpace(origin)
	if trimmed == "" {
		return "manual_cli"
	}
	return trimmed
}

func truncateError(message string) string {
	if len(message) <= maxIngestErrorLength {
		return message
	}
	return message[:maxIngestErrorLength]
}
