package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"dronewatch.eu/core/internal/incident"
	"dronewatch.eu/core/internal/store"
)

// BatchResult tallies one offline consolidation run.
type BatchResult struct {
	Processed    int
	NewIncidents int
	Merged       int
	Rejected     int
	Failed       int
	Groups       int
}

type batchGroup struct {
	key     string
	members []incident.Candidate
}

type batchTally struct {
	mu     sync.Mutex
	result BatchResult
}

func (t *batchTally) add(decision Decision, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.result.Processed++
	switch {
	case errors.Is(err, incident.ErrMalformedCandidate):
		t.result.Rejected++
	case err != nil:
		t.result.Failed++
	case decision.Outcome == store.OutcomeMerged:
		t.result.Merged++
	default:
		t.result.NewIncidents++
	}
}

// Consolidate reprocesses a whole set of candidates at once. Located
// candidates are grouped by spacetime key first; the first member of each
// group goes through the normal tiers and the rest fold straight into the
// incident it landed in, in arrival order. Unlocated candidates can never
// share a key and go through the tiers one by one after the groups.
func (s *Service) Consolidate(ctx context.Context, candidates []incident.Candidate) (BatchResult, error) {
	tally := &batchTally{}
	groups := make([]*batchGroup, 0)
	byKey := make(map[string]*batchGroup)
	var unlocated []incident.Candidate

	for _, raw := range candidates {
		c := s.prepare(raw)
		if err := c.Validate(); err != nil {
			s.reject(ctx, c, err)
			tally.add(Decision{}, err)
			continue
		}
		key := s.normalizer.Spacetime(c)
		if !key.Located {
			unlocated = append(unlocated, c)
			continue
		}
		group, ok := byKey[key.String()]
		if !ok {
			group = &batchGroup{key: key.String()}
			byKey[key.String()] = group
			groups = append(groups, group)
		}
		group.members = append(group.members, c)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.BatchWorkers)
	for _, group := range groups {
		g.Go(func() error {
			return s.consolidateGroup(gctx, group, tally)
		})
	}
	if err := g.Wait(); err != nil {
		return tally.snapshot(len(groups)), fmt.Errorf("consolidate groups: %w", err)
	}

	for _, c := range unlocated {
		if err := ctx.Err(); err != nil {
			return tally.snapshot(len(groups)), err
		}
		decision, err := s.Ingest(ctx, c)
		if err != nil {
			s.logger.Warn().Err(err).Str("title", c.Title).Msg("consolidate unlocated candidate")
		}
		tally.add(decision, err)
	}

	result := tally.snapshot(len(groups))
	s.logger.Info().
		Int("processed", result.Processed).
		Int("groups", result.Groups).
		Int("new_incidents", result.NewIncidents).
		Int("merged", result.Merged).
		Int("rejected", result.Rejected).
		Int("failed", result.Failed).
		Msg("batch consolidation finished")
	return result, nil
}

func (t *batchTally) snapshot(groups int) BatchResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	result := t.result
	result.Groups = groups
	return result
}

// consolidateGroup only returns an error when the context is done; per
// candidate failures are counted.
func (s *Service) consolidateGroup(ctx context.Context, group *batchGroup, tally *batchTally) error {
	target := uuid.Nil
	for _, c := range group.members {
		if err := ctx.Err(); err != nil {
			return err
		}
		if target == uuid.Nil {
			decision, err := s.Ingest(ctx, c)
			tally.add(decision, err)
			if err != nil {
				s.logger.Warn().Err(err).Str("spacetime_key", group.key).Msg("consolidate group leader")
				continue
			}
			target = decision.IncidentID
			continue
		}

		decision, err := s.foldByKey(ctx, c, group.key, target)
		if err != nil {
			s.logger.Warn().Err(err).Str("spacetime_key", group.key).Str("incident_id", target.String()).Msg("fold group member")
		}
		tally.add(decision, err)
	}
	return nil
}

// foldByKey merges a candidate into the incident its spacetime group already
// resolved to, under the same lock the online path uses.
func (s *Service) foldByKey(ctx context.Context, c incident.Candidate, key string, target uuid.UUID) (Decision, error) {
	lockKey := s.normalizer.LockKey(c)
	waitStarted := time.Now()
	release, err := s.locker.Acquire(ctx, lockKey)
	if err != nil {
		return Decision{}, fmt.Errorf("acquire lock %s: %w", lockKey, err)
	}
	defer release()
	s.metrics.LockWait(time.Since(waitStarted))

	decision, err := s.fold(ctx, c, key, s.normalizer.ContentHash(c), Match{
		Incident:   incident.Incident{ID: target},
		Tier:       TierSpacetime,
		Similarity: 1,
		Details:    map[string]any{"signal": "spacetime_key"},
	}, nil)
	if err != nil {
		return Decision{}, err
	}
	s.metrics.Decision(decision.Outcome, decision.Tier)
	return decision, nil
}
