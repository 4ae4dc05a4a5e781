package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"reelsmith/internal/batch"
	"reelsmith/internal/episode"
	"reelsmith/internal/generation"
)

// RecordBatch implements batch.Recorder. Batches started outside an episode
// are keyed by their own id. Completed, freshly generated jobs are also
// remembered for cache priming.
func (s *Store) RecordBatch(ctx context.Context, snap batch.Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode batch %s: %w", snap.ID, err)
	}
	key := snap.EpisodeID
	if key == "" {
		key = snap.ID
	}
	if err := s.Put(ctx, Document{
		Kind:      KindBatch,
		EpisodeID: key,
		DocID:     snap.ID,
		Status:    string(snap.Status),
		Body:      body,
	}); err != nil {
		return err
	}
	for _, job := range snap.Jobs {
		if job == nil || job.Status != generation.StatusCompleted || job.Cached {
			continue
		}
		if err := s.rememberJob(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

// Batch returns the last recorded snapshot of a batch, or nil.
func (s *Store) Batch(ctx context.Context, batchID string) (*batch.Snapshot, error) {
	doc, err := s.FindByDocID(ctx, KindBatch, batchID)
	if err != nil || doc == nil {
		return nil, err
	}
	var snap batch.Snapshot
	if err := json.Unmarshal(doc.Body, &snap); err != nil {
		return nil, fmt.Errorf("decode batch %s: %w", batchID, err)
	}
	return &snap, nil
}

// Batches returns every recorded batch, most recent first.
func (s *Store) Batches(ctx context.Context) ([]batch.Snapshot, error) {
	docs, err := s.List(ctx, KindBatch)
	if err != nil {
		return nil, err
	}
	out := make([]batch.Snapshot, 0, len(docs))
	for _, doc := range docs {
		var snap batch.Snapshot
		if err := json.Unmarshal(doc.Body, &snap); err != nil {
			return nil, fmt.Errorf("decode batch %s: %w", doc.DocID, err)
		}
		out = append(out, snap)
	}
	return out, nil
}

// LoadState implements episode.StateStore.
func (s *Store) LoadState(ctx context.Context, episodeID string) (*episode.State, error) {
	doc, err := s.Get(ctx, KindComposition, episodeID)
	if err != nil || doc == nil {
		return nil, err
	}
	var state episode.State
	if err := json.Unmarshal(doc.Body, &state); err != nil {
		return nil, fmt.Errorf("decode composition %s: %w", episodeID, err)
	}
	return &state, nil
}

// SaveState implements episode.StateStore.
func (s *Store) SaveState(ctx context.Context, state *episode.State) error {
	if state == nil {
		return nil
	}
	body, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode composition %s: %w", state.EpisodeID, err)
	}
	return s.Put(ctx, Document{
		Kind:      KindComposition,
		EpisodeID: state.EpisodeID,
		Status:    string(state.Status),
		Body:      body,
		CreatedAt: state.StartedAt,
	})
}

// States returns every composition state, most recent first.
func (s *Store) States(ctx context.Context) ([]*episode.State, error) {
	docs, err := s.List(ctx, KindComposition)
	if err != nil {
		return nil, err
	}
	out := make([]*episode.State, 0, len(docs))
	for _, doc := range docs {
		var state episode.State
		if err := json.Unmarshal(doc.Body, &state); err != nil {
			return nil, fmt.Errorf("decode composition %s: %w", doc.EpisodeID, err)
		}
		out = append(out, &state)
	}
	return out, nil
}

func (s *Store) rememberJob(ctx context.Context, job *generation.Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	completed := s.now()
	if job.CompletedAt != nil && !job.CompletedAt.IsZero() {
		completed = job.CompletedAt.UTC()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO completed_jobs (request_key, job_id, provider_id, body, completed_at)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT (request_key) DO UPDATE SET
             job_id = excluded.job_id,
             provider_id = excluded.provider_id,
             body = excluded.body,
             completed_at = excluded.completed_at`,
		job.Request.Key(), job.ID, job.ProviderID, string(body), completed.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("remember job %s: %w", job.ID, err)
	}
	return nil
}

// CompletedJobs returns remembered jobs for batch.Manager.Prime.
func (s *Store) CompletedJobs(ctx context.Context) ([]*generation.Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM completed_jobs ORDER BY completed_at`)
	if err != nil {
		return nil, fmt.Errorf("list completed jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*generation.Job
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan completed job: %w", err)
		}
		var job generation.Job
		if err := json.Unmarshal([]byte(body), &job); err != nil {
			return nil, fmt.Errorf("decode completed job: %w", err)
		}
		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}
