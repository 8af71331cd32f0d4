package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sqlc-dev/pqtype"

	"bricksmith/internal/model"
)

// Store wraps access to the Postgres database. The jobs table is the
// single source of truth for job lifecycle state; every status or stage
// writer must go through CompareAndUpdateJob so concurrent writers (the
// result consumer racing a cancel) cannot lose updates.
type Store struct {
	DB *sql.DB
}

// New creates a new Store that uses a shared *sql.DB with pooling.
func New(database *sql.DB) *Store {
	return &Store{DB: database}
}

const jobColumns = `id, owner_id, status, stage, requested_from_stage,
	level, source_image_url, title, language, budget,
	result_refs, suggested_tags, usage_tokens, usage_est_cost,
	error_message, deleted, reported, stage_updated_at, created_at, updated_at`

// CreateJob inserts a new job row.
func (s *Store) CreateJob(ctx context.Context, j model.Job) error {
	refs, err := marshalRefs(j.ResultRefs)
	if err != nil {
		return err
	}
	tags, err := marshalTags(j.SuggestedTags)
	if err != nil {
		return err
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		        $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		j.ID, j.OwnerID, string(j.Status), string(j.Stage), stagePtr(j.RequestedFromStage),
		j.Level, j.SourceImageURL, nullStr(j.Title), nullStr(j.Language), j.Budget,
		refs, tags, usageTokens(j.Usage), usageEstCost(j.Usage),
		nullStr(j.ErrorMessage), j.Deleted, j.Reported, j.StageUpdatedAt, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJobByID fetches one job. Returns sql.ErrNoRows when absent.
func (s *Store) GetJobByID(ctx context.Context, id uuid.UUID) (model.Job, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

// CompareAndUpdateJob atomically applies fn to the current row. The row is
// locked for the duration; fn receives the current snapshot and returns
// the updated job plus true to commit, or false to leave the row
// untouched. The returned bool reports whether a write happened; on a
// false return the returned job is the unchanged current state.
//
// This is the only legal way to mutate lifecycle fields: the predicate
// inside fn is what makes result application idempotent and lets
// cancellation win races against late results.
func (s *Store) CompareAndUpdateJob(ctx context.Context, id uuid.UUID, fn func(model.Job) (model.Job, bool)) (model.Job, bool, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return model.Job{}, false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id)
	current, err := scanJob(row)
	if err != nil {
		return model.Job{}, false, err
	}

	updated, commit := fn(current)
	if !commit {
		return current, false, nil
	}

	refs, err := marshalRefs(updated.ResultRefs)
	if err != nil {
		return model.Job{}, false, err
	}
	tags, err := marshalTags(updated.SuggestedTags)
	if err != nil {
		return model.Job{}, false, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE jobs SET
			status = $2, stage = $3, requested_from_stage = $4,
			result_refs = $5, suggested_tags = $6,
			usage_tokens = $7, usage_est_cost = $8,
			error_message = $9, deleted = $10, reported = $11,
			stage_updated_at = $12, updated_at = $13
		WHERE id = $1`,
		id, string(updated.Status), string(updated.Stage), stagePtr(updated.RequestedFromStage),
		refs, tags, usageTokens(updated.Usage), usageEstCost(updated.Usage),
		nullStr(updated.ErrorMessage), updated.Deleted, updated.Reported,
		updated.StageUpdatedAt, updated.UpdatedAt,
	)
	if err != nil {
		return model.Job{}, false, fmt.Errorf("update job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.Job{}, false, fmt.Errorf("commit: %w", err)
	}
	return updated, true, nil
}

// JobListFilter controls ListJobs. An empty OwnerID lists across owners
// (admin surface only).
type JobListFilter struct {
	OwnerID        string
	Status         string
	IncludeDeleted bool
	Limit          int32
	Offset         int32
}

// ListJobs returns jobs newest first.
func (s *Store) ListJobs(ctx context.Context, f JobListFilter) ([]model.Job, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE ($1 = '' OR owner_id = $1)
		  AND ($2 = '' OR status = $2)
		  AND ($3 OR NOT deleted)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5`,
		f.OwnerID, f.Status, f.IncludeDeleted, f.Limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// ListStaleQueuedJobs returns jobs stuck in QUEUED with no stage movement
// since cutoff. A non-empty result usually means a dispatch was lost
// (store write succeeded, queue publish failed); an external sweep decides
// whether to re-publish or fail them.
func (s *Store) ListStaleQueuedJobs(ctx context.Context, cutoff time.Time, limit int32) ([]model.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = $1 AND stage_updated_at < $2 AND NOT deleted
		ORDER BY stage_updated_at ASC
		LIMIT $3`,
		string(model.StatusQueued), cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (model.Job, error) {
	var (
		j         model.Job
		status    string
		stage     string
		fromStage sql.NullString
		title     sql.NullString
		language  sql.NullString
		refs      pqtype.NullRawMessage
		tags      pqtype.NullRawMessage
		tokens    sql.NullInt32
		estCost   sql.NullFloat64
		errMsg    sql.NullString
	)
	err := row.Scan(
		&j.ID, &j.OwnerID, &status, &stage, &fromStage,
		&j.Level, &j.SourceImageURL, &title, &language, &j.Budget,
		&refs, &tags, &tokens, &estCost,
		&errMsg, &j.Deleted, &j.Reported, &j.StageUpdatedAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return model.Job{}, err
	}

	j.Status = model.Status(status)
	j.Stage = model.Stage(stage)
	if fromStage.Valid {
		st := model.Stage(fromStage.String)
		j.RequestedFromStage = &st
	}
	j.Title = title.String
	j.Language = language.String
	j.ErrorMessage = errMsg.String
	if refs.Valid {
		if err := json.Unmarshal(refs.RawMessage, &j.ResultRefs); err != nil {
			return model.Job{}, fmt.Errorf("decode result_refs: %w", err)
		}
	}
	if tags.Valid {
		if err := json.Unmarshal(tags.RawMessage, &j.SuggestedTags); err != nil {
			return model.Job{}, fmt.Errorf("decode suggested_tags: %w", err)
		}
	}
	if tokens.Valid || estCost.Valid {
		j.Usage = &model.Usage{Tokens: int(tokens.Int32), EstCost: estCost.Float64}
	}
	return j, nil
}

func collectJobs(rows *sql.Rows) ([]model.Job, error) {
	var out []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func marshalRefs(refs map[string]string) (pqtype.NullRawMessage, error) {
	if len(refs) == 0 {
		return pqtype.NullRawMessage{}, nil
	}
	b, err := json.Marshal(refs)
	if err != nil {
		return pqtype.NullRawMessage{}, fmt.Errorf("encode result_refs: %w", err)
	}
	return pqtype.NullRawMessage{RawMessage: b, Valid: true}, nil
}

func marshalTags(tags []string) (pqtype.NullRawMessage, error) {
	if len(tags) == 0 {
		return pqtype.NullRawMessage{}, nil
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return pqtype.NullRawMessage{}, fmt.Errorf("encode suggested_tags: %w", err)
	}
	return pqtype.NullRawMessage{RawMessage: b, Valid: true}, nil
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func stagePtr(s *model.Stage) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*s), Valid: true}
}

func usageTokens(u *model.Usage) sql.NullInt32 {
	if u == nil {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: int32(u.Tokens), Valid: true}
}

func usageEstCost(u *model.Usage) sql.NullFloat64 {
	if u == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: u.EstCost, Valid: true}
}
