package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/oklog/ulid/v2"

	"sales-crm-docgen/internal/domain"
	"sales-crm-docgen/internal/domain/model"
	"sales-crm-docgen/internal/domain/ports/repository"
)

var _ repository.DocJobRepository = (*docJobRepo)(nil)

const docJobColumns = `j.id, j.owner_id, j.action, j.input, j.status, j.content, j.usage,
  j.truncated, j.error_message, j.created_at, j.started_at, j.completed_at`

type docJobRepo struct {
	pool *pgxpool.Pool
}

func NewDocJobRepo(pool *pgxpool.Pool) *docJobRepo {
	return &docJobRepo{pool: pool}
}

func (r *docJobRepo) Create(ctx context.Context, tx repository.Tx, job *model.DocJob) error {
	if job.ID == "" {
		job.ID = ulid.Make().String()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.Status == "" {
		job.Status = model.DocJobStatusPending
	}
	input, err := json.Marshal(job.Input)
	if err != nil {
		return fmt.Errorf("marshal job input: %w", err)
	}

	const q = `
INSERT INTO doc_jobs (id, owner_id, action, input, status, created_at)
VALUES ($1, $2, $3, $4::jsonb, $5, $6);`

	_, err = execSQL(ctx, r.pool, tx, q,
		job.ID, job.OwnerID, string(job.Action), string(input), string(job.Status), job.CreatedAt)
	if isUniqueViolation(err) {
		return domain.ErrAlreadyExists
	}
	return err
}

func (r *docJobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.DocJob, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+docJobColumns+` FROM doc_jobs j WHERE j.id = $1;`, id)
	if err != nil {
		return nil, err
	}
	return scanDocJob(row)
}

func (r *docJobRepo) ClaimByID(ctx context.Context, id, ownerID string) (*model.DocJob, error) {
	const q = `
UPDATE doc_jobs j SET status = 'processing', started_at = now()
WHERE j.id = $1 AND j.owner_id = $2 AND j.status = 'pending'
RETURNING ` + docJobColumns + `;`

	job, err := scanDocJob(r.pool.QueryRow(ctx, q, id, ownerID))
	if !errors.Is(err, domain.ErrNotFound) {
		return job, err
	}

	// Nothing moved: tell a missing job apart from one that already left pending.
	var status string
	err = r.pool.QueryRow(ctx, `SELECT status FROM doc_jobs WHERE id = $1 AND owner_id = $2;`, id, ownerID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: status is %s", domain.ErrJobNotClaimable, status)
}

func (r *docJobRepo) ClaimNext(ctx context.Context) (*model.DocJob, error) {
	const q = `
WITH next AS (
  SELECT id FROM doc_jobs
  WHERE status = 'pending'
  ORDER BY created_at, id
  LIMIT 1
  FOR UPDATE SKIP LOCKED
)
UPDATE doc_jobs j SET status = 'processing', started_at = now()
FROM next
WHERE j.id = next.id
RETURNING ` + docJobColumns + `;`

	return scanDocJob(r.pool.QueryRow(ctx, q))
}

func (r *docJobRepo) Complete(ctx context.Context, id string, out model.DocJobOutput, truncated bool) error {
	usage, err := json.Marshal(out.Usage.Normalized())
	if err != nil {
		return fmt.Errorf("marshal usage: %w", err)
	}
	const q = `
UPDATE doc_jobs SET status = 'completed', content = $2, usage = $3::jsonb, truncated = $4,
  error_message = NULL, completed_at = now()
WHERE id = $1 AND status = 'processing';`

	tag, err := r.pool.Exec(ctx, q, id, out.Content, string(usage), truncated)
	if err != nil {
		return err
	}
	return r.checkTerminalWrite(ctx, id, tag.RowsAffected())
}

func (r *docJobRepo) Fail(ctx context.Context, id, message string) error {
	const q = `
UPDATE doc_jobs SET status = 'failed', error_message = $2, completed_at = now()
WHERE id = $1 AND status = 'processing';`

	tag, err := r.pool.Exec(ctx, q, id, message)
	if err != nil {
		return err
	}
	return r.checkTerminalWrite(ctx, id, tag.RowsAffected())
}

func (r *docJobRepo) checkTerminalWrite(ctx context.Context, id string, affected int64) error {
	if affected == 1 {
		return nil
	}
	var status string
	err := r.pool.QueryRow(ctx, `SELECT status FROM doc_jobs WHERE id = $1;`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: status is %s", domain.ErrJobNotClaimable, status)
}

func (r *docJobRepo) FailStale(ctx context.Context, olderThan time.Time, message string) ([]string, error) {
	const q = `
UPDATE doc_jobs SET status = 'failed', error_message = $2, completed_at = now()
WHERE status = 'processing' AND started_at < $1
RETURNING id;`

	rows, err := queryRows(ctx, r.pool, nil, q, olderThan, message)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanDocJob(row pgx.Row) (*model.DocJob, error) {
	var (
		job          model.DocJob
		action       string
		status       string
		input        []byte
		content      *string
		usage        []byte
		errorMessage *string
	)
	err := row.Scan(
		&job.ID, &job.OwnerID, &action, &input, &status, &content, &usage,
		&job.Truncated, &errorMessage, &job.CreatedAt, &job.StartedAt, &job.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
	}
	job.Action = model.Action(action)
	job.Status = model.DocJobStatus(status)
	if len(input) > 0 {
		if err := json.Unmarshal(input, &job.Input); err != nil {
			return nil, fmt.Errorf("%w: input: %v", domain.ErrReadDatabaseRow, err)
		}
	}
	if errorMessage != nil {
		job.ErrorMessage = *errorMessage
	}
	if job.Status == model.DocJobStatusCompleted {
		out := &model.DocJobOutput{}
		if content != nil {
			out.Content = *content
		}
		if len(usage) > 0 {
			if err := json.Unmarshal(usage, &out.Usage); err != nil {
				return nil, fmt.Errorf("%w: usage: %v", domain.ErrReadDatabaseRow, err)
			}
		}
		job.Output = out
	}
	return &job, nil
}
