// Package intents provides the PostgreSQL-backed upload-intent ledger.
package intents

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dsslabs/docservice/internal/common"
	"github.com/dsslabs/docservice/internal/dbx"
	"github.com/dsslabs/docservice/internal/server/models"
)

// pgUniqueViolation is the SQLSTATE code for unique-constraint violations.
const pgUniqueViolation = "23505"

// PostgresRepository implements intent storage over a dbx.DBTX
// (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new intent row. The correlation id is caller-supplied, so
// a conflicting insert means two in-flight requests share an id; that is
// reported as ErrDuplicateCorrelationID and leaves the existing row intact.
func (r *PostgresRepository) Create(ctx context.Context, intent *models.UploadIntent) error {
	query := `
		INSERT INTO upload_intents (correlation_id, doc_id, file_name, temp_url, permanent_url, state)
		VALUES ($1, $2, $3, $4, $5, $6);
	`
	_, err := r.db.ExecContext(ctx, query,
		intent.CorrelationID.String(), nullUUID(intent.DocID), intent.FileName,
		intent.TempURL, nullString(intent.PermanentURL), string(intent.State))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return common.ErrDuplicateCorrelationID
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Update replaces the full record for the intent's correlation id and returns
// the number of rows affected. Finalized rows are immutable, so concurrent
// finalizations of the same intent collapse to a single winner. Zero rows
// (missing id or already finalized) is a detectable no-op, not an error.
func (r *PostgresRepository) Update(ctx context.Context, intent *models.UploadIntent) (int64, error) {
	query := `
		UPDATE upload_intents
		SET doc_id = $2, file_name = $3, temp_url = $4, permanent_url = $5, state = $6, updated_at = now()
		WHERE correlation_id = $1 AND state <> 'finalized';
	`
	res, err := r.db.ExecContext(ctx, query,
		intent.CorrelationID.String(), nullUUID(intent.DocID), intent.FileName,
		intent.TempURL, nullString(intent.PermanentURL), string(intent.State))
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}

// Get returns the intent for the given correlation id, or common.ErrNotFound.
func (r *PostgresRepository) Get(ctx context.Context, correlationID uuid.UUID) (*models.UploadIntent, error) {
	query := `
		SELECT correlation_id, doc_id, file_name, temp_url, permanent_url, state, created_at, updated_at
		FROM upload_intents WHERE correlation_id = $1;
	`
	row := r.db.QueryRowContext(ctx, query, correlationID.String())
	intent, err := scanIntent(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select intent: %w", err)
	}
	return intent, nil
}

// List returns all intents ordered by correlation id.
func (r *PostgresRepository) List(ctx context.Context) ([]*models.UploadIntent, error) {
	query := `
		SELECT correlation_id, doc_id, file_name, temp_url, permanent_url, state, created_at, updated_at
		FROM upload_intents ORDER BY correlation_id;
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select intents: %w", err)
	}
	defer rows.Close()

	var result []*models.UploadIntent
	for rows.Next() {
		intent, err := scanIntent(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, intent)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Delete removes the intent row and returns the number of rows affected.
func (r *PostgresRepository) Delete(ctx context.Context, correlationID uuid.UUID) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM upload_intents WHERE correlation_id = $1;`, correlationID.String())
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}

func scanIntent(scan func(dest ...any) error) (*models.UploadIntent, error) {
	var (
		item         models.UploadIntent
		cid          string
		docID        sql.NullString
		permanentURL sql.NullString
		state        string
	)
	if err := scan(&cid, &docID, &item.FileName, &item.TempURL, &permanentURL, &state, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(cid)
	if err != nil {
		return nil, fmt.Errorf("invalid correlation id %q: %w", cid, err)
	}
	item.CorrelationID = parsed
	if docID.Valid {
		d, err := uuid.Parse(docID.String)
		if err != nil {
			return nil, fmt.Errorf("invalid doc id %q: %w", docID.String, err)
		}
		item.DocID = &d
	}
	if permanentURL.Valid {
		item.PermanentURL = &permanentURL.String
	}
	item.State = models.IntentState(state)
	return &item, nil
}

func nullUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
