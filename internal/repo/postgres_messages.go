package repo

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/LeventeLantos/whatsapp-dispatch/internal/model"
)

//go:embed schema.sql
var schema string

type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Connect opens a pool and verifies the connection.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return pool, nil
}

// Migrate creates the tables if they do not exist yet.
func (r *PostgresStore) Migrate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, schema)
	return err
}

const messageColumns = `id, sid, client_reference, to_number, template_sid, template_variables,
	status, error_code, error_message, created_at, sent_at, updated_at`

func (r *PostgresStore) CreateMessage(ctx context.Context, m *model.Message) error {
	vars, err := json.Marshal(m.Variables)
	if err != nil {
		return err
	}
	if m.Status == "" {
		m.Status = model.Queued
	}

	err = r.pool.QueryRow(ctx, `
		INSERT INTO whatsapp_messages
			(sid, client_reference, to_number, template_sid, template_variables, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING id, created_at, updated_at
	`, m.SID, m.ClientReference, m.To, m.TemplateSID, vars, string(m.Status),
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	return mapErr(err)
}

func (r *PostgresStore) GetMessage(ctx context.Context, id int64) (model.Message, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM whatsapp_messages WHERE id = $1`, id)
	return scanMessage(row)
}

func (r *PostgresStore) MarkSent(ctx context.Context, id int64, sid string, sentAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE whatsapp_messages
		SET sid = $2,
		    status = CASE WHEN status IN ('delivered', 'read') THEN status ELSE 'sent' END,
		    sent_at = COALESCE(sent_at, $3),
		    updated_at = now()
		WHERE id = $1 AND (sid IS NULL OR sid = $2)
	`, id, sid, sentAt.UTC())
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	_, err = r.GetMessage(ctx, id)
	return unmatchedSent(err)
}

// unmatchedSent explains a MarkSent that updated nothing, given the result of
// looking the record up: it is missing, or it already holds another sid.
func unmatchedSent(lookupErr error) error {
	if lookupErr != nil {
		return lookupErr
	}
	return ErrSIDConflict
}

func (r *PostgresStore) MarkFailed(ctx context.Context, id int64, code, message string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE whatsapp_messages
		SET status = 'failed',
		    error_code = $2,
		    error_message = $3,
		    updated_at = now()
		WHERE id = $1
	`, id, nilIfEmpty(code), nilIfEmpty(message))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresStore) MarkFailedUnlessDelivered(ctx context.Context, id int64, code, message string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE whatsapp_messages
		SET status = 'failed',
		    error_code = $2,
		    error_message = $3,
		    updated_at = now()
		WHERE id = $1 AND status NOT IN ('sent', 'delivered', 'read')
	`, id, nilIfEmpty(code), nilIfEmpty(message))
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	if _, err := r.GetMessage(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (r *PostgresStore) ApplyStatusBySID(ctx context.Context, sid string, status model.Status, code, message *string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE whatsapp_messages
		SET status = $2,
		    error_code = $3,
		    error_message = $4,
		    updated_at = now()
		WHERE sid = $1
	`, sid, string(status), code, message)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func scanMessage(row pgx.Row) (model.Message, error) {
	var (
		m      model.Message
		status string
		vars   []byte
	)
	err := row.Scan(
		&m.ID,
		&m.SID,
		&m.ClientReference,
		&m.To,
		&m.TemplateSID,
		&vars,
		&status,
		&m.ErrorCode,
		&m.ErrorMessage,
		&m.CreatedAt,
		&m.SentAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return model.Message{}, mapErr(err)
	}

	m.Status = model.Status(status)
	if len(vars) > 0 {
		if err := json.Unmarshal(vars, &m.Variables); err != nil {
			return model.Message{}, fmt.Errorf("message %d variables: %w", m.ID, err)
		}
	}
	return m, nil
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}
