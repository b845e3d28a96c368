package repo

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/LeventeLantos/whatsapp-dispatch/internal/model"
)

const templateColumns = `id, name, category, content_sid, body, variables, status,
	rejection_reason, created_at, updated_at`

func (r *PostgresStore) CreateTemplate(ctx context.Context, t *model.Template) error {
	if t.Status == "" {
		t.Status = model.TemplateDraft
	}
	vars := []byte(t.Variables)
	if len(vars) == 0 {
		vars = []byte("{}")
	}

	err := r.pool.QueryRow(ctx, `
		INSERT INTO whatsapp_templates
			(name, category, content_sid, body, variables, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING id, created_at, updated_at
	`, t.Name, categoryArg(t.Category), t.ContentSID, t.Body, vars, string(t.Status),
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	return mapErr(err)
}

func (r *PostgresStore) GetTemplate(ctx context.Context, id int64) (model.Template, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+templateColumns+` FROM whatsapp_templates WHERE id = $1`, id)
	return scanTemplate(row)
}

func (r *PostgresStore) ListTemplatesByStatus(ctx context.Context, status model.TemplateStatus) ([]model.Template, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+templateColumns+`
		FROM whatsapp_templates
		WHERE status = $1
		ORDER BY id ASC
	`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *PostgresStore) SubmitTemplate(ctx context.Context, id int64, category model.Category) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE whatsapp_templates
		SET status = 'pending', category = $2, updated_at = now()
		WHERE id = $1
	`, id, string(category))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresStore) UpdateTemplateApproval(ctx context.Context, id int64, status model.TemplateStatus, reason *string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE whatsapp_templates
		SET status = $2, rejection_reason = $3, updated_at = now()
		WHERE id = $1
	`, id, string(status), reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanTemplate(row pgx.Row) (model.Template, error) {
	var (
		t        model.Template
		category *string
		status   string
		vars     []byte
	)
	err := row.Scan(
		&t.ID,
		&t.Name,
		&category,
		&t.ContentSID,
		&t.Body,
		&vars,
		&status,
		&t.RejectionReason,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return model.Template{}, mapErr(err)
	}

	t.Status = model.TemplateStatus(status)
	t.Variables = vars
	if category != nil {
		c := model.Category(*category)
		t.Category = &c
	}
	return t, nil
}

func categoryArg(c *model.Category) *string {
	if c == nil {
		return nil
	}
	s := string(*c)
	return &s
}
