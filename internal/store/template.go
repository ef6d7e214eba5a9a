package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Point is one stored landmark.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// SignTemplate is a reference hand pose for a label.
type SignTemplate struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	Points    []Point   `json:"points"`
	CreatedAt time.Time `json:"created_at"`
}

// TemplateRepository stores sign templates.
type TemplateRepository struct {
	db *sql.DB
}

// Templates returns the template repository for this store.
func (s *Store) Templates() *TemplateRepository {
	return &TemplateRepository{db: s.db}
}

// Create inserts a template. Points are stored as a JSON array.
func (r *TemplateRepository) Create(ctx context.Context, t *SignTemplate) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.Label = strings.ToUpper(strings.TrimSpace(t.Label))
	t.CreatedAt = time.Now()

	data, err := json.Marshal(t.Points)
	if err != nil {
		return fmt.Errorf("encode points: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO sign_templates (id, label, data, created_at) VALUES (?, ?, ?, ?)`,
		t.ID, t.Label, string(data), t.CreatedAt,
	)
	return err
}

// List returns every template ordered by label.
func (r *TemplateRepository) List(ctx context.Context) ([]*SignTemplate, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, label, data, created_at FROM sign_templates ORDER BY label, created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SignTemplate
	for rows.Next() {
		t := &SignTemplate{}
		var data string
		if err := rows.Scan(&t.ID, &t.Label, &data, &t.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(data), &t.Points); err != nil {
			return nil, fmt.Errorf("decode template %s: %w", t.ID, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Delete removes a template.
func (r *TemplateRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sign_templates WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return rowsAffected(result)
}
