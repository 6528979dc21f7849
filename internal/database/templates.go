package database

import (
	"database/sql"
	"fmt"
)

// TemplateStore handles database operations for prompt templates
type TemplateStore struct {
	db *sql.DB
}

func NewTemplateStore(db *sql.DB) *TemplateStore {
	return &TemplateStore{db: db}
}

const templateColumns = `id, name, description, categories, template,
	expected_output_schema, version, is_active, created_at, updated_at`

// Upsert inserts or updates a template by name, bumping the version when the
// body changed.
func (t *TemplateStore) Upsert(tmpl *PromptTemplate) error {
	if tmpl.Name == "" {
		return fmt.Errorf("template name is required")
	}
	if tmpl.Template == "" {
		return fmt.Errorf("template body is required")
	}
	if tmpl.Version < 1 {
		tmpl.Version = 1
	}

	query := `
		INSERT INTO prompt_templates (name, description, categories, template,
			expected_output_schema, version, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			description = excluded.description,
			categories = excluded.categories,
			template = excluded.template,
			expected_output_schema = excluded.expected_output_schema,
			version = CASE
				WHEN prompt_templates.template != excluded.template
				THEN prompt_templates.version + 1
				ELSE prompt_templates.version
			END,
			is_active = excluded.is_active,
			updated_at = CURRENT_TIMESTAMP
	`
	result, err := t.db.Exec(query, tmpl.Name, tmpl.Description,
		jsonOrEmptyArray(tmpl.Categories), tmpl.Template,
		tmpl.ExpectedOutputSchema, tmpl.Version, tmpl.IsActive)
	if err != nil {
		return fmt.Errorf("failed to upsert template: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil && id > 0 {
		tmpl.ID = int(id)
	}
	return nil
}

// GetByName retrieves a template by its unique name.
func (t *TemplateStore) GetByName(name string) (*PromptTemplate, error) {
	query := fmt.Sprintf("SELECT %s FROM prompt_templates WHERE name = ?", templateColumns)
	return scanTemplateRow(t.db.QueryRow(query, name))
}

// ListActive returns active templates in insertion order. Insertion order is
// the documented tie-break for template scoring.
func (t *TemplateStore) ListActive() ([]PromptTemplate, error) {
	query := fmt.Sprintf("SELECT %s FROM prompt_templates WHERE is_active = TRUE ORDER BY id ASC", templateColumns)
	rows, err := t.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []PromptTemplate
	for rows.Next() {
		tmpl, err := scanTemplateRow(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, *tmpl)
	}
	return templates, rows.Err()
}

// SetActive toggles a template.
func (t *TemplateStore) SetActive(name string, active bool) error {
	result, err := t.db.Exec("UPDATE prompt_templates SET is_active = ?, updated_at = CURRENT_TIMESTAMP WHERE name = ?", active, name)
	if err != nil {
		return fmt.Errorf("failed to set template active: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func scanTemplateRow(row rowScanner) (*PromptTemplate, error) {
	var tmpl PromptTemplate
	err := row.Scan(&tmpl.ID, &tmpl.Name, &tmpl.Description, &tmpl.Categories,
		&tmpl.Template, &tmpl.ExpectedOutputSchema, &tmpl.Version, &tmpl.IsActive,
		&tmpl.CreatedAt, &tmpl.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &tmpl, nil
}
