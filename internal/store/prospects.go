package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const prospectColumns = `id, name, industry, contact_name, email, phone, address, status, created_by, created_at`

func scanProspect(row interface{ Scan(...any) error }) (Prospect, error) {
	var p Prospect
	err := row.Scan(&p.ID, &p.Name, &p.Industry, &p.ContactName, &p.Email, &p.Phone,
		&p.Address, &p.Status, &p.CreatedBy, &p.CreatedAt)
	return p, err
}

func (s *Store) CreateProspect(ctx context.Context, p Prospect) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO prospects (id, name, industry, contact_name, email, phone, address, status, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, p.ID, p.Name, p.Industry, p.ContactName, p.Email, p.Phone, p.Address, p.Status, p.CreatedBy, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert prospect: %w", err)
	}
	return nil
}

func (s *Store) GetProspect(ctx context.Context, id string) (Prospect, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+prospectColumns+` FROM prospects WHERE id = $1`, id)
	p, err := scanProspect(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Prospect{}, ErrNotFound
	}
	if err != nil {
		return Prospect{}, fmt.Errorf("lookup prospect: %w", err)
	}
	return p, nil
}

func (s *Store) ListProspects(ctx context.Context) ([]Prospect, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+prospectColumns+` FROM prospects ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list prospects: %w", err)
	}
	defer rows.Close()

	var prospects []Prospect
	for rows.Next() {
		p, err := scanProspect(rows)
		if err != nil {
			return nil, fmt.Errorf("scan prospect: %w", err)
		}
		prospects = append(prospects, p)
	}
	return prospects, rows.Err()
}

// UpdateProspect overwrites every mutable field; update handlers submit the
// full form, not a partial patch. created_by and created_at never change.
func (s *Store) UpdateProspect(ctx context.Context, p Prospect) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE prospects
		SET name = $1, industry = $2, contact_name = $3, email = $4, phone = $5, address = $6, status = $7
		WHERE id = $8
	`, p.Name, p.Industry, p.ContactName, p.Email, p.Phone, p.Address, p.Status, p.ID)
	if err != nil {
		return fmt.Errorf("update prospect: %w", err)
	}
	return nil
}

// DeleteProspect removes the prospect and its notes in one transaction.
// Tasks that referenced it survive with prospect_id cleared; they are not
// part of the cascade.
func (s *Store) DeleteProspect(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM notes WHERE prospect_id = $1`, id); err != nil {
			return fmt.Errorf("delete prospect notes: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE tasks SET prospect_id = NULL WHERE prospect_id = $1`, id); err != nil {
			return fmt.Errorf("detach prospect tasks: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM prospects WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete prospect: %w", err)
		}
		return nil
	})
}

func (s *Store) CountProspects(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM prospects`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count prospects: %w", err)
	}
	return count, nil
}

func (s *Store) CountProspectsByStatus(ctx context.Context, status string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM prospects WHERE status = $1`, status).Scan(&count); err != nil {
		return 0, fmt.Errorf("count prospects by status: %w", err)
	}
	return count, nil
}

func (s *Store) CreateNote(ctx context.Context, n Note) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notes (id, prospect_id, content, created_at)
		VALUES ($1, $2, $3, $4)
	`, n.ID, n.ProspectID, n.Content, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

func (s *Store) ListNotesByProspect(ctx context.Context, prospectID string) ([]Note, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, prospect_id, content, created_at
		FROM notes WHERE prospect_id = $1
		ORDER BY created_at
	`, prospectID)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	var notes []Note
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.ProspectID, &n.Content, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}
