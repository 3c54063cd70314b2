package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/CoveTalks/CoveTalksApp/internal/models"
)

type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type MemberRepository struct {
	db DBTX
}

func NewMemberRepository(db DBTX) *MemberRepository {
	return &MemberRepository{db: db}
}

func (r *MemberRepository) GetSnippet(ctx context.Context, id uuid.UUID) (*models.MemberSnippet, error) {
	query := `
		SELECT id, name, member_type, COALESCE(profile_image_url, '')
		FROM members
		WHERE id = $1
	`
	var snippet models.MemberSnippet
	err := r.db.QueryRow(ctx, query, id).Scan(
		&snippet.ID,
		&snippet.Name,
		&snippet.MemberType,
		&snippet.ProfileImageURL,
	)
	if err != nil {
		return nil, err
	}
	return &snippet, nil
}

func (r *MemberRepository) GetSnippets(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.MemberSnippet, error) {
	snippets := make(map[uuid.UUID]models.MemberSnippet, len(ids))
	if len(ids) == 0 {
		return snippets, nil
	}

	query := `
		SELECT id, name, member_type, COALESCE(profile_image_url, '')
		FROM members
		WHERE id = ANY($1)
	`
	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var snippet models.MemberSnippet
		if err := rows.Scan(
			&snippet.ID,
			&snippet.Name,
			&snippet.MemberType,
			&snippet.ProfileImageURL,
		); err != nil {
			return nil, err
		}
		snippets[snippet.ID] = snippet
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return snippets, nil
}

func (r *MemberRepository) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM members WHERE id = $1)
	`, id).Scan(&exists)
	return exists, err
}
