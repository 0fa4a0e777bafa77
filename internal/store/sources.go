package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"kokoni/internal/tree"
)

// Source operations. Sources belong to a search and can additionally be
// linked to report blocks through report_block_sources.

func (s *Store) CreateSource(ctx context.Context, searchID, title, url, content string) (Source, error) {
	src := Source{SearchID: searchID, Title: title, URL: url, Content: content}
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO sources (search_id, title, url, content) VALUES ($1,$2,$3,$4) RETURNING id, created_at, updated_at`,
		searchID, title, url, content).Scan(&src.ID, &src.CreatedAt, &src.UpdatedAt)
	if err != nil {
		return Source{}, fmt.Errorf("create source: %w", err)
	}
	return src, nil
}

func (s *Store) GetSource(ctx context.Context, id int64) (Source, error) {
	var src Source
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, search_id, title, url, content, created_at, updated_at FROM sources WHERE id=$1`,
		id).Scan(&src.ID, &src.SearchID, &src.Title, &src.URL, &src.Content, &src.CreatedAt, &src.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Source{}, fmt.Errorf("source %d: %w", id, tree.ErrNotFound)
	}
	return src, err
}

func (s *Store) ListSources(ctx context.Context, searchID string) ([]Source, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, search_id, title, url, content, created_at, updated_at
		 FROM sources WHERE search_id=$1 ORDER BY created_at DESC, id DESC`, searchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSources(rows)
}

func (s *Store) UpdateSource(ctx context.Context, id int64, title, url, content *string) (Source, error) {
	var src Source
	err := s.DB.QueryRowContext(ctx,
		`UPDATE sources SET
			title   = COALESCE($2, title),
			url     = COALESCE($3, url),
			content = COALESCE($4, content),
			updated_at = now()
		 WHERE id=$1
		 RETURNING id, search_id, title, url, content, created_at, updated_at`,
		id, title, url, content).Scan(&src.ID, &src.SearchID, &src.Title, &src.URL, &src.Content, &src.CreatedAt, &src.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Source{}, fmt.Errorf("source %d: %w", id, tree.ErrNotFound)
	}
	if err != nil {
		return Source{}, fmt.Errorf("update source %d: %w", id, err)
	}
	return src, nil
}

func (s *Store) DeleteSource(ctx context.Context, id int64) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM sources WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("source %d: %w", id, tree.ErrNotFound)
	}
	return nil
}

// GetReportBlockOwned fetches a report block only when it sits in a search
// owned by userID.
func (s *Store) GetReportBlockOwned(ctx context.Context, blockID int64, userID string) (ReportBlock, error) {
	var b ReportBlock
	err := s.DB.QueryRowContext(ctx,
		`SELECT b.id, b.node_id, b.heading, b.content, b.created_at, b.updated_at
		 FROM report_blocks b
		 JOIN nodes n ON n.id = b.node_id
		 JOIN searches s ON s.id = n.search_id
		 WHERE b.id=$1 AND s.user_id=$2`,
		blockID, userID).Scan(&b.ID, &b.NodeID, &b.Heading, &b.Content, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ReportBlock{}, fmt.Errorf("report block %d: %w", blockID, tree.ErrNotFound)
	}
	return b, err
}

// AttachSources links sources to a report block. Already-linked pairs are
// skipped rather than erroring.
func (s *Store) AttachSources(ctx context.Context, blockID int64, sourceIDs []int64) error {
	if len(sourceIDs) == 0 {
		return nil
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO report_block_sources (report_block_id, source_id)
		 SELECT $1, unnest($2::bigint[]) ON CONFLICT DO NOTHING`,
		blockID, pq.Array(sourceIDs))
	if err != nil {
		return fmt.Errorf("attach sources to block %d: %w", blockID, err)
	}
	return nil
}

// DetachSources unlinks sources from a report block.
func (s *Store) DetachSources(ctx context.Context, blockID int64, sourceIDs []int64) error {
	if len(sourceIDs) == 0 {
		return nil
	}
	_, err := s.DB.ExecContext(ctx,
		`DELETE FROM report_block_sources WHERE report_block_id=$1 AND source_id = ANY($2)`,
		blockID, pq.Array(sourceIDs))
	if err != nil {
		return fmt.Errorf("detach sources from block %d: %w", blockID, err)
	}
	return nil
}

// ListBlockSources returns the sources linked to a report block.
func (s *Store) ListBlockSources(ctx context.Context, blockID int64) ([]Source, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT s.id, s.search_id, s.title, s.url, s.content, s.created_at, s.updated_at
		 FROM sources s JOIN report_block_sources bs ON bs.source_id = s.id
		 WHERE bs.report_block_id=$1 ORDER BY s.id ASC`, blockID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSources(rows)
}

func scanSources(rows *sql.Rows) ([]Source, error) {
	var out []Source
	for rows.Next() {
		var src Source
		if err := rows.Scan(&src.ID, &src.SearchID, &src.Title, &src.URL, &src.Content, &src.CreatedAt, &src.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, rows.Err()
}
