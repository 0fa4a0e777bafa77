package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/lib/pq"

	"kokoni/internal/tree"
)

// Store is the single source of truth for searches, nodes, report blocks
// and sources. Every write that spans more than one record runs in a
// transaction; concurrent expansions of the same node are serialized by a
// conditional update (see ExpandNode).
type Store struct {
	DB *sql.DB
}

// ErrRootNode is returned when a caller tries to delete a search's root.
var ErrRootNode = errors.New("root node cannot be deleted")

// Search is one research session owned by a user.
type Search struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Query      string    `json:"query"`
	RootNodeID int64     `json:"root_node_id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ReportBlock is the generated markdown attached to one node. At most one
// block exists per node; writes replace content, never append.
type ReportBlock struct {
	ID        int64     `json:"id"`
	NodeID    int64     `json:"node_id"`
	Heading   *string   `json:"heading,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Source is user-provided supporting material for a search.
type Source struct {
	ID        int64     `json:"id"`
	SearchID  string    `json:"search_id"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ReportNode is a selected node joined with its parent's question and
// summary, the shape the report pipeline prompts from.
type ReportNode struct {
	tree.Node
	ParentQuestion *string
	ParentSummary  *string
}

func New(ctx context.Context) (*Store, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		host := getenvDefault("POSTGRES_HOST", "localhost")
		port := getenvDefault("POSTGRES_PORT", "5432")
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		db := os.Getenv("POSTGRES_DB")
		ssl := getenvDefault("POSTGRES_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, ssl)
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pq.Error
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// User operations

func (s *Store) CreateUser(ctx context.Context, email, hash string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO users (email, password_hash) VALUES ($1,$2)`, email, hash)
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		err = fmt.Errorf("user %s: %w", email, tree.ErrNotFound)
	}
	return
}

// Search operations

func (s *Store) CountSearches(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM searches WHERE user_id=$1`, userID).Scan(&n)
	return n, err
}

// CreateSearch creates a search with its root node and the initial child
// questions in one transaction. The root is selected from birth; the
// children start unselected, ready for expansion.
func (s *Store) CreateSearch(ctx context.Context, userID, query, rootQuestion string, childQuestions []string) (Search, []tree.Node, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return Search{}, nil, err
	}
	defer tx.Rollback()

	var sr Search
	sr.UserID = userID
	sr.Query = query
	err = tx.QueryRowContext(ctx,
		`INSERT INTO searches (user_id, query) VALUES ($1,$2) RETURNING id, created_at, updated_at`,
		userID, query).Scan(&sr.ID, &sr.CreatedAt, &sr.UpdatedAt)
	if err != nil {
		return Search{}, nil, fmt.Errorf("create search: %w", err)
	}

	root := tree.Node{SearchID: sr.ID, Question: rootQuestion, Selected: true}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO nodes (search_id, question, selected) VALUES ($1,$2,TRUE) RETURNING id, created_at, updated_at`,
		sr.ID, rootQuestion).Scan(&root.ID, &root.CreatedAt, &root.UpdatedAt)
	if err != nil {
		return Search{}, nil, fmt.Errorf("create root node: %w", err)
	}
	sr.RootNodeID = root.ID

	nodes := []tree.Node{root}
	for _, q := range childQuestions {
		child, err := insertChild(ctx, tx, sr.ID, root.ID, q)
		if err != nil {
			return Search{}, nil, err
		}
		nodes = append(nodes, child)
	}
	if err := tx.Commit(); err != nil {
		return Search{}, nil, err
	}
	return sr, nodes, nil
}

func insertChild(ctx context.Context, tx *sql.Tx, searchID string, parentID int64, question string) (tree.Node, error) {
	n := tree.Node{SearchID: searchID, ParentID: &parentID, Question: question}
	err := tx.QueryRowContext(ctx,
		`INSERT INTO nodes (search_id, parent_id, question) VALUES ($1,$2,$3) RETURNING id, created_at, updated_at`,
		searchID, parentID, question).Scan(&n.ID, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return tree.Node{}, fmt.Errorf("create child node: %w", err)
	}
	return n, nil
}

func (s *Store) GetSearch(ctx context.Context, id, userID string) (Search, error) {
	var sr Search
	err := s.DB.QueryRowContext(ctx,
		`SELECT s.id, s.user_id, s.query, n.id, s.created_at, s.updated_at
		 FROM searches s JOIN nodes n ON n.search_id = s.id AND n.parent_id IS NULL
		 WHERE s.id=$1 AND s.user_id=$2`,
		id, userID).Scan(&sr.ID, &sr.UserID, &sr.Query, &sr.RootNodeID, &sr.CreatedAt, &sr.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Search{}, fmt.Errorf("search %s: %w", id, tree.ErrNotFound)
	}
	return sr, err
}

// GetSearchByID resolves a search without an ownership check. Used by the
// public share endpoint, where knowing the id is the capability.
func (s *Store) GetSearchByID(ctx context.Context, id string) (Search, error) {
	var sr Search
	err := s.DB.QueryRowContext(ctx,
		`SELECT s.id, s.user_id, s.query, n.id, s.created_at, s.updated_at
		 FROM searches s JOIN nodes n ON n.search_id = s.id AND n.parent_id IS NULL
		 WHERE s.id=$1`,
		id).Scan(&sr.ID, &sr.UserID, &sr.Query, &sr.RootNodeID, &sr.CreatedAt, &sr.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Search{}, fmt.Errorf("search %s: %w", id, tree.ErrNotFound)
	}
	return sr, err
}

// RenameSearch updates a search's query text.
func (s *Store) RenameSearch(ctx context.Context, id, userID, query string) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE searches SET query=$3, updated_at=now() WHERE id=$1 AND user_id=$2`,
		id, userID, query)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("search %s: %w", id, tree.ErrNotFound)
	}
	return nil
}

func (s *Store) ListSearches(ctx context.Context, userID string) ([]Search, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT s.id, s.user_id, s.query, n.id, s.created_at, s.updated_at
		 FROM searches s JOIN nodes n ON n.search_id = s.id AND n.parent_id IS NULL
		 WHERE s.user_id=$1 ORDER BY s.updated_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Search
	for rows.Next() {
		var sr Search
		if err := rows.Scan(&sr.ID, &sr.UserID, &sr.Query, &sr.RootNodeID, &sr.CreatedAt, &sr.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

// DeleteSearch removes a search; nodes, report blocks and sources go with
// it via foreign keys.
func (s *Store) DeleteSearch(ctx context.Context, id, userID string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM searches WHERE id=$1 AND user_id=$2`, id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("search %s: %w", id, tree.ErrNotFound)
	}
	return nil
}

// Node operations

func (s *Store) GetNode(ctx context.Context, id int64) (tree.Node, error) {
	var n tree.Node
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, search_id, parent_id, question, summary, selected, created_at, updated_at FROM nodes WHERE id=$1`,
		id).Scan(&n.ID, &n.SearchID, &n.ParentID, &n.Question, &n.Summary, &n.Selected, &n.CreatedAt, &n.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return tree.Node{}, fmt.Errorf("node %d: %w", id, tree.ErrNotFound)
	}
	return n, err
}

// ListNodes returns the complete flat node list of a search in creation
// order, the order Reconstruct preserves for siblings.
func (s *Store) ListNodes(ctx context.Context, searchID string) ([]tree.Node, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, search_id, parent_id, question, summary, selected, created_at, updated_at
		 FROM nodes WHERE search_id=$1 ORDER BY id ASC`, searchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNodes(rows)
}

// ChildNodes returns the direct children of a node in creation order.
func (s *Store) ChildNodes(ctx context.Context, parentID int64) ([]tree.Node, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, search_id, parent_id, question, summary, selected, created_at, updated_at
		 FROM nodes WHERE parent_id=$1 ORDER BY id ASC`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNodes(rows)
}

func scanNodes(rows *sql.Rows) ([]tree.Node, error) {
	var out []tree.Node
	for rows.Next() {
		var n tree.Node
		if err := rows.Scan(&n.ID, &n.SearchID, &n.ParentID, &n.Question, &n.Summary, &n.Selected, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// ExpandNode marks a node selected, stores its summary and inserts its
// follow-up children, all in one transaction. The conditional update is
// the serialization point for racing expansions: exactly one caller sees
// selected flip and wins. Losers get won=false and no mutation; they
// re-read the node and return the existing children.
func (s *Store) ExpandNode(ctx context.Context, nodeID int64, summary string, questions []string) (children []tree.Node, won bool, err error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	var searchID string
	err = tx.QueryRowContext(ctx,
		`UPDATE nodes SET selected=TRUE, summary=$2, updated_at=now() WHERE id=$1 AND selected=FALSE RETURNING search_id`,
		nodeID, summary).Scan(&searchID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("select node %d: %w", nodeID, err)
	}

	for _, q := range questions {
		child, err := insertChild(ctx, tx, searchID, nodeID, q)
		if err != nil {
			return nil, false, err
		}
		children = append(children, child)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE searches SET updated_at=now() WHERE id=$1`, searchID); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return children, true, nil
}

// DeleteNode removes a node atomically: selected children are reparented
// to the deleted node's parent so their analysis survives, unselected
// children are pruned together with their subtrees. The root is never
// deletable.
func (s *Store) DeleteNode(ctx context.Context, nodeID int64) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var parentID *int64
	var searchID string
	err = tx.QueryRowContext(ctx,
		`SELECT parent_id, search_id FROM nodes WHERE id=$1 FOR UPDATE`, nodeID).Scan(&parentID, &searchID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("node %d: %w", nodeID, tree.ErrNotFound)
	}
	if err != nil {
		return err
	}
	if parentID == nil {
		return ErrRootNode
	}

	rows, err := tx.QueryContext(ctx, `SELECT id, selected FROM nodes WHERE parent_id=$1 ORDER BY id ASC FOR UPDATE`, nodeID)
	if err != nil {
		return err
	}
	var keep, prune []int64
	for rows.Next() {
		var id int64
		var selected bool
		if err := rows.Scan(&id, &selected); err != nil {
			rows.Close()
			return err
		}
		if selected {
			keep = append(keep, id)
		} else {
			prune = append(prune, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if len(keep) > 0 {
		if _, err := tx.ExecContext(ctx,
			`UPDATE nodes SET parent_id=$1, updated_at=now() WHERE id = ANY($2)`,
			*parentID, pq.Array(keep)); err != nil {
			return fmt.Errorf("reparent children: %w", err)
		}
	}
	if len(prune) > 0 {
		if _, err := tx.ExecContext(ctx,
			`WITH RECURSIVE sub AS (
				SELECT id FROM nodes WHERE id = ANY($1)
				UNION
				SELECT n.id FROM nodes n JOIN sub s ON n.parent_id = s.id
			)
			DELETE FROM nodes WHERE id IN (SELECT id FROM sub)`,
			pq.Array(prune)); err != nil {
			return fmt.Errorf("prune subtrees: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE id=$1`, nodeID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE searches SET updated_at=now() WHERE id=$1`, searchID); err != nil {
		return err
	}
	return tx.Commit()
}

// Report block operations

// ListSelectedNodes returns a search's selected nodes joined with their
// parent's question and summary, in creation order.
func (s *Store) ListSelectedNodes(ctx context.Context, searchID string) ([]ReportNode, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT n.id, n.search_id, n.parent_id, n.question, n.summary, n.selected, n.created_at, n.updated_at,
		        p.question, p.summary
		 FROM nodes n LEFT JOIN nodes p ON p.id = n.parent_id
		 WHERE n.search_id=$1 AND n.selected=TRUE ORDER BY n.id ASC`, searchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ReportNode
	for rows.Next() {
		var rn ReportNode
		if err := rows.Scan(&rn.ID, &rn.SearchID, &rn.ParentID, &rn.Question, &rn.Summary, &rn.Selected,
			&rn.CreatedAt, &rn.UpdatedAt, &rn.ParentQuestion, &rn.ParentSummary); err != nil {
			return nil, err
		}
		out = append(out, rn)
	}
	return out, rows.Err()
}

// UpsertReportBlock creates or overwrites the single block of a node.
// Latest generation wins; content is replaced, never appended.
func (s *Store) UpsertReportBlock(ctx context.Context, nodeID int64, content string, heading *string) (ReportBlock, error) {
	var b ReportBlock
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO report_blocks (node_id, content, heading) VALUES ($1,$2,$3)
		 ON CONFLICT (node_id) DO UPDATE SET content=EXCLUDED.content, heading=EXCLUDED.heading, updated_at=now()
		 RETURNING id, node_id, heading, content, created_at, updated_at`,
		nodeID, content, heading).Scan(&b.ID, &b.NodeID, &b.Heading, &b.Content, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return ReportBlock{}, fmt.Errorf("upsert report block for node %d: %w", nodeID, err)
	}
	return b, nil
}

// ListReportBlocks returns a search's blocks in node id order. The report
// endpoints reorder them by the tree's pre-order projection before
// serving, since node ids drift from tree order as siblings expand.
func (s *Store) ListReportBlocks(ctx context.Context, searchID string) ([]ReportBlock, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT b.id, b.node_id, b.heading, b.content, b.created_at, b.updated_at
		 FROM report_blocks b JOIN nodes n ON n.id = b.node_id
		 WHERE n.search_id=$1 ORDER BY b.node_id ASC`, searchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ReportBlock
	for rows.Next() {
		var b ReportBlock
		if err := rows.Scan(&b.ID, &b.NodeID, &b.Heading, &b.Content, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
