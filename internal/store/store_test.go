package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"kokoni/internal/tree"
)

func setupStore(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	cleanup := func() { db.Close() }
	return &Store{DB: db}, mock, cleanup
}

func TestExpandNodeWins(t *testing.T) {
	st, mock, cleanup := setupStore(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE nodes SET selected=TRUE, summary=$2, updated_at=now() WHERE id=$1 AND selected=FALSE RETURNING search_id`)).
		WithArgs(int64(7), "a summary").
		WillReturnRows(sqlmock.NewRows([]string{"search_id"}).AddRow("s1"))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO nodes (search_id, parent_id, question)`)).
		WithArgs("s1", int64(7), "first?").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(8), now, now))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO nodes (search_id, parent_id, question)`)).
		WithArgs("s1", int64(7), "second?").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(9), now, now))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE searches SET updated_at=now() WHERE id=$1`)).
		WithArgs("s1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	children, won, err := st.ExpandNode(context.Background(), 7, "a summary", []string{"first?", "second?"})
	if err != nil {
		t.Fatalf("ExpandNode: %v", err)
	}
	if !won {
		t.Fatalf("expected to win the expansion")
	}
	if len(children) != 2 || children[0].ID != 8 || children[1].ID != 9 {
		t.Fatalf("children = %+v", children)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestExpandNodeLosesRace(t *testing.T) {
	st, mock, cleanup := setupStore(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE nodes SET selected=TRUE`)).
		WithArgs(int64(7), "a summary").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	children, won, err := st.ExpandNode(context.Background(), 7, "a summary", []string{"first?", "second?"})
	if err != nil {
		t.Fatalf("ExpandNode: %v", err)
	}
	if won {
		t.Fatalf("already-selected node must not win")
	}
	if len(children) != 0 {
		t.Fatalf("losing expansion returned children: %+v", children)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeleteNodeRejectsRoot(t *testing.T) {
	st, mock, cleanup := setupStore(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT parent_id, search_id FROM nodes WHERE id=$1 FOR UPDATE`)).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"parent_id", "search_id"}).AddRow(nil, "s1"))
	mock.ExpectRollback()

	err := st.DeleteNode(context.Background(), 1)
	if !errors.Is(err, ErrRootNode) {
		t.Fatalf("err = %v, want ErrRootNode", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeleteNodeReparentsAndPrunes(t *testing.T) {
	st, mock, cleanup := setupStore(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT parent_id, search_id FROM nodes WHERE id=$1 FOR UPDATE`)).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"parent_id", "search_id"}).AddRow(int64(5), "s1"))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, selected FROM nodes WHERE parent_id=$1 ORDER BY id ASC FOR UPDATE`)).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "selected"}).
			AddRow(int64(20), true).
			AddRow(int64(21), false))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE nodes SET parent_id=$1, updated_at=now() WHERE id = ANY($2)`)).
		WithArgs(int64(5), pq.Array([]int64{20})).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`WITH RECURSIVE sub AS`).
		WithArgs(pq.Array([]int64{21})).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM nodes WHERE id=$1`)).
		WithArgs(int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE searches SET updated_at=now() WHERE id=$1`)).
		WithArgs("s1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := st.DeleteNode(context.Background(), 10); err != nil {
		t.Fatalf("DeleteNode: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeleteNodeNotFound(t *testing.T) {
	st, mock, cleanup := setupStore(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT parent_id, search_id FROM nodes WHERE id=$1 FOR UPDATE`)).
		WithArgs(int64(99)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := st.DeleteNode(context.Background(), 99)
	if !errors.Is(err, tree.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpsertReportBlockReplacesContent(t *testing.T) {
	st, mock, cleanup := setupStore(t)
	defer cleanup()

	now := time.Now()
	heading := "What is the Calvin cycle?"
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO report_blocks (node_id, content, heading) VALUES ($1,$2,$3)`)).
		WithArgs(int64(3), "new content", &heading).
		WillReturnRows(sqlmock.NewRows([]string{"id", "node_id", "heading", "content", "created_at", "updated_at"}).
			AddRow(int64(1), int64(3), heading, "new content", now, now))

	b, err := st.UpsertReportBlock(context.Background(), 3, "new content", &heading)
	if err != nil {
		t.Fatalf("UpsertReportBlock: %v", err)
	}
	if b.Content != "new content" || b.NodeID != 3 {
		t.Fatalf("block = %+v", b)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateSearchSeedsRootAndChildren(t *testing.T) {
	st, mock, cleanup := setupStore(t)
	defer cleanup()

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO searches (user_id, query)`)).
		WithArgs("u1", "photosynthesis").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow("s1", now, now))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO nodes (search_id, question, selected) VALUES ($1,$2,TRUE)`)).
		WithArgs("s1", "How does photosynthesis work?").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(1), now, now))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO nodes (search_id, parent_id, question)`)).
		WithArgs("s1", int64(1), "light?").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(2), now, now))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO nodes (search_id, parent_id, question)`)).
		WithArgs("s1", int64(1), "calvin?").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(3), now, now))
	mock.ExpectCommit()

	sr, nodes, err := st.CreateSearch(context.Background(), "u1", "photosynthesis",
		"How does photosynthesis work?", []string{"light?", "calvin?"})
	if err != nil {
		t.Fatalf("CreateSearch: %v", err)
	}
	if sr.RootNodeID != 1 {
		t.Fatalf("root node id = %d", sr.RootNodeID)
	}
	if len(nodes) != 3 {
		t.Fatalf("nodes = %d, want root + 2 children", len(nodes))
	}
	if !nodes[0].Selected || nodes[1].Selected || nodes[2].Selected {
		t.Fatalf("selection flags wrong: %+v", nodes)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !IsUniqueViolation(&pq.Error{Code: "23505"}) {
		t.Fatalf("23505 should be a unique violation")
	}
	if IsUniqueViolation(errors.New("plain")) {
		t.Fatalf("plain error misclassified")
	}
}
