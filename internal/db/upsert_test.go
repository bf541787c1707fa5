package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkUpsert_EmptyRows(t *testing.T) {
	ins, upd, err := BulkUpsert(context.Background(), nil, UpsertConfig{
		Table:        "organizations",
		Columns:      []string{"org_id", "name"},
		ConflictKeys: []string{"org_id"},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), ins)
	assert.Equal(t, int64(0), upd)
}

func TestBulkUpsertTx_NoColumns(t *testing.T) {
	_, _, err := BulkUpsertTx(context.Background(), nil, UpsertConfig{
		Table:        "organizations",
		ConflictKeys: []string{"org_id"},
	}, [][]any{{"1", "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsertTx_NoConflictKeys(t *testing.T) {
	_, _, err := BulkUpsertTx(context.Background(), nil, UpsertConfig{
		Table:   "organizations",
		Columns: []string{"org_id", "name"},
	}, [][]any{{"1", "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestBulkUpsert_StatementSequence(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cols := []string{"org_id", "name"}

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_organizations"}, cols).WillReturnResult(2)
	mock.ExpectExec("DELETE FROM").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectQuery("INSERT INTO").WillReturnRows(
		pgxmock.NewRows([]string{"inserted"}).AddRow(true).AddRow(false))
	mock.ExpectCommit()

	ins, upd, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "organizations",
		Columns:      cols,
		ConflictKeys: []string{"org_id"},
	}, [][]any{{"1", "甲"}, {"2", "乙"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), ins)
	assert.Equal(t, int64(1), upd)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_CompositeConflictKeys(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cols := []string{"org_id", "day", "total"}

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_daily_counts"}, cols).WillReturnResult(1)
	mock.ExpectExec(`a\."org_id" = b\."org_id" AND a\."day" = b\."day"`).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectQuery("INSERT INTO").WillReturnRows(
		pgxmock.NewRows([]string{"inserted"}).AddRow(true))
	mock.ExpectCommit()

	ins, upd, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "daily_counts",
		Columns:      cols,
		ConflictKeys: []string{"org_id", "day"},
	}, [][]any{{"1", "2025-08-01", 3}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), ins)
	assert.Equal(t, int64(0), upd)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"organizations", `"organizations"`},
		{"public.complaints", `"public"."complaints"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := sanitizeTable(tt.input)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	result := quoteAndJoin([]string{"org_id", "name", "path"})
	assert.Equal(t, `"org_id", "name", "path"`, result)
}
