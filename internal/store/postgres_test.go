package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wzwatch/wenzheng-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return &PostgresStore{pool: mock}, mock
}

func TestPostgresStore_UpsertOrganizations_StatementSequence(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT o\.org_id, o\.path, v\.path, v\.level - o\.level`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"org_id", "old_path", "new_path", "level_delta"}))
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_organizations"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_organizations"}, orgColumns).
		WillReturnResult(2)
	mock.ExpectExec(`DELETE FROM "_tmp_upsert_organizations"`).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectQuery(`INSERT INTO "organizations"`).
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(true).AddRow(false))
	mock.ExpectCommit()

	res, err := s.UpsertOrganizations(context.Background(), []model.Organization{
		{OrgID: "P1", Name: "四川省", Type: model.OrgTypeProvince, Level: 0, Path: "P1", HasChildren: true},
		{OrgID: "C1", Name: "成都市", ParentID: "P1", Type: model.OrgTypeCity, Level: 1, Path: "P1.C1"},
	})
	require.NoError(t, err)
	assert.Equal(t, UpsertResult{Inserted: 1, Updated: 1}, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertOrganizations_CascadesMovedPaths(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	// D1 is stored under C1 but arrives under C2: its stale descendants get
	// the prefix swap after the upsert, inside the same transaction.
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT o\.org_id, o\.path, v\.path, v\.level - o\.level`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"org_id", "old_path", "new_path", "level_delta"}).
			AddRow("D1", "P1.C1.D1", "P1.C2.D1", 0))
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_organizations"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_organizations"}, orgColumns).
		WillReturnResult(1)
	mock.ExpectExec(`DELETE FROM "_tmp_upsert_organizations"`).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectQuery(`INSERT INTO "organizations"`).
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(false))
	mock.ExpectExec(`UPDATE organizations`).
		WithArgs("P1.C1.D1", "P1.C2.D1", 0, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))
	mock.ExpectCommit()

	res, err := s.UpsertOrganizations(context.Background(), []model.Organization{
		{OrgID: "D1", Name: "城乡建设局", ParentID: "C2", Type: model.OrgTypeDepartment, Level: 2, Path: "P1.C2.D1"},
	})
	require.NoError(t, err)
	assert.Equal(t, UpsertResult{Updated: 1}, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertOrganizations_IntegrityViolation(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT o\.org_id, o\.path, v\.path, v\.level - o\.level`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"org_id", "old_path", "new_path", "level_delta"}))
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_organizations"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_organizations"}, orgColumns).
		WillReturnResult(1)
	mock.ExpectExec(`DELETE FROM "_tmp_upsert_organizations"`).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectQuery(`INSERT INTO "organizations"`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "organizations_path_key"})
	mock.ExpectRollback()

	_, err := s.UpsertOrganizations(context.Background(), []model.Organization{
		{OrgID: "X9", Name: "重复路径", Level: 1, Path: "P1.C1"},
	})
	require.Error(t, err)
	assert.True(t, IsConflict(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertOrganizations_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	res, err := s.UpsertOrganizations(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, UpsertResult{}, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertComplaints_StatementSequence(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_complaints"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_complaints"}, complaintColumns).
		WillReturnResult(2)
	mock.ExpectExec(`DELETE FROM "_tmp_upsert_complaints"`).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectQuery(`INSERT INTO "complaints"`).
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(true).AddRow(true))
	mock.ExpectCommit()

	res, err := s.UpsertComplaints(context.Background(), []model.Complaint{
		{ThreadID: "1001", Title: "道路积水无人处理", OrgID: "D2"},
		{ThreadID: "1002", Title: "小区噪音扰民", OrgID: "D2"},
	})
	require.NoError(t, err)
	assert.Equal(t, UpsertResult{Inserted: 2}, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetOrganization_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT org_id, .* FROM organizations WHERE org_id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	org, err := s.GetOrganization(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, org)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetOrganization_Found(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT org_id, .* FROM organizations WHERE org_id = \$1`).
		WithArgs("C1").
		WillReturnRows(pgxmock.NewRows([]string{
			"org_id", "name", "parent_id", "org_type", "level", "path",
			"has_children", "extra", "created_at", "updated_at",
		}).AddRow("C1", "成都市", "P1", model.OrgTypeCity, 1, "P1.C1",
			true, []byte(`{"origin_id":42}`), now, now))

	org, err := s.GetOrganization(context.Background(), "C1")
	require.NoError(t, err)
	require.NotNil(t, org)
	assert.Equal(t, "成都市", org.Name)
	assert.Equal(t, "P1.C1", org.Path)
	assert.Equal(t, 1, org.Level)
	assert.Equal(t, float64(42), org.Extra["origin_id"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_StartTask(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO crawl_tasks`).
		WithArgs(pgxmock.AnyArg(), "organization-tree", "running", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	task, err := s.StartTask(context.Background(), model.TaskTypeOrganizationTree, map[string]any{"city": "5101"})
	require.NoError(t, err)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, model.TaskStatusRunning, task.Status)
	assert.Equal(t, "5101", task.Params["city"])
	assert.False(t, task.StartedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteTask_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE crawl_tasks SET status = \$1, summary`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.CompleteTask(context.Background(), "no-such-task", model.TaskStatusSucceeded, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FailTask(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE crawl_tasks SET status = \$1, error`).
		WithArgs("failed", "upstream 503", pgxmock.AnyArg(), "task-9").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.FailTask(context.Background(), "task-9", "upstream 503")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetTask_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, task_type, status`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	task, err := s.GetTask(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, task)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildOrgQuery(t *testing.T) {
	t.Run("no filter", func(t *testing.T) {
		query, args := buildOrgQuery(`SELECT org_id FROM organizations`, OrgFilter{}, "level, org_id")
		assert.Equal(t, `SELECT org_id FROM organizations WHERE true ORDER BY level, org_id`, query)
		assert.Empty(t, args)
	})

	t.Run("leaf level filter", func(t *testing.T) {
		level := 2
		query, args := buildOrgQuery(`SELECT org_id FROM organizations`, OrgFilter{
			Level:    &level,
			LeafOnly: true,
		}, "path")
		assert.Contains(t, query, `level = $1`)
		assert.Contains(t, query, `has_children = false`)
		assert.Equal(t, []any{2}, args)
	})

	t.Run("all filters number placeholders in order", func(t *testing.T) {
		level := 1
		query, args := buildOrgQuery(`SELECT org_id FROM organizations`, OrgFilter{
			Level:      &level,
			Types:      []string{model.OrgTypeCity},
			ParentID:   "P1",
			PathPrefix: "P1.C1",
			Limit:      10,
			Offset:     20,
		}, "path")
		assert.Contains(t, query, `level = $1`)
		assert.Contains(t, query, `org_type = ANY($2)`)
		assert.Contains(t, query, `parent_id = $3`)
		assert.Contains(t, query, `(path = $4 OR path LIKE $4 || '.%')`)
		assert.Contains(t, query, `LIMIT $5`)
		assert.Contains(t, query, `OFFSET $6`)
		assert.Len(t, args, 6)
	})
}
