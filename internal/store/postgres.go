package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/wzwatch/wenzheng-cli/internal/db"
	"github.com/wzwatch/wenzheng-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hottest store operations.
var preparedStatements = map[string]string{
	"get_organization": `SELECT org_id, name, parent_id, org_type, level, path, has_children, extra, created_at, updated_at FROM organizations WHERE org_id = $1`,
	"insert_task":      `INSERT INTO crawl_tasks (id, task_type, status, params, started_at) VALUES ($1, $2, $3, $4, $5)`,
	"complete_task":    `UPDATE crawl_tasks SET status = $1, summary = $2, finished_at = $3 WHERE id = $4`,
	"fail_task":        `UPDATE crawl_tasks SET status = $1, error = $2, finished_at = $3 WHERE id = $4`,
	"get_task":         `SELECT id, task_type, status, params, summary, error, started_at, finished_at FROM crawl_tasks WHERE id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return migratePostgres(ctx, s.pool)
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// organizations

var orgColumns = []string{
	"org_id", "name", "parent_id", "org_type", "level", "path",
	"has_children", "extra", "updated_at",
}

const orgSelectColumns = `org_id, name, parent_id, org_type, level, path, has_children, extra, created_at, updated_at`

// pathMove records one node whose stored path differs from the incoming
// batch, with the level shift its descendants inherit.
type pathMove struct {
	orgID      string
	oldPath    string
	newPath    string
	levelDelta int
}

// UpsertOrganizations bulk-upserts the batch and keeps materialized paths
// coherent. Nodes the batch moves are captured before the upsert overwrites
// them; afterwards, stored descendants still holding the old prefix get
// their path and level rewritten inside the same transaction. Moves apply
// deepest-first so a descendant follows its nearest moved ancestor.
func (s *PostgresStore) UpsertOrganizations(ctx context.Context, orgs []model.Organization) (UpsertResult, error) {
	if len(orgs) == 0 {
		return UpsertResult{}, nil
	}
	orgs = dedupeOrganizations(orgs)

	now := time.Now().UTC()
	rows := make([][]any, 0, len(orgs))
	ids := make([]string, 0, len(orgs))
	paths := make([]string, 0, len(orgs))
	levels := make([]int32, 0, len(orgs))
	for _, o := range orgs {
		extra, err := jsonOrNil(o.Extra)
		if err != nil {
			return UpsertResult{}, eris.Wrapf(err, "postgres: marshal extra for %s", o.OrgID)
		}
		rows = append(rows, []any{
			o.OrgID, o.Name, o.ParentID, o.Type, o.Level, o.Path,
			o.HasChildren, extra, now,
		})
		ids = append(ids, o.OrgID)
		paths = append(paths, o.Path)
		levels = append(levels, int32(o.Level))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return UpsertResult{}, eris.Wrap(err, "postgres: begin upsert tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	moves, err := pendingMoves(ctx, tx, ids, paths, levels)
	if err != nil {
		return UpsertResult{}, err
	}

	inserted, updated, err := db.BulkUpsertTx(ctx, tx, db.UpsertConfig{
		Table:        "organizations",
		Columns:      orgColumns,
		ConflictKeys: []string{"org_id"},
	}, rows)
	if err != nil {
		return UpsertResult{}, classifyConflict("organizations", err)
	}

	for _, mv := range moves {
		if _, err := tx.Exec(ctx, `
			UPDATE organizations
			SET path = $2 || substring(path FROM char_length($1) + 1),
			    level = level + $3,
			    updated_at = $4
			WHERE path LIKE $1 || '.%'`,
			mv.oldPath, mv.newPath, mv.levelDelta, now,
		); err != nil {
			return UpsertResult{}, classifyConflict("organizations",
				eris.Wrapf(err, "postgres: cascade path rewrite under %s", mv.oldPath))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return UpsertResult{}, eris.Wrap(err, "postgres: commit upsert tx")
	}
	return UpsertResult{Inserted: inserted, Updated: updated}, nil
}

// pendingMoves diffs the incoming batch against stored paths, deepest old
// path first.
func pendingMoves(ctx context.Context, tx pgx.Tx, ids, paths []string, levels []int32) ([]pathMove, error) {
	rows, err := tx.Query(ctx, `
		SELECT o.org_id, o.path, v.path, v.level - o.level
		FROM organizations o
		JOIN unnest($1::text[], $2::text[], $3::int[]) AS v(org_id, path, level)
		  ON v.org_id = o.org_id
		WHERE o.path <> v.path
		ORDER BY char_length(o.path) DESC`,
		ids, paths, levels)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: diff organization paths")
	}
	defer rows.Close()

	var moves []pathMove
	for rows.Next() {
		var mv pathMove
		if err := rows.Scan(&mv.orgID, &mv.oldPath, &mv.newPath, &mv.levelDelta); err != nil {
			return nil, eris.Wrap(err, "postgres: scan path move")
		}
		moves = append(moves, mv)
	}
	return moves, eris.Wrap(rows.Err(), "postgres: iterate path moves")
}

func (s *PostgresStore) GetOrganization(ctx context.Context, orgID string) (*model.Organization, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orgSelectColumns+` FROM organizations WHERE org_id = $1`, orgID)
	org, err := scanOrganizationPG(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get organization %s", orgID)
	}
	return org, nil
}

func (s *PostgresStore) ListOrganizations(ctx context.Context, filter OrgFilter) ([]model.Organization, error) {
	query, args := buildOrgQuery(`SELECT `+orgSelectColumns+` FROM organizations`, filter, "path")
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list organizations")
	}
	defer rows.Close()

	var orgs []model.Organization
	for rows.Next() {
		org, err := scanOrganizationPG(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan organization")
		}
		orgs = append(orgs, *org)
	}
	return orgs, eris.Wrap(rows.Err(), "postgres: list organizations iterate")
}

// ListOrganizationIDs returns matching ids in (level, org_id) order so crawl
// target selection is deterministic across runs.
func (s *PostgresStore) ListOrganizationIDs(ctx context.Context, filter OrgFilter) ([]string, error) {
	query, args := buildOrgQuery(`SELECT org_id FROM organizations`, filter, "level, org_id")
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list organization ids")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan organization id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "postgres: list organization ids iterate")
}

// buildOrgQuery appends the filter's WHERE clauses and ordering to base.
func buildOrgQuery(base string, filter OrgFilter, orderBy string) (string, []any) {
	query := base + ` WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Level != nil {
		query += fmt.Sprintf(` AND level = $%d`, argIdx)
		args = append(args, *filter.Level)
		argIdx++
	}
	if len(filter.Types) > 0 {
		query += fmt.Sprintf(` AND org_type = ANY($%d)`, argIdx)
		args = append(args, filter.Types)
		argIdx++
	}
	if filter.ParentID != "" {
		query += fmt.Sprintf(` AND parent_id = $%d`, argIdx)
		args = append(args, filter.ParentID)
		argIdx++
	}
	if filter.PathPrefix != "" {
		query += fmt.Sprintf(` AND (path = $%d OR path LIKE $%d || '.%%')`, argIdx, argIdx)
		args = append(args, filter.PathPrefix)
		argIdx++
	}
	if filter.LeafOnly {
		query += ` AND has_children = false`
	}

	query += ` ORDER BY ` + orderBy

	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, filter.Limit)
		argIdx++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}
	return query, args
}

func (s *PostgresStore) Subtree(ctx context.Context, orgID string) ([]model.Organization, error) {
	root, err := s.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, eris.Errorf("organization not found: %s", orgID)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+orgSelectColumns+` FROM organizations
		 WHERE path = $1 OR path LIKE $1 || '.%'
		 ORDER BY path`,
		root.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: subtree of %s", orgID)
	}
	defer rows.Close()

	var orgs []model.Organization
	for rows.Next() {
		org, err := scanOrganizationPG(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan subtree organization")
		}
		orgs = append(orgs, *org)
	}
	return orgs, eris.Wrap(rows.Err(), "postgres: subtree iterate")
}

func (s *PostgresStore) OrganizationStats(ctx context.Context) (*OrgStats, error) {
	stats := &OrgStats{
		ByLevel: make(map[int]int),
		ByType:  make(map[string]int),
	}

	err := s.pool.QueryRow(ctx,
		`SELECT count(*), count(*) FILTER (WHERE has_children = false) FROM organizations`,
	).Scan(&stats.Total, &stats.Leaves)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: organization totals")
	}

	rows, err := s.pool.Query(ctx, `SELECT level, count(*) FROM organizations GROUP BY level`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: organizations by level")
	}
	defer rows.Close()
	for rows.Next() {
		var level, n int
		if err := rows.Scan(&level, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan level count")
		}
		stats.ByLevel[level] = n
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate level counts")
	}

	typeRows, err := s.pool.Query(ctx, `SELECT org_type, count(*) FROM organizations GROUP BY org_type`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: organizations by type")
	}
	defer typeRows.Close()
	for typeRows.Next() {
		var orgType string
		var n int
		if err := typeRows.Scan(&orgType, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan type count")
		}
		stats.ByType[orgType] = n
	}
	return stats, eris.Wrap(typeRows.Err(), "postgres: iterate type counts")
}

// complaints

var complaintColumns = []string{
	"thread_id", "title", "content", "org_id", "handle_status", "reply_status",
	"category", "source", "area_id", "field_id", "sort_id", "attaches", "raw",
	"created_at", "updated_at", "synced_at",
}

const complaintSelectColumns = `thread_id, title, content, org_id, handle_status, reply_status, category, source, area_id, field_id, sort_id, attaches, created_at, updated_at, synced_at`

func (s *PostgresStore) UpsertComplaints(ctx context.Context, complaints []model.Complaint) (UpsertResult, error) {
	if len(complaints) == 0 {
		return UpsertResult{}, nil
	}
	complaints = dedupeComplaints(complaints)

	now := time.Now().UTC()
	rows := make([][]any, 0, len(complaints))
	for _, c := range complaints {
		rows = append(rows, []any{
			c.ThreadID, c.Title, c.Content, c.OrgID, c.HandleStatus, c.ReplyStatus,
			c.Category, c.Source, c.AreaID, c.FieldID, c.SortID,
			rawOrNil(c.Attaches), rawOrNil(c.Raw),
			timeOrNil(c.CreatedAt), timeOrNil(c.UpdatedAt), now,
		})
	}

	inserted, updated, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "complaints",
		Columns:      complaintColumns,
		ConflictKeys: []string{"thread_id"},
	}, rows)
	if err != nil {
		return UpsertResult{}, classifyConflict("complaints", err)
	}
	return UpsertResult{Inserted: inserted, Updated: updated}, nil
}

func (s *PostgresStore) ListComplaints(ctx context.Context, filter ComplaintFilter) ([]model.Complaint, error) {
	query := `SELECT ` + complaintSelectColumns + ` FROM complaints WHERE true`
	args := []any{}
	argIdx := 1

	if filter.OrgID != "" {
		query += fmt.Sprintf(` AND org_id = $%d`, argIdx)
		args = append(args, filter.OrgID)
		argIdx++
	}
	if filter.Category != "" {
		query += fmt.Sprintf(` AND category = $%d`, argIdx)
		args = append(args, filter.Category)
		argIdx++
	}
	if filter.HandleStatus != "" {
		query += fmt.Sprintf(` AND handle_status = $%d`, argIdx)
		args = append(args, filter.HandleStatus)
		argIdx++
	}
	if filter.Since != nil {
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, *filter.Since)
		argIdx++
	}

	query += ` ORDER BY created_at DESC NULLS LAST, thread_id`

	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, filter.Limit)
		argIdx++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list complaints")
	}
	defer rows.Close()

	var complaints []model.Complaint
	for rows.Next() {
		c, err := scanComplaintPG(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan complaint")
		}
		complaints = append(complaints, *c)
	}
	return complaints, eris.Wrap(rows.Err(), "postgres: list complaints iterate")
}

func (s *PostgresStore) ComplaintStats(ctx context.Context) (*ComplaintStats, error) {
	stats := &ComplaintStats{
		ByCategory: make(map[string]int),
		ByStatus:   make(map[string]int),
	}

	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM complaints`).Scan(&stats.Total); err != nil {
		return nil, eris.Wrap(err, "postgres: complaint total")
	}

	catRows, err := s.pool.Query(ctx, `SELECT category, count(*) FROM complaints GROUP BY category`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: complaints by category")
	}
	defer catRows.Close()
	for catRows.Next() {
		var category string
		var n int
		if err := catRows.Scan(&category, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan category count")
		}
		stats.ByCategory[category] = n
	}
	if err := catRows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate category counts")
	}

	statusRows, err := s.pool.Query(ctx, `SELECT handle_status, count(*) FROM complaints GROUP BY handle_status`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: complaints by status")
	}
	defer statusRows.Close()
	for statusRows.Next() {
		var status string
		var n int
		if err := statusRows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan status count")
		}
		stats.ByStatus[status] = n
	}
	return stats, eris.Wrap(statusRows.Err(), "postgres: iterate status counts")
}

// crawl task log

func (s *PostgresStore) StartTask(ctx context.Context, taskType model.TaskType, params map[string]any) (*model.CrawlTask, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	paramsJSON, err := jsonOrNil(params)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal task params")
	}

	if _, err := s.pool.Exec(ctx,
		`INSERT INTO crawl_tasks (id, task_type, status, params, started_at) VALUES ($1, $2, $3, $4, $5)`,
		id, string(taskType), string(model.TaskStatusRunning), paramsJSON, now,
	); err != nil {
		return nil, eris.Wrap(err, "postgres: insert task")
	}

	return &model.CrawlTask{
		ID:        id,
		Type:      taskType,
		Status:    model.TaskStatusRunning,
		Params:    params,
		StartedAt: now,
	}, nil
}

func (s *PostgresStore) CompleteTask(ctx context.Context, taskID string, status model.TaskStatus, summary *model.TaskSummary) error {
	summaryJSON, err := jsonOrNil(summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal task summary")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE crawl_tasks SET status = $1, summary = $2, finished_at = $3 WHERE id = $4`,
		string(status), summaryJSON, time.Now().UTC(), taskID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete task %s", taskID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("task not found: %s", taskID)
	}
	return nil
}

func (s *PostgresStore) FailTask(ctx context.Context, taskID string, cause string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE crawl_tasks SET status = $1, error = $2, finished_at = $3 WHERE id = $4`,
		string(model.TaskStatusFailed), cause, time.Now().UTC(), taskID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail task %s", taskID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("task not found: %s", taskID)
	}
	return nil
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (*model.CrawlTask, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, task_type, status, params, summary, error, started_at, finished_at
		 FROM crawl_tasks WHERE id = $1`, taskID)
	task, err := scanTaskPG(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get task %s", taskID)
	}
	return task, nil
}

func (s *PostgresStore) ListTasks(ctx context.Context, filter TaskFilter) ([]model.CrawlTask, error) {
	query := `SELECT id, task_type, status, params, summary, error, started_at, finished_at FROM crawl_tasks WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Type != "" {
		query += fmt.Sprintf(` AND task_type = $%d`, argIdx)
		args = append(args, string(filter.Type))
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list tasks")
	}
	defer rows.Close()

	var tasks []model.CrawlTask
	for rows.Next() {
		task, err := scanTaskPG(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan task")
		}
		tasks = append(tasks, *task)
	}
	return tasks, eris.Wrap(rows.Err(), "postgres: list tasks iterate")
}

// scan helpers

type pgScannable interface {
	Scan(dest ...any) error
}

func scanOrganizationPG(row pgScannable) (*model.Organization, error) {
	var org model.Organization
	var extraJSON []byte
	if err := row.Scan(
		&org.OrgID, &org.Name, &org.ParentID, &org.Type, &org.Level, &org.Path,
		&org.HasChildren, &extraJSON, &org.CreatedAt, &org.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(extraJSON) > 0 {
		if err := json.Unmarshal(extraJSON, &org.Extra); err != nil {
			return nil, eris.Wrap(err, "unmarshal organization extra")
		}
	}
	return &org, nil
}

func scanComplaintPG(row pgScannable) (*model.Complaint, error) {
	var c model.Complaint
	var created, updated *time.Time
	if err := row.Scan(
		&c.ThreadID, &c.Title, &c.Content, &c.OrgID, &c.HandleStatus, &c.ReplyStatus,
		&c.Category, &c.Source, &c.AreaID, &c.FieldID, &c.SortID,
		&c.Attaches, &created, &updated, &c.SyncedAt,
	); err != nil {
		return nil, err
	}
	if created != nil {
		c.CreatedAt = *created
	}
	if updated != nil {
		c.UpdatedAt = *updated
	}
	return &c, nil
}

func scanTaskPG(row pgScannable) (*model.CrawlTask, error) {
	var task model.CrawlTask
	var taskType, status string
	var paramsJSON, summaryJSON []byte
	if err := row.Scan(
		&task.ID, &taskType, &status, &paramsJSON, &summaryJSON,
		&task.Error, &task.StartedAt, &task.FinishedAt,
	); err != nil {
		return nil, err
	}
	task.Type = model.TaskType(taskType)
	task.Status = model.TaskStatus(status)
	if len(paramsJSON) > 0 {
		if err := json.Unmarshal(paramsJSON, &task.Params); err != nil {
			return nil, eris.Wrap(err, "unmarshal task params")
		}
	}
	if len(summaryJSON) > 0 {
		task.Summary = &model.TaskSummary{}
		if err := json.Unmarshal(summaryJSON, task.Summary); err != nil {
			return nil, eris.Wrap(err, "unmarshal task summary")
		}
	}
	return &task, nil
}

// shared helpers

// dedupeComplaints keeps the last occurrence per thread id. A batch with an
// internal duplicate would otherwise hit the same conflict target twice in
// one upsert statement, which postgres rejects outright.
func dedupeComplaints(complaints []model.Complaint) []model.Complaint {
	last := make(map[string]int, len(complaints))
	for i, c := range complaints {
		last[c.ThreadID] = i
	}
	if len(last) == len(complaints) {
		return complaints
	}
	out := make([]model.Complaint, 0, len(last))
	for i, c := range complaints {
		if last[c.ThreadID] == i {
			out = append(out, c)
		}
	}
	return out
}

// dedupeOrganizations keeps the last occurrence per org id, preserving the
// relative order of the survivors.
func dedupeOrganizations(orgs []model.Organization) []model.Organization {
	last := make(map[string]int, len(orgs))
	for i, o := range orgs {
		last[o.OrgID] = i
	}
	if len(last) == len(orgs) {
		return orgs
	}
	out := make([]model.Organization, 0, len(last))
	for i, o := range orgs {
		if last[o.OrgID] == i {
			out = append(out, o)
		}
	}
	return out
}

// classifyConflict maps integrity violations (SQLSTATE class 23) to
// ConflictError; anything else passes through.
func classifyConflict(table string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23") {
		return &ConflictError{Table: table, Err: err}
	}
	return err
}

func jsonOrNil(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		if val == nil {
			return nil, nil
		}
	case *model.TaskSummary:
		if val == nil {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func rawOrNil(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func timeOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
