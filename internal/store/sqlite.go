package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/wzwatch/wenzheng-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It takes the
// row-at-a-time route where Postgres uses COPY; fine at the scale of one
// province's tree.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: sqlDB}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS organizations (
	org_id       TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	parent_id    TEXT NOT NULL DEFAULT '',
	org_type     TEXT NOT NULL DEFAULT '',
	level        INTEGER NOT NULL DEFAULT 0,
	path         TEXT NOT NULL UNIQUE,
	has_children BOOLEAN NOT NULL DEFAULT 0,
	extra        TEXT,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS complaints (
	thread_id     TEXT PRIMARY KEY,
	title         TEXT NOT NULL DEFAULT '',
	content       TEXT NOT NULL DEFAULT '',
	org_id        TEXT NOT NULL DEFAULT '',
	handle_status TEXT NOT NULL DEFAULT '',
	reply_status  TEXT NOT NULL DEFAULT '',
	category      TEXT NOT NULL DEFAULT '',
	source        TEXT NOT NULL DEFAULT '',
	area_id       TEXT NOT NULL DEFAULT '',
	field_id      TEXT NOT NULL DEFAULT '',
	sort_id       TEXT NOT NULL DEFAULT '',
	attaches      TEXT,
	raw           TEXT,
	created_at    DATETIME,
	updated_at    DATETIME,
	synced_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS crawl_tasks (
	id          TEXT PRIMARY KEY,
	task_type   TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	params      TEXT,
	summary     TEXT,
	error       TEXT NOT NULL DEFAULT '',
	started_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	finished_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_organizations_parent ON organizations(parent_id);
CREATE INDEX IF NOT EXISTS idx_organizations_level ON organizations(level);
CREATE INDEX IF NOT EXISTS idx_organizations_path ON organizations(path);
CREATE INDEX IF NOT EXISTS idx_complaints_org ON complaints(org_id);
CREATE INDEX IF NOT EXISTS idx_complaints_category ON complaints(category);
CREATE INDEX IF NOT EXISTS idx_complaints_created_at ON complaints(created_at);
CREATE INDEX IF NOT EXISTS idx_crawl_tasks_status ON crawl_tasks(status);
CREATE INDEX IF NOT EXISTS idx_crawl_tasks_started ON crawl_tasks(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// organizations

const sqliteOrgSelect = `SELECT org_id, name, parent_id, org_type, level, path, has_children, extra, created_at, updated_at FROM organizations`

// UpsertOrganizations mirrors the Postgres semantics: batch-level last-wins
// dedup, insert/update counting, and the in-transaction path cascade for
// stored descendants of moved nodes.
func (s *SQLiteStore) UpsertOrganizations(ctx context.Context, orgs []model.Organization) (UpsertResult, error) {
	if len(orgs) == 0 {
		return UpsertResult{}, nil
	}
	orgs = dedupeOrganizations(orgs)
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return UpsertResult{}, eris.Wrap(err, "sqlite: begin upsert tx")
	}
	defer tx.Rollback() //nolint:errcheck

	var result UpsertResult
	var moves []pathMove
	for _, o := range orgs {
		var oldPath string
		var oldLevel int
		err := tx.QueryRowContext(ctx,
			`SELECT path, level FROM organizations WHERE org_id = ?`, o.OrgID,
		).Scan(&oldPath, &oldLevel)
		switch {
		case err == sql.ErrNoRows:
			result.Inserted++
		case err != nil:
			return UpsertResult{}, eris.Wrapf(err, "sqlite: check organization %s", o.OrgID)
		default:
			result.Updated++
			if oldPath != o.Path {
				moves = append(moves, pathMove{
					orgID:      o.OrgID,
					oldPath:    oldPath,
					newPath:    o.Path,
					levelDelta: o.Level - oldLevel,
				})
			}
		}

		extra, err := jsonStringOrNil(o.Extra)
		if err != nil {
			return UpsertResult{}, eris.Wrapf(err, "sqlite: marshal extra for %s", o.OrgID)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO organizations (org_id, name, parent_id, org_type, level, path, has_children, extra, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(org_id) DO UPDATE SET
				name = excluded.name,
				parent_id = excluded.parent_id,
				org_type = excluded.org_type,
				level = excluded.level,
				path = excluded.path,
				has_children = excluded.has_children,
				extra = excluded.extra,
				updated_at = excluded.updated_at`,
			o.OrgID, o.Name, o.ParentID, o.Type, o.Level, o.Path,
			o.HasChildren, extra, now, now,
		); err != nil {
			return UpsertResult{}, classifySQLiteConflict("organizations",
				eris.Wrapf(err, "sqlite: upsert organization %s", o.OrgID))
		}
	}

	// Deepest old path first so a descendant follows its nearest moved
	// ancestor.
	sort.Slice(moves, func(i, j int) bool {
		return len(moves[i].oldPath) > len(moves[j].oldPath)
	})
	for _, mv := range moves {
		if _, err := tx.ExecContext(ctx, `
			UPDATE organizations
			SET path = ? || substr(path, length(?) + 1),
			    level = level + ?,
			    updated_at = ?
			WHERE path LIKE ? || '.%'`,
			mv.newPath, mv.oldPath, mv.levelDelta, now, mv.oldPath,
		); err != nil {
			return UpsertResult{}, classifySQLiteConflict("organizations",
				eris.Wrapf(err, "sqlite: cascade path rewrite under %s", mv.oldPath))
		}
	}

	if err := tx.Commit(); err != nil {
		return UpsertResult{}, eris.Wrap(err, "sqlite: commit upsert tx")
	}
	return result, nil
}

func (s *SQLiteStore) GetOrganization(ctx context.Context, orgID string) (*model.Organization, error) {
	row := s.db.QueryRowContext(ctx, sqliteOrgSelect+` WHERE org_id = ?`, orgID)
	org, err := scanOrganizationSQLite(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get organization %s", orgID)
	}
	return org, nil
}

func (s *SQLiteStore) ListOrganizations(ctx context.Context, filter OrgFilter) ([]model.Organization, error) {
	query, args := buildOrgQuerySQLite(sqliteOrgSelect, filter, "path")
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list organizations")
	}
	defer rows.Close()

	var orgs []model.Organization
	for rows.Next() {
		org, err := scanOrganizationSQLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan organization")
		}
		orgs = append(orgs, *org)
	}
	return orgs, eris.Wrap(rows.Err(), "sqlite: list organizations iterate")
}

// ListOrganizationIDs returns matching ids in (level, org_id) order so crawl
// target selection is deterministic across runs.
func (s *SQLiteStore) ListOrganizationIDs(ctx context.Context, filter OrgFilter) ([]string, error) {
	query, args := buildOrgQuerySQLite(`SELECT org_id FROM organizations`, filter, "level, org_id")
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list organization ids")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan organization id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "sqlite: list organization ids iterate")
}

func buildOrgQuerySQLite(base string, filter OrgFilter, orderBy string) (string, []any) {
	query := base + ` WHERE 1=1`
	var args []any

	if filter.Level != nil {
		query += ` AND level = ?`
		args = append(args, *filter.Level)
	}
	if len(filter.Types) > 0 {
		query += ` AND org_type IN (` + placeholders(len(filter.Types)) + `)`
		for _, t := range filter.Types {
			args = append(args, t)
		}
	}
	if filter.ParentID != "" {
		query += ` AND parent_id = ?`
		args = append(args, filter.ParentID)
	}
	if filter.PathPrefix != "" {
		query += ` AND (path = ? OR path LIKE ? || '.%')`
		args = append(args, filter.PathPrefix, filter.PathPrefix)
	}
	if filter.LeafOnly {
		query += ` AND has_children = 0`
	}

	query += ` ORDER BY ` + orderBy
	query, args = appendLimitOffset(query, args, filter.Limit, filter.Offset)
	return query, args
}

// appendLimitOffset adds paging clauses; SQLite needs a LIMIT (-1 meaning
// unbounded) before it accepts an OFFSET.
func appendLimitOffset(query string, args []any, limit, offset int) (string, []any) {
	if limit <= 0 && offset <= 0 {
		return query, args
	}
	if limit <= 0 {
		limit = -1
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if offset > 0 {
		query += ` OFFSET ?`
		args = append(args, offset)
	}
	return query, args
}

func (s *SQLiteStore) Subtree(ctx context.Context, orgID string) ([]model.Organization, error) {
	root, err := s.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, eris.Errorf("organization not found: %s", orgID)
	}

	rows, err := s.db.QueryContext(ctx,
		sqliteOrgSelect+` WHERE path = ? OR path LIKE ? || '.%' ORDER BY path`,
		root.Path, root.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: subtree of %s", orgID)
	}
	defer rows.Close()

	var orgs []model.Organization
	for rows.Next() {
		org, err := scanOrganizationSQLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan subtree organization")
		}
		orgs = append(orgs, *org)
	}
	return orgs, eris.Wrap(rows.Err(), "sqlite: subtree iterate")
}

func (s *SQLiteStore) OrganizationStats(ctx context.Context) (*OrgStats, error) {
	stats := &OrgStats{
		ByLevel: make(map[int]int),
		ByType:  make(map[string]int),
	}

	err := s.db.QueryRowContext(ctx,
		`SELECT count(*), count(*) FILTER (WHERE has_children = 0) FROM organizations`,
	).Scan(&stats.Total, &stats.Leaves)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: organization totals")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT level, count(*) FROM organizations GROUP BY level`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: organizations by level")
	}
	defer rows.Close()
	for rows.Next() {
		var level, n int
		if err := rows.Scan(&level, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan level count")
		}
		stats.ByLevel[level] = n
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate level counts")
	}

	typeRows, err := s.db.QueryContext(ctx, `SELECT org_type, count(*) FROM organizations GROUP BY org_type`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: organizations by type")
	}
	defer typeRows.Close()
	for typeRows.Next() {
		var orgType string
		var n int
		if err := typeRows.Scan(&orgType, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan type count")
		}
		stats.ByType[orgType] = n
	}
	return stats, eris.Wrap(typeRows.Err(), "sqlite: iterate type counts")
}

// complaints

const sqliteComplaintSelect = `SELECT thread_id, title, content, org_id, handle_status, reply_status, category, source, area_id, field_id, sort_id, attaches, created_at, updated_at, synced_at FROM complaints`

func (s *SQLiteStore) UpsertComplaints(ctx context.Context, complaints []model.Complaint) (UpsertResult, error) {
	if len(complaints) == 0 {
		return UpsertResult{}, nil
	}
	complaints = dedupeComplaints(complaints)
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return UpsertResult{}, eris.Wrap(err, "sqlite: begin upsert tx")
	}
	defer tx.Rollback() //nolint:errcheck

	var result UpsertResult
	for _, c := range complaints {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM complaints WHERE thread_id = ?)`, c.ThreadID,
		).Scan(&exists); err != nil {
			return UpsertResult{}, eris.Wrapf(err, "sqlite: check complaint %s", c.ThreadID)
		}
		if exists {
			result.Updated++
		} else {
			result.Inserted++
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO complaints (thread_id, title, content, org_id, handle_status, reply_status,
				category, source, area_id, field_id, sort_id, attaches, raw, created_at, updated_at, synced_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(thread_id) DO UPDATE SET
				title = excluded.title,
				content = excluded.content,
				org_id = excluded.org_id,
				handle_status = excluded.handle_status,
				reply_status = excluded.reply_status,
				category = excluded.category,
				source = excluded.source,
				area_id = excluded.area_id,
				field_id = excluded.field_id,
				sort_id = excluded.sort_id,
				attaches = excluded.attaches,
				raw = excluded.raw,
				created_at = excluded.created_at,
				updated_at = excluded.updated_at,
				synced_at = excluded.synced_at`,
			c.ThreadID, c.Title, c.Content, c.OrgID, c.HandleStatus, c.ReplyStatus,
			c.Category, c.Source, c.AreaID, c.FieldID, c.SortID,
			strOrNil(c.Attaches), strOrNil(c.Raw),
			timeOrNil(c.CreatedAt), timeOrNil(c.UpdatedAt), now,
		); err != nil {
			return UpsertResult{}, classifySQLiteConflict("complaints",
				eris.Wrapf(err, "sqlite: upsert complaint %s", c.ThreadID))
		}
	}

	if err := tx.Commit(); err != nil {
		return UpsertResult{}, eris.Wrap(err, "sqlite: commit upsert tx")
	}
	return result, nil
}

func (s *SQLiteStore) ListComplaints(ctx context.Context, filter ComplaintFilter) ([]model.Complaint, error) {
	query := sqliteComplaintSelect + ` WHERE 1=1`
	var args []any

	if filter.OrgID != "" {
		query += ` AND org_id = ?`
		args = append(args, filter.OrgID)
	}
	if filter.Category != "" {
		query += ` AND category = ?`
		args = append(args, filter.Category)
	}
	if filter.HandleStatus != "" {
		query += ` AND handle_status = ?`
		args = append(args, filter.HandleStatus)
	}
	if filter.Since != nil {
		query += ` AND created_at >= ?`
		args = append(args, *filter.Since)
	}

	query += ` ORDER BY created_at DESC NULLS LAST, thread_id`
	query, args = appendLimitOffset(query, args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list complaints")
	}
	defer rows.Close()

	var complaints []model.Complaint
	for rows.Next() {
		c, err := scanComplaintSQLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan complaint")
		}
		complaints = append(complaints, *c)
	}
	return complaints, eris.Wrap(rows.Err(), "sqlite: list complaints iterate")
}

func (s *SQLiteStore) ComplaintStats(ctx context.Context) (*ComplaintStats, error) {
	stats := &ComplaintStats{
		ByCategory: make(map[string]int),
		ByStatus:   make(map[string]int),
	}

	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM complaints`).Scan(&stats.Total); err != nil {
		return nil, eris.Wrap(err, "sqlite: complaint total")
	}

	catRows, err := s.db.QueryContext(ctx, `SELECT category, count(*) FROM complaints GROUP BY category`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: complaints by category")
	}
	defer catRows.Close()
	for catRows.Next() {
		var category string
		var n int
		if err := catRows.Scan(&category, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan category count")
		}
		stats.ByCategory[category] = n
	}
	if err := catRows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate category counts")
	}

	statusRows, err := s.db.QueryContext(ctx, `SELECT handle_status, count(*) FROM complaints GROUP BY handle_status`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: complaints by status")
	}
	defer statusRows.Close()
	for statusRows.Next() {
		var status string
		var n int
		if err := statusRows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan status count")
		}
		stats.ByStatus[status] = n
	}
	return stats, eris.Wrap(statusRows.Err(), "sqlite: iterate status counts")
}

// crawl task log

func (s *SQLiteStore) StartTask(ctx context.Context, taskType model.TaskType, params map[string]any) (*model.CrawlTask, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	paramsJSON, err := jsonStringOrNil(params)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal task params")
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO crawl_tasks (id, task_type, status, params, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, string(taskType), string(model.TaskStatusRunning), paramsJSON, now,
	); err != nil {
		return nil, eris.Wrap(err, "sqlite: insert task")
	}

	return &model.CrawlTask{
		ID:        id,
		Type:      taskType,
		Status:    model.TaskStatusRunning,
		Params:    params,
		StartedAt: now,
	}, nil
}

func (s *SQLiteStore) CompleteTask(ctx context.Context, taskID string, status model.TaskStatus, summary *model.TaskSummary) error {
	var summaryJSON any
	if summary != nil {
		data, err := json.Marshal(summary)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal task summary")
		}
		summaryJSON = string(data)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE crawl_tasks SET status = ?, summary = ?, finished_at = ? WHERE id = ?`,
		string(status), summaryJSON, time.Now().UTC(), taskID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete task %s", taskID)
	}
	return checkRowsAffected(res, "task", taskID)
}

func (s *SQLiteStore) FailTask(ctx context.Context, taskID string, cause string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE crawl_tasks SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(model.TaskStatusFailed), cause, time.Now().UTC(), taskID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail task %s", taskID)
	}
	return checkRowsAffected(res, "task", taskID)
}

func (s *SQLiteStore) GetTask(ctx context.Context, taskID string) (*model.CrawlTask, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, task_type, status, params, summary, error, started_at, finished_at
		 FROM crawl_tasks WHERE id = ?`, taskID)
	task, err := scanTaskSQLite(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get task %s", taskID)
	}
	return task, nil
}

func (s *SQLiteStore) ListTasks(ctx context.Context, filter TaskFilter) ([]model.CrawlTask, error) {
	query := `SELECT id, task_type, status, params, summary, error, started_at, finished_at FROM crawl_tasks WHERE 1=1`
	var args []any

	if filter.Type != "" {
		query += ` AND task_type = ?`
		args = append(args, string(filter.Type))
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list tasks")
	}
	defer rows.Close()

	var tasks []model.CrawlTask
	for rows.Next() {
		task, err := scanTaskSQLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan task")
		}
		tasks = append(tasks, *task)
	}
	return tasks, eris.Wrap(rows.Err(), "sqlite: list tasks iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanOrganizationSQLite(row scannable) (*model.Organization, error) {
	var org model.Organization
	var extraJSON sql.NullString
	if err := row.Scan(
		&org.OrgID, &org.Name, &org.ParentID, &org.Type, &org.Level, &org.Path,
		&org.HasChildren, &extraJSON, &org.CreatedAt, &org.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if extraJSON.Valid && extraJSON.String != "" {
		if err := json.Unmarshal([]byte(extraJSON.String), &org.Extra); err != nil {
			return nil, eris.Wrap(err, "unmarshal organization extra")
		}
	}
	return &org, nil
}

func scanComplaintSQLite(row scannable) (*model.Complaint, error) {
	var c model.Complaint
	var attaches sql.NullString
	var created, updated sql.NullTime
	if err := row.Scan(
		&c.ThreadID, &c.Title, &c.Content, &c.OrgID, &c.HandleStatus, &c.ReplyStatus,
		&c.Category, &c.Source, &c.AreaID, &c.FieldID, &c.SortID,
		&attaches, &created, &updated, &c.SyncedAt,
	); err != nil {
		return nil, err
	}
	if attaches.Valid {
		c.Attaches = json.RawMessage(attaches.String)
	}
	if created.Valid {
		c.CreatedAt = created.Time
	}
	if updated.Valid {
		c.UpdatedAt = updated.Time
	}
	return &c, nil
}

func scanTaskSQLite(row scannable) (*model.CrawlTask, error) {
	var task model.CrawlTask
	var taskType, status string
	var paramsJSON, summaryJSON sql.NullString
	var finished sql.NullTime
	if err := row.Scan(
		&task.ID, &taskType, &status, &paramsJSON, &summaryJSON,
		&task.Error, &task.StartedAt, &finished,
	); err != nil {
		return nil, err
	}
	task.Type = model.TaskType(taskType)
	task.Status = model.TaskStatus(status)
	if paramsJSON.Valid && paramsJSON.String != "" {
		if err := json.Unmarshal([]byte(paramsJSON.String), &task.Params); err != nil {
			return nil, eris.Wrap(err, "unmarshal task params")
		}
	}
	if summaryJSON.Valid && summaryJSON.String != "" {
		task.Summary = &model.TaskSummary{}
		if err := json.Unmarshal([]byte(summaryJSON.String), task.Summary); err != nil {
			return nil, eris.Wrap(err, "unmarshal task summary")
		}
	}
	if finished.Valid {
		task.FinishedAt = &finished.Time
	}
	return &task, nil
}

// classifySQLiteConflict maps constraint failures to ConflictError.
func classifySQLiteConflict(table string, err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(strings.ToLower(err.Error()), "constraint") {
		return &ConflictError{Table: table, Err: err}
	}
	return err
}

func jsonStringOrNil(v map[string]any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func strOrNil(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
