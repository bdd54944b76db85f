package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"taskdeck/internal/tasks"
)

type Store struct {
	db      *sql.DB
	path    string
	log     *log.Entry
	broker  *broker
	watcher *watcher
	now     func() time.Time
}

// Open opens (creating if needed) the SQLite task database and starts
// watching it for writes made by other processes.
func Open(dbPath string, logger *log.Entry) (*Store, error) {
	if dbPath == "" {
		return nil, errors.New("db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, err
	}
	dsn := sqliteDSN(dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	s := &Store{
		db:     db,
		path:   dbPath,
		log:    logger,
		broker: newBroker(),
		now:    time.Now,
	}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}

	w, err := newWatcher(dbPath, s.broker.notify, logger)
	if err != nil {
		logger.WithError(err).Warn("live sync from other processes disabled")
	} else {
		s.watcher = w
	}
	return s, nil
}

func (s *Store) Close() error {
	if s.watcher != nil {
		s.watcher.stop()
	}
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ensureSchema() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	description TEXT DEFAULT NULL,
	due_date TEXT DEFAULT NULL,
	completed INTEGER NOT NULL DEFAULT 0,
	sort_order INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);`
	if _, err := s.db.Exec(ddl); err != nil {
		return err
	}
	return s.ensureTaskColumns()
}

// ensureTaskColumns upgrades databases created before description and due
// dates existed.
func (s *Store) ensureTaskColumns() error {
	required := map[string]string{
		"description": "ALTER TABLE tasks ADD COLUMN description TEXT DEFAULT NULL;",
		"due_date":    "ALTER TABLE tasks ADD COLUMN due_date TEXT DEFAULT NULL;",
		"sort_order":  "ALTER TABLE tasks ADD COLUMN sort_order INTEGER NOT NULL DEFAULT 0;",
	}
	existing := map[string]struct{}{}
	rows, err := s.db.Query(`PRAGMA table_info(tasks);`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return err
		}
		existing[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for col, alter := range required {
		if _, ok := existing[col]; ok {
			continue
		}
		if _, err := s.db.Exec(alter); err != nil {
			return err
		}
	}
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS tasks_by_order ON tasks (sort_order);`)
	return err
}

// List returns every task, newest first.
func (s *Store) List(ctx context.Context) ([]tasks.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, description, due_date, completed, sort_order, created_at FROM tasks ORDER BY created_at DESC, rowid DESC;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []tasks.Task{}
	for rows.Next() {
		var t tasks.Task
		var desc, due sql.NullString
		var completed int
		var createdStr string
		if err := rows.Scan(&t.ID, &t.Title, &desc, &due, &completed, &t.Order, &createdStr); err != nil {
			return nil, err
		}
		t.Description = desc.String
		t.DueDate = due.String
		t.Completed = completed == 1
		if created, err := time.Parse(time.RFC3339Nano, createdStr); err == nil {
			t.CreatedAt = created
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Create inserts an incomplete task ranked above every existing task.
func (s *Store) Create(ctx context.Context, d tasks.Draft) (string, error) {
	d, err := tasks.NormalizeDraft(d)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	now := s.now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var maxOrder sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(sort_order) FROM tasks;`).Scan(&maxOrder); err != nil {
		return "", err
	}
	order := 1
	if maxOrder.Valid && maxOrder.Int64 > 0 {
		order = int(maxOrder.Int64) + 1
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO tasks (id, title, description, due_date, completed, sort_order, created_at) VALUES (?, ?, ?, ?, 0, ?, ?);`,
		id, d.Title, nullString(d.Description), nullString(d.DueDate), order, now)
	if err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	s.log.WithFields(log.Fields{"id": id, "order": order}).Debug("task created")
	s.broker.notify()
	return id, nil
}

// Update patches only the supplied fields.
func (s *Store) Update(ctx context.Context, id string, p tasks.Patch) error {
	if p.Empty() {
		return nil
	}
	var sets []string
	var args []any
	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		if title == "" {
			return tasks.ErrEmptyTitle
		}
		sets = append(sets, "title = ?")
		args = append(args, title)
	}
	if p.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, nullString(strings.TrimSpace(*p.Description)))
	}
	if p.DueDate != nil {
		due, err := tasks.NormalizeDueDate(*p.DueDate)
		if err != nil {
			return err
		}
		sets = append(sets, "due_date = ?")
		args = append(args, nullString(due))
	}
	if p.Completed != nil {
		sets = append(sets, "completed = ?")
		args = append(args, boolToInt(*p.Completed))
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE id = ?;`, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return TaskNotFoundError{ID: id}
	}
	s.log.WithField("id", id).Debug("task updated")
	s.broker.notify()
	return nil
}

// Remove deletes a task. Deleting an id that does not exist succeeds.
func (s *Store) Remove(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?;`, id); err != nil {
		return err
	}
	s.log.WithField("id", id).Debug("task removed")
	s.broker.notify()
	return nil
}

// Reorder applies every order update in one transaction. An unknown id rolls
// the whole batch back.
func (s *Store) Reorder(ctx context.Context, updates []tasks.OrderUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE tasks SET sort_order = ? WHERE id = ?;`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, u := range updates {
		res, err := stmt.ExecContext(ctx, u.Order, u.ID)
		if err != nil {
			return fmt.Errorf("reorder %s: %w", u.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return TaskNotFoundError{ID: u.ID}
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.log.WithField("count", len(updates)).Debug("tasks reordered")
	s.broker.notify()
	return nil
}

// Subscribe delivers the current snapshot, then a fresh one after every
// change, until ctx is done. Snapshots that pile up while the reader is busy
// are coalesced into the latest one.
func (s *Store) Subscribe(ctx context.Context) (<-chan []tasks.Task, error) {
	first, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	changed := s.broker.subscribe()
	out := make(chan []tasks.Task, 1)
	out <- first
	go func() {
		defer close(out)
		defer s.broker.unsubscribe(changed)
		for {
			select {
			case <-ctx.Done():
				return
			case <-changed:
			}
			snapshot, err := s.List(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.log.WithError(err).Warn("snapshot refresh failed")
				continue
			}
			select {
			case out <- snapshot:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func sqliteDSN(path string) string {
	if strings.HasPrefix(path, "file:") {
		return path
	}
	abs, err := filepath.Abs(path)
	if err == nil {
		path = abs
	}
	u := url.URL{
		Scheme: "file",
		Path:   path,
	}
	q := u.Query()
	q.Set("mode", "rwc")
	q.Set("_pragma", "busy_timeout(5000)")
	u.RawQuery = q.Encode()
	return u.String()
}
