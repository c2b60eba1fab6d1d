// Package state keeps what an incremental conversion needs between
// runs in a SQLite database: the mark of every branch tip, what every
// branch saw when it was last written, and how far each element's
// history has already been converted.
//
// SPDX-License-Identifier: BSD-2-Clause
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	shutil "github.com/termie/go-shutil"
	_ "modernc.org/sqlite"

	"gitlab.com/cc2git/cc2git/history"
	"gitlab.com/cc2git/cc2git/vgraph"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	started INTEGER NOT NULL,
	first_mark INTEGER NOT NULL,
	last_mark INTEGER NOT NULL,
	commits INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS tips (
	branch TEXT PRIMARY KEY,
	mark INTEGER NOT NULL,
	run TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS views (
	branch TEXT NOT NULL,
	element TEXT NOT NULL,
	names TEXT NOT NULL,
	vbranch TEXT NOT NULL,
	vnumber INTEGER NOT NULL,
	known INTEGER NOT NULL,
	PRIMARY KEY (branch, element)
);
CREATE TABLE IF NOT EXISTS processed (
	element TEXT NOT NULL,
	branch TEXT NOT NULL,
	top INTEGER NOT NULL,
	digest TEXT NOT NULL,
	PRIMARY KEY (element, branch)
);
`

// Run describes one recorded conversion.
type Run struct {
	ID        string
	Started   time.Time
	FirstMark int
	LastMark  int
	Commits   int
}

// Store wraps the state database.
type Store struct {
	conn *sql.DB
	path string
}

// Open opens or creates the state database at path.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening state database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping state database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	conn.Exec("PRAGMA busy_timeout=5000")
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("applying state schema: %w", err)
	}
	return &Store{conn: conn, path: path}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Path is where the database lives.
func (s *Store) Path() string {
	return s.path
}

// Backup copies a state database aside before a run rewrites it and
// returns the copy's name. A database that does not exist yet needs no
// backup and yields "".
func Backup(path string) (string, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	dst := path + ".bak"
	if _, err := shutil.Copy(path, dst, false); err != nil {
		return "", fmt.Errorf("backing up %s: %w", path, err)
	}
	log.WithFields(log.Fields{"from": path, "to": dst}).Debug("state database backed up")
	return dst, nil
}

// Runs lists recorded runs, oldest first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, started, first_mark, last_mark, commits FROM runs ORDER BY last_mark, started, rowid`)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var r Run
		var started int64
		if err := rows.Scan(&r.ID, &started, &r.FirstMark, &r.LastMark, &r.Commits); err != nil {
			return nil, err
		}
		r.Started = time.Unix(started, 0).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// Empty tells whether nothing has been recorded yet.
func (s *Store) Empty(ctx context.Context) (bool, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&n); err != nil {
		return false, err
	}
	return n == 0, nil
}

// Load reconstructs the resume state of the last recorded run. It
// returns nil when nothing has been recorded.
func (s *Store) Load(ctx context.Context) (*history.Resume, error) {
	empty, err := s.Empty(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}
	if empty {
		return nil, nil
	}
	r := &history.Resume{Tips: make(map[string]int), Views: make(map[string]*history.View)}
	if err := s.conn.QueryRowContext(ctx, `SELECT MAX(last_mark) FROM runs`).Scan(&r.LastID); err != nil {
		return nil, fmt.Errorf("loading last mark: %w", err)
	}

	rows, err := s.conn.QueryContext(ctx, `SELECT branch, mark FROM tips`)
	if err != nil {
		return nil, fmt.Errorf("loading tips: %w", err)
	}
	for rows.Next() {
		var branch string
		var mark int
		if err := rows.Scan(&branch, &mark); err != nil {
			rows.Close()
			return nil, err
		}
		r.Tips[branch] = mark
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.conn.QueryContext(ctx,
		`SELECT branch, element, names, vbranch, vnumber, known FROM views ORDER BY branch`)
	if err != nil {
		return nil, fmt.Errorf("loading views: %w", err)
	}
	defer rows.Close()
	entries := make(map[string]map[vgraph.ElementID]history.ViewEntry)
	for rows.Next() {
		var branch, element, names, vbranch string
		var vnumber int
		var known bool
		if err := rows.Scan(&branch, &element, &names, &vbranch, &vnumber, &known); err != nil {
			return nil, err
		}
		id := vgraph.ElementID(element)
		e := history.ViewEntry{Known: known}
		if known {
			e.Version = vgraph.Key{Element: id, Branch: vbranch, Number: vnumber}
		}
		if err := json.Unmarshal([]byte(names), &e.Names); err != nil {
			return nil, fmt.Errorf("view of %s on %s: %w", element, branch, err)
		}
		if entries[branch] == nil {
			entries[branch] = make(map[vgraph.ElementID]history.ViewEntry)
		}
		entries[branch][id] = e
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for branch, m := range entries {
		r.Views[branch] = history.ViewFrom(m)
	}
	return r, nil
}

// Subset lists the versions of g that no recorded run has converted:
// every version of an element never seen, and versions numbered above
// the recorded top of their branch otherwise. Elements whose digest is
// unchanged are skipped without looking at their versions.
func (s *Store) Subset(ctx context.Context, g *vgraph.Graph) ([]vgraph.Key, error) {
	type seen struct {
		top    int
		digest string
	}
	done := make(map[vgraph.ElementID]map[string]seen)
	rows, err := s.conn.QueryContext(ctx, `SELECT element, branch, top, digest FROM processed`)
	if err != nil {
		return nil, fmt.Errorf("loading processed versions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var element, branch, digest string
		var top int
		if err := rows.Scan(&element, &branch, &top, &digest); err != nil {
			return nil, err
		}
		id := vgraph.ElementID(element)
		if done[id] == nil {
			done[id] = make(map[string]seen)
		}
		done[id][branch] = seen{top, digest}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := []vgraph.Key{}
	for _, e := range g.Elements() {
		prior := done[e.ID]
		unchanged := len(prior) > 0
		for _, p := range prior {
			if p.digest != e.Digest {
				unchanged = false
				break
			}
		}
		if unchanged {
			continue
		}
		for _, name := range e.BranchNames() {
			p, ok := prior[name]
			for _, v := range e.Branches[name].Versions {
				if !ok || v.Key.Number > p.top {
					out = append(out, v.Key)
				}
			}
		}
	}
	return out, nil
}

// Record stores the outcome of a run: a new run row, the tips and views
// of every branch, and the processed top of every element branch in g.
func (s *Store) Record(ctx context.Context, g *vgraph.Graph, h *history.History) (run Run, err error) {
	run = Run{
		ID:       uuid.New().String(),
		Started:  time.Now().UTC(),
		LastMark: h.LastID(),
		Commits:  len(h.ChangeSets),
	}
	run.FirstMark = run.LastMark - run.Commits + 1
	if run.Commits == 0 {
		run.FirstMark = run.LastMark
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return run, fmt.Errorf("starting state transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, started, first_mark, last_mark, commits) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Started.Unix(), run.FirstMark, run.LastMark, run.Commits); err != nil {
		return run, fmt.Errorf("recording run: %w", err)
	}
	for branch, tip := range h.Tips {
		if _, err = tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO tips (branch, mark, run) VALUES (?, ?, ?)`,
			branch, tip.ID, run.ID); err != nil {
			return run, fmt.Errorf("recording tip of %s: %w", branch, err)
		}
	}
	for branch, view := range h.Views {
		if _, err = tx.ExecContext(ctx, `DELETE FROM views WHERE branch = ?`, branch); err != nil {
			return run, err
		}
		for _, id := range view.IDs() {
			e, _ := view.Get(id)
			names, jerr := json.Marshal(e.Names)
			if jerr != nil {
				err = jerr
				return run, err
			}
			if _, err = tx.ExecContext(ctx,
				`INSERT INTO views (branch, element, names, vbranch, vnumber, known) VALUES (?, ?, ?, ?, ?, ?)`,
				branch, string(id), string(names), e.Version.Branch, e.Version.Number, e.Known); err != nil {
				return run, fmt.Errorf("recording view of %s: %w", branch, err)
			}
		}
	}
	for _, e := range g.Elements() {
		for _, name := range e.BranchNames() {
			vs := e.Branches[name].Versions
			if len(vs) == 0 {
				continue
			}
			if _, err = tx.ExecContext(ctx,
				`INSERT INTO processed (element, branch, top, digest) VALUES (?, ?, ?, ?)
				 ON CONFLICT(element, branch) DO UPDATE SET top = MAX(top, excluded.top), digest = excluded.digest`,
				string(e.ID), name, vs[len(vs)-1].Key.Number, e.Digest); err != nil {
				return run, fmt.Errorf("recording %s: %w", e.ID, err)
			}
		}
	}
	if err = tx.Commit(); err != nil {
		return run, fmt.Errorf("committing state: %w", err)
	}
	log.WithFields(log.Fields{"run": run.ID, "last_mark": run.LastMark, "commits": run.Commits}).Debug("state recorded")
	return run, nil
}
