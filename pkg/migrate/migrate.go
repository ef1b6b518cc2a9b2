// Package migrate applies the goose SQL migrations that define the matching schema.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/pressly/goose/v3"
)

// DefaultDir is where migrations live in the source tree; cmd/migrate creates new files there.
const DefaultDir = "pkg/migrate/migrations"

//go:embed migrations/*.sql
var embedded embed.FS

// EmbeddedFS returns the migrations compiled into the binary, rooted at the migration files.
func EmbeddedFS() fs.FS {
	sub, err := fs.Sub(embedded, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// DirFS reads migrations from disk, for iterating on new files without rebuilding.
func DirFS(dir string) fs.FS {
	return os.DirFS(dir)
}

// Runner wraps a goose provider bound to one database and one migration source.
type Runner struct {
	provider *goose.Provider
}

// Applied describes one migration that ran.
type Applied struct {
	Version   int64
	File      string
	Direction string
	Millis    int64
}

func NewRunner(db *sql.DB, fsys fs.FS) (*Runner, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("goose provider: %w", err)
	}
	return &Runner{provider: provider}, nil
}

func (r *Runner) Up(ctx context.Context) ([]Applied, error) {
	results, err := r.provider.Up(ctx)
	return summarize(results), wrap("up", err)
}

// Down rolls back the most recent migration only.
func (r *Runner) Down(ctx context.Context) ([]Applied, error) {
	result, err := r.provider.Down(ctx)
	if result == nil {
		return nil, wrap("down", err)
	}
	return summarize([]*goose.MigrationResult{result}), wrap("down", err)
}

// To migrates up or down until target is the current version.
func (r *Runner) To(ctx context.Context, target int64) ([]Applied, error) {
	current, err := r.provider.GetDBVersion(ctx)
	if err != nil {
		return nil, wrap("version", err)
	}
	var results []*goose.MigrationResult
	switch {
	case current == target:
		return nil, nil
	case current < target:
		results, err = r.provider.UpTo(ctx, target)
	default:
		results, err = r.provider.DownTo(ctx, target)
	}
	return summarize(results), wrap(fmt.Sprintf("migrate to %d", target), err)
}

// Pending lists migrations not yet applied.
func (r *Runner) Pending(ctx context.Context) ([]string, error) {
	statuses, err := r.provider.Status(ctx)
	if err != nil {
		return nil, wrap("status", err)
	}
	var pending []string
	for _, s := range statuses {
		if s.State == goose.StatePending {
			pending = append(pending, s.Source.Path)
		}
	}
	return pending, nil
}

func (r *Runner) Close() error {
	return r.provider.Close()
}

func summarize(results []*goose.MigrationResult) []Applied {
	out := make([]Applied, 0, len(results))
	for _, res := range results {
		if res == nil || res.Source == nil || res.Empty {
			continue
		}
		out = append(out, Applied{
			Version:   res.Source.Version,
			File:      res.Source.Path,
			Direction: res.Direction,
			Millis:    res.Duration.Milliseconds(),
		})
	}
	return out
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("goose %s: %w", op, err)
}
