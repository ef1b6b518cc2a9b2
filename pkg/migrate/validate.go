package migrate

import (
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/multierr"
)

var migrationName = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)

// Lint checks every .sql file at the root of fsys and reports all problems at once: bad
// filenames, duplicate versions, missing goose sections and unbalanced statement blocks.
func Lint(fsys fs.FS) error {
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	if len(names) == 0 {
		return errors.New("no migrations found")
	}
	sort.Strings(names)

	var problems error
	versions := make(map[string]string, len(names))
	for _, name := range names {
		m := migrationName.FindStringSubmatch(name)
		if m == nil {
			problems = multierr.Append(problems, fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", name))
			continue
		}
		if prev, dup := versions[m[1]]; dup {
			problems = multierr.Append(problems, fmt.Errorf("duplicate migration version %s in %q and %q", m[1], prev, name))
		}
		versions[m[1]] = name

		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			problems = multierr.Append(problems, fmt.Errorf("read %q: %w", name, err))
			continue
		}
		problems = multierr.Append(problems, lintBody(name, string(body)))
	}
	return problems
}

func lintBody(name, body string) error {
	var problems error
	for _, marker := range []string{"-- +goose Up", "-- +goose Down"} {
		if !strings.Contains(body, marker) {
			problems = multierr.Append(problems, fmt.Errorf("migration %q missing %q", name, marker))
		}
	}
	begins := strings.Count(body, "-- +goose StatementBegin")
	ends := strings.Count(body, "-- +goose StatementEnd")
	if begins != ends {
		problems = multierr.Append(problems, fmt.Errorf("migration %q has %d StatementBegin and %d StatementEnd", name, begins, ends))
	}
	return problems
}
