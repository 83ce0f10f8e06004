package migrate

import (
	"bufio"
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path"
	"regexp"
	"strings"

	"go.uber.org/multierr"
)

// sqlFileRe matches <YYYYMMDDHHMMSS>_<snake_name>.sql.
var sqlFileRe = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)

const (
	annotationUp    = "-- +goose Up"
	annotationDown  = "-- +goose Down"
	annotationBegin = "-- +goose StatementBegin"
	annotationEnd   = "-- +goose StatementEnd"
)

// ValidateDir validates migration filenames and goose annotations on disk.
func ValidateDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("dir is required")
	}
	return ValidateFS(os.DirFS(dir))
}

// ValidateFS checks every .sql file at the root of fsys and reports all
// problems found, not just the first.
func ValidateFS(fsys fs.FS) error {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}

	var errs error
	versions := map[string]string{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || path.Ext(name) != ".sql" {
			continue
		}
		m := sqlFileRe.FindStringSubmatch(name)
		if m == nil {
			errs = multierr.Append(errs, fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", name))
			continue
		}
		if prev, ok := versions[m[1]]; ok {
			errs = multierr.Append(errs, fmt.Errorf("duplicate migration version %s in %q and %q", m[1], prev, name))
		}
		versions[m[1]] = name

		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("read file %q: %w", name, err))
			continue
		}
		errs = multierr.Append(errs, checkAnnotations(name, body))
	}

	if len(versions) == 0 && errs == nil {
		return fmt.Errorf("no migrations found")
	}
	return errs
}

// checkAnnotations requires an Up section followed by a Down section and
// StatementBegin/StatementEnd pairs that never nest or cross a section.
func checkAnnotations(name string, body []byte) error {
	var (
		sawUp, sawDown bool
		open           bool
		lineNo         int
	)
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, annotationUp):
			if sawUp || sawDown {
				return fmt.Errorf("migration %q line %d: unexpected %q", name, lineNo, annotationUp)
			}
			sawUp = true
		case strings.HasPrefix(line, annotationDown):
			if !sawUp || sawDown {
				return fmt.Errorf("migration %q line %d: %q must follow a single %q", name, lineNo, annotationDown, annotationUp)
			}
			if open {
				return fmt.Errorf("migration %q line %d: statement block left open before %q", name, lineNo, annotationDown)
			}
			sawDown = true
		case strings.HasPrefix(line, annotationBegin):
			if open {
				return fmt.Errorf("migration %q line %d: nested statement block", name, lineNo)
			}
			open = true
		case strings.HasPrefix(line, annotationEnd):
			if !open {
				return fmt.Errorf("migration %q line %d: %q without a block", name, lineNo, annotationEnd)
			}
			open = false
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan migration %q: %w", name, err)
	}

	switch {
	case !sawUp:
		return fmt.Errorf("migration %q missing %q", name, annotationUp)
	case !sawDown:
		return fmt.Errorf("migration %q missing %q", name, annotationDown)
	case open:
		return fmt.Errorf("migration %q has an unterminated statement block", name)
	}
	return nil
}
