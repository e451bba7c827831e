package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"

	custody "github.com/goliatone/go-custody"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	// SourceLabel identifies custody migrations to the migration runner.
	SourceLabel = "go-custody"

	migrationsDir = "data/sql/migrations"
	coreSchema    = "00001_custody_core_schema"
)

// FilesystemSpec is the migration directory for one dialect.
type FilesystemSpec struct {
	Dialect string
	Path    string
	FS      fs.FS
}

type RegisterFunc func(ctx context.Context, dialect string, sourceLabel string, fsys fs.FS) error

type Option func(*registration)

type registration struct {
	targets []string
}

// WithValidationTargets limits registration to the named dialects.
func WithValidationTargets(targets ...string) Option {
	return func(r *registration) {
		next := make([]string, 0, len(targets))
		for _, target := range targets {
			target = strings.ToLower(strings.TrimSpace(target))
			if target != "" && !slices.Contains(next, target) {
				next = append(next, target)
			}
		}
		if len(next) > 0 {
			r.targets = next
		}
	}
}

// Filesystems returns the embedded postgres and sqlite migration directories.
func Filesystems() ([]FilesystemSpec, error) {
	return filesystemsFrom(custody.GetMigrationsFS())
}

func filesystemsFrom(root fs.FS) ([]FilesystemSpec, error) {
	specs := []FilesystemSpec{
		{Dialect: DialectPostgres, Path: migrationsDir},
		{Dialect: DialectSQLite, Path: path.Join(migrationsDir, "sqlite")},
	}
	for i := range specs {
		sub, err := fs.Sub(root, specs[i].Path)
		if err != nil {
			return nil, fmt.Errorf("migrations: resolve %s filesystem: %w", specs[i].Dialect, err)
		}
		// Every dialect must ship the core schema in both directions.
		for _, name := range []string{coreSchema + ".up.sql", coreSchema + ".down.sql"} {
			if _, err := fs.Stat(sub, name); err != nil {
				return nil, fmt.Errorf("migrations: %s is missing %s: %w", specs[i].Dialect, name, err)
			}
		}
		specs[i].FS = sub
	}
	return specs, nil
}

// Register hands each targeted dialect's migrations to registerFn and returns
// the filesystems it registered.
func Register(ctx context.Context, registerFn RegisterFunc, opts ...Option) ([]FilesystemSpec, error) {
	if registerFn == nil {
		return nil, fmt.Errorf("migrations: register function is required")
	}
	reg := registration{targets: []string{DialectPostgres, DialectSQLite}}
	for _, opt := range opts {
		if opt != nil {
			opt(&reg)
		}
	}

	filesystems, err := Filesystems()
	if err != nil {
		return nil, err
	}
	registered := make([]FilesystemSpec, 0, len(filesystems))
	for _, spec := range filesystems {
		if !slices.Contains(reg.targets, spec.Dialect) {
			continue
		}
		if err := registerFn(ctx, spec.Dialect, SourceLabel, spec.FS); err != nil {
			return registered, fmt.Errorf("migrations: register %s (%s): %w", spec.Dialect, spec.Path, err)
		}
		registered = append(registered, spec)
	}
	if len(registered) == 0 {
		return nil, fmt.Errorf("migrations: no custody schema for targets %v", reg.targets)
	}
	return registered, nil
}
