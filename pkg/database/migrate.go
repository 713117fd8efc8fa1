package database

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sort"

	schemasql "github.com/Wachitugo/ConvivenciaLaboral-sub001/pkg/database/sql"
	"github.com/Wachitugo/ConvivenciaLaboral-sub001/pkg/logging"
)

// ApplySchema runs the embedded schema files in lexical order. Every
// statement is idempotent, so it is safe to call on each startup.
func ApplySchema(ctx context.Context, db *sql.DB, logger logging.Logger) error {
	return applySchemaFS(ctx, db, schemasql.Content, logger)
}

func applySchemaFS(ctx context.Context, db *sql.DB, fsys fs.FS, logger logging.Logger) error {
	files, err := fs.Glob(fsys, "schema/*.sql")
	if err != nil {
		return fmt.Errorf("list schema files: %w", err)
	}
	sort.Strings(files)

	for _, name := range files {
		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if _, err := db.ExecContext(ctx, string(body)); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
		logger.WithField("file", name).Debug("Applied schema file")
	}
	return nil
}
