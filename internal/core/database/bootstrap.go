package db

import (
	"bytes"
	"context"
	"database/sql"
	"embed"
	"fmt"
	"text/template"
	"time"

	"github.com/markdave123-py/lexkb/internal/logger"
)

//go:embed scripts/initdb.sql scripts/vector.sql
var bootstrapFS embed.FS

const schemaVersion = 1

// EnsureBootstrapped applies the base schema when the version row is
// missing, then tries to enable vector storage for the given dimension. It
// reports whether vector search is available. A missing or failing vector
// extension is not an error: the store runs full-text only.
func EnsureBootstrapped(ctx context.Context, db *sql.DB, dim int, log *logger.Logger) (bool, error) {
	ctxBoot, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	var exists bool
	err := db.QueryRowContext(ctxBoot, `
		SELECT EXISTS (
		  SELECT 1 FROM information_schema.tables
		  WHERE table_name = 'kb_meta'
		)`).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("meta table check failed: %w", err)
	}

	hasVersion := false
	if exists {
		if err := db.QueryRowContext(ctxBoot, `SELECT EXISTS (SELECT 1 FROM kb_meta WHERE version = $1)`, schemaVersion).Scan(&hasVersion); err != nil {
			return false, fmt.Errorf("meta version check failed: %w", err)
		}
	}
	if !hasVersion {
		log.Info("applying base schema", "version", schemaVersion)
		if err := runScript(ctxBoot, db, "scripts/initdb.sql", nil); err != nil {
			return false, err
		}
	}

	if dim <= 0 {
		log.Warn("embedding dimension not set, vector search disabled")
		return false, nil
	}
	if err := runScript(ctxBoot, db, "scripts/vector.sql", map[string]int{"Dim": dim}); err != nil {
		log.Warn("vector extension unavailable, running full-text only", "error", err)
		return false, nil
	}

	current, err := embeddingDimension(ctxBoot, db)
	if err != nil {
		return false, err
	}
	if current != dim {
		return false, fmt.Errorf("stored embedding dimension is %d but %d is configured", current, dim)
	}
	return true, nil
}

func runScript(ctx context.Context, db *sql.DB, name string, data any) error {
	raw, err := bootstrapFS.ReadFile(name)
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	stmt := string(raw)
	if data != nil {
		tmpl, err := template.New(name).Parse(stmt)
		if err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			return fmt.Errorf("render %s: %w", name, err)
		}
		stmt = buf.String()
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("exec %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", name, err)
	}
	return nil
}

// embeddingDimension reads the declared dimension of kb_chunks.embedding.
// pgvector stores it as the column's type modifier.
func embeddingDimension(ctx context.Context, db *sql.DB) (int, error) {
	var typmod int
	err := db.QueryRowContext(ctx, `
		SELECT atttypmod FROM pg_attribute
		WHERE attrelid = 'kb_chunks'::regclass AND attname = 'embedding' AND NOT attisdropped`).Scan(&typmod)
	if err != nil {
		return 0, fmt.Errorf("read embedding dimension: %w", err)
	}
	return typmod, nil
}
