package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgvector/pgvector-go"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/markdave123-py/lexkb/internal/config"
	"github.com/markdave123-py/lexkb/internal/core"
	"github.com/markdave123-py/lexkb/internal/logger"
	"github.com/markdave123-py/lexkb/internal/metrics"
	"github.com/markdave123-py/lexkb/internal/models"
)

const uniqueViolation = "23505"

var _ core.DbClient = (*DatabaseClient)(nil)

type DatabaseClient struct {
	db     *sql.DB
	vector bool
	types  *pgtype.Map
	log    *logger.Logger
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (*DatabaseClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	dsn := cfg.DatabaseURL
	if cfg.SslCertPath != "" {
		if _, err := os.Stat(cfg.SslCertPath); err != nil {
			return nil, fmt.Errorf("ssl cert not accessible at %q: %w", cfg.SslCertPath, err)
		}
		u, err := url.Parse(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
		}
		q := u.Query()
		q.Set("sslmode", "verify-ca")
		q.Set("sslrootcert", cfg.SslCertPath)
		u.RawQuery = q.Encode()
		dsn = u.String()
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	log := logger.New("db")
	vector, err := EnsureBootstrapped(ctx, db, cfg.EmbedDim, log)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	log.Info("database ready", "vector_enabled", vector)

	return &DatabaseClient{db: db, vector: vector, types: pgtype.NewMap(), log: log}, nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func (c *DatabaseClient) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *DatabaseClient) VectorEnabled() bool { return c.vector }

func (c *DatabaseClient) DocumentExists(ctx context.Context, url string) (bool, error) {
	var exists bool
	err := c.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM kb_documents WHERE url = $1)`, url).Scan(&exists)
	return exists, err
}

// SaveDocument writes the document row and its chunks in one transaction.
// With replace set, an existing row for the same URL keeps its id and
// created_at; its fields and chunks are overwritten and updated_at advances.
// doc.ID and the chunks' DocumentID are rewritten to the id that was stored.
func (c *DatabaseClient) SaveDocument(ctx context.Context, doc *models.Document, chunks []models.Chunk, replace bool) (err error) {
	if doc == nil {
		return errors.New("nil document")
	}
	start := time.Now()
	defer func() { metrics.CaptureDependency("postgres_save", time.Since(start)) }()

	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	updated := false
	if replace {
		var existing string
		err = tx.QueryRowContext(ctx, `SELECT id FROM kb_documents WHERE url = $1 FOR UPDATE`, doc.URL).Scan(&existing)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			err = nil
		case err != nil:
			return fmt.Errorf("lock previous version: %w", err)
		default:
			adoptDocumentID(doc, chunks, existing)
			if err = c.updateDocument(ctx, tx, doc); err != nil {
				return fmt.Errorf("update document: %w", err)
			}
			if _, err = tx.ExecContext(ctx, `DELETE FROM kb_chunks WHERE document_id = $1`, doc.ID); err != nil {
				return fmt.Errorf("delete previous chunks: %w", err)
			}
			updated = true
		}
	}

	if !updated {
		if err = c.insertDocument(ctx, tx, doc); err != nil {
			if isUniqueViolation(err) {
				err = core.ErrDuplicateDocument
				return err
			}
			return fmt.Errorf("insert document: %w", err)
		}
	}

	if len(chunks) > 0 {
		if err = c.insertChunks(ctx, tx, chunks); err != nil {
			return fmt.Errorf("insert chunks: %w", err)
		}
	}
	err = tx.Commit()
	return err
}

// isUniqueViolation reports a Postgres unique_violation anywhere in the chain.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// adoptDocumentID points the document and its chunks at an existing row id.
func adoptDocumentID(doc *models.Document, chunks []models.Chunk, id string) {
	doc.ID = id
	for i := range chunks {
		chunks[i].DocumentID = id
	}
}

func documentArgs(doc *models.Document) []any {
	pages := make([]int32, len(doc.OCRPages))
	for i, p := range doc.OCRPages {
		pages[i] = int32(p)
	}
	return []any{
		doc.ID, doc.URL, doc.Title, doc.Source, doc.DocType, doc.Content, doc.KBEpoch,
		doc.ExtractionMethod, doc.QualityScore, pages,
	}
}

func (c *DatabaseClient) insertDocument(ctx context.Context, tx *sql.Tx, doc *models.Document) error {
	args := documentArgs(doc)
	q := `
		INSERT INTO kb_documents
			(id, url, title, source, doc_type, content, kb_epoch, extraction_method, quality_score, ocr_pages)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	if c.vector {
		q = `
		INSERT INTO kb_documents
			(id, url, title, source, doc_type, content, kb_epoch, extraction_method, quality_score, ocr_pages, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
		args = append(args, vectorArg(doc.Embedding))
	}
	_, err := tx.ExecContext(ctx, q, args...)
	return err
}

func (c *DatabaseClient) updateDocument(ctx context.Context, tx *sql.Tx, doc *models.Document) error {
	args := documentArgs(doc)
	q := `
		UPDATE kb_documents SET
			url = $2, title = $3, source = $4, doc_type = $5, content = $6, kb_epoch = $7,
			extraction_method = $8, quality_score = $9, ocr_pages = $10, updated_at = now()
		WHERE id = $1`
	if c.vector {
		q = `
		UPDATE kb_documents SET
			url = $2, title = $3, source = $4, doc_type = $5, content = $6, kb_epoch = $7,
			extraction_method = $8, quality_score = $9, ocr_pages = $10, embedding = $11, updated_at = now()
		WHERE id = $1`
		args = append(args, vectorArg(doc.Embedding))
	}
	_, err := tx.ExecContext(ctx, q, args...)
	return err
}

func (c *DatabaseClient) insertChunks(ctx context.Context, tx *sql.Tx, chunks []models.Chunk) error {
	q := `
		INSERT INTO kb_chunks
			(id, document_id, chunk_index, content, token_count, kb_epoch, source_url, source, title, doc_type, is_junk)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	if c.vector {
		q = `
		INSERT INTO kb_chunks
			(id, document_id, chunk_index, content, token_count, kb_epoch, source_url, source, title, doc_type, is_junk, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	}
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range chunks {
		ch := &chunks[i]
		args := []any{
			ch.ID, ch.DocumentID, ch.ChunkIndex, ch.Content, ch.TokenCount, ch.KBEpoch,
			ch.SourceURL, ch.Source, ch.Title, ch.DocType, ch.IsJunk,
		}
		if c.vector {
			args = append(args, vectorArg(ch.Embedding))
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("chunk %d: %w", ch.ChunkIndex, err)
		}
	}
	return nil
}

// vectorArg maps a missing embedding to NULL.
func vectorArg(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return pgvector.NewVector(v)
}

func (c *DatabaseClient) GetDocumentByURL(ctx context.Context, url string) (*models.Document, error) {
	const q = `
		SELECT d.id, d.url, d.title, d.source, d.doc_type, coalesce(d.content, ''), d.kb_epoch,
		       d.extraction_method, d.quality_score, d.ocr_pages, d.created_at, d.updated_at,
		       (SELECT count(*) FROM kb_chunks c WHERE c.document_id = d.id)
		FROM kb_documents d
		WHERE d.url = $1`
	var (
		d     models.Document
		pages []int32
	)
	err := c.db.QueryRowContext(ctx, q, url).Scan(
		&d.ID, &d.URL, &d.Title, &d.Source, &d.DocType, &d.Content, &d.KBEpoch,
		&d.ExtractionMethod, &d.QualityScore, c.types.SQLScanner(&pages), &d.CreatedAt, &d.UpdatedAt,
		&d.ChunkCount,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	d.OCRPages = intPages(pages)
	return &d, nil
}

func (c *DatabaseClient) ListDocuments(ctx context.Context, limit, offset int) ([]models.Document, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	const q = `
		SELECT d.id, d.url, d.title, d.source, d.doc_type, d.kb_epoch,
		       d.extraction_method, d.quality_score, d.ocr_pages, d.created_at, d.updated_at,
		       (SELECT count(*) FROM kb_chunks c WHERE c.document_id = d.id)
		FROM kb_documents d
		ORDER BY d.kb_epoch DESC, d.id ASC
		LIMIT $1 OFFSET $2`
	rows, err := c.db.QueryContext(ctx, q, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		var (
			d     models.Document
			pages []int32
		)
		if err := rows.Scan(
			&d.ID, &d.URL, &d.Title, &d.Source, &d.DocType, &d.KBEpoch,
			&d.ExtractionMethod, &d.QualityScore, c.types.SQLScanner(&pages), &d.CreatedAt, &d.UpdatedAt,
			&d.ChunkCount,
		); err != nil {
			return nil, err
		}
		d.OCRPages = intPages(pages)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) GetChunksByDocument(ctx context.Context, documentID string) ([]models.Chunk, error) {
	const q = `
		SELECT id, document_id, chunk_index, content, token_count, kb_epoch,
		       source_url, source, title, doc_type, is_junk, created_at
		FROM kb_chunks
		WHERE document_id = $1
		ORDER BY chunk_index ASC`
	rows, err := c.db.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Chunk
	for rows.Next() {
		var ch models.Chunk
		if err := rows.Scan(
			&ch.ID, &ch.DocumentID, &ch.ChunkIndex, &ch.Content, &ch.TokenCount, &ch.KBEpoch,
			&ch.SourceURL, &ch.Source, &ch.Title, &ch.DocType, &ch.IsJunk, &ch.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// DeleteDocumentByURL removes the document; its chunks go with it.
func (c *DatabaseClient) DeleteDocumentByURL(ctx context.Context, url string) (bool, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM kb_documents WHERE url = $1`, url)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func intPages(pages []int32) []int {
	if len(pages) == 0 {
		return nil
	}
	out := make([]int, len(pages))
	for i, p := range pages {
		out[i] = int(p)
	}
	return out
}
