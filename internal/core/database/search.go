package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/pgvector/pgvector-go"

	"github.com/markdave123-py/lexkb/internal/core"
	"github.com/markdave123-py/lexkb/internal/metrics"
	"github.com/markdave123-py/lexkb/internal/models"
)

// Text search configuration shared by the generated tsvector columns and
// the query side.
const searchConfig = "italian"

var romeLoc = mustLoadLocation("Europe/Rome")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// queryBuilder collects positional arguments and WHERE clauses.
type queryBuilder struct {
	args    []any
	clauses []string
}

func (b *queryBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return "$" + strconv.Itoa(len(b.args))
}

func (b *queryBuilder) where(clause string) {
	b.clauses = append(b.clauses, clause)
}

func (b *queryBuilder) whereSQL() string {
	if len(b.clauses) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(b.clauses, " AND ")
}

// applyFilter adds the metadata restrictions and always excludes junk.
// Year is a calendar year in Rome time.
func (b *queryBuilder) applyFilter(f models.SearchFilter) {
	b.where("NOT c.is_junk")
	if f.Year > 0 {
		from := time.Date(f.Year, time.January, 1, 0, 0, 0, 0, romeLoc).Unix()
		to := time.Date(f.Year+1, time.January, 1, 0, 0, 0, 0, romeLoc).Unix()
		b.where("c.kb_epoch >= " + b.arg(from))
		b.where("c.kb_epoch < " + b.arg(to))
	}
	if f.Since != nil {
		b.where("c.kb_epoch >= " + b.arg(f.Since.Unix()))
	}
	if f.Until != nil {
		b.where("c.kb_epoch <= " + b.arg(f.Until.Unix()))
	}
	if f.Source != "" {
		b.where("c.source = " + b.arg(f.Source))
	}
	if f.DocType != "" {
		b.where("c.doc_type = " + b.arg(f.DocType))
	}
}

const candidateColumns = `c.id, c.document_id, c.chunk_index, c.content, c.title, c.source_url, c.doc_type, c.kb_epoch`

// documentTitleBoost scales the document-level title match that is added to
// each chunk's own rank.
const documentTitleBoost = 0.5

// buildFullTextQuery ranks matches with ts_rank_cd. Titles carry weight A
// and bodies weight B in the stored vectors. On top of the chunk rank, the
// parent document's vector is ranked with only A lexemes counted, so a chunk
// of a document whose title matches outranks an equal body-only match.
func buildFullTextQuery(query string, f models.SearchFilter, limit int, withVector bool) (string, []any) {
	b := &queryBuilder{}
	q := b.arg(query)
	b.where("c.search_vector @@ q.tsq")
	b.applyFilter(f)
	hasVec := "false"
	if withVector {
		hasVec = "(c.embedding IS NOT NULL)"
	}
	stmt := fmt.Sprintf(`
		SELECT %s,
		       ts_rank_cd(c.search_vector, q.tsq)
		         + %s * ts_rank_cd('{0, 0, 0, 1}', d.search_vector, q.tsq) AS rank,
		       %s AS has_vec
		FROM kb_chunks c
		JOIN kb_documents d ON d.id = c.document_id
		CROSS JOIN websearch_to_tsquery('%s', %s) AS q(tsq)
		%s
		ORDER BY rank DESC, c.kb_epoch DESC, c.chunk_index ASC, c.id ASC
		LIMIT %s`, candidateColumns, strconv.FormatFloat(documentTitleBoost, 'f', -1, 64),
		hasVec, searchConfig, q, b.whereSQL(), b.arg(limit))
	return stmt, b.args
}

// buildVectorQuery orders by cosine distance so the HNSW index is used and
// maps the distance in [0,2] to a similarity in [0,1].
func buildVectorQuery(vec []float32, f models.SearchFilter, limit int) (string, []any) {
	b := &queryBuilder{}
	v := b.arg(pgvector.NewVector(vec))
	b.where("c.embedding IS NOT NULL")
	b.applyFilter(f)
	stmt := fmt.Sprintf(`
		SELECT %s, 1 - (c.embedding <=> %s::vector) / 2 AS sim
		FROM kb_chunks c
		%s
		ORDER BY c.embedding <=> %s::vector
		LIMIT %s`, candidateColumns, v, b.whereSQL(), v, b.arg(limit))
	return stmt, b.args
}

func (c *DatabaseClient) SearchChunksFullText(ctx context.Context, query string, filter models.SearchFilter, limit int) ([]models.ChunkCandidate, error) {
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return nil, nil
	}
	start := time.Now()
	defer func() { metrics.CaptureDependency("postgres_fts", time.Since(start)) }()

	q, args := buildFullTextQuery(query, filter, limit, c.vector)
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("full-text search: %w", err)
	}
	defer rows.Close()

	var out []models.ChunkCandidate
	for rows.Next() {
		var cand models.ChunkCandidate
		if err := rows.Scan(
			&cand.ChunkID, &cand.DocumentID, &cand.ChunkIndex, &cand.Content, &cand.Title,
			&cand.SourceURL, &cand.DocType, &cand.KBEpoch, &cand.FTSRank, &cand.HasVector,
		); err != nil {
			return nil, err
		}
		out = append(out, cand)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) SearchChunksVector(ctx context.Context, vec []float32, filter models.SearchFilter, limit int) ([]models.ChunkCandidate, error) {
	if !c.vector {
		return nil, core.ErrVectorUnavailable
	}
	if len(vec) == 0 || limit <= 0 {
		return nil, nil
	}
	start := time.Now()
	defer func() { metrics.CaptureDependency("postgres_vector", time.Since(start)) }()

	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	// Filters are applied after the index scan; widen the search list so a
	// filtered query still fills its limit.
	efSearch := limit * 2
	if efSearch < 40 {
		efSearch = 40
	}
	if efSearch > 1000 {
		efSearch = 1000
	}
	if _, err := tx.ExecContext(ctx, `SELECT set_config('hnsw.ef_search', $1, true)`, strconv.Itoa(efSearch)); err != nil {
		return nil, fmt.Errorf("set ef_search: %w", err)
	}

	q, args := buildVectorQuery(vec, filter, limit)
	rows, err := tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var out []models.ChunkCandidate
	for rows.Next() {
		var cand models.ChunkCandidate
		if err := rows.Scan(
			&cand.ChunkID, &cand.DocumentID, &cand.ChunkIndex, &cand.Content, &cand.Title,
			&cand.SourceURL, &cand.DocType, &cand.KBEpoch, &cand.Similarity,
		); err != nil {
			return nil, err
		}
		cand.HasVector = true
		out = append(out, cand)
	}
	return out, rows.Err()
}

// ScoreChunksVector computes similarities for chunks that matched full-text
// search but fell outside the vector candidate set.
func (c *DatabaseClient) ScoreChunksVector(ctx context.Context, vec []float32, chunkIDs []string) (map[string]float64, error) {
	if !c.vector {
		return nil, core.ErrVectorUnavailable
	}
	out := make(map[string]float64, len(chunkIDs))
	if len(vec) == 0 || len(chunkIDs) == 0 {
		return out, nil
	}
	const q = `
		SELECT id, 1 - (embedding <=> $1::vector) / 2
		FROM kb_chunks
		WHERE id = ANY($2::uuid[]) AND embedding IS NOT NULL`
	rows, err := c.db.QueryContext(ctx, q, pgvector.NewVector(vec), chunkIDs)
	if err != nil {
		return nil, fmt.Errorf("score chunks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id  string
			sim float64
		)
		if err := rows.Scan(&id, &sim); err != nil {
			return nil, err
		}
		out[id] = sim
	}
	return out, rows.Err()
}
