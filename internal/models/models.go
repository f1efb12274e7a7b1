package models

import (
	"time"
)

// Document is one ingested source URL.
type Document struct {
	ID               string    `db:"id" json:"id"`
	URL              string    `db:"url" json:"url"`
	Title            string    `db:"title" json:"title"`
	Source           string    `db:"source" json:"source"`
	DocType          string    `db:"doc_type" json:"doc_type"`
	Content          string    `db:"content" json:"content,omitempty"`
	KBEpoch          int64     `db:"kb_epoch" json:"kb_epoch"` // publication date when known, else ingestion time
	Embedding        []float32 `db:"embedding" json:"-"`       // mean of the chunk vectors, nil when skipped
	ExtractionMethod string    `db:"extraction_method" json:"extraction_method"`
	QualityScore     float64   `db:"quality_score" json:"quality_score"`
	OCRPages         []int     `db:"ocr_pages" json:"ocr_pages"`
	ChunkCount       int       `db:"-" json:"chunk_count,omitempty"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// Chunk is one immutable slice of a document's text.
type Chunk struct {
	ID         string    `db:"id" json:"id"`
	DocumentID string    `db:"document_id" json:"document_id"`
	ChunkIndex int       `db:"chunk_index" json:"chunk_index"`
	Content    string    `db:"content" json:"content"`
	TokenCount int       `db:"token_count" json:"token_count"`
	Embedding  []float32 `db:"embedding" json:"-"`
	KBEpoch    int64     `db:"kb_epoch" json:"kb_epoch"`
	SourceURL  string    `db:"source_url" json:"source_url"`
	Source     string    `db:"source" json:"source"`
	Title      string    `db:"title" json:"title"`
	DocType    string    `db:"doc_type" json:"doc_type"`
	IsJunk     bool      `db:"is_junk" json:"is_junk"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// FeedItem is what the feed layer hands to ingestion.
type FeedItem struct {
	URL       string `json:"url"`
	Title     string `json:"title"`
	Source    string `json:"source"`
	Published string `json:"published,omitempty"` // free-form date string from the feed
	DocType   string `json:"doc_type,omitempty"`
}

type OutcomeStatus string

const (
	OutcomeIngested         OutcomeStatus = "ingested"
	OutcomeSkippedDuplicate OutcomeStatus = "skipped_duplicate"
	OutcomeRejectedQuality  OutcomeStatus = "rejected_quality"
	OutcomeFailed           OutcomeStatus = "failed"
)

// Outcome is the per-document record emitted by the coordinator.
type Outcome struct {
	URL        string        `json:"url"`
	Status     OutcomeStatus `json:"status"`
	Reason     string        `json:"reason,omitempty"`
	Transient  bool          `json:"transient,omitempty"` // worth retrying on the next pass
	State      string        `json:"state"`               // last state reached
	DocumentID string        `json:"document_id,omitempty"`
	Chunks     int           `json:"chunks"`
	Method     string        `json:"method,omitempty"`
	Quality    float64       `json:"quality"`
	OCRPages   []int         `json:"ocr_pages,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
}

// BatchSummary aggregates the outcomes of one feed run.
type BatchSummary struct {
	New             int           `json:"new"`
	Skipped         int           `json:"skipped"`
	Failed          int           `json:"failed"`
	RejectedQuality int           `json:"rejected_quality"`
	Duration        time.Duration `json:"duration_ns"`
	Outcomes        []Outcome     `json:"outcomes"`
}

// Add folds one outcome into the counters.
func (s *BatchSummary) Add(o Outcome) {
	switch o.Status {
	case OutcomeIngested:
		s.New++
	case OutcomeSkippedDuplicate:
		s.Skipped++
	case OutcomeRejectedQuality:
		s.RejectedQuality++
	default:
		s.Failed++
	}
	s.Outcomes = append(s.Outcomes, o)
}

// SearchFilter restricts candidates before ranking. Zero values mean no restriction.
type SearchFilter struct {
	Year    int        `json:"year,omitempty"`
	Since   *time.Time `json:"since,omitempty"`
	Until   *time.Time `json:"until,omitempty"`
	Source  string     `json:"source,omitempty"`
	DocType string     `json:"doc_type,omitempty"`
}

// ChunkCandidate is a raw row from one of the index scans.
type ChunkCandidate struct {
	ChunkID    string
	DocumentID string
	ChunkIndex int
	Content    string
	Title      string
	SourceURL  string
	DocType    string
	KBEpoch    int64
	FTSRank    float64 // raw ts_rank_cd, 0 when not matched
	Similarity float64 // in [0,1], valid only when HasVector
	HasVector  bool
}

// RetrievalResult is one ranked passage.
type RetrievalResult struct {
	ChunkID       string  `json:"chunk_id"`
	DocumentID    string  `json:"document_id"`
	ChunkIndex    int     `json:"chunk_index"`
	ChunkText     string  `json:"chunk_text"`
	DocumentTitle string  `json:"document_title"`
	SourceURL     string  `json:"source_url"`
	DocTypeLabel  string  `json:"document_type_label"`
	KBEpoch       int64   `json:"kb_epoch"`
	FTSScore      float64 `json:"fts_score"`
	VectorScore   float64 `json:"vector_score"`
	HasVector     bool    `json:"has_vector"`
	RecencyScore  float64 `json:"recency_score"`
	Combined      float64 `json:"combined_score"`
}

type ResultSet struct {
	Results        []RetrievalResult `json:"results"`
	Degraded       bool              `json:"degraded"`
	DegradedReason string            `json:"degraded_reason,omitempty"`
}
