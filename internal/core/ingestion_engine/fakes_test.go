package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/markdave123-py/lexkb/internal/core"
	"github.com/markdave123-py/lexkb/internal/core/llm"
	"github.com/markdave123-py/lexkb/internal/models"
)

// memStore is an in-memory DocumentStore and ChunkSearcher. Its full-text
// rank is the share of query words present in a chunk.
type memStore struct {
	mu      sync.Mutex
	vector  bool
	docs    map[string]*models.Document // by url
	chunks  map[string][]models.Chunk   // by document id
	saveErr error
	saves   int
	clock   time.Time
}

func newMemStore(vector bool) *memStore {
	return &memStore{
		vector: vector,
		docs:   map[string]*models.Document{},
		chunks: map[string][]models.Chunk{},
		clock:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *memStore) DocumentExists(_ context.Context, url string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.docs[url]
	return ok, nil
}

func (m *memStore) SaveDocument(_ context.Context, doc *models.Document, chunks []models.Chunk, replace bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.clock = m.clock.Add(time.Second)
	created := m.clock
	if old, ok := m.docs[doc.URL]; ok {
		if !replace {
			return core.ErrDuplicateDocument
		}
		doc.ID, created = old.ID, old.CreatedAt
		for i := range chunks {
			chunks[i].DocumentID = old.ID
		}
		delete(m.chunks, old.ID)
	}
	cp := *doc
	cp.CreatedAt, cp.UpdatedAt = created, m.clock
	m.docs[doc.URL] = &cp
	m.chunks[doc.ID] = append([]models.Chunk(nil), chunks...)
	return nil
}

func (m *memStore) GetDocumentByURL(_ context.Context, url string) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[url]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *d
	cp.ChunkCount = len(m.chunks[d.ID])
	return &cp, nil
}

func (m *memStore) GetChunksByDocument(_ context.Context, id string) ([]models.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Chunk(nil), m.chunks[id]...), nil
}

func (m *memStore) ListDocuments(context.Context, int, int) ([]models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Document
	for _, d := range m.docs {
		out = append(out, *d)
	}
	return out, nil
}

func (m *memStore) DeleteDocumentByURL(_ context.Context, url string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[url]
	if !ok {
		return false, nil
	}
	delete(m.chunks, d.ID)
	delete(m.docs, url)
	return true, nil
}

func (m *memStore) VectorEnabled() bool { return m.vector }

func (m *memStore) docCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs)
}

func (m *memStore) allChunks() []models.Chunk {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Chunk
	for _, cs := range m.chunks {
		out = append(out, cs...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func toCandidate(c models.Chunk) models.ChunkCandidate {
	return models.ChunkCandidate{
		ChunkID: c.ID, DocumentID: c.DocumentID, ChunkIndex: c.ChunkIndex, Content: c.Content,
		Title: c.Title, SourceURL: c.SourceURL, DocType: c.DocType, KBEpoch: c.KBEpoch,
		HasVector: len(c.Embedding) > 0,
	}
}

func (m *memStore) SearchChunksFullText(_ context.Context, query string, _ models.SearchFilter, limit int) ([]models.ChunkCandidate, error) {
	terms := strings.Fields(strings.ToLower(query))
	var out []models.ChunkCandidate
	for _, c := range m.allChunks() {
		if c.IsJunk {
			continue
		}
		words := map[string]bool{}
		for _, w := range strings.Fields(strings.ToLower(c.Content)) {
			words[strings.Trim(w, ".,;:")] = true
		}
		hits := 0
		for _, t := range terms {
			if words[t] {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		cand := toCandidate(c)
		cand.FTSRank = float64(hits) / float64(len(terms))
		out = append(out, cand)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].FTSRank > out[j].FTSRank })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) similarity(vec []float32, c models.Chunk) float64 {
	return (1 + llm.CosineSimilarity(vec, c.Embedding)) / 2
}

func (m *memStore) SearchChunksVector(_ context.Context, vec []float32, _ models.SearchFilter, limit int) ([]models.ChunkCandidate, error) {
	if !m.vector {
		return nil, core.ErrVectorUnavailable
	}
	var out []models.ChunkCandidate
	for _, c := range m.allChunks() {
		if c.IsJunk || len(c.Embedding) == 0 {
			continue
		}
		cand := toCandidate(c)
		cand.Similarity = m.similarity(vec, c)
		out = append(out, cand)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) ScoreChunksVector(_ context.Context, vec []float32, ids []string) (map[string]float64, error) {
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	out := map[string]float64{}
	for _, c := range m.allChunks() {
		if want[c.ID] && len(c.Embedding) > 0 {
			out[c.ID] = m.similarity(vec, c)
		}
	}
	return out, nil
}

// fakeFetcher serves canned responses. A URL listed in block waits for the
// context to end.
type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]*core.FetchResult
	errs  map[string]error
	block map[string]bool
	calls map[string]int
	// started is signalled when a blocking fetch begins.
	started chan string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		pages:   map[string]*core.FetchResult{},
		errs:    map[string]error{},
		block:   map[string]bool{},
		calls:   map[string]int{},
		started: make(chan string, 16),
	}
}

func (f *fakeFetcher) add(url, contentType, body string) {
	f.pages[url] = &core.FetchResult{Body: []byte(body), ContentType: contentType, FinalURL: url}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (*core.FetchResult, error) {
	f.mu.Lock()
	f.calls[url]++
	res, err, block := f.pages[url], f.errs[url], f.block[url]
	f.mu.Unlock()

	if block {
		f.started <- url
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, errors.New("http 404")
	}
	return res, nil
}

func (f *fakeFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

// hashEmbedder is a bag-of-words embedding: texts sharing words are close.
type hashEmbedder struct {
	mu    sync.Mutex
	dim   int
	calls int
	err   error
}

func (e *hashEmbedder) EmbedBatch(_ context.Context, texts []string, _ core.TaskType) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	err := e.err
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, e.dim)
		for _, w := range strings.Fields(strings.ToLower(t)) {
			h := fnv.New32a()
			_, _ = h.Write([]byte(strings.Trim(w, ".,;:")))
			v[h.Sum32()%uint32(e.dim)]++
		}
		out[i] = llm.Normalize(v)
	}
	return out, nil
}

func (e *hashEmbedder) Dimension() int { return e.dim }
func (e *hashEmbedder) Model() string  { return "hash" }

func (e *hashEmbedder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// fakePages returns canned pages keyed by the PDF body.
type fakePages map[string][]PDFPage

func (f fakePages) ReadPages(_ context.Context, body []byte) ([]PDFPage, error) {
	pages, ok := f[string(body)]
	if !ok {
		return nil, errors.New("malformed pdf")
	}
	return append([]PDFPage(nil), pages...), nil
}

type fakeRasterizer struct {
	mu    sync.Mutex
	pages []int
}

func (r *fakeRasterizer) RasterizePage(_ context.Context, pdf []byte, page int) ([]byte, error) {
	r.mu.Lock()
	r.pages = append(r.pages, page)
	r.mu.Unlock()
	return []byte(fmt.Sprintf("%s#%d", pdf, page)), nil
}

// fakeOCR reads back a page's text from the image id.
type fakeOCR struct {
	text  func(image string) string
	err   error
	block bool
}

func (o *fakeOCR) Recognize(ctx context.Context, image []byte, language string) (string, error) {
	if language != "ita" {
		return "", fmt.Errorf("unexpected language %q", language)
	}
	if o.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if o.err != nil {
		return "", o.err
	}
	return o.text(string(image)), nil
}

var proseSentences = []string{
	"La presente comunicazione illustra le modalità operative previste per gli adempimenti fiscali dei contribuenti.",
	"Gli uffici territoriali forniranno assistenza agli interessati secondo le indicazioni riportate di seguito.",
	"Le disposizioni si applicano ai periodi d'imposta successivi alla data di entrata in vigore della norma.",
	"Resta ferma la possibilità di presentare istanza motivata entro i termini ordinari previsti dalla legge.",
	"Per ulteriori chiarimenti è possibile consultare la documentazione pubblicata nella sezione dedicata del sito.",
}

// prose builds readable Italian text about topic with n sentences.
func prose(topic string, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i%3 == 0 {
			fmt.Fprintf(&b, "Il documento tratta il tema %s in modo approfondito. ", topic)
		}
		b.WriteString(proseSentences[i%len(proseSentences)])
		b.WriteByte(' ')
	}
	return strings.TrimSpace(b.String())
}

func htmlPage(title, body string) string {
	return "<html><head><title>" + title + "</title><script>var x = 1;</script></head><body>" +
		"<nav>Home | Servizi | Contatti</nav><main><h1>" + title + "</h1><p>" + body + "</p></main>" +
		"<footer>Copyright</footer></body></html>"
}
