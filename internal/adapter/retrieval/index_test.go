package retrieval

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"wikichat/internal/domain"
)

func nopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testDocs = []domain.Document{
	{Title: "Tokyo", Content: "Tokyo is the capital of Japan.\n\nThe population of Tokyo is about 14 million people."},
	{Title: "Berlin", Content: "Berlin is the capital of Germany.\n\nBerlin is known for its museums."},
	{Title: "Rome", Content: "Rome is the capital of Italy.\n\nRome was founded in 753 BC."},
}

func newTestIndex(t *testing.T, embedder domain.EmbeddingProvider) *Index {
	t.Helper()
	path := filepath.Join(t.TempDir(), "corpus.db")
	ix, err := Open(path, embedder, nopLogger(), Options{Counter: wordCounter{}, ChunkTokens: 64})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { ix.Close() })
	return ix
}

// topicEmbedder maps text onto fixed topic axes. "zzz" is a synonym for Berlin
// that never appears in any document.
type topicEmbedder struct {
	err   error
	calls int
}

func (e *topicEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		lower := strings.ToLower(text)
		v := make([]float32, 3)
		if strings.Contains(lower, "berlin") || strings.Contains(lower, "zzz") {
			v[0] = 1
		}
		if strings.Contains(lower, "tokyo") {
			v[1] = 1
		}
		if strings.Contains(lower, "rome") {
			v[2] = 1
		}
		out[i] = v
	}
	return out, nil
}

func (e *topicEmbedder) Dimensions() int { return 3 }
func (e *topicEmbedder) Name() string    { return "topic" }

func TestAddDocumentsAndSearch(t *testing.T) {
	ix := newTestIndex(t, nil)
	ctx := context.Background()

	n, err := ix.AddDocuments(ctx, testDocs)
	if err != nil {
		t.Fatalf("AddDocuments: %v", err)
	}
	if n != 3 {
		t.Errorf("chunks = %d, want 3", n)
	}

	count, err := ix.Count(ctx)
	if err != nil || count != 3 {
		t.Fatalf("Count = %d, %v", count, err)
	}

	results, err := ix.Search(ctx, "What is the population of Tokyo?", 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected results")
	}
	if results[0].Title != "Tokyo" {
		t.Errorf("top result = %q, want Tokyo", results[0].Title)
	}
	if !strings.Contains(results[0].Content, "14 million") {
		t.Errorf("top content = %q", results[0].Content)
	}
	if results[0].Score <= 0 {
		t.Errorf("score = %v, want > 0", results[0].Score)
	}
}

func TestSearch_NoMatch(t *testing.T) {
	ix := newTestIndex(t, nil)
	ctx := context.Background()
	if _, err := ix.AddDocuments(ctx, testDocs); err != nil {
		t.Fatalf("AddDocuments: %v", err)
	}

	results, err := ix.Search(ctx, "volcanoes", 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}

	results, err = ix.Search(ctx, "what is the", 3)
	if err != nil || len(results) != 0 {
		t.Errorf("stopword-only query = %v, %v", results, err)
	}
}

func TestSearch_EmptyIndex(t *testing.T) {
	ix := newTestIndex(t, nil)
	results, err := ix.Search(context.Background(), "Tokyo", 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestAddDocuments_ReplacesDocument(t *testing.T) {
	ix := newTestIndex(t, nil)
	ctx := context.Background()
	if _, err := ix.AddDocuments(ctx, testDocs); err != nil {
		t.Fatalf("AddDocuments: %v", err)
	}

	updated := domain.Document{Title: "Tokyo", Content: "Tokyo hosted the 2020 Olympics."}
	if _, err := ix.AddDocuments(ctx, []domain.Document{updated}); err != nil {
		t.Fatalf("AddDocuments: %v", err)
	}

	count, _ := ix.Count(ctx)
	if count != 3 {
		t.Errorf("Count = %d, want 3", count)
	}
	results, err := ix.Search(ctx, "Tokyo olympics", 1)
	if err != nil || len(results) != 1 {
		t.Fatalf("Search = %v, %v", results, err)
	}
	if results[0].Content != "Tokyo hosted the 2020 Olympics." {
		t.Errorf("content = %q", results[0].Content)
	}
}

func TestTitles(t *testing.T) {
	ix := newTestIndex(t, nil)
	ctx := context.Background()
	if _, err := ix.AddDocuments(ctx, testDocs); err != nil {
		t.Fatalf("AddDocuments: %v", err)
	}
	titles, err := ix.Titles(ctx)
	if err != nil {
		t.Fatalf("Titles: %v", err)
	}
	if strings.Join(titles, ",") != "Berlin,Rome,Tokyo" {
		t.Errorf("Titles = %v", titles)
	}
}

func TestVectorSearch(t *testing.T) {
	emb := &topicEmbedder{}
	ix := newTestIndex(t, emb)
	ctx := context.Background()
	if _, err := ix.AddDocuments(ctx, testDocs); err != nil {
		t.Fatalf("AddDocuments: %v", err)
	}
	if emb.calls != 1 {
		t.Errorf("embed calls = %d, want 1 batched call", emb.calls)
	}

	results, err := ix.Search(ctx, "zzz", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	if results[0].Title != "Berlin" {
		t.Errorf("top = %q, want Berlin", results[0].Title)
	}
	if !ix.vectors.ready() || ix.vectors.count() != 3 {
		t.Errorf("vec index loaded=%v size=%d", ix.vectors.ready(), ix.vectors.count())
	}

	// Index updates after load are visible to the next search.
	if _, err := ix.AddDocuments(ctx, []domain.Document{{Title: "Berlin", Content: "Berlin has many bridges."}}); err != nil {
		t.Fatalf("AddDocuments: %v", err)
	}
	results, err = ix.Search(ctx, "zzz", 1)
	if err != nil || len(results) != 1 {
		t.Fatalf("Search = %v, %v", results, err)
	}
	if results[0].Content != "Berlin has many bridges." {
		t.Errorf("content = %q", results[0].Content)
	}
}

func TestVectorSearch_MinScore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.db")
	ix, err := Open(path, &topicEmbedder{}, nopLogger(), Options{Counter: wordCounter{}, MinScore: 0.9})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ix.Close()
	ctx := context.Background()
	if _, err := ix.AddDocuments(ctx, testDocs); err != nil {
		t.Fatalf("AddDocuments: %v", err)
	}

	// "zzz tokyo" is equally close to Berlin and Tokyo (cos ~0.707).
	results, err := ix.vectorSearch(ctx, "zzz tokyo", 3)
	if err != nil {
		t.Fatalf("vectorSearch: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected hits below min score to be dropped, got %d", len(results))
	}
}

func TestAddDocuments_EmbeddingFailureStoresWithoutVectors(t *testing.T) {
	emb := &topicEmbedder{err: errors.New("embedding service down")}
	ix := newTestIndex(t, emb)
	ctx := context.Background()

	if _, err := ix.AddDocuments(ctx, testDocs); err != nil {
		t.Fatalf("AddDocuments: %v", err)
	}
	results, err := ix.Search(ctx, "Rome founded", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Title != "Rome" {
		t.Errorf("keyword fallback results = %+v", results)
	}
}

func TestReopenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.db")
	ctx := context.Background()

	ix, err := Open(path, nil, nopLogger(), Options{Counter: wordCounter{}})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := ix.AddDocuments(ctx, testDocs); err != nil {
		t.Fatalf("AddDocuments: %v", err)
	}
	ix.Close()

	ix, err = Open(path, nil, nopLogger(), Options{Counter: wordCounter{}})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer ix.Close()
	if n, _ := ix.Count(ctx); n != 3 {
		t.Errorf("Count after reopen = %d, want 3", n)
	}
	if ix.Path() != path {
		t.Errorf("Path = %q", ix.Path())
	}
}

func TestOpenInMemory(t *testing.T) {
	ix, err := Open(MemoryPath, nil, nil, Options{Counter: wordCounter{}})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ix.Close()
	ctx := context.Background()
	if _, err := ix.AddDocuments(ctx, testDocs[:1]); err != nil {
		t.Fatalf("AddDocuments: %v", err)
	}
	if n, _ := ix.Count(ctx); n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
}

func TestIndexPath(t *testing.T) {
	if got := IndexPath("", "Tokyo"); got != MemoryPath {
		t.Errorf("IndexPath(empty dir) = %q", got)
	}
	a := IndexPath("/data", "Tokyo, Berlin")
	b := IndexPath("/data", "Tokyo, Berlin")
	c := IndexPath("/data", "Rome")
	if a != b {
		t.Error("same corpus should map to the same file")
	}
	if a == c {
		t.Error("different corpora should map to different files")
	}
	if filepath.Dir(a) != "/data" || !strings.HasSuffix(a, ".db") {
		t.Errorf("IndexPath = %q", a)
	}
}
