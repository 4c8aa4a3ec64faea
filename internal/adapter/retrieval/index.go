// Package retrieval indexes Wikipedia documents in SQLite and answers
// questions from the most relevant passages.
package retrieval

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"wikichat/internal/domain"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

const defaultMaxVectorCandidates = 10000

// Options tunes an Index. Zero values select defaults.
type Options struct {
	ChunkTokens         int
	Counter             TokenCounter
	MinScore            float64 // minimum cosine similarity for vector hits
	MaxVectorCandidates int     // rows scanned when the in-memory index is unavailable
}

// Index stores document chunks in SQLite with an FTS5 mirror and optional
// embeddings. Search combines BM25 keyword ranking with cosine similarity.
//
// Embeddings are cached in an in-memory vectorCache, loaded lazily on the first
// vector search and updated on every AddDocuments.
type Index struct {
	db       *sql.DB
	embedder domain.EmbeddingProvider
	chunker  *Chunker
	logger   *slog.Logger
	path     string
	opts     Options
	vectors  *vectorCache
}

// IndexPath returns the database file for a corpus under dataDir, or
// MemoryPath when dataDir is empty.
func IndexPath(dataDir, corpusKey string) string {
	if dataDir == "" {
		return MemoryPath
	}
	sum := sha256.Sum256([]byte(corpusKey))
	return filepath.Join(dataDir, "corpus-"+hex.EncodeToString(sum[:8])+".db")
}

// Open opens (or creates) an index at path, runs migrations, and returns a
// ready Index. Pass nil for embedder to use keyword-only search.
func Open(path string, embedder domain.EmbeddingProvider, logger *slog.Logger, opts Options) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open db: %v", domain.ErrVectorStore, err)
	}

	// Single writer. Also keeps an in-memory database on one connection.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: pragma: %v", domain.ErrVectorStore, err)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate: %v", domain.ErrVectorStore, err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &Index{
		db:       db,
		embedder: embedder,
		chunker:  NewChunker(opts.Counter, opts.ChunkTokens),
		logger:   logger,
		path:     path,
		opts:     opts,
		vectors:  newVectorCache(),
	}, nil
}

// Close closes the underlying database connection.
func (ix *Index) Close() error {
	return ix.db.Close()
}

// Path returns the database location.
func (ix *Index) Path() string { return ix.path }

// chunkID is stable per (title, chunk), so re-adding a document replaces
// its chunks instead of duplicating them.
func chunkID(title string, chunkNo int) string {
	return fmt.Sprintf("%s#%d", title, chunkNo)
}

// AddDocuments chunks docs, embeds every chunk in a single batched call, and
// stores them in one transaction. It returns the number of chunks stored.
// If embedding fails the chunks are stored without vectors.
func (ix *Index) AddDocuments(ctx context.Context, docs []domain.Document) (int, error) {
	var passages []domain.Passage
	for _, d := range docs {
		for i, text := range ix.chunker.Split(d.Content) {
			passages = append(passages, domain.Passage{
				ID:      chunkID(d.Title, i),
				Title:   d.Title,
				ChunkNo: i,
				Content: text,
			})
		}
	}
	if len(passages) == 0 {
		return 0, nil
	}

	var embeddings [][]float32
	if ix.embedder != nil {
		texts := make([]string, len(passages))
		for i, p := range passages {
			texts[i] = p.Title + "\n" + p.Content
		}
		vecs, err := ix.embedder.Embed(ctx, texts)
		switch {
		case err != nil:
			ix.logger.Warn("retrieval: batch embedding failed, storing without vectors", "error", err)
		case len(vecs) != len(passages):
			ix.logger.Warn("retrieval: embedding count mismatch, storing without vectors",
				"want", len(passages), "got", len(vecs))
		default:
			embeddings = vecs
		}
	}

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin tx: %v", domain.ErrVectorStore, err)
	}
	defer tx.Rollback() //nolint:errcheck

	// Re-adding a document replaces all of its previous chunks.
	for _, d := range docs {
		if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE title = ?", d.Title); err != nil {
			return 0, fmt.Errorf("%w: clear %q: %v", domain.ErrVectorStore, d.Title, err)
		}
	}

	const upsert = `
		INSERT INTO entries (id, title, chunk_no, content, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title     = excluded.title,
			chunk_no  = excluded.chunk_no,
			content   = excluded.content,
			embedding = excluded.embedding
	`
	stmt, err := tx.PrepareContext(ctx, upsert)
	if err != nil {
		return 0, fmt.Errorf("%w: prepare: %v", domain.ErrVectorStore, err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for i, p := range passages {
		var emb []byte
		if embeddings != nil {
			emb = float32ToBytes(embeddings[i])
		}
		if _, err := stmt.ExecContext(ctx, p.ID, p.Title, p.ChunkNo, p.Content, emb, now); err != nil {
			return 0, fmt.Errorf("%w: upsert chunk %q: %v", domain.ErrVectorStore, p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit: %v", domain.ErrVectorStore, err)
	}

	if ix.vectors.ready() {
		ix.refreshVectors(docs, passages, embeddings)
	}

	ix.logger.Info("retrieval: documents indexed", "documents", len(docs), "chunks", len(passages),
		"embedded", embeddings != nil)
	return len(passages), nil
}

// refreshVectors mirrors a committed AddDocuments into the vector cache.
func (ix *Index) refreshVectors(docs []domain.Document, passages []domain.Passage, embeddings [][]float32) {
	type group struct {
		passages []domain.Passage
		vecs     [][]float32
	}
	groups := make(map[string]*group, len(docs))
	for _, d := range docs {
		groups[d.Title] = &group{}
	}
	for i, p := range passages {
		g := groups[p.Title]
		if g == nil {
			continue
		}
		g.passages = append(g.passages, p)
		if embeddings != nil {
			g.vecs = append(g.vecs, embeddings[i])
		}
	}
	for title, g := range groups {
		ix.vectors.replace(title, g.passages, g.vecs)
	}
}

// Count returns the number of stored chunks.
func (ix *Index) Count(ctx context.Context) (int, error) {
	var n int
	if err := ix.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entries").Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count: %v", domain.ErrVectorStore, err)
	}
	return n, nil
}

// Titles returns the distinct document titles in the index, sorted.
func (ix *Index) Titles(ctx context.Context) ([]string, error) {
	rows, err := ix.db.QueryContext(ctx, "SELECT DISTINCT title FROM entries ORDER BY title")
	if err != nil {
		return nil, fmt.Errorf("%w: titles: %v", domain.ErrVectorStore, err)
	}
	defer rows.Close()

	var titles []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("%w: titles: %v", domain.ErrVectorStore, err)
		}
		titles = append(titles, t)
	}
	return titles, rows.Err()
}

// Search returns up to k passages for query, best first.
func (ix *Index) Search(ctx context.Context, query string, k int) ([]domain.Passage, error) {
	if k <= 0 {
		k = 3
	}
	return ix.hybridSearch(ctx, query, k)
}
