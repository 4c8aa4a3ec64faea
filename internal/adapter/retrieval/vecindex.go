package retrieval

import (
	"cmp"
	"context"
	"database/sql"
	"slices"
	"sync"

	"wikichat/internal/domain"
)

// vectorCache keeps chunk embeddings in memory, grouped by document title,
// so a vector search does not read every blob from SQLite.
type vectorCache struct {
	mu     sync.RWMutex
	byDoc  map[string][]vecEntry
	filled bool
}

type vecEntry struct {
	passage domain.Passage
	vec     []float32
}

func newVectorCache() *vectorCache {
	return &vectorCache{byDoc: make(map[string][]vecEntry)}
}

// nearest scores every cached chunk against q and returns the best limit.
// Non-positive similarities and those under minScore never match. Ties
// break on chunk ID so results are stable.
func (c *vectorCache) nearest(q []float32, limit int, minScore float64) []domain.Passage {
	c.mu.RLock()
	var hits []domain.Passage
	for _, chunks := range c.byDoc {
		for _, e := range chunks {
			sim := float64(cosineSimilarity(q, e.vec))
			if sim <= 0 || sim < minScore {
				continue
			}
			p := e.passage
			p.Score = sim
			hits = append(hits, p)
		}
	}
	c.mu.RUnlock()

	slices.SortFunc(hits, func(a, b domain.Passage) int {
		if a.Score != b.Score {
			return cmp.Compare(b.Score, a.Score)
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return hits[:min(limit, len(hits))]
}

// replace swaps in the chunks of one document. A nil vec skips a chunk.
func (c *vectorCache) replace(title string, passages []domain.Passage, vecs [][]float32) {
	var chunks []vecEntry
	for i, p := range passages {
		if i < len(vecs) && vecs[i] != nil {
			chunks = append(chunks, vecEntry{passage: p, vec: vecs[i]})
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(chunks) == 0 {
		delete(c.byDoc, title)
		return
	}
	c.byDoc[title] = chunks
}

func (c *vectorCache) ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filled
}

func (c *vectorCache) count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, chunks := range c.byDoc {
		n += len(chunks)
	}
	return n
}

// load reads every stored embedding. Rows whose blob does not decode are
// skipped; they stay reachable through keyword search.
func (c *vectorCache) load(ctx context.Context, db *sql.DB) error {
	if c.ready() {
		return nil
	}
	rows, err := db.QueryContext(ctx,
		"SELECT id, title, chunk_no, content, embedding FROM entries WHERE embedding IS NOT NULL")
	if err != nil {
		return err
	}
	defer rows.Close()

	byDoc := make(map[string][]vecEntry)
	for rows.Next() {
		var (
			p    domain.Passage
			blob []byte
		)
		if err := rows.Scan(&p.ID, &p.Title, &p.ChunkNo, &p.Content, &blob); err != nil {
			return err
		}
		if vec := bytesToFloat32(blob); vec != nil {
			byDoc[p.Title] = append(byDoc[p.Title], vecEntry{passage: p, vec: vec})
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	c.byDoc, c.filled = byDoc, true
	c.mu.Unlock()
	return nil
}
