package retrieval

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"wikichat/internal/domain"
)

// scoredPassage pairs a passage with its fused relevance score.
type scoredPassage struct {
	passage domain.Passage
	score   float64
}

// hybridSearch combines keyword (FTS5) and vector (cosine) search using
// Reciprocal Rank Fusion.
func (ix *Index) hybridSearch(ctx context.Context, query string, limit int) ([]domain.Passage, error) {
	fetchLimit := limit * 2

	kwResults, kwErr := ix.keywordSearch(ctx, query, fetchLimit)
	vecResults, vecErr := ix.vectorSearch(ctx, query, fetchLimit)

	if kwErr != nil && vecErr != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrVectorSearch, kwErr)
	}
	if vecErr != nil {
		ix.logger.Warn("retrieval: vector search failed, using keywords only", "error", vecErr)
	}

	var scored []scoredPassage
	switch {
	case kwErr != nil:
		scored = passagesToScored(vecResults)
	case vecErr != nil || len(vecResults) == 0:
		scored = passagesToScored(kwResults)
	default:
		scored = reciprocalRankFusion(kwResults, vecResults)
	}

	if len(scored) > limit {
		scored = scored[:limit]
	}

	result := make([]domain.Passage, len(scored))
	for i, sp := range scored {
		result[i] = sp.passage
		result[i].Score = sp.score
	}
	return result, nil
}

// keywordSearch ranks chunks containing any query term by BM25. If FTS5
// rejects the expression it falls back to a LIKE scan.
func (ix *Index) keywordSearch(ctx context.Context, query string, limit int) ([]domain.Passage, error) {
	terms := searchTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	rows, err := ix.db.QueryContext(ctx,
		`SELECT e.id, e.title, e.chunk_no, e.content
		 FROM entries_fts f
		 JOIN entries e ON e.rowid = f.rowid
		 WHERE entries_fts MATCH ?
		 ORDER BY bm25(entries_fts)
		 LIMIT ?`,
		ftsExpression(terms), limit,
	)
	if err != nil {
		return ix.likeSearch(ctx, terms, limit)
	}
	defer rows.Close()
	return scanPassages(rows)
}

// likeSearch matches chunks containing any of terms.
func (ix *Index) likeSearch(ctx context.Context, terms []string, limit int) ([]domain.Passage, error) {
	conds := make([]string, len(terms))
	args := make([]any, 0, len(terms)+1)
	for i, t := range terms {
		conds[i] = "content LIKE ?"
		args = append(args, "%"+t+"%")
	}
	args = append(args, limit)

	rows, err := ix.db.QueryContext(ctx,
		"SELECT id, title, chunk_no, content FROM entries WHERE "+
			strings.Join(conds, " OR ")+" ORDER BY title, chunk_no LIMIT ?",
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPassages(rows)
}

// vectorSearch embeds the query and finds the most similar chunks by cosine
// similarity. It uses the in-memory index, loading it on first use, and falls
// back to a database scan if loading fails.
func (ix *Index) vectorSearch(ctx context.Context, query string, limit int) ([]domain.Passage, error) {
	if ix.embedder == nil || strings.TrimSpace(query) == "" {
		return nil, nil
	}

	vecs, err := ix.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, nil
	}
	queryVec := vecs[0]

	if !ix.vectors.ready() {
		if err := ix.vectors.load(ctx, ix.db); err != nil {
			ix.logger.Warn("retrieval: failed to load vec index, falling back to DB scan", "error", err)
			return ix.vectorSearchDB(ctx, queryVec, limit)
		}
	}
	return ix.vectors.nearest(queryVec, limit, ix.opts.MinScore), nil
}

// vectorSearchDB scans stored embeddings directly.
func (ix *Index) vectorSearchDB(ctx context.Context, queryVec []float32, limit int) ([]domain.Passage, error) {
	maxCandidates := ix.opts.MaxVectorCandidates
	if maxCandidates <= 0 {
		maxCandidates = defaultMaxVectorCandidates
	}

	rows, err := ix.db.QueryContext(ctx,
		"SELECT id, title, chunk_no, content, embedding FROM entries WHERE embedding IS NOT NULL LIMIT ?",
		maxCandidates,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []domain.Passage
	for rows.Next() {
		var (
			p       domain.Passage
			embBlob []byte
		)
		if err := rows.Scan(&p.ID, &p.Title, &p.ChunkNo, &p.Content, &embBlob); err != nil {
			continue
		}
		sim := cosineSimilarity(queryVec, bytesToFloat32(embBlob))
		if sim <= 0 || float64(sim) < ix.opts.MinScore {
			continue
		}
		p.Score = float64(sim)
		candidates = append(candidates, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// cosineSimilarity computes dot(a,b) / (||a|| * ||b||).
// Returns 0 for zero-length vectors, length mismatch, or NaN/Inf results.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	denom := float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB)))
	if denom == 0 {
		return 0
	}
	result := dot / denom
	if math.IsNaN(float64(result)) || math.IsInf(float64(result), 0) {
		return 0
	}
	return result
}

// passagesToScored assigns descending rank-based scores, for use when only
// one search source produced results.
func passagesToScored(passages []domain.Passage) []scoredPassage {
	scored := make([]scoredPassage, len(passages))
	for i, p := range passages {
		scored[i] = scoredPassage{passage: p, score: 1.0 / float64(i+1)}
	}
	return scored
}

// reciprocalRankFusion merges two ranked lists using RRF (k=60). Ties keep
// the order in which passages were first seen.
func reciprocalRankFusion(list1, list2 []domain.Passage) []scoredPassage {
	const k = 60

	scores := make(map[string]float64)
	byID := make(map[string]domain.Passage)
	var order []string

	for _, list := range [][]domain.Passage{list1, list2} {
		for rank, p := range list {
			if _, seen := byID[p.ID]; !seen {
				order = append(order, p.ID)
				byID[p.ID] = p
			}
			scores[p.ID] += 1.0 / float64(k+rank+1)
		}
	}

	result := make([]scoredPassage, len(order))
	for i, id := range order {
		result[i] = scoredPassage{passage: byID[id], score: scores[id]}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].score > result[j].score
	})
	return result
}

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "was": true, "were": true,
	"be": true, "been": true, "what": true, "which": true, "who": true, "whom": true,
	"when": true, "where": true, "why": true, "how": true, "of": true, "in": true, "on": true,
	"at": true, "to": true, "for": true, "from": true, "by": true, "with": true, "about": true,
	"and": true, "or": true, "do": true, "does": true, "did": true, "tell": true, "me": true,
	"please": true, "can": true, "could": true, "you": true, "it": true, "its": true,
	"this": true, "that": true, "as": true, "there": true, "their": true, "has": true, "have": true,
}

// searchTerms extracts the distinct lowercase content words of query.
func searchTerms(query string) []string {
	words := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(words))
	var terms []string
	for _, w := range words {
		if len(w) < 2 || stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, w)
	}
	return terms
}

// ftsExpression ORs the quoted terms so any match ranks and BM25 rewards
// chunks matching more of them.
func ftsExpression(terms []string) string {
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + t + `"`
	}
	return strings.Join(quoted, " OR ")
}

// float32ToBytes converts a float32 slice to little-endian bytes.
func float32ToBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToFloat32 converts little-endian bytes back to a float32 slice.
func bytesToFloat32(b []byte) []float32 {
	if len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

func scanPassages(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]domain.Passage, error) {
	var passages []domain.Passage
	for rows.Next() {
		var p domain.Passage
		if err := rows.Scan(&p.ID, &p.Title, &p.ChunkNo, &p.Content); err != nil {
			continue
		}
		passages = append(passages, p)
	}
	return passages, rows.Err()
}
