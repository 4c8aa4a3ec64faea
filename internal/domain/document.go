package domain

import "time"

// Document is a unit of source text added to the retrieval corpus,
// typically one Wikipedia article.
type Document struct {
	Title     string    `json:"title"`
	URL       string    `json:"url,omitempty"`
	Content   string    `json:"content"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Passage is a scored chunk of a Document returned by retrieval.
type Passage struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	ChunkNo int     `json:"chunk_no"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}
