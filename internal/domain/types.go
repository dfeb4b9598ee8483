package domain

import "context"

// Chunk is a bounded piece of an uploaded document, the unit of embedding
// and retrieval. VectorID is the chunk's position in the index and is
// rewritten when a document removal renumbers the index.
type Chunk struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	ChunkIndex int    `json:"chunk_index"`
	Text       string `json:"text"`
	VectorID   int    `json:"vector_id"`
}

// SearchResult is a chunk annotated with its squared L2 distance to the
// query (lower is closer) and its 1-based rank.
type SearchResult struct {
	Chunk
	SimilarityScore float64 `json:"similarity_score"`
	Rank            int     `json:"rank"`
}

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single entry of a conversation or of a generation prompt.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// DocumentInfo summarizes the chunks of one document held by the index.
type DocumentInfo struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	Chunks     int    `json:"chunks"`
}

// Chunker splits extracted document text into overlapping pieces.
type Chunker interface {
	Split(text string) []string
}

// Searcher is the retrieval side of the vector index.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]SearchResult, error)
}
