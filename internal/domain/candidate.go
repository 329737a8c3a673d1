package domain

// Candidate is a single catalog item retrieved by vector similarity.
// ProductID is unique within the index; InitialScore is the cosine
// similarity of the item against the fused query vector.
type Candidate struct {
	ProductID           string
	Path                string
	SemanticDescription string
	InitialScore        float64
}

// RankedResult is a Candidate with its final position after reranking.
// RerankScore is a raw cross-encoder relevance score (higher is better);
// when the rerank stage was skipped it falls back to InitialScore.
type RankedResult struct {
	Candidate
	RerankScore float64
	Rank        int
}

// FromCandidates assigns 1-based ranks in slice order, carrying the given
// score for each position. Used for the embedding-only view where the
// initial similarity is the ranking score.
func FromCandidates(candidates []Candidate) []RankedResult {
	out := make([]RankedResult, len(candidates))
	for i, c := range candidates {
		out[i] = RankedResult{Candidate: c, RerankScore: c.InitialScore, Rank: i + 1}
	}
	return out
}
