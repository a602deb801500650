package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

type KnowledgeHit struct {
	Chunk          KnowledgeChunk
	RelevanceScore float64
}

func (s *Store) AddKnowledgeChunk(ctx context.Context, chunk KnowledgeChunk) (KnowledgeChunk, error) {
	if strings.TrimSpace(chunk.AgentID) == "" || strings.TrimSpace(chunk.CollectionName) == "" {
		return KnowledgeChunk{}, fmt.Errorf("agent_id and collection_name are required")
	}
	if chunk.ID == "" {
		chunk.ID = uuid.NewString()
	}
	chunk.CreatedAt = s.now()
	if err := s.db.WithContext(ctx).Create(&chunk).Error; err != nil {
		return KnowledgeChunk{}, fmt.Errorf("create knowledge chunk: %w", err)
	}
	return chunk, nil
}

// SearchKnowledge ranks the chunks of one collection by the fraction of query
// terms they contain. Chunks matching no term are dropped. Ties keep chunk
// order.
func (s *Store) SearchKnowledge(ctx context.Context, agentID, collection, query string, limit int) ([]KnowledgeHit, error) {
	terms := uniqueTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	var chunks []KnowledgeChunk
	err := s.db.WithContext(ctx).
		Where("agent_id = ? AND collection_name = ?", agentID, collection).
		Order("chunk_index ASC").
		Find(&chunks).Error
	if err != nil {
		return nil, fmt.Errorf("search knowledge: %w", err)
	}

	hits := make([]KnowledgeHit, 0, len(chunks))
	for _, c := range chunks {
		words := make(map[string]struct{})
		for _, w := range tokenize(c.Content) {
			words[w] = struct{}{}
		}
		matched := 0
		for _, t := range terms {
			if _, ok := words[t]; ok {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		hits = append(hits, KnowledgeHit{Chunk: c, RelevanceScore: float64(matched) / float64(len(terms))})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].RelevanceScore > hits[j].RelevanceScore })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func uniqueTerms(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, t := range tokenize(text) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
