package llm

import "context"

// KnowledgeProvider fetches tenant-specific reference material that is
// prepended to the system prompt. sourceID identifies the owner's
// knowledge base; an empty result means nothing is connected.
type KnowledgeProvider interface {
	Fetch(ctx context.Context, sourceID string) (string, error)
}

// NopKnowledge is the provider used when no knowledge backend is
// configured; it always returns an empty document.
type NopKnowledge struct{}

func (NopKnowledge) Fetch(ctx context.Context, sourceID string) (string, error) {
	return "", nil
}

// StaticKnowledge serves a fixed document per source ID. Useful for
// tests and single-tenant deployments with a local knowledge file.
type StaticKnowledge map[string]string

func (s StaticKnowledge) Fetch(ctx context.Context, sourceID string) (string, error) {
	return s[sourceID], nil
}
