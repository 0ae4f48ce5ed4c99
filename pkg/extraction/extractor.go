// Package extraction derives structured entities and facts from memory
// content for the symbolic search leg.
package extraction

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/dan-solli/mnemo/pkg/llm"
	"github.com/dan-solli/mnemo/pkg/store"
)

// Result is the structured output of one extraction.
type Result struct {
	Entities map[string]store.Entity
	Facts    []string
}

// Extractor turns memory content into entities and facts.
type Extractor interface {
	Extract(ctx context.Context, text string) (*Result, error)
}

var validEntityTypes = map[string]bool{
	"Person":       true,
	"Concept":      true,
	"System":       true,
	"Decision":     true,
	"Event":        true,
	"Technology":   true,
	"Pattern":      true,
	"Problem":      true,
	"Goal":         true,
	"Location":     true,
	"Organization": true,
	"Document":     true,
	"Process":      true,
	"Requirement":  true,
	"Preference":   true,
	"Task":         true,
}

const extractionPrompt = `You are a memory indexing assistant.

From the text below, extract:
- entities: meaningful named things. For each give name, type (one of
  [Person, Concept, System, Decision, Event, Technology, Pattern, Problem,
  Goal, Location, Organization, Document, Process, Requirement, Preference,
  Task]) and a one-sentence description.
- facts: short standalone statements the text asserts, each under 20 words.

Text:
---
%s
---

Return ONLY valid JSON:
{"entities": [{"name": "...", "type": "...", "description": "..."}], "facts": ["..."]}`

// LLMExtractor implements Extractor on a chat-completion client.
type LLMExtractor struct {
	client llm.Client
}

// NewLLMExtractor creates an extractor backed by the given model client.
func NewLLMExtractor(client llm.Client) *LLMExtractor {
	return &LLMExtractor{client: client}
}

type rawExtraction struct {
	Entities []struct {
		Name        string `json:"name"`
		Type        string `json:"type"`
		Description string `json:"description"`
	} `json:"entities"`
	Facts []string `json:"facts"`
}

// Extract runs the extraction prompt and validates the response. Empty text
// extracts to an empty result without calling the model.
func (e *LLMExtractor) Extract(ctx context.Context, text string) (*Result, error) {
	result := &Result{
		Entities: map[string]store.Entity{},
		Facts:    []string{},
	}
	if strings.TrimSpace(text) == "" {
		return result, nil
	}

	var raw rawExtraction
	if err := e.client.CompleteJSON(ctx, fmt.Sprintf(extractionPrompt, text), &raw); err != nil {
		return nil, fmt.Errorf("failed to extract from content: %w", err)
	}

	for i, ent := range raw.Entities {
		name := strings.TrimSpace(ent.Name)
		if name == "" {
			return nil, fmt.Errorf("entity at index %d has empty name", i)
		}
		typ := ent.Type
		if !validEntityTypes[typ] {
			log.Printf("mnemo: entity %q has unrecognized type %q, normalizing to Concept", name, typ)
			typ = "Concept"
		}
		result.Entities[name] = store.Entity{
			Type:        typ,
			Description: strings.TrimSpace(ent.Description),
		}
	}

	for _, fact := range raw.Facts {
		if fact = strings.TrimSpace(fact); fact != "" {
			result.Facts = append(result.Facts, fact)
		}
	}
	return result, nil
}
