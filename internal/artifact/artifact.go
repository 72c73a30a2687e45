// Package artifact defines the payloads stored in artifact content and
// source_refs columns. The shape of content is determined by the
// (agent, kind) pair.
package artifact

import (
	"encoding/json"
	"fmt"
)

const (
	AgentWebScout = "webScout"
	AgentDistill  = "distill"

	KindWebProposal = "web-proposal"
	KindConcepts    = "concepts"
	KindFlashcards  = "flashcards"
)

// Proposal is a web resource suggested by the research agent.
type Proposal struct {
	URL            string   `json:"url"`
	Title          string   `json:"title"`
	Summary        string   `json:"summary"`
	RelevanceScore float64  `json:"relevanceScore"`
	ContentType    string   `json:"contentType"`
	Topics         []string `json:"topics"`
	Reasoning      string   `json:"reasoning"`
}

type Concept struct {
	Name    string `json:"name"`
	Summary string `json:"summary"`
}

type ConceptSet struct {
	DocumentIDs []string  `json:"documentIds"`
	Concepts    []Concept `json:"concepts"`
}

type Flashcard struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type FlashcardSet struct {
	DocumentIDs []string    `json:"documentIds"`
	Cards       []Flashcard `json:"cards"`
}

// ProposalRefs records what a web proposal was found for.
type ProposalRefs struct {
	Goal               string   `json:"goal"`
	WatchSourceDomains []string `json:"watchSourceDomains"`
}

// DocumentRefs points at the vault documents an artifact was derived from.
type DocumentRefs struct {
	DocumentIDs []string `json:"documentIds"`
}

// DecodeContent unmarshals raw into the payload type registered for
// (agent, kind): *Proposal, *ConceptSet or *FlashcardSet. Unknown pairs are
// returned as json.RawMessage.
func DecodeContent(agent, kind, raw string) (any, error) {
	var target any
	switch {
	case agent == AgentWebScout && kind == KindWebProposal:
		target = &Proposal{}
	case agent == AgentDistill && kind == KindConcepts:
		target = &ConceptSet{}
	case agent == AgentDistill && kind == KindFlashcards:
		target = &FlashcardSet{}
	default:
		if !json.Valid([]byte(raw)) {
			return nil, fmt.Errorf("artifact %s/%s: content is not valid JSON", agent, kind)
		}
		return json.RawMessage(raw), nil
	}

	if err := json.Unmarshal([]byte(raw), target); err != nil {
		return nil, fmt.Errorf("decoding %s/%s content: %w", agent, kind, err)
	}
	return target, nil
}

// Encode marshals a payload for storage.
func Encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
