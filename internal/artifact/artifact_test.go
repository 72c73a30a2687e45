package artifact

import (
	"encoding/json"
	"testing"
)

func TestDecodeContent(t *testing.T) {
	p, err := DecodeContent(AgentWebScout, KindWebProposal, `{"url":"https://go.dev","relevanceScore":0.9,"topics":["go"]}`)
	if err != nil {
		t.Fatalf("DecodeContent: %v", err)
	}
	prop, ok := p.(*Proposal)
	if !ok {
		t.Fatalf("got %T, want *Proposal", p)
	}
	if prop.URL != "https://go.dev" || prop.RelevanceScore != 0.9 {
		t.Errorf("proposal = %+v", prop)
	}

	c, err := DecodeContent(AgentDistill, KindConcepts, `{"documentIds":["d1"],"concepts":[{"name":"CSP","summary":"s"}]}`)
	if err != nil {
		t.Fatalf("DecodeContent: %v", err)
	}
	if cs := c.(*ConceptSet); len(cs.Concepts) != 1 || cs.Concepts[0].Name != "CSP" {
		t.Errorf("concepts = %+v", cs)
	}

	f, err := DecodeContent(AgentDistill, KindFlashcards, `{"cards":[{"question":"q","answer":"a"}]}`)
	if err != nil {
		t.Fatalf("DecodeContent: %v", err)
	}
	if fs := f.(*FlashcardSet); len(fs.Cards) != 1 {
		t.Errorf("cards = %+v", fs)
	}
}

func TestDecodeContent_Fallback(t *testing.T) {
	v, err := DecodeContent("custom", "thing", `{"anything":[1,2]}`)
	if err != nil {
		t.Fatalf("DecodeContent: %v", err)
	}
	raw, ok := v.(json.RawMessage)
	if !ok || string(raw) != `{"anything":[1,2]}` {
		t.Errorf("got %T %s", v, raw)
	}

	if _, err := DecodeContent("custom", "thing", `{broken`); err == nil {
		t.Error("expected error for invalid JSON")
	}
	if _, err := DecodeContent(AgentWebScout, KindWebProposal, `[]`); err == nil {
		t.Error("expected error for mismatched shape")
	}
}

func TestEncode(t *testing.T) {
	s, err := Encode(ProposalRefs{Goal: "g", WatchSourceDomains: []string{"go.dev"}})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if s != `{"goal":"g","watchSourceDomains":["go.dev"]}` {
		t.Errorf("Encode = %s", s)
	}
}
