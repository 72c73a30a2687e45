package flow

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kalambet/curio/internal/artifact"
)

const topProposalCount = 10

func reportTitle(topics []Topic) string {
	names := topicNames(topics)
	if len(names) > 3 {
		return fmt.Sprintf("Research report: %s and %d more", strings.Join(names[:3], ", "), len(names)-3)
	}
	return "Research report: " + strings.Join(names, ", ")
}

// renderReport builds the Markdown report from the aggregated counts. The
// output depends only on res.
func renderReport(res TopicReportResult) string {
	var sb strings.Builder
	t := res.Totals

	names := make([]string, len(res.Topics))
	for i, tr := range res.Topics {
		names[i] = tr.Topic
	}
	fmt.Fprintf(&sb, "# Research report for %s\n\n", res.Day)
	fmt.Fprintf(&sb, "Topics: %s\n\n", strings.Join(names, ", "))

	sb.WriteString("## Executive summary\n\n")
	fmt.Fprintf(&sb, "Researched %d %s. Curated %d %s", t.Topics, plural(t.Topics, "topic", "topics"), t.DocsCurated, plural(t.DocsCurated, "document", "documents"))
	if t.DocsCurateFailed > 0 {
		fmt.Fprintf(&sb, " (%d failed)", t.DocsCurateFailed)
	}
	fmt.Fprintf(&sb, ", found %d new %s and extracted %d %s and %d %s.",
		t.ProposalsCreated, plural(t.ProposalsCreated, "resource", "resources"),
		t.Concepts, plural(t.Concepts, "concept", "concepts"),
		t.Flashcards, plural(t.Flashcards, "flashcard", "flashcards"))
	if t.TopicsWithErrors > 0 {
		fmt.Fprintf(&sb, " %d %s reported errors.", t.TopicsWithErrors, plural(t.TopicsWithErrors, "topic", "topics"))
	}
	sb.WriteString("\n\n")

	sb.WriteString("## Totals\n\n")
	sb.WriteString("| Metric | Count |\n|---|---|\n")
	rows := []struct {
		label string
		n     int
	}{
		{"Topics", t.Topics},
		{"Documents curated", t.DocsCurated},
		{"Documents failed", t.DocsCurateFailed},
		{"Proposals", t.ProposalsCreated},
		{"Documents imported", t.DocumentsImported},
		{"Concepts", t.Concepts},
		{"Flashcards", t.Flashcards},
	}
	for _, r := range rows {
		fmt.Fprintf(&sb, "| %s | %d |\n", r.label, r.n)
	}
	sb.WriteString("\n")

	sb.WriteString("## Topics\n")
	for _, tr := range res.Topics {
		fmt.Fprintf(&sb, "\n### %s\n\n", tr.Topic)
		fmt.Fprintf(&sb, "- Documents matched: %d\n", tr.DocsMatched)
		fmt.Fprintf(&sb, "- Documents curated: %d (failed: %d)\n", tr.DocsCurated, tr.DocsCurateFailed)
		fmt.Fprintf(&sb, "- Proposals: %d\n", tr.ProposalsCreated)
		fmt.Fprintf(&sb, "- Documents imported: %d\n", tr.DocumentsImported)
		fmt.Fprintf(&sb, "- Concepts: %d, flashcards: %d\n", tr.Concepts, tr.Flashcards)
		if len(tr.Errors) > 0 {
			sb.WriteString("- Errors:\n")
			for _, e := range tr.Errors {
				if e.DocumentID != "" {
					fmt.Fprintf(&sb, "  - %s (%s): %s\n", e.Stage, e.DocumentID, e.Message)
				} else {
					fmt.Fprintf(&sb, "  - %s: %s\n", e.Stage, e.Message)
				}
			}
		}
	}

	top := topProposals(res.Topics)
	if len(top) > 0 {
		sb.WriteString("\n## Top proposals\n\n")
		for i, p := range top {
			title := p.Title
			if title == "" {
				title = p.URL
			}
			fmt.Fprintf(&sb, "%d. [%s](%s) (relevance %.2f)\n", i+1, title, p.URL, p.RelevanceScore)
		}
	}
	return sb.String()
}

// topProposals returns the highest scoring proposals across topics, unique
// by URL. Equal scores keep topic order.
func topProposals(topics []TopicResult) []artifact.Proposal {
	seen := make(map[string]bool)
	var all []artifact.Proposal
	for _, tr := range topics {
		for _, p := range tr.Proposals {
			if seen[p.URL] {
				continue
			}
			seen[p.URL] = true
			all = append(all, p)
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].RelevanceScore > all[j].RelevanceScore
	})
	if len(all) > topProposalCount {
		all = all[:topProposalCount]
	}
	return all
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
