package webscout

import (
	"context"
	"log/slog"

	"github.com/kalambet/curio/internal/artifact"
	"github.com/kalambet/curio/internal/curator"
)

// importProposals saves each proposal's page into the vault. URLs that are
// already saved, cannot be fetched, or duplicate existing content are
// counted as skipped.
func (a *Agent) importProposals(ctx context.Context, proposals []artifact.Proposal, res *Result) {
	for _, p := range proposals {
		exists, err := a.store.DocumentExists(p.URL)
		if err != nil {
			slog.Warn("webscout: vault lookup failed", "url", p.URL, "error", err)
			res.DocumentsSkipped++
			continue
		}
		if exists {
			res.DocumentsSkipped++
			continue
		}

		page, err := a.fetcher.Fetch(ctx, p.URL)
		if err != nil {
			slog.Info("webscout: skipping import", "url", p.URL, "error", err)
			res.DocumentsSkipped++
			continue
		}
		title := page.Title
		if title == "" {
			title = p.Title
		}

		ins, err := a.store.InsertDocument(title, p.URL, page.Text)
		if err != nil {
			slog.Warn("webscout: failed to import document", "url", p.URL, "error", err)
			res.DocumentsSkipped++
			continue
		}
		if !ins.Created {
			res.DocumentsSkipped++
			continue
		}

		if tags := curator.NormalizeTags(p.Topics); len(tags) > 0 {
			if err := a.store.SetDocumentTags(ins.ID, tags); err != nil {
				slog.Warn("webscout: failed to tag imported document", "document_id", ins.ID, "error", err)
			}
		}
		res.DocumentsImported++
		res.ImportedDocumentIDs = append(res.ImportedDocumentIDs, ins.ID)
	}
}
