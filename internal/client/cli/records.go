package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dmitrijs2005/memovault/internal/client/models"
	"github.com/dmitrijs2005/memovault/internal/client/search"
	"github.com/dmitrijs2005/memovault/internal/client/services"
	"github.com/dmitrijs2005/memovault/internal/timex"
)

// Add prompts for the fields of a new record. The optional argument is the
// media type; it defaults to text.
func (a *App) Add(ctx context.Context, args []string) error {
	media := models.MediaText
	if len(args) > 0 {
		media = models.MediaType(args[0])
	}

	title, err := GetSimpleText(a.reader, "Enter title", a.out)
	if err != nil {
		return err
	}
	content, err := GetMultiline(a.reader, "Enter content", a.out)
	if err != nil {
		return err
	}
	var sourceURL string
	if media == models.MediaWeb {
		if sourceURL, err = GetSimpleText(a.reader, "Enter source URL", a.out); err != nil {
			return err
		}
	}
	tags, err := GetTags(a.reader, "Enter tags (comma separated, may be empty)", a.out)
	if err != nil {
		return err
	}

	rec, err := a.records.Create(ctx, services.Fields{
		Title:       title,
		ContentText: content,
		SourceURL:   sourceURL,
		MediaType:   media,
		Tags:        tags,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "created %s\n", rec.ID)
	return nil
}

// Edit prompts for a new title, content and source URL. Empty answers keep
// the current value.
func (a *App) Edit(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("edit <id>")
	}
	rec, err := a.records.Get(ctx, args[0])
	if err != nil {
		return err
	}

	var p services.Patch
	title, err := GetSimpleText(a.reader, fmt.Sprintf("Title [%s]", rec.Title), a.out)
	if err != nil {
		return err
	}
	if title != "" {
		p.Title = &title
	}
	content, err := GetMultiline(a.reader, "New content (empty keeps the current text)", a.out)
	if err != nil {
		return err
	}
	if content != "" {
		p.ContentText = &content
	}
	url, err := GetSimpleText(a.reader, fmt.Sprintf("Source URL [%s]", rec.SourceURL), a.out)
	if err != nil {
		return err
	}
	if url != "" {
		p.SourceURL = &url
	}

	updated, err := a.records.Update(ctx, rec.ID, rec.Version, p)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "updated %s to version %d\n", updated.ID, updated.Version)
	return nil
}

// Tag replaces the tag set of a record.
func (a *App) Tag(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return usage("tag <id> <tag,...>")
	}
	rec, err := a.records.Get(ctx, args[0])
	if err != nil {
		return err
	}
	tags := splitTags(strings.Join(args[1:], ","))
	updated, err := a.records.Update(ctx, rec.ID, rec.Version, services.Patch{Tags: tags})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "tags of %s: %s\n", updated.ID, strings.Join(updated.Tags, ", "))
	return nil
}

func (a *App) Delete(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("delete <id>")
	}
	rec, err := a.records.Get(ctx, args[0])
	if err != nil {
		return err
	}
	if _, err := a.records.SoftDelete(ctx, rec.ID, rec.Version); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "deleted %s\n", rec.ID)
	return nil
}

func (a *App) Show(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("show <id>")
	}
	rec, err := a.records.Get(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "%s\n", rec.Title)
	fmt.Fprintf(a.out, "  id:       %s (version %d)\n", rec.ID, rec.Version)
	fmt.Fprintf(a.out, "  type:     %s\n", rec.MediaType)
	fmt.Fprintf(a.out, "  updated:  %s\n", formatMillis(rec.UpdatedAt))
	if len(rec.Tags) > 0 {
		fmt.Fprintf(a.out, "  tags:     %s\n", strings.Join(rec.Tags, ", "))
	}
	if rec.SourceURL != "" {
		fmt.Fprintf(a.out, "  source:   %s\n", rec.SourceURL)
	}
	if rec.BlobKey != "" {
		state := "remote only"
		if a.blobs.Has(rec.BlobKey) {
			state = a.blobs.Path(rec.BlobKey)
		}
		fmt.Fprintf(a.out, "  file:     %s (%s)\n", rec.BlobKey, state)
	}
	if rec.Summary != "" {
		fmt.Fprintf(a.out, "  summary:  %s\n", rec.Summary)
	}
	if rec.ContentText != "" {
		fmt.Fprintf(a.out, "\n%s\n", rec.ContentText)
	}
	return nil
}

// List prints live records newest first, optionally limited to one tag.
func (a *App) List(ctx context.Context, args []string) error {
	var filter models.RecordFilter
	if len(args) > 0 {
		filter.Tag = args[0]
	}
	recs, err := a.records.List(ctx, filter, models.Page{Limit: models.DefaultPageLimit})
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(a.out, "no records")
		return nil
	}
	for _, r := range recs {
		fmt.Fprintln(a.out, overview(r))
	}
	return nil
}

func (a *App) Search(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usage("search <terms...>")
	}
	results, err := a.index.Query(ctx, search.Query{Terms: args, Limit: models.DefaultPageLimit})
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Fprintln(a.out, "no matches")
		return nil
	}
	for _, r := range results {
		fmt.Fprintf(a.out, "%6.3f  %s\n", r.Score, overview(r.Record))
	}
	return nil
}

// Attach stores a local file as the record's attachment.
func (a *App) Attach(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return usage("attach <id> <path>")
	}
	rec, err := a.records.Get(ctx, args[0])
	if err != nil {
		return err
	}
	data, err := os.ReadFile(args[1])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[1], err)
	}
	updated, err := a.records.AttachBlob(ctx, rec.ID, rec.Version, data)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "attached %s (%d bytes) to %s\n", updated.BlobKey, len(data), updated.ID)
	return nil
}

func (a *App) Reindex(ctx context.Context, args []string) error {
	n, err := a.index.Rebuild(ctx, a.db)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "reindexed %d records\n", n)
	return nil
}

func overview(r models.Record) string {
	s := fmt.Sprintf("%s  %-8s  %s  %s", r.ID, r.MediaType, formatMillis(r.UpdatedAt), r.Title)
	if len(r.Tags) > 0 {
		s += "  [" + strings.Join(r.Tags, ", ") + "]"
	}
	return s
}

func formatMillis(ms int64) string {
	return timex.FromMillis(ms).Local().Format(time.DateTime)
}
