package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/JakeFAU/content-crawler/internal/crawler"
	"github.com/JakeFAU/content-crawler/internal/syncer"
)

const maxTitleWidth = 60

func renderRecords(w io.Writer, recs []crawler.Record) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Source", "ID", "Created", "Author", "Title", "URL"})
	for _, rec := range recs {
		t.AppendRow(table.Row{rec.Source, rec.ID, rec.CreatedAt, rec.Author, truncate(rec.Title, maxTitleWidth), rec.URL})
	}
	t.Render()
	fmt.Fprintf(w, "%d records\n", len(recs))
}

func renderReports(w io.Writer, reports []syncer.Report) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Source", "Mode", "Crawl ID", "Pages", "Stored", "Watermark", "Export"})
	for _, r := range reports {
		watermark := "n/a"
		switch {
		case r.FellBack:
			watermark = "none stored"
		case r.Mode == crawler.ModeIncremental && r.WatermarkFound:
			watermark = "found"
		case r.Mode == crawler.ModeIncremental:
			watermark = "missed"
		}
		uri := ""
		if r.Artifact != nil {
			uri = r.Artifact.URI
		}
		t.AppendRow(table.Row{r.Source, r.Mode, r.CrawlID, r.Pages, r.Stored, watermark, uri})
	}
	t.Render()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
