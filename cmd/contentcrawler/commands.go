package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/content-crawler/internal/app"
	"github.com/JakeFAU/content-crawler/internal/crawler"
	"github.com/JakeFAU/content-crawler/internal/export"
	"github.com/JakeFAU/content-crawler/internal/syncer"
)

func newCrawlCmd() *cobra.Command {
	var (
		mode   string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "crawl <source>",
		Short: "Crawl a source and print the records without storing them",
		Long: `Runs a full or incremental crawl of one source. Incremental crawls stop at
the newest stored record and fall back to a full crawl when nothing is stored.`,
		Args: cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			src, err := crawler.ParseSource(args[0])
			if err != nil {
				return err
			}
			m, err := crawler.ParseMode(mode)
			if err != nil {
				return err
			}
			res, fellBack, err := a.Service.Crawl(cmd.Context(), src, m)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, res)
			}
			renderRecords(out, res.Records)
			fmt.Fprintf(out, "crawl %s: %d records, %d pages", res.CrawlID, len(res.Records), res.Pages)
			if fellBack {
				fmt.Fprint(out, " (no watermark stored, crawled full history)")
			}
			fmt.Fprintln(out)
			return nil
		}),
	}
	cmd.Flags().StringVar(&mode, "mode", string(crawler.ModeFull), "crawl mode: full or incremental")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func newSyncCmd() *cobra.Command {
	var (
		mode   string
		format string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "sync [source...]",
		Short: "Crawl sources and store the new records",
		Long: `Syncs the named sources concurrently, or every configured source when none
is named. --export writes each synced batch as an artifact.`,
		RunE: withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			sources := make([]crawler.Source, 0, len(args))
			for _, name := range args {
				src, err := crawler.ParseSource(name)
				if err != nil {
					return err
				}
				sources = append(sources, src)
			}
			m, err := crawler.ParseMode(mode)
			if err != nil {
				return err
			}
			opts := syncer.Options{Mode: m}
			if format == "" {
				format = a.Config.Export.OnSync
			}
			if format != "" {
				if opts.Export, err = export.ParseFormat(format); err != nil {
					return err
				}
			}
			reports, err := a.Service.SyncAll(cmd.Context(), sources, opts)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), reports)
			}
			renderReports(cmd.OutOrStdout(), reports)
			return nil
		}),
	}
	cmd.Flags().StringVar(&mode, "mode", string(crawler.ModeIncremental), "crawl mode: full or incremental")
	cmd.Flags().StringVar(&format, "export", "", "export each batch as csv, json, yaml or xlsx")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func newLatestCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "latest <source>",
		Short: "Show the newest record a source serves and whether it is stored",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			src, err := crawler.ParseSource(args[0])
			if err != nil {
				return err
			}
			rec, err := a.Service.Latest(cmd.Context(), src)
			if err != nil {
				return err
			}
			stored, _, err := a.Service.Watermark(cmd.Context(), src)
			if err != nil {
				return err
			}
			upToDate := stored.SameContent(rec)
			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, map[string]any{"record": rec, "is_latest": upToDate})
			}
			renderRecords(out, []crawler.Record{rec})
			fmt.Fprintf(out, "stored copy is latest: %t\n", upToDate)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func newRecordsCmd() *cobra.Command {
	var (
		source string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "records",
		Short: "List stored records",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app.App, _ []string) error {
			var src crawler.Source
			if source != "" {
				var err error
				if src, err = crawler.ParseSource(source); err != nil {
					return err
				}
			}
			recs, err := a.Service.Records(cmd.Context(), src)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), recs)
			}
			renderRecords(cmd.OutOrStdout(), recs)
			return nil
		}),
	}
	cmd.Flags().StringVar(&source, "source", "", "only list records of this source")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func newExportCmd() *cobra.Command {
	var (
		source string
		format string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write stored records to the blob store",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app.App, _ []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			var src crawler.Source
			if source != "" {
				if src, err = crawler.ParseSource(source); err != nil {
					return err
				}
			}
			artifact, err := a.Service.Export(cmd.Context(), f, src)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d records to %s\n", artifact.Records, artifact.URI)
			return nil
		}),
	}
	cmd.Flags().StringVar(&source, "source", "", "only export records of this source")
	cmd.Flags().StringVar(&format, "format", string(export.FormatCSV), "csv, json, yaml or xlsx")
	return cmd
}
