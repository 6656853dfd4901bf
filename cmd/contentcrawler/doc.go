// Package main hosts the content crawler entrypoint.
//
// Architecture overview:
//   - Sources: internal/source/{qiita,youtube,twitter} turn each platform's paged API into a stream of
//     normalized records. A source is enabled when its account identifier is configured.
//   - Orchestrator: internal/orchestrator stamps one crawl timestamp per invocation, drives the pager and cuts
//     incremental crawls at the stored watermark via internal/differ.
//   - Sync: internal/syncer reads the watermark from the record store (memory, SQLite or Postgres), stores new
//     records, optionally exports the batch (CSV, JSON, YAML, XLSX) to the blob store (memory, local or GCS) and
//     publishes a sync.completed notification to Pub/Sub.
//   - HTTP API: internal/api exposes health, metrics, crawl, sync, latest and export endpoints.
//
// Commands:
//   - serve: run the HTTP API until SIGINT/SIGTERM.
//   - crawl, sync, latest, records, export: one-shot operations printing tables or JSON.
//
// Configuration comes from an optional file (--config), .env files and CRAWLER_* environment variables,
// e.g. CRAWLER_SOURCES_QIITA_USER_ID or CRAWLER_STORAGE_DRIVER=sqlite. PORT overrides server.port.
package main
