// Package api serves the crawl operations over HTTP. Routes:
//   - GET /healthz and /readyz; readiness fails while no source is configured.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/records for stored records.
//   - POST /v1/sources/{source}/crawl and /sync to run crawls on demand.
//   - POST /v1/sync to sync every configured source at once.
//   - GET /v1/sources/{source}/latest and /is-latest to compare against the source.
//   - POST /v1/exports to write stored records to the blob store.
package api
