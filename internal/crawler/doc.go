// Package crawler holds the domain vocabulary of the content crawler: the
// closed set of sources, the normalized Record, crawl results, the fault
// taxonomy shared by every adapter, and the collaborator interfaces
// (fetcher, record store, blob store, publisher, clock) the engine is wired
// against.
package crawler
