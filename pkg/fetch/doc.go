// Package fetch downloads artifacts and repository documents.
//
// A Router picks a Backend by URL scheme (file, http, https, sftp). The
// Coordinator wraps a fetcher with retries and runs batches in parallel
// behind an errgroup barrier: FetchAll returns only once every location
// has been fetched or the first failure has cancelled the rest.
//
// Every fetch is recorded through the telemetry package when a Telemetry
// instance travels in the context.
package fetch
