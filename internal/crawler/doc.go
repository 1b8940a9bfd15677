// Package crawler holds the crawl controller for roster sources along with
// the request, response and emission types and the collaborator interfaces
// shared by the fetcher, worker and sinks.
package crawler
