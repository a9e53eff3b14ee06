// Package statute defines the core types and interfaces shared by the token
// pool, the crawl scheduler and their adapters.
package statute
