// Package engine serves cache reads and writes on top of a cache.Store.
//
// A read fingerprints the descriptor, loads the entry and classifies it with
// the freshness rules. Fresh and stale entries are hits; expired entries are
// misses whose metadata is kept for reporting. GetOrFetch adds the origin
// call on a miss and optional background refresh of stale hits.
package engine
