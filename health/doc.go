// Package health reports whether a cachegate process can serve traffic.
//
// Checkers report Healthy, Degraded, or Unhealthy. An Aggregator runs them
// concurrently under one deadline and folds the results into an overall
// status, which Mount exposes on a chi router:
//
//	/healthz  liveness, always 200 while the process runs
//	/readyz   200 unless a check is unhealthy
//	/health   JSON detail for every check
//
// Typical checkers: the entry store, the usage counters, the listener
// store, and the listener scheduler's sweep recency.
package health
