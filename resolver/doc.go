// Package resolver turns a model identifier into a loaded model handle.
//
// Resolution runs an ordered chain of named strategies and stops at the first
// that yields a complete cache entry:
//
//	cache    marker-verified local entry, never touches the network
//	offline  present only in offline mode; fails with core.ErrModelNotCached and ends the chain
//	mirror   present when a mirror URL is configured
//	direct   the default host, through the configured proxy
//
// When every strategy fails the caller gets a *core.ResolutionError listing the
// failures in order. An entry that fails to load is evicted and the chain runs
// once more. Concurrent calls for one identifier share a single resolution, and
// loaded handles are memoized until Forget or Close.
package resolver
