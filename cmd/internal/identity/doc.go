// Package identity resolves author DIDs to display handles.
//
// Resolution is cache-first. A miss performs one profile lookup against the public AppView;
// on any failure a truncated form of the DID is used instead. Both outcomes are cached and
// persisted so a DID is looked up at most once per cache lifetime.
package identity
