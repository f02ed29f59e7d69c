// Package feed turns raw firehose frames into display messages.
//
// It owns the two stateful pieces of the ingestion pipeline:
//   - Store: a bounded, deduplicated, newest-first message log persisted as one blob.
//   - Processor: the single consumer that filters frames to the blip collection,
//     resolves author DIDs to handles and appends the result to the Store.
//
// Nothing in this package is fatal to the caller: malformed frames are dropped,
// persistence failures are logged and the in-memory log stays authoritative.
package feed
