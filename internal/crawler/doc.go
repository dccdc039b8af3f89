// Package crawler defines the batch crawling domain shared by every other
// package: batches, their items and results, the status state machine, and
// the interfaces the scheduler and worker depend on (extractor, output writer,
// blob store, publisher, clock, id generator, hasher).
package crawler
