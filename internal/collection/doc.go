// Package collection holds the canonical transect collection: an ordered,
// keyed set of entities whose attributes accumulate as stages run. The
// collection is versioned and immutable; merging per-site partial updates
// always produces a new version and never touches the base.
package collection
