// Package compress normalizes arbitrary photographs into size- and
// dimension-bounded JPEGs and renders non-destructive edits onto decoded
// pixels.
//
// All work is CPU bound and in memory. Nothing in this package holds state
// across calls; callers decide how many images compress at once.
package compress
