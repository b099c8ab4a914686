// Package timing computes staggered start delays so that operations
// launched together finish in a fixed relative order: Extract, then
// Stabilize, then Replenish, each separated by a spacer.
//
// Stabilize is the anchor. With T its duration, every kind starts at its
// desired finish time minus its own duration:
//
//	Extract   = max(0, T - dExtract)
//	Stabilize = max(0, T + spacer - dStabilize)
//	Replenish = max(0, T + 2*spacer - dReplenish)
//
// Raw delays are rounded to a coarse grid with [Bucket] before they feed
// the plan [Key], so sub-bucket jitter in duration estimates does not
// change the key every tick.
package timing
