// Package tracks maintains object identities across frames.
//
// Each frame the Registry associates incoming detections with its live
// tracks by IoU cost, spawns tracks for unmatched detections, ages tracks
// that went unmatched and drops them once they exceed MaxAge. Only
// confirmed tracks (Hits ≥ HitsToConfirm) are returned to callers, as value
// snapshots that downstream stages may read freely.
//
// Association is delegated to an Assigner. GreedyAssigner reproduces the
// sort-then-accept policy and is the default; HungarianAssigner is the
// optimal alternative and may be swapped in without other changes.
package tracks
