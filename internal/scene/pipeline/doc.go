// Package pipeline runs detections frame by frame through the track
// registry, the activity classifier and the anomaly engine, then hands each
// frame's result to the optional persistence, publish and metrics sinks.
//
// The pipeline owns no domain logic. It is the composition root that
// imports the scene packages and the adapters; none of them import it.
package pipeline
