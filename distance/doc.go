// Package distance provides float32 vector similarity primitives.
//
// Vectors handled by the semantic index are unit length, so cosine
// similarity reduces to a dot product:
//
//	distance.NormalizeL2InPlace(v)
//	sim := distance.Dot(q, v)
package distance
