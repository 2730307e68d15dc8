// Package vector implements an approximate semantic index over record values.
//
// Values are embedded into fixed-width unit vectors: float and byte slices of
// the configured width are used directly, anything else is rendered as text
// and hashed as a bag of words plus character n-grams. Each vector is bucketed
// by random-hyperplane LSH into several tables. MatchAll probes the exact
// signature bucket of every table, then buckets at Hamming distance 1 and 2,
// and re-ranks the candidates by cosine similarity.
//
// Every record also stays indexed by its exact value through an
// index.Interactor, so FindAll works on a vector index as well.
//
// Hyperplanes are derived from Config.Seed alone. An index reopened with the
// same Config produces the same signatures.
package vector
