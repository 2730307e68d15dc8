// Package resource bounds what the engine may consume.
//
// The Memory store charges every arena chunk against a Controller's memory
// limit (a weighted semaphore), and index rebuilds pace themselves through
// its token bucket so a full re-index cannot starve foreground writers.
package resource
