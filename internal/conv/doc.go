// Package conv holds checked integer conversions for values read from or
// written to a store: lengths, counts and offsets. Each returns an error
// wrapping ErrOverflow instead of silently truncating.
package conv
