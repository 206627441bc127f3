// Package entropy supplies the random rolls behind stochastic pet events.
// Production uses crypto/rand; tests pin the roll.
package entropy

import (
	"crypto/rand"
	"encoding/binary"
	"math"
)

// Source yields floats in [0, 1).
type Source interface {
	Float() float64
}

// Crypto draws from crypto/rand.
type Crypto struct{}

// Float implements Source.
func (Crypto) Float() float64 {
	return cryptoRandFloat()
}

// Fixed always returns the same value, clamped to [0, 1]. Fixed(0) lands
// every roll; Fixed(1) lands none, since chances are capped at 1.
type Fixed float64

// Float implements Source.
func (f Fixed) Float() float64 {
	return math.Max(0, math.Min(1, float64(f)))
}

// Never is a source whose roll never lands.
var Never Source = Fixed(1)

// cryptoRandFloat generates a random float64 using crypto/rand.
func cryptoRandFloat() float64 {
	var buf [8]byte
	_, err := rand.Read(buf[:])
	if err != nil {
		// This should never happen but return 0.5 as a safe default.
		return 0.5
	}
	// Use only 53 bits for a uniform float64 in [0, 1).
	n := binary.LittleEndian.Uint64(buf[:]) >> 11
	return float64(n) / float64(1<<53)
}

// FloatFromSource returns a roll from src, or crypto/rand when src is nil.
func FloatFromSource(src Source) float64 {
	if src != nil {
		return src.Float()
	}
	return cryptoRandFloat()
}
