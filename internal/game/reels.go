package game

import (
	"fmt"
	"math/rand/v2"
)

// Source supplies randomness for reel draws. Implementations must be safe for
// concurrent use; tests inject a fixed sequence, production can swap in a
// weighted or hardware-backed source without touching callers.
type Source interface {
	IntN(n int) int
}

type globalSource struct{}

func (globalSource) IntN(n int) int { return rand.IntN(n) }

// Generator draws spin outcomes, each position independently and uniformly
// from its alphabet.
type Generator struct {
	alphabet []Symbol
	src      Source
}

func NewGenerator(alphabet []Symbol, src Source) (*Generator, error) {
	if len(alphabet) == 0 {
		return nil, fmt.Errorf("alphabet required")
	}
	if src == nil {
		src = globalSource{}
	}
	symbols := make([]Symbol, len(alphabet))
	copy(symbols, alphabet)
	return &Generator{alphabet: symbols, src: src}, nil
}

func (g *Generator) Spin(reelCount int) ([]Symbol, error) {
	if reelCount <= 0 {
		return nil, fmt.Errorf("reel count must be positive")
	}
	out := make([]Symbol, reelCount)
	for i := range out {
		out[i] = g.alphabet[g.src.IntN(len(g.alphabet))]
	}
	return out, nil
}
