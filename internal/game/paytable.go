package game

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Symbol is one reel face from the finite game alphabet.
type Symbol string

const (
	SymbolCherry  Symbol = "cherry"
	SymbolLemon   Symbol = "lemon"
	SymbolOrange  Symbol = "orange"
	SymbolGrape   Symbol = "grape"
	SymbolBell    Symbol = "bell"
	SymbolDiamond Symbol = "diamond"
	SymbolSeven   Symbol = "seven"
)

// Alphabet returns the reel alphabet in its canonical order.
func Alphabet() []Symbol {
	return []Symbol{
		SymbolCherry,
		SymbolLemon,
		SymbolOrange,
		SymbolGrape,
		SymbolBell,
		SymbolDiamond,
		SymbolSeven,
	}
}

// PayLine maps a contiguous symbol pattern to a payout multiplier.
type PayLine struct {
	Pattern    []Symbol
	Multiplier decimal.Decimal
}

// PayTable resolves spin outcomes to payouts. Lines are held in descending
// multiplier order so the highest-value match always wins; overlapping
// patterns never sum.
type PayTable struct {
	lines []PayLine
}

// Payout is the result of evaluating one spin against the table.
// NetChange is negative on a loss (the full stake) and positive exactly when
// the matched multiplier exceeds 1.
type Payout struct {
	Multiplier  decimal.Decimal
	GrossReturn decimal.Decimal
	NetChange   decimal.Decimal
	Pattern     []Symbol
}

func (p Payout) Win() bool {
	return p.Multiplier.GreaterThan(decimal.Zero)
}

func NewPayTable(lines []PayLine) (*PayTable, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("pay table requires at least one line")
	}
	sorted := make([]PayLine, len(lines))
	copy(sorted, lines)
	for i, line := range sorted {
		if len(line.Pattern) == 0 {
			return nil, fmt.Errorf("pay line %d: empty pattern", i)
		}
		if line.Multiplier.LessThanOrEqual(decimal.Zero) {
			return nil, fmt.Errorf("pay line %d: multiplier must be positive", i)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Multiplier.GreaterThan(sorted[j].Multiplier)
	})
	return &PayTable{lines: sorted}, nil
}

// DefaultPayTable is the production table.
func DefaultPayTable() *PayTable {
	table, err := NewPayTable([]PayLine{
		{Pattern: []Symbol{SymbolSeven, SymbolSeven, SymbolSeven}, Multiplier: decimal.NewFromInt(100)},
		{Pattern: []Symbol{SymbolDiamond, SymbolDiamond, SymbolDiamond}, Multiplier: decimal.NewFromInt(50)},
		{Pattern: []Symbol{SymbolBell, SymbolBell, SymbolBell}, Multiplier: decimal.NewFromInt(20)},
		{Pattern: []Symbol{SymbolGrape, SymbolGrape, SymbolGrape}, Multiplier: decimal.NewFromInt(10)},
		{Pattern: []Symbol{SymbolOrange, SymbolOrange, SymbolOrange}, Multiplier: decimal.NewFromInt(5)},
		{Pattern: []Symbol{SymbolLemon, SymbolLemon, SymbolLemon}, Multiplier: decimal.NewFromInt(3)},
		{Pattern: []Symbol{SymbolCherry, SymbolCherry, SymbolCherry}, Multiplier: decimal.NewFromInt(2)},
		{Pattern: []Symbol{SymbolCherry, SymbolCherry}, Multiplier: decimal.NewFromFloat(1.5)},
		{Pattern: []Symbol{SymbolCherry}, Multiplier: decimal.NewFromFloat(1.2)},
	})
	if err != nil {
		panic(err)
	}
	return table
}

// Evaluate resolves a spin to a payout. Deterministic, no side effects.
func (t *PayTable) Evaluate(symbols []Symbol, stake decimal.Decimal) (Payout, error) {
	if len(symbols) == 0 {
		return Payout{}, fmt.Errorf("at least one symbol required")
	}
	if stake.LessThanOrEqual(decimal.Zero) {
		return Payout{}, fmt.Errorf("stake must be positive")
	}

	for _, line := range t.lines {
		if !containsRun(symbols, line.Pattern) {
			continue
		}
		gross := stake.Mul(line.Multiplier)
		return Payout{
			Multiplier:  line.Multiplier,
			GrossReturn: gross,
			NetChange:   gross.Sub(stake),
			Pattern:     line.Pattern,
		}, nil
	}

	return Payout{
		Multiplier:  decimal.Zero,
		GrossReturn: decimal.Zero,
		NetChange:   stake.Neg(),
	}, nil
}

// containsRun reports whether pattern appears as a contiguous run in symbols.
func containsRun(symbols, pattern []Symbol) bool {
	if len(pattern) > len(symbols) {
		return false
	}
	for start := 0; start+len(pattern) <= len(symbols); start++ {
		match := true
		for i, want := range pattern {
			if symbols[start+i] != want {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
