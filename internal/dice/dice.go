// Package dice implements the seeded dice roller used by every rule
// subsystem in the engine.
//
// A [Roller] owns one pseudo-random source. Each game session carries its own
// Roller so that a fixed seed reproduces an entire session's mechanical
// outcomes in tests. Randomness uses [math/rand/v2] with a PCG source; the
// production seed comes from crypto/rand via [NewSeed].
package dice

import (
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
)

// ErrInvalidNotation indicates a dice expression could not be parsed.
var ErrInvalidNotation = errors.New("invalid dice notation")

// Mode selects how a d20 roll is performed.
type Mode int

const (
	// Normal rolls a single d20.
	Normal Mode = iota

	// Advantage rolls two d20s and keeps the higher.
	Advantage

	// Disadvantage rolls two d20s and keeps the lower.
	Disadvantage
)

// String returns the human-readable name of the mode.
func (m Mode) String() string {
	switch m {
	case Normal:
		return "normal"
	case Advantage:
		return "advantage"
	case Disadvantage:
		return "disadvantage"
	default:
		return "unknown"
	}
}

// Result captures the outcome of evaluating a dice expression.
type Result struct {
	// Notation is the original expression, echoed back to the caller.
	Notation string `json:"notation"`

	// Rolls holds the individual die results before the modifier is applied.
	Rolls []int `json:"rolls"`

	// Modifier is the flat bonus or penalty from the expression.
	Modifier int `json:"modifier"`

	// Total is the sum of all rolls plus the modifier.
	Total int `json:"total"`
}

// D20Result captures the outcome of a d20 check or attack roll.
type D20Result struct {
	// Raw holds every d20 rolled: one die for a normal roll, two for
	// advantage or disadvantage.
	Raw []int `json:"raw"`

	// Chosen is the die that counts after advantage/disadvantage selection.
	Chosen int `json:"chosen"`

	// Modifier is the flat bonus added to the chosen die.
	Modifier int `json:"modifier"`

	// Total is Chosen + Modifier.
	Total int `json:"total"`

	// Nat20 is true when the chosen die shows a natural 20.
	Nat20 bool `json:"nat20"`

	// Nat1 is true when the chosen die shows a natural 1.
	Nat1 bool `json:"nat1"`
}

// Roller is a seedable dice source. It is NOT safe for concurrent use; each
// session serialises access through its own lock.
type Roller struct {
	rng *rand.Rand
}

// NewRoller creates a Roller with the given seed. The same seed always
// produces the same roll sequence.
func NewRoller(seed int64) *Roller {
	return &Roller{rng: rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))}
}

// NewRandomRoller creates a Roller seeded from crypto/rand.
func NewRandomRoller() (*Roller, error) {
	seed, err := NewSeed()
	if err != nil {
		return nil, err
	}
	return NewRoller(seed), nil
}

// NewSeed generates a random seed using crypto/rand.
func NewSeed() (int64, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("dice: read random seed: %w", err)
	}
	return int64(binary.LittleEndian.Uint64(b[:])), nil
}

// RollDie rolls a single die with the given number of sides (≥ 1).
func (r *Roller) RollDie(sides int) int {
	if sides < 1 {
		return 0
	}
	return r.rng.IntN(sides) + 1
}

// Float64 returns a uniform value in [0, 1). Used for probability gates such
// as encounter chances and traveling-merchant spawns.
func (r *Roller) Float64() float64 {
	return r.rng.Float64()
}

// IntN returns a uniform value in [0, n). Panics when n ≤ 0, matching
// [math/rand/v2.Rand.IntN].
func (r *Roller) IntN(n int) int {
	return r.rng.IntN(n)
}

// Roll evaluates a dice expression of the form NdS, NdS+M, or NdS-M.
// N defaults to 1 when omitted. Returns [ErrInvalidNotation] (wrapped with
// detail) when the expression cannot be parsed.
func (r *Roller) Roll(notation string) (Result, error) {
	count, sides, modifier, err := ParseNotation(notation)
	if err != nil {
		return Result{}, err
	}

	rolls := make([]int, count)
	total := modifier
	for i := range count {
		v := r.RollDie(sides)
		rolls[i] = v
		total += v
	}

	return Result{
		Notation: notation,
		Rolls:    rolls,
		Modifier: modifier,
		Total:    total,
	}, nil
}

// RollD20 performs a d20 check with the given modifier and mode.
func (r *Roller) RollD20(modifier int, mode Mode) D20Result {
	first := r.RollDie(20)
	raw := []int{first}
	chosen := first

	if mode == Advantage || mode == Disadvantage {
		second := r.RollDie(20)
		raw = append(raw, second)
		if (mode == Advantage && second > chosen) || (mode == Disadvantage && second < chosen) {
			chosen = second
		}
	}

	return D20Result{
		Raw:      raw,
		Chosen:   chosen,
		Modifier: modifier,
		Total:    chosen + modifier,
		Nat20:    chosen == 20,
		Nat1:     chosen == 1,
	}
}

// ParseNotation parses a dice expression of the form NdS, NdS+M, or NdS-M.
// N is the number of dice (defaults to 1 when omitted), S is the number of
// sides (must be ≥ 1), and M is an optional integer modifier.
//
// Returns (count, sides, modifier, nil) on success, or a descriptive error
// wrapping [ErrInvalidNotation].
func ParseNotation(expr string) (count, sides, modifier int, err error) {
	expr = strings.ToLower(strings.TrimSpace(expr))

	dIdx := strings.Index(expr, "d")
	if dIdx == -1 {
		return 0, 0, 0, fmt.Errorf("%w: %q: missing 'd' separator", ErrInvalidNotation, expr)
	}

	// Parse count (the part before 'd').
	countStr := expr[:dIdx]
	if countStr == "" {
		count = 1
	} else {
		count, err = strconv.Atoi(countStr)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("%w: %q: bad dice count %q", ErrInvalidNotation, expr, countStr)
		}
	}
	if count < 1 || count > 100 {
		return 0, 0, 0, fmt.Errorf("%w: %q: dice count must be in [1,100], got %d", ErrInvalidNotation, expr, count)
	}

	// Parse sides and optional modifier (the part after 'd').
	rest := expr[dIdx+1:]

	plusIdx := strings.Index(rest, "+")
	minusIdx := strings.Index(rest, "-")

	switch {
	case plusIdx != -1:
		sides, err = strconv.Atoi(rest[:plusIdx])
		if err != nil {
			return 0, 0, 0, fmt.Errorf("%w: %q: bad sides %q", ErrInvalidNotation, expr, rest[:plusIdx])
		}
		modifier, err = strconv.Atoi(rest[plusIdx+1:])
		if err != nil {
			return 0, 0, 0, fmt.Errorf("%w: %q: bad modifier %q", ErrInvalidNotation, expr, rest[plusIdx+1:])
		}

	case minusIdx != -1:
		sides, err = strconv.Atoi(rest[:minusIdx])
		if err != nil {
			return 0, 0, 0, fmt.Errorf("%w: %q: bad sides %q", ErrInvalidNotation, expr, rest[:minusIdx])
		}
		mod, err2 := strconv.Atoi(rest[minusIdx+1:])
		if err2 != nil {
			return 0, 0, 0, fmt.Errorf("%w: %q: bad modifier %q", ErrInvalidNotation, expr, rest[minusIdx+1:])
		}
		modifier = -mod

	default:
		sides, err = strconv.Atoi(rest)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("%w: %q: bad sides %q", ErrInvalidNotation, expr, rest)
		}
	}

	if sides < 1 {
		return 0, 0, 0, fmt.Errorf("%w: %q: sides must be ≥ 1, got %d", ErrInvalidNotation, expr, sides)
	}

	return count, sides, modifier, nil
}
