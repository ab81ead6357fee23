// Package condition evaluates the string condition DSL used by discovery
// hints, recruitment gates, and moral-choice requirements.
//
// Supported forms:
//
//	skill:<ability>:<dc>   ability check against a DC (rolls dice)
//	has_item:<item_id>     inventory lookup ("item:" is accepted as alias)
//	gold:<amount>          gold at or above amount
//	visited:<location_id>  location previously visited
//	objective:<id>         quest objective completed
//	flag:<name>            scenario flag set
//	level:<n>              character level at or above n
package condition

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformed reports a condition string that does not match the DSL.
var ErrMalformed = errors.New("condition: malformed condition")

// State is the game-state surface a condition is evaluated against. The
// session aggregate implements it.
type State interface {
	// RollSkillCheck performs an ability check and reports success against dc.
	// Implementations roll dice; the same call may succeed on one evaluation
	// and fail on the next.
	RollSkillCheck(ability string, dc int) bool

	HasItem(itemID string) bool
	Gold() int
	HasVisited(locationID string) bool
	ObjectiveComplete(objectiveID string) bool
	FlagSet(flag string) bool
	Level() int
}

// Result carries the outcome of one evaluation.
type Result struct {
	Met  bool
	Kind string
	Arg  string
}

// Eval evaluates one condition string against st.
func Eval(cond string, st State) (Result, error) {
	kind, rest, _ := strings.Cut(strings.TrimSpace(cond), ":")
	kind = strings.ToLower(strings.TrimSpace(kind))
	rest = strings.TrimSpace(rest)

	switch kind {
	case "skill":
		ability, dcStr, ok := strings.Cut(rest, ":")
		if !ok {
			return Result{}, fmt.Errorf("%w: %q", ErrMalformed, cond)
		}
		dc, err := strconv.Atoi(strings.TrimSpace(dcStr))
		if err != nil || dc < 1 {
			return Result{}, fmt.Errorf("%w: bad DC in %q", ErrMalformed, cond)
		}
		ability = strings.ToUpper(strings.TrimSpace(ability))
		return Result{Met: st.RollSkillCheck(ability, dc), Kind: kind, Arg: ability}, nil

	case "has_item", "item":
		if rest == "" {
			return Result{}, fmt.Errorf("%w: %q", ErrMalformed, cond)
		}
		return Result{Met: st.HasItem(rest), Kind: "has_item", Arg: rest}, nil

	case "gold":
		amount, err := strconv.Atoi(rest)
		if err != nil || amount < 0 {
			return Result{}, fmt.Errorf("%w: bad amount in %q", ErrMalformed, cond)
		}
		return Result{Met: st.Gold() >= amount, Kind: kind, Arg: rest}, nil

	case "visited":
		if rest == "" {
			return Result{}, fmt.Errorf("%w: %q", ErrMalformed, cond)
		}
		return Result{Met: st.HasVisited(rest), Kind: kind, Arg: rest}, nil

	case "objective":
		if rest == "" {
			return Result{}, fmt.Errorf("%w: %q", ErrMalformed, cond)
		}
		return Result{Met: st.ObjectiveComplete(rest), Kind: kind, Arg: rest}, nil

	case "flag":
		if rest == "" {
			return Result{}, fmt.Errorf("%w: %q", ErrMalformed, cond)
		}
		return Result{Met: st.FlagSet(rest), Kind: kind, Arg: rest}, nil

	case "level":
		n, err := strconv.Atoi(rest)
		if err != nil || n < 1 {
			return Result{}, fmt.Errorf("%w: bad level in %q", ErrMalformed, cond)
		}
		return Result{Met: st.Level() >= n, Kind: kind, Arg: rest}, nil

	default:
		return Result{}, fmt.Errorf("%w: unknown kind %q", ErrMalformed, kind)
	}
}

// EvalAny evaluates conditions with OR semantics: the first one that is met
// wins. Malformed conditions are skipped; if every condition is malformed the
// last error is returned.
func EvalAny(conds []string, st State) (Result, error) {
	var lastErr error
	for _, c := range conds {
		res, err := Eval(c, st)
		if err != nil {
			lastErr = err
			continue
		}
		if res.Met {
			return res, nil
		}
	}
	if lastErr != nil {
		return Result{}, lastErr
	}
	return Result{Met: false}, nil
}
