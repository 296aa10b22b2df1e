// Package split computes per-person bill shares. All monetary values are
// int64 minor units; percent arithmetic runs through shopspring/decimal and
// rounds to minor units exactly once, so the sum of shares always equals the
// amount being distributed.
package split

import (
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"
)

// Mode selects how the bill total is divided.
type Mode string

const (
	// ModeEqual divides the total evenly regardless of item assignment.
	ModeEqual Mode = "equal"
	// ModeAssigned divides item costs by assignment, with tax and tip
	// apportioned in proportion to each person's subtotal share.
	ModeAssigned Mode = "assigned"
)

// Item is a single line item on the bill.
type Item struct {
	ID       string
	Name     string
	Price    int64 // minor units, per unit
	Quantity int
}

// Person is one participant in the split.
type Person struct {
	ID   string
	Name string
}

// Assignment maps an item ID to the person IDs sharing that item. A missing
// entry means the item is unassigned.
type Assignment map[string][]string

// Result is a complete split computation. It is always replaced wholesale
// when inputs change, never mutated.
type Result struct {
	Subtotal  int64
	TaxAmount int64
	TipAmount int64
	Total     int64
	PerPerson map[string]int64 // person ID -> owed minor units
}

// InvalidInputError reports inputs rejected before computation.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return "invalid split input: " + e.Reason
}

// Calculate computes the split for the given items, people, and percentages.
// It is a pure function: same inputs always produce the same Result.
func Calculate(items []Item, people []Person, assignments Assignment, taxPercent, tipPercent float64, mode Mode) (*Result, error) {
	if err := validatePercent("tax", taxPercent); err != nil {
		return nil, err
	}
	if err := validatePercent("tip", tipPercent); err != nil {
		return nil, err
	}
	for _, item := range items {
		if item.Price < 0 {
			return nil, &InvalidInputError{Reason: fmt.Sprintf("item %q has negative price", item.Name)}
		}
		if item.Quantity < 1 {
			return nil, &InvalidInputError{Reason: fmt.Sprintf("item %q has quantity < 1", item.Name)}
		}
	}

	subtotal := Subtotal(items)
	tax := percentOf(subtotal, taxPercent)
	tip := percentOf(subtotal, tipPercent)
	total := subtotal + tax + tip

	result := &Result{
		Subtotal:  subtotal,
		TaxAmount: tax,
		TipAmount: tip,
		Total:     total,
		PerPerson: make(map[string]int64, len(people)),
	}

	switch mode {
	case ModeEqual:
		if len(people) == 0 {
			return nil, &InvalidInputError{Reason: "cannot split among zero people"}
		}
		weights := make([]int64, len(people))
		for i := range weights {
			weights[i] = 1
		}
		shares := apportion(total, weights)
		for i, p := range people {
			result.PerPerson[p.ID] = shares[i]
		}

	case ModeAssigned:
		if subtotal == 0 {
			for _, p := range people {
				result.PerPerson[p.ID] = 0
			}
			return result, nil
		}

		weights := personSubtotals(items, people, assignments)
		assigned := int64(0)
		for _, w := range weights {
			assigned += w
		}

		// Tax and tip are distributed in proportion to assigned subtotals.
		// Items nobody claimed keep their cost (and its tax/tip share) out
		// of everyone's total.
		pool := assigned
		if assigned > 0 {
			extra := decimal.NewFromInt(tax + tip).
				Mul(decimal.NewFromInt(assigned)).
				Div(decimal.NewFromInt(subtotal)).
				Round(0).IntPart()
			pool += extra
		}

		shares := apportion(pool, weights)
		for i, p := range people {
			result.PerPerson[p.ID] = shares[i]
		}

	default:
		return nil, &InvalidInputError{Reason: fmt.Sprintf("unknown split mode %q", mode)}
	}

	return result, nil
}

// Subtotal sums price × quantity over all items.
func Subtotal(items []Item) int64 {
	var sum int64
	for _, item := range items {
		sum += item.Price * int64(item.Quantity)
	}
	return sum
}

// personSubtotals computes each person's claimed minor units. Every item's
// cost is itself apportioned exactly among its assignees, so the per-person
// subtotals of a fully assigned bill sum to the bill subtotal.
func personSubtotals(items []Item, people []Person, assignments Assignment) []int64 {
	index := make(map[string]int, len(people))
	for i, p := range people {
		index[p.ID] = i
	}

	weights := make([]int64, len(people))
	for _, item := range items {
		assignees := assignments[item.ID]
		// Drop assignee IDs that are not current people.
		var present []int
		for _, id := range assignees {
			if i, ok := index[id]; ok {
				present = append(present, i)
			}
		}
		if len(present) == 0 {
			continue
		}

		itemTotal := item.Price * int64(item.Quantity)
		equal := make([]int64, len(present))
		for i := range equal {
			equal[i] = 1
		}
		shares := apportion(itemTotal, equal)
		for i, personIdx := range present {
			weights[personIdx] += shares[i]
		}
	}
	return weights
}

// apportion splits total into len(weights) integer shares proportional to
// weights, using the largest-remainder method. Shares always sum to total
// exactly; ties go to the lowest index, which makes the result deterministic
// for a fixed input order. A zero weight sum yields all-zero shares.
func apportion(total int64, weights []int64) []int64 {
	shares := make([]int64, len(weights))
	var weightSum int64
	for _, w := range weights {
		weightSum += w
	}
	if weightSum == 0 || total == 0 {
		return shares
	}

	type remainder struct {
		index int
		value int64
	}
	remainders := make([]remainder, len(weights))
	var distributed int64
	weightSumDec := decimal.NewFromInt(weightSum)
	for i, w := range weights {
		// floor(total * w / weightSum), remainder tracked for the second
		// pass. Weights can be minor-unit subtotals, so the intermediate
		// product overflows int64 on large bills; decimal keeps it exact.
		q, r := decimal.NewFromInt(total).Mul(decimal.NewFromInt(w)).QuoRem(weightSumDec, 0)
		shares[i] = q.IntPart()
		remainders[i] = remainder{index: i, value: r.IntPart()}
		distributed += shares[i]
	}

	// Hand out the leftover minor units to the largest remainders.
	sort.SliceStable(remainders, func(a, b int) bool {
		return remainders[a].value > remainders[b].value
	})
	leftover := total - distributed
	for i := int64(0); i < leftover; i++ {
		shares[remainders[i%int64(len(remainders))].index]++
	}
	return shares
}

// percentOf returns pct% of a minor-unit amount, rounded half away from zero
// to whole minor units.
func percentOf(minor int64, pct float64) int64 {
	if minor == 0 || pct == 0 {
		return 0
	}
	return decimal.NewFromInt(minor).
		Mul(decimal.NewFromFloat(pct)).
		Div(decimal.NewFromInt(100)).
		Round(0).IntPart()
}

func validatePercent(name string, pct float64) error {
	if math.IsNaN(pct) || math.IsInf(pct, 0) {
		return &InvalidInputError{Reason: name + " percent is not a finite number"}
	}
	if pct < 0 {
		return &InvalidInputError{Reason: name + " percent is negative"}
	}
	return nil
}
