package domain

import (
	"sort"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Evaluate applies the rule chain to a product's raw cost and duration.
// It is a pure function: identical inputs always produce an identical
// adjustment.
//
// Selection: a rule participates when its Requires group is nil or owned,
// and its Targets group is one of the product's groups. Application order is
// priority descending with ascending id as the stable tie-break. PERCENT
// scales against the current, already-adjusted value of the target field.
// Cost rules subtract their change; duration rules add it. EARLY_BREAK and
// BLOCK_PURCHASE stop the chain; BLOCK_PURCHASE additionally marks the
// product unbuyable.
func Evaluate(
	cost decimal.Decimal,
	durationSeconds int64,
	rules []Rule,
	ownedGroups map[snowflake.ID]struct{},
	targetGroups map[snowflake.ID]struct{},
) Adjustment {
	selected := make([]Rule, 0, len(rules))
	for _, rule := range rules {
		if _, ok := targetGroups[rule.TargetsGroupID]; !ok {
			continue
		}
		if rule.RequiresGroupID != nil {
			if _, ok := ownedGroups[*rule.RequiresGroupID]; !ok {
				continue
			}
		}
		selected = append(selected, rule)
	}

	sort.SliceStable(selected, func(i, j int) bool {
		if selected[i].Priority != selected[j].Priority {
			return selected[i].Priority > selected[j].Priority
		}
		return selected[i].ID < selected[j].ID
	})

	duration := decimal.NewFromInt(durationSeconds)
	applied := make([]string, 0, len(selected))
	blocked := false

	for _, rule := range selected {
		change := rule.Amount
		if rule.Flags.Has(FlagInvert) {
			change = change.Neg()
		}
		onCost := rule.Flags.Has(FlagDiscount)
		if rule.Flags.Has(FlagPercent) {
			current := duration
			if onCost {
				current = cost
			}
			change = current.Mul(change).Div(hundred)
		}
		if onCost {
			cost = cost.Sub(change)
		} else {
			duration = duration.Add(change)
		}
		applied = append(applied, rule.Slug)

		if rule.Flags.Has(FlagBlockPurchase) {
			blocked = true
			break
		}
		if rule.Flags.Has(FlagEarlyBreak) {
			break
		}
	}

	return Adjustment{
		Cost:            cost,
		DurationSeconds: duration.Round(0).IntPart(),
		AppliedSlugs:    applied,
		Blocked:         blocked,
	}
}
