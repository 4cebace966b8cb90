package domain

import (
	"reflect"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

func set(ids ...snowflake.ID) map[snowflake.ID]struct{} {
	out := make(map[snowflake.ID]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

func TestEvaluatePercentDiscount(t *testing.T) {
	rules := []Rule{
		{ID: 1, Slug: "bundle-discount", TargetsGroupID: 7, Flags: FlagDiscount | FlagPercent, Amount: decimal.NewFromInt(20)},
	}

	adj := Evaluate(decimal.NewFromInt(100), 600, rules, set(), set(7))

	if !adj.Cost.Equal(decimal.NewFromInt(80)) {
		t.Fatalf("expected cost 80, got %s", adj.Cost)
	}
	if adj.DurationSeconds != 600 {
		t.Fatalf("expected duration untouched, got %d", adj.DurationSeconds)
	}
	if !reflect.DeepEqual(adj.AppliedSlugs, []string{"bundle-discount"}) {
		t.Fatalf("unexpected applied slugs: %v", adj.AppliedSlugs)
	}
}

func TestEvaluateEarlyBreakStopsChain(t *testing.T) {
	rules := []Rule{
		{ID: 2, Slug: "b", Priority: 1, TargetsGroupID: 7, Flags: FlagDiscount, Amount: decimal.NewFromInt(5)},
		{ID: 1, Slug: "a", Priority: 2, TargetsGroupID: 7, Flags: FlagDiscount | FlagEarlyBreak, Amount: decimal.NewFromInt(10)},
	}

	adj := Evaluate(decimal.NewFromInt(100), 0, rules, set(), set(7))

	if !adj.Cost.Equal(decimal.NewFromInt(90)) {
		t.Fatalf("expected only rule a applied, cost 90, got %s", adj.Cost)
	}
	if !reflect.DeepEqual(adj.AppliedSlugs, []string{"a"}) {
		t.Fatalf("expected only a applied, got %v", adj.AppliedSlugs)
	}
}

func TestEvaluateInvertExtendsDuration(t *testing.T) {
	rules := []Rule{
		{ID: 1, Slug: "shorten", TargetsGroupID: 3, Flags: FlagInvert, Amount: decimal.NewFromInt(30)},
	}

	adj := Evaluate(decimal.NewFromInt(10), 120, rules, set(), set(3))

	if adj.DurationSeconds != 90 {
		t.Fatalf("expected duration 90, got %d", adj.DurationSeconds)
	}
}

func TestEvaluatePercentOnAdjustedValue(t *testing.T) {
	// Second rule's percentage scales against the already-discounted cost.
	rules := []Rule{
		{ID: 1, Slug: "first", Priority: 2, TargetsGroupID: 7, Flags: FlagDiscount, Amount: decimal.NewFromInt(50)},
		{ID: 2, Slug: "second", Priority: 1, TargetsGroupID: 7, Flags: FlagDiscount | FlagPercent, Amount: decimal.NewFromInt(10)},
	}

	adj := Evaluate(decimal.NewFromInt(100), 0, rules, set(), set(7))

	// 100 - 50 = 50, then 10% of 50 = 5 more off.
	if !adj.Cost.Equal(decimal.NewFromInt(45)) {
		t.Fatalf("expected cost 45, got %s", adj.Cost)
	}
}

func TestEvaluateRequiresGating(t *testing.T) {
	requires := snowflake.ID(9)
	rules := []Rule{
		{ID: 1, Slug: "gated", TargetsGroupID: 7, RequiresGroupID: &requires, Flags: FlagDiscount, Amount: decimal.NewFromInt(10)},
	}

	without := Evaluate(decimal.NewFromInt(100), 0, rules, set(), set(7))
	if len(without.AppliedSlugs) != 0 {
		t.Fatalf("expected no rules without required group, got %v", without.AppliedSlugs)
	}

	with := Evaluate(decimal.NewFromInt(100), 0, rules, set(9), set(7))
	if !with.Cost.Equal(decimal.NewFromInt(90)) {
		t.Fatalf("expected cost 90 with required group, got %s", with.Cost)
	}
}

func TestEvaluateBlockPurchase(t *testing.T) {
	rules := []Rule{
		{ID: 1, Slug: "blocked", Priority: 5, TargetsGroupID: 7, Flags: FlagBlockPurchase},
		{ID: 2, Slug: "after", Priority: 1, TargetsGroupID: 7, Flags: FlagDiscount, Amount: decimal.NewFromInt(10)},
	}

	adj := Evaluate(decimal.NewFromInt(100), 0, rules, set(), set(7))

	if !adj.Blocked {
		t.Fatal("expected adjustment to be blocked")
	}
	if !reflect.DeepEqual(adj.AppliedSlugs, []string{"blocked"}) {
		t.Fatalf("expected chain to stop at blocking rule, got %v", adj.AppliedSlugs)
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	rules := []Rule{
		{ID: 3, Slug: "c", Priority: 1, TargetsGroupID: 7, Flags: FlagDiscount, Amount: decimal.NewFromInt(3)},
		{ID: 1, Slug: "a", Priority: 1, TargetsGroupID: 7, Flags: FlagDiscount, Amount: decimal.NewFromInt(1)},
		{ID: 2, Slug: "b", Priority: 9, TargetsGroupID: 7, Amount: decimal.NewFromInt(60)},
	}

	first := Evaluate(decimal.NewFromInt(100), 60, rules, set(), set(7))
	second := Evaluate(decimal.NewFromInt(100), 60, rules, set(), set(7))

	if !first.Cost.Equal(second.Cost) || first.DurationSeconds != second.DurationSeconds {
		t.Fatalf("expected identical adjustments, got %v vs %v", first, second)
	}
	// Priority desc, then id asc on ties.
	if !reflect.DeepEqual(first.AppliedSlugs, []string{"b", "a", "c"}) {
		t.Fatalf("unexpected application order: %v", first.AppliedSlugs)
	}
}

func TestValidateDefinition(t *testing.T) {
	if err := ValidateDefinition(FlagDiscount|FlagLonger, decimal.NewFromInt(1)); err == nil {
		t.Fatal("expected conflicting flags to fail")
	}
	if err := ValidateDefinition(FlagDiscount, decimal.Zero); err == nil {
		t.Fatal("expected zero amount DISCOUNT to fail")
	}
	if err := ValidateDefinition(FlagInvert, decimal.NewFromInt(-1)); err == nil {
		t.Fatal("expected negative amount to fail")
	}
	if err := ValidateDefinition(FlagPercent|FlagDiscount, decimal.NewFromInt(20)); err != nil {
		t.Fatalf("expected valid definition, got %v", err)
	}
}
