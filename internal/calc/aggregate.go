package calc

import (
	"sort"

	"github.com/opensource-finance/liquidity/internal/domain"
	"github.com/shopspring/decimal"
)

// Group is one aggregated breakdown row.
type Group struct {
	Family    domain.Family
	Category  string
	SubType   string
	RuleCode  string
	HQLALevel domain.HQLALevel

	Total      decimal.Decimal
	Adjusted   decimal.Decimal
	Factor     decimal.Decimal
	Calculated decimal.Decimal

	LineItemIDs []string
}

// RecordCount returns the number of contributing line items.
func (g *Group) RecordCount() int {
	return len(g.LineItemIDs)
}

type groupKey struct {
	family   domain.Family
	category string
	subType  string
	ruleCode string
	factor   string
}

// Aggregation holds the grouped contributions of one run.
type Aggregation struct {
	Groups []*Group
}

// Aggregate groups contributions by (family, category, subtype, rule code,
// effective factor). Sums are exact, so input order cannot change totals;
// groups come back in a stable order.
func Aggregate(contributions []Contribution) *Aggregation {
	index := make(map[groupKey]*Group)

	for _, c := range contributions {
		key := groupKey{
			family:   c.Family,
			category: c.Rule.Category,
			subType:  c.Item.SubProduct,
			ruleCode: c.Rule.Code,
			factor:   c.Factor.String(),
		}

		g, ok := index[key]
		if !ok {
			g = &Group{
				Family:    c.Family,
				Category:  c.Rule.Category,
				SubType:   c.Item.SubProduct,
				RuleCode:  c.Rule.Code,
				HQLALevel: c.Rule.HQLALevel,
				Factor:    c.Factor,
			}
			index[key] = g
		}

		g.Total = g.Total.Add(c.Amount)
		g.Adjusted = g.Adjusted.Add(c.Adjusted)
		g.LineItemIDs = append(g.LineItemIDs, c.Item.ID)
	}

	groups := make([]*Group, 0, len(index))
	for _, g := range index {
		g.Calculated = g.Adjusted.Mul(g.Factor)
		sort.Strings(g.LineItemIDs)
		groups = append(groups, g)
	}

	sort.Slice(groups, func(i, j int) bool {
		a, b := groups[i], groups[j]
		if a.Family != b.Family {
			return familyOrder(a.Family) < familyOrder(b.Family)
		}
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		if a.SubType != b.SubType {
			return a.SubType < b.SubType
		}
		if a.RuleCode != b.RuleCode {
			return a.RuleCode < b.RuleCode
		}
		return a.Factor.LessThan(b.Factor)
	})

	return &Aggregation{Groups: groups}
}

// FamilyTotal sums calculated amounts of a family.
func (a *Aggregation) FamilyTotal(family domain.Family) decimal.Decimal {
	total := decimal.Zero
	for _, g := range a.Groups {
		if g.Family == family {
			total = total.Add(g.Calculated)
		}
	}
	return total
}

// LevelTotal sums calculated HQLA amounts of one level.
func (a *Aggregation) LevelTotal(level domain.HQLALevel) decimal.Decimal {
	total := decimal.Zero
	for _, g := range a.Groups {
		if g.Family == domain.FamilyHQLA && g.HQLALevel == level {
			total = total.Add(g.Calculated)
		}
	}
	return total
}

// CategoryTotal is the calculated amount of one category.
type CategoryTotal struct {
	Family     domain.Family
	Category   string
	Calculated decimal.Decimal
}

// CategoryTotals sums calculated amounts per (family, category), in row order.
func (a *Aggregation) CategoryTotals() []CategoryTotal {
	var out []CategoryTotal
	seen := make(map[string]int)
	for _, g := range a.Groups {
		key := string(g.Family) + "/" + g.Category
		if i, ok := seen[key]; ok {
			out[i].Calculated = out[i].Calculated.Add(g.Calculated)
			continue
		}
		seen[key] = len(out)
		out = append(out, CategoryTotal{Family: g.Family, Category: g.Category, Calculated: g.Calculated})
	}
	return out
}

// Breakdowns converts groups into breakdown rows without run identity.
func (a *Aggregation) Breakdowns() []domain.ComponentBreakdown {
	rows := make([]domain.ComponentBreakdown, 0, len(a.Groups))
	for _, g := range a.Groups {
		rows = append(rows, domain.ComponentBreakdown{
			Family:           g.Family,
			Category:         g.Category,
			SubType:          g.SubType,
			RuleCode:         g.RuleCode,
			TotalAmount:      g.Total.InexactFloat64(),
			AdjustedAmount:   g.Adjusted.InexactFloat64(),
			Factor:           g.Factor.InexactFloat64(),
			CalculatedAmount: g.Calculated.InexactFloat64(),
			RecordCount:      g.RecordCount(),
			LineItemIDs:      g.LineItemIDs,
		})
	}
	return rows
}

func familyOrder(f domain.Family) int {
	switch f {
	case domain.FamilyHQLA:
		return 0
	case domain.FamilyOutflow:
		return 1
	case domain.FamilyInflow:
		return 2
	case domain.FamilyASF:
		return 3
	case domain.FamilyRSF:
		return 4
	}
	return 5
}
