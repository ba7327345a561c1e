package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/opensource-finance/liquidity/internal/calc"
	"github.com/opensource-finance/liquidity/internal/domain"
	"github.com/opensource-finance/liquidity/internal/rules"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

type unclassifiedItem struct {
	item   *domain.LineItem
	family domain.Family
	amount decimal.Decimal
}

// categorization is the merged output of all partitions.
type categorization struct {
	categorized  []calc.Categorized
	unclassified []unclassifiedItem
	ambiguous    *rules.AmbiguousRuleError

	// total is the amount basis of every item taking part in the ratio.
	total decimal.Decimal
}

type partitionResult struct {
	categorization
	err error
}

// categorize routes items to rules over fixed-size partitions on a bounded
// worker pool. Results are merged in partition order so the output does not
// depend on scheduling.
func (p *Processor) categorize(ctx context.Context, rs *rules.RuleSet, ratio domain.RatioType, items []*domain.LineItem) (*categorization, error) {
	ctx, span := tracer.Start(ctx, "pipeline.categorize")
	defer span.End()

	size := p.cfg.PartitionSize
	partitions := (len(items) + size - 1) / size
	results := make([]partitionResult, partitions)

	sem := make(chan struct{}, p.cfg.MaxWorkers)
	var wg sync.WaitGroup

	for i := 0; i < partitions; i++ {
		lo := i * size
		hi := min(lo+size, len(items))

		wg.Add(1)
		go func(idx int, part []*domain.LineItem) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[idx].err = ctx.Err()
				return
			}
			defer func() { <-sem }()

			results[idx] = categorizePartition(ctx, rs, ratio, part)
		}(i, items[lo:hi])
	}

	wg.Wait()

	merged := &categorization{}
	for _, r := range results {
		if r.err != nil {
			return nil, r.err
		}
		if merged.ambiguous == nil && r.ambiguous != nil {
			merged.ambiguous = r.ambiguous
		}
		merged.categorized = append(merged.categorized, r.categorized...)
		merged.unclassified = append(merged.unclassified, r.unclassified...)
		merged.total = merged.total.Add(r.total)
	}

	span.SetAttributes(
		attribute.Int("partitions", partitions),
		attribute.Int("categorized", len(merged.categorized)),
		attribute.Int("unclassified", len(merged.unclassified)),
		attribute.Bool("ambiguous", merged.ambiguous != nil),
	)
	return merged, nil
}

// categorizePartition stops at the first ambiguous item; the run fails anyway.
func categorizePartition(ctx context.Context, rs *rules.RuleSet, ratio domain.RatioType, items []*domain.LineItem) partitionResult {
	var res partitionResult

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			res.err = err
			return res
		}

		family, ok := item.FamilyFor(ratio)
		if !ok {
			continue
		}
		amount := calc.AmountBasis(item, family)
		res.total = res.total.Add(amount.Abs())

		rule, err := rs.Categorize(item, family)
		if err != nil {
			var amb *rules.AmbiguousRuleError
			if errors.As(err, &amb) {
				res.ambiguous = amb
				return res
			}
			res.err = fmt.Errorf("categorize %s: %w", item.ID, err)
			return res
		}
		if rule == nil {
			res.unclassified = append(res.unclassified, unclassifiedItem{item: item, family: family, amount: amount})
			continue
		}

		res.categorized = append(res.categorized, calc.Categorized{
			Item:   item,
			Family: family,
			Rule:   rule.Config,
		})
	}
	return res
}

func (c *categorization) unclassifiedAmount() decimal.Decimal {
	total := decimal.Zero
	for _, u := range c.unclassified {
		total = total.Add(u.amount.Abs())
	}
	return total
}

// unclassifiedIssues returns one warning per family with unclassified items.
func (c *categorization) unclassifiedIssues() []domain.Issue {
	if len(c.unclassified) == 0 {
		return nil
	}

	type bucket struct {
		ids    []string
		amount decimal.Decimal
	}
	byFamily := make(map[domain.Family]*bucket)
	for _, u := range c.unclassified {
		b, ok := byFamily[u.family]
		if !ok {
			b = &bucket{}
			byFamily[u.family] = b
		}
		b.ids = append(b.ids, u.item.ID)
		b.amount = b.amount.Add(u.amount)
	}

	var issues []domain.Issue
	for _, family := range allFamilies {
		b, ok := byFamily[family]
		if !ok {
			continue
		}
		issues = append(issues, domain.Issue{
			Code:        domain.ReasonUnclassifiedItems,
			Severity:    domain.SeverityWarning,
			Message:     fmt.Sprintf("%d %s line item(s) matched no rule", len(b.ids), family),
			Family:      family,
			LineItemIDs: b.ids,
			Amount:      b.amount.InexactFloat64(),
		})
	}
	return issues
}

var allFamilies = []domain.Family{
	domain.FamilyHQLA, domain.FamilyOutflow, domain.FamilyInflow, domain.FamilyASF, domain.FamilyRSF,
}
