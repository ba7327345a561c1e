package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/opensource-finance/liquidity/internal/domain"
	"github.com/opensource-finance/liquidity/internal/rules"
)

var reportingDate = time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)

func ptr(v float64) *float64 { return &v }

func newReferenceProcessor(t *testing.T, cfg domain.CalculationConfig) *Processor {
	t.Helper()
	registry, err := rules.NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	if err := registry.LoadRules(rules.ReferencePack()); err != nil {
		t.Fatalf("LoadRules failed: %v", err)
	}
	return NewProcessor(registry, cfg)
}

func item(id string, side domain.Side, product, counterparty string, balance float64) *domain.LineItem {
	return &domain.LineItem{
		ID:                 id,
		TenantID:           "tenant-001",
		SubmissionID:       "sub-001",
		ReportingDate:      reportingDate,
		Side:               side,
		ProductCategory:    product,
		CounterpartyType:   counterparty,
		MaturityBucket:     "overnight",
		Currency:           "USD",
		OutstandingBalance: balance,
	}
}

// scenarioD holds HQLA 121 against outflows of 100.
func scenarioD() []*domain.LineItem {
	cash := item("li-cash", domain.SideAsset, "cash", "", 121)
	cash.IsHQLA = true
	return []*domain.LineItem{
		cash,
		item("li-interbank", domain.SideLiability, "unsecured_wholesale_funding", "financial", 100),
	}
}

func lcrInput(items []*domain.LineItem) *Input {
	return &Input{
		TenantID:      "tenant-001",
		SubmissionID:  "sub-001",
		ReportingDate: reportingDate,
		Ratio:         domain.RatioLCR,
		LineItems:     items,
		TraceID:       "trace-001",
	}
}

func TestRunLCR(t *testing.T) {
	proc := newReferenceProcessor(t, domain.DefaultCalculationConfig())

	run, err := proc.Run(context.Background(), lcrInput(scenarioD()))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	r := run.Result

	if r.RatioValue == nil || math.Abs(*r.RatioValue-1.21) > 1e-9 {
		t.Fatalf("expected LCR 1.21, got %v", r.RatioValue)
	}
	if !r.Compliant {
		t.Error("expected compliant run")
	}
	if r.Status != domain.StatusPassed || r.ReasonCode != "" {
		t.Errorf("expected passed, got %s/%s", r.Status, r.ReasonCode)
	}
	if r.LCR == nil || r.LCR.TotalHQLA != 121 || r.LCR.NetCashOutflows != 100 {
		t.Errorf("unexpected LCR figures: %+v", r.LCR)
	}
	if r.RunID == "" || r.Metadata.EngineVersion != EngineVersion || r.Metadata.TraceID != "trace-001" {
		t.Errorf("unexpected run identity: id=%q metadata=%+v", r.RunID, r.Metadata)
	}
	if r.Metadata.RulesLoaded != len(rules.ReferencePack()) {
		t.Errorf("expected %d rules loaded, got %d", len(rules.ReferencePack()), r.Metadata.RulesLoaded)
	}

	if len(run.Breakdowns) != 2 {
		t.Fatalf("expected 2 breakdown rows, got %d", len(run.Breakdowns))
	}
	for _, b := range run.Breakdowns {
		if b.RunID != r.RunID || b.TenantID != "tenant-001" || b.SubmissionID != "sub-001" || !b.ReportingDate.Equal(reportingDate) {
			t.Errorf("breakdown row missing run identity: %+v", b)
		}
	}
	if run.Breakdowns[0].Family != domain.FamilyHQLA || run.Breakdowns[0].RuleCode != "hqla_l1_cash" {
		t.Errorf("expected HQLA row first, got %+v", run.Breakdowns[0])
	}
}

func TestRunFamilyTotalsMatchBreakdowns(t *testing.T) {
	proc := newReferenceProcessor(t, domain.DefaultCalculationConfig())

	items := scenarioD()
	retail := item("li-retail", domain.SideLiability, "retail_deposit_stable", "retail", 1000)
	loan := item("li-loan", domain.SideAsset, "wholesale_loan", "financial", 40)
	items = append(items, retail, loan)

	run, err := proc.Run(context.Background(), lcrInput(items))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	sums := make(map[domain.Family]float64)
	for _, b := range run.Breakdowns {
		sums[b.Family] += b.CalculatedAmount
	}

	lcr := run.Result.LCR
	if math.Abs(sums[domain.FamilyOutflow]-lcr.TotalOutflows) > 1e-6 {
		t.Errorf("outflow rows %.4f != total outflows %.4f", sums[domain.FamilyOutflow], lcr.TotalOutflows)
	}
	if math.Abs(sums[domain.FamilyInflow]-lcr.Inflows.Uncapped) > 1e-6 {
		t.Errorf("inflow rows %.4f != uncapped inflows %.4f", sums[domain.FamilyInflow], lcr.Inflows.Uncapped)
	}
	// outflows 100 + 1000 × 0.05 = 150, inflows 40 × 1.0
	if lcr.TotalOutflows != 150 || lcr.Inflows.Result != 40 {
		t.Errorf("expected outflows 150 and inflows 40, got %+v", lcr)
	}
}

func TestRunUnclassifiedItem(t *testing.T) {
	proc := newReferenceProcessor(t, domain.DefaultCalculationConfig())

	items := append(scenarioD(),
		item("li-unknown", domain.SideLiability, "unsecured_wholesale_funding", "unknown_counterparty", 500))

	run, err := proc.Run(context.Background(), lcrInput(items))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	r := run.Result

	// Excluded from every total: the ratio is unchanged
	if r.RatioValue == nil || math.Abs(*r.RatioValue-1.21) > 1e-9 {
		t.Errorf("expected LCR 1.21 with the unknown item excluded, got %v", r.RatioValue)
	}
	if r.UnclassifiedCount != 1 || r.UnclassifiedAmount != 500 {
		t.Errorf("expected one unclassified item of 500, got %d / %.2f", r.UnclassifiedCount, r.UnclassifiedAmount)
	}
	if r.Status != domain.StatusWarning || r.ReasonCode != domain.ReasonUnclassifiedItems {
		t.Errorf("expected warning/unclassified_items, got %s/%s", r.Status, r.ReasonCode)
	}

	var found bool
	for _, issue := range r.Issues {
		if issue.Code == domain.ReasonUnclassifiedItems {
			found = true
			if issue.Family != domain.FamilyOutflow || !reflect.DeepEqual(issue.LineItemIDs, []string{"li-unknown"}) {
				t.Errorf("unexpected unclassified issue: %+v", issue)
			}
		}
	}
	if !found {
		t.Error("expected an unclassified_items issue")
	}
	for _, b := range run.Breakdowns {
		for _, id := range b.LineItemIDs {
			if id == "li-unknown" {
				t.Errorf("unclassified item appears in breakdown %s", b.RuleCode)
			}
		}
	}
}

func TestRunUnclassifiedReject(t *testing.T) {
	cfg := domain.DefaultCalculationConfig()
	cfg.Unclassified = domain.UnclassifiedPolicy{Mode: domain.UnclassifiedReject, MaxShare: 0.1}
	proc := newReferenceProcessor(t, cfg)

	items := append(scenarioD(),
		item("li-unknown", domain.SideLiability, "unsecured_wholesale_funding", "unknown_counterparty", 500))

	run, err := proc.Run(context.Background(), lcrInput(items))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if run.Result.Status != domain.StatusFailed || run.Result.ReasonCode != domain.ReasonUnclassifiedThreshold {
		t.Errorf("expected failed/%s, got %s/%s", domain.ReasonUnclassifiedThreshold, run.Result.Status, run.Result.ReasonCode)
	}
}

func TestRunAmbiguousRules(t *testing.T) {
	registry, err := rules.NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	err = registry.LoadRules([]*domain.CalculationRule{
		{Code: "rule_b", Family: domain.FamilyOutflow, Category: "b", Products: []string{"deposit"}, Factor: ptr(0.1), Enabled: true},
		{Code: "rule_a", Family: domain.FamilyOutflow, Category: "a", Products: []string{"deposit"}, Factor: ptr(0.2), Enabled: true},
	})
	if err != nil {
		t.Fatalf("LoadRules failed: %v", err)
	}
	proc := NewProcessor(registry, domain.DefaultCalculationConfig())

	run, err := proc.Run(context.Background(), lcrInput([]*domain.LineItem{
		item("li-1", domain.SideLiability, "deposit", "retail", 100),
	}))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	r := run.Result

	if r.Status != domain.StatusFailed || r.ReasonCode != domain.ReasonAmbiguousRule {
		t.Fatalf("expected failed/ambiguous_rule, got %s/%s", r.Status, r.ReasonCode)
	}
	if r.RatioValue != nil || r.LCR != nil || len(run.Breakdowns) != 0 {
		t.Error("expected no totals for an ambiguous run")
	}

	var codes []string
	for _, issue := range r.Issues {
		if issue.Code == domain.ReasonAmbiguousRule {
			if codes != nil {
				t.Error("expected a single ambiguous_rule issue")
			}
			codes = issue.RuleCodes
		}
	}
	if !reflect.DeepEqual(codes, []string{"rule_a", "rule_b"}) {
		t.Errorf("expected conflicting codes [rule_a rule_b], got %v", codes)
	}
}

func TestRunSharedCategoryAcrossFamilies(t *testing.T) {
	registry, err := rules.NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	err = registry.LoadRules([]*domain.CalculationRule{
		{Code: "l1_cash", Family: domain.FamilyHQLA, Category: "level1_cash", HQLALevel: domain.HQLALevel1, Products: []string{"cash"}, Factor: ptr(1), Enabled: true},
		{Code: "out_deriv", Family: domain.FamilyOutflow, Category: "derivatives", Products: []string{"derivative"}, Factor: ptr(1), Enabled: true},
		{Code: "in_deriv", Family: domain.FamilyInflow, Category: "derivatives", Products: []string{"derivative"}, Factor: ptr(0.5), Enabled: true},
	})
	if err != nil {
		t.Fatalf("LoadRules failed: %v", err)
	}
	proc := NewProcessor(registry, domain.DefaultCalculationConfig())

	cash := item("li-cash", domain.SideAsset, "cash", "", 121)
	cash.IsHQLA = true
	items := []*domain.LineItem{
		cash,
		item("li-deriv-pay", domain.SideLiability, "derivative", "financial", 100),
		item("li-deriv-rec", domain.SideAsset, "derivative", "financial", 40),
	}

	tests := []struct {
		name       string
		values     map[string]float64
		wantStatus domain.Status
		wantReason string
	}{
		{"QualifiedFigures", map[string]float64{"OUTFLOW/derivatives": 100, "INFLOW/derivatives": 20}, domain.StatusPassed, ""},
		{"BareFigure", map[string]float64{"derivatives": 100}, domain.StatusWarning, domain.ReasonAmbiguousCategory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := lcrInput(items)
			in.Expected = &domain.ExpectedFigures{
				SubmissionID:  "sub-001",
				ReportingDate: reportingDate,
				Ratio:         domain.RatioLCR,
				Values:        tt.values,
			}

			run, err := proc.Run(context.Background(), in)
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			r := run.Result
			if r.Status != tt.wantStatus || r.ReasonCode != tt.wantReason {
				t.Errorf("expected %s/%q, got %s/%q: %+v", tt.wantStatus, tt.wantReason, r.Status, r.ReasonCode, r.Issues)
			}
			for _, m := range r.Metrics {
				if m.Status == domain.StatusFailed {
					t.Errorf("unexpected failed metric %+v", m)
				}
			}
		})
	}
}

func TestRunZeroDenominator(t *testing.T) {
	proc := newReferenceProcessor(t, domain.DefaultCalculationConfig())

	cash := item("li-cash", domain.SideAsset, "cash", "", 50)
	cash.IsHQLA = true

	run, err := proc.Run(context.Background(), lcrInput([]*domain.LineItem{cash}))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	r := run.Result

	if r.RatioValue != nil {
		t.Errorf("expected undefined ratio, got %.4f", *r.RatioValue)
	}
	if r.Status != domain.StatusFailed || r.ReasonCode != domain.ReasonZeroDenominator {
		t.Errorf("expected failed/zero_denominator, got %s/%s", r.Status, r.ReasonCode)
	}
	if r.LCR == nil || r.LCR.TotalHQLA != 50 {
		t.Errorf("expected HQLA figures to be kept, got %+v", r.LCR)
	}
	if len(run.Breakdowns) != 1 {
		t.Errorf("expected the HQLA breakdown row, got %d rows", len(run.Breakdowns))
	}
}

func TestRunNSFR(t *testing.T) {
	proc := newReferenceProcessor(t, domain.DefaultCalculationConfig())

	in := lcrInput([]*domain.LineItem{
		item("li-capital", domain.SideLiability, "regulatory_capital", "", 90),
		item("li-fixed", domain.SideAsset, "fixed_assets", "", 100),
	})
	in.Ratio = domain.RatioNSFR
	in.Expected = &domain.ExpectedFigures{Ratio: domain.RatioNSFR, Values: map[string]float64{
		domain.MetricTotalASF: 90,
		domain.MetricRatio:    0.9,
	}}

	run, err := proc.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	r := run.Result

	if r.NSFR == nil || r.NSFR.TotalASF != 90 || r.NSFR.TotalRSF != 100 {
		t.Fatalf("unexpected NSFR figures: %+v", r.NSFR)
	}
	if r.RatioValue == nil || math.Abs(*r.RatioValue-0.9) > 1e-9 || r.Compliant {
		t.Errorf("expected non-compliant NSFR 0.90, got %v", r.RatioValue)
	}
	if r.Status != domain.StatusPassed {
		t.Errorf("expected figures to match the expected values, got %s (%+v)", r.Status, r.Issues)
	}
}

func TestRunExclusions(t *testing.T) {
	proc := newReferenceProcessor(t, domain.DefaultCalculationConfig())

	repo := item("li-repo", domain.SideLiability, "repo", "financial", 200)
	items := append(scenarioD(), repo)

	run, err := proc.Run(context.Background(), lcrInput(items))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	r := run.Result

	if r.ExcludedCount != 1 || r.ExcludedAmount != 200 {
		t.Errorf("expected repo without collateral excluded, got %d / %.2f", r.ExcludedCount, r.ExcludedAmount)
	}
	if r.Status != domain.StatusWarning || r.ReasonCode != domain.ReasonMissingCollateral {
		t.Errorf("expected warning/missing_collateral, got %s/%s", r.Status, r.ReasonCode)
	}

	// With collateral data the item contributes the netted amount
	repo.CollateralValue = ptr(150)
	repo.CollateralHaircut = ptr(0.2)
	run, err = proc.Run(context.Background(), lcrInput(items))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := run.Result.LCR.TotalOutflows; math.Abs(got-180) > 1e-9 {
		t.Errorf("expected outflows 100 + (200 - 120) = 180, got %.4f", got)
	}
}

func TestRunPartitioningIsDeterministic(t *testing.T) {
	var items []*domain.LineItem
	for i := 0; i < 37; i++ {
		cash := item(fmt.Sprintf("li-cash-%02d", i), domain.SideAsset, "cash", "", float64(10+i))
		cash.IsHQLA = true
		items = append(items, cash,
			item(fmt.Sprintf("li-dep-%02d", i), domain.SideLiability, "retail_deposit_stable", "retail", float64(100*i)),
			item(fmt.Sprintf("li-loan-%02d", i), domain.SideAsset, "retail_loan", "retail", 0.1*float64(i)))
	}

	serialCfg := domain.DefaultCalculationConfig()
	serialCfg.MaxWorkers = 1
	serial, err := newReferenceProcessor(t, serialCfg).Run(context.Background(), lcrInput(items))
	if err != nil {
		t.Fatalf("serial Run failed: %v", err)
	}

	parallelCfg := domain.DefaultCalculationConfig()
	parallelCfg.MaxWorkers = 4
	parallelCfg.PartitionSize = 5
	parallel, err := newReferenceProcessor(t, parallelCfg).Run(context.Background(), lcrInput(items))
	if err != nil {
		t.Fatalf("parallel Run failed: %v", err)
	}

	normalize(serial)
	normalize(parallel)
	if !reflect.DeepEqual(serial, parallel) {
		t.Errorf("partitioned run differs from serial run:\nserial:   %+v\nparallel: %+v", serial.Result, parallel.Result)
	}
}

func TestRunIdempotent(t *testing.T) {
	proc := newReferenceProcessor(t, domain.DefaultCalculationConfig())
	items := append(scenarioD(),
		item("li-unknown", domain.SideLiability, "unsecured_wholesale_funding", "unknown_counterparty", 500))

	first, err := proc.Run(context.Background(), lcrInput(items))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	second, err := proc.Run(context.Background(), lcrInput(items))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if first.Result.RunID == second.Result.RunID {
		t.Error("expected a new run id per run")
	}

	normalize(first)
	normalize(second)
	if !reflect.DeepEqual(first, second) {
		t.Error("expected identical runs modulo id, timestamps and timings")
	}
}

func TestRunCancelled(t *testing.T) {
	proc := newReferenceProcessor(t, domain.DefaultCalculationConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := proc.Run(ctx, lcrInput(scenarioD()))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if run != nil {
		t.Error("expected no run for a cancelled context")
	}
}

func TestRunInvalidInput(t *testing.T) {
	proc := newReferenceProcessor(t, domain.DefaultCalculationConfig())

	tests := []struct {
		name   string
		mutate func(*Input)
	}{
		{"unknown ratio", func(in *Input) { in.Ratio = "XYZ" }},
		{"missing tenant", func(in *Input) { in.TenantID = "" }},
		{"missing submission", func(in *Input) { in.SubmissionID = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := lcrInput(scenarioD())
			tt.mutate(in)
			if _, err := proc.Run(context.Background(), in); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

// normalize clears the fields that legitimately differ between reruns.
func normalize(run *domain.Run) {
	run.Result.RunID = ""
	run.Result.CreatedAt = time.Time{}
	run.Result.Metadata.CategorizeMs = 0
	run.Result.Metadata.CalculateMs = 0
	run.Result.Metadata.ValidateMs = 0
	run.Result.Metadata.TotalMs = 0
	for i := range run.Breakdowns {
		run.Breakdowns[i].RunID = ""
	}
}
