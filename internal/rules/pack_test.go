package rules

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/opensource-finance/liquidity/internal/domain"
)

func TestReferencePackLoads(t *testing.T) {
	pack := ReferencePack()
	if len(pack) == 0 {
		t.Fatal("expected reference rules")
	}

	registry := newTestRegistry(t)
	if err := registry.LoadRules(pack); err != nil {
		t.Fatalf("reference pack failed to compile: %v", err)
	}

	families := make(map[domain.Family]int)
	for _, r := range pack {
		families[r.Family]++
		if r.Version != "basel3-2014" {
			t.Errorf("rule %s: expected pack version, got %q", r.Code, r.Version)
		}
		if !r.Enabled {
			t.Errorf("rule %s: expected enabled", r.Code)
		}
	}
	for _, f := range []domain.Family{domain.FamilyHQLA, domain.FamilyOutflow, domain.FamilyInflow, domain.FamilyASF, domain.FamilyRSF} {
		if families[f] == 0 {
			t.Errorf("reference pack has no %s rules", f)
		}
	}
}

func TestReferencePackCategorizes(t *testing.T) {
	registry := newTestRegistry(t)
	registry.LoadRules(ReferencePack())
	rs := registry.Snapshot()

	tests := []struct {
		name     string
		item     domain.LineItem
		family   domain.Family
		wantCode string
	}{
		{
			name:     "vault cash",
			item:     domain.LineItem{ProductCategory: "cash", IsHQLA: true},
			family:   domain.FamilyHQLA,
			wantCode: "hqla_l1_cash",
		},
		{
			name:     "sovereign bond",
			item:     domain.LineItem{ProductCategory: "sovereign_debt", CounterpartyType: "sovereign", IsHQLA: true},
			family:   domain.FamilyHQLA,
			wantCode: "hqla_l1_sovereign",
		},
		{
			name:     "insured retail deposit",
			item:     domain.LineItem{ProductCategory: "retail_deposit_stable", CounterpartyType: "retail", OutstandingBalance: 1000},
			family:   domain.FamilyOutflow,
			wantCode: "outflow_retail_stable",
		},
		{
			name:     "uninsured retail deposit",
			item:     domain.LineItem{ProductCategory: "retail_deposit_stable", CounterpartyType: "retail", OutstandingBalance: 500000},
			family:   domain.FamilyOutflow,
			wantCode: "outflow_retail_uninsured",
		},
		{
			name:     "repo",
			item:     domain.LineItem{ProductCategory: "repo", CounterpartyType: "financial"},
			family:   domain.FamilyOutflow,
			wantCode: "outflow_secured_funding",
		},
		{
			name:     "loan maturing in a week",
			item:     domain.LineItem{ProductCategory: "wholesale_loan", CounterpartyType: "financial", MaturityBucket: "2-7d"},
			family:   domain.FamilyInflow,
			wantCode: "inflow_wholesale_financial",
		},
		{
			name:     "loan maturing after the horizon",
			item:     domain.LineItem{ProductCategory: "wholesale_loan", CounterpartyType: "financial", MaturityBucket: "91-180d"},
			family:   domain.FamilyInflow,
			wantCode: "inflow_outside_horizon",
		},
		{
			name:     "long term debt",
			item:     domain.LineItem{ProductCategory: "term_debt", MaturityBucket: ">1y"},
			family:   domain.FamilyASF,
			wantCode: "asf_long_term_funding",
		},
		{
			name:     "long mortgage",
			item:     domain.LineItem{ProductCategory: "residential_mortgage", MaturityBucket: ">1y"},
			family:   domain.FamilyRSF,
			wantCode: "rsf_mortgages_long",
		},
		{
			name:     "short interbank placement",
			item:     domain.LineItem{ProductCategory: "wholesale_loan", CounterpartyType: "financial", MaturityBucket: "31-90d"},
			family:   domain.FamilyRSF,
			wantCode: "rsf_financial_loans_short",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := tt.item
			item.ID = "li-1"
			rule, err := rs.Categorize(&item, tt.family)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rule == nil || rule.Config.Code != tt.wantCode {
				t.Errorf("expected %s, got %+v", tt.wantCode, rule)
			}
		})
	}
}

func TestParsePack(t *testing.T) {
	t.Run("disabled rules and version override", func(t *testing.T) {
		rules, err := ParsePack([]byte(`
version: local-2025
rules:
  - code: a
    family: ASF
    category: capital
    factor: 1.0
  - code: b
    family: ASF
    category: other
    version: v2
    disabled: true
`))
		if err != nil {
			t.Fatalf("ParsePack failed: %v", err)
		}
		if len(rules) != 2 {
			t.Fatalf("expected 2 rules, got %d", len(rules))
		}
		if !rules[0].Enabled || rules[0].Version != "local-2025" {
			t.Errorf("unexpected first rule: %+v", rules[0])
		}
		if rules[1].Enabled || rules[1].Version != "v2" {
			t.Errorf("unexpected second rule: %+v", rules[1])
		}
		if rules[0].Factor == nil || *rules[0].Factor != 1.0 {
			t.Errorf("expected factor 1.0, got %v", rules[0].Factor)
		}
	})

	errorCases := map[string]string{
		"empty pack":     "version: x\nrules: []\n",
		"duplicate code": "rules:\n  - {code: a, family: ASF, category: x}\n  - {code: a, family: ASF, category: y}\n",
		"invalid rule":   "rules:\n  - {code: a, family: NOPE, category: x}\n",
	}
	for name, doc := range errorCases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParsePack([]byte(doc)); !errors.Is(err, ErrInvalidRule) {
				t.Errorf("expected ErrInvalidRule, got %v", err)
			}
		})
	}

	t.Run("malformed yaml", func(t *testing.T) {
		if _, err := ParsePack([]byte("rules: [")); err == nil {
			t.Error("expected parse error")
		}
	})
}

func TestLoadPackFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pack.yaml")
	if err := os.WriteFile(path, []byte("rules:\n  - {code: a, family: RSF, category: cash, factor: 0}\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	rules, err := LoadPackFile(path)
	if err != nil {
		t.Fatalf("LoadPackFile failed: %v", err)
	}
	if len(rules) != 1 || rules[0].Code != "a" {
		t.Errorf("unexpected rules: %+v", rules)
	}

	if _, err := LoadPackFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
