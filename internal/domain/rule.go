package domain

// Family is a category family: the part of a ratio a rule feeds.
type Family string

const (
	FamilyHQLA    Family = "HQLA"
	FamilyOutflow Family = "OUTFLOW"
	FamilyInflow  Family = "INFLOW"
	FamilyASF     Family = "ASF"
	FamilyRSF     Family = "RSF"
)

// Valid reports whether f is a known family.
func (f Family) Valid() bool {
	switch f {
	case FamilyHQLA, FamilyOutflow, FamilyInflow, FamilyASF, FamilyRSF:
		return true
	}
	return false
}

// RatioType names the ratio a run computes.
type RatioType string

const (
	RatioLCR  RatioType = "LCR"
	RatioNSFR RatioType = "NSFR"
)

// Valid reports whether r is a known ratio.
func (r RatioType) Valid() bool {
	return r == RatioLCR || r == RatioNSFR
}

// Families returns the families that feed the ratio, in pipeline order.
func (r RatioType) Families() []Family {
	switch r {
	case RatioLCR:
		return []Family{FamilyHQLA, FamilyOutflow, FamilyInflow}
	case RatioNSFR:
		return []Family{FamilyASF, FamilyRSF}
	}
	return nil
}

// FormulaType selects how a rule turns an amount into a calculated value.
type FormulaType string

const (
	// FormulaFlat multiplies the amount by a fixed factor.
	FormulaFlat FormulaType = "flat"

	// FormulaCollateralAdjusted nets the balance against collateral
	// discounted by the collateral's own haircut, then applies the factor.
	FormulaCollateralAdjusted FormulaType = "collateral_adjusted"
)

// Wildcard matches any value in a predicate dimension.
const Wildcard = "*"

// CalculationRule maps line items to a category and its factor.
type CalculationRule struct {
	Code     string `json:"code" yaml:"code"`
	TenantID string `json:"tenantId,omitempty" yaml:"-"`
	Version  string `json:"version" yaml:"version"`

	Family    Family    `json:"family" yaml:"family"`
	Category  string    `json:"category" yaml:"category"`
	HQLALevel HQLALevel `json:"hqlaLevel,omitempty" yaml:"hqlaLevel,omitempty"`

	// Matching predicates; empty or "*" matches everything.
	Products       []string `json:"products,omitempty" yaml:"products,omitempty"`
	Counterparties []string `json:"counterparties,omitempty" yaml:"counterparties,omitempty"`
	Maturities     []string `json:"maturities,omitempty" yaml:"maturities,omitempty"`

	// Condition is an optional CEL boolean expression over the line item.
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`

	FormulaType FormulaType `json:"formulaType" yaml:"formulaType"`
	Factor      *float64    `json:"factor,omitempty" yaml:"factor,omitempty"`

	// Documentation surfaced next to the breakdown.
	Formula  string   `json:"formula,omitempty" yaml:"formula,omitempty"`
	Citation string   `json:"citation,omitempty" yaml:"citation,omitempty"`
	Examples []string `json:"examples,omitempty" yaml:"examples,omitempty"`

	Enabled bool `json:"enabled" yaml:"-"`
}

// Predefined reason and issue codes attached to runs.
const (
	ReasonAmbiguousRule          = "ambiguous_rule"
	ReasonZeroDenominator        = "zero_denominator"
	ReasonUnclassifiedItems      = "unclassified_items"
	ReasonUnclassifiedThreshold  = "unclassified_threshold_exceeded"
	ReasonVarianceOutOfTolerance = "variance_out_of_tolerance"
	ReasonMissingCollateral      = "missing_collateral"
	ReasonMissingFactor          = "missing_factor"
	ReasonInvalidRule            = "invalid_rule"
	ReasonAmbiguousCategory      = "ambiguous_category"
)
