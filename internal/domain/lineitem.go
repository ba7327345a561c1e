package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidLineItem is returned when a line item fails validation.
var ErrInvalidLineItem = errors.New("invalid line item")

// Side is the balance-sheet side a line item sits on.
type Side string

const (
	SideAsset      Side = "asset"
	SideLiability  Side = "liability"
	SideOffBalance Side = "off_balance"
)

// HQLALevel is the liquidity tier of a high-quality liquid asset.
type HQLALevel string

const (
	HQLALevel1  HQLALevel = "1"
	HQLALevel2A HQLALevel = "2A"
	HQLALevel2B HQLALevel = "2B"
)

// Valid reports whether l is one of the known levels.
func (l HQLALevel) Valid() bool {
	switch l {
	case HQLALevel1, HQLALevel2A, HQLALevel2B:
		return true
	}
	return false
}

// LineItem is one balance-sheet or cash-flow record for a reporting date.
// Line items are immutable once ingested.
type LineItem struct {
	// Core identifiers
	ID            string    `json:"id"`
	TenantID      string    `json:"tenantId"`
	SubmissionID  string    `json:"submissionId"`
	ReportingDate time.Time `json:"reportingDate"`

	// Classification attributes
	Side             Side   `json:"side"`
	Family           Family `json:"family,omitempty"` // optional pre-set family
	ProductCategory  string `json:"productCategory"`
	SubProduct       string `json:"subProduct,omitempty"`
	CounterpartyType string `json:"counterpartyType"`
	MaturityBucket   string `json:"maturityBucket"`
	Currency         string `json:"currency"`

	// Amounts
	OutstandingBalance float64  `json:"outstandingBalance"`
	CashFlowAmount     *float64 `json:"cashFlowAmount,omitempty"` // projected 30-day inflow/outflow
	EncumberedAmount   *float64 `json:"encumberedAmount,omitempty"`

	// Pre-set HQLA attributes
	IsHQLA    bool      `json:"isHqla,omitempty"`
	HQLALevel HQLALevel `json:"hqlaLevel,omitempty"`

	// Per-item factor overrides
	HaircutOverride             *float64 `json:"haircutOverride,omitempty"`
	RunoffRateOverride          *float64 `json:"runoffRateOverride,omitempty"`
	InflowRateOverride          *float64 `json:"inflowRateOverride,omitempty"`
	StableFundingFactorOverride *float64 `json:"stableFundingFactorOverride,omitempty"`

	// Collateral, for collateral-adjusted rules
	CollateralValue   *float64 `json:"collateralValue,omitempty"`
	CollateralHaircut *float64 `json:"collateralHaircut,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// FamilyFor returns the category family the item is classified in when
// computing ratio. The second return value is false when the item does not
// take part in that ratio.
func (li *LineItem) FamilyFor(ratio RatioType) (Family, bool) {
	if li.Family != "" {
		for _, f := range ratio.Families() {
			if f == li.Family {
				return f, true
			}
		}
		return "", false
	}

	switch ratio {
	case RatioLCR:
		switch li.Side {
		case SideAsset:
			if li.IsHQLA || li.HQLALevel != "" {
				return FamilyHQLA, true
			}
			return FamilyInflow, true
		case SideLiability, SideOffBalance:
			return FamilyOutflow, true
		}
	case RatioNSFR:
		switch li.Side {
		case SideLiability:
			return FamilyASF, true
		case SideAsset, SideOffBalance:
			return FamilyRSF, true
		}
	}
	return "", false
}

// FactorOverride returns the per-item factor override that applies in family,
// already expressed as a multiplier (a haircut h becomes 1-h).
func (li *LineItem) FactorOverride(family Family) (float64, bool) {
	switch family {
	case FamilyHQLA:
		if li.HaircutOverride != nil {
			return 1 - *li.HaircutOverride, true
		}
	case FamilyOutflow:
		if li.RunoffRateOverride != nil {
			return *li.RunoffRateOverride, true
		}
	case FamilyInflow:
		if li.InflowRateOverride != nil {
			return *li.InflowRateOverride, true
		}
	case FamilyASF, FamilyRSF:
		if li.StableFundingFactorOverride != nil {
			return *li.StableFundingFactorOverride, true
		}
	}
	return 0, false
}

// Validate checks the fields the calculation relies on.
func (li *LineItem) Validate() error {
	if li.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidLineItem)
	}
	switch li.Side {
	case SideAsset, SideLiability, SideOffBalance:
	default:
		return fmt.Errorf("%w: %s: unknown side %q", ErrInvalidLineItem, li.ID, li.Side)
	}
	if li.Family != "" && !li.Family.Valid() {
		return fmt.Errorf("%w: %s: unknown family %q", ErrInvalidLineItem, li.ID, li.Family)
	}
	if li.HQLALevel != "" && !li.HQLALevel.Valid() {
		return fmt.Errorf("%w: %s: unknown HQLA level %q", ErrInvalidLineItem, li.ID, li.HQLALevel)
	}

	rates := map[string]*float64{
		"haircutOverride":             li.HaircutOverride,
		"runoffRateOverride":          li.RunoffRateOverride,
		"inflowRateOverride":          li.InflowRateOverride,
		"stableFundingFactorOverride": li.StableFundingFactorOverride,
		"collateralHaircut":           li.CollateralHaircut,
	}
	for name, v := range rates {
		if v != nil && (*v < 0 || *v > 1) {
			return fmt.Errorf("%w: %s: %s %.4f outside [0, 1]", ErrInvalidLineItem, li.ID, name, *v)
		}
	}
	if li.EncumberedAmount != nil && *li.EncumberedAmount < 0 {
		return fmt.Errorf("%w: %s: encumberedAmount must not be negative", ErrInvalidLineItem, li.ID)
	}
	return nil
}

// LineItemBatch is the API request payload for line item ingestion.
type LineItemBatch struct {
	SubmissionID  string      `json:"submissionId"`
	ReportingDate string      `json:"reportingDate"` // YYYY-MM-DD
	Items         []*LineItem `json:"items"`
}

// DateLayout is the wire format of reporting dates.
const DateLayout = "2006-01-02"

// ParseReportingDate parses a YYYY-MM-DD reporting date in UTC.
func ParseReportingDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}
