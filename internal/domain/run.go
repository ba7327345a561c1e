package domain

import (
	"time"
)

// Status is a validation verdict.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusWarning Status = "warning"
	StatusFailed  Status = "failed"
)

// Issue severities.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Metric names used for stage totals in validation rows and expected figures.
// Category rows use the category name itself, or "FAMILY/category" when
// more than one family of the run produced that name.
const (
	MetricLevel1          = "level1"
	MetricLevel2A         = "level2a"
	MetricLevel2B         = "level2b"
	MetricTotalHQLA       = "total_hqla"
	MetricTotalOutflows   = "total_outflows"
	MetricTotalInflows    = "total_inflows"
	MetricNetCashOutflows = "net_cash_outflows"
	MetricTotalASF        = "total_asf"
	MetricTotalRSF        = "total_rsf"
	MetricRatio           = "ratio"
)

// ComponentBreakdown is one aggregated row of a run: amount × factor = calculated.
type ComponentBreakdown struct {
	RunID         string    `json:"runId"`
	TenantID      string    `json:"tenantId"`
	SubmissionID  string    `json:"submissionId"`
	ReportingDate time.Time `json:"reportingDate"`

	Family   Family `json:"family"`
	Category string `json:"category"`
	SubType  string `json:"subType"`
	RuleCode string `json:"ruleCode"`

	TotalAmount      float64 `json:"totalAmount"`
	AdjustedAmount   float64 `json:"adjustedAmount"` // equals TotalAmount for flat rules
	Factor           float64 `json:"factor"`
	CalculatedAmount float64 `json:"calculatedAmount"`
	RecordCount      int     `json:"recordCount"`

	LineItemIDs []string `json:"lineItemIds,omitempty"`
}

// CapOutcome records one cap step: the uncapped value, the bound and the
// value carried forward.
type CapOutcome struct {
	Uncapped float64 `json:"uncapped"`
	Bound    float64 `json:"bound"`
	Result   float64 `json:"result"`
	Applied  bool    `json:"applied"` // true when the bound was selected
}

// CapAmount returns the capped amount when the cap bound, or zero.
func (c CapOutcome) CapAmount() float64 {
	if c.Applied {
		return c.Result
	}
	return 0
}

// LCRFigures holds every stage total of an LCR run.
type LCRFigures struct {
	Level1          float64    `json:"level1"`
	Level2A         CapOutcome `json:"level2a"`
	Level2B         CapOutcome `json:"level2b"`
	TotalHQLA       float64    `json:"totalHqla"`
	TotalOutflows   float64    `json:"totalOutflows"`
	Inflows         CapOutcome `json:"inflows"`
	NetCashOutflows float64    `json:"netCashOutflows"`
	OutflowFloor    float64    `json:"outflowFloor"`
	FloorApplied    bool       `json:"floorApplied"`
}

// NSFRFigures holds the stage totals of an NSFR run.
type NSFRFigures struct {
	TotalASF float64 `json:"totalAsf"`
	TotalRSF float64 `json:"totalRsf"`
}

// MetricValidation is the verdict for one category or stage total.
type MetricValidation struct {
	Metric     string   `json:"metric"`
	Family     Family   `json:"family,omitempty"`
	Calculated float64  `json:"calculated"`
	Expected   *float64 `json:"expected,omitempty"`
	Variance   *float64 `json:"variance,omitempty"`
	Tolerance  float64  `json:"tolerance,omitempty"`
	Status     Status   `json:"status"`
	Reason     string   `json:"reason,omitempty"`
	Note       string   `json:"note,omitempty"`
}

// Issue is a data-quality or configuration problem found during a run.
type Issue struct {
	Code        string   `json:"code"`
	Severity    string   `json:"severity"`
	Message     string   `json:"message"`
	Family      Family   `json:"family,omitempty"`
	RuleCodes   []string `json:"ruleCodes,omitempty"`
	LineItemIDs []string `json:"lineItemIds,omitempty"`
	Amount      float64  `json:"amount,omitempty"`
}

// RunMetadata contains processing information.
type RunMetadata struct {
	TraceID       string `json:"traceId"`
	CategorizeMs  int64  `json:"categorizeMs"`
	CalculateMs   int64  `json:"calculateMs"`
	ValidateMs    int64  `json:"validateMs"`
	TotalMs       int64  `json:"totalMs"`
	LineItems     int    `json:"lineItems"`
	RulesLoaded   int    `json:"rulesLoaded"`
	BreakdownRows int    `json:"breakdownRows"`
	EngineVersion string `json:"engineVersion"`
}

// ValidationResult is the verdict record of one calculation run.
type ValidationResult struct {
	RunID         string    `json:"runId"`
	TenantID      string    `json:"tenantId"`
	SubmissionID  string    `json:"submissionId"`
	ReportingDate time.Time `json:"reportingDate"`
	Ratio         RatioType `json:"ratio"`

	LCR  *LCRFigures  `json:"lcr,omitempty"`
	NSFR *NSFRFigures `json:"nsfr,omitempty"`

	// RatioValue is nil when the ratio is undefined.
	RatioValue *float64 `json:"ratioValue"`
	Compliant  bool     `json:"compliant"`

	UnclassifiedAmount float64 `json:"unclassifiedAmount"`
	UnclassifiedCount  int     `json:"unclassifiedCount"`
	ExcludedAmount     float64 `json:"excludedAmount"`
	ExcludedCount      int     `json:"excludedCount"`

	Metrics    []MetricValidation `json:"metrics"`
	Status     Status             `json:"status"`
	ReasonCode string             `json:"reasonCode,omitempty"`
	Issues     []Issue            `json:"issues,omitempty"`

	Supersedes string      `json:"supersedes,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
	Metadata   RunMetadata `json:"metadata"`
}

// Run bundles a result with its breakdown rows; it is the unit persisted atomically.
type Run struct {
	Result     *ValidationResult    `json:"result"`
	Breakdowns []ComponentBreakdown `json:"breakdowns"`
}

// RunRequest is the API request payload for a calculation run.
type RunRequest struct {
	SubmissionID  string             `json:"submissionId"`
	ReportingDate string             `json:"reportingDate"` // YYYY-MM-DD
	Ratio         RatioType          `json:"ratio"`
	LineItems     []*LineItem        `json:"lineItems,omitempty"`
	Expected      map[string]float64 `json:"expected,omitempty"`
}

// ExpectedFigures are externally reported values to validate a run against.
type ExpectedFigures struct {
	TenantID      string             `json:"tenantId,omitempty"`
	SubmissionID  string             `json:"submissionId"`
	ReportingDate time.Time          `json:"reportingDate"`
	Ratio         RatioType          `json:"ratio"`
	Values        map[string]float64 `json:"values"`
	CreatedAt     time.Time          `json:"createdAt"`
}

// Lookup returns the expected value for metric, if one was reported.
func (e *ExpectedFigures) Lookup(metric string) (float64, bool) {
	if e == nil || e.Values == nil {
		return 0, false
	}
	v, ok := e.Values[metric]
	return v, ok
}
