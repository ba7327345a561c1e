package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"github.com/opensource-finance/liquidity/internal/domain"
	"github.com/opensource-finance/liquidity/internal/pipeline"
	"github.com/opensource-finance/liquidity/internal/rules"
)

type calcCmd struct {
	configPath   string
	itemsPath    string
	expectedPath string
	packPath     string
	ratio        string
	submission   string
	date         string
	strict       bool
}

func (*calcCmd) Name() string     { return "calc" }
func (*calcCmd) Synopsis() string { return "calculate a ratio from a line item file without a database" }
func (*calcCmd) Usage() string {
	return `liquidity calc -items <batch.json> [-ratio LCR|NSFR] [-expected <values.json>] [-rules <pack.yaml>] [-strict]

  Runs one calculation over a line item batch ({"submissionId",
  "reportingDate", "items"}) and prints the run with its breakdowns as JSON.
  Nothing is persisted. With -strict a failed verdict exits non-zero.
`
}

func (c *calcCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.configPath, "config", "", "Configuration file for the calculation policy (defaults to $LIQUIDITY_CONFIG).")
	f.StringVar(&c.itemsPath, "items", "", "Line item batch file (JSON).")
	f.StringVar(&c.expectedPath, "expected", "", "Expected figures file: a JSON object of metric to value.")
	f.StringVar(&c.packPath, "rules", "", "Rule pack file (defaults to the embedded reference pack).")
	f.StringVar(&c.ratio, "ratio", string(domain.RatioLCR), "Ratio to calculate (LCR, NSFR).")
	f.StringVar(&c.submission, "submission", "", "Submission ID (overrides the batch; defaults to \"local\").")
	f.StringVar(&c.date, "date", "", "Reporting date YYYY-MM-DD (overrides the batch).")
	f.BoolVar(&c.strict, "strict", false, "Exit with failure when the run verdict is failed.")
}

func (c *calcCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.itemsPath == "" {
		fmt.Fprintln(os.Stderr, "-items is required")
		return subcommands.ExitUsageError
	}

	cfg, err := loadConfig(c.configPath, os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	run, err := c.calculate(ctx, cfg.Calculation)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(run); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	if c.strict && run.Result.Status == domain.StatusFailed {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (c *calcCmd) calculate(ctx context.Context, policy domain.CalculationConfig) (*domain.Run, error) {
	batch, err := readBatch(c.itemsPath, c.submission, c.date)
	if err != nil {
		return nil, err
	}
	reportingDate, err := domain.ParseReportingDate(batch.ReportingDate)
	if err != nil {
		return nil, fmt.Errorf("batch reportingDate must be YYYY-MM-DD: %w", err)
	}
	if batch.SubmissionID == "" {
		batch.SubmissionID = "local"
	}
	for _, li := range batch.Items {
		li.SubmissionID = batch.SubmissionID
		li.ReportingDate = reportingDate
		if err := li.Validate(); err != nil {
			return nil, err
		}
	}

	ratio := domain.RatioType(c.ratio)
	var expected *domain.ExpectedFigures
	if c.expectedPath != "" {
		expected = &domain.ExpectedFigures{
			SubmissionID:  batch.SubmissionID,
			ReportingDate: reportingDate,
			Ratio:         ratio,
		}
		if err := readJSON(c.expectedPath, &expected.Values); err != nil {
			return nil, err
		}
	}

	pack := rules.ReferencePack()
	if c.packPath != "" {
		if pack, err = rules.LoadPackFile(c.packPath); err != nil {
			return nil, err
		}
	}
	registry, err := rules.NewRegistry()
	if err != nil {
		return nil, err
	}
	if err := registry.LoadRules(pack); err != nil {
		return nil, err
	}

	processor := pipeline.NewProcessor(registry, policy)
	return processor.Run(ctx, &pipeline.Input{
		TenantID:      "local",
		SubmissionID:  batch.SubmissionID,
		ReportingDate: reportingDate,
		Ratio:         ratio,
		LineItems:     batch.Items,
		Expected:      expected,
	})
}

// readBatch reads a line item batch file, applying non-empty submission and
// date overrides.
func readBatch(path, submissionID, reportingDate string) (domain.LineItemBatch, error) {
	var batch domain.LineItemBatch
	if err := readJSON(path, &batch); err != nil {
		return batch, err
	}
	if submissionID != "" {
		batch.SubmissionID = submissionID
	}
	if reportingDate != "" {
		batch.ReportingDate = reportingDate
	}
	return batch, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}
