package reporting

import (
	"encoding/json"
	"os"

	"github.com/ducminhle1904/trading-risk-engine/internal/portfolio"
)

// StatusReport is the JSON document written at the end of a run
type StatusReport struct {
	Snapshot   *portfolio.Snapshot     `json:"snapshot"`
	Metrics    *portfolio.RiskMetrics  `json:"risk_metrics,omitempty"`
	Trades     []portfolio.TradeRecord `json:"trades"`
	ExitPolicy map[string]any          `json:"exit_policy,omitempty"`
}

// WriteStatusJSON writes report as indented JSON, creating the parent directory
func WriteStatusJSON(path string, report StatusReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}

	if err := EnsureDirectoryExists(path); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
