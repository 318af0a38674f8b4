package protocol

import "time"

// RunProgress is broadcast on the bus as a run advances through its stages.
type RunProgress struct {
	RunID        string    `json:"run_id"`
	Stage        string    `json:"stage"`
	State        string    `json:"state"`
	WindowsTotal int       `json:"windows_total"`
	WindowsDone  int       `json:"windows_done"`
	Retries      int       `json:"retries"`
	Message      string    `json:"message,omitempty"`
	At           time.Time `json:"at"`
}

// RunCompleted announces a finished run with its headline numbers.
type RunCompleted struct {
	RunID         string    `json:"run_id"`
	OutputPath    string    `json:"output_path,omitempty"`
	DurationSecs  float64   `json:"duration_secs,omitempty"`
	BillableChars int       `json:"billable_chars,omitempty"`
	CostUSD       float64   `json:"cost_usd,omitempty"`
	Failed        bool      `json:"failed"`
	At            time.Time `json:"at"`
}

const (
	SubjectRunProgressPrefix = "lector.run.progress"
	SubjectRunCompleted      = "lector.run.completed"
	SubjectRunDiagnostics    = "lector.run.diagnostics"
)

// ProgressSubject returns the per-run progress subject.
func ProgressSubject(runID string) string {
	return SubjectRunProgressPrefix + "." + runID
}
