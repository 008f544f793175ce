package output

import "github.com/leapstack-labs/qasmlens/internal/mapper"

// LintOutput is the structured output of the lint command.
type LintOutput struct {
	File     string         `json:"file" yaml:"file"`
	Summary  mapper.Summary `json:"summary" yaml:"summary"`
	Problems []Problem      `json:"problems" yaml:"problems"`
}

// Problem is one marker as reported by the CLI.
type Problem struct {
	Line             int    `json:"line" yaml:"line"`
	Column           int    `json:"column" yaml:"column"`
	EndColumn        int    `json:"end_column" yaml:"end_column"`
	Severity         string `json:"severity" yaml:"severity"`
	Code             string `json:"code,omitempty" yaml:"code,omitempty"`
	Message          string `json:"message" yaml:"message"`
	DocumentationURL string `json:"documentation_url,omitempty" yaml:"documentation_url,omitempty"`
}

// NewProblems converts markers for output.
func NewProblems(markers []mapper.Marker) []Problem {
	out := make([]Problem, 0, len(markers))
	for _, m := range markers {
		out = append(out, Problem{
			Line:             m.Line,
			Column:           m.Column,
			EndColumn:        m.EndColumn,
			Severity:         m.Severity.String(),
			Code:             m.Code,
			Message:          m.Message,
			DocumentationURL: m.DocumentationURL,
		})
	}
	return out
}

// HighlightOutput is the structured output of the highlight command.
type HighlightOutput struct {
	File        string              `json:"file" yaml:"file"`
	Decorations []mapper.Decoration `json:"decorations" yaml:"decorations"`
}

// FormatOutput is the structured output of the format command.
type FormatOutput struct {
	File      string `json:"file" yaml:"file"`
	Formatted string `json:"formatted" yaml:"formatted"`
	Changed   bool   `json:"changed" yaml:"changed"`
}

// DoctorStage is one step of the module load report.
type DoctorStage struct {
	Name    string `json:"name" yaml:"name"`
	Status  string `json:"status" yaml:"status"` // success, failed, skipped
	Detail  string `json:"detail,omitempty" yaml:"detail,omitempty"`
	Elapsed string `json:"elapsed,omitempty" yaml:"elapsed,omitempty"`
}

// DoctorOutput is the structured output of the doctor command.
type DoctorOutput struct {
	Module  string        `json:"module" yaml:"module"`
	Kind    string        `json:"kind" yaml:"kind"`
	State   string        `json:"state" yaml:"state"`
	Healthy bool          `json:"healthy" yaml:"healthy"`
	Stages  []DoctorStage `json:"stages" yaml:"stages"`
}
