package export

import (
	"fmt"
	"io"
	"os"
	"text/template"

	"github.com/de-tools/cloud-sentry/pkg/models/domain"
	"github.com/de-tools/cloud-sentry/pkg/services/consistency"
)

// Reporter renders audit results to the console in a formatted text form.
type Reporter struct {
	writer io.Writer
}

func NewReporter(writer io.Writer) *Reporter {
	if writer == nil {
		writer = os.Stdout
	}
	return &Reporter{writer: writer}
}

func (r *Reporter) HandleChecks(checkIDs []string) error {
	tmpl := `Available checks:
{{range .}}  - {{.}}
{{end}}`
	return r.render("checks", tmpl, checkIDs)
}

func (r *Reporter) HandleRun(run *domain.Run) error {
	tmpl := `
Run {{.ID}} ({{.Status}})
Account: {{.AccountID}}
Duration: {{.Duration}}
Resources scanned: {{.ResourcesScanned}}
{{- if .Error}}
Error: {{.Error}}
{{- end}}
{{- if .Partial}}
Findings below are partial.
{{- end}}

{{if .Findings}}Findings:
{{range .Findings}}  [{{.Severity}}] {{.ResourceID}}: {{.Issue}}
{{- if .Recommendation}}
    {{.Recommendation}}
{{- end}}
{{end}}{{else}}No findings.
{{end}}`
	return r.render("run", tmpl, run)
}

func (r *Reporter) HandleValidation(reports []*consistency.Report) error {
	tmpl := `
{{range .}}Run {{.RunID}}: {{if .Consistent}}consistent{{else}}INCONSISTENT{{end}}
{{range .Issues}}  - {{.Kind}} ({{.CheckID}}): {{.Detail}}{{if not .Recoverable}} [unrecoverable]{{end}}
{{end}}{{end}}`
	return r.render("validation", tmpl, reports)
}

func (r *Reporter) HandleRepair(reports []*consistency.RepairReport) error {
	tmpl := `
{{range .}}Run {{.Report.RunID}}: {{len .Repaired}} repaired, {{len .Skipped}} skipped
{{range .Repaired}}  - repaired {{.Kind}} ({{.CheckID}})
{{end}}{{range .Skipped}}  - skipped {{.Kind}} ({{.CheckID}}): no surviving source
{{end}}{{end}}`
	return r.render("repair", tmpl, reports)
}

func (r *Reporter) render(name, tmpl string, data any) error {
	t, err := template.New(name).Parse(tmpl)
	if err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}
	return t.Execute(r.writer, data)
}
