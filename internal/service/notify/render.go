package notify

import (
	"fmt"
	"strings"
	"text/template"

	"tasksync/internal/model"
)

var messageTemplates = template.Must(template.New("notify").Parse(`
{{define "created"}}New task: {{.Name}}{{if .Due}} (due {{.Due}}){{end}}{{end}}
{{define "updated"}}Task updated: {{.Name}} is now {{.Status}}{{if .Due}}, due {{.Due}}{{end}}{{end}}
{{define "completed"}}Task completed: {{.Name}}. Nice work!{{end}}
{{define "due_soon"}}Reminder: {{.Name}} is due {{.Due}}{{end}}
{{define "overdue"}}Overdue: {{.Name}} was due {{.Due}}{{end}}
`))

type templateData struct {
	Name     string
	Status   string
	Due      string
	Assignee string
}

// renderMessage fills the kind-specific template. A missing template or
// render failure is terminal for the intent, never for the dispatcher.
func renderMessage(kind model.IntentKind, t *model.Task) (string, error) {
	data := templateData{
		Name:     t.Name,
		Status:   statusLabel(t),
		Assignee: t.AssigneeRef,
	}
	if due, ok := t.Due(); ok {
		data.Due = due.Format("Mon, 02 Jan 2006 15:04 MST")
	}

	var b strings.Builder
	if err := messageTemplates.ExecuteTemplate(&b, string(kind), data); err != nil {
		return "", fmt.Errorf("render %s: %w", kind, err)
	}
	return strings.TrimSpace(b.String()), nil
}

func statusLabel(t *model.Task) string {
	if t.Status == model.StatusOther && t.StatusRaw != "" {
		return t.StatusRaw
	}
	return strings.ReplaceAll(string(t.Status), "_", " ")
}
