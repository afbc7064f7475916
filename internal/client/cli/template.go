package cli

import (
	"encoding/json"
	"fmt"
	"text/template"
	"time"

	"github.com/iudanet/gophsync/internal/models"
)

const entityTemplate = `
=== {{ .Type }}/{{ .ID }} ===

Version: {{ if .Version }}{{ .Version }}{{ else }}not synced{{ end }}
Updated: {{ .UpdatedAt }}
{{- if .Deleted }}
Deleted: yes
{{- end }}
{{- range .Fields }}
  {{ .Name }}: {{ .Value }}
{{- end }}
`

const entityListTemplate = `
{{- if eq (len .) 0 -}}
No entities found.

Use 'gophsync put <type>' to add your first entity.
{{ else -}}
Found {{ len . }} entity(ies):
{{ range . }}
- {{ .Type }}/{{ .ID }}{{ if .Deleted }} (deleted){{ end }}{{ if not .Version }} (not synced){{ end }}
   {{- if .Preview }}
   {{ .Preview }}
   {{- end }}
{{- end }}

Use 'gophsync get <type> <id>' to view full content.
{{ end -}}
`

const conflictListTemplate = `
{{- if eq (len .) 0 -}}
No conflicts.
{{ else -}}
{{ range . -}}
- {{ .ID }} {{ .Type }}/{{ .EntityID }} {{ .Resolution }} at {{ .CreatedAt }}
   fields: {{ .Fields }}
{{ end -}}
{{ end -}}
`

const deviceListTemplate = `
{{- range . -}}
- {{ .DeviceID }}{{ if .Current }} (this device){{ end }}
   name: {{ .Name }}, kind: {{ .Kind }}, pulled up to {{ .LastPulledVersion }}
   last seen: {{ .LastSeen }}{{ if .Revoked }}, revoked {{ .Revoked }}{{ end }}
{{ end -}}
`

// previewLen сколько символов payload показывать в списке
const previewLen = 60

type entityField struct {
	Name  string
	Value string
}

type entityItem struct {
	Type      string
	ID        string
	UpdatedAt string
	Preview   string
	Fields    []entityField
	Version   uint64
	Deleted   bool
}

func entityView(e *models.Entity) entityItem {
	item := entityItem{
		Type:      e.Type,
		ID:        e.ID,
		Version:   e.SyncVersion,
		Deleted:   e.Deleted(),
		UpdatedAt: formatTime(e.UpdatedAt),
	}
	for _, k := range e.Payload.Keys() {
		item.Fields = append(item.Fields, entityField{Name: k, Value: formatValue(e.Payload[k])})
	}
	if len(e.Payload) > 0 {
		preview, _ := json.Marshal(e.Payload)
		item.Preview = truncate(string(preview), previewLen)
	}
	return item
}

func formatValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	out, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(out)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// render выполняет шаблон в вывод CLI
func (c *Cli) render(text string, data any) error {
	tmpl, err := template.New("out").Parse(text)
	if err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}
	if err := tmpl.Execute(c.io, data); err != nil {
		return fmt.Errorf("failed to render output: %w", err)
	}
	return nil
}
