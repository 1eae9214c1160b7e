package view

import (
	"bytes"
	"fmt"
	"html/template"
	"io"

	"github.com/cota-system/cota/internal/platform/locale"
	"github.com/cota-system/cota/web"
)

// Template names defined under web/templates.
const (
	InvitationEmail  = "email/quotation_invite"
	ComparisonReport = "report/comparison"
)

// Engine renders HTML templates.
type Engine struct {
	templates *template.Template
}

// NewEngine parses the embedded templates.
func NewEngine() (*Engine, error) {
	funcMap := template.FuncMap{
		"formatDate":     locale.Date,
		"formatDateTime": locale.DateTime,
		"money":          locale.Money,
		"number":         locale.Number,
		"percent":        locale.Percent,
	}
	tpl, err := template.New("root").Funcs(funcMap).ParseFS(web.Templates, "templates/email/*.html", "templates/report/*.html")
	if err != nil {
		return nil, err
	}
	return &Engine{templates: tpl}, nil
}

// Execute writes the named template to w.
func (e *Engine) Execute(w io.Writer, name string, data any) error {
	if e == nil {
		return fmt.Errorf("template engine not initialised")
	}
	return e.templates.ExecuteTemplate(w, name, data)
}

// RenderString executes the named template into a string.
func (e *Engine) RenderString(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := e.Execute(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
