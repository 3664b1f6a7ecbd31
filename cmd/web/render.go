package main

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"time"
)

//go:embed templates
var templateFS embed.FS

var templateFuncs = template.FuncMap{
	"bytes": humanBytes,
	"date": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.Format("2006-01-02 15:04")
	},
	"money": func(amount float64, currency string) string {
		return fmt.Sprintf("%.2f %s", amount, currency)
	},
}

func parseTemplates() (*template.Template, error) {
	return template.New("").Funcs(templateFuncs).ParseFS(templateFS, "templates/*/*.tmpl")
}

// render executes a template into a buffer first so a failing template
// never leaves a half-written page.
func (app *Application) render(w http.ResponseWriter, r *http.Request, name string, pageData map[string]any, statusCode int) {
	var buf bytes.Buffer
	if err := app.templates.ExecuteTemplate(&buf, name, pageData); err != nil {
		app.reportServerError(r, fmt.Errorf("render %s: %w", name, err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	app.saveCredential(r)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(statusCode)
	_, _ = buf.WriteTo(w)
}

// redirect saves session state and redirects with 303.
func (app *Application) redirect(w http.ResponseWriter, r *http.Request, target string) {
	app.saveCredential(r)
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
