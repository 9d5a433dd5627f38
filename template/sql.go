package template

import (
	"bytes"
	"fmt"
	"os"
	"text/template"
)

// Render expands a SQL template string with the given parameters.
func Render(name, text string, params map[string]any) (string, error) {
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return "", fmt.Errorf("failed to parse template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, params); err != nil {
		return "", fmt.Errorf("failed to execute template %s: %w", name, err)
	}

	return buf.String(), nil
}

// RenderFile reads a SQL template file and expands it with the given
// parameters.
func RenderFile(path string, params map[string]any) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read template file: %w", err)
	}
	return Render(path, string(content), params)
}
