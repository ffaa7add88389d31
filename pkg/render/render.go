// Package render produces configuration files for external tools from
// text/template sources and checks them against CUE schemas.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"text/template"
)

//go:embed templates schemas
var builtin embed.FS

// TemplateSuffix is appended to template names when looking them up.
const TemplateSuffix = ".tmpl"

// Renderer renders named templates. Templates found in the override
// directory take precedence over the built-in ones.
type Renderer struct {
	sources []fs.FS
	schemas *SchemaRegistry
}

// New creates a renderer over the built-in templates and schemas. When
// overrideDir is not empty it is searched first.
func New(overrideDir string) (*Renderer, error) {
	r := &Renderer{schemas: NewSchemaRegistry()}
	if overrideDir != "" {
		r.sources = append(r.sources, os.DirFS(overrideDir))
	}
	templates, err := fs.Sub(builtin, "templates")
	if err != nil {
		return nil, err
	}
	r.sources = append(r.sources, templates)
	if err := r.schemas.LoadFS(builtin, "schemas"); err != nil {
		return nil, err
	}
	return r, nil
}

// Schemas returns the registry used by RenderFile.
func (r *Renderer) Schemas() *SchemaRegistry { return r.schemas }

var funcs = template.FuncMap{
	"quote": strconv.Quote,
}

func (r *Renderer) lookup(name string) ([]byte, error) {
	var lastErr error
	for _, src := range r.sources {
		b, err := fs.ReadFile(src, name+TemplateSuffix)
		if err == nil {
			return b, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("template %s: %w", name, lastErr)
}

// Render executes the named template with data. Missing map keys are an
// error.
func (r *Renderer) Render(name string, data any) ([]byte, error) {
	src, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	tmpl, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(string(src))
	if err != nil {
		return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

// RenderFile renders name into dst. When schema is not empty the output
// is validated first and nothing is written if it does not conform.
func (r *Renderer) RenderFile(name string, data any, dst, schema string) error {
	out, err := r.Render(name, data)
	if err != nil {
		return err
	}
	if schema != "" {
		if err := r.schemas.ValidateYAML(schema, out); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(dst, out, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}
	return nil
}
