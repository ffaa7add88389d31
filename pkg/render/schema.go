package render

import (
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

// rootDefinition is the definition every schema file must declare.
const rootDefinition = "#Config"

// SchemaRegistry holds CUE schemas that rendered YAML documents are
// checked against.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates an empty registry.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
}

// RegisterSchema compiles src and registers its #Config definition as name.
func (sr *SchemaRegistry) RegisterSchema(name, src string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(src, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	def := val.LookupPath(cue.ParsePath(rootDefinition))
	if !def.Exists() {
		return fmt.Errorf("schema %s does not declare %s", name, rootDefinition)
	}
	sr.schemas[name] = def
	return nil
}

// LoadFS registers every *.cue file under dir in fsys, named after the
// file without its extension.
func (sr *SchemaRegistry) LoadFS(fsys fs.FS, dir string) error {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return fmt.Errorf("failed to read schemas: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".cue") {
			continue
		}
		src, err := fs.ReadFile(fsys, dir+"/"+e.Name())
		if err != nil {
			return err
		}
		if err := sr.RegisterSchema(strings.TrimSuffix(e.Name(), ".cue"), string(src)); err != nil {
			return err
		}
	}
	return nil
}

// ListSchemas returns the registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks data against the named schema.
func (sr *SchemaRegistry) Validate(name string, data any) error {
	sr.mu.RLock()
	schema, ok := sr.schemas[name]
	sr.mu.RUnlock()
	if !ok {
		return fmt.Errorf("schema %s not found", name)
	}

	val := sr.ctx.Encode(data)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}
	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return &ValidationError{Schema: name, Details: details(err)}
	}
	return nil
}

// ValidateYAML decodes doc and checks it against the named schema.
func (sr *SchemaRegistry) ValidateYAML(name string, doc []byte) error {
	var data any
	if err := yaml.Unmarshal(doc, &data); err != nil {
		return fmt.Errorf("failed to decode yaml: %w", err)
	}
	return sr.Validate(name, data)
}

// ValidationError lists the constraint violations found in a document.
type ValidationError struct {
	Schema  string
	Details []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s validation failed: %s", e.Schema, strings.Join(e.Details, "; "))
}

func details(err error) []string {
	var out []string
	for _, e := range cueerrors.Errors(err) {
		out = append(out, strings.TrimSpace(cueerrors.Details(e, nil)))
	}
	return out
}
