package msgcat

import (
	"embed"
	"fmt"
	"io/fs"
	"strings"
	"text/template"

	yaml "gopkg.in/yaml.v3"
)

//go:embed messages.en.yaml
var defaultFiles embed.FS

// Catalog holds user-facing string templates keyed by flattened dot-paths.
// Values render with text/template; missing keys are errors.
type Catalog struct {
	data map[string]string
}

func New() (*Catalog, error) {
	c := &Catalog{data: make(map[string]string)}
	raw, err := fs.ReadFile(defaultFiles, "messages.en.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded messages: %w", err)
	}
	flat, err := parseYAMLToFlat(raw)
	if err != nil {
		return nil, err
	}
	for k, v := range flat {
		c.data[k] = v
	}
	return c, nil
}

// Render resolves key and executes its template with args.
func (c *Catalog) Render(key string, args map[string]any) (string, error) {
	tpl, ok := c.data[key]
	if !ok {
		return "", fmt.Errorf("msgcat: unknown key %q", key)
	}
	t, err := template.New(key).Option("missingkey=error").Parse(tpl)
	if err != nil {
		return "", fmt.Errorf("msgcat: parse %q: %w", key, err)
	}
	var b strings.Builder
	if err := t.Execute(&b, args); err != nil {
		return "", fmt.Errorf("msgcat: render %q: %w", key, err)
	}
	return b.String(), nil
}

// Get returns the raw template text, or the key itself when missing so a
// bad catalog never blanks a response.
func (c *Catalog) Get(key string) string {
	if v, ok := c.data[key]; ok {
		return v
	}
	return key
}

func parseYAMLToFlat(raw []byte) (map[string]string, error) {
	var root map[string]any
	if err := yaml.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("msgcat: parse yaml: %w", err)
	}
	flat := make(map[string]string)
	flatten("", root, flat)
	return flat, nil
}

func flatten(prefix string, node map[string]any, out map[string]string) {
	for k, v := range node {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch t := v.(type) {
		case map[string]any:
			flatten(key, t, out)
		case string:
			out[key] = t
		default:
			out[key] = fmt.Sprintf("%v", t)
		}
	}
}
