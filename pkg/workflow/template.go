package workflow

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/siteflow/siteflow/pkg/logger"
)

var templateLog = logger.New("workflow:template")

//go:embed templates/*.yml.tmpl
var builtinTemplates embed.FS

// TemplateContext maps parameter names to scalar (string) or list ([]string)
// values. It is built per (site, kind) and discarded once the model exists.
type TemplateContext map[string]any

// Renderer expands a named template against a TemplateContext.
//
// Placeholder syntax: {{ name }} substitutes a scalar parameter;
// {{#each name}}...{{/each}} repeats its body once per list element with
// {{.}} bound to the element. Any ${{ ... }} span is a raw passthrough: it
// carries the CI runner's own expression syntax and is copied through
// verbatim regardless of context contents. The $ sigil is what lexically
// separates the two syntaxes.
type Renderer struct {
	dir string
}

// NewRenderer creates a renderer reading templates from dir. An empty dir
// selects the built-in templates compiled into the binary; a non-empty dir
// overrides built-ins per template and falls back for names it does not
// provide.
func NewRenderer(dir string) *Renderer {
	return &Renderer{dir: dir}
}

// Render expands the template named name (file <name>.yml.tmpl) against ctx.
// It has no side effects beyond reading the template source.
func (r *Renderer) Render(name string, ctx TemplateContext) (string, error) {
	templateLog.Printf("Rendering template %q with %d parameter(s)", name, len(ctx))

	source, err := r.load(name)
	if err != nil {
		return "", err
	}
	return renderText(name, source, ctx)
}

func (r *Renderer) load(name string) (string, error) {
	filename := name + ".yml.tmpl"
	if r.dir != "" {
		content, err := os.ReadFile(filepath.Join(r.dir, filename))
		if err == nil {
			return string(content), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("failed to read template %q: %w", name, err)
		}
		templateLog.Printf("Template %q not in %s, using built-in", name, r.dir)
	}
	content, err := fs.ReadFile(builtinTemplates, "templates/"+filename)
	if err != nil {
		return "", fmt.Errorf("failed to read template %q: %w", name, err)
	}
	return string(content), nil
}

// renderText is the pure expansion pass over template source text.
func renderText(name, text string, ctx TemplateContext) (string, error) {
	var out strings.Builder
	i := 0
	for i < len(text) {
		// Raw passthrough: ${{ ... }} is the runner's expression syntax.
		if strings.HasPrefix(text[i:], "${{") {
			end := strings.Index(text[i:], "}}")
			if end < 0 {
				out.WriteString(text[i:])
				break
			}
			out.WriteString(text[i : i+end+2])
			i += end + 2
			continue
		}

		if strings.HasPrefix(text[i:], "{{#each ") {
			consumed, err := renderEachBlock(&out, name, text[i:], ctx)
			if err != nil {
				return "", err
			}
			i += consumed
			continue
		}

		if strings.HasPrefix(text[i:], "{{/each}}") {
			return "", fmt.Errorf("template %q: {{/each}} without matching {{#each}}", name)
		}

		if strings.HasPrefix(text[i:], "{{") {
			end := strings.Index(text[i:], "}}")
			if end < 0 {
				return "", fmt.Errorf("template %q: unterminated placeholder", name)
			}
			param := strings.TrimSpace(text[i+2 : i+end])
			value, err := resolveScalar(name, param, ctx)
			if err != nil {
				return "", err
			}
			out.WriteString(value)
			i += end + 2
			continue
		}

		out.WriteByte(text[i])
		i++
	}
	return out.String(), nil
}

// renderEachBlock expands one {{#each name}}...{{/each}} construct and
// returns the number of input bytes consumed.
func renderEachBlock(out *strings.Builder, templateName, text string, ctx TemplateContext) (int, error) {
	headEnd := strings.Index(text, "}}")
	if headEnd < 0 {
		return 0, fmt.Errorf("template %q: unterminated {{#each}}", templateName)
	}
	param := strings.TrimSpace(text[len("{{#each "):headEnd])

	bodyStart := headEnd + 2
	closeIdx := strings.Index(text[bodyStart:], "{{/each}}")
	if closeIdx < 0 {
		return 0, fmt.Errorf("template %q: {{#each %s}} is never closed", templateName, param)
	}
	body := text[bodyStart : bodyStart+closeIdx]
	consumed := bodyStart + closeIdx + len("{{/each}}")

	value, ok := ctx[param]
	if !ok {
		return 0, &MissingParameterError{Template: templateName, Parameter: param}
	}
	items, ok := asList(value)
	if !ok {
		return 0, &UnsupportedParameterTypeError{
			Template:  templateName,
			Parameter: param,
			Expected:  "list",
			Got:       "scalar",
		}
	}

	for _, item := range items {
		childCtx := make(TemplateContext, len(ctx)+1)
		for k, v := range ctx {
			childCtx[k] = v
		}
		childCtx["."] = item
		rendered, err := renderText(templateName, body, childCtx)
		if err != nil {
			return 0, err
		}
		out.WriteString(rendered)
	}
	return consumed, nil
}

func resolveScalar(templateName, param string, ctx TemplateContext) (string, error) {
	value, ok := ctx[param]
	if !ok {
		return "", &MissingParameterError{Template: templateName, Parameter: param}
	}
	if _, isList := asList(value); isList {
		return "", &UnsupportedParameterTypeError{
			Template:  templateName,
			Parameter: param,
			Expected:  "scalar",
			Got:       "list",
		}
	}
	switch v := value.(type) {
	case string:
		return v, nil
	default:
		return fmt.Sprintf("%v", v), nil
	}
}

func asList(value any) ([]string, bool) {
	switch v := value.(type) {
	case []string:
		return v, true
	case []any:
		items := make([]string, len(v))
		for i, e := range v {
			items[i] = fmt.Sprintf("%v", e)
		}
		return items, true
	}
	return nil, false
}
