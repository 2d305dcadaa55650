package packaging

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
)

// ErrUnresolvedPlaceholder is matched by UnresolvedError.
var ErrUnresolvedPlaceholder = errors.New("packaging: unresolved placeholder")

// UnresolvedError names every placeholder of a template that had no binding.
type UnresolvedError struct {
	Template string
	Names    []string
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("packaging: render %s: unresolved placeholders: %s", e.Template, strings.Join(e.Names, ", "))
}

// Is reports whether target is ErrUnresolvedPlaceholder.
func (e *UnresolvedError) Is(target error) bool {
	return target == ErrUnresolvedPlaceholder
}

// Bindings maps placeholder names to their substitution values.
type Bindings map[string]string

// Template is a substitution-only HCL template. ${name} is a placeholder and
// $${NAME} renders as a literal ${NAME} for systemd to expand.
type Template struct {
	name         string
	expr         hclsyntax.Expression
	placeholders []string
}

// ParseTemplate parses src. Directives, function calls, operators and
// attribute access are rejected.
func ParseTemplate(name, src string) (*Template, error) {
	expr, diags := hclsyntax.ParseTemplate([]byte(src), name, hcl.InitialPos)
	if diags.HasErrors() {
		return nil, fmt.Errorf("packaging: parse %s: %s", name, diags.Error())
	}
	if err := checkSubstitutionOnly(expr); err != nil {
		return nil, fmt.Errorf("packaging: parse %s: %w", name, err)
	}

	seen := make(map[string]struct{})
	for _, traversal := range expr.Variables() {
		seen[traversal.RootName()] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)

	return &Template{name: name, expr: expr, placeholders: names}, nil
}

// MustParseTemplate is like ParseTemplate but panics on error. It is meant
// for the built-in unit templates.
func MustParseTemplate(name, src string) *Template {
	t, err := ParseTemplate(name, src)
	if err != nil {
		panic(err)
	}
	return t
}

// Name returns the template name.
func (t *Template) Name() string {
	return t.name
}

// Placeholders returns the sorted set of placeholder names.
func (t *Template) Placeholders() []string {
	return append([]string(nil), t.placeholders...)
}

// Render substitutes b into the template. Every placeholder must be bound;
// otherwise an *UnresolvedError lists the missing names.
func (t *Template) Render(b Bindings) (string, error) {
	var missing []string
	vars := make(map[string]cty.Value, len(t.placeholders))
	for _, name := range t.placeholders {
		v, ok := b[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		vars[name] = cty.StringVal(v)
	}
	if len(missing) > 0 {
		return "", &UnresolvedError{Template: t.name, Names: missing}
	}

	val, diags := t.expr.Value(&hcl.EvalContext{Variables: vars})
	if diags.HasErrors() {
		return "", fmt.Errorf("packaging: render %s: %s", t.name, diags.Error())
	}
	if val.IsNull() || !val.Type().Equals(cty.String) {
		return "", fmt.Errorf("packaging: render %s: template did not produce a string", t.name)
	}
	return val.AsString(), nil
}

// checkSubstitutionOnly allows literal text and bare ${name} references.
func checkSubstitutionOnly(expr hclsyntax.Expression) error {
	switch e := expr.(type) {
	case *hclsyntax.TemplateExpr:
		for _, part := range e.Parts {
			if err := checkSubstitutionOnly(part); err != nil {
				return err
			}
		}
		return nil
	case *hclsyntax.TemplateWrapExpr:
		return checkSubstitutionOnly(e.Wrapped)
	case *hclsyntax.LiteralValueExpr:
		return nil
	case *hclsyntax.ScopeTraversalExpr:
		if len(e.Traversal) != 1 {
			return fmt.Errorf("attribute access at %s is not supported", e.Range())
		}
		return nil
	case *hclsyntax.FunctionCallExpr:
		return fmt.Errorf("function call %s() at %s is not supported", e.Name, e.Range())
	case *hclsyntax.ConditionalExpr, *hclsyntax.TemplateJoinExpr, *hclsyntax.ForExpr:
		return fmt.Errorf("template directive at %s is not supported", expr.Range())
	default:
		return fmt.Errorf("expression at %s is not a plain placeholder", expr.Range())
	}
}
