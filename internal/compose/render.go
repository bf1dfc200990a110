// SPDX-License-Identifier: MPL-2.0

package compose

import (
	"fmt"
	"sort"
	"strings"

	"rtpi-cli/internal/issue"
	"rtpi-cli/pkg/types"

	"mvdan.cc/sh/v3/syntax"
)

type (
	// Result is a rendered manifest.
	Result struct {
		Output []byte
		// Warnings lists placeholders left in the output because neither a
		// variable nor an inline default supplied a value.
		Warnings []Warning
		// Used lists the variables that were substituted, sorted.
		Used []string
	}

	// Warning is an unresolved placeholder.
	Warning struct {
		Name        string
		Line        int
		Column      int
		Placeholder string
	}

	// PlaceholderError is a malformed placeholder.
	PlaceholderError struct {
		Line   int
		Column int
		Text   string
		Reason string
	}

	// TemplateError collects every malformed placeholder of a template. It
	// matches issue.ErrConfig.
	TemplateError struct {
		Path   string
		Errors []PlaceholderError
	}

	placeholder struct {
		name       string
		op         syntax.ParExpOperator
		hasDefault bool
		def        string
		defOffset  int
	}

	renderer struct {
		src        string
		lineStarts []int
		vars       map[string]string
		out        strings.Builder
		warnings   []Warning
		errs       []PlaceholderError
		used       map[string]bool
	}
)

// Render substitutes ${NAME}, ${NAME:-default} and ${NAME-default} in tmpl.
// ":-" uses the default when NAME is unset or empty, "-" only when unset.
// "$$" is an escape and is left untouched, as is a bare "$NAME", so the
// output stays valid input for the container engine's own interpolation.
// Placeholders without a value are kept verbatim and reported as warnings.
// Rendering is pure: identical inputs give byte-identical output.
func Render(tmpl []byte, vars map[string]string) (*Result, error) {
	r := &renderer{
		src:  string(tmpl),
		vars: vars,
		used: make(map[string]bool),
	}
	r.lineStarts = lineStarts(r.src)
	r.render(r.src, 0)

	if len(r.errs) > 0 {
		return nil, &TemplateError{Errors: r.errs}
	}

	used := make([]string, 0, len(r.used))
	for name := range r.used {
		used = append(used, name)
	}
	sort.Strings(used)

	return &Result{Output: []byte(r.out.String()), Warnings: r.warnings, Used: used}, nil
}

// render writes s to the output. base is the offset of s within the
// template, used for positions.
func (r *renderer) render(s string, base int) {
	for i := 0; i < len(s); {
		c := s[i]
		if c != '$' {
			r.out.WriteByte(c)
			i++
			continue
		}
		if i+1 < len(s) && s[i+1] == '$' {
			r.out.WriteString("$$")
			i += 2
			continue
		}
		if i+1 >= len(s) || s[i+1] != '{' {
			r.out.WriteByte('$')
			i++
			continue
		}

		end := closingBrace(s, i+2)
		if end < 0 {
			r.fail(base+i, excerpt(s[i:]), "unterminated placeholder")
			r.out.WriteString(s[i:])
			return
		}
		expr := s[i : end+1]
		ph, err := parsePlaceholder(expr)
		if err != nil {
			r.fail(base+i, expr, err.Error())
			r.out.WriteString(expr)
			i = end + 1
			continue
		}
		r.substitute(ph, expr, base+i)
		i = end + 1
	}
}

func (r *renderer) substitute(ph placeholder, expr string, offset int) {
	value, set := r.vars[ph.name]
	switch {
	case set && (value != "" || !ph.hasDefault || ph.op == syntax.DefaultUnset):
		r.used[ph.name] = true
		r.out.WriteString(value)
	case ph.hasDefault:
		r.render(ph.def, offset+ph.defOffset)
	default:
		line, col := r.position(offset)
		r.warnings = append(r.warnings, Warning{Name: ph.name, Line: line, Column: col, Placeholder: expr})
		r.out.WriteString(expr)
	}
}

func (r *renderer) fail(offset int, text, reason string) {
	line, col := r.position(offset)
	r.errs = append(r.errs, PlaceholderError{Line: line, Column: col, Text: text, Reason: reason})
}

// position converts a byte offset into a 1-based line and column.
func (r *renderer) position(offset int) (line, col int) {
	idx := sort.SearchInts(r.lineStarts, offset+1) - 1
	return idx + 1, offset - r.lineStarts[idx] + 1
}

// parsePlaceholder parses a complete "${...}" expression with the shell
// parameter-expansion grammar and accepts only plain references and the
// two default forms.
func parsePlaceholder(expr string) (placeholder, error) {
	word, err := syntax.NewParser().Document(strings.NewReader(expr))
	if err != nil {
		return placeholder{}, fmt.Errorf("invalid placeholder syntax: %w", err)
	}
	if word == nil || len(word.Parts) != 1 {
		return placeholder{}, fmt.Errorf("invalid placeholder syntax")
	}
	pe, ok := word.Parts[0].(*syntax.ParamExp)
	if !ok || pe.Short || pe.Param == nil {
		return placeholder{}, fmt.Errorf("invalid placeholder syntax")
	}
	if pe.Excl || pe.Length || pe.Width || pe.Index != nil || pe.Slice != nil || pe.Repl != nil || pe.Names != 0 {
		return placeholder{}, fmt.Errorf("unsupported expansion; only ${NAME}, ${NAME:-default} and ${NAME-default} are allowed")
	}
	name := pe.Param.Value
	if !types.IsVariableName(name) {
		return placeholder{}, fmt.Errorf("invalid variable name %q", name)
	}

	ph := placeholder{name: name}
	if pe.Exp == nil {
		return ph, nil
	}
	switch pe.Exp.Op {
	case syntax.DefaultUnsetOrNull, syntax.DefaultUnset:
		ph.op = pe.Exp.Op
		ph.hasDefault = true
		if w := pe.Exp.Word; w != nil && len(w.Parts) > 0 {
			start, end := int(w.Pos().Offset()), int(w.End().Offset())
			ph.def = expr[start:end]
			ph.defOffset = start
		}
		return ph, nil
	default:
		return placeholder{}, fmt.Errorf("unsupported operator %q; only :- and - are allowed", pe.Exp.Op.String())
	}
}

// closingBrace returns the index of the '}' closing a placeholder whose
// body starts at from, honouring nested "${", or -1. Placeholders do not
// span lines.
func closingBrace(s string, from int) int {
	depth := 1
	for i := from; i < len(s); i++ {
		switch s[i] {
		case '\n':
			return -1
		case '$':
			if i+1 < len(s) && s[i+1] == '{' {
				depth++
				i++
			}
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func lineStarts(s string) []int {
	starts := []int{0}
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

func excerpt(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 40 {
		s = s[:40] + "..."
	}
	return s
}

// String formats the warning for logs.
func (w Warning) String() string {
	return fmt.Sprintf("line %d:%d: unresolved placeholder %s", w.Line, w.Column, w.Placeholder)
}

// Error implements the error interface.
func (e PlaceholderError) Error() string {
	return fmt.Sprintf("line %d:%d: %s: %s", e.Line, e.Column, e.Reason, e.Text)
}

// Error implements the error interface.
func (e *TemplateError) Error() string {
	prefix := "template"
	if e.Path != "" {
		prefix = e.Path
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("%s: malformed placeholder at %s", prefix, e.Errors[0].Error())
	}
	return fmt.Sprintf("%s: %d malformed placeholders, first at %s", prefix, len(e.Errors), e.Errors[0].Error())
}

// Is reports issue.ErrConfig: a malformed template is an input problem.
func (e *TemplateError) Is(target error) bool { return target == issue.ErrConfig }
