// ABOUTME: Prompt template processor: {{var}} substitution, {{#if expr}} blocks, {{#each list}} loops.
// ABOUTME: Paths support dots and indexes (a.b[0].c); #if expressions are evaluated with expr-lang.
package template

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// MissingError reports template variables that resolved to nothing.
type MissingError struct {
	Keys []string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("missing template variables: %s", strings.Join(e.Keys, ", "))
}

// Processor renders templates against a variable map. Strict mode
// (the default) returns a MissingError when any substitution finds no
// value; the rendered text is still returned with blanks in place.
type Processor struct {
	Strict bool

	mu    sync.Mutex
	cache map[string]*vm.Program
}

// New returns a strict processor.
func New() *Processor {
	return &Processor{Strict: true, cache: make(map[string]*vm.Program)}
}

// Render substitutes vars into tpl.
func (p *Processor) Render(tpl string, vars map[string]any) (string, error) {
	nodes, err := parse(tpl)
	if err != nil {
		return "", err
	}
	r := &renderer{proc: p, missing: make(map[string]bool)}
	var sb strings.Builder
	if err := r.render(&sb, nodes, []map[string]any{vars}); err != nil {
		return "", err
	}
	out := sb.String()
	if p.Strict && len(r.missing) > 0 {
		keys := make([]string, 0, len(r.missing))
		for k := range r.missing {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return out, &MissingError{Keys: keys}
	}
	return out, nil
}

func (p *Processor) compile(expression string) (*vm.Program, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if prog, ok := p.cache[expression]; ok {
		return prog, nil
	}
	prog, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile template expression %q: %w", expression, err)
	}
	p.cache[expression] = prog
	return prog, nil
}

// node kinds

type node interface{}

type textNode struct{ text string }

type varNode struct{ path string }

type ifNode struct {
	expression string
	then       []node
	els        []node
}

type eachNode struct {
	path string
	body []node
}

// parsing

type token struct {
	text  string // literal text when tag is empty
	tag   string // trimmed tag content between {{ and }}
	isTag bool
}

func lex(tpl string) ([]token, error) {
	var tokens []token
	for len(tpl) > 0 {
		open := strings.Index(tpl, "{{")
		if open < 0 {
			tokens = append(tokens, token{text: tpl})
			break
		}
		if open > 0 {
			tokens = append(tokens, token{text: tpl[:open]})
		}
		rest := tpl[open+2:]
		close := strings.Index(rest, "}}")
		if close < 0 {
			return nil, fmt.Errorf("unclosed {{ at offset %d", open)
		}
		tokens = append(tokens, token{tag: strings.TrimSpace(rest[:close]), isTag: true})
		tpl = rest[close+2:]
	}
	return tokens, nil
}

type parser struct {
	tokens []token
	pos    int
}

func parse(tpl string) ([]node, error) {
	tokens, err := lex(tpl)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	nodes, err := p.block("")
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.tokens) {
		return nil, fmt.Errorf("unexpected {{%s}}", p.tokens[p.pos].tag)
	}
	return nodes, nil
}

// block parses until the closer for the given open construct ("if",
// "each", or "" for top level). It stops before else/closer tokens so
// the caller can consume them.
func (p *parser) block(open string) ([]node, error) {
	var nodes []node
	for p.pos < len(p.tokens) {
		tok := p.tokens[p.pos]
		if !tok.isTag {
			p.pos++
			nodes = append(nodes, textNode{text: tok.text})
			continue
		}
		switch {
		case strings.HasPrefix(tok.tag, "#if "):
			p.pos++
			n, err := p.ifBlock(strings.TrimSpace(tok.tag[len("#if "):]))
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, n)
		case strings.HasPrefix(tok.tag, "#each "):
			p.pos++
			body, err := p.block("each")
			if err != nil {
				return nil, err
			}
			if err := p.expectClose("each"); err != nil {
				return nil, err
			}
			nodes = append(nodes, eachNode{path: strings.TrimSpace(tok.tag[len("#each "):]), body: body})
		case tok.tag == "else" || tok.tag == "/if" || tok.tag == "/each":
			if open == "" {
				return nil, fmt.Errorf("unexpected {{%s}}", tok.tag)
			}
			return nodes, nil
		case tok.tag == "":
			return nil, fmt.Errorf("empty template tag")
		default:
			p.pos++
			nodes = append(nodes, varNode{path: tok.tag})
		}
	}
	if open != "" {
		return nil, fmt.Errorf("unclosed {{#%s}}", open)
	}
	return nodes, nil
}

func (p *parser) ifBlock(expression string) (node, error) {
	then, err := p.block("if")
	if err != nil {
		return nil, err
	}
	n := ifNode{expression: expression, then: then}
	if p.pos < len(p.tokens) && p.tokens[p.pos].isTag && p.tokens[p.pos].tag == "else" {
		p.pos++
		els, err := p.block("if")
		if err != nil {
			return nil, err
		}
		n.els = els
	}
	if err := p.expectClose("if"); err != nil {
		return nil, err
	}
	return n, nil
}

func (p *parser) expectClose(name string) error {
	if p.pos >= len(p.tokens) || !p.tokens[p.pos].isTag || p.tokens[p.pos].tag != "/"+name {
		return fmt.Errorf("unclosed {{#%s}}", name)
	}
	p.pos++
	return nil
}

// rendering

type renderer struct {
	proc    *Processor
	missing map[string]bool
}

func (r *renderer) render(sb *strings.Builder, nodes []node, scopes []map[string]any) error {
	for _, n := range nodes {
		switch n := n.(type) {
		case textNode:
			sb.WriteString(n.text)
		case varNode:
			val, ok := lookupPath(n.path, scopes)
			if !ok {
				r.missing[n.path] = true
				continue
			}
			sb.WriteString(stringify(val))
		case ifNode:
			ok, err := r.evalIf(n.expression, scopes)
			if err != nil {
				return err
			}
			branch := n.then
			if !ok {
				branch = n.els
			}
			if err := r.render(sb, branch, scopes); err != nil {
				return err
			}
		case eachNode:
			val, ok := lookupPath(n.path, scopes)
			if !ok {
				r.missing[n.path] = true
				continue
			}
			items, err := asList(val)
			if err != nil {
				return fmt.Errorf("#each %s: %w", n.path, err)
			}
			for i, item := range items {
				frame := map[string]any{"this": item, "@index": i}
				if m, ok := item.(map[string]any); ok {
					for k, v := range m {
						frame[k] = v
					}
				}
				if err := r.render(sb, n.body, append([]map[string]any{frame}, scopes...)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (r *renderer) evalIf(expression string, scopes []map[string]any) (bool, error) {
	prog, err := r.proc.compile(expression)
	if err != nil {
		return false, err
	}
	env := make(map[string]any)
	for i := len(scopes) - 1; i >= 0; i-- {
		for k, v := range scopes[i] {
			env[k] = v
		}
	}
	out, err := expr.Run(prog, env)
	if err != nil {
		return false, fmt.Errorf("evaluate template expression %q: %w", expression, err)
	}
	return truthy(out), nil
}

func truthy(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	}
	return true
}

// lookupPath resolves a dotted/indexed path ("a.b[0].c") against the
// scope chain, innermost first.
func lookupPath(path string, scopes []map[string]any) (any, bool) {
	segments, err := splitPath(path)
	if err != nil || len(segments) == 0 {
		return nil, false
	}
	for _, scope := range scopes {
		if val, ok := walk(scope, segments); ok {
			return val, true
		}
	}
	return nil, false
}

type segment struct {
	key   string
	index int
	isIdx bool
}

func splitPath(path string) ([]segment, error) {
	var segments []segment
	for _, part := range strings.Split(path, ".") {
		for {
			bracket := strings.IndexByte(part, '[')
			if bracket < 0 {
				if part != "" {
					segments = append(segments, segment{key: part})
				}
				break
			}
			if bracket > 0 {
				segments = append(segments, segment{key: part[:bracket]})
			}
			end := strings.IndexByte(part[bracket:], ']')
			if end < 0 {
				return nil, fmt.Errorf("unclosed index in path %q", path)
			}
			idx, err := strconv.Atoi(part[bracket+1 : bracket+end])
			if err != nil {
				return nil, fmt.Errorf("bad index in path %q", path)
			}
			segments = append(segments, segment{index: idx, isIdx: true})
			part = part[bracket+end+1:]
		}
	}
	return segments, nil
}

func walk(root any, segments []segment) (any, bool) {
	cur := root
	for _, seg := range segments {
		if seg.isIdx {
			list, ok := cur.([]any)
			if !ok || seg.index < 0 || seg.index >= len(list) {
				return nil, false
			}
			cur = list[seg.index]
			continue
		}
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg.key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func asList(v any) ([]any, error) {
	switch v := v.(type) {
	case []any:
		return v, nil
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, nil
	case []map[string]any:
		out := make([]any, len(v))
		for i, m := range v {
			out[i] = m
		}
		return out, nil
	case nil:
		return nil, nil
	}
	return nil, fmt.Errorf("value of type %T is not a list", v)
}

func stringify(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case nil:
		return ""
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	}
	return fmt.Sprintf("%v", v)
}
