package puppetdb

import (
	"fmt"

	"github.com/jross/cumin-go/internal/hostset"
	"github.com/jross/cumin-go/internal/runerrors"
)

// tokenize splits a facts/resources query into words, quoted strings (kept
// as one token, quotes stripped), and standalone "(" / ")" tokens.
func tokenize(input string) []string {
	var toks []string
	i, n := 0, len(input)
	for i < n {
		c := input[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(' || c == ')':
			toks = append(toks, string(c))
			i++
		case c == '"':
			j := i + 1
			for j < n && input[j] != '"' {
				j++
			}
			toks = append(toks, input[i+1:minInt(j, n)])
			i = j + 1
		default:
			j := i
			for j < n {
				cj := input[j]
				if cj == ' ' || cj == '\t' || cj == '\n' || cj == '\r' || cj == '(' || cj == ')' {
					break
				}
				j++
			}
			toks = append(toks, input[i:j])
			i = j
		}
	}
	return toks
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// parser walks a tokenized facts/resources query, building the nested-array
// query structure and tracking the single endpoint the whole query targets.
type parser struct {
	toks     []string
	pos      int
	endpoint endpoint
	hasEnd   bool
}

func (p *parser) peek() (string, bool) {
	if p.pos >= len(p.toks) {
		return "", false
	}
	return p.toks[p.pos], true
}

func (p *parser) setEndpoint(e endpoint) error {
	if p.hasEnd && p.endpoint != e {
		return fmt.Errorf("mixed endpoints are not supported: %q and %q", p.endpoint, e)
	}
	p.endpoint = e
	p.hasEnd = true
	return nil
}

// parseGroup parses item (bool item)* until ")" or end of tokens, enforcing
// a single boolean operator per group.
func (p *parser) parseGroup() (interface{}, error) {
	first, err := p.parseItem()
	if err != nil {
		return nil, err
	}
	items := []interface{}{first}
	var op string

	for {
		tok, ok := p.peek()
		if !ok || tok == ")" {
			break
		}
		if tok != "and" && tok != "or" {
			return nil, fmt.Errorf("expected boolean operator, found %q", tok)
		}
		if op != "" && op != tok {
			return nil, fmt.Errorf("invalid boolean operator, current operator was %q, got %q", op, tok)
		}
		op = tok
		p.pos++
		item, err := p.parseItem()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	if len(items) == 1 {
		return items[0], nil
	}
	arr := []interface{}{op}
	arr = append(arr, items...)
	return arr, nil
}

func (p *parser) parseItem() (interface{}, error) {
	tok, ok := p.peek()
	if !ok {
		return nil, fmt.Errorf("unexpected end of query")
	}
	if tok == "not" {
		p.pos++
		inner, err := p.parseItem()
		if err != nil {
			return nil, err
		}
		return []interface{}{"not", inner}, nil
	}
	if tok == "(" {
		p.pos++
		inner, err := p.parseGroup()
		if err != nil {
			return nil, err
		}
		closing, ok := p.peek()
		if !ok || closing != ")" {
			return nil, fmt.Errorf("unbalanced parentheses")
		}
		p.pos++
		return inner, nil
	}

	if cc, isCategory := parseCategoryToken(tok); isCategory {
		p.pos++
		// Category clauses needing a separate operator/value (no '=' etc
		// embedded) pull the next two tokens when present.
		if !cc.hasValue {
			if nextOp, ok := p.peek(); ok && isOperatorToken(nextOp) {
				p.pos++
				val, ok := p.peek()
				if !ok {
					return nil, fmt.Errorf("expected value after operator %q", nextOp)
				}
				p.pos++
				cc.op = nextOp
				cc.value = val
				cc.hasValue = true
			}
		}
		query, ep, err := cc.toQuery()
		if err != nil {
			return nil, err
		}
		if err := p.setEndpoint(ep); err != nil {
			return nil, err
		}
		return query, nil
	}

	// Otherwise this is a host expression leaf.
	p.pos++
	query, err := hostClauseQuery(tok)
	if err != nil {
		return nil, err
	}
	if err := p.setEndpoint(endpointNodes); err != nil {
		return nil, err
	}
	return query, nil
}

func isOperatorToken(tok string) bool {
	switch tok {
	case "=", "~", ">=", "<=", ">", "<":
		return true
	default:
		return false
	}
}

// hostClauseQuery renders a host expression (possibly range-expanded or
// glob-bearing) into an "or" of certname clauses, per §4.5.
func hostClauseQuery(expr string) (interface{}, error) {
	if hostGlobRE.MatchString(expr) {
		return []interface{}{"or", []interface{}{"~", "certname", globToRegex(expr)}}, nil
	}
	names, err := hostset.Expand(expr)
	if err != nil {
		return nil, &runerrors.InvalidQueryError{Backend: Name, Query: expr, Reason: err.Error()}
	}
	arr := []interface{}{"or"}
	for _, n := range names {
		arr = append(arr, []interface{}{"=", "certname", n})
	}
	return arr, nil
}

// parse parses the full query string, returning the built nested-array
// structure and the single endpoint it targets.
func parse(query string) (interface{}, endpoint, error) {
	toks := tokenize(query)
	if len(toks) == 0 {
		return nil, "", &runerrors.InvalidQueryError{Backend: Name, Query: query, Reason: "empty query"}
	}
	p := &parser{toks: toks}
	node, err := p.parseGroup()
	if err != nil {
		return nil, "", &runerrors.InvalidQueryError{Backend: Name, Query: query, Reason: err.Error()}
	}
	if p.pos != len(p.toks) {
		return nil, "", &runerrors.InvalidQueryError{Backend: Name, Query: query, Reason: fmt.Sprintf("unexpected trailing token %q", p.toks[p.pos])}
	}
	return node, p.endpoint, nil
}
