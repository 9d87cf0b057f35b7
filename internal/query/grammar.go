package query

import (
	"fmt"
	"strings"

	"github.com/jross/cumin-go/internal/aggregator"
)

type token struct{ text string }

// tokenizeGrammar splits a top-level query into "(" / ")" tokens, bare
// words (booleans and A:alias references), and whole PREFIX{...} blocks
// kept as a single token even though their body may contain whitespace.
// Inside a block, only an unquoted "}" closes it; quoted text may contain
// "}" freely, with "\" escaping the next character.
func tokenizeGrammar(input string) ([]token, error) {
	var toks []token
	i, n := 0, len(input)
	for i < n {
		c := input[i]
		if isSpace(c) {
			i++
			continue
		}
		if c == '(' || c == ')' {
			toks = append(toks, token{text: string(c)})
			i++
			continue
		}
		start := i
		for i < n && input[i] != '{' && !isSpace(input[i]) && input[i] != '(' && input[i] != ')' {
			i++
		}
		if i < n && input[i] == '{' {
			depth := 0
			inQuote := false
			for i < n {
				ch := input[i]
				if inQuote {
					if ch == '\\' && i+1 < n {
						i += 2
						continue
					}
					if ch == '"' {
						inQuote = false
					}
					i++
					continue
				}
				switch ch {
				case '"':
					inQuote = true
					i++
				case '{':
					depth++
					i++
				case '}':
					depth--
					i++
					if depth == 0 {
						goto closed
					}
				default:
					i++
				}
			}
		closed:
			if depth != 0 || inQuote {
				return nil, fmt.Errorf("unbalanced braces or quotes starting at %q", input[start:])
			}
		}
		toks = append(toks, token{text: input[start:i]})
	}
	return toks, nil
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func parseOp(tokens []token, pos int) (aggregator.Op, int, bool) {
	if pos >= len(tokens) {
		return aggregator.OpNone, pos, false
	}
	switch tokens[pos].text {
	case "or":
		return aggregator.OpOr, pos + 1, true
	case "xor":
		return aggregator.OpXor, pos + 1, true
	case "and":
		if pos+1 < len(tokens) && tokens[pos+1].text == "not" {
			return aggregator.OpAndNot, pos + 2, true
		}
		return aggregator.OpAnd, pos + 1, true
	default:
		return aggregator.OpNone, pos, false
	}
}

// parseItem parses one grammar item: a parenthesized group, an A:alias
// reference (expanded recursively under cycle detection), or a PREFIX{...}
// backend block resolved immediately into a leaf host set.
func (e *Engine) parseItem(tree *aggregator.Tree, tokens []token, pos int, parent int, op aggregator.Op, visiting map[string]bool) (int, int, error) {
	if pos >= len(tokens) {
		return 0, pos, fmt.Errorf("unexpected end of query")
	}
	tok := tokens[pos].text

	if tok == "(" {
		idx, pos2, err := e.parseExpr(tree, tokens, pos+1, parent, op, visiting)
		if err != nil {
			return 0, pos, err
		}
		if pos2 >= len(tokens) || tokens[pos2].text != ")" {
			return 0, pos, fmt.Errorf("unbalanced parentheses")
		}
		return idx, pos2 + 1, nil
	}
	if tok == ")" {
		return 0, pos, fmt.Errorf("unexpected ')'")
	}

	if strings.HasPrefix(tok, "A:") {
		name := tok[2:]
		if name == "" {
			return 0, pos, fmt.Errorf("empty alias name")
		}
		if visiting[name] {
			return 0, pos, fmt.Errorf("alias cycle detected at %q", name)
		}
		body, ok := e.aliases[name]
		if !ok {
			return 0, pos, fmt.Errorf("unknown alias %q", name)
		}
		subToks, err := tokenizeGrammar(body)
		if err != nil {
			return 0, pos, fmt.Errorf("alias %q: %v", name, err)
		}
		visiting[name] = true
		idx, subPos, err := e.parseExpr(tree, subToks, 0, parent, op, visiting)
		delete(visiting, name)
		if err != nil {
			return 0, pos, fmt.Errorf("alias %q: %v", name, err)
		}
		if subPos != len(subToks) {
			return 0, pos, fmt.Errorf("alias %q: unexpected trailing token %q", name, subToks[subPos].text)
		}
		return idx, pos + 1, nil
	}

	if len(tok) < 3 || tok[1] != '{' || tok[len(tok)-1] != '}' {
		return 0, pos, fmt.Errorf("expected a backend query or alias, found %q", tok)
	}
	prefix := tok[0]
	body := tok[2 : len(tok)-1]
	b, ok := e.backends[prefix]
	if !ok {
		return 0, pos, fmt.Errorf("no backend registered for prefix %q", string(prefix))
	}
	hosts, err := b.Execute(body)
	if err != nil {
		return 0, pos, err
	}
	idx := tree.NewLeaf(parent, op, hosts)
	return idx, pos + 1, nil
}

func (e *Engine) parseExpr(tree *aggregator.Tree, tokens []token, pos int, parent int, op aggregator.Op, visiting map[string]bool) (int, int, error) {
	groupIdx := tree.NewInterior(parent, op)
	_, pos, err := e.parseItem(tree, tokens, pos, groupIdx, aggregator.OpNone, visiting)
	if err != nil {
		return 0, pos, err
	}
	for pos < len(tokens) && tokens[pos].text != ")" {
		childOp, pos2, ok := parseOp(tokens, pos)
		if !ok {
			return 0, pos, fmt.Errorf("expected boolean operator, found %q", tokens[pos].text)
		}
		pos = pos2
		_, pos3, err := e.parseItem(tree, tokens, pos, groupIdx, childOp, visiting)
		if err != nil {
			return 0, pos, err
		}
		pos = pos3
	}
	return groupIdx, pos, nil
}
