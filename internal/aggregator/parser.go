package aggregator

import (
	"fmt"

	"github.com/jross/cumin-go/internal/hostset"
	"github.com/jross/cumin-go/internal/runerrors"
)

// LeafFn resolves a single leaf token (a compact host expression, a glob,
// or a backend-specific atom) into a HostSet.
type LeafFn func(token string) (*hostset.HostSet, error)

type token struct{ text string }

// tokenize splits a boolean host expression into words plus standalone
// "(" / ")" tokens, regardless of surrounding whitespace. Leaf tokens (host
// expressions) never themselves contain parentheses or whitespace.
func tokenize(input string) []token {
	var toks []token
	i, n := 0, len(input)
	for i < n {
		c := input[i]
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			i++
			continue
		}
		if c == '(' || c == ')' {
			toks = append(toks, token{text: string(c)})
			i++
			continue
		}
		j := i
		for j < n {
			cj := input[j]
			if cj == ' ' || cj == '\t' || cj == '\n' || cj == '\r' || cj == '(' || cj == ')' {
				break
			}
			j++
		}
		toks = append(toks, token{text: input[i:j]})
		i = j
	}
	return toks
}

func parseOp(tokens []token, pos int) (Op, int, bool) {
	if pos >= len(tokens) {
		return OpNone, pos, false
	}
	switch tokens[pos].text {
	case "or":
		return OpOr, pos + 1, true
	case "xor":
		return OpXor, pos + 1, true
	case "and":
		if pos+1 < len(tokens) && tokens[pos+1].text == "not" {
			return OpAndNot, pos + 2, true
		}
		return OpAnd, pos + 1, true
	default:
		return OpNone, pos, false
	}
}

func parseItem(tree *Tree, tokens []token, pos int, parent int, op Op, leafFn LeafFn) (int, int, error) {
	if pos >= len(tokens) {
		return 0, pos, fmt.Errorf("unexpected end of expression")
	}
	if tokens[pos].text == "(" {
		idx, pos2, err := parseExpr(tree, tokens, pos+1, parent, op, leafFn)
		if err != nil {
			return 0, pos, err
		}
		if pos2 >= len(tokens) || tokens[pos2].text != ")" {
			return 0, pos, fmt.Errorf("unbalanced parentheses")
		}
		return idx, pos2 + 1, nil
	}
	if tokens[pos].text == ")" {
		return 0, pos, fmt.Errorf("unexpected ')'")
	}
	hosts, err := leafFn(tokens[pos].text)
	if err != nil {
		return 0, pos, err
	}
	idx := tree.NewLeaf(parent, op, hosts)
	return idx, pos + 1, nil
}

func parseExpr(tree *Tree, tokens []token, pos int, parent int, op Op, leafFn LeafFn) (int, int, error) {
	groupIdx := tree.NewInterior(parent, op)
	_, pos, err := parseItem(tree, tokens, pos, groupIdx, OpNone, leafFn)
	if err != nil {
		return 0, pos, err
	}
	for pos < len(tokens) && tokens[pos].text != ")" {
		childOp, pos2, ok := parseOp(tokens, pos)
		if !ok {
			return 0, pos, fmt.Errorf("expected boolean operator, found %q", tokens[pos].text)
		}
		pos = pos2
		_, pos3, err := parseItem(tree, tokens, pos, groupIdx, childOp, leafFn)
		if err != nil {
			return 0, pos, err
		}
		pos = pos3
	}
	return groupIdx, pos, nil
}

// ParseBoolExpr parses a boolean host expression — leaves joined by
// "or"/"and"/"and not"/"xor" and grouped with parentheses — into a Tree,
// delegating each leaf token to leafFn. Returns an error wrapped for the
// named backend on any parse failure.
func ParseBoolExpr(backend, input string, leafFn LeafFn) (*Tree, error) {
	tokens := tokenize(input)
	if len(tokens) == 0 {
		return nil, &runerrors.InvalidQueryError{Backend: backend, Query: input, Reason: "empty query"}
	}
	tree := NewTree()
	idx, pos, err := parseExpr(tree, tokens, 0, -1, OpNone, leafFn)
	if err != nil {
		return nil, &runerrors.InvalidQueryError{Backend: backend, Query: input, Reason: err.Error()}
	}
	if pos != len(tokens) {
		return nil, &runerrors.InvalidQueryError{Backend: backend, Query: input, Reason: fmt.Sprintf("unexpected trailing token %q", tokens[pos].text)}
	}
	tree.Root = idx
	return tree, nil
}
