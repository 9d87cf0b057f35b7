// Package query implements the top-level grammar (§4.7): PREFIX{...}
// backend blocks and A:alias references joined by the same boolean
// operators the aggregator package evaluates, with default-backend-first
// parsing and alias cycle detection.
package query

import (
	"errors"
	"fmt"

	"github.com/jross/cumin-go/internal/aggregator"
	"github.com/jross/cumin-go/internal/backend"
	"github.com/jross/cumin-go/internal/hostset"
	"github.com/jross/cumin-go/internal/runerrors"
)

// Engine resolves a query string into a HostSet using a set of constructed
// backends, an optional default backend, and a table of named aliases.
type Engine struct {
	backends      map[byte]backend.Backend
	defaultPrefix byte // 0 means "no default backend configured"
	aliases       map[string]string
}

// NewEngine builds an Engine. defaultPrefix of 0 disables the
// default-backend-first parse attempt described in §4.7.
func NewEngine(backends map[byte]backend.Backend, defaultPrefix byte, aliases map[string]string) *Engine {
	if aliases == nil {
		aliases = map[string]string{}
	}
	return &Engine{backends: backends, defaultPrefix: defaultPrefix, aliases: aliases}
}

// Resolve parses query per §4.7. If a default backend is configured, the
// full query is first tried against it alone; only on failure does parsing
// fall back to the top-level grammar. If both fail, the returned error
// reports both messages.
func (e *Engine) Resolve(query string) (*hostset.HostSet, error) {
	var defaultErr error
	if e.defaultPrefix != 0 {
		if b, ok := e.backends[e.defaultPrefix]; ok {
			hs, err := b.Execute(query)
			if err == nil {
				return hs, nil
			}
			defaultErr = err
		}
	}

	hs, grammarErr := e.parseGrammar(query)
	if grammarErr == nil {
		return hs, nil
	}
	if defaultErr != nil {
		return nil, &runerrors.InvalidQueryError{
			Query:  query,
			Reason: fmt.Sprintf("default backend: %v; grammar: %v", defaultErr, grammarErr),
		}
	}
	return nil, grammarErr
}

func (e *Engine) parseGrammar(query string) (*hostset.HostSet, error) {
	toks, err := tokenizeGrammar(query)
	if err != nil {
		return nil, &runerrors.InvalidQueryError{Query: query, Reason: err.Error()}
	}
	if len(toks) == 0 {
		return nil, &runerrors.InvalidQueryError{Query: query, Reason: "empty query"}
	}

	tree := aggregator.NewTree()
	idx, pos, err := e.parseExpr(tree, toks, 0, -1, aggregator.OpNone, map[string]bool{})
	if err != nil {
		var invalidQuery *runerrors.InvalidQueryError
		var backendErr *runerrors.BackendError
		if errors.As(err, &invalidQuery) || errors.As(err, &backendErr) {
			return nil, err
		}
		return nil, &runerrors.InvalidQueryError{Query: query, Reason: err.Error()}
	}
	if pos != len(toks) {
		return nil, &runerrors.InvalidQueryError{Query: query, Reason: fmt.Sprintf("unexpected trailing token %q", toks[pos].text)}
	}
	tree.Root = idx
	return tree.Evaluate()
}
