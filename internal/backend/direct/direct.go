// Package direct implements the Direct backend: literal, optionally
// range-expanded host expressions joined by boolean operators, with no
// external I/O and no globbing. Registered under the "D" prefix.
package direct

import (
	"github.com/jross/cumin-go/internal/aggregator"
	"github.com/jross/cumin-go/internal/backend"
	"github.com/jross/cumin-go/internal/hostset"
)

const Prefix = 'D'
const Name = "direct"

// Backend is the Direct query backend. It holds no state between calls.
type Backend struct{}

// New constructs a Direct backend. It ignores cfg: this backend has no
// configuration surface.
func New(cfg backend.Config) (backend.Backend, error) {
	return &Backend{}, nil
}

// Register adds the Direct backend to reg under its reserved prefix.
func Register(reg *backend.Registry) error {
	return reg.Register(Prefix, Name, New)
}

// Execute parses query as a boolean expression over compact host
// expressions (e.g. "host[1-5,8].d") and evaluates it.
func (b *Backend) Execute(query string) (*hostset.HostSet, error) {
	tree, err := aggregator.ParseBoolExpr(Name, query, leafHosts)
	if err != nil {
		return nil, err
	}
	return tree.Evaluate()
}

func leafHosts(token string) (*hostset.HostSet, error) {
	hosts, err := hostset.Expand(token)
	if err != nil {
		return nil, err
	}
	return hostset.New(hosts...), nil
}
