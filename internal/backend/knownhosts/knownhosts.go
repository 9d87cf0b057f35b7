// Package knownhosts implements the Known-hosts backend: it parses one or
// more SSH known_hosts files into a host-name universe on first query, then
// resolves queries (Direct grammar plus "*"/"?" globs) against that
// universe, intersecting the final result so wildcards cannot invent hosts.
// Registered under the "K" prefix.
package knownhosts

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/mitchellh/mapstructure"

	"github.com/jross/cumin-go/internal/aggregator"
	"github.com/jross/cumin-go/internal/backend"
	"github.com/jross/cumin-go/internal/hostset"
	"github.com/jross/cumin-go/internal/runerrors"
)

const Prefix = 'K'
const Name = "knownhosts"

// Config is the knownhosts backend's configuration subsection.
type Config struct {
	Files []string `mapstructure:"files"`
}

// SkippedLineError marks a line that is intentionally ignored: blank,
// comment, hashed, or an explicitly revoked marker line.
type SkippedLineError struct{ Kind string }

func (e *SkippedLineError) Error() string { return "skipped line: " + e.Kind }

// DiscardedLineError marks a line that could not be parsed at all: too few
// fields, or an unrecognized marker.
type DiscardedLineError struct{ Kind string }

func (e *DiscardedLineError) Error() string { return "discarded line: " + e.Kind }

// Backend is the Known-hosts query backend.
type Backend struct {
	cfg Config

	mu       sync.Mutex
	loaded   bool
	universe *hostset.HostSet
}

// New constructs a Known-hosts backend from its config subsection.
func New(cfg backend.Config) (backend.Backend, error) {
	var c Config
	if err := mapstructure.Decode(map[string]interface{}(cfg), &c); err != nil {
		return nil, &runerrors.InvalidQueryError{Backend: Name, Reason: fmt.Sprintf("bad config: %v", err)}
	}
	return &Backend{cfg: c}, nil
}

// Register adds the Known-hosts backend to reg under its reserved prefix.
func Register(reg *backend.Registry) error {
	return reg.Register(Prefix, Name, New)
}

func (b *Backend) ensureLoaded() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.loaded {
		return nil
	}
	universe := hostset.New()
	for _, filename := range b.cfg.Files {
		hosts, err := loadFile(filename)
		if err != nil {
			return &runerrors.BackendError{Backend: Name, Reason: "failed to load known_hosts file " + filename, Cause: err}
		}
		for _, h := range hosts {
			universe.Add(h)
		}
	}
	b.universe = universe
	b.loaded = true
	return nil
}

func loadFile(filename string) ([]string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var hosts []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		kept, _, err := ParseKnownHostsLine(scanner.Text())
		if err != nil {
			// Both SkippedLineError and DiscardedLineError are expected,
			// non-fatal outcomes of parsing a single line; neither aborts
			// the load.
			continue
		}
		hosts = append(hosts, kept...)
	}
	return hosts, scanner.Err()
}

// ParseKnownHostsLine parses a single SSH known_hosts-formatted line,
// returning the hostnames kept and those skipped (glob-bearing or IP
// literal entries), or an error of one of the two documented kinds
// (SkippedLineError, DiscardedLineError).
func ParseKnownHostsLine(line string) (kept, skipped []string, err error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil, &SkippedLineError{Kind: "empty line"}
	}
	if line[0] == '#' {
		return nil, nil, &SkippedLineError{Kind: "comment"}
	}
	if line[0] == '|' {
		return nil, nil, &SkippedLineError{Kind: "hashed"}
	}

	fields := strings.Fields(line)
	if len(fields) < 3 {
		return nil, nil, &DiscardedLineError{Kind: "not enough fields"}
	}

	var lineHosts string
	if line[0] == '@' {
		if len(fields) < 4 {
			return nil, nil, &DiscardedLineError{Kind: "not enough fields"}
		}
		switch fields[0] {
		case "@cert-authority":
			lineHosts = fields[1]
		case "@revoked":
			return nil, nil, &SkippedLineError{Kind: "revoked"}
		default:
			return nil, nil, &DiscardedLineError{Kind: "unknown marker"}
		}
	} else {
		lineHosts = fields[0]
	}

	kept, skipped = ParseLineHosts(lineHosts)
	return kept, skipped, nil
}

// ParseLineHosts parses the comma-separated host-list field of a
// known_hosts line into kept and skipped hostname sets.
func ParseLineHosts(lineHosts string) (kept, skipped []string) {
	for _, host := range strings.Split(lineHosts, ",") {
		if host == "" {
			continue
		}
		if host[0] == '!' {
			host = host[1:]
		}
		if len(host) > 0 && host[0] == '[' {
			if idx := strings.IndexByte(host, ']'); idx >= 0 {
				host = host[1:idx]
			}
		}
		if strings.ContainsAny(host, "*?") {
			skipped = append(skipped, host)
			continue
		}
		if net.ParseIP(host) != nil {
			skipped = append(skipped, host)
			continue
		}
		kept = append(kept, host)
	}
	return kept, skipped
}

// Execute resolves query (Direct grammar plus "*"/"?" globs) against the
// lazily-loaded known_hosts universe.
func (b *Backend) Execute(query string) (*hostset.HostSet, error) {
	if err := b.ensureLoaded(); err != nil {
		return nil, err
	}
	tree, err := aggregator.ParseBoolExpr(Name, query, b.leafHosts)
	if err != nil {
		return nil, err
	}
	result, err := tree.Evaluate()
	if err != nil {
		return nil, err
	}
	return hostset.Intersect(result, b.universe), nil
}

func (b *Backend) leafHosts(token string) (*hostset.HostSet, error) {
	if strings.ContainsAny(token, "*?") {
		var matched []string
		for _, h := range b.universe.Slice() {
			ok, err := doublestar.Match(token, h)
			if err != nil {
				return nil, &runerrors.InvalidQueryError{Backend: Name, Query: token, Reason: err.Error()}
			}
			if ok {
				matched = append(matched, h)
			}
		}
		return hostset.New(matched...), nil
	}
	hosts, err := hostset.Expand(token)
	if err != nil {
		return nil, &runerrors.InvalidQueryError{Backend: Name, Query: token, Reason: err.Error()}
	}
	return hostset.New(hosts...), nil
}
