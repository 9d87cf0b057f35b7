// Package cloudvm implements the Cloud-VM backend (§4.6): a DSL of "*" or
// key:value filter tokens, evaluated against a cloud provider's identity
// and compute APIs, composing FQDNs from server name, project, and an
// optional domain suffix. It is an optional backend: nothing else in the
// registry depends on it, and a minimal binary can omit its import.
// Registered under the "V" prefix.
package cloudvm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/jross/cumin-go/internal/backend"
	"github.com/jross/cumin-go/internal/hostset"
	"github.com/jross/cumin-go/internal/runerrors"
)

const Prefix = 'V'
const Name = "cloudvm"

// adminProject is the well-known administrative project excluded from a
// project-less "list every project's servers" enumeration (§4.6).
const adminProject = "admin"

// Server is one compute instance as reported by a cloud provider, prior to
// FQDN composition.
type Server struct {
	Name   string
	Status string
}

// API is the identity/compute surface the backend consumes. A concrete
// implementation (e.g. AWSProvider) wraps the target cloud's SDK; the
// backend itself never talks to a wire protocol directly (§1, §6).
type API interface {
	// ListProjects returns every project/tenant the credentials can see.
	ListProjects(ctx context.Context) ([]string, error)
	// ListServers returns servers in project matching filters (simple
	// equality on provider-defined attribute names, e.g. "status").
	ListServers(ctx context.Context, project string, filters map[string]string) ([]Server, error)
}

// Config is the cloudvm backend's configuration subsection.
type Config struct {
	DomainSuffix string        `mapstructure:"domain_suffix"`
	CallTimeout  time.Duration `mapstructure:"call_timeout"`
}

func defaultConfig() Config {
	return Config{CallTimeout: 10 * time.Second}
}

// Backend is the Cloud-VM query backend.
type Backend struct {
	cfg Config
	api API
}

// NewWithAPI builds a cloudvm Backend over an already-constructed API
// client, used by tests and by New's production wiring alike.
func NewWithAPI(cfg backend.Config, api API) (backend.Backend, error) {
	c := defaultConfig()
	if err := mapstructure.Decode(map[string]interface{}(cfg), &c); err != nil {
		return nil, &runerrors.InvalidQueryError{Backend: Name, Reason: fmt.Sprintf("bad config: %v", err)}
	}
	if c.DomainSuffix != "" && !strings.HasPrefix(c.DomainSuffix, ".") {
		c.DomainSuffix = "." + c.DomainSuffix
	}
	return &Backend{cfg: c, api: api}, nil
}

// Register adds the Cloud-VM backend to reg under its reserved prefix,
// wired to a concrete API constructed from cfg. Call this explicitly from
// a build that wants the cloud SDK dependency compiled in; it is never
// called from an init func, so a minimal binary never pays for it (§4.1
// DESIGN NOTES).
func Register(reg *backend.Registry) error {
	return reg.Register(Prefix, Name, func(cfg backend.Config) (backend.Backend, error) {
		api, err := NewAWSProvider(cfg)
		if err != nil {
			return nil, err
		}
		return NewWithAPI(cfg, api)
	})
}

// defaultFilters are always merged into a query's filters unless the query
// itself overrides them (§4.6).
var defaultFilters = map[string]string{"status": "ACTIVE", "vm_state": "ACTIVE"}

// parsed is one parsed DSL query: an explicit project (empty means "every
// non-admin project") plus the filter set to apply within it.
type parsed struct {
	project string
	filters map[string]string
}

func parseQuery(query string) (parsed, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return parsed{}, &runerrors.InvalidQueryError{Backend: Name, Query: query, Reason: "empty query"}
	}
	if query == "*" {
		return parsed{filters: cloneFilters(defaultFilters)}, nil
	}

	filters := cloneFilters(defaultFilters)
	var project string
	for _, tok := range strings.Fields(query) {
		idx := strings.IndexByte(tok, ':')
		if idx <= 0 || idx == len(tok)-1 {
			return parsed{}, &runerrors.InvalidQueryError{Backend: Name, Query: query, Reason: fmt.Sprintf("malformed key:value token %q", tok)}
		}
		key, val := tok[:idx], tok[idx+1:]
		if key == "project" {
			project = val
			continue
		}
		filters[key] = val
	}
	return parsed{project: project, filters: filters}, nil
}

func cloneFilters(src map[string]string) map[string]string {
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// Execute resolves query per §4.6: a single project's servers, or the
// union of every non-admin project's servers when none is named.
func (b *Backend) Execute(query string) (*hostset.HostSet, error) {
	p, err := parseQuery(query)
	if err != nil {
		return nil, err
	}

	projects := []string{p.project}
	if p.project == "" {
		ctx, cancel := context.WithTimeout(context.Background(), b.cfg.CallTimeout)
		all, err := b.api.ListProjects(ctx)
		cancel()
		if err != nil {
			return nil, &runerrors.BackendError{Backend: Name, Reason: "failed to list projects", Cause: err}
		}
		projects = projects[:0]
		for _, proj := range all {
			if proj != adminProject {
				projects = append(projects, proj)
			}
		}
	}
	sort.Strings(projects)

	out := hostset.New()
	for _, project := range projects {
		ctx, cancel := context.WithTimeout(context.Background(), b.cfg.CallTimeout)
		servers, err := b.api.ListServers(ctx, project, p.filters)
		cancel()
		if err != nil {
			return nil, &runerrors.BackendError{Backend: Name, Reason: fmt.Sprintf("failed to list servers for project %q", project), Cause: err}
		}
		for _, s := range servers {
			out.Add(fqdn(s.Name, project, b.cfg.DomainSuffix))
		}
	}
	return out, nil
}

// fqdn composes "<server-name>.<project>[.<domain-suffix>]" per §4.6.
func fqdn(name, project, domainSuffix string) string {
	return name + "." + project + domainSuffix
}
