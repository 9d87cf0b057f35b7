// Package puppetdb implements the facts/resources backend: a DSL of
// category-tagged key/op/value clauses translated into the nested-array
// query language of a PuppetDB-like remote system, queried over HTTPS.
// Registered under the "Q" prefix, distinct from the single-letter
// category tags (F/R/C/P/O/I) used inside its own DSL.
package puppetdb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/mitchellh/mapstructure"

	"github.com/jross/cumin-go/internal/backend"
	"github.com/jross/cumin-go/internal/hostset"
	"github.com/jross/cumin-go/internal/runerrors"
)

// certnamePath is the jsonpath used to pull every certname value out of the
// response body regardless of whether the remote wraps rows in an envelope
// (some deployments nest results under "result" rather than returning a
// bare array), avoiding a hand-written recursive walk of the decoded JSON.
const certnamePath = "$..certname"

const Prefix = 'Q'
const Name = "puppetdb"

// Config is the puppetdb backend's configuration subsection.
type Config struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

func defaultConfig() Config {
	return Config{
		URL:     "https://localhost:443/pdb/query/v4/",
		Timeout: 10 * time.Second,
	}
}

// Backend is the facts/resources query backend.
type Backend struct {
	cfg    Config
	client *http.Client
}

// New constructs a puppetdb backend from its config subsection.
func New(cfg backend.Config) (backend.Backend, error) {
	c := defaultConfig()
	if err := mapstructure.Decode(map[string]interface{}(cfg), &c); err != nil {
		return nil, &runerrors.InvalidQueryError{Backend: Name, Reason: fmt.Sprintf("bad config: %v", err)}
	}
	return &Backend{
		cfg:    c,
		client: &http.Client{Timeout: c.Timeout},
	}, nil
}

// Register adds the puppetdb backend to reg under its reserved prefix.
func Register(reg *backend.Registry) error {
	return reg.Register(Prefix, Name, New)
}

// Execute translates query into the nested-array query language, POSTs it
// to the configured endpoint, and returns the set of distinct certnames.
func (b *Backend) Execute(query string) (*hostset.HostSet, error) {
	node, ep, err := parse(query)
	if err != nil {
		return nil, err
	}
	envelope := []interface{}{"extract", []interface{}{"certname"}, node, []interface{}{"group_by", "certname"}}

	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, &runerrors.BackendError{Backend: Name, Reason: "failed to marshal query", Cause: err}
	}

	url := b.cfg.URL + string(ep)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &runerrors.BackendError{Backend: Name, Reason: "failed to build request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, &runerrors.BackendError{Backend: Name, Reason: "request failed", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return nil, &runerrors.BackendError{Backend: Name, Reason: fmt.Sprintf("non-2xx response: %d: %s", resp.StatusCode, string(data))}
	}

	var raw interface{}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, &runerrors.BackendError{Backend: Name, Reason: "failed to decode response", Cause: err}
	}

	out := hostset.New()
	if raw == nil {
		return out, nil
	}
	val, err := jsonpath.Get(certnamePath, raw)
	if err != nil {
		// No certname anywhere in the response (e.g. an empty result set)
		// is not a backend error.
		return out, nil
	}
	switch v := val.(type) {
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok {
				out.Add(s)
			}
		}
	case string:
		out.Add(v)
	}
	return out, nil
}
