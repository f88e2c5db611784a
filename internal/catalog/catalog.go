// Package catalog holds the declarative table of metrics.
//
// The same table serves both paths: reads look up the query and TTL of a
// (metric, granularity) pair, and writes derive from it which registrations
// a ledger kind can affect.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"caixa/internal/aggregate"
	"caixa/internal/core"
)

//go:embed default.yaml
var defaultCatalog []byte

var (
	ErrUnknownMetric      = errors.New("unknown metric")
	ErrUnknownGranularity = errors.New("granularity not registered for metric")
)

// Registration allows a metric to be read at one granularity.
type Registration struct {
	Granularity aggregate.Granularity `yaml:"granularity"`
	TTL         time.Duration         `yaml:"ttl"`
}

// Metric is one named aggregate.
type Metric struct {
	ID            string           `yaml:"id"`
	Description   string           `yaml:"description"`
	Kind          core.Kind        `yaml:"kind"`
	Filter        aggregate.Filter `yaml:"filter"`
	Op            aggregate.Op     `yaml:"op"`
	GroupBy       aggregate.Group  `yaml:"group_by,omitempty"`
	Limit         int              `yaml:"limit,omitempty"`
	Granularities []Registration   `yaml:"granularities"`
}

func (m Metric) Query() aggregate.Query {
	return aggregate.Query{Kind: m.Kind, Filter: m.Filter, Op: m.Op, GroupBy: m.GroupBy, Limit: m.Limit}
}

// TTL returns how long the metric stays cached at g.
func (m Metric) TTL(g aggregate.Granularity) (time.Duration, bool) {
	for _, r := range m.Granularities {
		if r.Granularity == g {
			return r.TTL, true
		}
	}
	return 0, false
}

// Target is a (metric, granularity) pair whose keys a write may invalidate.
type Target struct {
	Metric      string
	Granularity aggregate.Granularity
}

// Rule lists the targets affected by writes of one ledger kind.
type Rule struct {
	Kind    core.Kind
	Targets []Target
}

// Catalog is immutable once built.
type Catalog struct {
	metrics map[string]Metric
	order   []string
	rules   map[core.Kind]Rule
}

type document struct {
	Metrics []Metric `yaml:"metrics"`
}

// Default returns the catalog compiled into the binary.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads a catalog file, falling back to the default when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return New(doc.Metrics...)
}

// New validates the metrics and derives the invalidation rules.
func New(metrics ...Metric) (*Catalog, error) {
	c := &Catalog{
		metrics: make(map[string]Metric, len(metrics)),
		rules:   make(map[core.Kind]Rule),
	}

	var errs []string
	for i, m := range metrics {
		if err := validateMetric(m); err != nil {
			errs = append(errs, fmt.Sprintf("metric #%d (%s): %v", i+1, m.ID, err))
			continue
		}
		if _, dup := c.metrics[m.ID]; dup {
			errs = append(errs, fmt.Sprintf("metric #%d: duplicate id %q", i+1, m.ID))
			continue
		}
		m.Granularities = append([]Registration(nil), m.Granularities...)
		c.metrics[m.ID] = m
		c.order = append(c.order, m.ID)

		rule := c.rules[m.Kind]
		rule.Kind = m.Kind
		for _, r := range m.Granularities {
			rule.Targets = append(rule.Targets, Target{Metric: m.ID, Granularity: r.Granularity})
		}
		c.rules[m.Kind] = rule
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid catalog:\n- %s", strings.Join(errs, "\n- "))
	}
	if len(c.order) == 0 {
		return nil, errors.New("invalid catalog: no metrics defined")
	}
	return c, nil
}

func validateMetric(m Metric) error {
	if strings.TrimSpace(m.ID) == "" {
		return errors.New("id is required")
	}
	if strings.ContainsAny(m.ID, "| \t\n") {
		return fmt.Errorf("id %q must not contain '|' or whitespace", m.ID)
	}
	if err := m.Query().Validate(); err != nil {
		return err
	}
	if len(m.Granularities) == 0 {
		return errors.New("at least one granularity is required")
	}
	seen := make(map[aggregate.Granularity]bool, len(m.Granularities))
	for _, r := range m.Granularities {
		if err := r.Granularity.Validate(); err != nil {
			return err
		}
		if m.GroupBy != "" && r.Granularity.IsSeries() {
			return fmt.Errorf("ranking by %s needs a single window, not %s", m.GroupBy, r.Granularity)
		}
		if seen[r.Granularity] {
			return fmt.Errorf("granularity %s registered twice", r.Granularity)
		}
		seen[r.Granularity] = true
		if r.TTL <= 0 {
			return fmt.Errorf("granularity %s needs a positive ttl", r.Granularity)
		}
	}
	return nil
}

// Metric returns the definition registered under id.
func (c *Catalog) Metric(id string) (Metric, error) {
	m, ok := c.metrics[id]
	if !ok {
		return Metric{}, fmt.Errorf("%w: %q", ErrUnknownMetric, id)
	}
	return m, nil
}

// Lookup resolves a readable pair to its definition and TTL.
func (c *Catalog) Lookup(id string, g aggregate.Granularity) (Metric, time.Duration, error) {
	m, err := c.Metric(id)
	if err != nil {
		return Metric{}, 0, err
	}
	ttl, ok := m.TTL(g)
	if !ok {
		return Metric{}, 0, fmt.Errorf("%w: %s at %s", ErrUnknownGranularity, id, g)
	}
	return m, ttl, nil
}

// Metrics lists the definitions in catalog order.
func (c *Catalog) Metrics() []Metric {
	out := make([]Metric, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.metrics[id])
	}
	return out
}

// Rule returns the invalidation rule for writes of kind k.
func (c *Catalog) Rule(k core.Kind) Rule {
	r := c.rules[k]
	r.Kind = k
	r.Targets = append([]Target(nil), r.Targets...)
	return r
}
