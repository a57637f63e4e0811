package acs

import (
	_ "embed"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Metric maps a friendly name to the ACS detailed-table variables that
// derive it. The derived value is 100 * sum(numerator) / sum(denominator).
type Metric struct {
	Name        string   `yaml:"-" json:"name"`
	Description string   `yaml:"description" json:"description"`
	Universe    string   `yaml:"universe" json:"universe"`
	Numerator   []string `yaml:"numerator" json:"numerator"`
	Denominator []string `yaml:"denominator" json:"denominator"`
}

// Variables returns the deduplicated union of numerator and denominator
// variable codes, numerators first.
func (m Metric) Variables() []string {
	seen := make(map[string]bool, len(m.Numerator)+len(m.Denominator))
	vars := make([]string, 0, len(m.Numerator)+len(m.Denominator))
	for _, v := range m.Numerator {
		if !seen[v] {
			seen[v] = true
			vars = append(vars, v)
		}
	}
	for _, v := range m.Denominator {
		if !seen[v] {
			seen[v] = true
			vars = append(vars, v)
		}
	}
	return vars
}

var catalog = mustParseCatalog(catalogYAML)

func mustParseCatalog(data []byte) map[string]Metric {
	var file struct {
		Metrics map[string]Metric `yaml:"metrics"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		panic(eris.Wrap(err, "acs: parse embedded catalog"))
	}
	for name, m := range file.Metrics {
		m.Name = name
		file.Metrics[name] = m
	}
	return file.Metrics
}

// MetricByName looks up a catalog metric. Lookup is case-insensitive.
func MetricByName(name string) (Metric, bool) {
	m, ok := catalog[strings.ToLower(strings.TrimSpace(name))]
	return m, ok
}

// MetricNames returns the catalog's metric names, sorted.
func MetricNames() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Metrics returns the full catalog, sorted by name.
func Metrics() []Metric {
	names := MetricNames()
	metrics := make([]Metric, 0, len(names))
	for _, name := range names {
		metrics = append(metrics, catalog[name])
	}
	return metrics
}
