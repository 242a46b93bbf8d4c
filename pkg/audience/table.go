package audience

import (
	"fmt"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// Profile is one stakeholder group and its relevance rule.
type Profile struct {
	Name     string   `yaml:"name" json:"name"`
	Label    string   `yaml:"label" json:"label"`
	Keywords []string `yaml:"keywords" json:"keywords"`
	Metrics  []string `yaml:"metrics,omitempty" json:"metrics,omitempty"`
	Gain     float64  `yaml:"gain,omitempty" json:"gain,omitempty"`
}

// Table is the ordered set of configured audiences.
type Table struct {
	Audiences []Profile `yaml:"audiences" json:"audiences"`
}

// Default returns the built-in audience table.
func Default() *Table {
	return &Table{Audiences: []Profile{
		{
			Name:     "investors",
			Label:    "Financial",
			Keywords: []string{"revenue", "growth", "arr", "mrr", "churn", "market", "funding", "recurring"},
			Metrics:  []string{"mrr", "arr", "churn_rate"},
		},
		{
			Name:     "customers",
			Label:    "Product",
			Keywords: []string{"feature", "update", "experience", "satisfaction", "support", "adoption"},
			Metrics:  []string{"feature_adoption", "support_satisfaction"},
		},
		{
			Name:     "internal_team",
			Label:    "Operational",
			Keywords: []string{"performance", "productivity", "team", "velocity", "kpi", "active"},
			Metrics:  []string{"sprint_velocity", "headcount", "daily_active_users"},
		},
		{
			Name:     "developer_community",
			Label:    "Technical",
			Keywords: []string{"api", "integration", "technical", "documentation"},
		},
	}}
}

// LoadFile reads an audience table from YAML.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read audience table: %w", err)
	}

	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse audience table %s: %w", path, err)
	}
	if err := t.normalize(); err != nil {
		return nil, fmt.Errorf("invalid audience table %s: %w", path, err)
	}
	return &t, nil
}

func (t *Table) normalize() error {
	seen := make(map[string]bool, len(t.Audiences))
	for i := range t.Audiences {
		p := &t.Audiences[i]
		p.Name = strings.TrimSpace(p.Name)
		if p.Name == "" {
			return fmt.Errorf("audience %d has no name", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("audience %q defined twice", p.Name)
		}
		seen[p.Name] = true
		if p.Gain < 0 {
			return fmt.Errorf("audience %q has negative gain", p.Name)
		}
		if p.Label == "" {
			p.Label = Title(p.Name)
		}
		for j, k := range p.Keywords {
			p.Keywords[j] = strings.ToLower(strings.TrimSpace(k))
		}
	}
	return nil
}

// Names returns the audience names in table order.
func (t *Table) Names() []string {
	names := make([]string, len(t.Audiences))
	for i, p := range t.Audiences {
		names[i] = p.Name
	}
	return names
}

// Lookup returns the profile named name.
func (t *Table) Lookup(name string) (Profile, bool) {
	for _, p := range t.Audiences {
		if p.Name == name {
			return p, true
		}
	}
	return Profile{}, false
}

// Title turns "customer-experience" or "internal_team" into
// "Customer Experience" and "Internal Team".
func Title(s string) string {
	words := strings.FieldsFunc(s, func(r rune) bool { return r == '-' || r == '_' || unicode.IsSpace(r) })
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}
