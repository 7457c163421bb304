package census

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// NotApplicable is the group of catalog pseudo-variables such as "for" and "in".
const NotApplicable = "N/A"

// Variable describes one catalog entry.
type Variable struct {
	ID            string `json:"-"`
	Label         string `json:"label"`
	Concept       string `json:"concept,omitempty"`
	PredicateType string `json:"predicateType,omitempty"`
	Group         string `json:"group"`
}

// GroupInfo summarises one variable group.
type GroupInfo struct {
	Name      string
	Concept   string
	Variables int
}

// Catalog is a read-only variable lookup. It is safe for concurrent use.
type Catalog struct {
	variables map[string]Variable
	groups    map[string][]string
	order     []string
}

// NewCatalog builds a catalog from variables. Entries without a group or in
// the N/A group stay addressable by ID but are not enumerated as groups.
func NewCatalog(variables []Variable) *Catalog {
	c := &Catalog{
		variables: make(map[string]Variable, len(variables)),
		groups:    map[string][]string{},
	}

	for _, v := range variables {
		c.variables[v.ID] = v
	}
	for id, v := range c.variables {
		if v.Group == "" || v.Group == NotApplicable {
			continue
		}
		c.groups[v.Group] = append(c.groups[v.Group], id)
	}

	for name, ids := range c.groups {
		sort.Strings(ids)
		c.order = append(c.order, name)
	}
	// Largest group first, name as tiebreak
	sort.Slice(c.order, func(i, j int) bool {
		a, b := c.order[i], c.order[j]
		if len(c.groups[a]) != len(c.groups[b]) {
			return len(c.groups[a]) > len(c.groups[b])
		}
		return a < b
	})

	return c
}

// ParseCatalog parses a variables.json document.
func ParseCatalog(data []byte) (*Catalog, error) {
	var doc struct {
		Variables map[string]Variable `json:"variables"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: variables.json: %v", ErrMalformedResponse, err)
	}
	if doc.Variables == nil {
		return nil, fmt.Errorf("%w: variables.json has no variables object", ErrMalformedResponse)
	}

	variables := make([]Variable, 0, len(doc.Variables))
	for id, v := range doc.Variables {
		v.ID = id
		variables = append(variables, v)
	}
	return NewCatalog(variables), nil
}

// LoadCatalog fetches and parses the variable catalog of ds.
func LoadCatalog(ctx context.Context, api API, ds Dataset) (*Catalog, error) {
	data, err := api.GetJSON(ctx, ds.VariablesEndpoint(), nil)
	if err != nil {
		return nil, fmt.Errorf("fetch variable catalog: %w", err)
	}
	return ParseCatalog(data)
}

// Len returns the number of catalog entries, pseudo-variables included.
func (c *Catalog) Len() int {
	return len(c.variables)
}

// Variable looks up a variable by ID.
func (c *Catalog) Variable(id string) (Variable, bool) {
	v, ok := c.variables[id]
	return v, ok
}

// Label returns the label of id, or id itself when unknown or unlabelled.
func (c *Catalog) Label(id string) string {
	if v, ok := c.variables[id]; ok && v.Label != "" {
		return v.Label
	}
	return id
}

// Group returns the sorted variable IDs of a group. Unknown groups yield nil.
func (c *Catalog) Group(name string) []string {
	ids := c.groups[name]
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// Groups returns every group name, largest group first.
func (c *Catalog) Groups() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// GroupInfo summarises a group; ok is false for unknown groups.
func (c *Catalog) GroupInfo(name string) (GroupInfo, bool) {
	ids, ok := c.groups[name]
	if !ok {
		return GroupInfo{}, false
	}
	info := GroupInfo{Name: name, Variables: len(ids)}
	for _, id := range ids {
		if concept := c.variables[id].Concept; concept != "" {
			info.Concept = concept
			break
		}
	}
	return info, true
}
