// Package census loads the ACS variable catalog and county geography from the
// Census Data API, fetches variable groups at block group level and assembles
// them into labelled tables.
package census

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// API is the subset of the Census client used by this package.
// *client.Client satisfies it.
type API interface {
	GetJSON(ctx context.Context, endpoint string, query url.Values) ([]byte, error)
}

// Dataset identifies a Census API dataset for one vintage.
type Dataset struct {
	// Year is the data vintage (e.g. 2016)
	Year int

	// Name is the dataset path below the year (e.g. "acs/acs5")
	Name string
}

// DefaultDataset returns the ACS 5-year estimates for 2016.
func DefaultDataset() Dataset {
	return Dataset{Year: 2016, Name: "acs/acs5"}
}

// Endpoint returns the data endpoint path, e.g. "/2016/acs/acs5".
func (d Dataset) Endpoint() string {
	return fmt.Sprintf("/%d/%s", d.Year, strings.Trim(d.Name, "/"))
}

// VariablesEndpoint returns the path of the variable catalog.
func (d Dataset) VariablesEndpoint() string {
	return d.Endpoint() + "/variables.json"
}

// String implements fmt.Stringer.
func (d Dataset) String() string {
	return fmt.Sprintf("%d %s", d.Year, strings.Trim(d.Name, "/"))
}
