// Package testutil provides a mock Census Data API for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
)

// MockVariable is one entry of the mock variables.json catalog.
type MockVariable struct {
	Label         string `json:"label"`
	Concept       string `json:"concept,omitempty"`
	PredicateType string `json:"predicateType,omitempty"`
	Group         string `json:"group"`
}

// MockCounty is a county returned by the county listing query.
type MockCounty struct {
	State  string
	County string
	Name   string
}

// MockCensus is a configurable mock Census API server. Block group values are
// derived from a hash of the variable and geography, so responses are
// deterministic across runs.
type MockCensus struct {
	server *httptest.Server

	mu              sync.Mutex
	variables       map[string]MockVariable
	counties        []MockCounty
	tractsPerCounty int
	groupsPerTract  int
	reverseColumns  bool
	failures        map[string]mockFailure
	emptyCounties   map[string]bool

	// Tracking
	RequestCount int
	UnitRequests map[string]int
	LastQueries  []string
	LastAPIKey   string
}

type mockFailure struct {
	remaining int
	status    int
	body      string
}

// NewMockCensus creates a new mock server with two tracts of two block
// groups per county.
func NewMockCensus() *MockCensus {
	m := &MockCensus{
		variables:       map[string]MockVariable{},
		tractsPerCounty: 2,
		groupsPerTract:  2,
		failures:        map[string]mockFailure{},
		emptyCounties:   map[string]bool{},
		UnitRequests:    map[string]int{},
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// URL returns the mock server URL (use as client BaseURL).
func (m *MockCensus) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockCensus) Close() {
	m.server.Close()
}

// AddVariable registers a catalog entry.
func (m *MockCensus) AddVariable(id string, v MockVariable) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.variables[id] = v
}

// AddCounty registers a county in the geography listing.
func (m *MockCensus) AddCounty(state, county, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counties = append(m.counties, MockCounty{State: state, County: county, Name: name})
}

// SetReverseColumns makes data responses list geography first and variables
// in reverse order, the way a reordered upstream would.
func (m *MockCensus) SetReverseColumns(reverse bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reverseColumns = reverse
}

// FailUnit makes the next n block group queries for state/county answer with status.
func (m *MockCensus) FailUnit(state, county string, n, status int) {
	m.FailUnitWithBody(state, county, n, status, "error: injected failure")
}

// FailUnitWithBody is FailUnit with a custom body. With status 200 it serves
// a page the client cannot decode, like the API's maintenance page.
func (m *MockCensus) FailUnitWithBody(state, county string, n, status int, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[unitKey(state, county)] = mockFailure{remaining: n, status: status, body: body}
}

// EmptyUnit makes block group queries for state/county answer 204 No Content.
func (m *MockCensus) EmptyUnit(state, county string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emptyCounties[unitKey(state, county)] = true
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockCensus) GetRequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.RequestCount
}

// GetUnitRequests returns the number of block group requests for state/county.
func (m *MockCensus) GetUnitRequests(state, county string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.UnitRequests[unitKey(state, county)]
}

// Value returns the value the mock serves for a variable at a block group.
func Value(id, state, county, tract, blockGroup string) string {
	h := fnv.New32a()
	h.Write([]byte(strings.Join([]string{id, state, county, tract, blockGroup}, "|")))
	return fmt.Sprintf("%d", h.Sum32()%10000)
}

// TractCode returns the tract code the mock uses for index i.
func TractCode(i int) string {
	return fmt.Sprintf("%06d", (i+1)*100)
}

func unitKey(state, county string) string {
	return state + ":" + county
}

func (m *MockCensus) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.RequestCount++
	m.LastAPIKey = r.URL.Query().Get("key")
	m.LastQueries = append(m.LastQueries, r.URL.RawQuery)
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/json;charset=utf-8")

	if r.URL.Query().Get("key") == "" {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("error: missing key"))
		return
	}

	if strings.HasSuffix(r.URL.Path, "/variables.json") {
		m.handleVariables(w)
		return
	}

	q := r.URL.Query()
	switch {
	case q.Get("for") == "county:*":
		m.handleCounties(w, geoParams(q.Get("in")))
	case q.Get("for") == "block group:*":
		m.handleBlockGroups(w, strings.Split(q.Get("get"), ","), geoParams(q.Get("in")))
	default:
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("error: unknown/unsupported geography hierarchy"))
	}
}

func (m *MockCensus) handleVariables(w http.ResponseWriter) {
	m.mu.Lock()
	vars := make(map[string]MockVariable, len(m.variables)+2)
	for k, v := range m.variables {
		vars[k] = v
	}
	m.mu.Unlock()

	// Pseudo variables the real catalog carries
	vars["for"] = MockVariable{Label: "Census API FIPS 'for' clause", Concept: "Census API Geography Specification", PredicateType: "fips-for", Group: "N/A"}
	vars["in"] = MockVariable{Label: "Census API FIPS 'in' clause", Concept: "Census API Geography Specification", PredicateType: "fips-in", Group: "N/A"}

	json.NewEncoder(w).Encode(map[string]any{"variables": vars})
}

func (m *MockCensus) handleCounties(w http.ResponseWriter, in map[string]string) {
	m.mu.Lock()
	var rows [][]string
	for _, c := range m.counties {
		if c.State == in["state"] {
			rows = append(rows, []string{c.Name, c.State, c.County})
		}
	}
	m.mu.Unlock()

	if len(rows) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i][2] < rows[j][2] })
	json.NewEncoder(w).Encode(append([][]string{{"NAME", "state", "county"}}, rows...))
}

func (m *MockCensus) handleBlockGroups(w http.ResponseWriter, ids []string, in map[string]string) {
	state, county := in["state"], in["county"]
	key := unitKey(state, county)

	m.mu.Lock()
	m.UnitRequests[key]++
	failure, failing := m.failures[key]
	if failing && failure.remaining > 0 {
		failure.remaining--
		m.failures[key] = failure
	} else {
		failing = false
	}
	empty := m.emptyCounties[key]
	reverse := m.reverseColumns
	tracts, groups := m.tractsPerCounty, m.groupsPerTract
	m.mu.Unlock()

	if failing {
		if failure.status == http.StatusTooManyRequests {
			w.Header().Set("Retry-After", "0")
		}
		w.WriteHeader(failure.status)
		w.Write([]byte(failure.body))
		return
	}
	if empty {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	geoCols := []string{"state", "county", "tract", "block group"}
	header := append(append([]string{}, ids...), geoCols...)
	if reverse {
		header = append(append([]string{}, geoCols...), reversed(ids)...)
	}

	rows := [][]string{header}
	for t := 0; t < tracts; t++ {
		tract := TractCode(t)
		if want := in["tract"]; want != "" && want != "*" && want != tract {
			continue
		}
		for g := 1; g <= groups; g++ {
			bg := fmt.Sprintf("%d", g)
			row := make([]string, 0, len(header))
			for _, col := range header {
				switch col {
				case "state":
					row = append(row, state)
				case "county":
					row = append(row, county)
				case "tract":
					row = append(row, tract)
				case "block group":
					row = append(row, bg)
				default:
					row = append(row, Value(col, state, county, tract, bg))
				}
			}
			rows = append(rows, row)
		}
	}

	json.NewEncoder(w).Encode(rows)
}

// geoParams parses an "in" clause like "state:01 county:001 tract:*".
func geoParams(in string) map[string]string {
	out := map[string]string{}
	for _, part := range strings.Fields(in) {
		k, v, ok := strings.Cut(part, ":")
		if ok {
			out[k] = v
		}
	}
	return out
}

func reversed(in []string) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[len(in)-1-i] = v
	}
	return out
}

// NewFlakyHandler returns a handler that answers failStatus for the first n
// requests and then serves body with 200.
func NewFlakyHandler(n, failStatus int, body string, count *int, mu *sync.Mutex) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		*count++
		current := *count
		mu.Unlock()

		if current <= n {
			w.WriteHeader(failStatus)
			w.Write([]byte("error: temporarily unavailable"))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(body))
	}
}
