package census

import (
	"context"
	"reflect"
	"sort"
	"testing"
)

func TestFlatten(t *testing.T) {
	batches := [][]Row{
		{{"n": "1"}, {"n": "2"}},
		{},
		{{"n": "3"}},
		nil,
		{{"n": "4"}, {"n": "5"}, {"n": "6"}},
	}

	rows := Flatten(batches)

	if len(rows) != 6 {
		t.Fatalf("got %d rows, want 6", len(rows))
	}
	for i, row := range rows {
		if want := string(rune('1' + i)); row["n"] != want {
			t.Errorf("row %d = %q, want %q", i, row["n"], want)
		}
	}
	if got := Flatten(nil); len(got) != 0 {
		t.Errorf("Flatten(nil) = %v", got)
	}
}

func testCatalog() *Catalog {
	vars := make([]Variable, 0, len(testLabels))
	for id, v := range testLabels {
		vars = append(vars, Variable{ID: id, Label: v.Label, Concept: v.Concept, Group: v.Group})
	}
	return NewCatalog(vars)
}

func TestAssemble_KeyBasedRelabel(t *testing.T) {
	cat := testCatalog()
	ids := cat.Group("B01001")

	// Field order in a map is irrelevant; values must follow their IDs
	batches := [][]Row{{
		{"block group": "1", "tract": "000100", "county": "001", "state": "01",
			"B01001_003E": "female", "B01001_001E": "total", "B01001_002E": "male"},
	}}

	table := Assemble(cat, "B01001", ids, batches)

	wantCols := []string{"estimate-total", "estimate-total-male", "estimate-total-female",
		"state", "county", "tract", "block group"}
	if !reflect.DeepEqual(table.Columns, wantCols) {
		t.Errorf("Columns = %v, want %v", table.Columns, wantCols)
	}
	wantRow := []string{"total", "male", "female", "01", "001", "000100", "1"}
	if !reflect.DeepEqual(table.Rows[0], wantRow) {
		t.Errorf("Rows[0] = %v, want %v", table.Rows[0], wantRow)
	}
	if !reflect.DeepEqual(table.Sources, ids) {
		t.Errorf("Sources = %v, want %v", table.Sources, ids)
	}
	if table.Group != "B01001" || table.Len() != 1 {
		t.Errorf("Group = %q Len = %d", table.Group, table.Len())
	}
}

func TestAssemble_ColumnsMatchCatalogLabels(t *testing.T) {
	mock := newMockCensus(t)
	api := newTestClient(t, mock.URL())
	ref := loadTestReference(t, api)

	for _, group := range ref.Catalog.Groups() {
		data, err := NewGroupFetcher(api, ref, DefaultFetcherConfig()).Fetch(context.Background(), group)
		if err != nil {
			t.Fatalf("Fetch(%s) error: %v", group, err)
		}
		table := AssembleGroup(ref.Catalog, data)

		var want []string
		for _, v := range testLabels {
			if v.Group == group {
				want = append(want, Slugify(v.Label))
			}
		}
		got := append([]string(nil), table.VariableColumns()...)
		sort.Strings(got)
		sort.Strings(want)
		if !reflect.DeepEqual(got, want) {
			t.Errorf("%s columns = %v, want %v", group, got, want)
		}

		// Variable columns plus the four geographic keys
		if len(table.Columns) != len(want)+4 {
			t.Errorf("%s has %d columns, want %d", group, len(table.Columns), len(want)+4)
		}
		if !reflect.DeepEqual(table.Columns[len(table.Columns)-4:], GeoColumns) {
			t.Errorf("%s geographic columns = %v", group, table.Columns[len(table.Columns)-4:])
		}
		if table.Len() != 12 {
			t.Errorf("%s rows = %d, want 12", group, table.Len())
		}
	}
}

func TestAssemble_EmptyGroup(t *testing.T) {
	table := Assemble(testCatalog(), "B99999", nil, nil)

	if !reflect.DeepEqual(table.Columns, GeoColumns) {
		t.Errorf("Columns = %v, want only %v", table.Columns, GeoColumns)
	}
	if table.Len() != 0 {
		t.Errorf("Len() = %d, want 0", table.Len())
	}
	if len(table.VariableColumns()) != 0 {
		t.Errorf("VariableColumns() = %v", table.VariableColumns())
	}
}

func TestAssemble_NoRowsUsesRequestedIDs(t *testing.T) {
	cat := testCatalog()
	ids := cat.Group("B01001")

	table := Assemble(cat, "B01001", ids, [][]Row{{}, {}})

	if len(table.Columns) != len(ids)+4 {
		t.Errorf("Columns = %v, want every requested ID plus geography", table.Columns)
	}
}

func TestAssemble_OnlyIDsInFirstRow(t *testing.T) {
	cat := testCatalog()
	ids := cat.Group("B01001")

	batches := [][]Row{{
		{"B01001_001E": "10", "state": "01", "county": "001", "tract": "000100", "block group": "1"},
		{"B01001_001E": "11", "B01001_002E": "5", "state": "01", "county": "001", "tract": "000100", "block group": "2"},
	}}

	table := Assemble(cat, "B01001", ids, batches)

	want := []string{"estimate-total", "state", "county", "tract", "block group"}
	if !reflect.DeepEqual(table.Columns, want) {
		t.Errorf("Columns = %v, want %v", table.Columns, want)
	}
	if table.Rows[1][0] != "11" {
		t.Errorf("Rows[1][0] = %q, want 11", table.Rows[1][0])
	}
}

func TestAssemble_DuplicateAndUnknownLabels(t *testing.T) {
	cat := NewCatalog([]Variable{
		{ID: "X_001E", Label: "Estimate!!Total", Group: "X"},
		{ID: "X_002E", Label: "Estimate: Total", Group: "X"},
		{ID: "X_003E", Label: "State", Group: "X"},
	})
	ids := []string{"X_001E", "X_002E", "X_003E", "X_004E"}
	row := Row{"X_001E": "1", "X_002E": "2", "X_003E": "3", "X_004E": "4",
		"state": "01", "county": "001", "tract": "000100", "block group": "1"}

	table := Assemble(cat, "X", ids, [][]Row{{row}})

	want := []string{"estimate-total", "estimate-total-x_002e", "state-x_003e", "X_004E",
		"state", "county", "tract", "block group"}
	if !reflect.DeepEqual(table.Columns, want) {
		t.Errorf("Columns = %v, want %v", table.Columns, want)
	}
}

func TestAssemble_LabelCollidesWithGeoSlug(t *testing.T) {
	cat := NewCatalog([]Variable{
		{ID: "X_001E", Label: "Block group", Group: "X"},
		{ID: "X_002E", Label: "Block-Group!!Total", Group: "X"},
	})
	ids := []string{"X_001E", "X_002E"}
	row := Row{"X_001E": "1", "X_002E": "2",
		"state": "01", "county": "001", "tract": "000100", "block group": "1"}

	table := Assemble(cat, "X", ids, [][]Row{{row}})

	want := []string{"block-group-x_001e", "block-group-total",
		"state", "county", "tract", "block group"}
	if !reflect.DeepEqual(table.Columns, want) {
		t.Errorf("Columns = %v, want %v", table.Columns, want)
	}
}

func TestAssemble_Idempotent(t *testing.T) {
	mock := newMockCensus(t)
	api := newTestClient(t, mock.URL())
	ref := loadTestReference(t, api)
	f := NewGroupFetcher(api, ref, DefaultFetcherConfig())

	fetch := func() *Table {
		data, err := f.Fetch(context.Background(), "B01001")
		if err != nil {
			t.Fatalf("Fetch() error: %v", err)
		}
		return AssembleGroup(ref.Catalog, data)
	}

	first := fetch()
	mock.SetReverseColumns(true)
	second := fetch()

	if !reflect.DeepEqual(first, second) {
		t.Error("tables differ between runs against a deterministic service")
	}
}
