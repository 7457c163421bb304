package census

import "strings"

// GeoColumns are the fixed geographic key columns appended to every table.
var GeoColumns = []string{"state", "county", "tract", "block group"}

// Table is an assembled group table. Columns holds the relabelled variable
// columns followed by GeoColumns; Sources holds the variable ID behind each
// variable column.
type Table struct {
	Group   string
	Columns []string
	Sources []string
	Rows    [][]string
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// VariableColumns returns the relabelled columns without the geographic keys.
func (t *Table) VariableColumns() []string {
	return t.Columns[:len(t.Columns)-len(GeoColumns)]
}

// Flatten concatenates batches, keeping batch order and the row order
// within each batch.
func Flatten(batches [][]Row) []Row {
	n := 0
	for _, b := range batches {
		n += len(b)
	}
	rows := make([]Row, 0, n)
	for _, b := range batches {
		rows = append(rows, b...)
	}
	return rows
}

// Assemble builds the table of group from fetched batches. Every value is
// looked up by the ID it was returned under, so the column order of the
// response does not matter. When rows exist, only the requested IDs present
// in the first row become columns; otherwise every requested ID does.
func Assemble(cat *Catalog, group string, ids []string, batches [][]Row) *Table {
	rows := Flatten(batches)

	present := ids
	if len(rows) > 0 {
		present = make([]string, 0, len(ids))
		for _, id := range ids {
			if _, ok := rows[0][id]; ok {
				present = append(present, id)
			}
		}
	}

	t := &Table{
		Group:   group,
		Columns: append(relabel(cat, present), GeoColumns...),
		Sources: append([]string(nil), present...),
		Rows:    make([][]string, len(rows)),
	}

	keys := append(append([]string(nil), present...), GeoColumns...)
	for i, row := range rows {
		values := make([]string, len(keys))
		for j, k := range keys {
			values[j] = row[k]
		}
		t.Rows[i] = values
	}

	return t
}

// AssembleGroup assembles fetched group data.
func AssembleGroup(cat *Catalog, data *GroupData) *Table {
	return Assemble(cat, data.Group, data.IDs, data.Batches)
}

// relabel maps IDs to slugified catalog labels. Unknown IDs keep their raw
// form; a slug that is already taken gets the lowercase ID appended.
func relabel(cat *Catalog, ids []string) []string {
	columns := make([]string, len(ids))
	// Reserve the slug form too: sinks map "block group" and "block-group"
	// to the same identifier.
	used := make(map[string]bool, len(ids)+2*len(GeoColumns))
	for _, g := range GeoColumns {
		used[g] = true
		used[Slugify(g)] = true
	}

	for i, id := range ids {
		name := id
		if _, known := cat.Variable(id); known {
			if slug := Slugify(cat.Label(id)); slug != "" {
				name = slug
			}
		}
		if used[name] {
			name = name + "-" + strings.ToLower(id)
		}
		used[name] = true
		columns[i] = name
	}
	return columns
}
