package census

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrMalformedResponse is returned when a data response is not the expected
// array of arrays with a header row.
var ErrMalformedResponse = errors.New("malformed census response")

// Row is one record of a data response keyed by the field names of the
// header row (variable IDs plus geography names such as "state").
type Row map[string]string

// ParseRows converts a data response into rows. The first array is the
// header. Numbers keep their textual form and null becomes "". An empty body
// (204 No Content) yields no rows.
func ParseRows(data []byte) ([]Row, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var table [][]any
	if err := dec.Decode(&table); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(table) == 0 {
		return nil, nil
	}

	header := make([]string, len(table[0]))
	for i, h := range table[0] {
		name, ok := h.(string)
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: header column %d is not a name", ErrMalformedResponse, i)
		}
		header[i] = name
	}

	rows := make([]Row, 0, len(table)-1)
	for n, record := range table[1:] {
		if len(record) != len(header) {
			return nil, fmt.Errorf("%w: row %d has %d fields, header has %d",
				ErrMalformedResponse, n+1, len(record), len(header))
		}
		row := make(Row, len(header))
		for i, v := range record {
			s, err := scalar(v)
			if err != nil {
				return nil, fmt.Errorf("%w: row %d field %q: %v", ErrMalformedResponse, n+1, header[i], err)
			}
			row[header[i]] = s
		}
		rows = append(rows, row)
	}

	return rows, nil
}

func scalar(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	case bool:
		return strconv.FormatBool(x), nil
	default:
		return "", fmt.Errorf("unexpected %T", v)
	}
}
