package models

// Row is one source record: column name -> scalar value.
// The designated key field must be unique within one table snapshot.
type Row map[string]any

// Key returns the row's value for the given key field and whether it is
// usable for diffing (present and non-nil).
func (r Row) Key(field string) (any, bool) {
	v, ok := r[field]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// Clone returns a shallow copy of the row. Values are scalars, so a
// shallow copy is enough to keep diff inputs immutable.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// TableSnapshot is the full set of rows of one table at one instant.
// Order carries no meaning; rows are identified by their key field.
type TableSnapshot []Row

// DatabaseSnapshot is the observed state of one source at one sync cycle:
// table name -> rows. This is the unit persisted by the snapshot store.
type DatabaseSnapshot map[string]TableSnapshot

// RowCount returns the total number of rows across all tables.
func (s DatabaseSnapshot) RowCount() int {
	n := 0
	for _, rows := range s {
		n += len(rows)
	}
	return n
}

// IsEmpty reports whether the snapshot holds no rows at all.
func (s DatabaseSnapshot) IsEmpty() bool {
	return s.RowCount() == 0
}
