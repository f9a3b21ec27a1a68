package models

// TableSpec describes one synced table.
type TableSpec struct {
	// Name is the table name on the source and the key into snapshots.
	Name string `yaml:"name" json:"name"`
	// KeyField is the column whose value is unique per row (e.g. "code", "id").
	KeyField string `yaml:"key_field" json:"key_field"`
	// Query fetches the full current state from the source. Defaults to
	// SELECT * FROM <name> when empty.
	Query string `yaml:"query,omitempty" json:"query,omitempty"`
	// Columns is the explicit destination column set. When empty the set is
	// derived from the first row of each apply batch, but batch homogeneity
	// is enforced either way.
	Columns []string `yaml:"columns,omitempty" json:"columns,omitempty"`
	// DestTable is the destination table name. Defaults to Name.
	DestTable string `yaml:"dest_table,omitempty" json:"dest_table,omitempty"`
	// Primary marks the table whose diff is applied first within a cycle's
	// transaction, so dependent tables see their parent rows.
	Primary bool `yaml:"primary,omitempty" json:"primary,omitempty"`
}

// FetchQuery returns the configured query or the default full-table select.
func (t TableSpec) FetchQuery() string {
	if t.Query != "" {
		return t.Query
	}
	return "SELECT * FROM " + t.Name
}

// Destination returns the destination table name.
func (t TableSpec) Destination() string {
	if t.DestTable != "" {
		return t.DestTable
	}
	return t.Name
}

// SyncJob binds one source to one destination with its table list.
type SyncJob struct {
	SourceKey      string      `yaml:"source" json:"source"`
	DestinationKey string      `yaml:"destination" json:"destination"`
	Tables         []TableSpec `yaml:"tables" json:"tables"`
}

// PrimaryTable returns the table marked primary, falling back to the first
// configured table.
func (j SyncJob) PrimaryTable() (TableSpec, bool) {
	for _, t := range j.Tables {
		if t.Primary {
			return t, true
		}
	}
	if len(j.Tables) > 0 {
		return j.Tables[0], true
	}
	return TableSpec{}, false
}

// OrderedTables returns the job's tables in apply order: the table marked
// primary moves to the front, the rest keep their configured order. Without
// a primary flag the configured order stands.
func (j SyncJob) OrderedTables() []TableSpec {
	primary, ok := j.PrimaryTable()
	if !ok || !primary.Primary {
		return j.Tables
	}
	ordered := make([]TableSpec, 0, len(j.Tables))
	ordered = append(ordered, primary)
	for _, t := range j.Tables {
		if t.Name != primary.Name {
			ordered = append(ordered, t)
		}
	}
	return ordered
}
