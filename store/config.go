package store

// Config holds table and index names for the Store.
type Config struct {
	// Table is the name of the entity table.
	// Default: "arbor_entities"
	Table string

	// TreeTable is the name of the tree-index table.
	// Default: "arbor_tree"
	TreeTable string

	// AlternateKeyIndex is the GSI on the entity table keyed by the "ak"
	// attribute, used for cross-entity lookup by a dimension other than
	// entityId.
	// Default: "ak-index"
	AlternateKeyIndex string

	// TreePathIndex is the GSI on the tree table keyed by (tree, path),
	// queried with begins_with for subtree listings.
	// Default: "tree-path-index"
	TreePathIndex string
}

// DefaultConfig returns the default table and index names.
func DefaultConfig() Config {
	return Config{
		Table:             "arbor_entities",
		TreeTable:         "arbor_tree",
		AlternateKeyIndex: "ak-index",
		TreePathIndex:     "tree-path-index",
	}
}

// validate fills in defaults for any unset field.
func (c *Config) validate() {
	if c.Table == "" {
		c.Table = "arbor_entities"
	}
	if c.TreeTable == "" {
		c.TreeTable = "arbor_tree"
	}
	if c.AlternateKeyIndex == "" {
		c.AlternateKeyIndex = "ak-index"
	}
	if c.TreePathIndex == "" {
		c.TreePathIndex = "tree-path-index"
	}
}
