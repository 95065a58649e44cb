package schema

// Record is one extracted dump record, keyed by column name. Values are one of
// nil, string, int64, bool, []string or []Struct; the column order comes from
// the table definition, not from the map.
type Record map[string]any

// Struct is one item of a nested list column, e.g. a single image or video.
type Struct map[string]any
