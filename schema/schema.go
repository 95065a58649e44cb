package schema

import (
	"github.com/apache/arrow/go/v10/arrow"

	"github.com/vinylhound/discogs-etl/dump"
)

// Kind is the logical type of a column or nested field.
type Kind int

const (
	String Kind = iota
	Int64
	Int32
	Bool
	StringList
	StructList
)

// Field is one column of a table, or one member of a nested struct.
type Field struct {
	Name   string
	Kind   Kind
	Fields []Field // struct members when Kind is StructList
}

// Table is the fixed output schema of one dump family.
type Table struct {
	Type   dump.DataType
	Fields []Field
}

// imageFields lists image attributes with height first, the order used by
// artist, release and master tables. Label tables put width first.
func imageFields() []Field {
	return []Field{
		{Name: "height", Kind: Int32},
		{Name: "width", Kind: Int32},
		{Name: "type", Kind: String},
		{Name: "uri", Kind: String},
		{Name: "uri150", Kind: String},
	}
}

func labelImageFields() []Field {
	return []Field{
		{Name: "width", Kind: Int32},
		{Name: "height", Kind: Int32},
		{Name: "type", Kind: String},
		{Name: "uri", Kind: String},
		{Name: "uri150", Kind: String},
	}
}

// For returns the output table of the given dump family.
func For(t dump.DataType) Table {
	switch t {
	case dump.Artist:
		return Table{Type: t, Fields: []Field{
			{Name: "id", Kind: Int64},
			{Name: "name", Kind: String},
			{Name: "realname", Kind: String},
			{Name: "profile", Kind: String},
			{Name: "data_quality", Kind: String},
			{Name: "urls", Kind: StringList},
			{Name: "namevariations", Kind: StringList},
			{Name: "aliases", Kind: StringList},
			{Name: "groups", Kind: StringList},
			{Name: "members", Kind: StringList},
			{Name: "images", Kind: StructList, Fields: imageFields()},
		}}
	case dump.Release:
		return Table{Type: t, Fields: []Field{
			{Name: "id", Kind: Int64},
			{Name: "status", Kind: String},
			{Name: "title", Kind: String},
			{Name: "country", Kind: String},
			{Name: "released", Kind: String},
			{Name: "notes", Kind: String},
			{Name: "images", Kind: StructList, Fields: imageFields()},
			{Name: "artists", Kind: StringList},
			{Name: "labels", Kind: StructList, Fields: []Field{
				{Name: "name", Kind: String},
				{Name: "catno", Kind: String},
			}},
			{Name: "formats", Kind: StructList, Fields: []Field{
				{Name: "name", Kind: String},
				{Name: "qty", Kind: Int32},
				{Name: "descriptions", Kind: StringList},
			}},
			{Name: "genres", Kind: StringList},
			{Name: "styles", Kind: StringList},
		}}
	case dump.Master:
		return Table{Type: t, Fields: []Field{
			{Name: "id", Kind: Int64},
			{Name: "main_release", Kind: Int64},
			{Name: "artists", Kind: StructList, Fields: []Field{
				{Name: "id", Kind: Int64},
				{Name: "name", Kind: String},
				{Name: "anv", Kind: String},
				{Name: "join", Kind: String},
				{Name: "role", Kind: String},
				{Name: "tracks", Kind: String},
			}},
			{Name: "genres", Kind: StringList},
			{Name: "styles", Kind: StringList},
			{Name: "year", Kind: Int32},
			{Name: "title", Kind: String},
			{Name: "data_quality", Kind: String},
			{Name: "images", Kind: StructList, Fields: imageFields()},
			{Name: "videos", Kind: StructList, Fields: []Field{
				{Name: "duration", Kind: Int32},
				{Name: "embed", Kind: Bool},
				{Name: "src", Kind: String},
				{Name: "title", Kind: String},
				{Name: "description", Kind: String},
			}},
		}}
	case dump.Label:
		return Table{Type: t, Fields: []Field{
			{Name: "id", Kind: Int64},
			{Name: "name", Kind: String},
			{Name: "contactinfo", Kind: String},
			{Name: "profile", Kind: String},
			{Name: "data_quality", Kind: String},
			{Name: "images", Kind: StructList, Fields: labelImageFields()},
			{Name: "urls", Kind: StringList},
			{Name: "sublabels", Kind: StringList},
		}}
	}
	panic("unknown dump data type: " + string(t))
}

// Arrow converts the table to its Arrow schema. All columns are nullable.
func (t Table) Arrow() *arrow.Schema {
	fields := make([]arrow.Field, len(t.Fields))
	for i, f := range t.Fields {
		fields[i] = arrowField(f)
	}
	return arrow.NewSchema(fields, nil)
}

func arrowField(f Field) arrow.Field {
	return arrow.Field{Name: f.Name, Type: arrowType(f), Nullable: true}
}

func arrowType(f Field) arrow.DataType {
	switch f.Kind {
	case String:
		return arrow.BinaryTypes.String
	case Int64:
		return arrow.PrimitiveTypes.Int64
	case Int32:
		return arrow.PrimitiveTypes.Int32
	case Bool:
		return arrow.FixedWidthTypes.Boolean
	case StringList:
		return arrow.ListOf(arrow.BinaryTypes.String)
	case StructList:
		members := make([]arrow.Field, len(f.Fields))
		for i, m := range f.Fields {
			members[i] = arrowField(m)
		}
		return arrow.ListOf(arrow.StructOf(members...))
	}
	panic("unknown field kind")
}
