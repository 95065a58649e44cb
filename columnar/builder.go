package columnar

import (
	"errors"
	"fmt"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"
	"github.com/apache/arrow/go/v10/arrow/memory"

	"github.com/vinylhound/discogs-etl/schema"
)

// SchemaError reports a record value that cannot be stored in its column.
// It carries the offending record so the bad input can be tracked down in
// a multi-gigabyte dump.
type SchemaError struct {
	Table  string
	Column string
	Value  any
	Record schema.Record
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("record does not fit the %s table: column %q cannot hold %T (%v); record: %v",
		e.Table, e.Column, e.Value, e.Value, e.Record)
}

// Builder accumulates records and materializes them as Arrow record batches
// of a fixed row count. Completed batches are pushed to the out callback and
// released right after, so at most one batch is in memory at a time.
type Builder struct {
	table schema.Table
	rb    *array.RecordBuilder
	out   func(arrow.Record) error
	size  int
	rows  int
}

// NewBuilder returns a Builder that emits a batch to out every batchSize
// records. The callback must not retain the batch beyond the call.
func NewBuilder(table schema.Table, batchSize int, out func(arrow.Record) error) *Builder {
	return &Builder{
		table: table,
		rb:    array.NewRecordBuilder(memory.NewGoAllocator(), table.Arrow()),
		out:   out,
		size:  batchSize,
	}
}

// Append adds one record to the current batch, flushing when the batch is
// full. A SchemaError aborts the batch; the builder must not be used after
// a failed Append.
func (b *Builder) Append(rec schema.Record) error {
	for i, f := range b.table.Fields {
		if err := b.appendValue(b.rb.Field(i), f, rec[f.Name]); err != nil {
			var se *SchemaError
			if errors.As(err, &se) {
				se.Table = string(b.table.Type)
				se.Record = rec
			}
			return err
		}
	}
	b.rows++
	if b.rows >= b.size {
		return b.Flush()
	}
	return nil
}

// Flush materializes the pending rows, if any, and pushes them downstream.
func (b *Builder) Flush() error {
	if b.rows == 0 {
		return nil
	}
	rec := b.rb.NewRecord()
	defer rec.Release()
	b.rows = 0
	return b.out(rec)
}

// Close flushes the final partial batch and releases the column builders.
// The Builder must not be used afterwards.
func (b *Builder) Close() error {
	err := b.Flush()
	b.rb.Release()
	return err
}

// appendValue writes one value into a column builder. Missing integers and
// booleans take their zero defaults, missing strings stay null and missing
// lists become empty lists rather than nulls.
func (b *Builder) appendValue(bldr array.Builder, f schema.Field, v any) error {
	switch f.Kind {
	case schema.String:
		sb := bldr.(*array.StringBuilder)
		switch s := v.(type) {
		case nil:
			sb.AppendNull()
		case string:
			sb.Append(s)
		default:
			return &SchemaError{Column: f.Name, Value: v}
		}
	case schema.Int64:
		ib := bldr.(*array.Int64Builder)
		switch n := v.(type) {
		case nil:
			ib.Append(0)
		case int64:
			ib.Append(n)
		case int:
			ib.Append(int64(n))
		default:
			return &SchemaError{Column: f.Name, Value: v}
		}
	case schema.Int32:
		ib := bldr.(*array.Int32Builder)
		switch n := v.(type) {
		case nil:
			ib.Append(0)
		case int64:
			ib.Append(int32(n))
		case int:
			ib.Append(int32(n))
		default:
			return &SchemaError{Column: f.Name, Value: v}
		}
	case schema.Bool:
		bb := bldr.(*array.BooleanBuilder)
		switch x := v.(type) {
		case nil:
			bb.Append(false)
		case bool:
			bb.Append(x)
		default:
			return &SchemaError{Column: f.Name, Value: v}
		}
	case schema.StringList:
		lb := bldr.(*array.ListBuilder)
		vb := lb.ValueBuilder().(*array.StringBuilder)
		switch items := v.(type) {
		case nil:
			lb.Append(true)
		case []string:
			lb.Append(true)
			for _, s := range items {
				vb.Append(s)
			}
		default:
			return &SchemaError{Column: f.Name, Value: v}
		}
	case schema.StructList:
		lb := bldr.(*array.ListBuilder)
		sb := lb.ValueBuilder().(*array.StructBuilder)
		switch items := v.(type) {
		case nil:
			lb.Append(true)
		case []schema.Struct:
			lb.Append(true)
			for _, item := range items {
				sb.Append(true)
				for j, member := range f.Fields {
					if err := b.appendValue(sb.FieldBuilder(j), member, item[member.Name]); err != nil {
						return err
					}
				}
			}
		default:
			return &SchemaError{Column: f.Name, Value: v}
		}
	default:
		return &SchemaError{Column: f.Name, Value: v}
	}
	return nil
}
