package columnar

import (
	"fmt"
	"io"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/parquet"
	"github.com/apache/arrow/go/v10/parquet/compress"
	"github.com/apache/arrow/go/v10/parquet/pqarrow"
)

// ParquetWriter streams Arrow record batches into a Parquet file, one row
// group per batch. It writes into any io.Writer, so the file can go straight
// into a multipart object upload without touching disk.
type ParquetWriter struct {
	fw *pqarrow.FileWriter
}

// NewParquetWriter returns a writer producing snappy-compressed Parquet with
// plain encoding, matching what downstream dump consumers expect.
func NewParquetWriter(w io.Writer, s *arrow.Schema) (*ParquetWriter, error) {
	props := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Snappy),
		parquet.WithDictionaryDefault(false),
	)
	fw, err := pqarrow.NewFileWriter(s, w, props, pqarrow.DefaultWriterProps())
	if err != nil {
		return nil, fmt.Errorf("create parquet writer: %w", err)
	}
	return &ParquetWriter{fw: fw}, nil
}

// Write appends one record batch as a new row group.
func (p *ParquetWriter) Write(rec arrow.Record) error {
	if err := p.fw.Write(rec); err != nil {
		return fmt.Errorf("write record batch: %w", err)
	}
	return nil
}

// Close writes the Parquet footer. It must be called exactly once; the file
// is unreadable without it.
func (p *ParquetWriter) Close() error {
	if err := p.fw.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}
