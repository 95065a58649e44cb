package etl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/docker/go-units"
	"github.com/vinylhound/discogs-etl/columnar"
	"github.com/vinylhound/discogs-etl/compression"
	"github.com/vinylhound/discogs-etl/extract"
	"github.com/vinylhound/discogs-etl/s3store"
	"github.com/vinylhound/discogs-etl/schema"
	"github.com/vinylhound/discogs-etl/xmlstream"
)

const parquetContentType = "application/octet-stream"

const progressInterval = 500000

type stats struct {
	records   int
	batches   int
	fragments int
	malformed int
}

func (p *Processor) writeOutput(ctx context.Context, cfg processConfig, source string) (stats, error) {
	if cfg.bucket == "" {
		return p.writeLocalFile(ctx, cfg, source)
	}
	if cfg.uploadWorkers > 1 {
		return p.uploadViaTempFile(ctx, cfg, source)
	}
	return p.streamToBucket(ctx, cfg, source)
}

func (p *Processor) writeLocalFile(ctx context.Context, cfg processConfig, source string) (stats, error) {
	if err := os.MkdirAll(cfg.outputDir, 0755); err != nil {
		return stats{}, fmt.Errorf("create output dir: %w", err)
	}
	outPath := filepath.Join(cfg.outputDir, cfg.dump.OutputName())

	out, err := os.Create(outPath)
	if err != nil {
		return stats{}, fmt.Errorf("create output file: %w", err)
	}

	st, err := p.convert(ctx, cfg, source, out)
	if closeErr := out.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("close output file: %w", closeErr)
	}
	if err != nil {
		p.removeQuietly(outPath)
		return st, err
	}

	if info, statErr := os.Stat(outPath); statErr == nil {
		p.logger.Infof("Wrote %s (%s)", outPath, units.HumanSizeWithPrecision(float64(info.Size()), 3))
	}
	return st, nil
}

// streamToBucket converts straight into a multipart upload, so no local
// copy of the parquet output ever exists.
func (p *Processor) streamToBucket(ctx context.Context, cfg processConfig, source string) (stats, error) {
	writer := s3store.NewMultipartWriter(ctx, p.s3Client, s3store.MultipartWriterParams{
		Bucket:      cfg.bucket,
		Key:         cfg.dump.OutputKey(),
		PartSize:    cfg.partSize,
		ContentType: parquetContentType,
	}, p.logger)

	st, err := p.convert(ctx, cfg, source, writer)
	if err != nil {
		writer.Abort()
		return st, err
	}
	if err := writer.Close(); err != nil {
		return st, err
	}
	return st, nil
}

// uploadViaTempFile writes the parquet output to disk first and uploads it
// with parallel part workers, trading temp disk space for transfer speed.
func (p *Processor) uploadViaTempFile(ctx context.Context, cfg processConfig, source string) (stats, error) {
	tempDir, err := p.pathProvider.CreateTempDir("dump-output")
	if err != nil {
		return stats{}, fmt.Errorf("create temp dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(tempDir); err != nil {
			p.logger.Warnf("Failed to remove %s: %s", tempDir, err)
			os.RemoveAll(tempDir)
		}
	}()

	tempPath := filepath.Join(tempDir, cfg.dump.OutputName())
	out, err := os.Create(tempPath)
	if err != nil {
		return stats{}, fmt.Errorf("create temp file: %w", err)
	}
	st, err := p.convert(ctx, cfg, source, out)
	if closeErr := out.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("close temp file: %w", closeErr)
	}
	if err != nil {
		return st, err
	}

	if err := p.uploader.UploadFile(ctx, tempPath, s3store.ParallelUploadParams{
		Bucket:      cfg.bucket,
		Key:         cfg.dump.OutputKey(),
		PartSize:    cfg.partSize,
		Workers:     cfg.uploadWorkers,
		ContentType: parquetContentType,
	}); err != nil {
		return st, err
	}
	return st, nil
}

// convert runs the XML to parquet pipeline from a staged dump file into
// sink. Records stream through a fixed-size batch builder, so memory use is
// bounded by the batch size, not the dump size.
func (p *Processor) convert(ctx context.Context, cfg processConfig, source string, sink io.Writer) (stats, error) {
	var st stats

	file, err := os.Open(source)
	if err != nil {
		return st, fmt.Errorf("open dump: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			p.logger.Warnf("Failed to close %s: %s", source, err)
		}
	}()

	reader, err := compression.NewReader(file, p.logger)
	if err != nil {
		return st, err
	}

	table := schema.For(cfg.dump.Type)
	writer, err := columnar.NewParquetWriter(sink, table.Arrow())
	if err != nil {
		return st, err
	}

	builder := columnar.NewBuilder(table, cfg.chunkSize, func(rec arrow.Record) error {
		st.batches++
		return writer.Write(rec)
	})

	extractor := extract.ForType(cfg.dump.Type)
	recordTag := cfg.dump.Type.RecordTag()
	chunker := xmlstream.NewChunker(reader, recordTag)
	parser := xmlstream.NewParser(recordTag, cfg.dump.Type.ContainerTag(), p.logger)

	nextProgress := progressInterval
	for {
		if err := ctx.Err(); err != nil {
			return st, err
		}

		fragment, err := chunker.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return st, fmt.Errorf("read dump: %w", err)
		}
		st.fragments++

		n, err := parser.Parse(fragment, func(node *xmlstream.Node) error {
			if err := builder.Append(extractor(node)); err != nil {
				return err
			}
			st.records++
			return nil
		})
		if err != nil {
			return st, err
		}
		if n == 0 {
			if looksLikeRecord(fragment, recordTag) {
				st.malformed++
				p.logger.Warnf("Skipping malformed %s fragment #%d", recordTag, st.fragments)
			} else {
				p.logger.Debugf("Fragment #%d held no %s records", st.fragments, recordTag)
			}
		}

		if st.records >= nextProgress {
			p.logger.Printf("Processed %d records...", st.records)
			nextProgress += progressInterval
		}
	}

	if err := builder.Close(); err != nil {
		return st, err
	}
	if err := writer.Close(); err != nil {
		return st, fmt.Errorf("finish parquet file: %w", err)
	}
	return st, nil
}

// looksLikeRecord reports whether the fragment holds the opening of a
// record element, which separates a lost record from document framing.
func looksLikeRecord(fragment []byte, recordTag string) bool {
	return bytes.Contains(fragment, []byte("<"+recordTag+">")) ||
		bytes.Contains(fragment, []byte("<"+recordTag+" "))
}

func (p *Processor) removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		p.logger.Warnf("Failed to remove %s: %s", path, err)
	}
}
