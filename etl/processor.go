package etl

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/docker/go-units"
	"github.com/vinylhound/discogs-etl/download"
	"github.com/vinylhound/discogs-etl/dump"
	"github.com/vinylhound/discogs-etl/s3store"
)

// DefaultChunkSize is the number of records per output batch when no chunk
// size is configured. One batch becomes one parquet row group.
const DefaultChunkSize = 3000

// S3Client bundles the object store capabilities the pipeline uses.
type S3Client interface {
	s3store.S3API
	s3store.BucketAPI
	manager.DownloadAPIClient
}

// ProcessInput is everything one dump conversion needs, as collected from
// flags and the environment. Sizes are human readable strings ("32MB").
type ProcessInput struct {
	Source            string
	Checksum          string
	Bucket            string
	Region            string
	OutputDir         string
	ChunkSize         int
	PartSize          string
	DownloadChunkSize string
	DownloadWorkers   int
	UploadWorkers     int
	InitBucket        bool
}

type processConfig struct {
	dump              dump.Dump
	checksum          string
	bucket            string
	region            string
	outputDir         string
	chunkSize         int
	partSize          int64
	downloadChunkSize int64
	downloadWorkers   int
	uploadWorkers     int
	initBucket        bool
}

// Processor converts one dump end to end: stage the input, parse and
// extract its records, write parquet, deliver the output.
type Processor struct {
	logger       log.Logger
	pathProvider pathutil.PathProvider
	httpClient   *download.Client
	downloader   *download.Downloader
	s3Client     S3Client
	uploader     *s3store.Uploader
}

// NewProcessor creates a Processor. s3Client may be nil when neither the
// source nor the output involves an object store.
func NewProcessor(logger log.Logger, pathProvider pathutil.PathProvider, httpClient *download.Client, downloader *download.Downloader, s3Client S3Client) *Processor {
	p := &Processor{
		logger:       logger,
		pathProvider: pathProvider,
		httpClient:   httpClient,
		downloader:   downloader,
		s3Client:     s3Client,
	}
	if s3Client != nil {
		p.uploader = s3store.NewUploader(s3Client, logger)
	}
	return p
}

func (p *Processor) createConfig(input ProcessInput) (processConfig, error) {
	dumpInfo, err := dump.Parse(input.Source)
	if err != nil {
		return processConfig{}, err
	}

	cfg := processConfig{
		dump:            dumpInfo,
		checksum:        input.Checksum,
		bucket:          input.Bucket,
		region:          input.Region,
		outputDir:       input.OutputDir,
		chunkSize:       input.ChunkSize,
		downloadWorkers: input.DownloadWorkers,
		uploadWorkers:   input.UploadWorkers,
		initBucket:      input.InitBucket,
	}
	if cfg.chunkSize <= 0 {
		cfg.chunkSize = DefaultChunkSize
	}
	if cfg.outputDir == "" {
		cfg.outputDir = "."
	}

	if input.PartSize != "" {
		size, err := units.RAMInBytes(input.PartSize)
		if err != nil {
			return processConfig{}, fmt.Errorf("invalid part size %s: %s", input.PartSize, err)
		}
		cfg.partSize = size
	}
	if input.DownloadChunkSize != "" {
		size, err := units.RAMInBytes(input.DownloadChunkSize)
		if err != nil {
			return processConfig{}, fmt.Errorf("invalid download chunk size %s: %s", input.DownloadChunkSize, err)
		}
		cfg.downloadChunkSize = size
	}
	return cfg, nil
}

// Run converts a single dump.
func (p *Processor) Run(ctx context.Context, input ProcessInput) error {
	startTime := time.Now()

	cfg, err := p.createConfig(input)
	if err != nil {
		return err
	}

	p.logger.Println()
	p.logger.Infof("Converting %s dump %s (dated %s)", cfg.dump.Type, dump.BaseName(cfg.dump.Locator), cfg.dump.Date.Format("2006-01-02"))

	if cfg.bucket != "" {
		if p.s3Client == nil {
			return fmt.Errorf("bucket %s configured without an object store client", cfg.bucket)
		}
		if err := s3store.EnsureBucket(ctx, p.s3Client, cfg.bucket, cfg.region, p.logger); err != nil {
			return err
		}
		if cfg.initBucket {
			if err := s3store.InitLayout(ctx, p.s3Client, cfg.bucket, p.logger); err != nil {
				return err
			}
		}
	}

	source, cleanup, err := p.stageSource(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	st, err := p.writeOutput(ctx, cfg, source)
	if err != nil {
		return err
	}

	if st.records == 0 {
		p.logger.Warnf("No %s records found in %s", cfg.dump.Type.RecordTag(), dump.BaseName(cfg.dump.Locator))
	}
	if st.malformed > 0 {
		p.logger.Warnf("Skipped %d malformed fragments", st.malformed)
	}
	p.logger.Donef("Converted %d %s records in %d batches in %s",
		st.records, cfg.dump.Type.RecordTag(), st.batches, time.Since(startTime).Round(time.Second))
	return nil
}
