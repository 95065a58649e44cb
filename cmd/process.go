package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/docker/go-units"
	"github.com/spf13/cobra"
	"github.com/vinylhound/discogs-etl/config"
	"github.com/vinylhound/discogs-etl/download"
	"github.com/vinylhound/discogs-etl/dump"
	"github.com/vinylhound/discogs-etl/etl"
	"github.com/vinylhound/discogs-etl/s3store"
)

// storeSettings come from the environment so credentials stay out of shell
// history.
type storeSettings struct {
	AccessKeyID     config.Secret `env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey config.Secret `env:"AWS_SECRET_ACCESS_KEY"`
	Region          string        `env:"AWS_REGION"`
	Endpoint        string        `env:"AWS_ENDPOINT_URL"`
}

var processFlags struct {
	bucket            string
	region            string
	outputDir         string
	checksum          string
	chunkSize         int
	partSize          string
	downloadChunkSize string
	downloadWorkers   int
	uploadWorkers     int
	initBucket        bool
	verbose           bool
}

var processCmd = &cobra.Command{
	Use:   "process <source>...",
	Short: "Convert one or more dumps",
	Long: `Convert Discogs XML dumps into parquet files.

A source can be an https:// download URL, an s3:// object, a local file,
or a local glob pattern such as 'dumps/discogs_*_artists.xml.gz'. The
record family and dump date are read from the file name.`,
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProcess(cmd.Context(), args)
	},
}

func init() {
	rootCmd.AddCommand(processCmd)

	processCmd.Flags().StringVarP(&processFlags.bucket, "bucket", "b", "", "upload results to this bucket instead of the output dir")
	processCmd.Flags().StringVar(&processFlags.region, "region", "", "bucket region (falls back to AWS_REGION, then us-east-1)")
	processCmd.Flags().StringVarP(&processFlags.outputDir, "output-dir", "o", ".", "directory for parquet files when no bucket is set")
	processCmd.Flags().StringVar(&processFlags.checksum, "checksum", "", "sha256 digest, or the URL or path of a checksum manifest")
	processCmd.Flags().IntVar(&processFlags.chunkSize, "chunk-size", etl.DefaultChunkSize, "records per parquet row group")
	processCmd.Flags().StringVar(&processFlags.partSize, "part-size", "16MB", "multipart upload part size")
	processCmd.Flags().StringVar(&processFlags.downloadChunkSize, "download-chunk-size", "32MB", "ranged download chunk size")
	processCmd.Flags().IntVar(&processFlags.downloadWorkers, "download-workers", 8, "parallel download ranges")
	processCmd.Flags().IntVar(&processFlags.uploadWorkers, "upload-workers", 1, "parallel upload workers, 1 streams the upload instead")
	processCmd.Flags().BoolVar(&processFlags.initBucket, "init-bucket", false, "create the record family prefixes before converting")
	processCmd.Flags().BoolVarP(&processFlags.verbose, "verbose", "v", false, "enable debug logging")
}

func runProcess(ctx context.Context, args []string) error {
	startTime := time.Now()

	logger := log.NewLogger()
	logger.EnableDebugLog(processFlags.verbose)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var settings storeSettings
	if err := config.NewParser(env.NewRepository()).Parse(&settings); err != nil {
		return err
	}
	config.Print(settings)

	sources, err := expandSources(logger, args)
	if err != nil {
		return err
	}

	region := processFlags.region
	if region == "" {
		region = settings.Region
	}
	if region == "" {
		region = "us-east-1"
	}

	var s3Client etl.S3Client
	if needsObjectStore(sources) {
		client, err := s3store.NewClient(ctx, s3store.ClientConfig{
			Region:          region,
			AccessKeyID:     string(settings.AccessKeyID),
			SecretAccessKey: string(settings.SecretAccessKey),
			Endpoint:        settings.Endpoint,
		}, logger)
		if err != nil {
			return err
		}
		s3Client = client
	}

	downloadChunkSize, err := units.RAMInBytes(processFlags.downloadChunkSize)
	if err != nil {
		return fmt.Errorf("invalid download chunk size %s: %s", processFlags.downloadChunkSize, err)
	}

	httpClient := download.NewClient(logger)
	downloader := download.NewDownloader(download.DownloaderConfig{
		Workers:   processFlags.downloadWorkers,
		ChunkSize: downloadChunkSize,
	}, httpClient, pathutil.NewPathProvider(), logger)

	processor := etl.NewProcessor(logger, pathutil.NewPathProvider(), httpClient, downloader, s3Client)

	for _, source := range sources {
		if err := processor.Run(ctx, etl.ProcessInput{
			Source:            source,
			Checksum:          processFlags.checksum,
			Bucket:            processFlags.bucket,
			Region:            region,
			OutputDir:         processFlags.outputDir,
			ChunkSize:         processFlags.chunkSize,
			PartSize:          processFlags.partSize,
			DownloadChunkSize: processFlags.downloadChunkSize,
			DownloadWorkers:   processFlags.downloadWorkers,
			UploadWorkers:     processFlags.uploadWorkers,
			InitBucket:        processFlags.initBucket,
		}); err != nil {
			return fmt.Errorf("process %s: %w", source, err)
		}
	}

	if len(sources) > 1 {
		logger.Println()
		logger.Donef("Processed %d dumps in %s", len(sources), time.Since(startTime).Round(time.Second))
	}
	return nil
}

func needsObjectStore(sources []string) bool {
	if processFlags.bucket != "" {
		return true
	}
	for _, source := range sources {
		if dump.IsS3(source) {
			return true
		}
	}
	return false
}

// expandSources resolves local glob patterns. URLs and object store
// locators pass through untouched.
func expandSources(logger log.Logger, args []string) ([]string, error) {
	var sources []string
	for _, arg := range args {
		if dump.IsHTTP(arg) || dump.IsS3(arg) || !strings.Contains(arg, "*") {
			sources = append(sources, arg)
			continue
		}

		base, pattern := doublestar.SplitPattern(arg)
		absBase, err := pathutil.NewPathModifier().AbsPath(base)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", base, err)
		}
		matches, err := doublestar.Glob(os.DirFS(absBase), pattern, doublestar.WithNoFollow())
		if err != nil {
			return nil, fmt.Errorf("expand pattern %s: %w", arg, err)
		}
		if len(matches) == 0 {
			logger.Warnf("No match for pattern: %s", arg)
			continue
		}
		for _, match := range matches {
			sources = append(sources, filepath.Join(base, match))
		}
	}

	if len(sources) == 0 {
		return nil, fmt.Errorf("no inputs matched")
	}
	return sources, nil
}
