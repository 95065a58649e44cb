package etl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/vinylhound/discogs-etl/download"
	"github.com/vinylhound/discogs-etl/dump"
	"github.com/vinylhound/discogs-etl/s3store"
)

// stageSource makes the dump available as a local file. HTTP and s3 sources
// are fetched into a temp dir which the returned cleanup removes; local
// sources are used in place.
func (p *Processor) stageSource(ctx context.Context, cfg processConfig) (string, func(), error) {
	noop := func() {}
	locator := cfg.dump.Locator

	switch {
	case dump.IsHTTP(locator):
		digest, err := p.resolveChecksum(ctx, cfg.checksum, locator)
		if err != nil {
			return "", noop, err
		}
		tempDir, cleanup, err := p.stagingDir()
		if err != nil {
			return "", noop, err
		}
		destination := filepath.Join(tempDir, dump.BaseName(locator))
		if err := p.downloader.Download(ctx, download.Params{
			URL:              locator,
			DestinationPath:  destination,
			ExpectedChecksum: digest,
		}); err != nil {
			cleanup()
			return "", noop, err
		}
		return destination, cleanup, nil

	case dump.IsS3(locator):
		if p.s3Client == nil {
			return "", noop, fmt.Errorf("source %s needs an object store client", locator)
		}
		bucket, key, err := dump.ParseS3(locator)
		if err != nil {
			return "", noop, err
		}
		tempDir, cleanup, err := p.stagingDir()
		if err != nil {
			return "", noop, err
		}
		destination := filepath.Join(tempDir, dump.BaseName(locator))
		if err := s3store.StageObject(ctx, p.s3Client, s3store.StageParams{
			Bucket:          bucket,
			Key:             key,
			DestinationPath: destination,
			PartSize:        cfg.downloadChunkSize,
			Workers:         cfg.downloadWorkers,
		}, p.logger); err != nil {
			cleanup()
			return "", noop, err
		}
		if err := p.verifyChecksum(ctx, cfg.checksum, locator, destination); err != nil {
			cleanup()
			return "", noop, err
		}
		return destination, cleanup, nil

	default:
		if _, err := os.Stat(locator); err != nil {
			return "", noop, fmt.Errorf("open dump: %w", err)
		}
		if err := p.verifyChecksum(ctx, cfg.checksum, locator, locator); err != nil {
			return "", noop, err
		}
		return locator, noop, nil
	}
}

func (p *Processor) stagingDir() (string, func(), error) {
	tempDir, err := p.pathProvider.CreateTempDir("dump-stage")
	if err != nil {
		return "", nil, fmt.Errorf("create staging dir: %w", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(tempDir); err != nil {
			p.logger.Warnf("Failed to remove %s: %s", tempDir, err)
			os.RemoveAll(tempDir)
		}
	}
	return tempDir, cleanup, nil
}

// verifyChecksum hashes the staged file and compares it against the
// configured digest when one is available.
func (p *Processor) verifyChecksum(ctx context.Context, checksum, locator, path string) error {
	digest, err := p.resolveChecksum(ctx, checksum, locator)
	if err != nil {
		return err
	}
	if digest == "" {
		return nil
	}

	actual, err := p.hashFile(path)
	if err != nil {
		return err
	}
	if !strings.EqualFold(digest, actual) {
		return &download.ChecksumError{Expected: strings.ToLower(digest), Actual: actual}
	}
	p.logger.Debugf("Checksum of %s verified", path)
	return nil
}

// resolveChecksum turns the checksum input into a hex digest. It accepts a
// raw digest, the URL of a checksum manifest, or the path of a local one.
func (p *Processor) resolveChecksum(ctx context.Context, checksum, locator string) (string, error) {
	switch {
	case checksum == "":
		return "", nil
	case dump.IsHexDigest(checksum):
		return strings.ToLower(checksum), nil
	case dump.IsHTTP(checksum):
		body, err := p.httpClient.Get(ctx, checksum)
		if err != nil {
			return "", fmt.Errorf("fetch checksum manifest: %w", err)
		}
		defer func() {
			if err := body.Close(); err != nil {
				p.logger.Warnf("Failed to close manifest response: %s", err)
			}
		}()
		return digestFromManifest(body, locator, checksum)
	default:
		file, err := os.Open(checksum)
		if err != nil {
			return "", fmt.Errorf("open checksum manifest: %w", err)
		}
		defer func() {
			if err := file.Close(); err != nil {
				p.logger.Warnf("Failed to close %s: %s", checksum, err)
			}
		}()
		return digestFromManifest(file, locator, checksum)
	}
}

func digestFromManifest(r io.Reader, locator, manifest string) (string, error) {
	sums, err := dump.ParseManifest(r)
	if err != nil {
		return "", fmt.Errorf("parse checksum manifest: %w", err)
	}
	digest, ok := dump.DigestFor(sums, locator)
	if !ok {
		return "", fmt.Errorf("no digest for %s in %s", dump.BaseName(locator), manifest)
	}
	return digest, nil
}

func (p *Processor) hashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			p.logger.Warnf("Failed to close %s: %s", path, err)
		}
	}()

	digest := sha256.New()
	if _, err := io.Copy(digest, file); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}
