package dump

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// DataType identifies one of the four Discogs dump families.
type DataType string

const (
	Artist  DataType = "artist"
	Release DataType = "release"
	Master  DataType = "master"
	Label   DataType = "label"
)

// ErrUnknownDataType is returned when a locator does not name any dump family.
var ErrUnknownDataType = fmt.Errorf("unknown data type")

// All returns the dump families in a fixed order.
func All() []DataType {
	return []DataType{Artist, Release, Master, Label}
}

// RecordTag is the XML element name of a single record, e.g. "artist".
func (t DataType) RecordTag() string {
	return string(t)
}

// ContainerTag is the XML element name of the top-level collection, e.g. "artists".
func (t DataType) ContainerTag() string {
	return string(t) + "s"
}

func (t DataType) String() string {
	return string(t)
}

// DetectType scans a locator (URL, S3 URI or file path) for a dump family token.
// The order is fixed so that detection is deterministic.
func DetectType(locator string) (DataType, error) {
	for _, t := range All() {
		if strings.Contains(locator, t.RecordTag()) {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w in %q", ErrUnknownDataType, locator)
}

// Dump describes one input dump: where it lives, which family it belongs to
// and the dump date embedded in its file name.
type Dump struct {
	Locator string
	Type    DataType
	Date    time.Time
}

// Parse classifies a locator and derives the dump date from its file name.
// Discogs dump names follow the discogs_YYYYMMDD_<type>.xml[.gz] pattern.
func Parse(locator string) (Dump, error) {
	t, err := DetectType(locator)
	if err != nil {
		return Dump{}, err
	}

	base := BaseName(locator)
	parts := strings.Split(base, "_")
	if len(parts) < 2 {
		return Dump{}, fmt.Errorf("cannot derive dump date from file name %q", base)
	}
	date, err := time.Parse("20060102", parts[1])
	if err != nil {
		return Dump{}, fmt.Errorf("cannot derive dump date from file name %q: %w", base, err)
	}

	return Dump{Locator: locator, Type: t, Date: date}, nil
}

// OutputKey is the partitioned object key the converted dump is written to,
// e.g. releases/year=2018/month=01/releases_20180101.parquet.
func (d Dump) OutputKey() string {
	return fmt.Sprintf("%s/year=%04d/month=%02d/%s", d.Type.ContainerTag(), d.Date.Year(), int(d.Date.Month()), d.OutputName())
}

// OutputName is the bare output file name, used for local output.
func (d Dump) OutputName() string {
	return fmt.Sprintf("%s_%04d%02d01.parquet", d.Type.ContainerTag(), d.Date.Year(), int(d.Date.Month()))
}

// BaseName returns the file name component of a locator of any supported kind.
func BaseName(locator string) string {
	if IsHTTP(locator) || IsS3(locator) {
		if u, err := url.Parse(locator); err == nil {
			return path.Base(u.Path)
		}
	}
	return filepath.Base(locator)
}

// IsHTTP reports whether the locator is a web URL.
func IsHTTP(locator string) bool {
	return strings.HasPrefix(locator, "http://") || strings.HasPrefix(locator, "https://")
}

// IsS3 reports whether the locator is an s3://bucket/key URI.
func IsS3(locator string) bool {
	return strings.HasPrefix(locator, "s3://")
}

// ParseS3 splits an s3://bucket/key locator into bucket and key.
func ParseS3(locator string) (bucket, key string, err error) {
	u, err := url.Parse(locator)
	if err != nil {
		return "", "", fmt.Errorf("parse S3 locator: %w", err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("invalid S3 locator %q, expected s3://bucket/key", locator)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("invalid S3 locator %q, missing object key", locator)
	}
	return u.Host, key, nil
}
