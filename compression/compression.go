package compression

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/klauspost/compress/gzip"
)

var gzipMagic = []byte{0x1f, 0x8b}

// IsGzip reports whether the byte prefix carries the gzip magic number.
func IsGzip(head []byte) bool {
	return len(head) >= 2 && head[0] == gzipMagic[0] && head[1] == gzipMagic[1]
}

// NewReader sniffs the stream's first bytes and wraps it in a gzip reader
// when the gzip magic number is present, passing it through untouched
// otherwise. The returned reader is lenient about damaged archives: a CRC
// mismatch or a truncated tail ends the stream with a warning instead of an
// error, because everything decompressed up to that point is still good data.
func NewReader(r io.Reader, logger log.Logger) (io.Reader, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(2)
	if err != nil {
		// Too short to be gzip, let the consumer see whatever is there.
		return br, nil
	}
	if !IsGzip(head) {
		logger.Debugf("Input is not gzip compressed, reading as-is")
		return br, nil
	}

	zr, err := gzip.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("open gzip stream: %w", err)
	}
	return &lenientReader{zr: zr, logger: logger}, nil
}

type lenientReader struct {
	zr     *gzip.Reader
	logger log.Logger
	done   bool
}

func (l *lenientReader) Read(p []byte) (int, error) {
	if l.done {
		return 0, io.EOF
	}
	n, err := l.zr.Read(p)
	if err == nil || err == io.EOF {
		return n, err
	}
	if errors.Is(err, gzip.ErrChecksum) || errors.Is(err, io.ErrUnexpectedEOF) {
		l.done = true
		l.logger.Warnf("Compressed input has a damaged tail (%s), continuing with the data decompressed so far", err)
		return n, nil
	}
	return n, err
}
