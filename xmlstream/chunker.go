package xmlstream

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
)

const defaultReadSize = 1024 * 1024

// Document wrapper elements show up in some dump exports around the record
// stream. They carry no data and are stripped before parsing.
var documentWrapperRe = regexp.MustCompile(`</?document[^>]*>`)

// Chunker splits a raw XML byte stream into fragments that each end on a
// record closing tag, so a fragment never cuts a record in half. Only the
// bytes between two closing tags are ever buffered, which keeps memory
// bounded no matter how large the dump is.
type Chunker struct {
	r        io.Reader
	closing  []byte
	buf      []byte
	readBuf  []byte
	eof      bool
	leftover bool
}

// NewChunker returns a Chunker that cuts after every </recordTag>.
func NewChunker(r io.Reader, recordTag string) *Chunker {
	return &Chunker{
		r:       r,
		closing: []byte("</" + recordTag + ">"),
		readBuf: make([]byte, defaultReadSize),
	}
}

// Next returns the next fragment, or io.EOF once the stream is exhausted.
// The final fragment may hold trailing bytes with no closing tag, typically
// the container's own closing tag.
func (c *Chunker) Next() ([]byte, error) {
	for {
		if idx := bytes.Index(c.buf, c.closing); idx >= 0 {
			cut := idx + len(c.closing)
			frag := c.buf[:cut]
			c.buf = append([]byte(nil), c.buf[cut:]...)
			return c.strip(frag), nil
		}
		if c.eof {
			if c.leftover {
				return nil, io.EOF
			}
			c.leftover = true
			tail := c.strip(c.buf)
			if len(bytes.TrimSpace(tail)) == 0 {
				return nil, io.EOF
			}
			return tail, nil
		}
		n, err := c.r.Read(c.readBuf)
		if n > 0 {
			c.buf = append(c.buf, c.readBuf[:n]...)
		}
		if err == io.EOF {
			c.eof = true
		} else if err != nil {
			return nil, fmt.Errorf("read input stream: %w", err)
		}
	}
}

func (c *Chunker) strip(frag []byte) []byte {
	if bytes.Contains(frag, []byte("<document")) || bytes.Contains(frag, []byte("</document")) {
		frag = documentWrapperRe.ReplaceAll(frag, nil)
	}
	return frag
}
