package xmlstream

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"

	"github.com/bitrise-io/go-utils/v2/log"
)

// Parser turns sanitized XML fragments into record nodes. It is lenient:
// mismatched or missing end tags are tolerated, and when a fragment is broken
// beyond repair the parser resynchronizes at the next tag opening instead of
// giving up, so one bad record cannot poison the records around it.
type Parser struct {
	recordTag    string
	containerTag string
	logger       log.Logger
}

// NewParser returns a Parser that emits elements named recordTag sitting
// either at the top level or directly under a top-level containerTag element.
func NewParser(recordTag, containerTag string, logger log.Logger) *Parser {
	return &Parser{
		recordTag:    recordTag,
		containerTag: containerTag,
		logger:       logger,
	}
}

// Parse sanitizes the fragment and calls emit once per complete record, in
// document order. Each record is handed over as soon as its end tag is seen
// and detached from its parent right away, so memory stays proportional to a
// single record. The returned count is the number of records emitted; an
// error from emit stops parsing and is returned as-is, while XML syntax
// errors are recovered from and never returned.
func (p *Parser) Parse(fragment []byte, emit func(*Node) error) (int, error) {
	data := Sanitize(fragment)
	if len(data) == 0 {
		return 0, nil
	}

	total := 0
	off := 0
	for off < len(data) {
		dec := xml.NewDecoder(bytes.NewReader(data[off:]))
		dec.Strict = false
		dec.CharsetReader = passthroughCharset

		n, err := p.drain(dec, emit)
		total += n
		if err == nil {
			break
		}
		var ee *emitError
		if errors.As(err, &ee) {
			return total, ee.err
		}

		pos := off + int(dec.InputOffset())
		if pos+1 >= len(data) {
			p.logger.Debugf("Dropping unparsable tail (%d bytes): %s", len(data)-off, err)
			break
		}
		next := bytes.IndexByte(data[pos+1:], '<')
		if next < 0 {
			p.logger.Debugf("Dropping unparsable tail (%d bytes): %s", len(data)-off, err)
			break
		}
		off = pos + 1 + next
		p.logger.Debugf("Resuming XML parse at offset %d: %s", off, err)
	}
	return total, nil
}

// drain runs one decoder until EOF or error, harvesting records on the way.
// Records seen before a mid-stream error are already emitted when the error
// comes back, so a truncated tail never costs the fragment's good records.
func (p *Parser) drain(dec *xml.Decoder, emit func(*Node) error) (int, error) {
	var stack []*Node
	count := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return count, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			n := &Node{Tag: t.Name.Local}
			if len(t.Attr) > 0 {
				n.Attr = make(map[string]string, len(t.Attr))
				for _, a := range t.Attr {
					n.Attr[a.Name.Local] = a.Value
				}
			}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, n)
			}
			stack = append(stack, n)
		case xml.EndElement:
			if len(stack) == 0 {
				continue
			}
			n := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if n.Tag != p.recordTag || !p.isRecordParent(stack) {
				continue
			}
			// Detach the finished record before handing it over so the
			// enclosing collection element never accumulates records.
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.Children = parent.Children[:len(parent.Children)-1]
			}
			count++
			if err := emit(n); err != nil {
				return count, &emitError{err: err}
			}
		case xml.CharData:
			if len(stack) > 0 {
				top := stack[len(stack)-1]
				top.Text += string(t)
			}
		}
	}
}

// isRecordParent reports whether the element whose parents are on the stack
// sits at a valid record position: at the top level of a standalone fragment,
// or directly under a top-level collection element. Record-tag elements
// nested deeper, such as artist credits inside a master, do not qualify.
func (p *Parser) isRecordParent(stack []*Node) bool {
	if len(stack) == 0 {
		return true
	}
	return len(stack) == 1 && stack[0].Tag == p.containerTag
}

// passthroughCharset accepts any declared encoding and reads the bytes as-is.
// Dump files are UTF-8 regardless of what their prolog claims, and Sanitize
// has already replaced invalid sequences.
func passthroughCharset(charset string, input io.Reader) (io.Reader, error) {
	return input, nil
}

type emitError struct {
	err error
}

func (e *emitError) Error() string {
	return e.err.Error()
}

func (e *emitError) Unwrap() error {
	return e.err
}
