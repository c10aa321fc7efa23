package http1

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	"github.com/dchest/uniuri"
	"github.com/indigo-web/utils/strcomp"
	"github.com/indigo-web/utils/uf"

	"github.com/lumen-web/lumen/http"
	"github.com/lumen-web/lumen/http/method"
	"github.com/lumen-web/lumen/http/proto"
	"github.com/lumen-web/lumen/http/status"
)

// State of the request parser state machine.
type State uint8

const (
	StateStartLine State = iota + 1
	StateHeaders
	StateBody
	StateChunkedBody
	StateComplete
	StateError
)

func (s State) String() string {
	lut := [...]string{
		StateStartLine: "start-line", StateHeaders: "headers", StateBody: "body",
		StateChunkedBody: "chunked-body", StateComplete: "complete", StateError: "error",
	}
	if int(s) >= len(lut) {
		return ""
	}

	return lut[s]
}

// Result describes the outcome of a single Parse call. Success stays true
// while the parser simply needs more data; it flips only on a protocol
// violation, with Err carrying the reason.
type Result struct {
	Success  bool
	State    State
	Consumed int
	Err      error
}

const defaultMaxRequestLine = 8192

var crlf = []byte("\r\n")

// Parser is an incremental HTTP/1.x request parser. It does no I/O: bytes go
// in via Parse, a completed request comes out via TakeRequest. Feeding the
// same stream in arbitrary splits always produces the same final state and
// request as feeding it whole.
type Parser struct {
	state   State
	buf     []byte
	request *http.Request
	err     error

	maxRequestLine  int
	contentLength   int
	chunked         bool
	chunkRemaining  int
	chunkSizeParsed bool
	totalConsumed   int
}

// NewParser returns a parser ready for the first request. maxRequestLine
// bounds the request line; zero picks the 8 KiB default.
func NewParser(maxRequestLine int) *Parser {
	if maxRequestLine <= 0 {
		maxRequestLine = defaultMaxRequestLine
	}

	return &Parser{
		state:          StateStartLine,
		request:        http.NewRequest(),
		maxRequestLine: maxRequestLine,
	}
}

// Parse appends data to the scratch buffer and consumes as much of it as the
// current state allows. The fully consumed prefix is dropped afterwards to
// bound memory.
func (p *Parser) Parse(data []byte) Result {
	p.buf = append(p.buf, data...)

	pos := 0
	for pos < len(p.buf) && p.state != StateComplete && p.state != StateError {
		var advanced bool

		switch p.state {
		case StateStartLine:
			advanced = p.parseStartLine(&pos)
		case StateHeaders:
			advanced = p.parseHeaders(&pos)
		case StateBody:
			advanced = p.parseBody(&pos)
		case StateChunkedBody:
			advanced = p.parseChunkedBody(&pos)
		}

		if !advanced {
			break
		}
	}

	if pos > 0 {
		p.totalConsumed += pos
		n := copy(p.buf, p.buf[pos:])
		p.buf = p.buf[:n]
	}

	return Result{
		Success:  p.state != StateError,
		State:    p.state,
		Consumed: pos,
		Err:      p.err,
	}
}

// TakeRequest hands the completed request over, or nil unless the parser
// reached the complete state. The parser no longer owns the request after.
func (p *Parser) TakeRequest() *http.Request {
	if p.state != StateComplete {
		return nil
	}

	request := p.request
	p.request = nil

	return request
}

// Reset reinitializes the parser for the next request, dropping whatever was
// left in the scratch buffer.
func (p *Parser) Reset() {
	p.state = StateStartLine
	p.buf = p.buf[:0]
	p.request = http.NewRequest()
	p.err = nil
	p.contentLength = 0
	p.chunked = false
	p.chunkRemaining = 0
	p.chunkSizeParsed = false
	p.totalConsumed = 0
}

func (p *Parser) State() State {
	return p.state
}

// IsParsing reports whether the parser is mid-request.
func (p *Parser) IsParsing() bool {
	return p.state != StateComplete && p.state != StateError
}

func (p *Parser) fail(err error) {
	p.state = StateError
	p.err = err
}

func (p *Parser) parseStartLine(pos *int) bool {
	idx := bytes.Index(p.buf[*pos:], crlf)
	if idx < 0 {
		// one byte of slack: a trailing CR may be the first half of the
		// terminator of a line that is exactly at the limit
		if len(p.buf)-*pos > p.maxRequestLine+1 {
			p.fail(status.ErrTooLongRequestLine)
		}

		return false
	}
	if idx > p.maxRequestLine {
		p.fail(status.ErrTooLongRequestLine)
		return false
	}

	// the line is copied out: the scratch buffer is reused across calls, so
	// everything retained on the request must own its memory
	line := string(p.buf[*pos : *pos+idx])
	*pos += idx + len(crlf)

	tokens := strings.Fields(line)
	if len(tokens) < 3 {
		p.fail(status.NewError(status.BadRequest, "invalid request line"))
		return false
	}

	m := method.Parse(tokens[0])
	if m == method.Unknown {
		p.fail(status.ErrMethodNotImplemented)
		return false
	}

	v := proto.FromString(tokens[2])
	if v == proto.Unknown {
		p.fail(status.ErrUnsupportedProtocol)
		return false
	}

	path, query, _ := strings.Cut(tokens[1], "?")

	p.request.Method = m
	p.request.Path = path
	p.request.Query = query
	p.request.Proto = v
	p.request.ReceivedAt = time.Now()
	p.request.ID = uniuri.New()
	p.state = StateHeaders

	return true
}

func (p *Parser) parseHeaders(pos *int) bool {
	for {
		idx := bytes.Index(p.buf[*pos:], crlf)
		if idx < 0 {
			return false
		}

		line := p.buf[*pos : *pos+idx]
		*pos += idx + len(crlf)

		if len(line) == 0 {
			p.finishHeaders()
			return true
		}

		colon := bytes.IndexByte(line, ':')
		if colon < 0 {
			p.fail(status.NewError(status.BadRequest, "malformed header line"))
			return false
		}

		key := strings.Trim(string(line[:colon]), " \t")
		value := strings.Trim(string(line[colon+1:]), " \t")
		p.request.Headers.Add(key, value)
	}
}

// finishHeaders decides where the message ends: a sized body, a chunked one,
// or nothing at all.
func (p *Parser) finishHeaders() {
	if value, found := p.request.Headers.Get("Content-Length"); found {
		length, err := strconv.Atoi(value)
		if err != nil || length < 0 {
			p.fail(status.ErrBadContentLength)
			return
		}

		if length == 0 {
			p.state = StateComplete
			return
		}

		p.contentLength = length
		p.state = StateBody
		return
	}

	if value, found := p.request.Headers.Get("Transfer-Encoding"); found &&
		strcomp.EqualFold(value, "chunked") {
		p.chunked = true
		p.state = StateChunkedBody
		return
	}

	p.state = StateComplete
}

func (p *Parser) parseBody(pos *int) bool {
	need := p.contentLength - len(p.request.Body)
	take := min(len(p.buf)-*pos, need)

	p.request.Body = append(p.request.Body, p.buf[*pos:*pos+take]...)
	*pos += take

	if len(p.request.Body) == p.contentLength {
		p.state = StateComplete
	}

	return true
}

func (p *Parser) parseChunkedBody(pos *int) bool {
	for *pos < len(p.buf) {
		switch {
		case !p.chunkSizeParsed:
			idx := bytes.Index(p.buf[*pos:], crlf)
			if idx < 0 {
				return false
			}

			line := p.buf[*pos : *pos+idx]
			*pos += idx + len(crlf)

			size, ok := parseChunkSize(line)
			if !ok {
				p.fail(status.ErrBadChunk)
				return false
			}

			if size == 0 {
				// trailer headers are not supported
				p.state = StateComplete
				return true
			}

			p.chunkRemaining = size
			p.chunkSizeParsed = true
		case p.chunkRemaining > 0:
			take := min(len(p.buf)-*pos, p.chunkRemaining)
			p.request.Body = append(p.request.Body, p.buf[*pos:*pos+take]...)
			*pos += take
			p.chunkRemaining -= take
		default:
			// chunk data must be terminated by CRLF
			if len(p.buf)-*pos < len(crlf) {
				return false
			}
			if p.buf[*pos] != '\r' || p.buf[*pos+1] != '\n' {
				p.fail(status.ErrBadChunk)
				return false
			}

			*pos += len(crlf)
			p.chunkSizeParsed = false
		}
	}

	return true
}

// parseChunkSize reads a hexadecimal chunk size, ignoring chunk extensions.
func parseChunkSize(line []byte) (int, bool) {
	if i := bytes.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}

	size, err := strconv.ParseUint(strings.Trim(uf.B2S(line), " \t"), 16, 31)
	if err != nil {
		return 0, false
	}

	return int(size), true
}
