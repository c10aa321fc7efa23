package http1

import (
	"strconv"

	"github.com/indigo-web/utils/strcomp"

	"github.com/lumen-web/lumen/http"
)

// DumpRequest re-serializes a parsed request back to its wire form: headers
// verbatim in insertion order and original case, the body re-encoded in the
// transfer encoding the message declared. Feeding the output back through
// the parser reproduces the request.
func DumpRequest(request *http.Request) []byte {
	var buff []byte

	buff = append(buff, request.Method.String()...)
	buff = append(buff, ' ')
	buff = append(buff, request.Path...)
	if len(request.Query) > 0 {
		buff = append(buff, '?')
		buff = append(buff, request.Query...)
	}
	buff = append(buff, ' ')
	buff = append(buff, request.Proto.String()...)
	buff = append(buff, crlf...)

	chunked := false
	for key, value := range request.Headers.Iter() {
		buff = append(buff, key...)
		buff = append(buff, ": "...)
		buff = append(buff, value...)
		buff = append(buff, crlf...)

		if strcomp.EqualFold(key, "transfer-encoding") && strcomp.EqualFold(value, "chunked") {
			chunked = true
		}
	}
	buff = append(buff, crlf...)

	if chunked {
		if len(request.Body) > 0 {
			buff = strconv.AppendUint(buff, uint64(len(request.Body)), 16)
			buff = append(buff, crlf...)
			buff = append(buff, request.Body...)
			buff = append(buff, crlf...)
		}
		buff = append(buff, '0')
		buff = append(buff, crlf...)
	} else {
		buff = append(buff, request.Body...)
	}

	return buff
}
