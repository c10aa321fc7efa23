package http

import (
	"github.com/indigo-web/utils/uf"
	json "github.com/json-iterator/go"

	"github.com/lumen-web/lumen/http/status"
	"github.com/lumen-web/lumen/kv"
)

// Fields is the internal state of a Response, exposed to the serializer.
type Fields struct {
	Code        status.Code
	Status      string
	ContentType string
	Headers     *kv.Storage
	Body        []byte
}

// Response is built by a request handler and serialized by the connection
// runtime. All setters return the response itself for chaining.
type Response struct {
	fields Fields
}

// NewResponse returns a response with status code set to 200 OK and
// text/html content type.
func NewResponse() *Response {
	return &Response{
		fields: Fields{
			Code:        status.OK,
			ContentType: "text/html",
			Headers:     kv.New(),
		},
	}
}

// Code sets the response code. The reason phrase is derived from it unless
// a custom one was set via Status.
func (r *Response) Code(code status.Code) *Response {
	r.fields.Code = code
	return r
}

// Status sets a custom reason phrase. Clients generally ignore it.
func (r *Response) Status(text string) *Response {
	r.fields.Status = text
	return r
}

// ContentType sets a custom Content-Type header value.
func (r *Response) ContentType(value string) *Response {
	r.fields.ContentType = value
	return r
}

// Header adds header values to a key. Existing values are kept.
func (r *Response) Header(key string, values ...string) *Response {
	for i := range values {
		r.fields.Headers.Add(key, values[i])
	}

	return r
}

// String sets the response's body to the passed string.
func (r *Response) String(body string) *Response {
	return r.Bytes(uf.S2B(body))
}

// Bytes sets the response's body to the passed slice WITHOUT copying.
func (r *Response) Bytes(body []byte) *Response {
	r.fields.Body = body
	return r
}

// JSON marshals the model into the body and sets the content type. Encoding
// failures degrade to a 500 with an empty body.
func (r *Response) JSON(model any) *Response {
	body, err := json.Marshal(model)
	if err != nil {
		return r.Code(status.InternalServerError).Bytes(nil)
	}

	return r.ContentType("application/json").Bytes(body)
}

// Error renders an error as a response. status.HTTPError values carry their
// own code; everything else turns into 500 Internal Server Error.
func (r *Response) Error(err error) *Response {
	if err == nil {
		return r
	}

	if httpErr, ok := err.(status.HTTPError); ok {
		return r.Code(httpErr.Code).String(httpErr.Message)
	}

	return r.Code(status.InternalServerError).String(status.Text(status.InternalServerError))
}

// Reveal exposes the raw response fields. Used by the serializer; handlers
// normally have no business with it.
func (r *Response) Reveal() *Fields {
	return &r.fields
}
