package proto

import "github.com/indigo-web/utils/uf"

// Proto is the protocol version named in the request line. HTTP/2.0 is
// recognized by the parser but never served.
type Proto uint8

const (
	Unknown Proto = iota
	HTTP10
	HTTP11
	HTTP2
)

const (
	tokenLength       = len("HTTP/x.x")
	majorVersionIndex = len("HTTP/x") - 1
	minorVersionIndex = len("HTTP/x.x") - 1
	scheme            = "HTTP/"
)

// FromBytes recognizes a protocol token of the form HTTP/x.x.
func FromBytes(raw []byte) Proto {
	if len(raw) != tokenLength || uf.B2S(raw[:majorVersionIndex]) != scheme {
		return Unknown
	}

	return Parse(raw[majorVersionIndex]-'0', raw[minorVersionIndex]-'0')
}

func FromString(raw string) Proto {
	return FromBytes(uf.S2B(raw))
}

func Parse(major, minor uint8) Proto {
	switch {
	case major == 1 && minor == 0:
		return HTTP10
	case major == 1 && minor == 1:
		return HTTP11
	case major == 2 && minor == 0:
		return HTTP2
	}

	return Unknown
}

func (p Proto) String() string {
	lut := [...]string{HTTP10: "HTTP/1.0", HTTP11: "HTTP/1.1", HTTP2: "HTTP/2.0"}
	if int(p) >= len(lut) {
		return ""
	}

	return lut[p]
}
