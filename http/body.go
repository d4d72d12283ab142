package http

import (
	"encoding/json"
	"io"
	"io/ioutil"
)

// Body wraps an HTTP response body so callers can read it as text or decode
// it as JSON without repeating the same io.ReadAll/json.NewDecoder
// boilerplate at every call site (e.g. surfacing a failed request's
// response body in an error message).
type Body struct {
	reader io.ReadCloser
}

func NewBody(r io.ReadCloser) *Body {
	return &Body{reader: r}
}

func (b *Body) Read(p []byte) (int, error) {
	return b.reader.Read(p)
}

func (b *Body) DecodeFromJSON(o interface{}) error {
	return json.NewDecoder(b).Decode(o)
}

func (b *Body) ToString() (string, error) {
	body, err := ioutil.ReadAll(b)
	if err != nil {
		return "", err
	}

	return string(body), nil
}

func (b *Body) Close() error {
	return b.reader.Close()
}
