package importer

import (
	"bytes"
	"io"
	"log"
	"net/http"
)

// LoggingTransport is an http.RoundTripper that dumps outbound traffic when Debug is set.
type LoggingTransport struct {
	Base  http.RoundTripper
	Debug bool
}

func (t *LoggingTransport) base() http.RoundTripper {
	if t.Base == nil {
		return http.DefaultTransport
	}
	return t.Base
}

func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.Debug {
		return t.base().RoundTrip(req)
	}

	log.Printf("[Importer] DEBUG OUTBOUND REQUEST: [%s] %s", req.Method, req.URL.String())

	resp, err := t.base().RoundTrip(req)
	if err != nil {
		return resp, err
	}

	log.Printf("[Importer] DEBUG OUTBOUND RESPONSE: %d %s", resp.StatusCode, req.URL.String())

	respBody, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(respBody))

	if len(respBody) > 0 {
		log.Printf("[Importer] DEBUG OUTBOUND RESPONSE BODY: %s", string(respBody))
	}

	return resp, nil
}
