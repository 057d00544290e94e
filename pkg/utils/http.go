package utils

import (
	"io"
	"net/http"
)

// DrainAndClose closes the given ReadCloser.
func DrainAndClose(rc io.ReadCloser) error {
	if rc == nil {
		return nil
	}
	// Drain to let the transport reuse the connection.
	_, _ = io.Copy(io.Discard, rc)
	return rc.Close()
}

// LimitBody caps the request body at limit bytes. A limit <= 0 leaves the body untouched.
func LimitBody(w http.ResponseWriter, r *http.Request, limit int64) {
	if limit <= 0 || r.Body == nil {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
}
