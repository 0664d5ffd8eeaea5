package main

import (
	"net/http"
)

// statResponseWriter caches response status code.
type statResponseWriter struct {
	http.ResponseWriter

	statusCode int
}

func newStatResponseWriter(rw http.ResponseWriter) *statResponseWriter {
	return &statResponseWriter{
		ResponseWriter: rw,
		statusCode:     http.StatusOK,
	}
}

func (rw *statResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *statResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
