// SafeVision - Real-time Security Alerting Console
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/safevision

package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func largeBody(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Length", "2000")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(strings.Repeat("test data ", 200)))
}

func TestCompression_WithGzipAccept(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	rec := httptest.NewRecorder()

	Compression(http.HandlerFunc(largeBody)).ServeHTTP(rec, req)

	if rec.Header().Get("Content-Encoding") != "gzip" {
		t.Errorf("Expected Content-Encoding: gzip, got: %s", rec.Header().Get("Content-Encoding"))
	}
	if rec.Header().Get("Content-Length") != "" {
		t.Error("Expected Content-Length header to be removed")
	}

	reader, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatalf("Failed to create gzip reader: %v", err)
	}
	defer reader.Close()
	decompressed, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("Failed to read decompressed data: %v", err)
	}
	if string(decompressed) != strings.Repeat("test data ", 200) {
		t.Error("decompressed body mismatch")
	}
}

func TestCompression_Passthrough(t *testing.T) {
	tests := []struct {
		name   string
		header map[string]string
	}{
		{"no accept encoding", nil},
		{"other encoding", map[string]string{"Accept-Encoding": "br"}},
		{"websocket upgrade", map[string]string{"Accept-Encoding": "gzip", "Upgrade": "websocket"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()

			Compression(http.HandlerFunc(largeBody)).ServeHTTP(rec, req)

			if rec.Header().Get("Content-Encoding") != "" {
				t.Error("response should not be compressed")
			}
			if rec.Body.Len() != 2000 {
				t.Errorf("body length = %d", rec.Body.Len())
			}
		})
	}
}
