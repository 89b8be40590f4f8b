// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides bounded HTTP body reading and connection
// error classification.
//
// REST responses from the helpdesk backend (message history) are read
// through [ReadBody], which caps the read at [MaxResponseSize] and
// transparently decodes gzip content encoding. [IsExpectedCloseError]
// separates ordinary connection teardown from failures worth logging.
package netutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// MaxResponseSize bounds JSON API response bodies (after
// decompression): 32 MB. A full ticket history is a few hundred
// kilobytes; the bound exists only so a misbehaving server cannot
// exhaust memory.
const MaxResponseSize int64 = 32 << 20

// ReadBody reads response.Body up to MaxResponseSize bytes, decoding
// gzip when the server set Content-Encoding: gzip. The caller still
// closes response.Body.
func ReadBody(response *http.Response) ([]byte, error) {
	var reader io.Reader = response.Body
	if strings.EqualFold(response.Header.Get("Content-Encoding"), "gzip") {
		gzipReader, err := gzip.NewReader(response.Body)
		if err != nil {
			return nil, fmt.Errorf("opening gzip body: %w", err)
		}
		defer gzipReader.Close()
		reader = gzipReader
	}

	data, err := io.ReadAll(io.LimitReader(reader, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if int64(len(data)) > MaxResponseSize {
		return nil, fmt.Errorf("response body exceeds %d bytes", MaxResponseSize)
	}
	return data, nil
}

// DecodeJSON reads response.Body with ReadBody and decodes it into v.
func DecodeJSON(response *http.Response, v any) error {
	data, err := ReadBody(response)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding response body: %w", err)
	}
	return nil
}
