// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// MaxRequestSize bounds JSON request bodies accepted by the HTTP API.
const MaxRequestSize int64 = 1 << 20

// MaxResponseSize bounds JSON response bodies read by clients.
const MaxResponseSize int64 = 16 << 20

// DecodeRequest decodes exactly one JSON value from body into v.
// Bodies over MaxRequestSize and trailing data are errors.
func DecodeRequest(body io.Reader, v any) error {
	data, err := io.ReadAll(io.LimitReader(body, MaxRequestSize+1))
	if err != nil {
		return fmt.Errorf("reading request body: %w", err)
	}
	if int64(len(data)) > MaxRequestSize {
		return fmt.Errorf("request body exceeds %d bytes", MaxRequestSize)
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	if err := decoder.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("decoding request body: %w", err)
	}
	if decoder.More() {
		return errors.New("request body has trailing data after the JSON value")
	}
	return nil
}

// WriteJSON writes v as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the JSON body of every HTTP API error.
type ErrorResponse struct {
	Error string `json:"error"`

	// Reason is a machine-readable category, such as "stale_report".
	Reason string `json:"reason,omitempty"`
}

// WriteError writes an ErrorResponse with the given status code.
func WriteError(w http.ResponseWriter, code int, reason, message string) {
	WriteJSON(w, code, ErrorResponse{Error: message, Reason: reason})
}

// DecodeResponse reads a JSON response body into v.
func DecodeResponse(body io.Reader, v any) error {
	data, err := io.ReadAll(io.LimitReader(body, MaxResponseSize))
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	return json.Unmarshal(data, v)
}

// ErrorBody returns the response body as a string for error messages.
// Read errors yield whatever was read before the failure.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, MaxResponseSize))
	return string(data)
}
