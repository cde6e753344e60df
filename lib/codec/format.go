// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"encoding/json"
	"fmt"
)

// Format names a payload serialization a client can request.
type Format string

const (
	// FormatJSON is UTF-8 JSON. Default for browsers.
	FormatJSON Format = "json"

	// FormatCBOR is deterministic CBOR.
	FormatCBOR Format = "cbor"
)

// ParseFormat maps a client-supplied name to a Format. The empty
// string selects JSON.
func ParseFormat(name string) (Format, error) {
	switch Format(name) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatCBOR:
		return FormatCBOR, nil
	default:
		return "", fmt.Errorf("unknown format %q (want json or cbor)", name)
	}
}

// Encode serializes v in the given format.
func (f Format) Encode(v any) ([]byte, error) {
	switch f {
	case FormatCBOR:
		return Marshal(v)
	case FormatJSON, "":
		return json.Marshal(v)
	default:
		return nil, fmt.Errorf("codec: unsupported format %q", f)
	}
}

// Decode deserializes data in the given format into v.
func (f Format) Decode(data []byte, v any) error {
	switch f {
	case FormatCBOR:
		return Unmarshal(data, v)
	case FormatJSON, "":
		return json.Unmarshal(data, v)
	default:
		return fmt.Errorf("codec: unsupported format %q", f)
	}
}

// Binary reports whether payloads in this format must be sent as
// binary messages (relevant for WebSocket framing).
func (f Format) Binary() bool {
	return f == FormatCBOR
}
