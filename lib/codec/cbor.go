// Copyright 2026 The Slatecast Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is slatecast's CBOR serialization layer. Both the
// client wire protocol and the operator control protocol encode with
// Core Deterministic Encoding (RFC 8949 §4.2) so the same logical
// message always produces identical bytes, and decode leniently,
// ignoring unknown fields for forward compatibility.
//
// CBOR values are self-delimiting, so a stream of envelopes needs no
// additional framing: a Decoder on a net.Conn yields one message per
// Decode call.
package codec

import (
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var encMode cbor.EncMode
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Slatecast map keys are always strings. Any-typed decode
		// targets get map[string]any rather than CBOR's default
		// map[interface{}]interface{}, which nothing downstream can
		// consume.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v with Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Encoder is a CBOR stream encoder. Alias so consumers import only
// lib/codec, never fxamacker/cbor directly.
type Encoder = cbor.Encoder

// Decoder is a CBOR stream decoder.
type Decoder = cbor.Decoder

// RawMessage is a raw encoded CBOR value, used to delay decoding of
// action- or event-specific payload fields.
type RawMessage = cbor.RawMessage

// NewEncoder returns a stream encoder writing deterministic CBOR to w.
func NewEncoder(w io.Writer) *Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns a stream decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return decMode.NewDecoder(r)
}
