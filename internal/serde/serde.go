// Package serde produces the byte envelopes the worker layer decodes:
// a one-byte compression scheme followed by a msgpack body.
package serde

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/ugorji/go/codec"
)

// Compression scheme header values.
const (
	SchemeNone byte = 40
	SchemeLZ4  byte = 41
	SchemeZstd byte = 42
)

const defaultThreshold = 1024

var (
	ErrUnsupportedCompression = errors.New("unsupported compression scheme")
	ErrEmptyEnvelope          = errors.New("empty envelope")
)

func newMsgpackHandle() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{}
	// bin family for []byte instead of legacy raw strings
	h.WriteExt = true
	return h
}

var mh = newMsgpackHandle()

type Option func(*Serializer)

// WithCompression enables zstd for bodies of at least threshold bytes.
func WithCompression(threshold int) Option {
	return func(s *Serializer) {
		s.compress = true
		if threshold > 0 {
			s.threshold = threshold
		}
	}
}

type Serializer struct {
	compress  bool
	threshold int
	enc       *zstd.Encoder
	dec       *zstd.Decoder
}

func New(opts ...Option) (*Serializer, error) {
	s := &Serializer{threshold: defaultThreshold}
	for _, o := range opts {
		o(s)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	s.dec = dec

	if s.compress {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			dec.Close()
			return nil, fmt.Errorf("zstd writer: %w", err)
		}
		s.enc = enc
	}
	return s, nil
}

// Serialize wraps b as a msgpack bin value behind a scheme header.
func (s *Serializer) Serialize(b []byte) ([]byte, error) {
	if b == nil {
		b = []byte{}
	}
	var body []byte
	if err := codec.NewEncoderBytes(&body, mh).Encode(b); err != nil {
		return nil, fmt.Errorf("msgpack encode: %w", err)
	}

	if s.enc != nil && len(body) >= s.threshold {
		out := make([]byte, 1, len(body)/2+1)
		out[0] = SchemeZstd
		return s.enc.EncodeAll(body, out), nil
	}

	out := make([]byte, 0, len(body)+1)
	out = append(out, SchemeNone)
	return append(out, body...), nil
}

// Deserialize unwraps an envelope produced by Serialize.
func (s *Serializer) Deserialize(env []byte) ([]byte, error) {
	if len(env) == 0 {
		return nil, ErrEmptyEnvelope
	}

	body := env[1:]
	switch env[0] {
	case SchemeNone:
	case SchemeZstd:
		plain, err := s.dec.DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decode: %w", err)
		}
		body = plain
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedCompression, env[0])
	}

	var out []byte
	if err := codec.NewDecoderBytes(body, mh).Decode(&out); err != nil {
		return nil, fmt.Errorf("msgpack decode: %w", err)
	}
	return out, nil
}

func (s *Serializer) Close() {
	if s.enc != nil {
		_ = s.enc.Close()
	}
	s.dec.Close()
}
