package vault

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"unicode/utf8"

	"github.com/uoar/pass-manager/crypto"

	verrors "github.com/uoar/pass-manager/internal/errors"
)

const (
	payloadFormat = "pass-manager/records"

	// PayloadVersion is the record payload layout written by Encode.
	PayloadVersion = 1
)

// payload is the decrypted vault contents.
type payload struct {
	Format  string   `json:"format"`
	Version int      `json:"version"`
	Records []Record `json:"records"`
}

// payloadKeys lists every object key a payload may contain, in its exact
// case. encoding/json matches keys case-insensitively and lets a repeated key
// win silently, so keys are checked separately before decoding.
var payloadKeys = map[string]struct{}{
	"format": {}, "version": {}, "records": {},
	"id": {}, "title": {}, "username": {}, "secret": {}, "url": {},
	"notes": {}, "category": {}, "created_at": {}, "updated_at": {},
}

// Encode serializes records into the plaintext payload that gets sealed into
// a container. Records are written in id order. The caller owns the result
// and should wipe it after sealing.
func Encode(records []Record) ([]byte, error) {
	for _, r := range records {
		for _, f := range r.textFields() {
			if !utf8.ValidString(f.value) {
				return nil, fmt.Errorf("%w: record %s: %s is not valid UTF-8", verrors.ErrInvalidParameter, r.ID, f.name)
			}
		}
	}

	sorted := make([]Record, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	data, err := json.Marshal(payload{
		Format:  payloadFormat,
		Version: PayloadVersion,
		Records: sorted,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal vault payload: %w", err)
	}
	return data, nil
}

// Decode parses a plaintext payload. It rejects anything that is not exactly
// one well-formed payload document: invalid UTF-8, unknown, duplicate or
// miscased keys, a foreign format tag, an unsupported version, missing or
// duplicate ids, and trailing bytes all yield ErrMalformedPayload. Secrets
// decoded before an error is found are wiped.
func Decode(data []byte) ([]Record, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: invalid UTF-8", verrors.ErrMalformedPayload)
	}
	if err := checkKeys(data); err != nil {
		return nil, fmt.Errorf("%w: %s", verrors.ErrMalformedPayload, describe(err))
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var p payload
	if err := dec.Decode(&p); err != nil {
		wipeRecords(p.Records)
		return nil, fmt.Errorf("%w: %s", verrors.ErrMalformedPayload, describe(err))
	}
	if err := p.validate(data[dec.InputOffset():]); err != nil {
		wipeRecords(p.Records)
		return nil, err
	}

	if p.Records == nil {
		p.Records = []Record{}
	}
	return p.Records, nil
}

func (p *payload) validate(rest []byte) error {
	if len(rest) != 0 {
		return fmt.Errorf("%w: %d trailing bytes", verrors.ErrMalformedPayload, len(rest))
	}
	if p.Format != payloadFormat {
		return fmt.Errorf("%w: unexpected format %q", verrors.ErrMalformedPayload, p.Format)
	}
	if p.Version < 1 || p.Version > PayloadVersion {
		return fmt.Errorf("%w: unsupported payload version %d", verrors.ErrMalformedPayload, p.Version)
	}

	seen := make(map[string]struct{}, len(p.Records))
	for _, r := range p.Records {
		if r.ID == "" {
			return fmt.Errorf("%w: record without id", verrors.ErrMalformedPayload)
		}
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("%w: duplicate record id %s", verrors.ErrMalformedPayload, r.ID)
		}
		seen[r.ID] = struct{}{}
	}
	return nil
}

// errBadKey marks a key rejected by checkKeys. The key itself is not
// reported since it is payload content.
var errBadKey = errors.New("duplicate or unknown key")

// jsonFrame is one open object or array while walking the token stream.
type jsonFrame struct {
	object    bool
	expectKey bool
	keys      map[string]struct{}
}

// checkKeys walks the first JSON value in data and rejects any object that
// repeats a key or uses a key outside payloadKeys. Structure is otherwise
// left to the decoder.
func checkKeys(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	var stack []*jsonFrame

	// valueDone marks the end of a value inside the innermost container.
	valueDone := func() {
		if n := len(stack); n > 0 && stack[n-1].object {
			stack[n-1].expectKey = true
		}
	}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		if n := len(stack); n > 0 && stack[n-1].object && stack[n-1].expectKey {
			top := stack[n-1]
			if tok == json.Delim('}') {
				stack = stack[:n-1]
				if len(stack) == 0 {
					return nil
				}
				valueDone()
				continue
			}
			key, ok := tok.(string)
			if !ok {
				return errBadKey
			}
			if _, known := payloadKeys[key]; !known {
				return errBadKey
			}
			if _, dup := top.keys[key]; dup {
				return errBadKey
			}
			top.keys[key] = struct{}{}
			top.expectKey = false
			continue
		}

		switch tok {
		case json.Delim('{'):
			stack = append(stack, &jsonFrame{object: true, expectKey: true, keys: map[string]struct{}{}})
			continue
		case json.Delim('['):
			stack = append(stack, &jsonFrame{})
			continue
		case json.Delim(']'):
			stack = stack[:len(stack)-1]
		}
		if len(stack) == 0 {
			return nil
		}
		valueDone()
	}
}

func wipeRecords(records []Record) {
	for i := range records {
		crypto.Wipe(records[i].Secret)
	}
}

// describe summarizes a decode error without quoting payload content, which
// is plaintext.
func describe(err error) string {
	var syntax *json.SyntaxError
	var typ *json.UnmarshalTypeError
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return "truncated document"
	case errors.As(err, &syntax):
		return fmt.Sprintf("syntax error at offset %d", syntax.Offset)
	case errors.As(err, &typ):
		return fmt.Sprintf("wrong type for field %q", typ.Field)
	case errors.Is(err, errBadKey):
		return errBadKey.Error()
	default:
		return "invalid structure"
	}
}
