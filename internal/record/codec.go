package record

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// CodecError reports a failure to encode or decode a record.
type CodecError struct {
	Op  string // "encode" or "decode"
	Err error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("record %s: %v", e.Op, e.Err)
}

func (e *CodecError) Unwrap() error { return e.Err }

// Encode serializes r into the byte form the store persists. Encoding is
// deterministic: map keys are emitted in sorted order, so encoding the
// same record twice yields identical bytes.
func Encode(r *Record) ([]byte, error) {
	if r == nil {
		return nil, &CodecError{Op: "encode", Err: fmt.Errorf("nil record")}
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, &CodecError{Op: "encode", Err: err}
	}
	return b, nil
}

// Decode reverses Encode. Numeric values inside Identity and Evidence
// are restored as json.Number so that re-encoding a decoded record
// reproduces the original bytes digit for digit.
func Decode(data []byte) (*Record, error) {
	if len(data) == 0 {
		return nil, &CodecError{Op: "decode", Err: fmt.Errorf("empty payload")}
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var r Record
	if err := dec.Decode(&r); err != nil {
		return nil, &CodecError{Op: "decode", Err: err}
	}
	return &r, nil
}
