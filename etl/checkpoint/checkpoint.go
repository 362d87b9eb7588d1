// Package checkpoint stores typed resume points in job definition metadata.
//
// A checkpoint is wrapped in a versioned envelope. Reading an envelope of
// another kind or version, or one that does not parse, yields "no
// checkpoint" so a changed source format restarts cleanly instead of
// resuming from garbage.
package checkpoint

import (
	"encoding/json"
	"time"

	"github.com/linuxautomates/gitsei-sub052/errors"
)

// Envelope is the stored form of a checkpoint
type Envelope struct {
	Kind    string          `json:"kind"`
	Version int             `json:"version"`
	SavedAt time.Time       `json:"saved_at"`
	Data    json.RawMessage `json:"data"`
}

// Encode wraps v in an envelope
func Encode[T any](kind string, version int, v T, savedAt time.Time) (json.RawMessage, error) {
	if kind == "" {
		return nil, errors.New("checkpoint kind is required")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode %s checkpoint", kind)
	}
	raw, err := json.Marshal(Envelope{Kind: kind, Version: version, SavedAt: savedAt.UTC(), Data: data})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode %s checkpoint envelope", kind)
	}
	return raw, nil
}

// Decode unwraps raw if it holds a checkpoint of kind and version.
// Anything else, including empty input, reports false.
func Decode[T any](raw json.RawMessage, kind string, version int) (T, bool) {
	var zero T
	env, ok := Peek(raw)
	if !ok || env.Kind != kind || env.Version != version || len(env.Data) == 0 {
		return zero, false
	}
	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		return zero, false
	}
	return v, true
}

// Peek parses the envelope without decoding its data
func Peek(raw json.RawMessage) (Envelope, bool) {
	if len(raw) == 0 {
		return Envelope{}, false
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Kind == "" {
		return Envelope{}, false
	}
	return env, true
}

// Codec binds a checkpoint type to its kind and version
type Codec[T any] struct {
	Kind    string
	Version int
	Now     func() time.Time
}

// NewCodec creates a codec for kind at version
func NewCodec[T any](kind string, version int) Codec[T] {
	return Codec[T]{Kind: kind, Version: version, Now: time.Now}
}

// Encode wraps v
func (c Codec[T]) Encode(v T) (json.RawMessage, error) {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	return Encode(c.Kind, c.Version, v, now())
}

// Decode unwraps raw, see Decode
func (c Codec[T]) Decode(raw json.RawMessage) (T, bool) {
	return Decode[T](raw, c.Kind, c.Version)
}
