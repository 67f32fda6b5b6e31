// Package replay implements the deterministic record/replay transport from
// spec §4.9: a middleware.Transport that either forwards to (and records)
// an inner transport, or answers entirely from a prior recording, keyed on
// a fingerprint of the request.
package replay

import (
	"encoding/json"
	"errors"
	"os"
	"time"

	pkgerrors "github.com/pkg/errors"
)

// envelopeVersion is the only wire format version this package can load.
const envelopeVersion = 1

// ticksFromTime/timeFromTicks use 100-nanosecond intervals since the Unix
// epoch for the wire format's "UtcTicks" fields (not the .NET 0001-01-01
// epoch — this repo's recordings are never cross-loaded against a
// .NET-produced file).
func ticksFromTime(t time.Time) int64 {
	return t.UnixNano() / 100
}

func timeFromTicks(ticks int64) time.Time {
	return time.Unix(0, ticks*100).UTC()
}

// errorInfo is the optional per-entry error fingerprint, per spec §6.
type errorInfo struct {
	Type       string `json:"Type"`
	Message    string `json:"Message"`
	StatusCode *int   `json:"StatusCode,omitempty"`
}

// envelopeEntry is one recorded request/response pair, per spec §6's wire
// format. Field names and capitalization match the spec exactly.
type envelopeEntry struct {
	Sequence            int64               `json:"Sequence"`
	RequestKey          string              `json:"RequestKey"`
	Method              string              `json:"Method"`
	URL                 string              `json:"Url"`
	RequestHeaders      map[string][]string `json:"RequestHeaders"`
	RequestBodyHash     string              `json:"RequestBodyHash"`
	RequestBodyBase64   *string             `json:"RequestBodyBase64,omitempty"`
	StatusCode          int32               `json:"StatusCode"`
	ResponseHeaders     map[string][]string `json:"ResponseHeaders"`
	ResponseBodyBase64  *string             `json:"ResponseBodyBase64,omitempty"`
	Error               *errorInfo          `json:"Error,omitempty"`
	ThrowsException     bool                `json:"ThrowsException"`
	TimestampUtcTicks   int64               `json:"TimestampUtcTicks"`
}

// envelope is the top-level persisted file, per spec §6.
type envelope struct {
	Version         int              `json:"Version"`
	CreatedUtcTicks int64            `json:"CreatedUtcTicks"`
	UpdatedUtcTicks int64            `json:"UpdatedUtcTicks"`
	Entries         []*envelopeEntry `json:"Entries"`
}

// loadEnvelope reads and validates a recording file. A missing file yields
// an empty envelope (nothing recorded yet), not an error.
func loadEnvelope(path string) (*envelope, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		now := ticksFromTime(time.Now())
		return &envelope{Version: envelopeVersion, CreatedUtcTicks: now, UpdatedUtcTicks: now}, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "replay: read %q", path)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, pkgerrors.Wrapf(err, "replay: parse %q", path)
	}
	if env.Version != envelopeVersion {
		return nil, pkgerrors.Errorf("replay: unsupported recording version %d in %q", env.Version, path)
	}
	return &env, nil
}

// saveEnvelope writes env to path as indented JSON.
func saveEnvelope(path string, env *envelope) error {
	env.UpdatedUtcTicks = ticksFromTime(time.Now())
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return pkgerrors.Wrap(err, "replay: marshal envelope")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return pkgerrors.Wrapf(err, "replay: write %q", path)
	}
	return nil
}
