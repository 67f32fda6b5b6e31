package replay

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"go.uber.org/zap"

	"turbohttp/internal/bufpool"
	"turbohttp/internal/headers"
	"turbohttp/internal/message"
	"turbohttp/internal/middleware"
)

// Mode selects how the transport treats each request, per spec §4.9.
type Mode string

const (
	ModePassthrough Mode = "Passthrough"
	ModeRecord      Mode = "Record"
	ModeReplay      Mode = "Replay"
)

// MismatchPolicy governs Replay mode's behavior when the strict key misses,
// per spec §4.9.
type MismatchPolicy string

const (
	MismatchStrict  MismatchPolicy = "Strict"
	MismatchWarn    MismatchPolicy = "Warn"
	MismatchRelaxed MismatchPolicy = "Relaxed"
)

// Options configures the record/replay transport, per spec §6.
type Options struct {
	Mode                     Mode
	RecordingPath            string
	MismatchPolicy           MismatchPolicy
	Redaction                RedactionPolicy
	AutoFlushOnDispose       bool
	MatchHeaderNames         []string
	ExcludedMatchHeaderNames []string
	Logger                   *zap.Logger
}

// Transport is a middleware.Transport that wraps an inner transport (nil
// in pure Replay mode) and records or replays per Options.Mode.
type Transport struct {
	opts  Options
	inner middleware.Transport
	store *store
}

// New constructs a Transport, loading RecordingPath's prior recording (if
// any) for Replay/Record modes. inner may be nil only when opts.Mode is
// ModeReplay.
func New(opts Options, inner middleware.Transport) (*Transport, error) {
	if opts.MismatchPolicy == "" {
		opts.MismatchPolicy = MismatchStrict
	}
	s, err := newStore(opts.RecordingPath)
	if err != nil {
		return nil, err
	}
	return &Transport{opts: opts, inner: inner, store: s}, nil
}

var _ middleware.Transport = (*Transport)(nil)

// Flush persists the current recording to RecordingPath. In Replay mode
// nothing is appended, so it rewrites the recording as it was loaded.
func (t *Transport) Flush() error {
	return t.store.flush()
}

// Send implements middleware.Transport per spec §4.9's mode dispatch.
func (t *Transport) Send(ctx context.Context, req *message.Request) (*message.Response, error) {
	switch t.opts.Mode {
	case ModeRecord:
		return t.record(ctx, req)
	case ModeReplay:
		return t.replay(req)
	default:
		return t.inner.Send(ctx, req)
	}
}

func (t *Transport) record(ctx context.Context, req *message.Request) (*message.Response, error) {
	resp, err := t.inner.Send(ctx, req)

	key, keyErr := requestKey(string(req.Method()), redactQuery(req.URI(), t.opts.Redaction.SensitiveQueryParams), req.Header(), req.Body(), t.opts.MatchHeaderNames, t.opts.ExcludedMatchHeaderNames)
	if keyErr != nil {
		return resp, err
	}

	entry := &envelopeEntry{
		RequestKey:        key,
		Method:            string(req.Method()),
		URL:               redactQuery(req.URI(), t.opts.Redaction.SensitiveQueryParams),
		RequestHeaders:    redactHeaders(req.Header(), t.opts.Redaction.SensitiveHeaders),
		RequestBodyHash:   bodyHash(req.Body()),
		TimestampUtcTicks: ticksFromTime(time.Now()),
	}
	if body := req.Body(); len(body) > 0 {
		contentType, _ := req.Header().Get("Content-Type")
		redactedBody := redactJSONBody(body, contentType, t.opts.Redaction.SensitiveJSONFields)
		encoded := base64.StdEncoding.EncodeToString(redactedBody)
		entry.RequestBodyBase64 = &encoded
	}

	if err != nil {
		entry.ThrowsException = true
		if merr, ok := asMessageError(err); ok {
			entry.Error = &errorInfo{Type: string(merr.Kind), Message: merr.Message}
			if merr.StatusCode != 0 {
				sc := merr.StatusCode
				entry.Error.StatusCode = &sc
			}
		} else {
			entry.Error = &errorInfo{Type: "Network", Message: err.Error()}
		}
	} else if resp != nil {
		entry.StatusCode = int32(resp.StatusCode)
		entry.ResponseHeaders = redactHeaders(resp.Header, t.opts.Redaction.SensitiveHeaders)
		if body := resp.Body(); len(body) > 0 {
			contentType, _ := resp.Header.Get("Content-Type")
			redactedBody := redactJSONBody(body, contentType, t.opts.Redaction.SensitiveJSONFields)
			encoded := base64.StdEncoding.EncodeToString(redactedBody)
			entry.ResponseBodyBase64 = &encoded
		}
	}

	t.store.append(entry)
	if t.opts.AutoFlushOnDispose {
		if ferr := t.store.flush(); ferr != nil && t.opts.Logger != nil {
			t.opts.Logger.Warn("replay: flush failed", zap.Error(ferr))
		}
	}

	return resp, err
}

func (t *Transport) replay(req *message.Request) (*message.Response, error) {
	key, err := requestKey(string(req.Method()), redactQuery(req.URI(), t.opts.Redaction.SensitiveQueryParams), req.Header(), req.Body(), t.opts.MatchHeaderNames, t.opts.ExcludedMatchHeaderNames)
	if err != nil {
		return nil, message.InvalidArgumentError(err.Error())
	}

	entry, ok := t.store.findAndConsume(key)
	if !ok {
		switch t.opts.MismatchPolicy {
		case MismatchRelaxed:
			relaxed, rErr := relaxedKey(string(req.Method()), req.URI())
			if rErr == nil {
				if e, found := t.store.findAndConsumeRelaxed(relaxed); found {
					entry = e
					ok = true
				}
			}
			if !ok && t.inner != nil {
				return t.inner.Send(context.Background(), req)
			}
		case MismatchWarn:
			if t.opts.Logger != nil {
				t.opts.Logger.Warn("replay: no recording for request, falling back to inner transport", zap.String("key", key))
			}
			if t.inner != nil {
				return t.inner.Send(context.Background(), req)
			}
		}
		if !ok {
			return nil, message.CacheError(message.CacheCorrupt, "replay: no recording for request key "+key)
		}
	}

	if entry.ThrowsException && entry.Error != nil {
		kind := message.Kind(entry.Error.Type)
		return nil, &message.Error{Kind: kind, Message: entry.Error.Message, Retryable: kind == message.KindNetwork || kind == message.KindTimeout}
	}

	h := headers.New()
	for name, values := range entry.ResponseHeaders {
		for _, v := range values {
			h.Add(name, v)
		}
	}
	var body []byte
	if entry.ResponseBodyBase64 != nil {
		decoded, decErr := base64.StdEncoding.DecodeString(*entry.ResponseBodyBase64)
		if decErr != nil {
			return nil, message.MalformedResponseError("replay: invalid base64 response body")
		}
		body = decoded
	}
	return message.NewResponse(uint16(entry.StatusCode), h, bufpool.WrapOwned(body), req), nil
}

// asMessageError extracts a *message.Error if err is (or wraps) one.
func asMessageError(err error) (*message.Error, bool) {
	var merr *message.Error
	ok := errors.As(err, &merr)
	return merr, ok
}
