package replay

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"turbohttp/internal/bufpool"
	"turbohttp/internal/headers"
	"turbohttp/internal/message"
)

type fixedTransport struct {
	status uint16
	header *headers.Table
	body   string
	calls  int
}

func (f *fixedTransport) Send(ctx context.Context, req *message.Request) (*message.Response, error) {
	f.calls++
	return message.NewResponse(f.status, f.header.Clone(), bufpool.WrapOwned([]byte(f.body)), req), nil
}

func TestRecordThenReplayRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recording.json")

	h := headers.New()
	h.Set("Content-Type", "application/json")
	inner := &fixedTransport{status: 200, header: h, body: `{"ok":true}`}

	recorder, err := New(Options{Mode: ModeRecord, RecordingPath: path, AutoFlushOnDispose: true}, inner)
	require.NoError(t, err)

	req := message.NewRequest(message.MethodGET, "http://example.com/api/widgets", nil, nil)
	recResp, err := recorder.Send(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(recResp.Body()))
	assert.Equal(t, 1, inner.calls)

	_, err = os.Stat(path)
	require.NoError(t, err, "recording file must exist after AutoFlushOnDispose")

	player, err := New(Options{Mode: ModeReplay, RecordingPath: path, MismatchPolicy: MismatchStrict}, nil)
	require.NoError(t, err)

	replayResp, err := player.Send(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, uint16(200), replayResp.StatusCode)
	assert.Equal(t, `{"ok":true}`, string(replayResp.Body()))

	// Each entry is consumable at most once.
	_, err = player.Send(context.Background(), req)
	assert.Error(t, err)
}

func TestReplayStrictMismatchFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recording.json")

	h := headers.New()
	inner := &fixedTransport{status: 200, header: h, body: "body"}
	recorder, err := New(Options{Mode: ModeRecord, RecordingPath: path, AutoFlushOnDispose: true}, inner)
	require.NoError(t, err)
	recorded := message.NewRequest(message.MethodGET, "http://example.com/a", nil, nil)
	_, err = recorder.Send(context.Background(), recorded)
	require.NoError(t, err)

	player, err := New(Options{Mode: ModeReplay, RecordingPath: path, MismatchPolicy: MismatchStrict}, nil)
	require.NoError(t, err)

	differentReq := message.NewRequest(message.MethodGET, "http://example.com/b", nil, nil)
	_, err = player.Send(context.Background(), differentReq)
	assert.Error(t, err)
}

func TestReplayRelaxedMismatchFallsBackOnHeaderDifference(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recording.json")

	h := headers.New()
	inner := &fixedTransport{status: 200, header: h, body: "body"}
	recorder, err := New(Options{Mode: ModeRecord, RecordingPath: path, AutoFlushOnDispose: true, MatchHeaderNames: []string{"Accept"}}, inner)
	require.NoError(t, err)

	req := message.NewRequest(message.MethodGET, "http://example.com/a", nil, nil)
	req = req.WithHeader("Accept", "text/plain")
	_, err = recorder.Send(context.Background(), req)
	require.NoError(t, err)

	player, err := New(Options{Mode: ModeReplay, RecordingPath: path, MismatchPolicy: MismatchRelaxed, MatchHeaderNames: []string{"Accept"}}, inner)
	require.NoError(t, err)

	differentAccept := message.NewRequest(message.MethodGET, "http://example.com/a", nil, nil)
	differentAccept = differentAccept.WithHeader("Accept", "application/json")
	resp, err := player.Send(context.Background(), differentAccept)
	require.NoError(t, err)
	assert.Equal(t, "body", string(resp.Body()), "relaxed key (method+uri) still matches despite header difference")
}

func TestRedactionStripsSensitiveHeadersAndJSONFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recording.json")

	h := headers.New()
	h.Set("Content-Type", "application/json")
	h.Set("Set-Cookie", "session=abc123")
	inner := &fixedTransport{status: 200, header: h, body: `{"password":"hunter2","name":"widget"}`}

	recorder, err := New(Options{Mode: ModeRecord, RecordingPath: path, AutoFlushOnDispose: true, Redaction: DefaultRedactionPolicy()}, inner)
	require.NoError(t, err)

	req := message.NewRequest(message.MethodGET, "http://example.com/widgets?token=secretvalue", nil, nil)
	req = req.WithHeader("Authorization", "Bearer abc.def.ghi")
	_, err = recorder.Send(context.Background(), req)
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(raw)
	assert.NotContains(t, content, "hunter2")
	assert.NotContains(t, content, "abc.def.ghi")
	assert.NotContains(t, content, "secretvalue")
	assert.NotContains(t, content, "abc123")
	assert.Contains(t, content, "[REDACTED]")
}
