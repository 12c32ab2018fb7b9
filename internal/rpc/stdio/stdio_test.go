package stdio

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gmaildispatch/internal/cache"
	"gmaildispatch/internal/categorize"
	"gmaildispatch/internal/cleanup/policy"
	"gmaildispatch/internal/dispatch"
	"gmaildispatch/internal/jobs"
	"gmaildispatch/internal/session"
	"gmaildispatch/internal/storage"
)

func newTestDispatcher(t *testing.T) *dispatch.Dispatcher {
	t.Helper()
	factory := storage.NewFactory(t.TempDir())
	t.Cleanup(func() { factory.CloseAll() })
	c := cache.New(time.Hour)
	t.Cleanup(c.Close)
	jobStore := jobs.NewStore(factory)
	queue := jobs.NewQueue()
	policies := policy.NewEngine(factory, jobStore, queue)

	cfg := categorize.DefaultConfig()
	af, err := categorize.NewFactory(cfg, c)
	require.NoError(t, err)
	analyzers, err := af.BuildAll()
	require.NoError(t, err)
	orchestrator := categorize.NewOrchestrator(factory, c, analyzers, cfg, categorize.ModeSequential)

	return dispatch.New(&dispatch.Bundle{
		Sessions:     session.NewStore(time.Hour),
		Storage:      factory,
		Cache:        c,
		Jobs:         jobStore,
		Queue:        queue,
		Policies:     policies,
		Orchestrator: orchestrator,
	})
}

func TestServeHandlesToolsList(t *testing.T) {
	d := newTestDispatcher(t)
	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}` + "\n")
	var out bytes.Buffer

	s := New(d, in, &out)
	require.NoError(t, s.Serve(context.Background()))

	var resp response
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	require.Nil(t, resp.Error)
	require.NotNil(t, resp.Result)
	require.Len(t, resp.Result.Content, 1)
	assert.Contains(t, resp.Result.Content[0].Text, "authenticate")
}

func TestServeHandlesUnknownMethod(t *testing.T) {
	d := newTestDispatcher(t)
	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"bogus/method"}` + "\n")
	var out bytes.Buffer

	s := New(d, in, &out)
	require.NoError(t, s.Serve(context.Background()))

	var resp response
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32601, resp.Error.Code)
}

func TestServeHandlesToolsCallAuthenticate(t *testing.T) {
	d := newTestDispatcher(t)
	params, err := json.Marshal(toolCallParams{Name: "authenticate", Arguments: json.RawMessage(`{"user_id":"user-1"}`)})
	require.NoError(t, err)
	req := request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "tools/call", Params: params}
	line, err := json.Marshal(req)
	require.NoError(t, err)

	in := strings.NewReader(string(line) + "\n")
	var out bytes.Buffer

	s := New(d, in, &out)
	require.NoError(t, s.Serve(context.Background()))

	var resp response
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	require.Nil(t, resp.Error)
	require.NotNil(t, resp.Result)
	assert.Contains(t, resp.Result.Content[0].Text, "user-1")
}

func TestServeHandlesMalformedJSON(t *testing.T) {
	d := newTestDispatcher(t)
	in := strings.NewReader("not json at all\n")
	var out bytes.Buffer

	s := New(d, in, &out)
	require.NoError(t, s.Serve(context.Background()))

	var resp response
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32600, resp.Error.Code)
}

func TestServeStopsOnContextCancellation(t *testing.T) {
	d := newTestDispatcher(t)
	r, w := io.Pipe()
	defer w.Close()
	var out bytes.Buffer

	s := New(d, r, &out)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Serve(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
