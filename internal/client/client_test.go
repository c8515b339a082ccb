package client

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/jobwatch/pkg/types"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL + "/")
}

func TestSubmit(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, PathCompile, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"content":"print(1)"}`, string(body))

		w.Write([]byte(`{"status":"started","job_id":"abc"}`))
	})

	ack, err := c.Submit(context.Background(), "print(1)")
	require.NoError(t, err)
	assert.True(t, ack.Started())
	assert.Equal(t, "abc", ack.JobID)
}

func TestConsole(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathConsole, r.URL.Path)
		w.Write([]byte(`{"output":[{"text":"1","type":"success"}]}`))
	})

	snap, err := c.Console(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []types.ConsoleLine{{Text: "1", Type: types.SeveritySuccess}}, snap.Output)
}

func TestInsights(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathInsights, r.URL.Path)
		w.Write([]byte(`{"phases":[{"name":"Lexer","status":"completed","description":"d","result":"ok","is_error":false}],` +
			`"insights":[{"title":"t","code":null,"explanation":"e"}]}`))
	})

	snap, err := c.Insights(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Phases, 1)
	require.NotNil(t, snap.Phases[0].Result)
	assert.Equal(t, "ok", *snap.Phases[0].Result)
	require.Len(t, snap.Insights, 1)
	assert.Nil(t, snap.Insights[0].Code)
}

func TestContentWithNullFile(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"content":"x = 1","file":null}`))
	})

	content, err := c.Content(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "x = 1", content.Content)
	assert.Nil(t, content.File)
}

func TestSaveDecodesErrorBody(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"status":"error","error":"disk full"}`))
	})

	resp, err := c.Save(context.Background(), types.SaveRequest{Content: "x", Filename: "a.apbl"})
	require.NoError(t, err)
	assert.Equal(t, "disk full", resp.Error)
	assert.NotEqual(t, types.SaveSaved, resp.Status)
}

func TestNon2xxIsStatusError(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	_, err := c.Status(context.Background())
	require.Error(t, err)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.Code)
	assert.Equal(t, "boom", statusErr.Body)
}

func TestUndecodableBodyIsError(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>`))
	})

	_, err := c.Console(context.Background())
	assert.ErrorContains(t, err, "decode response")
}

func TestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, WithTimeout(20*time.Millisecond))
	_, err := c.Status(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStatusWithRedirect(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"success","data":{"progress":100,"message":"Ready!","complete":true},"redirect":"/ide"}`))
	})

	resp, err := c.Status(context.Background())
	require.NoError(t, err)
	require.NotNil(t, resp.Data)
	assert.Equal(t, 100, resp.Data.Progress)
	assert.Equal(t, "/ide", resp.Redirect)
}
