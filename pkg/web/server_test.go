package web

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/dispatchio/dispatch/pkg/dispatch"
)

func newTestServer(t *testing.T) (*Server, *dispatch.Dispatcher) {
	t.Helper()
	pool, err := dispatch.NewDispatcher(context.Background(), dispatch.Config{
		Workers: 2,
		Name:    "test",
	})
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	t.Cleanup(pool.Close)

	return NewServer(DefaultConfig(":0"), pool, nil, nil), pool
}

func doRequest(s *Server, method, path, body string) *fasthttp.RequestCtx {
	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(path)
	if body != "" {
		ctx.Request.SetBodyString(body)
	}
	s.handleRequest(&ctx)
	return &ctx
}

func TestServer_Health(t *testing.T) {
	s, pool := newTestServer(t)

	ctx := doRequest(s, fasthttp.MethodGet, "/healthz", "")
	if got := ctx.Response.StatusCode(); got != fasthttp.StatusOK {
		t.Fatalf("GET /healthz status = %d, want 200", got)
	}

	pool.Close()
	ctx = doRequest(s, fasthttp.MethodGet, "/healthz", "")
	if got := ctx.Response.StatusCode(); got != fasthttp.StatusServiceUnavailable {
		t.Fatalf("GET /healthz after Close status = %d, want 503", got)
	}
}

func TestServer_Stats(t *testing.T) {
	s, _ := newTestServer(t)

	ctx := doRequest(s, fasthttp.MethodGet, "/stats", "")
	if got := ctx.Response.StatusCode(); got != fasthttp.StatusOK {
		t.Fatalf("GET /stats status = %d, want 200", got)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(ctx.Response.Body(), &body); err != nil {
		t.Fatalf("decoding stats body: %v", err)
	}
	if body["pool"] != "test" {
		t.Errorf("stats pool = %v, want test", body["pool"])
	}
	if body["workers"] != float64(2) {
		t.Errorf("stats workers = %v, want 2", body["workers"])
	}
}

func TestServer_Submit(t *testing.T) {
	s, _ := newTestServer(t)

	done := make(chan struct{})
	s.RegisterJob("ping", func(context.Context) error {
		close(done)
		return nil
	})

	ctx := doRequest(s, fasthttp.MethodPost, "/submit", `{"job":"ping"}`)
	if got := ctx.Response.StatusCode(); got != fasthttp.StatusAccepted {
		t.Fatalf("POST /submit status = %d, want 202, body %s", got, ctx.Response.Body())
	}

	var body map[string]interface{}
	if err := json.Unmarshal(ctx.Response.Body(), &body); err != nil {
		t.Fatalf("decoding submit body: %v", err)
	}
	if id, _ := body["task_id"].(string); id == "" {
		t.Error("submit response has no task_id")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("submitted job never executed")
	}
}

func TestServer_SubmitUnknownJob(t *testing.T) {
	s, _ := newTestServer(t)

	ctx := doRequest(s, fasthttp.MethodPost, "/submit", `{"job":"missing"}`)
	if got := ctx.Response.StatusCode(); got != fasthttp.StatusNotFound {
		t.Fatalf("POST /submit unknown job status = %d, want 404", got)
	}
}

func TestServer_SubmitBadBody(t *testing.T) {
	s, _ := newTestServer(t)

	ctx := doRequest(s, fasthttp.MethodPost, "/submit", `{`)
	if got := ctx.Response.StatusCode(); got != fasthttp.StatusBadRequest {
		t.Fatalf("POST /submit bad body status = %d, want 400", got)
	}
}

func TestServer_SubmitAfterPoolClose(t *testing.T) {
	s, pool := newTestServer(t)
	s.RegisterJob("ping", func(context.Context) error { return nil })
	pool.Close()

	ctx := doRequest(s, fasthttp.MethodPost, "/submit", `{"job":"ping"}`)
	if got := ctx.Response.StatusCode(); got != fasthttp.StatusServiceUnavailable {
		t.Fatalf("POST /submit after Close status = %d, want 503", got)
	}
}

func TestServer_NotFound(t *testing.T) {
	s, _ := newTestServer(t)

	ctx := doRequest(s, fasthttp.MethodGet, "/nope", "")
	if got := ctx.Response.StatusCode(); got != fasthttp.StatusNotFound {
		t.Fatalf("GET /nope status = %d, want 404", got)
	}
}
