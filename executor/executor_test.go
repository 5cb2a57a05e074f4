package executor

import (
	"context"
	"encoding/json"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"outreach/automation"
	"outreach/models"
)

type fakeAgent struct {
	mu       sync.Mutex
	sessions map[string]bool
	actions  []actionRequest
	auth     []string
	failWith string
	slow     time.Duration
}

func (a *fakeAgent) handle(ctx *fasthttp.RequestCtx) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.auth = append(a.auth, string(ctx.Request.Header.Peek("Authorization")))
	path := string(ctx.Path())
	method := string(ctx.Method())

	switch {
	case method == fasthttp.MethodPost && path == "/v1/sessions":
		var req openRequest
		_ = json.Unmarshal(ctx.PostBody(), &req)
		if req.Password != "pw" {
			ctx.SetStatusCode(fasthttp.StatusUnauthorized)
			ctx.SetBodyString(`{"error":"bad credentials"}`)
			return
		}
		a.sessions["s-1"] = true
		ctx.SetStatusCode(fasthttp.StatusCreated)
		ctx.SetBodyString(`{"session_id":"s-1"}`)

	case method == fasthttp.MethodPost && strings.HasSuffix(path, "/actions"):
		if a.slow > 0 {
			a.mu.Unlock()
			time.Sleep(a.slow)
			a.mu.Lock()
		}
		var req actionRequest
		_ = json.Unmarshal(ctx.PostBody(), &req)
		a.actions = append(a.actions, req)
		if a.failWith != "" {
			ctx.SetBodyString(`{"success":false,"error":"` + a.failWith + `"}`)
			return
		}
		ctx.SetBodyString(`{"success":true}`)

	case method == fasthttp.MethodDelete && strings.HasPrefix(path, "/v1/sessions/"):
		id := strings.TrimPrefix(path, "/v1/sessions/")
		if !a.sessions[id] {
			ctx.SetStatusCode(fasthttp.StatusNotFound)
			return
		}
		delete(a.sessions, id)
		ctx.SetStatusCode(fasthttp.StatusNoContent)

	default:
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}
}

func newAgent(t *testing.T) (*fakeAgent, *HTTPExecutor) {
	t.Helper()
	agent := &fakeAgent{sessions: make(map[string]bool)}
	ln := fasthttputil.NewInmemoryListener()
	server := &fasthttp.Server{Handler: agent.handle}
	go func() { _ = server.Serve(ln) }()
	t.Cleanup(func() { _ = ln.Close() })

	client := &fasthttp.Client{
		Dial: func(string) (net.Conn, error) { return ln.Dial() },
	}
	return agent, NewHTTPExecutor("http://agent.local/", "agent-token", client)
}

func TestHTTPExecutorLifecycle(t *testing.T) {
	agent, exec := newAgent(t)
	ctx := context.Background()

	ec, err := exec.Open(ctx, automation.Credentials{UserID: 4, Username: "agent", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "s-1", ec.ID)
	assert.Equal(t, uint(4), ec.UserID)

	err = exec.Execute(ctx, ec, automation.Action{
		Type:    models.StepTypeMessage,
		Target:  "https://example.com/in/ada",
		Content: "hello",
	})
	require.NoError(t, err)

	require.NoError(t, exec.Close(ctx, ec))
	// closing twice tolerates the agent forgetting the session
	require.NoError(t, exec.Close(ctx, ec))

	agent.mu.Lock()
	defer agent.mu.Unlock()
	require.Len(t, agent.actions, 1)
	assert.Equal(t, "message", agent.actions[0].Type)
	assert.Equal(t, "https://example.com/in/ada", agent.actions[0].Target)
	assert.Empty(t, agent.sessions)
	for _, h := range agent.auth {
		assert.Equal(t, "Bearer agent-token", h)
	}
}

func TestHTTPExecutorOpenRejected(t *testing.T) {
	_, exec := newAgent(t)

	_, err := exec.Open(context.Background(), automation.Credentials{Username: "agent", Password: "wrong"})
	require.Error(t, err)

	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, fasthttp.StatusUnauthorized, remote.Status)
	assert.Contains(t, err.Error(), "bad credentials")
	assert.NotContains(t, err.Error(), "wrong")
}

func TestHTTPExecutorActionFailure(t *testing.T) {
	agent, exec := newAgent(t)
	agent.failWith = "profile not reachable"
	ctx := context.Background()

	ec, err := exec.Open(ctx, automation.Credentials{Username: "agent", Password: "pw"})
	require.NoError(t, err)

	err = exec.Execute(ctx, ec, automation.Action{Type: models.StepTypeConnection, Target: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "profile not reachable")
}

func TestHTTPExecutorHonoursDeadline(t *testing.T) {
	agent, exec := newAgent(t)
	agent.slow = 500 * time.Millisecond

	ec, err := exec.Open(context.Background(), automation.Credentials{Username: "agent", Password: "pw"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err = exec.Execute(ctx, ec, automation.Action{Type: models.StepTypeProfileView, Target: "x"})
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestHTTPExecutorCancelledContext(t *testing.T) {
	_, exec := newAgent(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := exec.Open(ctx, automation.Credentials{Username: "agent", Password: "pw"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDryRunExecutor(t *testing.T) {
	d := NewDryRunExecutor()
	ctx := context.Background()

	ec, err := d.Open(ctx, automation.Credentials{UserID: 1})
	require.NoError(t, err)
	assert.NotEmpty(t, ec.ID)

	require.NoError(t, d.Execute(ctx, ec, automation.Action{Type: models.StepTypeConnection}))
	require.NoError(t, d.Close(ctx, ec))
	assert.EqualValues(t, 1, d.Executed())
}

func TestExecutorsSatisfyInterface(t *testing.T) {
	var _ automation.ActionExecutor = (*HTTPExecutor)(nil)
	var _ automation.ActionExecutor = (*DryRunExecutor)(nil)
}
