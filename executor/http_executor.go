// Package executor holds ActionExecutor backends.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"outreach/automation"
	"outreach/utils"
)

const defaultRequestTimeout = 30 * time.Second

// RemoteError is a non-success answer from the automation agent
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("agent returned status %d", e.Status)
	}
	return fmt.Sprintf("agent returned status %d: %s", e.Status, e.Message)
}

type openRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type openResponse struct {
	SessionID string `json:"session_id"`
}

type actionRequest struct {
	Type    string `json:"type"`
	Target  string `json:"target"`
	Content string `json:"content"`
}

type actionResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type errorBody struct {
	Error string `json:"error"`
}

// HTTPExecutor drives a remote browser-automation agent over JSON/HTTP
type HTTPExecutor struct {
	client  *fasthttp.Client
	baseURL string
	token   string
	logger  *logrus.Entry
}

func NewHTTPExecutor(baseURL, token string, client *fasthttp.Client) *HTTPExecutor {
	if client == nil {
		client = &fasthttp.Client{
			Name:                "outreach-executor",
			MaxConnsPerHost:     16,
			ReadTimeout:         defaultRequestTimeout,
			WriteTimeout:        defaultRequestTimeout,
			MaxIdleConnDuration: time.Minute,
		}
	}
	return &HTTPExecutor{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		logger:  utils.Component("http_executor"),
	}
}

func (e *HTTPExecutor) Open(ctx context.Context, creds automation.Credentials) (*automation.ExecutionContext, error) {
	var out openResponse
	status, err := e.do(ctx, fasthttp.MethodPost, "/v1/sessions", openRequest{
		Username: creds.Username,
		Password: creds.Password,
	}, &out)
	if err != nil {
		return nil, err
	}
	if status != fasthttp.StatusOK && status != fasthttp.StatusCreated {
		return nil, &RemoteError{Status: status}
	}
	if out.SessionID == "" {
		return nil, fmt.Errorf("agent returned no session id")
	}
	return &automation.ExecutionContext{ID: out.SessionID, UserID: creds.UserID}, nil
}

func (e *HTTPExecutor) Execute(ctx context.Context, ec *automation.ExecutionContext, action automation.Action) error {
	var out actionResponse
	_, err := e.do(ctx, fasthttp.MethodPost, "/v1/sessions/"+ec.ID+"/actions", actionRequest{
		Type:    string(action.Type),
		Target:  action.Target,
		Content: action.Content,
	}, &out)
	if err != nil {
		return err
	}
	if !out.Success {
		if out.Error == "" {
			out.Error = "action reported failure"
		}
		return fmt.Errorf("%s: %s", action.Type, out.Error)
	}
	return nil
}

func (e *HTTPExecutor) Close(ctx context.Context, ec *automation.ExecutionContext) error {
	status, err := e.do(ctx, fasthttp.MethodDelete, "/v1/sessions/"+ec.ID, nil, nil)
	if err != nil {
		var re *RemoteError
		if errors.As(err, &re) && re.Status == fasthttp.StatusNotFound {
			return nil
		}
		return err
	}
	e.logger.WithFields(logrus.Fields{"context_id": ec.ID, "status": status}).Debug("Execution context closed")
	return nil
}

// do sends one request. Non-2xx answers become *RemoteError.
func (e *HTTPExecutor) do(ctx context.Context, method, path string, body, out interface{}) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(e.baseURL + path)
	req.Header.SetMethod(method)
	req.Header.Set("X-Request-ID", uuid.NewString())
	if e.token != "" {
		req.Header.Set(fasthttp.HeaderAuthorization, "Bearer "+e.token)
	}
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		req.Header.SetContentType("application/json")
		req.SetBodyRaw(payload)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultRequestTimeout)
	}
	if err := e.client.DoDeadline(req, resp, deadline); err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}

	status := resp.StatusCode()
	if status < 200 || status >= 300 {
		var eb errorBody
		_ = json.Unmarshal(resp.Body(), &eb)
		return status, &RemoteError{Status: status, Message: eb.Error}
	}

	if out != nil && len(resp.Body()) > 0 {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return status, fmt.Errorf("decode response: %w", err)
		}
	}
	return status, nil
}
