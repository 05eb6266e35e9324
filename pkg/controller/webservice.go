package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cuemby/brainbox/pkg/types"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// maxResponseBytes bounds a decider response body
const maxResponseBytes = 64 << 20

// envelope is the JSON body deciders answer with
type envelope struct {
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// deciderFault is an error the decider itself reported; it does not count
// against the circuit breaker.
type deciderFault struct {
	msg string
}

func (e *deciderFault) Error() string { return e.msg }

func newBreaker(name string, logger zerolog.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     30 * time.Second, // Stay open for 30s before probing again
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var fault *deciderFault
			return errors.As(err, &fault) || errors.Is(err, context.Canceled)
		},
	})
}

// WebServiceAPI calls a decider container over HTTP:
//
//	POST /warmup          {"parameter": "..."}
//	POST /cooldown        {"parameter": "..."}
//	POST /invoke/{method} {"arguments": [...], "dependencies": {...}}
//
// Responses are {"result": ...} on success and {"error": "..."} otherwise.
type WebServiceAPI struct {
	decider string
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewWebServiceAPI creates a client for the decider at baseURL
func NewWebServiceAPI(decider, baseURL string, client *http.Client, breaker *gobreaker.CircuitBreaker) *WebServiceAPI {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebServiceAPI{decider: decider, baseURL: baseURL, client: client, breaker: breaker}
}

// Warmup asks the decider to load the model for parameter
func (a *WebServiceAPI) Warmup(ctx context.Context, parameter string) error {
	_, err := a.post(ctx, "/warmup", map[string]string{"parameter": parameter})
	if err != nil {
		return fmt.Errorf("warmup %s: %w", a.decider, err)
	}
	return nil
}

// Cooldown asks the decider to release the model for parameter
func (a *WebServiceAPI) Cooldown(ctx context.Context, parameter string) error {
	_, err := a.post(ctx, "/cooldown", map[string]string{"parameter": parameter})
	if err != nil {
		return fmt.Errorf("cooldown %s: %w", a.decider, err)
	}
	return nil
}

// Invoke calls a decider method; every failure is a DeciderInvocationError
func (a *WebServiceAPI) Invoke(ctx context.Context, call Call) (any, error) {
	body := struct {
		Arguments    []any          `json:"arguments"`
		Dependencies map[string]any `json:"dependencies,omitempty"`
	}{Arguments: call.Arguments, Dependencies: call.Dependencies}
	if body.Arguments == nil {
		body.Arguments = []any{}
	}

	result, err := a.post(ctx, "/invoke/"+url.PathEscape(call.Method), body)
	if err != nil {
		return nil, invocationError(a.decider, call, err)
	}
	return result, nil
}

func (a *WebServiceAPI) post(ctx context.Context, path string, payload any) (any, error) {
	run := func() (interface{}, error) {
		return a.do(ctx, path, payload)
	}
	var (
		out any
		err error
	)
	if a.breaker != nil {
		out, err = a.breaker.Execute(run)
	} else {
		out, err = run()
	}
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%w: %v", types.ErrTimeout, err)
	}
	return out, err
}

func (a *WebServiceAPI) do(ctx context.Context, path string, payload any) (any, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, &deciderFault{msg: fmt.Sprintf("failed to encode request: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode >= 500 {
		msg := env.Error
		if decodeErr != nil || msg == "" {
			msg = string(bytes.TrimSpace(raw))
		}
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, msg)
	}
	if resp.StatusCode >= 300 {
		if decodeErr == nil && env.Error != "" {
			return nil, &deciderFault{msg: env.Error}
		}
		return nil, &deciderFault{msg: fmt.Sprintf("status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	if decodeErr != nil {
		return nil, &deciderFault{msg: fmt.Sprintf("malformed response: %v", decodeErr)}
	}
	if env.Error != "" {
		return nil, &deciderFault{msg: env.Error}
	}
	return env.Result, nil
}
