package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/manthysbr/socialpilot/internal/core/domain"
)

// ErrBatchSize is returned before any I/O when a batch is empty or too large.
var ErrBatchSize = errors.New("batch size out of range")

var methodName = regexp.MustCompile(`^[a-zA-Z]+\.[a-zA-Z]+$`)

// Batch performs up to domain.MaxBatchSize calls in one round-trip through the
// platform's execute method. Results are positionally aligned with calls; a
// per-call failure is reported in that slot, not as the returned error.
// The whole round-trip shares one attempt budget.
func (c *Client) Batch(ctx context.Context, calls []domain.APICall) ([]domain.APIResult, error) {
	if len(calls) == 0 || len(calls) > domain.MaxBatchSize {
		return nil, fmt.Errorf("%w: %d calls (allowed 1..%d)", ErrBatchSize, len(calls), domain.MaxBatchSize)
	}

	code, err := executeCode(calls)
	if err != nil {
		return nil, err
	}

	var env *envelope
	err = c.withRetry(ctx, "execute", func() error {
		e, err := c.do(ctx, "execute", url.Values{"code": {code}})
		if err != nil {
			return err
		}
		if e.Error != nil {
			return e.Error.apiError("execute")
		}
		env = e
		return nil
	})
	if err != nil {
		return nil, err
	}

	var items []json.RawMessage
	if err := json.Unmarshal(env.Response, &items); err != nil {
		return nil, fmt.Errorf("failed to decode execute response: %w", err)
	}
	if len(items) != len(calls) {
		return nil, fmt.Errorf("execute returned %d results for %d calls", len(items), len(calls))
	}

	// Failed calls come back as false and their errors are listed in call
	// order. A false whose method does not match the next pending error is a
	// real result. Two same-method calls where one returns a real false and a
	// later one fails cannot be told apart; the earlier slot takes the error.
	results := make([]domain.APIResult, len(calls))
	next := 0
	for i, item := range items {
		if !bytes.Equal(bytes.TrimSpace(item), []byte("false")) {
			results[i].Response = item
			continue
		}
		if next < len(env.ExecuteErrors) && env.ExecuteErrors[next].matches(calls[i].Method) {
			results[i].Err = env.ExecuteErrors[next].apiError(calls[i].Method)
			next++
			continue
		}
		results[i].Response = item
	}
	return results, nil
}

// executeCode renders calls as an execute script returning an array of results.
func executeCode(calls []domain.APICall) (string, error) {
	var b strings.Builder
	b.WriteString("return [")
	for i, call := range calls {
		if !methodName.MatchString(call.Method) {
			return "", fmt.Errorf("invalid method name %q", call.Method)
		}
		params := call.Params
		if params == nil {
			params = domain.Params{}
		}
		raw, err := json.Marshal(params)
		if err != nil {
			return "", fmt.Errorf("failed to encode params for %s: %w", call.Method, err)
		}
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, "API.%s(%s)", call.Method, raw)
	}
	b.WriteString("];")
	return b.String(), nil
}
