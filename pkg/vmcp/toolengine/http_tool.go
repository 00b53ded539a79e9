// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package toolengine

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stacklok/vmcp-gateway/pkg/vmcp"
	"github.com/stacklok/vmcp-gateway/pkg/vmcp/config"
)

// httpToolTimeout bounds one custom HTTP tool call regardless of the
// caller's own context deadline, matching the session layer's pattern of
// never trusting an unbounded upstream.
const httpToolTimeout = 30 * time.Second

var httpToolClient = &http.Client{}

func (e *Engine) callHTTPTool(ctx context.Context, tool *config.CustomTool, arguments map[string]any) (*vmcp.ToolCallResult, error) {
	env := e.envAsAny()

	method := tool.Method
	if method == "" {
		method = http.MethodGet
	}

	url, err := e.parser.Expand(ctx, tool.URL, arguments, env)
	if err != nil {
		return errorResult(err), nil
	}

	var body io.Reader
	if tool.Body != "" {
		rendered, err := e.parser.Expand(ctx, tool.Body, arguments, env)
		if err != nil {
			return errorResult(err), nil
		}
		body = strings.NewReader(rendered)
	}

	reqCtx, cancel := context.WithTimeout(ctx, httpToolTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, url, body)
	if err != nil {
		return errorResult(err), nil
	}

	for key, value := range tool.Headers {
		renderedValue, err := e.parser.Expand(ctx, value, arguments, env)
		if err != nil {
			return errorResult(err), nil
		}
		req.Header.Set(key, renderedValue)
	}

	resp, err := httpToolClient.Do(req)
	if err != nil {
		return errorResult(err), nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errorResult(err), nil
	}

	return &vmcp.ToolCallResult{
		IsError: resp.StatusCode >= 400,
		Content: []vmcp.Content{{Type: "text", Text: string(respBody)}},
	}, nil
}

func errorResult(err error) *vmcp.ToolCallResult {
	return &vmcp.ToolCallResult{IsError: true, Content: []vmcp.Content{{Type: "text", Text: err.Error()}}}
}
