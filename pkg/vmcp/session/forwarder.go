// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/stacklok/vmcp-gateway/pkg/logger"
)

// DownstreamNotifier is whatever sits on the other side of a client's
// transport connection and can push a server-initiated notification to it.
// The gateway's transport layer implements this against the downstream
// MCP session's own notification channel; it is an interface here so the
// forwarder has no compile-time dependency on that layer.
type DownstreamNotifier interface {
	SendToolListChanged()
	SendResourceListChanged()
	SendPromptListChanged()
	SendResourceUpdated(uri string)
	SendLogMessage(level, loggerName string, data any)
	SendProgressNotification(token any, progress float64, total *float64, message string)
}

// NotificationForwarder installs one message handler per upstream backend
// connection and republishes whatever it receives to the downstream
// client, rewriting anything backend-scoped (a progress token, a resource
// URI) so it remains meaningful once merged into the composed session.
type NotificationForwarder struct {
	backendID  string
	downstream DownstreamNotifier

	mu       sync.Mutex
	progress map[string]any // upstream progress token (stringified) -> downstream token
}

// NewNotificationForwarder returns a forwarder bound to one backend's
// identity, used to label/rewrite anything it forwards downstream.
func NewNotificationForwarder(backendID string, downstream DownstreamNotifier) *NotificationForwarder {
	return &NotificationForwarder{
		backendID: backendID,
		downstream: downstream,
		progress:  make(map[string]any),
	}
}

// RegisterProgressToken records that progress reported by upstream under
// upstreamToken should be forwarded downstream under downstreamToken. Call
// sites register one mapping per in-flight call before issuing it and
// unregister once the call completes, so concurrent calls to the same
// backend never cross-report progress.
func (f *NotificationForwarder) RegisterProgressToken(upstreamToken string, downstreamToken any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress[upstreamToken] = downstreamToken
}

// UnregisterProgressToken removes a mapping installed by RegisterProgressToken.
func (f *NotificationForwarder) UnregisterProgressToken(upstreamToken string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.progress, upstreamToken)
}

func (f *NotificationForwarder) downstreamToken(upstreamToken string) (any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	token, ok := f.progress[upstreamToken]
	return token, ok
}

// Handle dispatches one upstream JSON-RPC notification to the matching
// downstream Send* call, per the method-name mapping table. An unrecognized
// method is logged and dropped rather than propagated blind.
func (f *NotificationForwarder) Handle(notification mcp.JSONRPCNotification) {
	if f.downstream == nil {
		return
	}

	switch notification.Method {
	case "notifications/tools/list_changed":
		f.downstream.SendToolListChanged()
	case "notifications/resources/list_changed":
		f.downstream.SendResourceListChanged()
	case "notifications/prompts/list_changed":
		f.downstream.SendPromptListChanged()
	case "notifications/resources/updated":
		uri, _ := notification.Params.AdditionalFields["uri"].(string)
		f.downstream.SendResourceUpdated(uri)
	case "notifications/message":
		level, _ := notification.Params.AdditionalFields["level"].(string)
		loggerName, _ := notification.Params.AdditionalFields["logger"].(string)
		if loggerName == "" {
			loggerName = f.backendID
		}
		f.downstream.SendLogMessage(level, loggerName, notification.Params.AdditionalFields["data"])
	case "notifications/progress":
		f.handleProgress(notification)
	default:
		logger.Debugw("dropping unrecognized upstream notification", "backend", f.backendID, "method", notification.Method)
	}
}

func (f *NotificationForwarder) handleProgress(notification mcp.JSONRPCNotification) {
	fields := notification.Params.AdditionalFields
	upstreamToken := coerceToken(fields["progressToken"])

	downstreamToken, ok := f.downstreamToken(upstreamToken)
	if !ok {
		logger.Debugw("dropping progress notification with no registered call",
			"backend", f.backendID, "upstream_token", upstreamToken)
		return
	}

	progress, _ := fields["progress"].(float64)
	var total *float64
	if t, ok := fields["total"].(float64); ok {
		total = &t
	}
	message, _ := fields["message"].(string)

	f.downstream.SendProgressNotification(downstreamToken, progress, total, message)
}

// coerceToken stringifies a progress token of unknown underlying type
// (mcp's ProgressToken is defined as `any`) per the Open-Question decision
// recorded in DESIGN.md: carry progress tokens as `any` end-to-end and
// coerce via fmt.Sprint only where a transport requires a string.
func coerceToken(token any) string {
	return fmt.Sprint(token)
}
