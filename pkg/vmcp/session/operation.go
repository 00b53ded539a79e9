// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"strings"
	"time"

	vmcperrors "github.com/stacklok/vmcp-gateway/pkg/errors"
	"github.com/stacklok/vmcp-gateway/pkg/logger"
)

// retryBackoffBase is the initial delay before retrying an operation that
// failed with an invalid-session-id error. The upstream session is assumed
// to have been silently recycled by the backend; one retry against a fresh
// dial is enough; a persistent failure is terminal.
const retryBackoffBase = 500 * time.Millisecond

// runOperation wraps a single upstream call with the gateway's failure
// taxonomy: context cancellation/deadline become OperationCancelled/
// OperationTimedOut, an invalid-session-id failure triggers reconnect and is
// retried exactly once (the backend may have rotated its session
// transparently), and everything else passes through wrapped as an
// upstream failure. reconnect is called with the backend's session
// invalidated; op's closure must read the session fresh on each invocation
// (not close over a client captured before the call) so the retry actually
// observes the reconnected client.
func runOperation[T any](
	ctx context.Context,
	name string,
	reconnect func(ctx context.Context) error,
	op func(ctx context.Context) (T, error),
) (T, error) {
	result, err := op(ctx)
	if err == nil {
		return result, nil
	}

	if classified := classifyOperationError(err); vmcperrors.Is(classified, vmcperrors.ErrInvalidSessionID) {
		logger.Warnw("operation failed with invalid session id, reconnecting and retrying once", "operation", name)
		select {
		case <-time.After(retryBackoffBase):
		case <-ctx.Done():
			var zero T
			return zero, classifyOperationError(ctx.Err())
		}
		if reconnect != nil {
			if reErr := reconnect(ctx); reErr != nil {
				var zero T
				return zero, classifyOperationError(reErr)
			}
		}
		result, err = op(ctx)
		if err == nil {
			return result, nil
		}
		var zero T
		return zero, classifyOperationError(err)
	}

	var zero T
	return zero, classifyOperationError(err)
}

// classifyOperationError maps a raw transport/context error onto the
// gateway's typed error vocabulary so callers (and runOperation's own
// retry check) can branch on Type rather than string-matching.
func classifyOperationError(err error) error {
	if err == nil {
		return nil
	}
	var ge *vmcperrors.Error
	if errors.As(err, &ge) {
		return ge
	}

	msg := err.Error()
	switch {
	case errors.Is(err, context.Canceled):
		return vmcperrors.NewOperationCancelledError("operation cancelled", err)
	case errors.Is(err, context.DeadlineExceeded):
		return vmcperrors.NewOperationTimedOutError("operation timed out", err)
	case strings.Contains(msg, "401") || strings.Contains(msg, "Unauthorized"):
		return vmcperrors.NewAuthenticationRequiredError("backend requires re-authentication", err)
	case strings.Contains(msg, "400") && strings.Contains(msg, "session"):
		return vmcperrors.NewInvalidSessionIDError("backend rejected session id", err)
	case strings.Contains(msg, "HTTP"):
		return vmcperrors.NewHTTPError("backend returned an HTTP error", err)
	default:
		return vmcperrors.NewUpstreamFailureError("upstream operation failed", err)
	}
}
