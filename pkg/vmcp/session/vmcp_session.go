// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	transportsession "github.com/stacklok/vmcp-gateway/pkg/transport/session"
)

// VMCPSessionFactory returns the factory function transport/session.Manager
// needs to mint placeholder sessions under a caller-chosen ID (typically
// the downstream transport's own session ID). The returned session starts
// with no backend connections and no capabilities; Factory.MakeSession
// builds and populates its own sessions rather than ones minted here.
func VMCPSessionFactory() func(id string) transportsession.Session {
	return func(id string) transportsession.Session {
		return newDefaultMultiSessionWithID(id)
	}
}
