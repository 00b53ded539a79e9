// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorage_StoreAndLoad(t *testing.T) {
	t.Parallel()
	storage := NewLocalStorage()
	defer storage.Close()

	sess := NewProxySession("test-id-1")
	sess.SetMetadata("key1", "value1")

	ctx := context.Background()
	require.NoError(t, storage.Store(ctx, sess))

	loaded, err := storage.Load(ctx, "test-id-1")
	require.NoError(t, err)
	assert.Equal(t, "test-id-1", loaded.ID())
	assert.Equal(t, SessionTypeMCP, loaded.Type())
	assert.Equal(t, "value1", loaded.GetMetadata()["key1"])
}

func TestLocalStorage_StoreNilSession(t *testing.T) {
	t.Parallel()
	storage := NewLocalStorage()
	defer storage.Close()

	err := storage.Store(context.Background(), nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "nil session")
}

func TestLocalStorage_StoreEmptyID(t *testing.T) {
	t.Parallel()
	storage := NewLocalStorage()
	defer storage.Close()

	err := storage.Store(context.Background(), &ProxySession{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "empty ID")
}

func TestLocalStorage_LoadNonExistent(t *testing.T) {
	t.Parallel()
	storage := NewLocalStorage()
	defer storage.Close()

	loaded, err := storage.Load(context.Background(), "non-existent")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Nil(t, loaded)
}

func TestLocalStorage_Delete(t *testing.T) {
	t.Parallel()
	storage := NewLocalStorage()
	defer storage.Close()

	sess := NewProxySession("del-me")
	require.NoError(t, storage.Store(context.Background(), sess))
	require.NoError(t, storage.Delete(context.Background(), "del-me"))

	_, err := storage.Load(context.Background(), "del-me")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
