// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

//go:build !js
// +build !js

package stats

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_StreamsDataPoints(t *testing.T) {
	s := New()
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	s.Add(DataPoint{Label: "flow-1 rate", Timestamp: 100, Value: 1.5e6})
	s.Add(DataPoint{Label: "flow-1 marked", Timestamp: 100, Value: 0.25})

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/update", nil)
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, conn.Close())
		assert.NoError(t, resp.Body.Close())
	}()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var got DataPoint
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, DataPoint{Label: "flow-1 rate", Timestamp: 100, Value: 1.5e6}, got)
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "flow-1 marked", got.Label)
}

func TestServer_AddDoesNotBlock(t *testing.T) {
	s := New()
	for i := 0; i < 2*dataPointBuffer; i++ {
		s.Add(DataPoint{Label: "x", Timestamp: int64(i)})
	}
	assert.Len(t, s.dataChan, dataPointBuffer)
}

func TestServer_Home(t *testing.T) {
	srv := httptest.NewServer(New().Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL) //nolint:noctx
	require.NoError(t, err)
	defer func() { assert.NoError(t, resp.Body.Close()) }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "/update")
}
