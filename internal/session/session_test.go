// internal/session/session_test.go
package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobmarket-client/internal/common/config"
	"jobmarket-client/internal/common/logger"
	"jobmarket-client/internal/events"
)

func testSessionConfig(baseURL string) *config.Config {
	cfg := &config.Config{}
	cfg.App.Name = "jobmarket-client"
	cfg.App.UserID = "user-1"
	cfg.API.BaseURL = baseURL
	cfg.API.DiscoveryEndpoints = []string{baseURL}
	cfg.API.Timeout = 2000
	cfg.API.RateLimitMaxWait = 100
	cfg.Channel.Endpoint = "/ws"
	cfg.Channel.MaxReconnectAttempts = 1
	cfg.Channel.ReconnectDelay = 10
	cfg.Channel.HandshakeTimeout = 500
	cfg.Channel.LogSuppressAfter = 3
	cfg.Cache.TTL = 1000
	cfg.Cache.SweepInterval = 60000
	cfg.Engine.NotificationTTL = 1000
	cfg.Notifications.AWS.Region = "us-east-1"
	return cfg
}

func TestSessionWiring(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	sess, err := New(context.Background(), testSessionConfig(server.URL), nil, logger.NewTestLogger(t))
	require.NoError(t, err)

	assert.NotNil(t, sess.Client())
	assert.NotNil(t, sess.Channel())
	assert.NotNil(t, sess.Dispatcher())
	assert.NotNil(t, sess.Engine())
	assert.Equal(t, events.StateDisconnected, sess.Channel().State())

	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close())
}

func TestSessionStartFailsWithoutPushServer(t *testing.T) {
	// Plain HTTP server: the websocket handshake is refused.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sess, err := New(context.Background(), testSessionConfig(server.URL), nil, logger.NewTestLogger(t))
	require.NoError(t, err)
	defer sess.Close()

	require.Error(t, sess.Start(context.Background()))
	assert.Equal(t, events.StateDisconnected, sess.Channel().State())
}
