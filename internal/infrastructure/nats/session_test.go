package nats

import (
	"crypto/tls"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/meshbridge/internal/infrastructure/config"
	"github.com/nerrad567/meshbridge/internal/transport"
)

func TestSubjectFromTopic(t *testing.T) {
	tests := []struct {
		topic string
		want  string
	}{
		{"meshcore/bridge", "meshcore.bridge"},
		{"meshcore/bridge/meshcore-0A0B0C", "meshcore.bridge.meshcore-0A0B0C"},
		{"meshcore/bridge/+", "meshcore.bridge.*"},
		{"meshcore/#", "meshcore.>"},
		{"a", "a"},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			got, err := SubjectFromTopic(tt.topic)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSubjectFromTopic_Invalid(t *testing.T) {
	for _, topic := range []string{
		"",
		"mesh.core/bridge",
		"meshcore//bridge",
		"meshcore/bridge/",
		"meshcore/#/x",
		"meshcore/br+dge",
		"mesh core",
		"meshcore/*",
	} {
		t.Run(topic, func(t *testing.T) {
			_, err := SubjectFromTopic(topic)
			assert.ErrorIs(t, err, ErrInvalidTopic)
		})
	}
}

func TestTopicFromSubject(t *testing.T) {
	assert.Equal(t, "meshcore/bridge/meshcore-0A0B0C", TopicFromSubject("meshcore.bridge.meshcore-0A0B0C"))
	assert.Equal(t, "single", TopicFromSubject("single"))
}

func TestClassifyConnectError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"authorization", natsgo.ErrAuthorization, transport.ErrAuthRejected},
		{"authorization text", errors.New("nats: Authorization Violation"), transport.ErrAuthRejected},
		{"no servers", natsgo.ErrNoServers, transport.ErrConnectionRefused},
		{"socket refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), transport.ErrConnectionRefused},
		{"other", errors.New("tls: handshake failure"), transport.ErrConnectFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyConnectError(tt.err)
			assert.ErrorIs(t, got, tt.want)
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestServerURL(t *testing.T) {
	opts := transport.SessionOptions{Host: "nats.local", Port: 4222}
	assert.Equal(t, "nats://nats.local:4222", serverURL(opts))

	opts.TLS = &tls.Config{ServerName: "nats.local"}
	assert.Equal(t, "tls://nats.local:4222", serverURL(opts))
}

func TestBuildOptions(t *testing.T) {
	s := New(config.NATSConfig{PingInterval: 20})
	opts := transport.SessionOptions{
		Host:     "nats.local",
		Port:     4222,
		ClientID: "meshcore-0A0B0C",
		Username: "bridge",
		Password: "secret",
		TLS:      &tls.Config{ServerName: "nats.local"},
	}

	var o natsgo.Options
	for _, apply := range s.buildOptions(opts, 3*time.Second) {
		require.NoError(t, apply(&o))
	}

	assert.False(t, o.AllowReconnect)
	assert.Equal(t, 3*time.Second, o.Timeout)
	assert.Equal(t, 20*time.Second, o.PingInterval)
	assert.Equal(t, "meshcore-0A0B0C", o.Name)
	assert.Equal(t, "bridge", o.User)
	assert.Equal(t, "secret", o.Password)
	assert.True(t, o.Secure)
	require.NotNil(t, o.TLSConfig)
	assert.Equal(t, "nats.local", o.TLSConfig.ServerName)
}

func TestBuildOptions_ConfiguredName(t *testing.T) {
	s := New(config.NATSConfig{Name: "gateway"})

	var o natsgo.Options
	for _, apply := range s.buildOptions(transport.SessionOptions{ClientID: "x"}, time.Second) {
		require.NoError(t, apply(&o))
	}
	assert.Equal(t, "gateway", o.Name)
	assert.Empty(t, o.User)
}

func TestSession_Disconnected(t *testing.T) {
	s := New(config.NATSConfig{})
	assert.False(t, s.IsConnected())

	assert.ErrorIs(t, s.Publish("meshcore/bridge", []byte{1}, 0, false), transport.ErrNotConnected)
	assert.ErrorIs(t, s.Subscribe("meshcore/bridge", 0, func(string, []byte) {}), transport.ErrNotConnected)
	assert.ErrorIs(t, s.Subscribe("meshcore/bridge", 0, nil), transport.ErrSubscribeFailed)
	assert.ErrorIs(t, s.Publish("meshcore/+", []byte{1}, 0, false), ErrInvalidTopic)

	s.Disconnect()
	s.Reset()
}
