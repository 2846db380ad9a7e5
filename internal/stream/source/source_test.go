package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOAuthBearer_InitialResponse(t *testing.T) {
	var gotForm string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		gotForm = r.Form.Get("grant_type")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-123","token_type":"bearer","expires_in":3600}`))
	}))
	defer ts.Close()

	m := NewOAuthBearer(context.Background(), OAuthConfig{
		TokenURL:     ts.URL,
		ClientID:     "client",
		ClientSecret: "secret",
	})
	assert.Equal(t, "OAUTHBEARER", m.Name())

	sm, ir, err := m.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "client_credentials", gotForm)
	assert.Equal(t, "n,,\x01auth=Bearer tok-123\x01\x01", string(ir))

	done, resp, err := sm.Next(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Nil(t, resp)

	_, _, err = sm.Next(context.Background(), []byte(`{"status":"invalid_token"}`))
	assert.Error(t, err)
}

func TestOAuthBearer_TokenError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"unauthorized_client"}`, http.StatusUnauthorized)
	}))
	defer ts.Close()

	m := NewOAuthBearer(context.Background(), OAuthConfig{TokenURL: ts.URL, ClientID: "c", ClientSecret: "s"})
	_, _, err := m.Start(context.Background())
	assert.Error(t, err)
}

func TestOAuthConfig_Enabled(t *testing.T) {
	assert.False(t, OAuthConfig{}.Enabled())
	assert.False(t, OAuthConfig{TokenURL: "http://x"}.Enabled())
	assert.True(t, OAuthConfig{TokenURL: "http://x", ClientID: "c"}.Enabled())
}

func TestKafkaSource_ConnectErrorWhenUnreachable(t *testing.T) {
	src, err := NewKafkaSource(context.Background(), KafkaConfig{
		Brokers:     []string{"127.0.0.1:1"},
		DialTimeout: time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, "kafka", src.Name())

	_, err = src.Connect(context.Background(), "NLSUTP")
	require.Error(t, err)
	var ce *ConnectionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "NLSUTP", ce.Topic)
}

// 没配连接信息：能建出来，Connect 每次返回 ErrNoEndpoint
func TestSources_NoEndpoint(t *testing.T) {
	ks, err := NewKafkaSource(context.Background(), KafkaConfig{})
	require.NoError(t, err)
	ns, err := NewNatsSource(NatsConfig{})
	require.NoError(t, err)
	rs, err := NewRedisStreamSource(RedisConfig{})
	require.NoError(t, err)

	for _, src := range []Source{ks, ns, rs} {
		_, err := src.Connect(context.Background(), "NLSUTP")
		var ce *ConnectionError
		require.True(t, errors.As(err, &ce), src.Name())
		assert.ErrorIs(t, err, ErrNoEndpoint)
		assert.Equal(t, src.Name(), ce.Source)
	}

	_, err = NewNatsPublisher(NatsConfig{})
	assert.Error(t, err)
	_, err = NewRedisPublisher(RedisConfig{}, 0)
	assert.Error(t, err)
	_, err = NewKafkaPublisher(context.Background(), KafkaConfig{})
	assert.Error(t, err)
}

func TestNatsSource_ConnectError(t *testing.T) {
	src, err := NewNatsSource(NatsConfig{URL: "nats://127.0.0.1:1"})
	require.NoError(t, err)
	assert.Equal(t, "nasdaq.NLSUTP", src.Subject("NLSUTP"))
	assert.Equal(t, "nasdaq.a.b", src.Subject("a:b"))

	_, err = src.Connect(context.Background(), "NLSUTP")
	require.Error(t, err)
	var ce *ConnectionError
	require.True(t, errors.As(err, &ce))
	assert.True(t, strings.Contains(ce.Error(), "nats: connect NLSUTP"))
}

func TestPollDeadline_Linger(t *testing.T) {
	d := newPollDeadline(10*time.Second, 50*time.Millisecond)
	assert.Greater(t, d.remaining(), 5*time.Second)
	d.gotFirst()
	assert.LessOrEqual(t, d.remaining(), 50*time.Millisecond)

	noLinger := newPollDeadline(time.Second, 0)
	noLinger.gotFirst()
	assert.Greater(t, noLinger.remaining(), 500*time.Millisecond)
}
