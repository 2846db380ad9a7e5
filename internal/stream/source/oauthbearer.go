package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go/sasl"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// OAuthConfig NCDS 使用 OAuth2 client credentials 换取 Kafka SASL/OAUTHBEARER 令牌
type OAuthConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

func (c OAuthConfig) Enabled() bool {
	return c.TokenURL != "" && c.ClientID != ""
}

// oauthBearer 实现 kafka-go 的 sasl.Mechanism (RFC 7628)
type oauthBearer struct {
	ts oauth2.TokenSource
}

// NewOAuthBearer 令牌由 clientcredentials 缓存并在过期前自动刷新
func NewOAuthBearer(ctx context.Context, cfg OAuthConfig) sasl.Mechanism {
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
	return &oauthBearer{ts: cc.TokenSource(ctx)}
}

func (m *oauthBearer) Name() string { return "OAUTHBEARER" }

func (m *oauthBearer) Start(ctx context.Context) (sasl.StateMachine, []byte, error) {
	tok, err := m.ts.Token()
	if err != nil {
		return nil, nil, fmt.Errorf("oauthbearer: fetch token: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, nil, errors.New("oauthbearer: empty access token")
	}
	return bearerSession{}, initialResponse(tok.AccessToken), nil
}

func initialResponse(token string) []byte {
	return []byte("n,,\x01auth=Bearer " + token + "\x01\x01")
}

type bearerSession struct{}

// Next 服务端成功时 challenge 为空；非空说明鉴权失败，内容是 JSON 错误描述
func (bearerSession) Next(_ context.Context, challenge []byte) (bool, []byte, error) {
	if len(challenge) != 0 {
		return false, nil, fmt.Errorf("oauthbearer: rejected: %s", challenge)
	}
	return true, nil, nil
}
