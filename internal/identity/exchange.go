// Package identity wraps the third-party identity provider's code-exchange
// endpoint. The session service treats the exchange as a black box: a
// successful call yields an access token and the authorizing shop's domain,
// which seed a new session.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/teja230/storesight-sub006/internal/config"
	"github.com/teja230/storesight-sub006/internal/constants"
)

// Exchanger trades an authorization code for an access token and the shop
// domain it was issued to.
type Exchanger interface {
	// ExchangeCode exchanges an authorization code with the provider.
	ExchangeCode(ctx context.Context, authCode string) (accessToken, shopDomain string, err error)
}

// Client is the HTTP implementation of Exchanger.
type Client struct {
	cfg        *config.IdentityConfig
	httpClient *http.Client
	logger     *logrus.Logger
}

// exchangeResponse is the provider's token endpoint response shape.
type exchangeResponse struct {
	AccessToken string `json:"access_token"`
	ShopDomain  string `json:"shop_domain"`
	TokenType   string `json:"token_type"`
}

// NewClient creates an identity exchange client with a timeout-bounded HTTP
// client.
func NewClient(cfg *config.IdentityConfig, logger *logrus.Logger) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

// ExchangeCode exchanges an authorization code for an access token and shop
// domain. The access token is never logged.
func (c *Client) ExchangeCode(ctx context.Context, authCode string) (string, string, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", authCode)
	data.Set("client_id", c.cfg.ClientID)
	data.Set("client_secret", c.cfg.ClientSecret)

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.cfg.TokenURL,
		strings.NewReader(data.Encode()),
	)
	if err != nil {
		return "", "", fmt.Errorf("failed to create exchange request: %w", err)
	}

	req.Header.Set(constants.HeaderContentType, constants.ContentTypeFormURLEncoded)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("failed to call identity provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("code exchange failed with status %d", resp.StatusCode)
	}

	var exchange exchangeResponse
	if decodeErr := json.NewDecoder(resp.Body).Decode(&exchange); decodeErr != nil {
		return "", "", fmt.Errorf("failed to decode exchange response: %w", decodeErr)
	}

	if exchange.AccessToken == "" || exchange.ShopDomain == "" {
		return "", "", fmt.Errorf("incomplete exchange response from provider")
	}

	c.logger.WithField("shop", exchange.ShopDomain).Debug("Authorization code exchanged")

	return exchange.AccessToken, exchange.ShopDomain, nil
}
