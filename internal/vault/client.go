// Package vault reads service secrets, such as the server signing key, from HashiCorp Vault.
package vault

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/vault/api"

	"quant-agent-go/internal/config"
)

// ErrSecretNotFound is returned when the path or field does not exist.
var ErrSecretNotFound = errors.New("secret not found")

// Client wraps the HashiCorp Vault client
type Client struct {
	client *api.Client
	config config.Vault
}

// NewClient creates a new Vault client
func NewClient(cfg config.Vault) (*Client, error) {
	vaultConfig := api.DefaultConfig()
	if cfg.Address != "" {
		vaultConfig.Address = cfg.Address
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}

	return &Client{client: client, config: cfg}, nil
}

// ReadField reads a single string field from a KV secret. Both KV v2 ("data" wrapped)
// and KV v1 layouts are accepted.
func (c *Client) ReadField(ctx context.Context, path, field string) (string, error) {
	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s from vault: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("%s: %w", path, ErrSecretNotFound)
	}

	data := secret.Data
	if inner, ok := secret.Data["data"].(map[string]interface{}); ok {
		data = inner
	}

	v, ok := data[field].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("%s#%s: %w", path, field, ErrSecretNotFound)
	}
	return v, nil
}

// SignerKey reads the configured signing key field.
func (c *Client) SignerKey(ctx context.Context) (string, error) {
	return c.ReadField(ctx, c.config.Path, c.config.Field)
}
