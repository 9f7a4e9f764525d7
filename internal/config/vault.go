package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
)

const vaultTimeout = 10 * time.Second

// resolveVault reads one field of a Vault secret. The reference has the form
// mount/path#field; KV v2 responses are unwrapped from their "data" envelope.
func resolveVault(ref string) (string, error) {
	path, field, ok := strings.Cut(ref, "#")
	if !ok || path == "" || field == "" {
		return "", fmt.Errorf("invalid Vault reference %q: expected format path#field", ref)
	}

	client, err := newVaultClient()
	if err != nil {
		return "", err
	}
	secret, err := client.Logical().Read(path)
	if err != nil {
		return "", fmt.Errorf("reading Vault secret at %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("no secret found at %s", path)
	}
	return vaultField(secret.Data, path, field)
}

// newVaultClient builds a client from VAULT_ADDR, VAULT_TOKEN and the
// optional VAULT_NAMESPACE.
func newVaultClient() (*api.Client, error) {
	addr := os.Getenv("VAULT_ADDR")
	if addr == "" {
		return nil, fmt.Errorf("VAULT_ADDR environment variable not set")
	}
	token := os.Getenv("VAULT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("VAULT_TOKEN environment variable not set")
	}

	cfg := api.DefaultConfig()
	cfg.Address = addr
	cfg.Timeout = vaultTimeout
	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating Vault client: %w", err)
	}
	client.SetToken(token)
	if ns := os.Getenv("VAULT_NAMESPACE"); ns != "" {
		client.SetNamespace(ns)
	}
	return client, nil
}

func vaultField(data map[string]interface{}, path, field string) (string, error) {
	if inner, ok := data["data"].(map[string]interface{}); ok {
		data = inner
	}
	val, ok := data[field]
	if !ok {
		return "", fmt.Errorf("field %q not found in Vault secret at %s", field, path)
	}
	str, ok := val.(string)
	if !ok || str == "" {
		return "", fmt.Errorf("Vault secret field %q at %s is not a non-empty string", field, path)
	}
	return str, nil
}
