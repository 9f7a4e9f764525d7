package config

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// resolveAWSSecretsManager resolves a Secrets Manager reference of the form
// secret-name or secret-name#json-key. With a key, the secret string must be
// a JSON object and the named string field is returned.
func resolveAWSSecretsManager(ref string) (string, error) {
	name, key, _ := strings.Cut(ref, "#")
	if name == "" {
		return "", fmt.Errorf("invalid AWS Secrets Manager reference %q", ref)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("loading AWS config: %w", err)
	}

	client := secretsmanager.NewFromConfig(cfg)
	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("getting secret %q: %w", name, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret %q has no string value (binary secrets not supported)", name)
	}

	if key == "" {
		return *out.SecretString, nil
	}
	return secretField(*out.SecretString, key)
}

// secretField extracts a string field from a JSON secret payload.
func secretField(payload, key string) (string, error) {
	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &fields); err != nil {
		return "", fmt.Errorf("secret is not a JSON object: %w", err)
	}
	v, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("key %q not found in secret", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("secret value for key %q is not a string", key)
	}
	return s, nil
}
