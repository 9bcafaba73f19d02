package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

type (
	// SecretResolver looks up the value of a named secret
	SecretResolver interface {
		Resolve(ctx context.Context, name string) (string, error)
	}

	// EnvSecrets resolves secrets from GHOSTFLOW_SECRET_<NAME> environment
	// variables
	EnvSecrets struct{}

	// StaticSecrets resolves secrets from a fixed map
	StaticSecrets map[string]string
)

const secretEnvPrefix = "GHOSTFLOW_SECRET_"

var ErrSecretNotFound = errors.New("secret not found")

func (EnvSecrets) Resolve(_ context.Context, name string) (string, error) {
	key := secretEnvPrefix + strings.ToUpper(
		strings.NewReplacer("-", "_", ".", "_").Replace(name),
	)
	if v, ok := os.LookupEnv(key); ok {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
}

func (s StaticSecrets) Resolve(_ context.Context, name string) (string, error) {
	if v, ok := s[name]; ok {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
}

func (e *Engine) resolveSecrets(
	ctx context.Context, names []string,
) (map[string]string, error) {
	res := make(map[string]string, len(names))
	for _, name := range names {
		v, err := e.secrets.Resolve(ctx, name)
		if err != nil {
			return nil, err
		}
		res[name] = v
	}
	return res, nil
}
