package config

import (
	"context"
	"os"
	"path"
	"strings"
)

// EnvVarProvider implements SecretProvider on top of the process environment.
// It stands in for Parameter Store on local runs and in tests, where the
// secrets behind DATABASE_URL_SSM_PARAM and friends are exported directly or
// come from a .env file.
//
// A key is first looked up verbatim. When it is a parameter path such as
// /dev/cityflow/database-url, the last segment is then tried as a variable
// name, upper-cased with dashes turned into underscores (DATABASE_URL).
type EnvVarProvider struct{}

// NewEnvVarProvider creates an EnvVarProvider.
func NewEnvVarProvider() *EnvVarProvider {
	return &EnvVarProvider{}
}

// GetParametersBatch returns the value of every key found in the
// environment, keyed by the requested key. Keys that resolve to nothing are
// omitted so the loader can report them as missing.
//
// The context is unused; environment lookups cannot block.
func (p *EnvVarProvider) GetParametersBatch(_ context.Context, keys []string) (map[string]string, error) {
	result := make(map[string]string, len(keys))
	for _, key := range keys {
		if val, ok := lookupParameter(key); ok {
			result[key] = val
		}
	}
	return result, nil
}

func lookupParameter(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	if !strings.Contains(key, "/") {
		return "", false
	}
	name := strings.ToUpper(strings.ReplaceAll(path.Base(key), "-", "_"))
	if name == "" || name == "/" || name == "." {
		return "", false
	}
	return os.LookupEnv(name)
}
