package config

import "context"

// SecretProvider abstracts secret retrieval so that production can use AWS
// SSM Parameter Store while local development and tests use in-memory or
// environment-backed implementations. The loader uses it to resolve
// _SSM_PARAM pointers; the dispatch credential cache uses it to fetch
// channel credential documents.
type SecretProvider interface {
	// GetParametersBatch retrieves multiple secret values, batching requests
	// to stay under API limits. The keys slice contains the SSM parameter
	// paths (or equivalent identifiers) to resolve. Returns a map of
	// key -> plaintext value for all successfully resolved parameters.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
