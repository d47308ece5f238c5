package secrets

import "context"

// Provider defines a generic secrets manager interface.
// The console only reads from it; key rotation happens out of band.
type Provider interface {
	// GetSecret retrieves a secret by name and returns its key-value map.
	GetSecret(ctx context.Context, name string) (map[string]string, error)
}
