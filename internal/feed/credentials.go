// internal/feed/credentials.go
package feed

import (
	"context"
	"os"
)

// Credentials authenticate the socket.
type Credentials struct {
	LoginID string
	Token   string
}

// Valid reports whether both parts are set.
func (c Credentials) Valid() bool { return c.LoginID != "" && c.Token != "" }

// CredentialsProvider is asked at every connect attempt, so rotated tokens
// are picked up without restarting the feed.
type CredentialsProvider interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// CredentialsFunc adapts a function to CredentialsProvider.
type CredentialsFunc func(ctx context.Context) (Credentials, error)

func (fn CredentialsFunc) Credentials(ctx context.Context) (Credentials, error) { return fn(ctx) }

// StaticCredentials always returns the same pair.
type StaticCredentials Credentials

func (s StaticCredentials) Credentials(context.Context) (Credentials, error) {
	return Credentials(s), nil
}

// EnvCredentials reads two environment variables at call time.
type EnvCredentials struct {
	LoginIDVar string
	TokenVar   string
}

func (e EnvCredentials) Credentials(context.Context) (Credentials, error) {
	return Credentials{LoginID: os.Getenv(e.LoginIDVar), Token: os.Getenv(e.TokenVar)}, nil
}
