package threadsync

import (
	"context"
	"strings"

	pkgerrors "github.com/angelmondragon/bidroom-backend/pkg/errors"
)

// CredentialSource supplies the opaque bearer credential issued by the auth
// collaborator. An empty token means the user is signed out.
type CredentialSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed bearer credential.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) {
	return string(s), nil
}

// errNotAuthenticated is returned before any network call when no credential
// is available.
func errNotAuthenticated(cause error) error {
	return pkgerrors.Wrap(pkgerrors.CodeUnauthorized, cause, "not authenticated")
}

func (c *Client) token(ctx context.Context) (string, error) {
	if c.creds == nil {
		return "", errNotAuthenticated(nil)
	}
	token, err := c.creds.Token(ctx)
	if err != nil {
		return "", errNotAuthenticated(err)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errNotAuthenticated(nil)
	}
	return token, nil
}
