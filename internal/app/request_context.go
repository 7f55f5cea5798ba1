package app

import (
	"errors"
	"strings"

	"github.com/ncecere/open_chat_usage/internal/auth"
	"github.com/ncecere/open_chat_usage/internal/requestctx"
)

const bearerPrefix = "bearer "

// BuildRequestContext resolves the caller from the Authorization header.
// Requests without a token become anonymous callers keyed by a fingerprint of
// their address; a token that fails verification is an error.
func BuildRequestContext(container *Container, authorization, clientIP string) (*requestctx.Context, error) {
	if container == nil || container.Tokens == nil {
		return nil, errors.New("token manager required")
	}
	raw := strings.TrimSpace(authorization)
	token := ""
	if raw != "" && strings.HasPrefix(strings.ToLower(raw), bearerPrefix) {
		token = strings.TrimSpace(raw[len(bearerPrefix):])
	}
	if token == "" {
		return &requestctx.Context{Fingerprint: auth.Fingerprint(clientIP)}, nil
	}

	id, err := container.Tokens.Verify(token)
	if err != nil {
		return nil, err
	}
	return &requestctx.Context{
		UserID: id.UserID,
		Role:   id.Role,
		Tier:   id.Tier,
		Admin:  id.Admin,
	}, nil
}
