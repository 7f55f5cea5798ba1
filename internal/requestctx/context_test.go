package requestctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIdentity(t *testing.T) {
	var nilCtx *Context
	require.Equal(t, "anon:unknown", nilCtx.Identity())
	require.True(t, nilCtx.Anonymous())
	require.Equal(t, "user:42", (&Context{UserID: "42", Fingerprint: "f"}).Identity())
	require.Equal(t, "anon:f", (&Context{Fingerprint: "f"}).Identity())
}

func TestRoundTrip(t *testing.T) {
	_, ok := FromContext(context.Background())
	require.False(t, ok)

	ctx := WithContext(nil, &Context{UserID: "u"})
	rc, ok := FromContext(ctx)
	require.True(t, ok)
	require.Equal(t, "u", rc.UserID)
	require.False(t, rc.Anonymous())
}
