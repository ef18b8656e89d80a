package oauth2_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/authplane/authplane/oauth2"
)

func TestSplitScopesDedupesPreservingOrder(t *testing.T) {
	scopes := oauth2.SplitScopes("openid  profile openid email profile")
	require.Equal(t, oauth2.Scopes{"openid", "profile", "email"}, scopes)
	require.Equal(t, "openid profile email", scopes.String())
}

func TestSplitScopesEmpty(t *testing.T) {
	require.Empty(t, oauth2.SplitScopes(""))
	require.Empty(t, oauth2.SplitScopes("   "))
}

func TestIntersectPreservesRequestedOrder(t *testing.T) {
	requested := oauth2.Scopes{"email", "openid", "payments"}
	allowed := oauth2.Scopes{"openid", "profile", "email"}

	require.Equal(t, oauth2.Scopes{"email", "openid"}, requested.Intersect(allowed))
}

func TestContainsAll(t *testing.T) {
	granted := oauth2.Scopes{"openid", "profile", "email"}

	require.True(t, granted.ContainsAll(oauth2.Scopes{"openid", "email"}))
	require.False(t, granted.ContainsAll(oauth2.Scopes{"openid", "payments"}))
	require.True(t, granted.ContainsAll(nil))
}

func TestUnionAndDifference(t *testing.T) {
	a := oauth2.Scopes{"openid", "profile"}
	b := oauth2.Scopes{"profile", "email"}

	require.Equal(t, oauth2.Scopes{"openid", "profile", "email"}, a.Union(b))
	require.Equal(t, oauth2.Scopes{"openid"}, a.Difference(b))
}

func TestHasOpenID(t *testing.T) {
	require.True(t, oauth2.SplitScopes("openid profile").HasOpenID())
	require.False(t, oauth2.SplitScopes("profile email").HasOpenID())
}
