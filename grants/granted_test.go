package grants_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/authplane/authplane/grants"
	fakegrantrepo "github.com/authplane/authplane/grants/repofake"
	"github.com/authplane/authplane/oauth2"
)

const (
	testTenantID = "tenant-1"
	testClientID = "client-1"
	testSubject  = "user-1"
)

func TestMergeUnionsScopesIdempotently(t *testing.T) {
	now := time.Now()
	existing := grants.AuthorizationGranted{
		ID:       "granted-1",
		TenantID: testTenantID,
		Grant:    grants.NewAuthorizationGrant(testSubject, testClientID, oauth2.Scopes{"openid", "profile"}),
	}

	incoming := grants.NewAuthorizationGrant(testSubject, testClientID, oauth2.Scopes{"profile", "email"})

	merged := existing.Merge(incoming, now)
	require.ElementsMatch(t, oauth2.Scopes{"openid", "profile", "email"}, merged.Grant.Scopes)

	// Merging the same grant again must not grow the record.
	again := merged.Merge(incoming, now.Add(time.Minute))
	require.ElementsMatch(t, merged.Grant.Scopes, again.Grant.Scopes)
	require.ElementsMatch(t, merged.Grant.IDTokenClaims, again.Grant.IDTokenClaims)
}

func TestMergeKeepsEarliestConsentTime(t *testing.T) {
	early := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	late := early.Add(24 * time.Hour)

	existing := grants.AuthorizationGranted{
		ID:    "granted-1",
		Grant: grants.NewAuthorizationGrant(testSubject, testClientID, nil, grants.WithConsentClaims(map[string]time.Time{"email": early})),
	}
	incoming := grants.NewAuthorizationGrant(testSubject, testClientID, nil, grants.WithConsentClaims(map[string]time.Time{"email": late, "name": late}))

	merged := existing.Merge(incoming, late)
	require.Equal(t, early, merged.Grant.ConsentClaims["email"])
	require.Equal(t, late, merged.Grant.ConsentClaims["name"])
}

func TestMergeIncomingPropertiesOverride(t *testing.T) {
	now := time.Now()
	existing := grants.AuthorizationGranted{
		ID:    "granted-1",
		Grant: grants.NewAuthorizationGrant(testSubject, testClientID, nil, grants.WithCustomProperties(map[string]string{"tier": "bronze", "region": "eu"})),
	}
	incoming := grants.NewAuthorizationGrant(testSubject, testClientID, nil, grants.WithCustomProperties(map[string]string{"tier": "gold"}))

	merged := existing.Merge(incoming, now)
	require.Equal(t, "gold", merged.Grant.CustomProperties["tier"])
	require.Equal(t, "eu", merged.Grant.CustomProperties["region"])
}

func TestMergeConcatenatesAuthorizationDetails(t *testing.T) {
	now := time.Now()
	payment := map[string]any{"type": "payment_initiation", "amount": "10.00"}

	existing := grants.AuthorizationGranted{
		ID:    "granted-1",
		Grant: grants.NewAuthorizationGrant(testSubject, testClientID, nil, grants.WithAuthorizationDetails(grants.AuthorizationDetails{payment})),
	}
	incoming := grants.NewAuthorizationGrant(testSubject, testClientID, nil, grants.WithAuthorizationDetails(grants.AuthorizationDetails{payment}))

	// Two identical payment authorizations are two payments, not one.
	merged := existing.Merge(incoming, now)
	require.Len(t, merged.Grant.AuthorizationDetails, 2)
}

func TestReplaceDiscardsPriorConsent(t *testing.T) {
	now := time.Now()
	existing := grants.AuthorizationGranted{
		ID:        "granted-1",
		TenantID:  testTenantID,
		Grant:     grants.NewAuthorizationGrant(testSubject, testClientID, oauth2.Scopes{"openid", "profile", "email"}),
		CreatedAt: now.Add(-time.Hour),
	}
	incoming := grants.NewAuthorizationGrant(testSubject, testClientID, oauth2.Scopes{"openid"})

	replaced := existing.Replace(incoming, now)
	require.Equal(t, oauth2.Scopes{"openid"}, replaced.Grant.Scopes)
	require.Equal(t, existing.ID, replaced.ID)
	require.Equal(t, existing.CreatedAt, replaced.CreatedAt)
	require.Equal(t, now, replaced.UpdatedAt)
}

func TestIsGrantedScopes(t *testing.T) {
	granted := grants.AuthorizationGranted{
		ID:    "granted-1",
		Grant: grants.NewAuthorizationGrant(testSubject, testClientID, oauth2.Scopes{"openid", "profile"}),
	}

	require.True(t, granted.IsGrantedScopes(oauth2.Scopes{"openid"}))
	require.True(t, granted.IsGrantedScopes(oauth2.Scopes{"openid", "profile"}))
	require.False(t, granted.IsGrantedScopes(oauth2.Scopes{"openid", "email"}))
	require.Equal(t, oauth2.Scopes{"email"}, granted.UnauthorizedScopes(oauth2.Scopes{"openid", "email"}))
}

func TestCodeGrantConsumeIsSingleUse(t *testing.T) {
	repo := fakegrantrepo.NewFakeCodeGrantRepo()

	grant := grants.AuthorizationCodeGrant{
		Code:      "code-1",
		TenantID:  testTenantID,
		Grant:     grants.NewAuthorizationGrant(testSubject, testClientID, oauth2.Scopes{"openid"}),
		ExpiresAt: time.Now().Add(10 * time.Minute),
	}
	require.NoError(t, repo.Register(grant))

	redeemed, found, err := repo.Consume(testTenantID, "code-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "code-1", redeemed.Code)

	_, found, err = repo.Consume(testTenantID, "code-1")
	require.NoError(t, err)
	require.False(t, found)
}

func TestCodeGrantConsumeIsTenantScoped(t *testing.T) {
	repo := fakegrantrepo.NewFakeCodeGrantRepo()

	require.NoError(t, repo.Register(grants.AuthorizationCodeGrant{
		Code:      "code-1",
		TenantID:  testTenantID,
		ExpiresAt: time.Now().Add(10 * time.Minute),
	}))

	_, found, err := repo.Consume("other-tenant", "code-1")
	require.NoError(t, err)
	require.False(t, found)

	_, found, err = repo.Consume(testTenantID, "code-1")
	require.NoError(t, err)
	require.True(t, found)
}
