package service

import (
	"context"
	"testing"

	"veribill/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_InstitutionStartsKYCPending(t *testing.T) {
	users := newFakeUsersRepo()
	svc := NewUserService(users, testServiceLogger())

	resp, err := svc.Register(context.Background(), RegisterRequest{
		Email:            "acme@example.com",
		Role:             domain.RoleInstitutionAdmin,
		OrganizationName: "Acme Corp",
		WebhookURL:       "https://acme.example.com/webhook",
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.UserID)

	user, err := users.GetUser(context.Background(), resp.UserID)
	require.NoError(t, err)
	assert.Equal(t, domain.KYCPending, user.KYCStatus)
	assert.True(t, user.WebhookURL.Valid)
}

func TestRegister_DefaultsToPublicRole(t *testing.T) {
	users := newFakeUsersRepo()
	svc := NewUserService(users, testServiceLogger())

	resp, err := svc.Register(context.Background(), RegisterRequest{Email: "someone@example.com"})
	require.NoError(t, err)

	user, err := users.GetUser(context.Background(), resp.UserID)
	require.NoError(t, err)
	assert.Equal(t, domain.RolePublic, user.Role)
	assert.Equal(t, domain.KYCNotNeeded, user.KYCStatus)
}

func TestTopUp(t *testing.T) {
	users := newFakeUsersRepo()
	users.put(testVerifier("verifier-1", 10.00, 0))
	svc := NewUserService(users, testServiceLogger())

	resp, err := svc.TopUp(context.Background(), "verifier-1", 40.00)
	require.NoError(t, err)
	assert.Equal(t, 50.00, resp.NewBalance)

	_, err = svc.TopUp(context.Background(), "verifier-1", -5.00)
	assert.Error(t, err)

	_, err = svc.TopUp(context.Background(), "no-such-user", 10.00)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestGetProfile(t *testing.T) {
	users := newFakeUsersRepo()
	verifier := testVerifier("verifier-1", 42.00, 2)
	verifier.VerificationCount = 12
	users.put(verifier)
	svc := NewUserService(users, testServiceLogger())

	profile, err := svc.GetProfile(context.Background(), "verifier-1")
	require.NoError(t, err)
	assert.Equal(t, 42.00, profile.WalletBalance)
	assert.Equal(t, 12, profile.VerificationCount)
	assert.Equal(t, 2, profile.FreeVerificationsEarned)
}
