package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mercury-nju/novamail-sub004/pkg/auth"
	"github.com/Mercury-nju/novamail-sub004/pkg/domain"
	"github.com/Mercury-nju/novamail-sub004/pkg/models"
)

func TestSendVerification_Success(t *testing.T) {
	env := newTestEnv(t)

	c, rec := env.jsonRequest(`{"email":"new@test.com"}`)
	require.NoError(t, env.auth.SendVerification(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	code := env.email.codeFor("new@test.com")
	require.Len(t, code, 6)

	// The code travels by email only, never in the HTTP response.
	assert.NotContains(t, rec.Body.String(), code)
}

func TestSendVerification_ExistingAccountConflict(t *testing.T) {
	env := newTestEnv(t)
	env.createAccount(t, "taken@test.com", domain.PlanFree)

	c, rec := env.jsonRequest(`{"email":"taken@test.com"}`)
	require.NoError(t, env.auth.SendVerification(c))
	assert.Equal(t, http.StatusConflict, rec.Code)

	assert.Empty(t, env.email.codeFor("taken@test.com"), "no code is issued for existing accounts")
}

func TestSendVerification_InvalidEmail(t *testing.T) {
	env := newTestEnv(t)

	c, rec := env.jsonRequest(`{"email":"not-an-email"}`)
	require.NoError(t, env.auth.SendVerification(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendVerification_DeliveryFailure(t *testing.T) {
	env := newTestEnv(t)
	env.email.failSend = true

	c, rec := env.jsonRequest(`{"email":"new@test.com"}`)
	require.NoError(t, env.auth.SendVerification(c))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRegister_FullFlow(t *testing.T) {
	env := newTestEnv(t)
	email := gofakeit.Email()

	c, rec := env.jsonRequest(fmt.Sprintf(`{"email":%q}`, email))
	require.NoError(t, env.auth.SendVerification(c))
	require.Equal(t, http.StatusOK, rec.Code)
	code := env.email.codeFor(email)

	c, rec = env.jsonRequest(fmt.Sprintf(
		`{"email":%q,"name":"New User","password":"password123","code":%q}`, email, code))
	require.NoError(t, env.auth.Register(c))
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp models.AuthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Token)
	require.NotNil(t, resp.User)
	assert.Equal(t, email, resp.User.Email)
	assert.Equal(t, "free", resp.User.Plan, "new accounts start on the free plan")

	// The stored password is hashed.
	account, err := env.accounts.GetByEmail(context.Background(), email)
	require.NoError(t, err)
	assert.NotEqual(t, "password123", account.PasswordHash)
	assert.True(t, auth.CheckPassword(account.PasswordHash, "password123"))
}

func TestRegister_WrongCode(t *testing.T) {
	env := newTestEnv(t)

	c, _ := env.jsonRequest(`{"email":"user@test.com"}`)
	require.NoError(t, env.auth.SendVerification(c))
	code := env.email.codeFor("user@test.com")

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}
	c, rec := env.jsonRequest(fmt.Sprintf(
		`{"email":"user@test.com","name":"New User","password":"password123","code":%q}`, wrong))
	require.NoError(t, env.auth.Register(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "code_mismatch")

	// No account was created.
	_, err := env.accounts.GetByEmail(context.Background(), "user@test.com")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestRegister_NoCodeIssued(t *testing.T) {
	env := newTestEnv(t)

	c, rec := env.jsonRequest(
		`{"email":"user@test.com","name":"New User","password":"password123","code":"123456"}`)
	require.NoError(t, env.auth.Register(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "code_not_found")
}

func TestRegister_CodeIsSingleUse(t *testing.T) {
	env := newTestEnv(t)

	c, _ := env.jsonRequest(`{"email":"once@test.com"}`)
	require.NoError(t, env.auth.SendVerification(c))
	code := env.email.codeFor("once@test.com")

	body := fmt.Sprintf(
		`{"email":"once@test.com","name":"New User","password":"password123","code":%q}`, code)

	c, rec := env.jsonRequest(body)
	require.NoError(t, env.auth.Register(c))
	require.Equal(t, http.StatusCreated, rec.Code)

	// Replaying the consumed code cannot mint a second session.
	c, rec = env.jsonRequest(body)
	require.NoError(t, env.auth.Register(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLogin_Success(t *testing.T) {
	env := newTestEnv(t)

	hash, err := auth.HashPassword("password123")
	require.NoError(t, err)
	require.NoError(t, env.accounts.Create(context.Background(), &domain.Account{
		Email:              "login@test.com",
		Name:               "Login Test",
		PasswordHash:       hash,
		Role:               domain.RoleMember,
		Plan:               domain.PlanPro,
		SubscriptionStatus: domain.StatusActive,
		UsagePeriodStart:   time.Now(),
	}))

	c, rec := env.jsonRequest(`{"email":"login@test.com","password":"password123"}`)
	require.NoError(t, env.auth.Login(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.AuthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "pro", resp.User.Plan)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	env := newTestEnv(t)

	hash, err := auth.HashPassword("password123")
	require.NoError(t, err)
	require.NoError(t, env.accounts.Create(context.Background(), &domain.Account{
		Email:              "login@test.com",
		Name:               "Login Test",
		PasswordHash:       hash,
		Role:               domain.RoleMember,
		Plan:               domain.PlanFree,
		SubscriptionStatus: domain.StatusActive,
		UsagePeriodStart:   time.Now(),
	}))

	// Wrong password and unknown email produce the same error body.
	c, rec := env.jsonRequest(`{"email":"login@test.com","password":"wrong"}`)
	require.NoError(t, env.auth.Login(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_credentials")

	c, rec = env.jsonRequest(`{"email":"nobody@test.com","password":"password123"}`)
	require.NoError(t, env.auth.Login(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_credentials")
}
