package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signupBody(email string) map[string]interface{} {
	return map[string]interface{}{
		"email":        email,
		"pin":          "4821",
		"secretAnswer": "Rex",
		"firstName":    "Ada",
		"lastName":     "Lovelace",
		"phone":        "+45 2233 4455",
		"birthMonth":   12,
		"birthYear":    1985,
	}
}

func TestSignupLoginReset(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/v1/auth/signup", "", signupBody("ada@example.com"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	body := decodeBody(t, w)
	user := body["user"].(map[string]interface{})
	assert.Equal(t, "ada@example.com", user["email"])
	assert.Equal(t, "free", user["membershipTier"])
	assert.NotContains(t, user, "pin")
	assert.NotContains(t, user, "PINHash")
	assert.NotEmpty(t, body["session"].(map[string]interface{})["token"])

	t.Run("duplicate email", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, "/api/v1/auth/signup", "", signupBody("ADA@example.com"))
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "EMAIL_TAKEN", decodeBody(t, w)["code"])
	})

	t.Run("login", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "ada@example.com", "pin": "4821"})
		require.Equal(t, http.StatusOK, w.Code)

		token := decodeBody(t, w)["session"].(map[string]interface{})["token"].(string)
		w = ts.do(t, http.MethodGet, "/api/v1/auth/session", token, nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("wrong pin and unknown email look the same", func(t *testing.T) {
		wrong := ts.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "ada@example.com", "pin": "0000"})
		unknown := ts.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "bob@example.com", "pin": "0000"})

		assert.Equal(t, http.StatusUnauthorized, wrong.Code)
		assert.Equal(t, wrong.Code, unknown.Code)
		assert.JSONEq(t, wrong.Body.String(), unknown.Body.String())
	})

	t.Run("reset pin", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, "/api/v1/auth/reset-pin", "", map[string]string{
			"email":        "ada@example.com",
			"secretAnswer": "wrong",
			"newPin":       "9999",
		})
		assert.Equal(t, http.StatusUnauthorized, w.Code)

		w = ts.do(t, http.MethodPost, "/api/v1/auth/reset-pin", "", map[string]string{
			"email":        "ada@example.com",
			"secretAnswer": "  rex ",
			"newPin":       "9999",
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		w = ts.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "ada@example.com", "pin": "9999"})
		assert.Equal(t, http.StatusOK, w.Code)

		w = ts.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "ada@example.com", "pin": "4821"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestSignup_Validation(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name    string
		mutate  func(map[string]interface{})
		message string
	}{
		{"short pin", func(b map[string]interface{}) { b["pin"] = "12" }, "pin must be at least 4"},
		{"letters in pin", func(b map[string]interface{}) { b["pin"] = "12ab" }, "pin must contain only digits"},
		{"missing answer", func(b map[string]interface{}) { delete(b, "secretAnswer") }, "secretAnswer is required"},
		{"bad month", func(b map[string]interface{}) { b["birthMonth"] = 13 }, "birthMonth must be at most 12"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := signupBody("val@example.com")
			tt.mutate(body)

			w := ts.do(t, http.MethodPost, "/api/v1/auth/signup", "", body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.message, decodeBody(t, w)["error"])
		})
	}
}
