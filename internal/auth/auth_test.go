package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mentorship/internal/apperr"
)

const testKey = "test-signing-key"

func TestIssueAndParse(t *testing.T) {
	id := Identity{UserID: "u1", Role: RoleMentor, Email: "m@x.io"}
	pair, err := Issue(id, "mentorship", testKey, time.Minute, time.Hour)
	require.NoError(t, err)

	claims, err := Parse(pair.AccessToken, testKey, "mentorship")
	require.NoError(t, err)
	assert.Equal(t, id, claims.Identity())
	assert.Equal(t, TokenAccess, claims.Type)

	refresh, err := Parse(pair.RefreshToken, testKey, "mentorship")
	require.NoError(t, err)
	assert.Equal(t, TokenRefresh, refresh.Type)

	_, err = Parse(pair.AccessToken, "other-key", "mentorship")
	assert.Error(t, err)
	_, err = Parse(pair.AccessToken, testKey, "someone-else")
	assert.Error(t, err)
}

func TestExpiredTokenRejected(t *testing.T) {
	pair, err := Issue(Identity{UserID: "u1", Role: RoleStudent}, "", testKey, -time.Minute, time.Hour)
	require.NoError(t, err)
	_, err = Parse(pair.AccessToken, testKey, "")
	assert.Error(t, err)
}

func TestRequire(t *testing.T) {
	_, err := Require(context.Background())
	assert.ErrorIs(t, err, apperr.ErrAuthRequired)

	ctx := WithIdentity(context.Background(), Identity{UserID: "u1", Role: RoleStudent})
	id, err := Require(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("mentor")
	require.NoError(t, err)
	assert.Equal(t, RoleMentor, r)
	_, err = ParseRole("admin")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestPasswordHash(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	assert.True(t, CheckPassword(hash, "s3cret"))
	assert.False(t, CheckPassword(hash, "wrong"))
}

func TestUserAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", UserAuth(testKey, "mentorship"), func(c *gin.Context) {
		id, err := Require(c.Request.Context())
		if err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, id.UserID)
	})

	pair, err := Issue(Identity{UserID: "u42", Role: RoleStudent}, "mentorship", testKey, time.Minute, time.Hour)
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"garbage", "Bearer nope", http.StatusUnauthorized},
		{"refresh token", "Bearer " + pair.RefreshToken, http.StatusUnauthorized},
		{"access token", "Bearer " + pair.AccessToken, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.status, w.Code)
			if tc.status == http.StatusOK {
				assert.Equal(t, "u42", w.Body.String())
			}
		})
	}
}
