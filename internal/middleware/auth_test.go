package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func TestGenerateToken(t *testing.T) {
	token, err := GenerateToken(testSecret, "uploader-1", 1*time.Hour)
	assert.NoError(t, err)
	assert.NotEmpty(t, token)
}

func TestJWTAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)

	expired, err := GenerateToken(testSecret, "uploader-1", -time.Minute)
	require.NoError(t, err)
	foreign, err := GenerateToken("other-secret", "uploader-1", time.Hour)
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "x"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name           string
		header         string
		expectedStatus int
	}{
		{"Missing authorization header", "", http.StatusUnauthorized},
		{"Invalid token format", "InvalidToken", http.StatusUnauthorized},
		{"Expired token", "Bearer " + expired, http.StatusUnauthorized},
		{"Wrong secret", "Bearer " + foreign, http.StatusUnauthorized},
		{"Unsigned token", "Bearer " + none, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)

			req := httptest.NewRequest("GET", "/test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			c.Request = req

			JWTAuth(testSecret)(c)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.True(t, c.IsAborted())
		})
	}
}

func TestJWTAuthWithValidToken(t *testing.T) {
	gin.SetMode(gin.TestMode)

	token, err := GenerateToken(testSecret, "uploader-1", 1*time.Hour)
	require.NoError(t, err)

	router := gin.New()
	router.Use(JWTAuth(testSecret))
	router.POST("/videos", func(c *gin.Context) {
		subject, exists := GetSubject(c)
		assert.True(t, exists)
		assert.Equal(t, "uploader-1", subject)
		c.Status(http.StatusAccepted)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/videos", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
}
