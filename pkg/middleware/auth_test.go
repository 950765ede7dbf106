package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

const testSecret = "auth-test-secret"

func setupAuthRouter(secret string, extra ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	handlers := append([]gin.HandlerFunc{Auth(secret)}, extra...)
	handlers = append(handlers, func(c *gin.Context) {
		userID, _ := GetUserID(c)
		role, _ := GetRole(c)
		c.JSON(http.StatusOK, gin.H{"user_id": userID, "role": role})
	})
	router.GET("/protected", handlers...)
	return router
}

func TestAuth_ValidToken(t *testing.T) {
	router := setupAuthRouter(testSecret)

	token, err := NewToken(testSecret, "user-001", "USER", time.Minute)
	if err != nil {
		t.Fatalf("Failed to mint token: %v", err)
	}

	req, _ := http.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
}

func TestAuth_MissingHeader(t *testing.T) {
	router := setupAuthRouter(testSecret)

	req, _ := http.NewRequest("GET", "/protected", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status %d, got %d", http.StatusUnauthorized, w.Code)
	}
}

func TestAuth_WrongSecret(t *testing.T) {
	router := setupAuthRouter(testSecret)

	token, _ := NewToken("other-secret", "user-001", "USER", time.Minute)
	req, _ := http.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status %d, got %d", http.StatusUnauthorized, w.Code)
	}
}

func TestAuth_ExpiredToken(t *testing.T) {
	router := setupAuthRouter(testSecret)

	token, _ := NewToken(testSecret, "user-001", "USER", -time.Minute)
	req, _ := http.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status %d, got %d", http.StatusUnauthorized, w.Code)
	}
}

func TestRequireRoles(t *testing.T) {
	router := setupAuthRouter(testSecret, RequireRoles("ADMIN", "FINANCIAL_ADMIN"))

	tests := []struct {
		role     string
		expected int
	}{
		{"ADMIN", http.StatusOK},
		{"FINANCIAL_ADMIN", http.StatusOK},
		{"USER", http.StatusForbidden},
		{"", http.StatusForbidden},
	}

	for _, tt := range tests {
		token, _ := NewToken(testSecret, "user-001", tt.role, time.Minute)
		req, _ := http.NewRequest("GET", "/protected", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != tt.expected {
			t.Errorf("Role %q: expected status %d, got %d", tt.role, tt.expected, w.Code)
		}
	}
}
