package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestIssueAndVerifyServiceToken(t *testing.T) {
	m, err := NewManager(Config{
		Secret:   "secret",
		Issuer:   "voice-engine",
		Audience: "voice-engine",
		TokenTTL: 15 * time.Minute,
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}

	now := time.Unix(1700000000, 0).UTC()
	tok, err := m.IssueServiceToken(now, "orchestrator")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if tok == "" {
		t.Fatalf("expected token string")
	}

	claims, err := m.Verify(tok, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Service != "orchestrator" || claims.TokenType != TokenTypeService {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	m, _ := NewManager(Config{Secret: "secret", TokenTTL: time.Minute})
	now := time.Unix(1700000000, 0).UTC()
	tok, err := m.IssueServiceToken(now, "orchestrator")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Verify(tok, now.Add(time.Hour)); err == nil {
		t.Fatalf("expected expiry error")
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	issuer, _ := NewManager(Config{Secret: "secret-a"})
	verifier, _ := NewManager(Config{Secret: "secret-b"})
	tok, err := issuer.IssueServiceToken(time.Now(), "orchestrator")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := verifier.Verify(tok, time.Now()); err == nil {
		t.Fatalf("expected signature error")
	}
}

func TestManagerRequiresSecret(t *testing.T) {
	if _, err := NewManager(Config{}); err == nil {
		t.Fatalf("expected error without secret")
	}
}

func TestRequireServiceToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, _ := NewManager(Config{Secret: "secret", TokenTTL: time.Minute})

	r := gin.New()
	r.POST("/protected", RequireServiceToken(m), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"service": c.GetString("service")})
	})

	tok, _ := m.IssueServiceToken(time.Now(), "orchestrator")

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid", "Bearer " + tok, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"garbage", "Bearer not-a-jwt", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/protected", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}
