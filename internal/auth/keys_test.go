package auth

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGenerateAPIKey(t *testing.T) {
	key, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey() error = %v", err)
	}

	if !strings.HasPrefix(key, KeyPrefix) {
		t.Errorf("GenerateAPIKey() = %v, want prefix %v", key, KeyPrefix)
	}

	// base64 URL encoding without padding: 32 bytes -> 43 characters
	expectedLen := len(KeyPrefix) + 43
	if len(key) != expectedLen {
		t.Errorf("GenerateAPIKey() length = %v, want %v", len(key), expectedLen)
	}
}

func TestVerifyAPIKeyConstantTime(t *testing.T) {
	tests := []struct {
		name     string
		got      string
		expected string
		want     bool
	}{
		{"equal", "admin-123", "admin-123", true},
		{"not equal", "admin-456", "admin-123", false},
		{"empty got", "", "admin-123", false},
		{"empty expected", "admin-123", "", false},
		{"both empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifyAPIKeyConstantTime(tt.got, tt.expected); got != tt.want {
				t.Errorf("VerifyAPIKeyConstantTime() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name       string
		authHeader string
		want       string
	}{
		{"with Bearer prefix", "Bearer token123", "token123"},
		{"with bearer lowercase", "bearer token456", "token456"},
		{"with extra spaces", "Bearer  token789  ", "token789"},
		{"without Bearer prefix", "token999", "token999"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractBearerToken(tt.authHeader); got != tt.want {
				t.Errorf("ExtractBearerToken() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetIPAddress_XForwardedFor(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.195, 70.41.3.18")

	if ip := GetIPAddress(req); ip != "203.0.113.195, 70.41.3.18" {
		t.Errorf("Expected IP from X-Forwarded-For, got '%s'", ip)
	}
}

func TestGetIPAddress_XRealIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Real-IP", "198.51.100.42")

	if ip := GetIPAddress(req); ip != "198.51.100.42" {
		t.Errorf("Expected IP from X-Real-IP, got '%s'", ip)
	}
}

func TestGetIPAddress_RemoteAddr(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.0.2.1:54321"

	if ip := GetIPAddress(req); ip != "192.0.2.1:54321" {
		t.Errorf("Expected RemoteAddr, got '%s'", ip)
	}
}

func TestGetIPAddress_Priority(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.195")
	req.Header.Set("X-Real-IP", "198.51.100.42")
	req.RemoteAddr = "192.0.2.1:54321"

	if ip := GetIPAddress(req); ip != "203.0.113.195" {
		t.Errorf("Expected X-Forwarded-For to take priority, got '%s'", ip)
	}
}

func TestGetIPAddress_XRealIPPriorityOverRemoteAddr(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Real-IP", "198.51.100.42")
	req.RemoteAddr = "192.0.2.1:54321"

	if ip := GetIPAddress(req); ip != "198.51.100.42" {
		t.Errorf("Expected X-Real-IP to take priority over RemoteAddr, got '%s'", ip)
	}
}
