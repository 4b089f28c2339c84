package e2e_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"testing"
)

func skipIfNoE2E(t *testing.T) {
	t.Helper()
	if os.Getenv("E2E_TEST") != "true" {
		t.Skip("Skipping E2E test (set E2E_TEST=true)")
	}
}

func baseURL() string {
	return envOrDefault("AUTH_HTTP_ADDR", "http://localhost:8082")
}

func adminEmail() string {
	return envOrDefault("E2E_ADMIN_EMAIL", "admin@studiotrack.local")
}

func adminPassword() string {
	return envOrDefault("E2E_ADMIN_PASSWORD", "default")
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// request sends a JSON request and returns the status code and decoded
// body. The body is nil when the server sent nothing.
func request(t *testing.T, method, path, token string, payload any) (int, any) {
	t.Helper()

	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("Failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, baseURL()+path, reqBody)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request %s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response body: %v", err)
	}

	var decoded any
	if len(data) > 0 {
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("Failed to decode response %q: %v", string(data), err)
		}
	}
	return resp.StatusCode, decoded
}

// asObject asserts the decoded body is a JSON object.
func asObject(t *testing.T, v any) map[string]any {
	t.Helper()
	obj, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("Expected JSON object, got %T", v)
	}
	return obj
}

// loginAsAdmin performs a login with the seeded admin credentials and returns
// the access token and refresh token. It fails the test if login is unsuccessful.
func loginAsAdmin(t *testing.T) (accessToken, refreshToken string) {
	t.Helper()

	status, body := request(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    adminEmail(),
		"password": adminPassword(),
	})
	if status != http.StatusOK {
		t.Fatalf("Admin login failed with status %d: %v", status, body)
	}

	obj := asObject(t, body)
	accessToken, _ = obj["access_token"].(string)
	refreshToken, _ = obj["refresh_token"].(string)
	if accessToken == "" || refreshToken == "" {
		t.Fatalf("Admin login returned incomplete tokens: %v", obj)
	}
	return accessToken, refreshToken
}
