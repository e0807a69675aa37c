package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"docscan/pkg/qrscan"

	"github.com/gin-gonic/gin"
)

const mrzSample = "P<UTOERIKSSON<<ANNA<MARIA<<<<<<<<<<<<<<<<<<<\nL898902C36UTO7408122F1204159ZE184226B<<<<<10"

// helper to perform requests with auth token
func performRequest(r http.Handler, method, path string, body io.Reader, token string, contentType string) *httptest.ResponseRecorder {
	// allow callers to pass nil for body safely
	req, _ := http.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func setupTestServer(t *testing.T) *gin.Engine {
	// integration tests are opt-in. Set DB_DSN_TEST=1 and DB_DSN to run them.
	if os.Getenv("DB_DSN_TEST") != "1" {
		t.Skip("integration tests are disabled; set DB_DSN_TEST=1 to enable")
	}
	gin.SetMode(gin.TestMode)
	initDB()
	tmp := t.TempDir()
	_ = os.Setenv("UPLOAD_BASE", tmp)
	seedDB()
	scanner = qrscan.NewScanner()
	r := gin.Default()
	setupRoutes(r)
	return r
}

func TestFullFlow(t *testing.T) {
	r := setupTestServer(t)

	// 1. Register user
	regBody, _ := json.Marshal(map[string]string{"username": "user1", "password": "pass12"})
	resp := performRequest(r, http.MethodPost, "/register", bytes.NewBuffer(regBody), "", "application/json")
	if resp.Code != 200 && resp.Code != 409 {
		b := resp.Body.String()
		t.Fatalf("register failed status=%d body=%s", resp.Code, b)
	}

	// 2. Login
	loginBody, _ := json.Marshal(map[string]string{"username": "user1", "password": "pass12"})
	resp = performRequest(r, http.MethodPost, "/login", bytes.NewBuffer(loginBody), "", "application/json")
	if resp.Code != 200 {
		b := resp.Body.String()
		t.Fatalf("login failed status=%d body=%s", resp.Code, b)
	}
	var loginResp map[string]any
	_ = json.Unmarshal(resp.Body.Bytes(), &loginResp)
	token, _ := loginResp["token"].(string)
	if token == "" {
		t.Fatalf("empty token in login response: %+v", loginResp)
	}

	// 3. Create profile
	profBody, _ := json.Marshal(map[string]string{"name": "User One", "email": "u1@example.com"})
	resp = performRequest(r, http.MethodPost, "/profile", bytes.NewBuffer(profBody), token, "application/json")
	if resp.Code != 200 {
		b := resp.Body.String()
		t.Fatalf("create profile failed status=%d body=%s", resp.Code, b)
	}

	// 4. Parse MRZ text
	mrzBody, _ := json.Marshal(map[string]string{"text": mrzSample})
	resp = performRequest(r, http.MethodPost, "/scan/mrz", bytes.NewBuffer(mrzBody), token, "application/json")
	if resp.Code != 200 {
		b := resp.Body.String()
		t.Fatalf("scan mrz failed status=%d body=%s", resp.Code, b)
	}
	var doc map[string]any
	_ = json.Unmarshal(resp.Body.Bytes(), &doc)
	if doc["Surname"] != "ERIKSSON" {
		t.Fatalf("unexpected surname in parsed document: %+v", doc)
	}

	// 5. Malformed MRZ text is a 422
	badBody, _ := json.Marshal(map[string]string{"text": "not an mrz"})
	resp = performRequest(r, http.MethodPost, "/scan/mrz", bytes.NewBuffer(badBody), token, "application/json")
	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for malformed mrz got %d body=%s", resp.Code, resp.Body.String())
	}

	// 6. List documents
	resp = performRequest(r, http.MethodGet, "/documents", nil, token, "")
	if resp.Code != 200 {
		b := resp.Body.String()
		t.Fatalf("list documents failed status=%d body=%s", resp.Code, b)
	}
	var docs []map[string]any
	_ = json.Unmarshal(resp.Body.Bytes(), &docs)
	if len(docs) == 0 {
		t.Fatalf("expected at least one document, got none")
	}

	// 7. List scans
	resp = performRequest(r, http.MethodGet, "/scans", nil, token, "")
	if resp.Code != 200 {
		b := resp.Body.String()
		t.Fatalf("list scans failed status=%d body=%s", resp.Code, b)
	}

	// 8. Unauthorized access to protected endpoint should be 401
	unauth := performRequest(r, http.MethodGet, "/documents", nil, "", "")
	if unauth.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unauthorized list documents got %d", unauth.Code)
	}
}

func TestMigrateCommand(t *testing.T) {
	if os.Getenv("DB_DSN_TEST") != "1" {
		t.Skip("integration tests are disabled; set DB_DSN_TEST=1 to enable")
	}
	initDB()
}
