package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/saas-management-techmomentum/nova-ware-sub006/internal/identity"
)

// Smoke-tests a running daemon end to end: sign in as the seeded demo admin,
// wait for the scope to materialize, flip the selection and verify an
// out-of-scope pick is refused.
func main() {
	base := os.Getenv("NOVAWARE_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	user := os.Getenv("NOVAWARE_SMOKE_USER")
	if user == "" {
		user = "demo-admin"
	}

	token, err := identity.GenerateToken(user, 5*time.Minute)
	if err != nil {
		log.Fatalf("generate token: %v", err)
	}

	client := &http.Client{Timeout: 5 * time.Second}

	signin := call(client, base, token, http.MethodPost, "/v1/session/signin", map[string]any{"token": token})
	if signin.code != http.StatusOK {
		log.Fatalf("signin: status %d: %v", signin.code, signin.body)
	}

	var companies []any
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		sc := call(client, base, token, http.MethodGet, "/v1/scope", nil)
		if sc.code != http.StatusOK {
			log.Fatalf("scope: status %d: %v", sc.code, sc.body)
		}
		companies, _ = sc.body["company_ids"].([]any)
		if len(companies) > 0 {
			break
		}
		time.Sleep(200 * time.Millisecond)
	}
	if len(companies) == 0 {
		log.Fatal("scope never materialized")
	}

	reject := call(client, base, token, http.MethodPost, "/v1/selection", map[string]any{"warehouse_id": "w-does-not-exist"})
	if reject.code != http.StatusConflict {
		log.Fatalf("expected 409 for unknown warehouse, got %d: %v", reject.code, reject.body)
	}

	sel := call(client, base, token, http.MethodGet, "/v1/selection", nil)
	if sel.code != http.StatusOK {
		log.Fatalf("selection: status %d: %v", sel.code, sel.body)
	}

	stages := call(client, base, token, http.MethodGet, "/v1/providers", nil)
	if stages.code != http.StatusOK {
		log.Fatalf("providers: status %d: %v", stages.code, stages.body)
	}

	fmt.Printf("✅ scope smoke test passed: user=%s companies=%d\n", user, len(companies))
}

type result struct {
	code int
	body map[string]any
}

func call(client *http.Client, base, token, method, path string, payload any) result {
	var buf bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&buf).Encode(payload); err != nil {
			log.Fatalf("encode %s: %v", path, err)
		}
	}
	req, err := http.NewRequest(method, base+path, &buf)
	if err != nil {
		log.Fatalf("request %s: %v", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("call %s: %v", path, err)
	}
	defer resp.Body.Close()
	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return result{code: resp.StatusCode, body: body}
}
