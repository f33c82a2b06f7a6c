package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/saas-management-techmomentum/nova-ware-sub006/internal/identity"
	"github.com/saas-management-techmomentum/nova-ware-sub006/internal/providers"
	"github.com/saas-management-techmomentum/nova-ware-sub006/internal/realtime"
	"github.com/saas-management-techmomentum/nova-ware-sub006/internal/scope"
	"github.com/saas-management-techmomentum/nova-ware-sub006/internal/selection"
)

type staticResolver struct {
	assignments []scope.RoleAssignment
	accesses    []scope.WarehouseAccess
}

func (r *staticResolver) FetchRoleAssignments(ctx context.Context, userID string) ([]scope.RoleAssignment, error) {
	return r.assignments, nil
}

func (r *staticResolver) FetchWarehouseAccesses(ctx context.Context, userID string) ([]scope.WarehouseAccess, error) {
	return r.accesses, nil
}

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T

	engine     *scope.Engine
	selection  *selection.Selection
	selUpdates <-chan selection.Update
	provider   *identity.StaticProvider
	token      string
}

func newTestAPI(t *testing.T, assignments []scope.RoleAssignment, accesses []scope.WarehouseAccess) *apiClient {
	t.Helper()

	t.Setenv("NOVAWARE_AUTH_SECRET", "test-secret")
	identity.ResetSecretForTests()

	resolver := &staticResolver{assignments: assignments, accesses: accesses}
	provider := identity.NewStaticProvider()
	engine := scope.NewEngine(provider, resolver, resolver)
	sel := selection.New(engine)
	graph := providers.New(engine, scope.Capabilities{BillingEnabled: true, WorkflowEnabled: true}, nil)
	feed := realtime.NewMemoryFeed()
	rec := realtime.New(feed, engine, sel, []string{"tasks"}, func(table string) {})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	selUpdates := sel.Subscribe(ctx)
	go engine.Run(ctx)
	go sel.Run(ctx)
	go graph.Run(ctx)
	go rec.Run(ctx)

	api := New(ReadyProbe{}, "test", provider, engine, sel, graph, rec)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	token, err := identity.GenerateToken("user-1", time.Minute)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	return &apiClient{
		baseURL:    srv.URL,
		client:     srv.Client(),
		t:          t,
		engine:     engine,
		selection:  sel,
		selUpdates: selUpdates,
		provider:   provider,
		token:      token,
	}
}

func (c *apiClient) do(method, path string, body any) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) signIn() {
	c.t.Helper()
	resp := c.do(http.MethodPost, "/v1/session/signin", map[string]any{"token": c.token})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("signin: expected 200, got %d", resp.StatusCode)
	}
	waitFor(c.t, func() bool { return !c.engine.Scope().IsEmpty() })

	// The selection loop absorbs the scope asynchronously; wait for it so
	// Select calls validate against the signed-in scope.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case upd, ok := <-c.selUpdates:
			if !ok {
				c.t.Fatal("selection subscription closed")
			}
			if !upd.Scope.IsEmpty() {
				return
			}
		case <-deadline:
			c.t.Fatal("selection never absorbed the scope")
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached in time")
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return out
}

func approvedAdmin(companies ...string) []scope.RoleAssignment {
	out := make([]scope.RoleAssignment, 0, len(companies))
	for _, c := range companies {
		out = append(out, scope.RoleAssignment{CompanyID: c, Role: scope.RoleAdmin, Status: scope.StatusApproved})
	}
	return out
}

func TestHealthz(t *testing.T) {
	c := newTestAPI(t, nil, nil)
	resp := c.do(http.MethodGet, "/healthz", nil)
	body := decodeBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected status: %v", body["status"])
	}
}

func TestScopeAfterSignIn(t *testing.T) {
	c := newTestAPI(t,
		approvedAdmin("c1"),
		[]scope.WarehouseAccess{{WarehouseID: "w1", CompanyID: "c1", Level: scope.AccessView}},
	)
	c.signIn()

	resp := c.do(http.MethodGet, "/v1/scope", nil)
	body := decodeBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	ids, _ := body["company_ids"].([]any)
	if len(ids) != 1 || ids[0] != "c1" {
		t.Fatalf("unexpected company ids: %v", body["company_ids"])
	}
	whs, _ := body["warehouse_ids"].([]any)
	if len(whs) != 1 || whs[0] != "w1" {
		t.Fatalf("unexpected warehouse ids: %v", body["warehouse_ids"])
	}
}

func TestScopeRequiresToken(t *testing.T) {
	c := newTestAPI(t, nil, nil)
	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/v1/scope", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without bearer token, got %d", resp.StatusCode)
	}
}

func TestApprovalEndpoint(t *testing.T) {
	c := newTestAPI(t, approvedAdmin("c1"), nil)
	c.signIn()

	resp := c.do(http.MethodGet, "/v1/scope/approval", nil)
	body := decodeBody(t, resp)
	if body["approval"] != "approved" {
		t.Fatalf("expected approved, got %v", body["approval"])
	}
}

func TestSelectionRejectsOutOfScope(t *testing.T) {
	c := newTestAPI(t,
		approvedAdmin("c1"),
		[]scope.WarehouseAccess{{WarehouseID: "w1", CompanyID: "c1", Level: scope.AccessView}},
	)
	c.signIn()
	waitFor(t, func() bool { return c.selection.Current() != nil })

	resp := c.do(http.MethodPost, "/v1/selection", map[string]any{"warehouse_id": "w9"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for out-of-scope warehouse, got %d", resp.StatusCode)
	}

	resp = c.do(http.MethodGet, "/v1/selection", nil)
	body := decodeBody(t, resp)
	if body["warehouse_id"] != "w1" {
		t.Fatalf("selection should be unchanged, got %v", body["warehouse_id"])
	}
}

func TestSelectionAllViewForMultiAdmin(t *testing.T) {
	c := newTestAPI(t,
		approvedAdmin("c1", "c2"),
		[]scope.WarehouseAccess{
			{WarehouseID: "w1", CompanyID: "c1", Level: scope.AccessView},
			{WarehouseID: "w2", CompanyID: "c2", Level: scope.AccessView},
		},
	)
	c.signIn()
	waitFor(t, func() bool { return c.selection.Current() == nil })

	resp := c.do(http.MethodGet, "/v1/selection", nil)
	body := decodeBody(t, resp)
	if body["all_view"] != true {
		t.Fatalf("expected all-warehouses view, got %v", body)
	}

	resp = c.do(http.MethodPost, "/v1/selection", map[string]any{"warehouse_id": "w2"})
	body = decodeBody(t, resp)
	if resp.StatusCode != http.StatusOK || body["warehouse_id"] != "w2" {
		t.Fatalf("expected select w2, got %d %v", resp.StatusCode, body)
	}
}

func TestProvidersStatusAndRetry(t *testing.T) {
	c := newTestAPI(t, approvedAdmin("c1"), nil)
	c.signIn()

	resp := c.do(http.MethodGet, "/v1/providers", nil)
	body := decodeBody(t, resp)
	stages, ok := body["stages"].(map[string]any)
	if !ok || len(stages) == 0 {
		t.Fatalf("expected stage map, got %v", body)
	}

	resp = c.do(http.MethodPost, "/v1/providers/nope/retry", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown stage, got %d", resp.StatusCode)
	}
}

func TestRealtimeStatus(t *testing.T) {
	c := newTestAPI(t, approvedAdmin("c1"), nil)
	c.signIn()

	resp := c.do(http.MethodGet, "/v1/realtime", nil)
	body := decodeBody(t, resp)
	if body["connected"] != true {
		t.Fatalf("expected connected, got %v", body)
	}

	resp = c.do(http.MethodPost, "/v1/realtime/refresh", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestSignOutClearsScope(t *testing.T) {
	c := newTestAPI(t, approvedAdmin("c1"), nil)
	c.signIn()

	resp := c.do(http.MethodPost, "/v1/session/signout", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	waitFor(t, func() bool { return c.engine.Scope().IsEmpty() })

	resp = c.do(http.MethodGet, "/v1/scope", nil)
	body := decodeBody(t, resp)
	ids, _ := body["company_ids"].([]any)
	if len(ids) != 0 {
		t.Fatalf("expected empty scope after signout, got %v", body)
	}
}

func TestScopeRefreshWithoutSession(t *testing.T) {
	c := newTestAPI(t, approvedAdmin("c1"), nil)

	resp := c.do(http.MethodPost, "/v1/scope/refresh", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 before signin, got %d", resp.StatusCode)
	}
}
