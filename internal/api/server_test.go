package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/harper/till/internal/envelope"
	"github.com/harper/till/internal/serverdb"
)

// harness wires a full server over an in-memory store with one
// provisioned store, device and token.
type harness struct {
	t        *testing.T
	srv      *httptest.Server
	store    *serverdb.ServerDB
	storeID  string
	deviceID string
	token    string
}

func newHarness(t *testing.T, role serverdb.Role) *harness {
	t.Helper()

	store, err := serverdb.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	cfg := Config{
		ListenAddr:   ":0",
		MaxBodyBytes: 1 << 20,
		MaxPushBatch: 25,
	}
	srv, err := NewServer(cfg, store)
	if err != nil {
		t.Fatalf("create server: %v", err)
	}

	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		httpSrv.Close()
		store.Close()
	})

	storeID, err := store.CreateStore("Corner Shop")
	if err != nil {
		t.Fatal(err)
	}
	userID, err := store.CreateUser(storeID, "Dana", role)
	if err != nil {
		t.Fatal(err)
	}
	deviceID := "dev-counter1"
	if err := store.RegisterDevice(storeID, deviceID, "front counter"); err != nil {
		t.Fatal(err)
	}
	token, err := store.IssueToken(userID, storeID, deviceID, nil)
	if err != nil {
		t.Fatal(err)
	}

	return &harness{t: t, srv: httpSrv, store: store, storeID: storeID, deviceID: deviceID, token: token}
}

func (h *harness) product(qty int64) *serverdb.Product {
	h.t.Helper()
	p := &serverdb.Product{StoreID: h.storeID, Name: "Milk 1L", Price: 149, StockQuantity: qty}
	if err := h.store.CreateProduct(p); err != nil {
		h.t.Fatal(err)
	}
	return p
}

func (h *harness) do(method, path, token string, body any) *http.Response {
	h.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			h.t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, h.srv.URL+path, &buf)
	if err != nil {
		h.t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		h.t.Fatalf("http request: %v", err)
	}
	return resp
}

func decodeInto(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func (h *harness) saleEvent(clientTxID, productID string, qty, unitPrice int64) envelope.Envelope {
	h.t.Helper()
	env, err := envelope.New(h.storeID, h.deviceID, clientTxID, envelope.TypeCompleteSale,
		envelope.CompleteSale{
			Lines:    []envelope.SaleLine{{ProductID: productID, Qty: qty, UnitPrice: unitPrice}},
			Payments: []envelope.PaymentInput{{Method: "cash", Amount: qty * unitPrice}},
		})
	if err != nil {
		h.t.Fatal(err)
	}
	return env
}

func (h *harness) pushPath() string {
	return fmt.Sprintf("/v1/stores/%s/sync/push", h.storeID)
}

func (h *harness) pullPath() string {
	return fmt.Sprintf("/v1/stores/%s/sync/pull", h.storeID)
}

func TestHealthz(t *testing.T) {
	h := newHarness(t, serverdb.RoleCashier)
	resp := h.do("GET", "/healthz", "", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestPushRequiresToken(t *testing.T) {
	h := newHarness(t, serverdb.RoleCashier)
	resp := h.do("POST", h.pushPath(), "", PushRequest{StoreID: h.storeID, DeviceID: h.deviceID})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestPushRejectsBogusToken(t *testing.T) {
	h := newHarness(t, serverdb.RoleCashier)
	resp := h.do("POST", h.pushPath(), "tl_live_bogus", PushRequest{StoreID: h.storeID, DeviceID: h.deviceID})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestPushRejectsForeignStorePath(t *testing.T) {
	h := newHarness(t, serverdb.RoleCashier)
	resp := h.do("POST", "/v1/stores/st_other/sync/push", h.token,
		PushRequest{StoreID: "st_other", DeviceID: h.deviceID})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}

func TestPushRejectsDeviceMismatch(t *testing.T) {
	h := newHarness(t, serverdb.RoleCashier)
	p := h.product(10)
	env := h.saleEvent("tx1", p.ID, 1, 149)

	resp := h.do("POST", h.pushPath(), h.token,
		PushRequest{StoreID: h.storeID, DeviceID: "dev-other", Events: []envelope.Envelope{env}})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}

func TestPushAppliesAndDeduplicates(t *testing.T) {
	h := newHarness(t, serverdb.RoleCashier)
	p := h.product(10)
	env := h.saleEvent("tx1", p.ID, 2, 149)

	req := PushRequest{StoreID: h.storeID, DeviceID: h.deviceID, Events: []envelope.Envelope{env}}

	var first PushResponse
	decodeInto(t, h.do("POST", h.pushPath(), h.token, req), &first)
	if len(first.Results) != 1 {
		t.Fatalf("results = %d", len(first.Results))
	}
	if first.Results[0].Status != envelope.StatusApplied {
		t.Fatalf("status = %s, error = %+v", first.Results[0].Status, first.Results[0].Error)
	}
	if first.ServerTime == "" {
		t.Error("server_time missing")
	}

	// Same event_id again: original outcome, reported duplicate.
	var second PushResponse
	decodeInto(t, h.do("POST", h.pushPath(), h.token, req), &second)
	if second.Results[0].Status != envelope.StatusDuplicate {
		t.Fatalf("replay status = %s", second.Results[0].Status)
	}

	got, _ := h.store.GetProduct(h.storeID, p.ID)
	if got.StockQuantity != 8 {
		t.Errorf("stock = %d, want 8", got.StockQuantity)
	}
}

func TestPushFailedEventCarriesErrorCode(t *testing.T) {
	h := newHarness(t, serverdb.RoleCashier)
	p := h.product(1)
	env := h.saleEvent("tx1", p.ID, 5, 149)

	var resp PushResponse
	decodeInto(t, h.do("POST", h.pushPath(), h.token,
		PushRequest{StoreID: h.storeID, DeviceID: h.deviceID, Events: []envelope.Envelope{env}}), &resp)

	res := resp.Results[0]
	if res.Status != envelope.StatusFailedPermanent {
		t.Fatalf("status = %s", res.Status)
	}
	if res.Error == nil || res.Error.Code != "NEGATIVE_STOCK" {
		t.Fatalf("error = %+v", res.Error)
	}
}

func TestPushRejectsOversizedBatch(t *testing.T) {
	h := newHarness(t, serverdb.RoleCashier)
	p := h.product(1000)

	events := make([]envelope.Envelope, 26)
	for i := range events {
		events[i] = h.saleEvent(uuid.NewString(), p.ID, 1, 149)
	}
	resp := h.do("POST", h.pushPath(), h.token,
		PushRequest{StoreID: h.storeID, DeviceID: h.deviceID, Events: events})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestPullFullThenIncremental(t *testing.T) {
	h := newHarness(t, serverdb.RoleCashier)
	p := h.product(5)

	var full PullResponse
	decodeInto(t, h.do("POST", h.pullPath(), h.token,
		PullRequest{StoreID: h.storeID, DeviceID: h.deviceID}), &full)

	if len(full.Updates.Products) != 1 || full.Updates.Products[0].EntityID != p.ID {
		t.Fatalf("products = %+v", full.Updates.Products)
	}
	if full.Updates.StoreSettings == nil {
		t.Fatal("settings missing from pull")
	}
	if full.NewCursor == "" {
		t.Fatal("cursor missing")
	}

	var incr PullResponse
	decodeInto(t, h.do("POST", h.pullPath(), h.token,
		PullRequest{StoreID: h.storeID, DeviceID: h.deviceID, Cursor: full.NewCursor}), &incr)
	if len(incr.Updates.Products) != 0 {
		t.Errorf("incremental pull re-sent %d products", len(incr.Updates.Products))
	}
}

func TestPullDeliversTombstones(t *testing.T) {
	h := newHarness(t, serverdb.RoleCashier)
	p := h.product(5)

	var full PullResponse
	decodeInto(t, h.do("POST", h.pullPath(), h.token,
		PullRequest{StoreID: h.storeID, DeviceID: h.deviceID}), &full)

	if err := h.store.DeleteProduct(h.storeID, p.ID); err != nil {
		t.Fatal(err)
	}

	var incr PullResponse
	decodeInto(t, h.do("POST", h.pullPath(), h.token,
		PullRequest{StoreID: h.storeID, DeviceID: h.deviceID, Cursor: full.NewCursor}), &incr)
	if len(incr.Updates.Tombstones.Products) != 1 || incr.Updates.Tombstones.Products[0] != p.ID {
		t.Fatalf("tombstones = %+v", incr.Updates.Tombstones)
	}
}

func TestPullUnparseableCursorFallsBackToFullPull(t *testing.T) {
	h := newHarness(t, serverdb.RoleCashier)
	h.product(5)

	var resp PullResponse
	decodeInto(t, h.do("POST", h.pullPath(), h.token,
		PullRequest{StoreID: h.storeID, DeviceID: h.deviceID, Cursor: "not-a-timestamp"}), &resp)
	if len(resp.Updates.Products) != 1 {
		t.Errorf("products = %d, want full pull", len(resp.Updates.Products))
	}
}

func TestMetricsCountPushOutcomes(t *testing.T) {
	h := newHarness(t, serverdb.RoleCashier)
	p := h.product(10)
	env := h.saleEvent("tx1", p.ID, 1, 149)
	req := PushRequest{StoreID: h.storeID, DeviceID: h.deviceID, Events: []envelope.Envelope{env}}

	h.do("POST", h.pushPath(), h.token, req).Body.Close()
	h.do("POST", h.pushPath(), h.token, req).Body.Close()

	var snap MetricsSnapshot
	decodeInto(t, h.do("GET", "/metricz", "", nil), &snap)
	if snap.EventsApplied != 1 || snap.EventsDuplicate != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
}
