// Package e2e exercises the full sync loop in-process: a real HTTP server
// over a file-backed store database, and several device databases with
// their own orchestrators pushing and pulling against it.
package e2e

import (
	"context"
	"database/sql"
	"net/http/httptest"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/google/uuid"
	"github.com/harper/till/internal/api"
	"github.com/harper/till/internal/clientdb"
	"github.com/harper/till/internal/envelope"
	"github.com/harper/till/internal/orchestrator"
	"github.com/harper/till/internal/serverdb"
	"github.com/harper/till/internal/syncclient"
)

// Device is one point-of-sale terminal talking to the harness server.
type Device struct {
	Name    string
	ID      string
	DataDir string
	DB      *clientdb.ClientDB
	Orch    *orchestrator.Orchestrator

	token string
	h     *Harness
}

// Harness manages a till server and multiple device environments.
type Harness struct {
	t *testing.T

	Server   *httptest.Server
	Store    *serverdb.ServerDB
	StoreID  string
	Devices  map[string]*Device
	serverDB string // path, for raw inspection
}

// deviceNames returns the device names for n devices.
func deviceNames(n int) []string {
	names := []string{"alice", "bob"}
	if n >= 3 {
		names = append(names, "carol")
	}
	return names
}

// Setup starts a server over a fresh store and provisions n devices, each
// with its own cashier, registered device and token.
func Setup(t *testing.T, n int) *Harness {
	t.Helper()

	serverDir := t.TempDir()
	dbPath := filepath.Join(serverDir, "server.db")
	store, err := serverdb.Open(dbPath)
	if err != nil {
		t.Fatalf("open server db: %v", err)
	}

	cfg := api.Config{MaxBodyBytes: 1 << 20, MaxPushBatch: 25}
	srv, err := api.NewServer(cfg, store)
	if err != nil {
		t.Fatalf("create server: %v", err)
	}
	httpSrv := httptest.NewServer(srv.Handler())

	storeID, err := store.CreateStore("E2E Shop")
	if err != nil {
		t.Fatal(err)
	}

	h := &Harness{
		t:        t,
		Server:   httpSrv,
		Store:    store,
		StoreID:  storeID,
		Devices:  make(map[string]*Device),
		serverDB: dbPath,
	}
	t.Cleanup(func() {
		for _, d := range h.Devices {
			d.DB.Close()
		}
		httpSrv.Close()
		store.Close()
	})

	for _, name := range deviceNames(n) {
		h.addDevice(name)
	}
	return h
}

func (h *Harness) addDevice(name string) *Device {
	h.t.Helper()

	userID, err := h.Store.CreateUser(h.StoreID, name, serverdb.RoleCashier)
	if err != nil {
		h.t.Fatal(err)
	}
	deviceID := "dev-" + name
	if err := h.Store.RegisterDevice(h.StoreID, deviceID, name+"'s terminal"); err != nil {
		h.t.Fatal(err)
	}
	token, err := h.Store.IssueToken(userID, h.StoreID, deviceID, nil)
	if err != nil {
		h.t.Fatal(err)
	}

	dataDir := h.t.TempDir()
	db, err := clientdb.Initialize(dataDir)
	if err != nil {
		h.t.Fatal(err)
	}

	d := &Device{
		Name:    name,
		ID:      deviceID,
		DataDir: dataDir,
		DB:      db,
		token:   token,
		h:       h,
	}
	d.buildOrchestrator()
	h.Devices[name] = d
	return d
}

func (d *Device) buildOrchestrator() {
	client := syncclient.New(d.h.Server.URL, d.token, d.h.StoreID)
	d.Orch = orchestrator.New(d.DB, client, d.ID)
}

// Restart simulates a process restart: the database handle is closed and
// the device environment rebuilt from the on-disk state.
func (d *Device) Restart() {
	d.h.t.Helper()
	if err := d.DB.Close(); err != nil {
		d.h.t.Fatal(err)
	}
	db, err := clientdb.Open(d.DataDir)
	if err != nil {
		d.h.t.Fatalf("reopen device %s: %v", d.Name, err)
	}
	d.DB = db
	d.buildOrchestrator()
}

// Sell enqueues a completed cash sale for qty units of one product and
// records the local receipt. Returns the client transaction id.
func (d *Device) Sell(productID string, qty, unitPrice int64) string {
	d.h.t.Helper()
	clientTxID := uuid.NewString()
	total := qty * unitPrice

	env, err := envelope.New(d.h.StoreID, d.ID, clientTxID, envelope.TypeCompleteSale,
		envelope.CompleteSale{
			Lines:    []envelope.SaleLine{{ProductID: productID, Qty: qty, UnitPrice: unitPrice}},
			Payments: []envelope.PaymentInput{{Method: "cash", Amount: total}},
		})
	if err != nil {
		d.h.t.Fatal(err)
	}
	if err := d.DB.Enqueue(env); err != nil {
		d.h.t.Fatal(err)
	}
	if _, err := d.DB.CreateReceipt(clientTxID, total, nil); err != nil {
		d.h.t.Fatal(err)
	}
	return clientTxID
}

// Sync runs one full cycle for the device.
func (d *Device) Sync() *orchestrator.Summary {
	d.h.t.Helper()
	summary, err := d.Orch.SyncNow(context.Background())
	if err != nil {
		d.h.t.Fatalf("sync %s: %v", d.Name, err)
	}
	return summary
}

// SyncAll cycles every device once, in name order for determinism.
func (h *Harness) SyncAll() {
	h.t.Helper()
	for _, name := range deviceNames(len(h.Devices)) {
		h.Devices[name].Sync()
	}
}

// SeedProduct creates a product with the given starting stock.
func (h *Harness) SeedProduct(name string, price, qty int64) string {
	h.t.Helper()
	p := &serverdb.Product{StoreID: h.StoreID, Name: name, Price: price, StockQuantity: qty}
	if err := h.Store.CreateProduct(p); err != nil {
		h.t.Fatal(err)
	}
	return p.ID
}

// StockOf reads a product's quantity straight from the server database
// file, bypassing the application layer.
func (h *Harness) StockOf(productID string) int64 {
	h.t.Helper()
	raw, err := sql.Open("sqlite", h.serverDB)
	if err != nil {
		h.t.Fatal(err)
	}
	defer raw.Close()

	var qty int64
	err = raw.QueryRow("SELECT stock_quantity FROM products WHERE id = ?", productID).Scan(&qty)
	if err != nil {
		h.t.Fatalf("read stock of %s: %v", productID, err)
	}
	return qty
}

// SaleCount counts sales rows on the server for one store.
func (h *Harness) SaleCount() int {
	h.t.Helper()
	raw, err := sql.Open("sqlite", h.serverDB)
	if err != nil {
		h.t.Fatal(err)
	}
	defer raw.Close()

	var n int
	if err := raw.QueryRow("SELECT COUNT(*) FROM sales WHERE store_id = ?", h.StoreID).Scan(&n); err != nil {
		h.t.Fatal(err)
	}
	return n
}

// RequireConfirmedReceipt fails unless the device holds a confirmed
// receipt with a server receipt number for the transaction.
func (d *Device) RequireConfirmedReceipt(clientTxID string) {
	d.h.t.Helper()
	r, err := d.DB.GetReceiptByClientTx(clientTxID)
	if err != nil {
		d.h.t.Fatal(err)
	}
	if r == nil {
		d.h.t.Fatalf("device %s has no receipt for %s", d.Name, clientTxID)
	}
	if r.Status != clientdb.ReceiptConfirmed || r.ReceiptNumber == "" {
		d.h.t.Fatalf("device %s receipt for %s: status=%s number=%q", d.Name, clientTxID, r.Status, r.ReceiptNumber)
	}
}

// QueueDrained fails if any queue row is still pending or retrying.
func (d *Device) QueueDrained() {
	d.h.t.Helper()
	counts, err := d.DB.CountsByStatus()
	if err != nil {
		d.h.t.Fatal(err)
	}
	for _, state := range []string{clientdb.StatusQueued, clientdb.StatusPushing, "failed_retry"} {
		if counts[state] > 0 {
			d.h.t.Fatalf("device %s queue not drained: %v", d.Name, counts)
		}
	}
}
