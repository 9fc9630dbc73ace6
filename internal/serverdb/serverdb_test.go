package serverdb

import (
	"strings"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *ServerDB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedStore(t *testing.T, db *ServerDB) string {
	t.Helper()
	storeID, err := db.CreateStore("Corner Shop")
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	return storeID
}

func seedProduct(t *testing.T, db *ServerDB, storeID string, qty int64) *Product {
	t.Helper()
	p := &Product{StoreID: storeID, Name: "Milk 1L", Barcode: "4001", Price: 149, StockQuantity: qty}
	if err := db.CreateProduct(p); err != nil {
		t.Fatalf("create product: %v", err)
	}
	return p
}

// --- Store tests ---

func TestCreateAndGetStore(t *testing.T) {
	db := newTestDB(t)
	storeID := seedStore(t, db)

	if !strings.HasPrefix(storeID, "st_") {
		t.Errorf("unexpected store id prefix: %s", storeID)
	}

	s, err := db.GetStore(storeID)
	if err != nil {
		t.Fatal(err)
	}
	if s == nil {
		t.Fatal("store not found after create")
	}
	if s.Name != "Corner Shop" {
		t.Errorf("name = %q", s.Name)
	}
	if !s.RequirePinForVoid || !s.RequirePinForRefund || !s.RequirePinForStock {
		t.Error("pin gates should default on")
	}
	if s.AllowNegativeStock {
		t.Error("negative stock should default off")
	}
}

func TestGetStoreMissing(t *testing.T) {
	db := newTestDB(t)
	s, err := db.GetStore("st_nope")
	if err != nil {
		t.Fatal(err)
	}
	if s != nil {
		t.Error("expected nil for missing store")
	}
}

func TestReceiptNumbersIncrement(t *testing.T) {
	db := newTestDB(t)
	storeID := seedStore(t, db)

	first, err := db.NextReceiptNumber(storeID)
	if err != nil {
		t.Fatal(err)
	}
	second, err := db.NextReceiptNumber(storeID)
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Errorf("receipt numbers must be unique: %s", first)
	}
	if !strings.HasSuffix(first, "-000001") || !strings.HasSuffix(second, "-000002") {
		t.Errorf("unexpected sequence: %s, %s", first, second)
	}
}

func TestOwnerPIN(t *testing.T) {
	db := newTestDB(t)
	storeID := seedStore(t, db)

	if err := db.SetOwnerPIN(storeID, "4321"); err != nil {
		t.Fatal(err)
	}
	s, _ := db.GetStore(storeID)
	if !s.CheckOwnerPIN("4321") {
		t.Error("correct PIN rejected")
	}
	if s.CheckOwnerPIN("0000") {
		t.Error("wrong PIN accepted")
	}
}

func TestCheckPINWithoutHash(t *testing.T) {
	db := newTestDB(t)
	storeID := seedStore(t, db)
	s, _ := db.GetStore(storeID)
	if s.CheckOwnerPIN("") || s.CheckOwnerPIN("1234") {
		t.Error("PIN check must fail when no PIN is set")
	}
}

// --- Token tests ---

func seedIdentity(t *testing.T, db *ServerDB, storeID string, role Role) (string, string) {
	t.Helper()
	userID, err := db.CreateUser(storeID, "Dana", role)
	if err != nil {
		t.Fatal(err)
	}
	deviceID := "dev-counter1"
	if err := db.RegisterDevice(storeID, deviceID, "front counter"); err != nil {
		t.Fatal(err)
	}
	return userID, deviceID
}

func TestIssueAndVerifyToken(t *testing.T) {
	db := newTestDB(t)
	storeID := seedStore(t, db)
	userID, deviceID := seedIdentity(t, db, storeID, RoleManager)

	token, err := db.IssueToken(userID, storeID, deviceID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(token, "tl_live_") {
		t.Errorf("unexpected token prefix: %s", token)
	}

	id, err := db.VerifyToken(token)
	if err != nil {
		t.Fatal(err)
	}
	if id == nil {
		t.Fatal("token did not verify")
	}
	if id.UserID != userID || id.StoreID != storeID || id.DeviceID != deviceID {
		t.Errorf("identity mismatch: %+v", id)
	}
	if id.Role != RoleManager {
		t.Errorf("role = %s", id.Role)
	}
}

func TestVerifyTokenUnknown(t *testing.T) {
	db := newTestDB(t)
	id, err := db.VerifyToken("tl_live_garbage")
	if err != nil {
		t.Fatal(err)
	}
	if id != nil {
		t.Error("unknown token must not verify")
	}
}

func TestVerifyTokenRevoked(t *testing.T) {
	db := newTestDB(t)
	storeID := seedStore(t, db)
	userID, deviceID := seedIdentity(t, db, storeID, RoleOwner)

	token, err := db.IssueToken(userID, storeID, deviceID, nil)
	if err != nil {
		t.Fatal(err)
	}
	id, _ := db.VerifyToken(token)
	if err := db.RevokeToken(id.TokenID); err != nil {
		t.Fatal(err)
	}
	if id, _ := db.VerifyToken(token); id != nil {
		t.Error("revoked token must not verify")
	}
}

func TestVerifyTokenExpired(t *testing.T) {
	db := newTestDB(t)
	storeID := seedStore(t, db)
	userID, deviceID := seedIdentity(t, db, storeID, RoleCashier)

	past := time.Now().UTC().Add(-time.Hour)
	token, err := db.IssueToken(userID, storeID, deviceID, &past)
	if err != nil {
		t.Fatal(err)
	}
	if id, _ := db.VerifyToken(token); id != nil {
		t.Error("expired token must not verify")
	}
}

func TestIssueTokenUnregisteredDevice(t *testing.T) {
	db := newTestDB(t)
	storeID := seedStore(t, db)
	userID, err := db.CreateUser(storeID, "Dana", RoleOwner)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.IssueToken(userID, storeID, "dev-ghost", nil); err == nil {
		t.Error("expected error for unregistered device")
	}
}

// --- Permission tests ---

func TestRolePermissions(t *testing.T) {
	cases := []struct {
		role Role
		perm Permission
		want bool
	}{
		{RoleOwner, PermVoidSale, true},
		{RoleOwner, PermAdjustStock, true},
		{RoleManager, PermRefundSale, true},
		{RoleManager, PermRestockStock, true},
		{RoleCashier, PermVoidSale, false},
		{RoleCashier, PermAdjustStock, false},
		{Role("intern"), PermVoidSale, false},
	}
	for _, tc := range cases {
		if got := HasPermission(tc.role, tc.perm); got != tc.want {
			t.Errorf("HasPermission(%s, %s) = %v, want %v", tc.role, tc.perm, got, tc.want)
		}
	}
}

// --- Stock ledger tests ---

func TestApplyStockMutation(t *testing.T) {
	db := newTestDB(t)
	storeID := seedStore(t, db)
	p := seedProduct(t, db, storeID, 10)

	m := StockMutation{StoreID: storeID, ProductID: p.ID, DeltaQty: -3, ReferenceType: "sale", ReferenceID: "sale1"}
	entry, err := db.ApplyStockMutation(m, false)
	if err != nil {
		t.Fatal(err)
	}
	if entry.ResultingQty != 7 || entry.PrevQty != 10 {
		t.Errorf("entry = %+v", entry)
	}

	got, _ := db.GetProduct(storeID, p.ID)
	if got.StockQuantity != 7 {
		t.Errorf("quantity = %d, want 7", got.StockQuantity)
	}
	if len(got.PendingMutations) != 0 {
		t.Errorf("marker not cleared: %v", got.PendingMutations)
	}
}

func TestApplyStockMutationIdempotent(t *testing.T) {
	db := newTestDB(t)
	storeID := seedStore(t, db)
	p := seedProduct(t, db, storeID, 10)

	m := StockMutation{StoreID: storeID, ProductID: p.ID, DeltaQty: -3, ReferenceType: "sale", ReferenceID: "sale1"}
	first, err := db.ApplyStockMutation(m, false)
	if err != nil {
		t.Fatal(err)
	}
	second, err := db.ApplyStockMutation(m, false)
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID || second.ResultingQty != 7 {
		t.Errorf("replay produced a different entry: %+v", second)
	}

	got, _ := db.GetProduct(storeID, p.ID)
	if got.StockQuantity != 7 {
		t.Errorf("quantity double-applied: %d", got.StockQuantity)
	}
}

func TestApplyStockMutationNegativeRejected(t *testing.T) {
	db := newTestDB(t)
	storeID := seedStore(t, db)
	p := seedProduct(t, db, storeID, 3)

	m := StockMutation{StoreID: storeID, ProductID: p.ID, DeltaQty: -5, ReferenceType: "sale", ReferenceID: "sale1"}
	if _, err := db.ApplyStockMutation(m, false); err == nil {
		t.Fatal("expected negative stock rejection")
	}

	got, _ := db.GetProduct(storeID, p.ID)
	if got.StockQuantity != 3 {
		t.Errorf("rejected mutation changed quantity: %d", got.StockQuantity)
	}
	if entry, _ := db.GetLedgerEntry(m.Key()); entry != nil {
		t.Error("rejected mutation left a ledger row")
	}
}

func TestApplyStockMutationNegativeAllowed(t *testing.T) {
	db := newTestDB(t)
	storeID := seedStore(t, db)
	p := seedProduct(t, db, storeID, 3)

	m := StockMutation{StoreID: storeID, ProductID: p.ID, DeltaQty: -5, ReferenceType: "sale", ReferenceID: "sale1"}
	entry, err := db.ApplyStockMutation(m, true)
	if err != nil {
		t.Fatal(err)
	}
	if entry.ResultingQty != -2 {
		t.Errorf("resulting = %d, want -2", entry.ResultingQty)
	}
}

func TestApplyStockMutationMissingProduct(t *testing.T) {
	db := newTestDB(t)
	storeID := seedStore(t, db)

	m := StockMutation{StoreID: storeID, ProductID: "p_ghost", DeltaQty: 1, ReferenceType: "restock", ReferenceID: "r1"}
	if _, err := db.ApplyStockMutation(m, false); err == nil {
		t.Fatal("expected not-found error")
	}
}

// Simulates a crash between the quantity update and the ledger append:
// the marker is set and the quantity already moved, but no ledger row
// exists. The retry must append the row without moving quantity again.
func TestApplyStockMutationCrashBetweenPhases(t *testing.T) {
	db := newTestDB(t)
	storeID := seedStore(t, db)
	p := seedProduct(t, db, storeID, 10)

	m := StockMutation{StoreID: storeID, ProductID: p.ID, DeltaQty: -4, ReferenceType: "sale", ReferenceID: "sale1"}
	if err := db.setQuantityWithMarker(storeID, p.ID, 6, []string{m.Key()}); err != nil {
		t.Fatal(err)
	}

	entry, err := db.ApplyStockMutation(m, false)
	if err != nil {
		t.Fatal(err)
	}
	if entry.ResultingQty != 6 {
		t.Errorf("resulting = %d, want 6", entry.ResultingQty)
	}

	got, _ := db.GetProduct(storeID, p.ID)
	if got.StockQuantity != 6 {
		t.Errorf("quantity = %d, want 6 (no double apply)", got.StockQuantity)
	}
	if len(got.PendingMutations) != 0 {
		t.Errorf("marker not cleared: %v", got.PendingMutations)
	}
}

// A replayed mutation must not self-heal the quantity backwards when
// later mutations have already moved it on.
func TestReplayDoesNotRewindQuantity(t *testing.T) {
	db := newTestDB(t)
	storeID := seedStore(t, db)
	p := seedProduct(t, db, storeID, 10)

	first := StockMutation{StoreID: storeID, ProductID: p.ID, DeltaQty: -2, ReferenceType: "sale", ReferenceID: "sale1"}
	if _, err := db.ApplyStockMutation(first, false); err != nil {
		t.Fatal(err)
	}
	second := StockMutation{StoreID: storeID, ProductID: p.ID, DeltaQty: -3, ReferenceType: "sale", ReferenceID: "sale2"}
	if _, err := db.ApplyStockMutation(second, false); err != nil {
		t.Fatal(err)
	}

	if _, err := db.ApplyStockMutation(first, false); err != nil {
		t.Fatal(err)
	}
	got, _ := db.GetProduct(storeID, p.ID)
	if got.StockQuantity != 5 {
		t.Errorf("quantity = %d, want 5", got.StockQuantity)
	}
}

func TestLedgerHistory(t *testing.T) {
	db := newTestDB(t)
	storeID := seedStore(t, db)
	p := seedProduct(t, db, storeID, 10)

	for i, delta := range []int64{-1, -2, 5} {
		m := StockMutation{StoreID: storeID, ProductID: p.ID, DeltaQty: delta,
			ReferenceType: "adjustment", ReferenceID: string(rune('a' + i))}
		if _, err := db.ApplyStockMutation(m, false); err != nil {
			t.Fatal(err)
		}
	}

	history, err := db.LedgerHistory(storeID, p.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 3 {
		t.Fatalf("history len = %d", len(history))
	}
}

// --- Sales tests ---

func TestInsertSaleAndLines(t *testing.T) {
	db := newTestDB(t)
	storeID := seedStore(t, db)

	s := &Sale{StoreID: storeID, DeviceID: "dev-1", ClientTxID: "tx1", ReceiptNumber: "R-000001",
		Status: SaleCompleted, Total: 500}
	lines := []SaleLineRow{{ProductID: "p_1", Qty: 2, UnitPrice: 250}}
	if err := db.InsertSale(s, lines); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetSaleByClientTx(storeID, "tx1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Total != 500 || got.Status != SaleCompleted {
		t.Fatalf("sale = %+v", got)
	}

	gotLines, err := db.GetSaleLines(got.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(gotLines) != 1 || gotLines[0].Qty != 2 {
		t.Errorf("lines = %+v", gotLines)
	}
}

func TestDuplicateClientTxRejected(t *testing.T) {
	db := newTestDB(t)
	storeID := seedStore(t, db)

	s1 := &Sale{StoreID: storeID, DeviceID: "dev-1", ClientTxID: "tx1", Status: SaleCompleted, Total: 100}
	if err := db.InsertSale(s1, nil); err != nil {
		t.Fatal(err)
	}
	s2 := &Sale{StoreID: storeID, DeviceID: "dev-1", ClientTxID: "tx1", Status: SaleCompleted, Total: 100}
	if err := db.InsertSale(s2, nil); err == nil {
		t.Error("expected unique violation on duplicate client_tx_id")
	}
}

func TestAddPaymentIdempotent(t *testing.T) {
	db := newTestDB(t)
	storeID := seedStore(t, db)

	s := &Sale{StoreID: storeID, DeviceID: "dev-1", ClientTxID: "tx1", Status: SaleParked, Total: 300}
	if err := db.InsertSale(s, nil); err != nil {
		t.Fatal(err)
	}

	if err := db.AddPayment("pay_e1", s.ID, "cash", 300); err != nil {
		t.Fatal(err)
	}
	if err := db.AddPayment("pay_e1", s.ID, "cash", 300); err != nil {
		t.Fatal(err)
	}

	paid, err := db.PaidTotal(s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if paid != 300 {
		t.Errorf("paid = %d, want 300 (duplicate payment id must be ignored)", paid)
	}
}

func TestCompleteParkedSale(t *testing.T) {
	db := newTestDB(t)
	storeID := seedStore(t, db)

	s := &Sale{StoreID: storeID, DeviceID: "dev-1", ClientTxID: "tx1", Status: SaleParked, Total: 300}
	if err := db.InsertSale(s, nil); err != nil {
		t.Fatal(err)
	}
	if err := db.CompleteParkedSale(storeID, s.ID, "R-000009"); err != nil {
		t.Fatal(err)
	}

	got, _ := db.GetSale(storeID, s.ID)
	if got.Status != SaleCompleted || got.ReceiptNumber != "R-000009" {
		t.Errorf("sale = %+v", got)
	}

	// Only parked sales can transition this way.
	if err := db.CompleteParkedSale(storeID, s.ID, "R-000010"); err == nil {
		t.Error("completing a completed sale must fail")
	}
}

func TestInsertRefundBumpsRefunded(t *testing.T) {
	db := newTestDB(t)
	storeID := seedStore(t, db)

	s := &Sale{StoreID: storeID, DeviceID: "dev-1", ClientTxID: "tx1", Status: SaleCompleted, Total: 1000}
	if err := db.InsertSale(s, nil); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertRefund(storeID, s.ID, "rtx1", 400, "damaged"); err != nil {
		t.Fatal(err)
	}

	got, _ := db.GetSale(storeID, s.ID)
	if got.Refunded != 400 {
		t.Errorf("refunded = %d, want 400", got.Refunded)
	}

	saleID, amount, ok, err := db.GetRefundByClientTx(storeID, "rtx1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || saleID != s.ID || amount != 400 {
		t.Errorf("refund lookup = %s %d %v", saleID, amount, ok)
	}
}

// --- Applied events ---

func TestRecordAppliedEvent(t *testing.T) {
	db := newTestDB(t)
	storeID := seedStore(t, db)

	e := &AppliedEvent{EventID: "ev1", StoreID: storeID, DeviceID: "dev-1",
		EventType: "completeSale", Status: "applied", Data: []byte(`{"sale_id":"s1"}`)}
	if err := db.RecordAppliedEvent(e); err != nil {
		t.Fatal(err)
	}
	// Replay keeps the original row.
	e2 := &AppliedEvent{EventID: "ev1", StoreID: storeID, DeviceID: "dev-1",
		EventType: "completeSale", Status: "failed_permanent", Data: nil}
	if err := db.RecordAppliedEvent(e2); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetAppliedEvent("ev1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Status != "applied" {
		t.Fatalf("applied event = %+v", got)
	}
}

// --- Pull tests ---

func TestChangesSinceFullAndIncremental(t *testing.T) {
	db := newTestDB(t)
	storeID := seedStore(t, db)
	seedProduct(t, db, storeID, 5)

	full, err := db.ChangesSince(storeID, time.Unix(0, 0))
	if err != nil {
		t.Fatal(err)
	}
	if len(full.Products) != 1 {
		t.Fatalf("full pull products = %d", len(full.Products))
	}
	if full.Settings == nil || full.Settings.ID != storeID {
		t.Error("full pull must carry settings")
	}
	if full.NewCursor == "" {
		t.Fatal("cursor empty")
	}

	cursor, err := ParseStamp(full.NewCursor)
	if err != nil {
		t.Fatal(err)
	}
	incr, err := db.ChangesSince(storeID, cursor)
	if err != nil {
		t.Fatal(err)
	}
	if len(incr.Products) != 0 {
		t.Errorf("incremental pull re-sent %d products", len(incr.Products))
	}

	// New product appears in the next window.
	seedProduct2 := &Product{StoreID: storeID, Name: "Bread", Price: 99}
	if err := db.CreateProduct(seedProduct2); err != nil {
		t.Fatal(err)
	}
	incr2, err := db.ChangesSince(storeID, cursor)
	if err != nil {
		t.Fatal(err)
	}
	if len(incr2.Products) != 1 || incr2.Products[0].EntityID != seedProduct2.ID {
		t.Errorf("incremental pull = %+v", incr2.Products)
	}
	if !(incr2.NewCursor > full.NewCursor) {
		t.Error("cursor did not advance")
	}
}

func TestChangesSinceTombstones(t *testing.T) {
	db := newTestDB(t)
	storeID := seedStore(t, db)
	p := seedProduct(t, db, storeID, 5)

	full, _ := db.ChangesSince(storeID, time.Unix(0, 0))
	cursor, _ := ParseStamp(full.NewCursor)

	if err := db.DeleteProduct(storeID, p.ID); err != nil {
		t.Fatal(err)
	}

	incr, err := db.ChangesSince(storeID, cursor)
	if err != nil {
		t.Fatal(err)
	}
	if len(incr.Products) != 0 {
		t.Error("deleted product delivered as live row")
	}
	if len(incr.Tombstones.Products) != 1 || incr.Tombstones.Products[0] != p.ID {
		t.Errorf("tombstones = %v", incr.Tombstones.Products)
	}
}

func TestParseStampRoundTrip(t *testing.T) {
	now := time.Now().UTC()
	got, err := ParseStamp(FormatStamp(now))
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(now.Truncate(time.Nanosecond)) {
		t.Errorf("round trip lost precision: %v != %v", got, now)
	}
}
