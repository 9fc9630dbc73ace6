package apply

import (
	"encoding/json"
	"testing"

	"github.com/harper/till/internal/envelope"
	"github.com/harper/till/internal/serverdb"
)

type fixture struct {
	db       *serverdb.ServerDB
	applier  *Applier
	storeID  string
	identity *serverdb.TokenIdentity
}

func newFixture(t *testing.T, role serverdb.Role) *fixture {
	t.Helper()
	db, err := serverdb.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	storeID, err := db.CreateStore("Corner Shop")
	if err != nil {
		t.Fatal(err)
	}
	userID, err := db.CreateUser(storeID, "Dana", role)
	if err != nil {
		t.Fatal(err)
	}
	deviceID := "dev-counter1"
	if err := db.RegisterDevice(storeID, deviceID, "front counter"); err != nil {
		t.Fatal(err)
	}

	return &fixture{
		db:      db,
		applier: New(db),
		storeID: storeID,
		identity: &serverdb.TokenIdentity{
			UserID:   userID,
			StoreID:  storeID,
			DeviceID: deviceID,
			Role:     role,
		},
	}
}

func (f *fixture) product(t *testing.T, qty int64) *serverdb.Product {
	t.Helper()
	p := &serverdb.Product{StoreID: f.storeID, Name: "Milk 1L", Price: 149, StockQuantity: qty}
	if err := f.db.CreateProduct(p); err != nil {
		t.Fatal(err)
	}
	return p
}

func (f *fixture) event(t *testing.T, clientTxID string, typ envelope.EventType, payload any) envelope.Envelope {
	t.Helper()
	env, err := envelope.New(f.storeID, f.identity.DeviceID, clientTxID, typ, payload)
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	return env
}

func (f *fixture) mustApply(t *testing.T, env envelope.Envelope) Result {
	t.Helper()
	res := f.applier.Apply(f.identity, env)
	if res.Status != envelope.StatusApplied {
		t.Fatalf("status = %s, err = %v", res.Status, res.Err)
	}
	return res
}

func saleDataOf(t *testing.T, res Result) SaleData {
	t.Helper()
	var d SaleData
	if err := json.Unmarshal(res.Data, &d); err != nil {
		t.Fatalf("decode sale data: %v", err)
	}
	return d
}

// --- completeSale ---

func TestCompleteSale(t *testing.T) {
	f := newFixture(t, serverdb.RoleCashier)
	p := f.product(t, 10)

	env := f.event(t, "tx1", envelope.TypeCompleteSale, envelope.CompleteSale{
		Lines:    []envelope.SaleLine{{ProductID: p.ID, Qty: 2, UnitPrice: 149}},
		Payments: []envelope.PaymentInput{{Method: "cash", Amount: 298}},
	})
	res := f.mustApply(t, env)

	data := saleDataOf(t, res)
	if data.SaleID == "" || data.ReceiptNumber == "" {
		t.Fatalf("sale data = %+v", data)
	}
	if data.Total != 298 {
		t.Errorf("total = %d", data.Total)
	}

	got, _ := f.db.GetProduct(f.storeID, p.ID)
	if got.StockQuantity != 8 {
		t.Errorf("stock = %d, want 8", got.StockQuantity)
	}
}

func TestCompleteSaleReplayByEventID(t *testing.T) {
	f := newFixture(t, serverdb.RoleCashier)
	p := f.product(t, 10)

	env := f.event(t, "tx1", envelope.TypeCompleteSale, envelope.CompleteSale{
		Lines:    []envelope.SaleLine{{ProductID: p.ID, Qty: 2, UnitPrice: 149}},
		Payments: []envelope.PaymentInput{{Method: "cash", Amount: 298}},
	})
	first := f.mustApply(t, env)

	replay := f.applier.Apply(f.identity, env)
	if replay.Status != envelope.StatusDuplicate {
		t.Fatalf("replay status = %s", replay.Status)
	}
	if string(replay.Data) != string(first.Data) {
		t.Errorf("replay returned different data:\n%s\n%s", replay.Data, first.Data)
	}

	got, _ := f.db.GetProduct(f.storeID, p.ID)
	if got.StockQuantity != 8 {
		t.Errorf("stock double-applied: %d", got.StockQuantity)
	}
}

// A regenerated event with the same client transaction id is the business
// replay: one sale, reported as a duplicate.
func TestCompleteSaleReplayByClientTx(t *testing.T) {
	f := newFixture(t, serverdb.RoleCashier)
	p := f.product(t, 10)

	payload := envelope.CompleteSale{
		Lines:    []envelope.SaleLine{{ProductID: p.ID, Qty: 2, UnitPrice: 149}},
		Payments: []envelope.PaymentInput{{Method: "cash", Amount: 298}},
	}
	first := f.mustApply(t, f.event(t, "tx1", envelope.TypeCompleteSale, payload))

	second := f.applier.Apply(f.identity, f.event(t, "tx1", envelope.TypeCompleteSale, payload))
	if second.Status != envelope.StatusDuplicate {
		t.Fatalf("second status = %s, err = %v", second.Status, second.Err)
	}
	if saleDataOf(t, second).SaleID != saleDataOf(t, first).SaleID {
		t.Error("duplicate created a second sale")
	}

	got, _ := f.db.GetProduct(f.storeID, p.ID)
	if got.StockQuantity != 8 {
		t.Errorf("stock = %d, want 8", got.StockQuantity)
	}
	paid, _ := f.db.PaidTotal(saleDataOf(t, first).SaleID)
	if paid != 298 {
		t.Errorf("paid = %d, want 298 (payments must not double)", paid)
	}
}

// A product rung up on two separate lines is one logical stock movement;
// both quantities must land, and a replay must still not double them.
func TestCompleteSaleRepeatedProductLines(t *testing.T) {
	f := newFixture(t, serverdb.RoleCashier)
	p := f.product(t, 10)

	env := f.event(t, "tx1", envelope.TypeCompleteSale, envelope.CompleteSale{
		Lines: []envelope.SaleLine{
			{ProductID: p.ID, Qty: 1, UnitPrice: 100},
			{ProductID: p.ID, Qty: 2, UnitPrice: 100},
		},
		Payments: []envelope.PaymentInput{{Method: "cash", Amount: 300}},
	})
	f.mustApply(t, env)

	got, _ := f.db.GetProduct(f.storeID, p.ID)
	if got.StockQuantity != 7 {
		t.Fatalf("stock = %d, want 7 after 3-unit sale", got.StockQuantity)
	}

	replay := f.applier.Apply(f.identity, env)
	if replay.Status != envelope.StatusDuplicate {
		t.Fatalf("replay status = %s", replay.Status)
	}
	got, _ = f.db.GetProduct(f.storeID, p.ID)
	if got.StockQuantity != 7 {
		t.Errorf("stock = %d after replay, want 7", got.StockQuantity)
	}
}

// The stock pre-check measures a product against its combined demand
// across lines, not line by line.
func TestCompleteSaleRepeatedLinesExceedStock(t *testing.T) {
	f := newFixture(t, serverdb.RoleCashier)
	p := f.product(t, 2)

	res := f.applier.Apply(f.identity, f.event(t, "tx1", envelope.TypeCompleteSale, envelope.CompleteSale{
		Lines: []envelope.SaleLine{
			{ProductID: p.ID, Qty: 1, UnitPrice: 100},
			{ProductID: p.ID, Qty: 2, UnitPrice: 100},
		},
		Payments: []envelope.PaymentInput{{Method: "cash", Amount: 300}},
	}))
	if res.Status != envelope.StatusFailedPermanent {
		t.Fatalf("status = %s, err = %v", res.Status, res.Err)
	}
	if sale, _ := f.db.GetSaleByClientTx(f.storeID, "tx1"); sale != nil {
		t.Error("rejected sale left a row")
	}
	got, _ := f.db.GetProduct(f.storeID, p.ID)
	if got.StockQuantity != 2 {
		t.Errorf("stock = %d, want 2", got.StockQuantity)
	}
}

func TestCompleteSalePaymentMismatch(t *testing.T) {
	f := newFixture(t, serverdb.RoleCashier)
	p := f.product(t, 10)

	env := f.event(t, "tx1", envelope.TypeCompleteSale, envelope.CompleteSale{
		Lines:    []envelope.SaleLine{{ProductID: p.ID, Qty: 2, UnitPrice: 149}},
		Payments: []envelope.PaymentInput{{Method: "cash", Amount: 100}},
	})
	res := f.applier.Apply(f.identity, env)
	if res.Status != envelope.StatusFailedPermanent {
		t.Fatalf("status = %s", res.Status)
	}
}

func TestCompleteSaleInsufficientStock(t *testing.T) {
	f := newFixture(t, serverdb.RoleCashier)
	p := f.product(t, 1)

	env := f.event(t, "tx1", envelope.TypeCompleteSale, envelope.CompleteSale{
		Lines:    []envelope.SaleLine{{ProductID: p.ID, Qty: 5, UnitPrice: 149}},
		Payments: []envelope.PaymentInput{{Method: "cash", Amount: 745}},
	})
	res := f.applier.Apply(f.identity, env)
	if res.Status != envelope.StatusFailedPermanent {
		t.Fatalf("status = %s, err = %v", res.Status, res.Err)
	}

	// Nothing was written: no sale, stock untouched.
	if sale, _ := f.db.GetSaleByClientTx(f.storeID, "tx1"); sale != nil {
		t.Error("rejected sale left a row")
	}
	got, _ := f.db.GetProduct(f.storeID, p.ID)
	if got.StockQuantity != 1 {
		t.Errorf("stock = %d, want 1", got.StockQuantity)
	}
}

func TestCompleteSaleWrongStoreScope(t *testing.T) {
	f := newFixture(t, serverdb.RoleCashier)
	p := f.product(t, 10)

	env, err := envelope.New("st_other", f.identity.DeviceID, "tx1", envelope.TypeCompleteSale,
		envelope.CompleteSale{
			Lines:    []envelope.SaleLine{{ProductID: p.ID, Qty: 1, UnitPrice: 149}},
			Payments: []envelope.PaymentInput{{Method: "cash", Amount: 149}},
		})
	if err != nil {
		t.Fatal(err)
	}
	res := f.applier.Apply(f.identity, env)
	if res.Status != envelope.StatusFailedPermanent {
		t.Fatalf("status = %s", res.Status)
	}
}

// --- parkSale / recordPayment ---

func TestParkThenPayCompletes(t *testing.T) {
	f := newFixture(t, serverdb.RoleCashier)
	p := f.product(t, 10)

	parked := f.mustApply(t, f.event(t, "tx1", envelope.TypeParkSale, envelope.ParkSale{
		Lines: []envelope.SaleLine{{ProductID: p.ID, Qty: 2, UnitPrice: 150}},
	}))
	saleID := saleDataOf(t, parked).SaleID

	// Parked sales move no stock.
	got, _ := f.db.GetProduct(f.storeID, p.ID)
	if got.StockQuantity != 10 {
		t.Errorf("parked sale moved stock: %d", got.StockQuantity)
	}

	f.mustApply(t, f.event(t, "tx2", envelope.TypeRecordPayment, envelope.RecordPayment{
		SaleID: saleID, Method: "cash", Amount: 100,
	}))
	res := f.mustApply(t, f.event(t, "tx3", envelope.TypeRecordPayment, envelope.RecordPayment{
		SaleID: saleID, Method: "card", Amount: 200,
	}))

	var data struct {
		Status    string `json:"status"`
		PaidTotal int64  `json:"paid_total"`
	}
	if err := json.Unmarshal(res.Data, &data); err != nil {
		t.Fatal(err)
	}
	if data.Status != serverdb.SaleCompleted || data.PaidTotal != 300 {
		t.Errorf("data = %+v", data)
	}

	sale, _ := f.db.GetSale(f.storeID, saleID)
	if sale.Status != serverdb.SaleCompleted || sale.ReceiptNumber == "" {
		t.Errorf("sale = %+v", sale)
	}
}

func TestRecordPaymentOverpayment(t *testing.T) {
	f := newFixture(t, serverdb.RoleCashier)
	p := f.product(t, 10)

	parked := f.mustApply(t, f.event(t, "tx1", envelope.TypeParkSale, envelope.ParkSale{
		Lines: []envelope.SaleLine{{ProductID: p.ID, Qty: 1, UnitPrice: 100}},
	}))
	saleID := saleDataOf(t, parked).SaleID

	res := f.applier.Apply(f.identity, f.event(t, "tx2", envelope.TypeRecordPayment,
		envelope.RecordPayment{SaleID: saleID, Method: "cash", Amount: 150}))
	if res.Status != envelope.StatusFailedPermanent {
		t.Fatalf("status = %s", res.Status)
	}
}

// A crash after the payment row landed but before the applied-event
// record was written means the replay re-enters the handler with its own
// money already counted in PaidTotal. It must come back as a duplicate,
// not an overpayment.
func TestRecordPaymentReplayAfterCrash(t *testing.T) {
	f := newFixture(t, serverdb.RoleCashier)
	p := f.product(t, 10)

	parked := f.mustApply(t, f.event(t, "tx1", envelope.TypeParkSale, envelope.ParkSale{
		Lines: []envelope.SaleLine{{ProductID: p.ID, Qty: 2, UnitPrice: 149}},
	}))
	saleID := saleDataOf(t, parked).SaleID

	payEnv := f.event(t, "tx2", envelope.TypeRecordPayment, envelope.RecordPayment{
		SaleID: saleID, Method: "cash", Amount: 298,
	})
	f.mustApply(t, payEnv)

	// Simulate the crash window: the payment is durable, the transport
	// record is not.
	if _, err := f.db.Conn().Exec(`DELETE FROM applied_events WHERE event_id = ?`, payEnv.EventID); err != nil {
		t.Fatal(err)
	}

	replay := f.applier.Apply(f.identity, payEnv)
	if replay.Status != envelope.StatusDuplicate {
		t.Fatalf("replay status = %s, err = %v", replay.Status, replay.Err)
	}

	paid, _ := f.db.PaidTotal(saleID)
	if paid != 298 {
		t.Errorf("paid = %d, want 298 (payment must not double)", paid)
	}
	sale, _ := f.db.GetSale(f.storeID, saleID)
	if sale.Status != serverdb.SaleCompleted || sale.ReceiptNumber == "" {
		t.Errorf("sale = %+v, want completed with receipt", sale)
	}
}

func TestRecordPaymentMissingSale(t *testing.T) {
	f := newFixture(t, serverdb.RoleCashier)

	res := f.applier.Apply(f.identity, f.event(t, "tx1", envelope.TypeRecordPayment,
		envelope.RecordPayment{SaleID: "s_ghost", Method: "cash", Amount: 100}))
	if res.Status != envelope.StatusFailedPermanent {
		t.Fatalf("status = %s", res.Status)
	}
}

// --- voidSale ---

func TestVoidSaleRestoresStock(t *testing.T) {
	f := newFixture(t, serverdb.RoleManager)
	p := f.product(t, 10)

	sold := f.mustApply(t, f.event(t, "tx1", envelope.TypeCompleteSale, envelope.CompleteSale{
		Lines:    []envelope.SaleLine{{ProductID: p.ID, Qty: 3, UnitPrice: 100}},
		Payments: []envelope.PaymentInput{{Method: "cash", Amount: 300}},
	}))
	saleID := saleDataOf(t, sold).SaleID

	f.disablePinGates(t)
	f.mustApply(t, f.event(t, "tx2", envelope.TypeVoidSale, envelope.VoidSale{SaleID: saleID}))

	got, _ := f.db.GetProduct(f.storeID, p.ID)
	if got.StockQuantity != 10 {
		t.Errorf("stock = %d, want 10 after void", got.StockQuantity)
	}
	sale, _ := f.db.GetSale(f.storeID, saleID)
	if sale.Status != serverdb.SaleVoided {
		t.Errorf("status = %s", sale.Status)
	}
}

func TestVoidSaleTwiceIsDuplicate(t *testing.T) {
	f := newFixture(t, serverdb.RoleManager)
	p := f.product(t, 10)
	f.disablePinGates(t)

	sold := f.mustApply(t, f.event(t, "tx1", envelope.TypeCompleteSale, envelope.CompleteSale{
		Lines:    []envelope.SaleLine{{ProductID: p.ID, Qty: 3, UnitPrice: 100}},
		Payments: []envelope.PaymentInput{{Method: "cash", Amount: 300}},
	}))
	saleID := saleDataOf(t, sold).SaleID

	f.mustApply(t, f.event(t, "tx2", envelope.TypeVoidSale, envelope.VoidSale{SaleID: saleID}))
	res := f.applier.Apply(f.identity, f.event(t, "tx3", envelope.TypeVoidSale, envelope.VoidSale{SaleID: saleID}))
	if res.Status != envelope.StatusDuplicate {
		t.Fatalf("second void status = %s", res.Status)
	}

	got, _ := f.db.GetProduct(f.storeID, p.ID)
	if got.StockQuantity != 10 {
		t.Errorf("stock = %d, want 10 (restore must not double)", got.StockQuantity)
	}
}

// Voiding a sale that listed a product on two lines restores the
// combined quantity.
func TestVoidSaleRepeatedProductLines(t *testing.T) {
	f := newFixture(t, serverdb.RoleManager)
	p := f.product(t, 10)
	f.disablePinGates(t)

	sold := f.mustApply(t, f.event(t, "tx1", envelope.TypeCompleteSale, envelope.CompleteSale{
		Lines: []envelope.SaleLine{
			{ProductID: p.ID, Qty: 1, UnitPrice: 100},
			{ProductID: p.ID, Qty: 2, UnitPrice: 100},
		},
		Payments: []envelope.PaymentInput{{Method: "cash", Amount: 300}},
	}))
	saleID := saleDataOf(t, sold).SaleID

	got, _ := f.db.GetProduct(f.storeID, p.ID)
	if got.StockQuantity != 7 {
		t.Fatalf("stock = %d, want 7 before void", got.StockQuantity)
	}

	f.mustApply(t, f.event(t, "tx2", envelope.TypeVoidSale, envelope.VoidSale{SaleID: saleID}))
	got, _ = f.db.GetProduct(f.storeID, p.ID)
	if got.StockQuantity != 10 {
		t.Errorf("stock = %d, want 10 after void", got.StockQuantity)
	}
}

// --- refundSale ---

func TestRefundSale(t *testing.T) {
	f := newFixture(t, serverdb.RoleManager)
	p := f.product(t, 10)
	f.disablePinGates(t)

	sold := f.mustApply(t, f.event(t, "tx1", envelope.TypeCompleteSale, envelope.CompleteSale{
		Lines:    []envelope.SaleLine{{ProductID: p.ID, Qty: 4, UnitPrice: 100}},
		Payments: []envelope.PaymentInput{{Method: "cash", Amount: 400}},
	}))
	saleID := saleDataOf(t, sold).SaleID

	f.mustApply(t, f.event(t, "tx2", envelope.TypeRefundSale, envelope.RefundSale{
		SaleID: saleID,
		Lines:  []envelope.SaleLine{{ProductID: p.ID, Qty: 1, UnitPrice: 100}},
	}))

	got, _ := f.db.GetProduct(f.storeID, p.ID)
	if got.StockQuantity != 7 {
		t.Errorf("stock = %d, want 7 after 1-unit refund", got.StockQuantity)
	}
	sale, _ := f.db.GetSale(f.storeID, saleID)
	if sale.Refunded != 100 {
		t.Errorf("refunded = %d", sale.Refunded)
	}
}

func TestRefundExceedsBalance(t *testing.T) {
	f := newFixture(t, serverdb.RoleManager)
	p := f.product(t, 10)
	f.disablePinGates(t)

	sold := f.mustApply(t, f.event(t, "tx1", envelope.TypeCompleteSale, envelope.CompleteSale{
		Lines:    []envelope.SaleLine{{ProductID: p.ID, Qty: 2, UnitPrice: 100}},
		Payments: []envelope.PaymentInput{{Method: "cash", Amount: 200}},
	}))
	saleID := saleDataOf(t, sold).SaleID

	res := f.applier.Apply(f.identity, f.event(t, "tx2", envelope.TypeRefundSale,
		envelope.RefundSale{SaleID: saleID, Amount: 300}))
	if res.Status != envelope.StatusFailedPermanent {
		t.Fatalf("status = %s", res.Status)
	}
}

func TestRefundReplayByClientTx(t *testing.T) {
	f := newFixture(t, serverdb.RoleManager)
	p := f.product(t, 10)
	f.disablePinGates(t)

	sold := f.mustApply(t, f.event(t, "tx1", envelope.TypeCompleteSale, envelope.CompleteSale{
		Lines:    []envelope.SaleLine{{ProductID: p.ID, Qty: 4, UnitPrice: 100}},
		Payments: []envelope.PaymentInput{{Method: "cash", Amount: 400}},
	}))
	saleID := saleDataOf(t, sold).SaleID

	payload := envelope.RefundSale{SaleID: saleID, Amount: 100}
	f.mustApply(t, f.event(t, "rtx1", envelope.TypeRefundSale, payload))

	second := f.applier.Apply(f.identity, f.event(t, "rtx1", envelope.TypeRefundSale, payload))
	if second.Status != envelope.StatusDuplicate {
		t.Fatalf("second refund status = %s", second.Status)
	}
	sale, _ := f.db.GetSale(f.storeID, saleID)
	if sale.Refunded != 100 {
		t.Errorf("refunded = %d, want 100", sale.Refunded)
	}
}

// --- stock events ---

func TestAdjustStock(t *testing.T) {
	f := newFixture(t, serverdb.RoleManager)
	p := f.product(t, 10)
	f.disablePinGates(t)

	res := f.mustApply(t, f.event(t, "tx1", envelope.TypeAdjustStock, envelope.AdjustStock{
		ProductID: p.ID, DeltaQty: -4, Reason: "damage",
	}))
	var data StockData
	if err := json.Unmarshal(res.Data, &data); err != nil {
		t.Fatal(err)
	}
	if data.ResultingQty != 6 {
		t.Errorf("resulting = %d", data.ResultingQty)
	}
}

func TestRestockProduct(t *testing.T) {
	f := newFixture(t, serverdb.RoleOwner)
	p := f.product(t, 2)
	f.disablePinGates(t)

	f.mustApply(t, f.event(t, "tx1", envelope.TypeRestockProduct, envelope.RestockProduct{
		ProductID: p.ID, Qty: 24, Reference: "INV-1009",
	}))
	got, _ := f.db.GetProduct(f.storeID, p.ID)
	if got.StockQuantity != 26 {
		t.Errorf("stock = %d, want 26", got.StockQuantity)
	}
}

// --- gating ---

func (f *fixture) disablePinGates(t *testing.T) {
	t.Helper()
	settings, err := f.db.GetStore(f.storeID)
	if err != nil {
		t.Fatal(err)
	}
	settings.RequirePinForVoid = false
	settings.RequirePinForRefund = false
	settings.RequirePinForStock = false
	if err := f.db.UpdateStoreSettings(settings); err != nil {
		t.Fatal(err)
	}
}

func TestCashierCannotVoid(t *testing.T) {
	f := newFixture(t, serverdb.RoleCashier)
	f.disablePinGates(t)

	res := f.applier.Apply(f.identity, f.event(t, "tx1", envelope.TypeVoidSale,
		envelope.VoidSale{SaleID: "s_any"}))
	if res.Status != envelope.StatusFailedPermanent {
		t.Fatalf("status = %s", res.Status)
	}
}

func TestPinRequiredWhenGateOn(t *testing.T) {
	f := newFixture(t, serverdb.RoleManager)
	p := f.product(t, 10)
	if err := f.db.SetOwnerPIN(f.storeID, "4321"); err != nil {
		t.Fatal(err)
	}

	// No PIN: rejected with a PIN demand.
	res := f.applier.Apply(f.identity, f.event(t, "tx1", envelope.TypeAdjustStock,
		envelope.AdjustStock{ProductID: p.ID, DeltaQty: -1, Reason: "recount"}))
	if res.Status != envelope.StatusFailedPermanent {
		t.Fatalf("status = %s", res.Status)
	}

	// Wrong PIN: rejected.
	res = f.applier.Apply(f.identity, f.event(t, "tx2", envelope.TypeAdjustStock,
		envelope.AdjustStock{ProductID: p.ID, DeltaQty: -1, Reason: "recount", Pin: "0000"}))
	if res.Status != envelope.StatusFailedPermanent {
		t.Fatalf("status = %s", res.Status)
	}

	// Correct PIN: applied.
	f.mustApply(t, f.event(t, "tx3", envelope.TypeAdjustStock,
		envelope.AdjustStock{ProductID: p.ID, DeltaQty: -1, Reason: "recount", Pin: "4321"}))
}

// --- batch ---

func TestApplyBatchIndependentResults(t *testing.T) {
	f := newFixture(t, serverdb.RoleCashier)
	p := f.product(t, 10)

	good := f.event(t, "tx1", envelope.TypeCompleteSale, envelope.CompleteSale{
		Lines:    []envelope.SaleLine{{ProductID: p.ID, Qty: 1, UnitPrice: 149}},
		Payments: []envelope.PaymentInput{{Method: "cash", Amount: 149}},
	})
	bad := f.event(t, "tx2", envelope.TypeCompleteSale, envelope.CompleteSale{
		Lines:    []envelope.SaleLine{{ProductID: "p_ghost", Qty: 1, UnitPrice: 100}},
		Payments: []envelope.PaymentInput{{Method: "cash", Amount: 100}},
	})

	results := f.applier.ApplyBatch(f.identity, []envelope.Envelope{good, bad})
	if len(results) != 2 {
		t.Fatalf("results = %d", len(results))
	}
	if results[0].Status != envelope.StatusApplied {
		t.Errorf("good event status = %s, err = %v", results[0].Status, results[0].Err)
	}
	if results[1].Status != envelope.StatusFailedPermanent {
		t.Errorf("bad event status = %s", results[1].Status)
	}
}
