package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/harper/till/internal/api"
	"github.com/harper/till/internal/serverdb"
)

func runAdmin(args []string) {
	if len(args) == 0 {
		printAdminUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "create-store":
		runCreateStore(args[1:])
	case "create-user":
		runCreateUser(args[1:])
	case "register-device":
		runRegisterDevice(args[1:])
	case "issue-token":
		runIssueToken(args[1:])
	case "revoke-token":
		runRevokeToken(args[1:])
	case "set-pin":
		runSetPIN(args[1:])
	case "set-settings":
		runSetSettings(args[1:])
	case "add-product":
		runAddProduct(args[1:])
	case "add-category":
		runAddCategory(args[1:])
	case "add-customer":
		runAddCustomer(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown admin command: %s\n", args[0])
		printAdminUsage()
		os.Exit(1)
	}
}

func printAdminUsage() {
	fmt.Fprintln(os.Stderr, `Usage: till-server admin <command> [flags]

Commands:
  create-store     Create a store
  create-user      Create a user in a store
  register-device  Register a point-of-sale device
  issue-token      Issue an access token for a user+device pair
  revoke-token     Revoke an access token
  set-pin          Set the store owner PIN
  set-settings     Update store sync/permission settings
  add-product      Add a catalog product
  add-category     Add a product category
  add-customer     Add a customer`)
}

func openDB(dbPath string) *serverdb.ServerDB {
	if dbPath == "" {
		cfg := api.LoadConfig()
		dbPath = cfg.ServerDBPath
	}
	store, err := serverdb.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: open database: %v\n", err)
		os.Exit(1)
	}
	return store
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func runCreateStore(args []string) {
	fs := flag.NewFlagSet("admin create-store", flag.ExitOnError)
	name := fs.String("name", "", "store name")
	dbPath := fs.String("db", "", "path to till.db (default: from TILL_SERVER_DB_PATH)")
	fs.Parse(args)

	if *name == "" {
		fatalf("--name is required")
	}

	store := openDB(*dbPath)
	defer store.Close()

	id, err := store.CreateStore(*name)
	if err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("created store %s\n", id)
}

func runCreateUser(args []string) {
	fs := flag.NewFlagSet("admin create-user", flag.ExitOnError)
	storeID := fs.String("store", "", "store id")
	name := fs.String("name", "", "user name")
	role := fs.String("role", "cashier", "role: owner, manager or cashier")
	dbPath := fs.String("db", "", "path to till.db")
	fs.Parse(args)

	if *storeID == "" || *name == "" {
		fatalf("--store and --name are required")
	}

	store := openDB(*dbPath)
	defer store.Close()

	id, err := store.CreateUser(*storeID, *name, serverdb.Role(*role))
	if err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("created user %s (%s)\n", id, *role)
}

func runRegisterDevice(args []string) {
	fs := flag.NewFlagSet("admin register-device", flag.ExitOnError)
	storeID := fs.String("store", "", "store id")
	deviceID := fs.String("device", "", "device id (as generated on the device)")
	name := fs.String("name", "", "device name")
	dbPath := fs.String("db", "", "path to till.db")
	fs.Parse(args)

	if *storeID == "" || *deviceID == "" {
		fatalf("--store and --device are required")
	}

	store := openDB(*dbPath)
	defer store.Close()

	if err := store.RegisterDevice(*storeID, *deviceID, *name); err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("registered device %s in store %s\n", *deviceID, *storeID)
}

func runIssueToken(args []string) {
	fs := flag.NewFlagSet("admin issue-token", flag.ExitOnError)
	userID := fs.String("user", "", "user id")
	storeID := fs.String("store", "", "store id")
	deviceID := fs.String("device", "", "device id")
	expires := fs.Duration("expires", 0, "token lifetime (0 = no expiry)")
	dbPath := fs.String("db", "", "path to till.db")
	fs.Parse(args)

	if *userID == "" || *storeID == "" || *deviceID == "" {
		fatalf("--user, --store and --device are required")
	}

	store := openDB(*dbPath)
	defer store.Close()

	var expiresAt *time.Time
	if *expires > 0 {
		t := time.Now().UTC().Add(*expires)
		expiresAt = &t
	}

	token, err := store.IssueToken(*userID, *storeID, *deviceID, expiresAt)
	if err != nil {
		fatalf("%v", err)
	}
	// Shown once; only the hash is stored.
	fmt.Println(token)
}

func runRevokeToken(args []string) {
	fs := flag.NewFlagSet("admin revoke-token", flag.ExitOnError)
	tokenID := fs.String("id", "", "token id")
	dbPath := fs.String("db", "", "path to till.db")
	fs.Parse(args)

	if *tokenID == "" {
		fatalf("--id is required")
	}

	store := openDB(*dbPath)
	defer store.Close()

	if err := store.RevokeToken(*tokenID); err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("revoked token %s\n", *tokenID)
}

func runSetPIN(args []string) {
	fs := flag.NewFlagSet("admin set-pin", flag.ExitOnError)
	storeID := fs.String("store", "", "store id")
	pin := fs.String("pin", "", "owner PIN")
	dbPath := fs.String("db", "", "path to till.db")
	fs.Parse(args)

	if *storeID == "" || *pin == "" {
		fatalf("--store and --pin are required")
	}

	store := openDB(*dbPath)
	defer store.Close()

	if err := store.SetOwnerPIN(*storeID, *pin); err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("set owner PIN for store %s\n", *storeID)
}

func runSetSettings(args []string) {
	fs := flag.NewFlagSet("admin set-settings", flag.ExitOnError)
	storeID := fs.String("store", "", "store id")
	pinVoid := fs.Bool("pin-void", true, "require PIN for voids")
	pinRefund := fs.Bool("pin-refund", true, "require PIN for refunds")
	pinStock := fs.Bool("pin-stock", true, "require PIN for stock mutations")
	negative := fs.Bool("allow-negative", false, "allow stock to go negative")
	prefix := fs.String("receipt-prefix", "", "receipt number prefix (empty = keep)")
	dbPath := fs.String("db", "", "path to till.db")
	fs.Parse(args)

	if *storeID == "" {
		fatalf("--store is required")
	}

	store := openDB(*dbPath)
	defer store.Close()

	settings, err := store.GetStore(*storeID)
	if err != nil {
		fatalf("%v", err)
	}
	if settings == nil {
		fatalf("store not found: %s", *storeID)
	}

	settings.RequirePinForVoid = *pinVoid
	settings.RequirePinForRefund = *pinRefund
	settings.RequirePinForStock = *pinStock
	settings.AllowNegativeStock = *negative
	if *prefix != "" {
		settings.ReceiptPrefix = *prefix
	}

	if err := store.UpdateStoreSettings(settings); err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("updated settings for store %s\n", *storeID)
}

func runAddProduct(args []string) {
	fs := flag.NewFlagSet("admin add-product", flag.ExitOnError)
	storeID := fs.String("store", "", "store id")
	name := fs.String("name", "", "product name")
	barcode := fs.String("barcode", "", "barcode")
	category := fs.String("category", "", "category id")
	price := fs.Int64("price", 0, "price in minor units")
	qty := fs.Int64("qty", 0, "initial stock quantity")
	dbPath := fs.String("db", "", "path to till.db")
	fs.Parse(args)

	if *storeID == "" || *name == "" {
		fatalf("--store and --name are required")
	}

	store := openDB(*dbPath)
	defer store.Close()

	p := &serverdb.Product{
		StoreID:       *storeID,
		CategoryID:    *category,
		Name:          *name,
		Barcode:       *barcode,
		Price:         *price,
		StockQuantity: *qty,
	}
	if err := store.CreateProduct(p); err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("created product %s\n", p.ID)
}

func runAddCategory(args []string) {
	fs := flag.NewFlagSet("admin add-category", flag.ExitOnError)
	storeID := fs.String("store", "", "store id")
	name := fs.String("name", "", "category name")
	dbPath := fs.String("db", "", "path to till.db")
	fs.Parse(args)

	if *storeID == "" || *name == "" {
		fatalf("--store and --name are required")
	}

	store := openDB(*dbPath)
	defer store.Close()

	c := &serverdb.Category{StoreID: *storeID, Name: *name}
	if err := store.CreateCategory(c); err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("created category %s\n", c.ID)
}

func runAddCustomer(args []string) {
	fs := flag.NewFlagSet("admin add-customer", flag.ExitOnError)
	storeID := fs.String("store", "", "store id")
	name := fs.String("name", "", "customer name")
	email := fs.String("email", "", "email")
	phone := fs.String("phone", "", "phone")
	dbPath := fs.String("db", "", "path to till.db")
	fs.Parse(args)

	if *storeID == "" || *name == "" {
		fatalf("--store and --name are required")
	}

	store := openDB(*dbPath)
	defer store.Close()

	c := &serverdb.Customer{StoreID: *storeID, Name: *name, Email: *email, Phone: *phone}
	if err := store.CreateCustomer(c); err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("created customer %s\n", c.ID)
}
