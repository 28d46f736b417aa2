// test_helpers.go - end-to-end suite backed by a temporary SQLite database
package testing

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"cafepos/internal/api"
	"cafepos/internal/data"
	"cafepos/internal/history"
	"cafepos/internal/identity"
	"cafepos/internal/inventory"
	"cafepos/internal/middleware"
	"cafepos/internal/notify"
	"cafepos/internal/reconcile"
	"cafepos/internal/settlement"
)

// TestConfig holds configuration for test runs
type TestConfig struct {
	DBPath      string
	SeedPath    string
	TestDataDir string
	JWTSecret   string
	RequireAuth bool
	Location    *time.Location
}

// TestSuite wires the real service graph the way main.go does, against a
// throwaway database.
type TestSuite struct {
	Config      TestConfig
	Server      *httptest.Server
	Client      *http.Client
	DB          *sql.DB
	Catalog     *data.CatalogRepository
	Stock       *data.InventoryRepository
	Ingredients *data.IngredientRepository
	Orders      *data.OrderRepository
	Pending     *data.PendingAdjustmentRepository
	Expenses    *data.ExpenseRepository
	Inventory   *inventory.Service
	Workflow    *settlement.Workflow
	Reconciler  *reconcile.Service
	History     *history.Service
	Hub         *notify.Hub
	Verifier    *identity.Verifier
	mu          sync.Mutex
	testCount   int
}

// Option adjusts the suite configuration before it is built.
type Option func(*TestConfig)

// WithAuth turns on operator tokens; required makes them mandatory.
func WithAuth(required bool) Option {
	return func(c *TestConfig) {
		c.JWTSecret = "suite-secret"
		c.RequireAuth = required
	}
}

// NewTestSuite creates a new test suite with proper database setup.
// Suites share the package-level database handle, so tests using them must
// not run in parallel.
func NewTestSuite(t *testing.T, opts ...Option) *TestSuite {
	t.Helper()

	testDir := t.TempDir()
	config := TestConfig{
		DBPath:      filepath.Join(testDir, fmt.Sprintf("test_%d.db", time.Now().UnixNano())),
		SeedPath:    filepath.Join(testDir, "catalog.seed.json"),
		TestDataDir: testDir,
		Location:    time.UTC,
	}
	for _, opt := range opts {
		opt(&config)
	}

	if err := createTestCatalog(config.SeedPath); err != nil {
		t.Fatalf("Failed to create test catalog: %v", err)
	}

	suite := &TestSuite{
		Config: config,
		Client: &http.Client{Timeout: 30 * time.Second},
	}

	if err := suite.InitDatabase(); err != nil {
		t.Fatalf("Failed to initialize test database: %v", err)
	}
	t.Cleanup(suite.Cleanup)

	if err := suite.wire(); err != nil {
		t.Fatalf("Failed to wire services: %v", err)
	}
	return suite
}

// InitDatabase opens the database through the data package and creates the schema.
func (ts *TestSuite) InitDatabase() error {
	if err := data.InitDB(ts.Config.DBPath); err != nil {
		return fmt.Errorf("failed to init data package: %w", err)
	}
	if err := data.CreateTables(); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	db, err := data.GetDB()
	if err != nil {
		return fmt.Errorf("failed to get database connection: %w", err)
	}
	ts.DB = db
	return nil
}

func (ts *TestSuite) wire() error {
	ts.Catalog = data.NewCatalogRepository(ts.DB)
	ts.Stock = data.NewInventoryRepository(ts.DB)
	ts.Ingredients = data.NewIngredientRepository(ts.DB)
	ts.Orders = data.NewOrderRepository(ts.DB)
	ts.Pending = data.NewPendingAdjustmentRepository(ts.DB)
	ts.Expenses = data.NewExpenseRepository(ts.DB)
	ts.Hub = notify.NewHub()

	ts.Inventory = inventory.NewService(ts.Catalog, ts.Stock, inventory.Options{
		Publisher:   ts.Hub,
		Ingredients: ts.Ingredients,
	})
	if _, err := ts.Inventory.LoadSeed(context.Background(), ts.Config.SeedPath); err != nil {
		return err
	}

	auth := middleware.NewAuthenticator(nil, false)
	if ts.Config.JWTSecret != "" {
		v, err := identity.NewVerifier(ts.Config.JWTSecret, "cafepos-test")
		if err != nil {
			return err
		}
		ts.Verifier = v
		auth = middleware.NewAuthenticator(v, ts.Config.RequireAuth)
	}

	wf, err := settlement.New(settlement.Deps{
		Inventory: ts.Stock,
		Orders:    ts.Orders,
		Identity:  identity.ContextProvider{},
		Pending:   ts.Pending,
	}, settlement.Options{
		RequireOperator: ts.Config.RequireAuth,
		Location:        ts.Config.Location,
	})
	if err != nil {
		return err
	}
	ts.Workflow = wf
	ts.Reconciler = reconcile.NewService(ts.Pending, ts.Stock).WithRetry(1, time.Millisecond)
	ts.History = history.NewService(ts.Orders, ts.Expenses, ts.Config.Location)

	handler := api.NewHandler(api.Deps{
		Inventory:  ts.Inventory,
		Settlement: ts.Workflow,
		Orders:     ts.Orders,
		Movements:  ts.Stock,
		History:    ts.History,
		Pending:    ts.Pending,
		Reconciler: ts.Reconciler,
		Broker:     ts.Hub,
		Location:   ts.Config.Location,
	})

	mux := http.NewServeMux()
	handler.Register(mux, auth, middleware.NewRateLimiter(1000, 1000))
	ts.Server = httptest.NewServer(middleware.CORS("*")(mux))
	return nil
}

// Cleanup stops the server and closes the database. The temp dir is removed by the testing package.
func (ts *TestSuite) Cleanup() {
	if ts.Server != nil {
		ts.Server.Close()
	}
	if err := data.CloseDB(); err != nil {
		fmt.Printf("Warning: failed to close data package database: %v\n", err)
	}
}

// NextKey returns a fresh idempotency key.
func (ts *TestSuite) NextKey(prefix string) string {
	ts.mu.Lock()
	ts.testCount++
	count := ts.testCount
	ts.mu.Unlock()

	return fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixNano(), count)
}

// IssueToken signs an operator token; the suite must be built WithAuth.
func (ts *TestSuite) IssueToken(t *testing.T, id string, roles ...string) string {
	t.Helper()
	if ts.Verifier == nil {
		t.Fatal("suite was built without auth")
	}
	token, err := ts.Verifier.Issue(identity.Operator{ID: id, Name: id, Roles: roles}, time.Hour)
	ts.AssertNoError(t, err)
	return token
}

// Envelope is the API response shape for both success and error bodies.
type Envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Warning   string          `json:"warning"`
	Code      string          `json:"code"`
	Message   string          `json:"message"`
	Details   json.RawMessage `json:"details"`
	RequestID string          `json:"request_id"`
}

// MakeAPIRequest makes an API request with optional bearer token and extra headers.
func (ts *TestSuite) MakeAPIRequest(method, path string, body interface{}, token string, headers ...string) (*http.Response, error) {
	reqBody := bytes.NewBuffer(nil)
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(bodyBytes)
	}

	req, err := http.NewRequest(method, ts.Server.URL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	return ts.Client.Do(req)
}

// Call makes a request and decodes the envelope.
func (ts *TestSuite) Call(t *testing.T, method, path string, body interface{}, token string, headers ...string) (int, Envelope) {
	t.Helper()
	resp, err := ts.MakeAPIRequest(method, path, body, token, headers...)
	ts.AssertNoError(t, err)

	var env Envelope
	if resp.StatusCode == http.StatusNoContent {
		resp.Body.Close()
		return resp.StatusCode, env
	}
	ts.AssertNoError(t, ts.ParseJSONResponse(resp, &env))
	return resp.StatusCode, env
}

// ParseJSONResponse parses a JSON response into the provided interface
func (ts *TestSuite) ParseJSONResponse(resp *http.Response, dest interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(dest)
}

// StockOf reads current stock straight from the database.
func (ts *TestSuite) StockOf(t *testing.T, itemID string) int {
	t.Helper()
	qty, err := ts.Stock.GetStockQuantity(context.Background(), itemID)
	ts.AssertNoError(t, err)
	return qty
}

// CountRows counts rows in table.
func (ts *TestSuite) CountRows(t *testing.T, table string) int {
	t.Helper()
	var n int
	ts.AssertNoError(t, ts.DB.QueryRow(`SELECT COUNT(*) FROM `+table).Scan(&n))
	return n
}

// AssertStatusCode checks the status and echoes the error envelope on mismatch.
func (ts *TestSuite) AssertStatusCode(t *testing.T, got int, env Envelope, expected int) {
	t.Helper()
	if got != expected {
		t.Fatalf("Expected status code %d, got %d (%s: %s)", expected, got, env.Code, env.Message)
	}
}

// AssertNoError fails the test if error is not nil
func (ts *TestSuite) AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
}

// createTestCatalog writes the seed catalog used by every suite.
func createTestCatalog(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(testCatalog())
}
