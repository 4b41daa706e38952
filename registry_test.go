package sqlgate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

// fakeClient is a scriptable Client for registry and pipeline tests.
type fakeClient struct {
	identity Identity

	mu               sync.Mutex
	connectCalls     int
	disconnects      int
	queries          []string
	connectErr       error
	queryErr         error
	queryResult      *QueryResult
	blockUntilCancel bool
}

func (f *fakeClient) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	return f.connectErr
}

func (f *fakeClient) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return nil
}

func (f *fakeClient) RunQuery(ctx context.Context, sql string, args ...any) (*QueryResult, error) {
	f.mu.Lock()
	f.queries = append(f.queries, sql)
	block := f.blockUntilCancel
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if f.queryResult != nil {
		return f.queryResult, nil
	}
	return &QueryResult{Columns: []string{}, Rows: []map[string]interface{}{}}, nil
}

func (f *fakeClient) ListTables(ctx context.Context) ([]string, error) {
	return []string{"users", "orders"}, nil
}

func (f *fakeClient) DescribeTable(ctx context.Context, table string) (*TableSchema, error) {
	return &TableSchema{Name: table}, nil
}

func (f *fakeClient) ExplainQuery(ctx context.Context, sql string) (string, error) {
	return "Seq Scan", nil
}

func (f *fakeClient) ProviderName() string { return string(f.identity) }

func (f *fakeClient) queryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

// fakeFactory records every constructed client. prime, when set, configures
// each new client before it is handed out.
type fakeFactory struct {
	mu    sync.Mutex
	built []*fakeClient
	prime func(*fakeClient)
}

func (ff *fakeFactory) newClient(id Identity, conn string, logger zerolog.Logger) (Client, error) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	c := &fakeClient{identity: id}
	if ff.prime != nil {
		ff.prime(c)
	}
	ff.built = append(ff.built, c)
	return c, nil
}

func (ff *fakeFactory) count() int {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return len(ff.built)
}

func newTestRegistry(t *testing.T, config RegistryConfig) (*Registry, *fakeFactory) {
	t.Helper()
	reg, err := NewRegistry(config, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	ff := &fakeFactory{}
	reg.newClient = ff.newClient
	return reg, ff
}

func twoProviderConfig() RegistryConfig {
	return RegistryConfig{
		ConnStrings: map[Identity]string{
			ProviderPostgres: "postgres://app:pw@localhost:5432/app",
			ProviderMySQL:    "app:pw@tcp(localhost:3306)/app",
		},
		Provider: ProviderPostgres,
	}
}

func TestNewRegistry_UnsupportedIdentityRejected(t *testing.T) {
	t.Parallel()
	_, err := NewRegistry(RegistryConfig{
		ConnStrings: map[Identity]string{"oracle": "x"},
	}, zerolog.Nop())
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestResolve_CachesSameIdentity(t *testing.T) {
	t.Parallel()
	reg, ff := newTestRegistry(t, twoProviderConfig())

	first, err := reg.Resolve(ProviderPostgres)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	second, err := reg.Resolve(ProviderPostgres)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if first != second {
		t.Fatal("expected the cached instance on the second resolve")
	}
	if ff.count() != 1 {
		t.Fatalf("expected exactly one construction, got %d", ff.count())
	}
}

// Switching identities replaces the cached client with a fresh instance and
// leaves the superseded one connected.
func TestResolve_IdentitySwitchReplacesCache(t *testing.T) {
	t.Parallel()
	reg, ff := newTestRegistry(t, twoProviderConfig())

	pg, _ := reg.Resolve(ProviderPostgres)
	my, err := reg.Resolve(ProviderMySQL)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if pg == my {
		t.Fatal("expected a distinct instance after identity switch")
	}
	if pg.ProviderName() == my.ProviderName() {
		t.Fatal("expected distinct provider names after identity switch")
	}
	if ff.count() != 2 {
		t.Fatalf("expected two constructions, got %d", ff.count())
	}
	if ff.built[0].disconnects != 0 {
		t.Fatal("superseded client must not be disconnected")
	}

	again, _ := reg.Resolve(ProviderMySQL)
	if again != my {
		t.Fatal("new identity must be cached after the switch")
	}
}

func TestResolve_MissingConnStringNamesSetting(t *testing.T) {
	t.Parallel()
	reg, _ := newTestRegistry(t, twoProviderConfig())
	_, err := reg.Resolve(ProviderNeon)
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if !strings.Contains(err.Error(), "connection_strings.neon") {
		t.Fatalf("error must name the missing setting, got %q", err.Error())
	}
}

func TestResolveSystem_UsesConfiguredProvider(t *testing.T) {
	t.Parallel()
	reg, _ := newTestRegistry(t, twoProviderConfig())
	client, err := reg.ResolveSystem()
	if err != nil {
		t.Fatalf("ResolveSystem failed: %v", err)
	}
	if client.ProviderName() != string(ProviderPostgres) {
		t.Fatalf("expected postgres system client, got %q", client.ProviderName())
	}
}

func TestResolveSystem_NoProviderConfigured(t *testing.T) {
	t.Parallel()
	reg, _ := newTestRegistry(t, RegistryConfig{
		ConnStrings: map[Identity]string{ProviderPostgres: "postgres://x@localhost/app"},
	})
	_, err := reg.ResolveSystem()
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestSetSystemProvider_SwitchesSubsequentResolves(t *testing.T) {
	t.Parallel()
	reg, _ := newTestRegistry(t, twoProviderConfig())
	if err := reg.SetSystemProvider(ProviderMySQL); err != nil {
		t.Fatalf("SetSystemProvider failed: %v", err)
	}
	client, err := reg.ResolveSystem()
	if err != nil {
		t.Fatalf("ResolveSystem failed: %v", err)
	}
	if client.ProviderName() != string(ProviderMySQL) {
		t.Fatalf("expected mysql system client, got %q", client.ProviderName())
	}
}

func TestSetSystemProvider_RejectsUnsupported(t *testing.T) {
	t.Parallel()
	reg, _ := newTestRegistry(t, twoProviderConfig())
	if err := reg.SetSystemProvider("oracle"); err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

func TestBuild_NeverCached(t *testing.T) {
	t.Parallel()
	reg, ff := newTestRegistry(t, twoProviderConfig())
	desc := ConnectionDescriptor{Provider: ProviderPostgres, ConnString: "postgres://other@localhost/other"}

	a, err := reg.Build(desc)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	b, err := reg.Build(desc)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if a == b {
		t.Fatal("Build must return a fresh instance every call")
	}
	if ff.count() != 2 {
		t.Fatalf("expected two constructions, got %d", ff.count())
	}
}

func TestDisconnectCached_DrainsAndClears(t *testing.T) {
	t.Parallel()
	reg, ff := newTestRegistry(t, twoProviderConfig())
	reg.Resolve(ProviderPostgres)

	if err := reg.DisconnectCached(context.Background()); err != nil {
		t.Fatalf("DisconnectCached failed: %v", err)
	}
	if ff.built[0].disconnects != 1 {
		t.Fatal("cached client must be disconnected")
	}

	// The next resolve builds a fresh instance.
	reg.Resolve(ProviderPostgres)
	if ff.count() != 2 {
		t.Fatalf("expected a fresh construction after disconnect, got %d", ff.count())
	}
}

func TestResolve_ConcurrentSameIdentitySingleInstance(t *testing.T) {
	t.Parallel()
	reg, ff := newTestRegistry(t, twoProviderConfig())

	var wg sync.WaitGroup
	clients := make([]Client, 16)
	for i := range clients {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := reg.Resolve(ProviderPostgres)
			if err != nil {
				t.Errorf("Resolve failed: %v", err)
				return
			}
			clients[i] = c
		}(i)
	}
	wg.Wait()

	if ff.count() != 1 {
		t.Fatalf("expected one construction under concurrency, got %d", ff.count())
	}
	for _, c := range clients {
		if c != clients[0] {
			t.Fatal("all goroutines must see the same cached instance")
		}
	}
}
