package service

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"connectrpc.com/connect"

	"github.com/davidrmellors/receipt-splitter/internal/auth"
	"github.com/davidrmellors/receipt-splitter/internal/events"
	"github.com/davidrmellors/receipt-splitter/internal/middleware"
	"github.com/davidrmellors/receipt-splitter/internal/receiptparser"
	"github.com/davidrmellors/receipt-splitter/internal/storage"
	"github.com/davidrmellors/receipt-splitter/internal/storage/cache"
	"github.com/davidrmellors/receipt-splitter/internal/storage/sqlite"
	"github.com/davidrmellors/receipt-splitter/pkg/api"
	"github.com/davidrmellors/receipt-splitter/pkg/api/apiconnect"
)

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type countingObserver struct {
	mu        sync.Mutex
	anomalies map[string]int
	parses    map[string]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{anomalies: map[string]int{}, parses: map[string]int{}}
}

func (o *countingObserver) ObserveAnomaly(kind string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.anomalies[kind]++
}

func (o *countingObserver) count(m map[string]int, key string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return m[key]
}

func (o *countingObserver) ObserveParse(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.parses[outcome]++
}

type testEnv struct {
	auth     apiconnect.AuthServiceClient
	groups   apiconnect.GroupServiceClient
	receipts apiconnect.ReceiptServiceClient
	events   *recordingPublisher
	observer *countingObserver
}

// setupTestServer serves all three services over httptest with a fresh
// database behind the receipt cache. wrap, when non-nil, decorates the store handed to GroupService.
func setupTestServer(t *testing.T, opts ReceiptOptions, wrap func(storage.Store) storage.Store) *testEnv {
	t.Helper()

	store, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	publisher := &recordingPublisher{}
	observer := newCountingObserver()
	opts.Publisher = publisher
	opts.Observer = observer

	cached := cache.NewCachedStore(store, 16, time.Minute)
	var groupStore storage.Store = cached
	if wrap != nil {
		groupStore = wrap(store)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	jwtManager := auth.NewJWTManager("test-secret", "receipt-splitter", time.Hour)
	interceptors := connect.WithInterceptors(
		middleware.RequireAuth(jwtManager,
			apiconnect.AuthServiceRegisterProcedure,
			apiconnect.AuthServiceLoginProcedure,
		),
	)

	mux := http.NewServeMux()
	mux.Handle(apiconnect.NewAuthServiceHandler(
		NewAuthService(auth.NewPasswordAuthenticator(store), jwtManager, logger), interceptors))
	mux.Handle(apiconnect.NewGroupServiceHandler(
		NewGroupService(groupStore, publisher, observer), interceptors))
	mux.Handle(apiconnect.NewReceiptServiceHandler(
		NewReceiptService(cached, opts), interceptors))

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &testEnv{
		auth:     apiconnect.NewAuthServiceClient(http.DefaultClient, server.URL),
		groups:   apiconnect.NewGroupServiceClient(http.DefaultClient, server.URL),
		receipts: apiconnect.NewReceiptServiceClient(http.DefaultClient, server.URL),
		events:   publisher,
		observer: observer,
	}
}

// register creates an account and returns its bearer token.
func (e *testEnv) register(t *testing.T, name, email string) string {
	t.Helper()
	resp, err := e.auth.Register(context.Background(), connect.NewRequest(&api.RegisterRequest{
		Email:       email,
		DisplayName: name,
		Password:    "password123",
	}))
	if err != nil {
		t.Fatalf("Register(%s) failed: %v", email, err)
	}
	return resp.Msg.Token
}

// as builds a request carrying token.
func as[T any](token string, msg *T) *connect.Request[T] {
	req := connect.NewRequest(msg)
	req.Header().Set("Authorization", "Bearer "+token)
	return req
}

func assertCode(t *testing.T, err error, want connect.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v error, got nil", want)
	}
	if got := connect.CodeOf(err); got != want {
		t.Fatalf("expected %v, got %v (%v)", want, got, err)
	}
}

// fixture is a group with a registered payer (alice), a registered member
// (bob) and a placeholder member (carol).
type fixture struct {
	aliceToken, bobToken string
	groupID              string
	alice, bob, carol    string // member IDs
}

func newFixture(t *testing.T, env *testEnv) fixture {
	t.Helper()
	ctx := context.Background()
	f := fixture{
		aliceToken: env.register(t, "Alice", "alice@example.com"),
		bobToken:   env.register(t, "Bob", "bob@example.com"),
	}

	created, err := env.groups.CreateGroup(ctx, as(f.aliceToken, &api.CreateGroupRequest{Name: "Roommates"}))
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	f.groupID = created.Msg.Group.Id
	f.alice = created.Msg.Group.Members[0].Id

	bob, err := env.groups.AddMember(ctx, as(f.aliceToken, &api.AddMemberRequest{
		GroupId: f.groupID,
		Email:   "bob@example.com",
	}))
	if err != nil {
		t.Fatalf("AddMember(bob) failed: %v", err)
	}
	f.bob = bob.Msg.Member.Id

	carol, err := env.groups.AddMember(ctx, as(f.aliceToken, &api.AddMemberRequest{
		GroupId:     f.groupID,
		DisplayName: "Carol",
	}))
	if err != nil {
		t.Fatalf("AddMember(carol) failed: %v", err)
	}
	f.carol = carol.Msg.Member.Id
	return f
}

// stubParser returns a fixed scan result.
type stubParser struct {
	result *receiptparser.ParsedReceipt
	err    error
}

func (p stubParser) Parse(context.Context, receiptparser.Image) (*receiptparser.ParsedReceipt, error) {
	return p.result, p.err
}

type stubImages struct {
	mu     sync.Mutex
	stored []string
}

func (s *stubImages) Put(_ context.Context, groupID string, img receiptparser.Image) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	url := "gs://receipts/" + groupID + "/photo.jpg"
	s.stored = append(s.stored, img.MIMEType)
	return url, nil
}

var jpegImage = base64.StdEncoding.EncodeToString([]byte("\xff\xd8\xff\xe0 not really a photo"))
