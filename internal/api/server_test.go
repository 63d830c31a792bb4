package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"mint-auditor/internal/storage"
	"mint-auditor/internal/wallet"
)

type stubStore struct {
	mints  []storage.Mint
	events []storage.SwapEvent
	edges  []storage.SwapEdge
	stats  storage.SwapStats
}

func (s *stubStore) GetMint(_ context.Context, id int64) (storage.Mint, error) {
	for _, m := range s.mints {
		if m.ID == id {
			return m, nil
		}
	}
	return storage.Mint{}, storage.ErrMintNotFound
}

func (s *stubStore) GetMintByURL(_ context.Context, url string) (storage.Mint, error) {
	for _, m := range s.mints {
		if m.URL == url {
			return m, nil
		}
	}
	return storage.Mint{}, storage.ErrMintNotFound
}

func (s *stubStore) ListMints(context.Context) ([]storage.Mint, error) {
	return s.mints, nil
}

func (s *stubStore) InsertMint(_ context.Context, mint storage.Mint) (storage.Mint, error) {
	mint.ID = int64(len(s.mints) + 1)
	s.mints = append(s.mints, mint)
	return mint, nil
}

func (s *stubStore) UpdateMint(_ context.Context, mint storage.Mint) error {
	for i, m := range s.mints {
		if m.ID == mint.ID {
			s.mints[i] = mint
			return nil
		}
	}
	return storage.ErrMintNotFound
}

func (s *stubStore) UpdateMintBalance(_ context.Context, id, balance int64) error {
	for i, m := range s.mints {
		if m.ID == id {
			s.mints[i].Balance = balance
			return nil
		}
	}
	return storage.ErrMintNotFound
}

func (s *stubStore) ListSwapEvents(_ context.Context, offset, limit int) ([]storage.SwapEvent, error) {
	if offset >= len(s.events) {
		return nil, nil
	}
	end := min(offset+limit, len(s.events))
	return s.events[offset:end], nil
}

func (s *stubStore) SwapEdges(context.Context) ([]storage.SwapEdge, error) {
	return s.edges, nil
}

func (s *stubStore) SwapStats(context.Context) (storage.SwapStats, error) {
	return s.stats, nil
}

// stubWallet embeds the interface so only the methods the API touches need
// stubbing.
type stubWallet struct {
	wallet.Provider
	balance    int64
	received   int64
	receiveErr error
}

func (w *stubWallet) Receive(context.Context, string) (int64, error) {
	return w.received, w.receiveErr
}

func (w *stubWallet) LoadProofs(context.Context, bool) error { return nil }

func (w *stubWallet) AvailableBalance() int64 { return w.balance }

type stubDialer struct {
	w wallet.Provider
}

func (d *stubDialer) Wallet(context.Context, string) (wallet.Provider, error) {
	return d.w, nil
}

func newTestServer(store *stubStore, w wallet.Provider) *Server {
	return NewServer(Options{
		Store:     store,
		Wallets:   &stubDialer{w: w},
		PageLimit: 2,
	}, zerolog.Nop())
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
		}
	}
	return rec, decoded
}

func TestListMints(t *testing.T) {
	store := &stubStore{mints: []storage.Mint{
		{ID: 1, URL: "https://a", Balance: 500, SumDonations: 1000, State: storage.MintStateOK},
	}}
	srv := newTestServer(store, &stubWallet{})

	rec, body := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/mints", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	mints := body["mints"].([]any)
	if len(mints) != 1 {
		t.Fatalf("got %d mints", len(mints))
	}
	first := mints[0].(map[string]any)
	if first["deficit"].(float64) != 500 {
		t.Errorf("deficit = %v", first["deficit"])
	}
}

func TestGetMintNotFound(t *testing.T) {
	srv := newTestServer(&stubStore{}, &stubWallet{})

	rec, _ := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/mints/42", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestDonateNewMint(t *testing.T) {
	store := &stubStore{}
	srv := newTestServer(store, &stubWallet{balance: 250, received: 250})

	rec, body := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/mints",
		`{"url":"https://mint.example.com","token":"cashuAeyJ0b2tlbiI6W119"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %v", rec.Code, body)
	}
	if body["sum_donations"].(float64) != 250 {
		t.Errorf("sum_donations = %v", body["sum_donations"])
	}
	if body["state"].(string) != string(storage.MintStateUnknown) {
		t.Errorf("state = %v", body["state"])
	}
	if len(store.mints) != 1 {
		t.Fatalf("mint row not created")
	}
}

func TestDonateExistingMintAccumulates(t *testing.T) {
	store := &stubStore{mints: []storage.Mint{
		{ID: 1, URL: "https://mint.example.com", Balance: 100, SumDonations: 400, State: storage.MintStateOK},
	}}
	srv := newTestServer(store, &stubWallet{balance: 350, received: 250})

	rec, body := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/mints",
		`{"url":"https://mint.example.com","token":"cashuA"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %v", rec.Code, body)
	}
	if body["sum_donations"].(float64) != 650 {
		t.Errorf("sum_donations = %v", body["sum_donations"])
	}
	if store.mints[0].Balance != 350 {
		t.Errorf("balance = %d", store.mints[0].Balance)
	}
}

func TestDonateRejectsBadURL(t *testing.T) {
	srv := newTestServer(&stubStore{}, &stubWallet{})

	rec, _ := doJSON(t, srv.Handler(), http.MethodPost, "/api/v1/mints", `{"url":"not a url"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestListSwapsClampsLimit(t *testing.T) {
	store := &stubStore{events: []storage.SwapEvent{
		{ID: 1}, {ID: 2}, {ID: 3}, {ID: 4},
	}}
	srv := newTestServer(store, &stubWallet{})

	rec, body := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/swaps?limit=50", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	swaps := body["swaps"].([]any)
	if len(swaps) != 2 {
		t.Fatalf("limit not clamped, got %d events", len(swaps))
	}
}

func TestGraph(t *testing.T) {
	store := &stubStore{
		mints: []storage.Mint{{ID: 1, URL: "https://a"}, {ID: 2, URL: "https://b"}},
		edges: []storage.SwapEdge{{FromID: 1, ToID: 2, Count: 3, TotalAmount: 120}},
	}
	srv := newTestServer(store, &stubWallet{})

	rec, body := doJSON(t, srv.Handler(), http.MethodGet, "/api/v1/graph", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(body["nodes"].([]any)) != 2 {
		t.Errorf("nodes = %v", body["nodes"])
	}
	edges := body["edges"].([]any)
	if len(edges) != 1 {
		t.Fatalf("edges = %v", body["edges"])
	}
	if edges[0].(map[string]any)["total_amount"].(float64) != 120 {
		t.Errorf("edge total_amount = %v", edges[0])
	}
}
