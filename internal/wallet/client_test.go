package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(Options{
		APIBase: srv.URL,
		Timeout: time.Second,
	}, "https://mint.example.com", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client, srv
}

func TestClientRequiresAPIBase(t *testing.T) {
	if _, err := NewClient(Options{}, "https://mint.example.com", zerolog.Nop()); err == nil {
		t.Fatal("expected error for missing api base")
	}
}

func TestLoadProofsCachesState(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/load_proofs" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req["mint"] != "https://mint.example.com" {
			t.Fatalf("mint not forwarded: %#v", req)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"proofs": []Proof{
				{ID: "k1", Amount: 8, Secret: "a"},
				{ID: "k1", Amount: 32, Secret: "b", Reserved: true},
			},
			"balance": 40,
		})
	}))

	if err := client.LoadProofs(context.Background(), true); err != nil {
		t.Fatalf("LoadProofs: %v", err)
	}
	if client.AvailableBalance() != 40 {
		t.Fatalf("expected balance 40, got %d", client.AvailableBalance())
	}
	proofs := client.Proofs()
	if len(proofs) != 2 || SumProofs(proofs) != 40 {
		t.Fatalf("unexpected proofs: %#v", proofs)
	}
}

func TestMeltQuoteSuccess(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(MeltQuote{Quote: "q1", Amount: 21, FeeReserve: 2})
	}))

	quote, err := client.MeltQuote(context.Background(), "lnbc210n1...")
	if err != nil {
		t.Fatalf("MeltQuote: %v", err)
	}
	if quote.Quote != "q1" || quote.Amount != 21 || quote.FeeReserve != 2 {
		t.Fatalf("unexpected quote: %#v", quote)
	}
}

func TestDaemonErrorIsClassified(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"detail": "Mint Error: Token already spent."})
	}))

	err := client.Melt(context.Background(), nil, "lnbc...", 2, "q1")
	if err == nil {
		t.Fatal("expected melt error")
	}
	if CodeOf(err) != FaultProofSpent {
		t.Fatalf("expected PROOF_SPENT, got %s (%v)", CodeOf(err), err)
	}

	var fault *Fault
	if !errors.As(err, &fault) {
		t.Fatalf("expected *Fault in chain: %v", err)
	}
}

func TestDaemonErrorWithoutBody(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	err := client.LoadMint(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if CodeOf(err) != FaultUnknown {
		t.Fatalf("expected UNKNOWN, got %s", CodeOf(err))
	}
}

func TestReceiveUpdatesBalance(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]int64{"received": 25, "balance": 65})
	}))

	received, err := client.Receive(context.Background(), "cashuB...")
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if received != 25 {
		t.Fatalf("expected received 25, got %d", received)
	}
	if client.AvailableBalance() != 65 {
		t.Fatalf("expected cached balance 65, got %d", client.AvailableBalance())
	}
}
