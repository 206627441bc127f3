package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/talgya/wooligotchi/internal/chain"
	"github.com/talgya/wooligotchi/internal/entropy"
	"github.com/talgya/wooligotchi/internal/events"
	"github.com/talgya/wooligotchi/internal/game"
	"github.com/talgya/wooligotchi/internal/gate"
	"github.com/talgya/wooligotchi/internal/lives"
	"github.com/talgya/wooligotchi/internal/metrics"
	"github.com/talgya/wooligotchi/internal/remote"
	"github.com/talgya/wooligotchi/internal/signing"
	"github.com/talgya/wooligotchi/internal/wool"
)

type board struct{ rows []remote.LeaderboardRow }

func (b board) Leaderboard(_ context.Context, limit int) ([]remote.LeaderboardRow, error) {
	if limit < len(b.rows) {
		return b.rows[:limit], nil
	}
	return b.rows, nil
}

type authority struct{}

func (authority) Collect(_ context.Context, req signing.CollectionRequest) (remote.CollectResponse, error) {
	if _, err := signing.Verify(req); err != nil {
		return remote.CollectResponse{Error: err.Error()}, nil
	}
	return remote.CollectResponse{Accepted: true, DayCount: 1, Total: 1}, nil
}

func (authority) Ledger(context.Context, string) (remote.LedgerView, error) {
	return remote.LedgerView{}, nil
}

func newTestServer(t *testing.T, testMode bool) (*Server, *httptest.Server) {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	signer := signing.NewKeySigner(key)

	bus := events.NewBus()
	m := metrics.New()
	reg := prometheus.NewRegistry()
	reg.MustRegister(m.Collectors()...)

	session := game.NewSession(game.Deps{
		NetworkID: 8453,
		Lives:     lives.NewLedger(nil, lives.WithNotifier(bus), lives.WithMetrics(m)),
		Wool: wool.NewCollector(nil, authority{},
			wool.WithTestMode(testMode),
			wool.WithDebounce(0),
			wool.WithNotifier(bus),
			wool.WithMetrics(m),
		),
		Bus:     bus,
		Metrics: m,
		Entropy: entropy.Never,
	})
	s := &Server{
		Session: session,
		Wallet: chain.FuncWallet{
			Owner:    signer.Address(),
			Network:  8453,
			SubmitFn: func(context.Context, *big.Int) (string, error) { return "0xabc", nil },
			ReceiptFn: func(context.Context, string) (bool, error) {
				return true, nil
			},
			SignFn: signer.SignMessage,
		},
		Board:    board{rows: []remote.LeaderboardRow{{Address: "0x1", Total: 9}, {Address: "0x2", Total: 3}}},
		Gatherer: reg,
		TestMode: testMode,
	}
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return s, srv
}

func post(t *testing.T, srv *httptest.Server, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, target any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(target))
}

func TestStatusBeforeConnect(t *testing.T) {
	_, srv := newTestServer(t, false)
	resp, err := http.Get(srv.URL + "/api/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Name     string        `json:"name"`
		Snapshot game.Snapshot `json:"snapshot"`
	}
	decodeBody(t, resp, &body)
	require.Equal(t, "Wooligotchi", body.Name)
	require.Equal(t, gate.PhaseNoWallet, body.Snapshot.Phase)
}

func TestActionGatedUntilTransfer(t *testing.T) {
	s, srv := newTestServer(t, false)

	resp := post(t, srv, "/api/v1/wallet", map[string]bool{"connected": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap game.Snapshot
	decodeBody(t, resp, &snap)
	require.Equal(t, gate.PhaseNoLives, snap.Phase)

	resp = post(t, srv, "/api/v1/action", map[string]string{"action": "feed"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = post(t, srv, "/api/v1/transfer/request", struct{}{})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = post(t, srv, "/api/v1/transfer", map[string]string{"token_id": "12"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var tx struct {
		TX string `json:"tx"`
	}
	decodeBody(t, resp, &tx)
	require.Equal(t, "0xabc", tx.TX)
	require.NoError(t, s.Session.Wait(context.Background()))

	resp = post(t, srv, "/api/v1/action", map[string]string{"action": "feed"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = post(t, srv, "/api/v1/action", map[string]string{"action": "dance"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTransferRejectsBadToken(t *testing.T) {
	_, srv := newTestServer(t, false)
	post(t, srv, "/api/v1/wallet", map[string]bool{"connected": true})

	resp := post(t, srv, "/api/v1/transfer", map[string]string{"token_id": "abc"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = post(t, srv, "/api/v1/transfer", map[string]string{"token_id": "-1"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCollectRequiresWallet(t *testing.T) {
	_, srv := newTestServer(t, true)
	resp := post(t, srv, "/api/v1/collect", struct{}{})
	require.Equal(t, http.StatusPreconditionRequired, resp.StatusCode)
}

func TestWoolForceOnlyInTestMode(t *testing.T) {
	_, srv := newTestServer(t, false)
	resp := post(t, srv, "/api/v1/debug/wool-force", map[string]bool{"on": true})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestForcedCollection(t *testing.T) {
	_, srv := newTestServer(t, true)
	post(t, srv, "/api/v1/wallet", map[string]bool{"connected": true})

	resp := post(t, srv, "/api/v1/collect", struct{}{})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = post(t, srv, "/api/v1/debug/wool-force", map[string]bool{"on": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var v wool.View
	decodeBody(t, resp, &v)
	require.True(t, v.Forced)

	resp = post(t, srv, "/api/v1/collect", struct{}{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		OK   bool      `json:"ok"`
		Wool wool.View `json:"wool"`
	}
	decodeBody(t, resp, &body)
	require.True(t, body.OK)
	require.Equal(t, 1, body.Wool.CollectedToday)
}

func TestLeaderboardLimit(t *testing.T) {
	_, srv := newTestServer(t, false)
	resp, err := http.Get(srv.URL + "/api/v1/leaderboard?limit=1")
	require.NoError(t, err)
	defer resp.Body.Close()

	var lb remote.Leaderboard
	decodeBody(t, resp, &lb)
	require.True(t, lb.OK)
	require.Len(t, lb.Rows, 1)
	require.Equal(t, "0x1", lb.Rows[0].Address)
}

func TestMetricsEndpoint(t *testing.T) {
	s, srv := newTestServer(t, false)
	s.Session.Tick(time.Now())
	_, _ = s.Session.ApplyAction("feed")

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	require.Contains(t, buf.String(), `wooligotchi_actions_total{action="feed",result="rejected"} 1`)
}

func TestStreamDeliversBusEvents(t *testing.T) {
	s, srv := newTestServer(t, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "event: snapshot\n", line)

	go s.Session.Bus().Notify(events.Event{Kind: events.KindFed})

	for {
		line, err = reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "event: ") && line != "event: snapshot\n" {
			break
		}
	}
	require.Equal(t, "event: fed\n", line)
}

func TestStreamRequiresRelayKey(t *testing.T) {
	s, _ := newTestServer(t, false)
	s.RelayKey = "relay"
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	_, srv := newTestServer(t, false)
	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/v1/action", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestBearerOnly(t *testing.T) {
	h := BearerOnly("secret", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	h(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	BearerOnly("", h)(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}
