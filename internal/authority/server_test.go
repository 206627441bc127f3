package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/talgya/wooligotchi/internal/account"
	"github.com/talgya/wooligotchi/internal/persistence"
	"github.com/talgya/wooligotchi/internal/remote"
	"github.com/talgya/wooligotchi/internal/signing"
	"github.com/talgya/wooligotchi/internal/wool"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	srv    *httptest.Server
	client *remote.Client
	signer *signing.KeySigner
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := persistence.Open(filepath.Join(t.TempDir(), "authority.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)

	f := &fixture{signer: signing.NewKeySigner(key), now: t0}
	s := &Server{Store: db, AdminKey: "admin", Cap: 3, Now: func() time.Time { return f.now }}
	f.srv = httptest.NewServer(s.Handler())
	t.Cleanup(f.srv.Close)
	f.client = remote.NewClient(f.srv.URL, time.Second)
	return f
}

func (f *fixture) request(t *testing.T, day string) signing.CollectionRequest {
	t.Helper()
	req, err := signing.NewBuilder().Build(context.Background(), f.signer, f.signer.Address(), 1, day)
	require.NoError(t, err)
	return req
}

func TestCollectCountsAndCaps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		out, err := f.client.Collect(ctx, f.request(t, "20250301"))
		require.NoError(t, err)
		require.True(t, out.Accepted)
		require.False(t, out.Capped)
		require.Equal(t, i, out.DayCount)
	}

	out, err := f.client.Collect(ctx, f.request(t, "20250301"))
	require.NoError(t, err)
	require.True(t, out.Capped)
	require.Equal(t, 3, out.Total)

	view, err := f.client.Ledger(ctx, f.signer.Address())
	require.NoError(t, err)
	require.Equal(t, remote.LedgerView{Address: f.signer.Address(), Total: 3, Day: "20250301", DayCount: 3, Cap: 3}, view)
}

func TestReplayDoesNotDoubleCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.request(t, "20250301")

	first, err := f.client.Collect(ctx, req)
	require.NoError(t, err)
	again, err := f.client.Collect(ctx, req)
	require.NoError(t, err)
	require.True(t, again.Replayed)
	require.Equal(t, first.Total, again.Total)

	view, err := f.client.Ledger(ctx, f.signer.Address())
	require.NoError(t, err)
	require.Equal(t, 1, view.Total)
}

func TestBadSignatureRejected(t *testing.T) {
	f := newFixture(t)
	req := f.request(t, "20250301")
	other, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	req.Owner = signing.NewKeySigner(other).Address()
	req.Message = signing.CanonicalMessage(req.Owner, 1, "20250301", req.RequestID)

	out, err := f.client.Collect(context.Background(), req)
	require.Error(t, err)
	require.False(t, out.Accepted)
}

func TestStaleDayRejected(t *testing.T) {
	f := newFixture(t)
	out, err := f.client.Collect(context.Background(), f.request(t, "20250228"))
	require.NoError(t, err)
	require.False(t, out.Accepted)
	require.Contains(t, out.Error, "stale day")

	// Just after midnight yesterday's key is still honoured.
	f.now = time.Date(2025, 3, 2, 0, 2, 0, 0, time.UTC)
	out, err = f.client.Collect(context.Background(), f.request(t, "20250301"))
	require.NoError(t, err)
	require.True(t, out.Accepted)
}

func TestCollectorAgainstAuthority(t *testing.T) {
	f := newFixture(t)
	c := wool.NewCollector(nil, f.client, wool.WithClock(func() time.Time { return f.now }), wool.WithDebounce(0))
	key := account.NewKey(1, f.signer.Address())

	for i := 0; i < 3; i++ {
		_, err := c.Collect(context.Background(), key, f.signer, true)
		require.NoError(t, err)
	}
	v, err := c.Collect(context.Background(), key, f.signer, true)
	require.ErrorIs(t, err, wool.ErrDailyCap)
	require.Equal(t, 3, v.Total)
}

func TestGrantLivesRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	grant := remote.GrantRequest{Address: f.signer.Address(), ChainID: 1, TxID: "0xTX"}

	_, err := f.client.GrantLives(ctx, grant)
	require.Error(t, err)

	f.client.AdminKey = "admin"
	out, err := f.client.GrantLives(ctx, grant)
	require.NoError(t, err)
	require.True(t, out.Applied)
	out, err = f.client.GrantLives(ctx, remote.GrantRequest{Address: f.signer.Address(), ChainID: 1, TxID: "0xtx"})
	require.NoError(t, err)
	require.False(t, out.Applied)

	lives, err := f.client.Lives(ctx, account.NewKey(1, f.signer.Address()))
	require.NoError(t, err)
	require.Equal(t, 1, lives.Granted)
}

func TestMalformedBody(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Post(f.srv.URL+"/collect", "application/json", bytes.NewBufferString("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var out remote.CollectResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.False(t, out.Accepted)
}
