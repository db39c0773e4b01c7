package app

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/json"
	"strconv"
	"sync/atomic"
	"testing"

	abci "github.com/cometbft/cometbft/abci/types"
	"github.com/rs/zerolog"

	"plinkochain/internal/codec"
)

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func txBytes(t *testing.T, typ string, value any) []byte {
	t.Helper()
	return mustMarshal(t, map[string]any{
		"type":  typ,
		"value": value,
	})
}

// testNonceSeq hands out globally increasing nonces so every signed test tx is
// fresh no matter how many apps a test spins up.
var testNonceSeq uint64

func testEd25519Key(id string) (ed25519.PublicKey, ed25519.PrivateKey) {
	seed := sha256.Sum256([]byte("plinkochain/test/" + id))
	priv := ed25519.NewKeyFromSeed(seed[:])
	return priv.Public().(ed25519.PublicKey), priv
}

func txBytesSigned(t *testing.T, typ string, value any, signer string) []byte {
	t.Helper()
	valueBytes := mustMarshal(t, value)
	nonce := strconv.FormatUint(atomic.AddUint64(&testNonceSeq, 1), 10)
	_, priv := testEd25519Key(signer)
	sig := ed25519.Sign(priv, txAuthSignBytesV1(typ, valueBytes, nonce, signer))
	return mustMarshal(t, codec.TxEnvelope{
		Type:   typ,
		Value:  valueBytes,
		Nonce:  nonce,
		Signer: signer,
		Sig:    sig,
	})
}

func findEvent(events []abci.Event, typ string) *abci.Event {
	for i := range events {
		if events[i].Type == typ {
			return &events[i]
		}
	}
	return nil
}

func attr(ev *abci.Event, key string) string {
	if ev == nil {
		return ""
	}
	for _, a := range ev.Attributes {
		if a.Key == key {
			return a.Value
		}
	}
	return ""
}

func parseU64(t *testing.T, s string) uint64 {
	t.Helper()
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		t.Fatalf("parse uint64 %q: %v", s, err)
	}
	return n
}

func newTestApp(t *testing.T) *PlinkoApp {
	t.Helper()
	a, err := New(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func mustOk(t *testing.T, res *abci.ExecTxResult) *abci.ExecTxResult {
	t.Helper()
	if res.Code != 0 {
		t.Fatalf("expected ok, got code=%d log=%q", res.Code, res.Log)
	}
	return res
}

func mintTestTokens(t *testing.T, a *PlinkoApp, height int64, to string, amount uint64) {
	t.Helper()
	mustOk(t, a.deliverTx(txBytes(t, "bank/mint", map[string]any{"to": to, "amount": amount}), height))
}

func registerTestAccount(t *testing.T, a *PlinkoApp, height int64, id string) {
	t.Helper()
	pub, _ := testEd25519Key(id)
	mustOk(t, a.deliverTx(txBytesSigned(t, "auth/register_account", map[string]any{
		"account": id,
		"pubKey":  []byte(pub),
	}, id), height))
}

func TestInitialize_CreatesConfigAndVault(t *testing.T) {
	const height = int64(1)
	a := newTestApp(t)
	registerTestAccount(t, a, height, "admin")

	res := mustOk(t, a.deliverTx(txBytesSigned(t, "plinko/initialize", map[string]any{
		"authority":   "admin",
		"platformFee": 300,
		"minBuyIn":    100_000_000,
		"maxBalls":    10,
	}, "admin"), height))
	ev := findEvent(res.Events, "Initialized")
	if ev == nil {
		t.Fatalf("expected Initialized event")
	}
	if got := attr(ev, "owner"); got != "admin" {
		t.Fatalf("owner attr mismatch: %q", got)
	}

	cfg := a.st.Config
	if cfg == nil {
		t.Fatalf("missing config store")
	}
	if cfg.Owner != "admin" || cfg.PlatformFee != 300 || cfg.MinBuyIn != 100_000_000 || cfg.MaxBalls != 10 {
		t.Fatalf("config mismatch: %+v", cfg)
	}
	if cfg.Paused || cfg.OddsLocked || len(cfg.Buckets) != 0 {
		t.Fatalf("expected fresh config unpaused, unlocked, no buckets: %+v", cfg)
	}
	if a.st.House == nil || a.st.House.Owner != "admin" || a.st.House.Balance != 0 {
		t.Fatalf("vault mismatch: %+v", a.st.House)
	}
}

func TestInitialize_RejectsSecondCall(t *testing.T) {
	const height = int64(1)
	a := newTestApp(t)
	registerTestAccount(t, a, height, "admin")

	init := map[string]any{"authority": "admin", "platformFee": 100, "minBuyIn": 1, "maxBalls": 5}
	mustOk(t, a.deliverTx(txBytesSigned(t, "plinko/initialize", init, "admin"), height))

	res := a.deliverTx(txBytesSigned(t, "plinko/initialize", init, "admin"), height)
	if res.Code != codeConfig {
		t.Fatalf("expected config error on re-initialize, got code=%d log=%q", res.Code, res.Log)
	}
}

func TestInitialize_EnforcesCaps(t *testing.T) {
	const height = int64(1)

	cases := []struct {
		name  string
		value map[string]any
	}{
		{"fee above 300 bps", map[string]any{"authority": "admin", "platformFee": 301, "minBuyIn": 1, "maxBalls": 5}},
		{"max balls above 60", map[string]any{"authority": "admin", "platformFee": 100, "minBuyIn": 1, "maxBalls": 61}},
		{"zero min buy-in", map[string]any{"authority": "admin", "platformFee": 100, "minBuyIn": 0, "maxBalls": 5}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := newTestApp(t)
			registerTestAccount(t, a, height, "admin")
			res := a.deliverTx(txBytesSigned(t, "plinko/initialize", tc.value, "admin"), height)
			if res.Code != codeConfig {
				t.Fatalf("expected config error, got code=%d log=%q", res.Code, res.Log)
			}
			if a.st.Config != nil {
				t.Fatalf("failed initialize must not leave config behind")
			}
		})
	}
}

func TestInitialize_GenesisDeployerGate(t *testing.T) {
	const height = int64(1)
	a := newTestApp(t)
	a.st.Deployer = "deployer"
	registerTestAccount(t, a, height, "mallory")
	registerTestAccount(t, a, height, "deployer")

	res := a.deliverTx(txBytesSigned(t, "plinko/initialize", map[string]any{
		"authority": "mallory", "platformFee": 100, "minBuyIn": 1, "maxBalls": 5,
	}, "mallory"), height)
	if res.Code != codeAuth {
		t.Fatalf("expected auth error for non-deployer, got code=%d log=%q", res.Code, res.Log)
	}

	mustOk(t, a.deliverTx(txBytesSigned(t, "plinko/initialize", map[string]any{
		"authority": "deployer", "platformFee": 100, "minBuyIn": 1, "maxBalls": 5,
	}, "deployer"), height))
}

func setupInitialized(t *testing.T) *PlinkoApp {
	t.Helper()
	const height = int64(1)
	a := newTestApp(t)
	registerTestAccount(t, a, height, "admin")
	mustOk(t, a.deliverTx(txBytesSigned(t, "plinko/initialize", map[string]any{
		"authority":   "admin",
		"platformFee": 300,
		"minBuyIn":    100_000_000,
		"maxBalls":    10,
	}, "admin"), height))
	return a
}

var (
	testPayouts = []uint64{400, 200, 150, 100, 50, 10, 50, 100, 150, 200, 400}
	testWeights = []uint64{1, 2, 3, 5, 8, 12, 16, 19, 21, 22, 23}
)

func setPayoutTable(t *testing.T, a *PlinkoApp, height int64) {
	t.Helper()
	mustOk(t, a.deliverTx(txBytesSigned(t, "plinko/set_payout", map[string]any{
		"authority": "admin",
		"payouts":   testPayouts,
		"weights":   testWeights,
	}, "admin"), height))
}

func TestSetPayout_InstallsTable(t *testing.T) {
	const height = int64(2)
	a := setupInitialized(t)
	setPayoutTable(t, a, height)

	buckets := a.st.Config.Buckets
	if len(buckets) != len(testPayouts) {
		t.Fatalf("expected %d buckets, got %d", len(testPayouts), len(buckets))
	}
	for i := range buckets {
		if buckets[i].Payout != testPayouts[i] || buckets[i].Weight != testWeights[i] {
			t.Fatalf("bucket %d mismatch: %+v", i, buckets[i])
		}
	}
}

func TestSetPayout_Validation(t *testing.T) {
	const height = int64(2)

	longPayouts := make([]uint64, 101)
	longWeights := make([]uint64, 101)
	for i := range longPayouts {
		longPayouts[i] = 100
		longWeights[i] = 1
	}

	cases := []struct {
		name     string
		payouts  []uint64
		weights  []uint64
		wantCode uint32
	}{
		{"length mismatch", []uint64{100, 200}, []uint64{1}, codeConfig},
		{"empty table", []uint64{}, []uint64{}, codeConfig},
		{"too many buckets", longPayouts, longWeights, codeConfig},
		{"payout above cap", []uint64{10_000_001}, []uint64{1}, codeConfig},
		{"zero weight", []uint64{100, 200}, []uint64{1, 0}, codeConfig},
		{"weight sum overflow", []uint64{100, 200}, []uint64{^uint64(0), 1}, codeConfig},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := setupInitialized(t)
			res := a.deliverTx(txBytesSigned(t, "plinko/set_payout", map[string]any{
				"authority": "admin",
				"payouts":   tc.payouts,
				"weights":   tc.weights,
			}, "admin"), height)
			if res.Code != tc.wantCode {
				t.Fatalf("expected code=%d, got code=%d log=%q", tc.wantCode, res.Code, res.Log)
			}
			if len(a.st.Config.Buckets) != 0 {
				t.Fatalf("rejected table must not be installed")
			}
		})
	}
}

func TestSetPayout_NonOwnerRejected(t *testing.T) {
	const height = int64(2)
	a := setupInitialized(t)
	registerTestAccount(t, a, height, "mallory")

	res := a.deliverTx(txBytesSigned(t, "plinko/set_payout", map[string]any{
		"authority": "mallory",
		"payouts":   []uint64{100},
		"weights":   []uint64{1},
	}, "mallory"), height)
	if res.Code != codeAuth {
		t.Fatalf("expected auth error, got code=%d log=%q", res.Code, res.Log)
	}
}

func TestLockOdds_FreezesTable(t *testing.T) {
	const height = int64(2)
	a := setupInitialized(t)
	setPayoutTable(t, a, height)

	mustOk(t, a.deliverTx(txBytesSigned(t, "plinko/lock_odds", map[string]any{"authority": "admin"}, "admin"), height))
	if !a.st.Config.OddsLocked {
		t.Fatalf("expected odds locked")
	}

	res := a.deliverTx(txBytesSigned(t, "plinko/set_payout", map[string]any{
		"authority": "admin",
		"payouts":   []uint64{100},
		"weights":   []uint64{1},
	}, "admin"), height)
	if res.Code != codeConfig {
		t.Fatalf("expected set_payout rejected after lock, got code=%d log=%q", res.Code, res.Log)
	}
	if len(a.st.Config.Buckets) != len(testPayouts) {
		t.Fatalf("locked table must survive rejected update")
	}

	res = a.deliverTx(txBytesSigned(t, "plinko/lock_odds", map[string]any{"authority": "admin"}, "admin"), height)
	if res.Code != codeConfig {
		t.Fatalf("expected second lock rejected, got code=%d log=%q", res.Code, res.Log)
	}
}

func TestAdminSetters(t *testing.T) {
	const height = int64(2)
	a := setupInitialized(t)

	mustOk(t, a.deliverTx(txBytesSigned(t, "plinko/set_paused", map[string]any{"authority": "admin", "paused": true}, "admin"), height))
	if !a.st.Config.Paused {
		t.Fatalf("expected paused")
	}
	mustOk(t, a.deliverTx(txBytesSigned(t, "plinko/set_paused", map[string]any{"authority": "admin", "paused": false}, "admin"), height))
	if a.st.Config.Paused {
		t.Fatalf("expected unpaused")
	}

	mustOk(t, a.deliverTx(txBytesSigned(t, "plinko/set_platform_fee", map[string]any{"authority": "admin", "fee": 500}, "admin"), height))
	if a.st.Config.PlatformFee != 500 {
		t.Fatalf("fee not updated: %d", a.st.Config.PlatformFee)
	}
	res := a.deliverTx(txBytesSigned(t, "plinko/set_platform_fee", map[string]any{"authority": "admin", "fee": 501}, "admin"), height)
	if res.Code != codeConfig {
		t.Fatalf("expected fee cap error, got code=%d log=%q", res.Code, res.Log)
	}

	mustOk(t, a.deliverTx(txBytesSigned(t, "plinko/set_min_buy_in", map[string]any{"authority": "admin", "minBuyIn": 42}, "admin"), height))
	if a.st.Config.MinBuyIn != 42 {
		t.Fatalf("minBuyIn not updated: %d", a.st.Config.MinBuyIn)
	}
	res = a.deliverTx(txBytesSigned(t, "plinko/set_min_buy_in", map[string]any{"authority": "admin", "minBuyIn": 0}, "admin"), height)
	if res.Code != codeConfig {
		t.Fatalf("expected zero minBuyIn rejected, got code=%d log=%q", res.Code, res.Log)
	}

	mustOk(t, a.deliverTx(txBytesSigned(t, "plinko/set_max_balls", map[string]any{"authority": "admin", "maxBalls": 100}, "admin"), height))
	if a.st.Config.MaxBalls != 100 {
		t.Fatalf("maxBalls not updated: %d", a.st.Config.MaxBalls)
	}
	res = a.deliverTx(txBytesSigned(t, "plinko/set_max_balls", map[string]any{"authority": "admin", "maxBalls": 101}, "admin"), height)
	if res.Code != codeConfig {
		t.Fatalf("expected maxBalls cap error, got code=%d log=%q", res.Code, res.Log)
	}
}

func TestAdminSetters_RequireInitialize(t *testing.T) {
	const height = int64(1)
	a := newTestApp(t)
	registerTestAccount(t, a, height, "admin")

	res := a.deliverTx(txBytesSigned(t, "plinko/set_paused", map[string]any{"authority": "admin", "paused": true}, "admin"), height)
	if res.Code != codeConfig {
		t.Fatalf("expected not-initialized error, got code=%d log=%q", res.Code, res.Log)
	}
}

func TestBankSend_MovesFunds(t *testing.T) {
	const height = int64(1)
	a := newTestApp(t)

	mintTestTokens(t, a, height, "alice", 1000)
	registerTestAccount(t, a, height, "alice")

	mustOk(t, a.deliverTx(txBytesSigned(t, "bank/send", map[string]any{
		"from": "alice", "to": "bob", "amount": 400,
	}, "alice"), height))

	if got := a.st.Balance("alice"); got != 600 {
		t.Fatalf("alice balance: %d", got)
	}
	if got := a.st.Balance("bob"); got != 400 {
		t.Fatalf("bob balance: %d", got)
	}
}

func TestBankSend_RequiresRegisteredKey(t *testing.T) {
	const height = int64(1)
	a := newTestApp(t)
	mintTestTokens(t, a, height, "alice", 1000)

	res := a.deliverTx(txBytesSigned(t, "bank/send", map[string]any{
		"from": "alice", "to": "bob", "amount": 1,
	}, "alice"), height)
	if res.Code != codeAuth {
		t.Fatalf("expected auth error without registered key, got code=%d log=%q", res.Code, res.Log)
	}
}

func TestQueryPaths(t *testing.T) {
	const height = int64(2)
	ctx := t.Context()
	a := setupInitialized(t)
	setPayoutTable(t, a, height)

	res, err := a.Query(ctx, &abci.QueryRequest{Path: "/config"})
	if err != nil || res.Code != 0 {
		t.Fatalf("query /config: err=%v code=%d log=%q", err, res.Code, res.Log)
	}
	var cfg struct {
		Owner string `json:"owner"`
	}
	if err := json.Unmarshal(res.Value, &cfg); err != nil || cfg.Owner != "admin" {
		t.Fatalf("bad /config payload: %s", res.Value)
	}

	res, err = a.Query(ctx, &abci.QueryRequest{Path: "/house"})
	if err != nil || res.Code != 0 {
		t.Fatalf("query /house: err=%v code=%d", err, res.Code)
	}

	res, err = a.Query(ctx, &abci.QueryRequest{Path: "/game/999"})
	if err != nil || res.Code != codeState {
		t.Fatalf("expected missing game to report state code, got err=%v code=%d", err, res.Code)
	}

	res, err = a.Query(ctx, &abci.QueryRequest{Path: "/account/admin"})
	if err != nil || res.Code != 0 {
		t.Fatalf("query /account: err=%v code=%d", err, res.Code)
	}

	res, err = a.Query(ctx, &abci.QueryRequest{Path: "/bogus"})
	if err != nil || res.Code != codeDecode {
		t.Fatalf("expected unknown path error, got err=%v code=%d", err, res.Code)
	}
}
