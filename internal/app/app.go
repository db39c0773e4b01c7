package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	abci "github.com/cometbft/cometbft/abci/types"
	"github.com/rs/zerolog"

	"plinkochain/internal/codec"
	"plinkochain/internal/metrics"
	"plinkochain/internal/state"
)

const (
	AppVersion uint64 = 1
)

type PlinkoApp struct {
	*abci.BaseApplication

	home string
	log  zerolog.Logger

	mu       sync.Mutex
	st       *state.State
	lastHash []byte
}

func New(home string, log zerolog.Logger) (*PlinkoApp, error) {
	appHome := filepath.Join(home, "app")
	st, err := state.Load(appHome)
	if err != nil {
		return nil, err
	}
	a := &PlinkoApp{
		BaseApplication: abci.NewBaseApplication(),
		home:            home,
		log:             log,
		st:              st,
		lastHash:        st.AppHash(),
	}
	return a, nil
}

func (a *PlinkoApp) Info(_ context.Context, _ *abci.InfoRequest) (*abci.InfoResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return &abci.InfoResponse{
		Data:             "plinkochain",
		Version:          "v1",
		AppVersion:       AppVersion,
		LastBlockHeight:  a.st.Height,
		LastBlockAppHash: a.lastHash,
	}, nil
}

func (a *PlinkoApp) CheckTx(_ context.Context, req *abci.CheckTxRequest) (*abci.CheckTxResponse, error) {
	_, err := codec.DecodeTxEnvelope(req.Tx)
	if err != nil {
		return &abci.CheckTxResponse{Code: codeDecode, Log: err.Error()}, nil
	}
	// Mempool admission is structural only; auth and state checks run at
	// FinalizeBlock against committed state.
	return &abci.CheckTxResponse{Code: codeOK}, nil
}

// genesisState is the optional app_state document in the CometBFT genesis
// file. It pins the initialize authority and may seed bank balances.
type genesisState struct {
	Deployer string            `json:"deployer,omitempty"`
	Accounts map[string]uint64 `json:"accounts,omitempty"`
}

func (a *PlinkoApp) InitChain(_ context.Context, req *abci.InitChainRequest) (*abci.InitChainResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(req.AppStateBytes) > 0 {
		var gen genesisState
		if err := json.Unmarshal(req.AppStateBytes, &gen); err != nil {
			return nil, fmt.Errorf("decode genesis app_state: %w", err)
		}
		a.st.Deployer = gen.Deployer
		for addr, bal := range gen.Accounts {
			if err := a.st.Credit(addr, bal); err != nil {
				return nil, fmt.Errorf("genesis credit %q: %w", addr, err)
			}
		}
		a.lastHash = a.st.AppHash()
	}
	return &abci.InitChainResponse{AppHash: a.lastHash}, nil
}

func (a *PlinkoApp) FinalizeBlock(_ context.Context, req *abci.FinalizeBlockRequest) (*abci.FinalizeBlockResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.st.Height = req.Height

	txResults := make([]*abci.ExecTxResult, 0, len(req.Txs))
	for _, txBytes := range req.Txs {
		res := a.deliverTx(txBytes, req.Height)
		txResults = append(txResults, res)
	}

	a.lastHash = a.st.AppHash()

	a.log.Debug().
		Int64("height", req.Height).
		Int("txs", len(req.Txs)).
		Hex("appHash", a.lastHash).
		Msg("finalized block")

	return &abci.FinalizeBlockResponse{
		TxResults: txResults,
		AppHash:   a.lastHash,
	}, nil
}

func (a *PlinkoApp) Commit(_ context.Context, _ *abci.CommitRequest) (*abci.CommitResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Persist after each block for devnet durability.
	appHome := filepath.Join(a.home, "app")
	if err := a.st.Save(appHome); err != nil {
		// CometBFT expects Commit to not crash; return error so node halts loudly.
		a.log.Error().Err(err).Msg("persist state")
		return nil, err
	}
	if a.st.House != nil {
		metrics.HouseBalance.Set(float64(a.st.House.Balance))
		metrics.PendingRequests.Set(float64(a.st.House.PendingRequest))
	}
	return &abci.CommitResponse{}, nil
}

func (a *PlinkoApp) Query(_ context.Context, req *abci.QueryRequest) (*abci.QueryResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Paths:
	// - /config
	// - /house
	// - /game/<id>
	// - /games
	// - /user/<addr>
	// - /account/<addr>
	path := strings.TrimSpace(req.Path)
	switch {
	case path == "/config":
		if a.st.Config == nil {
			return &abci.QueryResponse{Code: codeState, Log: "not initialized", Height: a.st.Height}, nil
		}
		b, _ := json.Marshal(a.st.Config)
		return &abci.QueryResponse{Code: codeOK, Value: b, Height: a.st.Height}, nil
	case path == "/house":
		if a.st.House == nil {
			return &abci.QueryResponse{Code: codeState, Log: "not initialized", Height: a.st.Height}, nil
		}
		b, _ := json.Marshal(a.st.House)
		return &abci.QueryResponse{Code: codeOK, Value: b, Height: a.st.Height}, nil
	case path == "/games":
		ids := make([]uint64, 0, len(a.st.Games))
		for id := range a.st.Games {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		b, _ := json.Marshal(ids)
		return &abci.QueryResponse{Code: codeOK, Value: b, Height: a.st.Height}, nil
	case strings.HasPrefix(path, "/game/"):
		raw := strings.TrimPrefix(path, "/game/")
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return &abci.QueryResponse{Code: codeDecode, Log: "invalid game id", Height: a.st.Height}, nil
		}
		g, ok := a.st.Games[id]
		if !ok {
			return &abci.QueryResponse{Code: codeState, Log: "game not found", Height: a.st.Height}, nil
		}
		b, _ := json.Marshal(g)
		return &abci.QueryResponse{Code: codeOK, Value: b, Height: a.st.Height}, nil
	case strings.HasPrefix(path, "/user/"):
		addr := strings.TrimPrefix(path, "/user/")
		u, ok := a.st.Users[addr]
		if !ok {
			return &abci.QueryResponse{Code: codeState, Log: "no stats for user", Height: a.st.Height}, nil
		}
		b, _ := json.Marshal(u)
		return &abci.QueryResponse{Code: codeOK, Value: b, Height: a.st.Height}, nil
	case strings.HasPrefix(path, "/account/"):
		addr := strings.TrimPrefix(path, "/account/")
		bal := a.st.Balance(addr)
		b, _ := json.Marshal(map[string]any{"addr": addr, "balance": bal})
		return &abci.QueryResponse{Code: codeOK, Value: b, Height: a.st.Height}, nil
	default:
		return &abci.QueryResponse{Code: codeDecode, Log: "unknown query path", Height: a.st.Height}, nil
	}
}

// deliverTx stages each tx on a deep clone of state and swaps the clone in
// only on success, so every instruction is all-or-nothing regardless of how
// far the handler got before failing.
func (a *PlinkoApp) deliverTx(txBytes []byte, height int64) *abci.ExecTxResult {
	env, err := codec.DecodeTxEnvelope(txBytes)
	if err != nil {
		metrics.TxProcessed.WithLabelValues("invalid", "error").Inc()
		return &abci.ExecTxResult{Code: codeDecode, Log: err.Error()}
	}

	staged, err := a.st.Clone()
	if err != nil {
		return &abci.ExecTxResult{Code: codeDecode, Log: err.Error()}
	}

	res := applyTx(staged, env, height)
	if res.Code == codeOK {
		a.st = staged
		metrics.TxProcessed.WithLabelValues(env.Type, "ok").Inc()
		switch env.Type {
		case "plinko/play":
			metrics.GamesStarted.Inc()
		case "plinko/fulfill":
			metrics.GamesSettled.Inc()
		}
	} else {
		metrics.TxProcessed.WithLabelValues(env.Type, "error").Inc()
	}
	return res
}

func applyTx(st *state.State, env codec.TxEnvelope, height int64) *abci.ExecTxResult {
	switch env.Type {
	case "bank/mint":
		var msg codec.BankMintTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return &abci.ExecTxResult{Code: codeDecode, Log: "bad bank/mint value"}
		}
		if msg.To == "" || msg.Amount == 0 {
			return &abci.ExecTxResult{Code: codeDecode, Log: "missing to/amount"}
		}
		if err := st.Credit(msg.To, msg.Amount); err != nil {
			return failTx(fmt.Errorf("%w: %v", ErrOverflow, err))
		}
		return okEvent("BankMinted", map[string]string{
			"to":     msg.To,
			"amount": fmt.Sprintf("%d", msg.Amount),
		})

	case "bank/send":
		var msg codec.BankSendTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return &abci.ExecTxResult{Code: codeDecode, Log: "bad bank/send value"}
		}
		if msg.From == "" || msg.To == "" || msg.Amount == 0 {
			return &abci.ExecTxResult{Code: codeDecode, Log: "missing from/to/amount"}
		}
		if err := requireAccountAuth(st, env, msg.From); err != nil {
			return failTx(err)
		}
		if err := consumeNonce(st, env); err != nil {
			return failTx(err)
		}
		if err := st.Debit(msg.From, msg.Amount); err != nil {
			return failTx(fmt.Errorf("%w: %v", ErrInsufficientFunds, err))
		}
		if err := st.Credit(msg.To, msg.Amount); err != nil {
			return failTx(fmt.Errorf("%w: %v", ErrOverflow, err))
		}
		return okEvent("BankSent", map[string]string{
			"from":   msg.From,
			"to":     msg.To,
			"amount": fmt.Sprintf("%d", msg.Amount),
		})

	case "auth/register_account":
		var msg codec.AuthRegisterAccountTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return &abci.ExecTxResult{Code: codeDecode, Log: "bad auth/register_account value"}
		}
		if err := requireRegisterAccountAuth(env, msg); err != nil {
			return failTx(err)
		}
		if err := consumeNonce(st, env); err != nil {
			return failTx(err)
		}
		if existing := st.AccountKeys[msg.Account]; len(existing) != 0 && !bytes.Equal(existing, msg.PubKey) {
			return failTx(fmt.Errorf("%w: account %q pubKey mismatch", ErrUnauthorized, msg.Account))
		}
		st.AccountKeys[msg.Account] = append([]byte(nil), msg.PubKey...)
		return okEvent("AccountRegistered", map[string]string{
			"account": msg.Account,
		})

	case "plinko/initialize":
		var msg codec.PlinkoInitializeTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return &abci.ExecTxResult{Code: codeDecode, Log: "bad plinko/initialize value"}
		}
		return handle(plinkoInitialize(st, env, msg))

	case "plinko/set_payout":
		var msg codec.PlinkoSetPayoutTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return &abci.ExecTxResult{Code: codeDecode, Log: "bad plinko/set_payout value"}
		}
		return handle(plinkoSetPayout(st, env, msg))

	case "plinko/lock_odds":
		var msg codec.PlinkoLockOddsTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return &abci.ExecTxResult{Code: codeDecode, Log: "bad plinko/lock_odds value"}
		}
		return handle(plinkoLockOdds(st, env, msg))

	case "plinko/set_paused":
		var msg codec.PlinkoSetPausedTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return &abci.ExecTxResult{Code: codeDecode, Log: "bad plinko/set_paused value"}
		}
		return handle(plinkoSetPaused(st, env, msg))

	case "plinko/set_platform_fee":
		var msg codec.PlinkoSetPlatformFeeTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return &abci.ExecTxResult{Code: codeDecode, Log: "bad plinko/set_platform_fee value"}
		}
		return handle(plinkoSetPlatformFee(st, env, msg))

	case "plinko/set_min_buy_in":
		var msg codec.PlinkoSetMinBuyInTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return &abci.ExecTxResult{Code: codeDecode, Log: "bad plinko/set_min_buy_in value"}
		}
		return handle(plinkoSetMinBuyIn(st, env, msg))

	case "plinko/set_max_balls":
		var msg codec.PlinkoSetMaxBallsTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return &abci.ExecTxResult{Code: codeDecode, Log: "bad plinko/set_max_balls value"}
		}
		return handle(plinkoSetMaxBalls(st, env, msg))

	case "plinko/play":
		var msg codec.PlinkoPlayTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return &abci.ExecTxResult{Code: codeDecode, Log: "bad plinko/play value"}
		}
		return handle(plinkoPlay(st, env, msg, height))

	case "plinko/fulfill":
		var msg codec.PlinkoFulfillTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return &abci.ExecTxResult{Code: codeDecode, Log: "bad plinko/fulfill value"}
		}
		return handle(plinkoFulfill(st, msg, height))

	case "plinko/withdraw":
		var msg codec.PlinkoWithdrawTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return &abci.ExecTxResult{Code: codeDecode, Log: "bad plinko/withdraw value"}
		}
		return handle(plinkoWithdraw(st, env, msg))

	default:
		return &abci.ExecTxResult{Code: codeDecode, Log: "unknown tx type: " + env.Type}
	}
}

func handle(res *abci.ExecTxResult, err error) *abci.ExecTxResult {
	if err != nil {
		return failTx(err)
	}
	return res
}

func okEvent(typ string, attrs map[string]string) *abci.ExecTxResult {
	ev := abci.Event{Type: typ}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		ev.Attributes = append(ev.Attributes, abci.EventAttribute{Key: k, Value: attrs[k], Index: true})
	}
	return &abci.ExecTxResult{
		Code:   codeOK,
		Events: []abci.Event{ev},
	}
}
