package state

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

type State struct {
	Height int64 `json:"height"`

	// Deployer, when set at genesis, is the only account allowed to run
	// plinko/initialize.
	Deployer string `json:"deployer,omitempty"`

	Accounts    map[string]uint64 `json:"accounts"`
	AccountKeys map[string][]byte `json:"accountKeys,omitempty"` // addr -> ed25519 pubkey (32 bytes)
	NonceMax    map[string]uint64 `json:"nonceMax,omitempty"`    // signer -> last accepted tx.nonce (u64), for replay protection

	Config *ConfigStore `json:"config,omitempty"`
	House  *HouseVault  `json:"house,omitempty"`

	Games    map[uint64]*Game        `json:"games"`
	Users    map[string]*UserStats   `json:"users"`
	Requests map[uint64]*RandRequest `json:"requests"`
}

func NewState() *State {
	return &State{
		Height:      0,
		Accounts:    map[string]uint64{},
		AccountKeys: map[string][]byte{},
		NonceMax:    map[string]uint64{},
		Games:       map[uint64]*Game{},
		Users:       map[string]*UserStats{},
		Requests:    map[uint64]*RandRequest{},
	}
}

func Load(home string) (*State, error) {
	path := filepath.Join(home, "state.json")
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewState(), nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}
	var st State
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	st.normalize()
	return &st, nil
}

func (s *State) Save(home string) error {
	if err := os.MkdirAll(home, 0o755); err != nil {
		return fmt.Errorf("mkdir home: %w", err)
	}
	path := filepath.Join(home, "state.json")
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

func (s *State) normalize() {
	if s.Accounts == nil {
		s.Accounts = map[string]uint64{}
	}
	if s.AccountKeys == nil {
		s.AccountKeys = map[string][]byte{}
	}
	if s.NonceMax == nil {
		s.NonceMax = map[string]uint64{}
	}
	if s.Games == nil {
		s.Games = map[uint64]*Game{}
	}
	if s.Users == nil {
		s.Users = map[string]*UserStats{}
	}
	if s.Requests == nil {
		s.Requests = map[uint64]*RandRequest{}
	}
}

// Clone returns a deep copy of state suitable for staged tx execution: a tx is
// applied to the clone, and the clone replaces live state only if the tx
// succeeds, so a failed tx can never leave a partial mutation behind.
func (s *State) Clone() (*State, error) {
	if s == nil {
		return nil, fmt.Errorf("state is nil")
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode state clone: %w", err)
	}
	var out State
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode state clone: %w", err)
	}
	out.normalize()
	return &out, nil
}

func (s *State) AppHash() []byte {
	// Deterministic JSON hash: marshal with stable key ordering by serializing
	// a normalized view.
	//
	// Note: encoding/json does NOT guarantee map key order, so we manually
	// normalize maps into slices.
	type accountKV struct {
		Addr    string `json:"addr"`
		Balance uint64 `json:"balance"`
	}
	type accountKeyKV struct {
		Addr   string `json:"addr"`
		PubKey []byte `json:"pubKey"`
	}
	type nonceKV struct {
		Signer string `json:"signer"`
		Nonce  uint64 `json:"nonce"`
	}
	type gameKV struct {
		ID   uint64 `json:"id"`
		Game *Game  `json:"game"`
	}
	type userKV struct {
		Addr  string     `json:"addr"`
		Stats *UserStats `json:"stats"`
	}
	type requestKV struct {
		ID      uint64       `json:"id"`
		Request *RandRequest `json:"request"`
	}

	accounts := make([]accountKV, 0, len(s.Accounts))
	for k, v := range s.Accounts {
		accounts = append(accounts, accountKV{Addr: k, Balance: v})
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Addr < accounts[j].Addr })

	accountKeys := make([]accountKeyKV, 0, len(s.AccountKeys))
	for k, v := range s.AccountKeys {
		accountKeys = append(accountKeys, accountKeyKV{Addr: k, PubKey: v})
	}
	sort.Slice(accountKeys, func(i, j int) bool { return accountKeys[i].Addr < accountKeys[j].Addr })

	nonces := make([]nonceKV, 0, len(s.NonceMax))
	for k, v := range s.NonceMax {
		nonces = append(nonces, nonceKV{Signer: k, Nonce: v})
	}
	sort.Slice(nonces, func(i, j int) bool { return nonces[i].Signer < nonces[j].Signer })

	games := make([]gameKV, 0, len(s.Games))
	for id, g := range s.Games {
		games = append(games, gameKV{ID: id, Game: g})
	}
	sort.Slice(games, func(i, j int) bool { return games[i].ID < games[j].ID })

	users := make([]userKV, 0, len(s.Users))
	for addr, u := range s.Users {
		users = append(users, userKV{Addr: addr, Stats: u})
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Addr < users[j].Addr })

	requests := make([]requestKV, 0, len(s.Requests))
	for id, r := range s.Requests {
		requests = append(requests, requestKV{ID: id, Request: r})
	}
	sort.Slice(requests, func(i, j int) bool { return requests[i].ID < requests[j].ID })

	normalized := struct {
		Height      int64          `json:"height"`
		Deployer    string         `json:"deployer,omitempty"`
		Accounts    []accountKV    `json:"accounts"`
		AccountKeys []accountKeyKV `json:"accountKeys,omitempty"`
		NonceMax    []nonceKV      `json:"nonceMax,omitempty"`
		Config      *ConfigStore   `json:"config,omitempty"`
		House       *HouseVault    `json:"house,omitempty"`
		Games       []gameKV       `json:"games"`
		Users       []userKV       `json:"users"`
		Requests    []requestKV    `json:"requests"`
	}{
		Height:      s.Height,
		Deployer:    s.Deployer,
		Accounts:    accounts,
		AccountKeys: accountKeys,
		NonceMax:    nonces,
		Config:      s.Config,
		House:       s.House,
		Games:       games,
		Users:       users,
		Requests:    requests,
	}

	b, _ := json.Marshal(normalized)
	sum := sha256.Sum256(b)
	return sum[:]
}

// ---- Bank ----

func (s *State) Balance(addr string) uint64 {
	return s.Accounts[addr]
}

func (s *State) Credit(addr string, amount uint64) error {
	bal := s.Accounts[addr]
	if bal > ^uint64(0)-amount {
		return fmt.Errorf("balance overflow: have=%d add=%d", bal, amount)
	}
	s.Accounts[addr] = bal + amount
	return nil
}

func (s *State) Debit(addr string, amount uint64) error {
	bal := s.Accounts[addr]
	if bal < amount {
		return fmt.Errorf("insufficient funds: have=%d need=%d", bal, amount)
	}
	s.Accounts[addr] = bal - amount
	return nil
}

// ---- Plinko ----

const (
	// FeeDenominator expresses the platform fee as basis points (300 = 3%).
	FeeDenominator uint64 = 10_000
	// PayoutScale expresses bucket payouts in multiplier hundredths (400 = 4x).
	PayoutScale uint64 = 100
)

// Bucket pairs a payout multiplier with its relative probability weight.
// Keeping the two as one record makes the payouts/weights length-equality
// invariant structural instead of checked.
type Bucket struct {
	Payout uint64 `json:"payout"` // multiplier in PayoutScale units
	Weight uint64 `json:"weight"` // relative probability mass, > 0
}

type ConfigStore struct {
	Owner       string `json:"owner"`
	PlatformFee uint64 `json:"platformFee"` // basis points of FeeDenominator
	MinBuyIn    uint64 `json:"minBuyIn"`
	MaxBalls    uint8  `json:"maxBalls"`
	Paused      bool   `json:"paused"`
	OddsLocked  bool   `json:"oddsLocked"`

	Buckets []Bucket `json:"buckets,omitempty"`

	TotalGames   uint64 `json:"totalGames"`
	TotalVolume  uint64 `json:"totalVolume"`
	TotalPayouts uint64 `json:"totalPayouts"`

	// LastSeed is the most recently consumed seed material (diagnostic only).
	LastSeed []byte `json:"lastSeed,omitempty"`
}

func (c *ConfigStore) IsOwner(addr string) bool {
	return c != nil && addr != "" && c.Owner == addr
}

type HouseVault struct {
	Owner          string `json:"owner"`
	Balance        uint64 `json:"balance"`
	TotalPayout    uint64 `json:"totalPayout"`
	PendingRequest uint32 `json:"pendingRequest"`
}

// Game is a single bet. It is created Pending by plinko/play and settled at
// most once by plinko/fulfill; Settled is terminal.
type Game struct {
	GameID         uint64  `json:"gameId"`
	Player         string  `json:"player"`
	BetAmount      uint64  `json:"betAmount"`
	BetPerBall     uint64  `json:"betPerBall"`
	NumBalls       uint8   `json:"numBalls"`
	AmountForHouse uint64  `json:"amountForHouse"`
	RequestID      uint64  `json:"requestId"`
	Buckets        []uint8 `json:"buckets,omitempty"` // empty until settled
	Payout         uint64  `json:"payout"`
	HasEnded       bool    `json:"hasEnded"`
	CreatedHeight  int64   `json:"createdHeight"`
	SettledHeight  int64   `json:"settledHeight,omitempty"`
}

type UserStats struct {
	User         string   `json:"user"`
	TotalGames   uint64   `json:"totalGames"`
	TotalWagered uint64   `json:"totalWagered"`
	TotalWon     uint64   `json:"totalWon"`
	GameIDs      []uint64 `json:"gameIds,omitempty"`
}

// RandRequest is the persisted half of the two-phase randomness protocol: the
// request is opened in the same tx that opens the game, and the "resumption" is
// an independent later tx matched purely by RequestID and the committed force.
type RandRequest struct {
	RequestID     uint64 `json:"requestId"`
	GameID        uint64 `json:"gameId"`
	Force         []byte `json:"force"` // 32 bytes, committed at request time
	CreatedHeight int64  `json:"createdHeight"`
}
