package codec

import (
	"encoding/json"
	"fmt"
)

// TxEnvelope is the transaction container.
//
// CometBFT transactions are opaque bytes; we use JSON-encoded txs with a type
// tag for routing. This is a devnet encoding, not a final wire protocol.
type TxEnvelope struct {
	// Basic routing.
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`

	// Tx auth (required for owner/player instructions):
	// - Nonce: included in the signed message for replay protection (must increase per signer).
	// - Signer: logical signer account.
	// - Sig: Ed25519 signature over (type, nonce, signer, sha256(value)).
	Nonce  string `json:"nonce,omitempty"`
	Signer string `json:"signer,omitempty"`
	Sig    []byte `json:"sig,omitempty"`
}

func DecodeTxEnvelope(txBytes []byte) (TxEnvelope, error) {
	var env TxEnvelope
	if err := json.Unmarshal(txBytes, &env); err != nil {
		return TxEnvelope{}, fmt.Errorf("invalid tx json: %w", err)
	}
	if env.Type == "" {
		return TxEnvelope{}, fmt.Errorf("missing tx.type")
	}
	return env, nil
}

// ---- Bank ----

type BankMintTx struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

type BankSendTx struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// ---- Auth ----

// Account pubkey registration for tx authentication.
type AuthRegisterAccountTx struct {
	Account string `json:"account"`
	PubKey  []byte `json:"pubKey"` // base64 (32 bytes)
}

// ---- Plinko ----

type PlinkoInitializeTx struct {
	Authority   string `json:"authority"`
	PlatformFee uint64 `json:"platformFee"` // basis points, max 300 at initialize
	MinBuyIn    uint64 `json:"minBuyIn"`
	MaxBalls    uint8  `json:"maxBalls"`
}

type PlinkoSetPayoutTx struct {
	Authority string   `json:"authority"`
	Payouts   []uint64 `json:"payouts"`
	Weights   []uint64 `json:"weights"`
}

type PlinkoLockOddsTx struct {
	Authority string `json:"authority"`
}

type PlinkoSetPausedTx struct {
	Authority string `json:"authority"`
	Paused    bool   `json:"paused"`
}

type PlinkoSetPlatformFeeTx struct {
	Authority string `json:"authority"`
	Fee       uint64 `json:"fee"` // basis points, max 500
}

type PlinkoSetMinBuyInTx struct {
	Authority string `json:"authority"`
	MinBuyIn  uint64 `json:"minBuyIn"`
}

type PlinkoSetMaxBallsTx struct {
	Authority string `json:"authority"`
	MaxBalls  uint8  `json:"maxBalls"`
}

type PlinkoPlayTx struct {
	Player    string `json:"player"`
	Force     []byte `json:"force"` // base64 (32 bytes), committed seed material
	GameID    uint64 `json:"gameId"`
	NumBalls  uint8  `json:"numBalls"`
	BetAmount uint64 `json:"betAmount"` // total stake across all balls
}

// PlinkoFulfillTx is submitted by any relayer carrying the oracle fulfillment
// for a pending game. It is matched to the request by requestId and the
// committed force bytes; it is not signed.
type PlinkoFulfillTx struct {
	Force     []byte `json:"force"` // base64 (32 bytes)
	GameID    uint64 `json:"gameId"`
	RequestID uint64 `json:"requestId"`
}

type PlinkoWithdrawTx struct {
	Authority string `json:"authority"`
	Amount    uint64 `json:"amount"`
}
