package app

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"strconv"

	"plinkochain/internal/codec"
	"plinkochain/internal/state"
)

const txAuthDomainV1 = "plinkochain/tx/v1"

func txAuthSignBytesV1(typ string, value []byte, nonce string, signer string) []byte {
	// signBytes = DOMAIN || 0x00 || type || 0x00 || nonce || 0x00 || signer || 0x00 || sha256(value)
	sum := sha256.Sum256(value)
	out := make([]byte, 0, len(txAuthDomainV1)+1+len(typ)+1+len(nonce)+1+len(signer)+1+sha256.Size)
	out = append(out, []byte(txAuthDomainV1)...)
	out = append(out, 0)
	out = append(out, []byte(typ)...)
	out = append(out, 0)
	out = append(out, []byte(nonce)...)
	out = append(out, 0)
	out = append(out, []byte(signer)...)
	out = append(out, 0)
	out = append(out, sum[:]...)
	return out
}

func requireSignedEnvelope(env codec.TxEnvelope) error {
	if env.Nonce == "" {
		return fmt.Errorf("%w: missing tx.nonce", ErrUnauthorized)
	}
	if env.Signer == "" {
		return fmt.Errorf("%w: missing tx.signer", ErrUnauthorized)
	}
	if len(env.Sig) == 0 {
		return fmt.Errorf("%w: missing tx.sig", ErrUnauthorized)
	}
	if len(env.Sig) != ed25519.SignatureSize {
		return fmt.Errorf("%w: invalid tx.sig length: got %d want %d", ErrUnauthorized, len(env.Sig), ed25519.SignatureSize)
	}
	return nil
}

func requireRegisterAccountAuth(env codec.TxEnvelope, msg codec.AuthRegisterAccountTx) error {
	if msg.Account == "" {
		return fmt.Errorf("%w: missing account", ErrUnauthorized)
	}
	if len(msg.PubKey) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: pubKey must be %d bytes", ErrUnauthorized, ed25519.PublicKeySize)
	}
	if err := requireSignedEnvelope(env); err != nil {
		return err
	}
	if env.Signer != msg.Account {
		return fmt.Errorf("%w: tx signer mismatch: signer=%q want=%q", ErrUnauthorized, env.Signer, msg.Account)
	}
	pub := ed25519.PublicKey(msg.PubKey)
	msgBytes := txAuthSignBytesV1(env.Type, env.Value, env.Nonce, env.Signer)
	if !ed25519.Verify(pub, msgBytes, env.Sig) {
		return fmt.Errorf("%w: invalid signature", ErrUnauthorized)
	}
	return nil
}

func requireAccountAuth(st *state.State, env codec.TxEnvelope, account string) error {
	if st == nil {
		return fmt.Errorf("state is nil")
	}
	if account == "" {
		return fmt.Errorf("%w: missing account", ErrUnauthorized)
	}
	if err := requireSignedEnvelope(env); err != nil {
		return err
	}
	if env.Signer != account {
		return fmt.Errorf("%w: tx signer mismatch: signer=%q want=%q", ErrUnauthorized, env.Signer, account)
	}
	pub := st.AccountKeys[account]
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: account %q missing pubKey (auth/register_account required)", ErrUnauthorized, account)
	}
	msg := txAuthSignBytesV1(env.Type, env.Value, env.Nonce, env.Signer)
	if !ed25519.Verify(ed25519.PublicKey(pub), msg, env.Sig) {
		return fmt.Errorf("%w: invalid signature", ErrUnauthorized)
	}
	return nil
}

// consumeNonce enforces strictly increasing numeric nonces per signer. Called
// only after signature verification succeeds.
func consumeNonce(st *state.State, env codec.TxEnvelope) error {
	n, err := strconv.ParseUint(env.Nonce, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid tx.nonce %q", ErrUnauthorized, env.Nonce)
	}
	if last, ok := st.NonceMax[env.Signer]; ok && n <= last {
		return fmt.Errorf("%w: replayed tx.nonce %d (last accepted %d)", ErrUnauthorized, n, last)
	}
	st.NonceMax[env.Signer] = n
	return nil
}
