package app

import (
	"bytes"
	"fmt"
	"strings"

	abci "github.com/cometbft/cometbft/abci/types"

	"plinkochain/internal/codec"
	"plinkochain/internal/state"
)

const (
	forceLen = 32

	// Caps carried over from the deployed program: initialize is stricter than
	// the later setters on purpose.
	maxPlatformFeeAtInit uint64 = 300 // 3%
	maxPlatformFee       uint64 = 500 // 5%
	maxBallsAtInit       uint8  = 60
	maxBallsCap          uint8  = 100
	maxBucketCount       int    = 100
	maxBucketPayout      uint64 = 10_000_000
)

func plinkoInitialize(st *state.State, env codec.TxEnvelope, msg codec.PlinkoInitializeTx) (*abci.ExecTxResult, error) {
	if st.Config != nil {
		return nil, ErrAlreadyInitialized
	}
	if st.Deployer != "" && msg.Authority != st.Deployer {
		return nil, fmt.Errorf("%w: only the deployer may initialize", ErrUnauthorized)
	}
	if err := requireAccountAuth(st, env, msg.Authority); err != nil {
		return nil, err
	}
	if err := consumeNonce(st, env); err != nil {
		return nil, err
	}
	if msg.PlatformFee > maxPlatformFeeAtInit {
		return nil, fmt.Errorf("%w: %d bps > %d bps", ErrFeeTooHigh, msg.PlatformFee, maxPlatformFeeAtInit)
	}
	if msg.MaxBalls > maxBallsAtInit {
		return nil, fmt.Errorf("%w: %d > %d", ErrMaxBallsTooHigh, msg.MaxBalls, maxBallsAtInit)
	}
	if msg.MinBuyIn == 0 {
		return nil, fmt.Errorf("%w: minBuyIn must be > 0", ErrInvalidValue)
	}

	st.Config = &state.ConfigStore{
		Owner:       msg.Authority,
		PlatformFee: msg.PlatformFee,
		MinBuyIn:    msg.MinBuyIn,
		MaxBalls:    msg.MaxBalls,
		Paused:      false,
		OddsLocked:  false,
	}
	st.House = &state.HouseVault{
		Owner:   msg.Authority,
		Balance: 0,
	}
	return okEvent("Initialized", map[string]string{
		"owner":       msg.Authority,
		"platformFee": fmt.Sprintf("%d", msg.PlatformFee),
		"minBuyIn":    fmt.Sprintf("%d", msg.MinBuyIn),
		"maxBalls":    fmt.Sprintf("%d", msg.MaxBalls),
	}), nil
}

// requireOwner authenticates the tx and checks the signer against the config
// store owner. Fails ErrNotInitialized before anything else so the caller can
// tell an unconfigured chain from a bad key.
func requireOwner(st *state.State, env codec.TxEnvelope, authority string) error {
	if st.Config == nil {
		return ErrNotInitialized
	}
	if err := requireAccountAuth(st, env, authority); err != nil {
		return err
	}
	if err := consumeNonce(st, env); err != nil {
		return err
	}
	if !st.Config.IsOwner(authority) {
		return fmt.Errorf("%w: only owner", ErrUnauthorized)
	}
	return nil
}

func plinkoSetPayout(st *state.State, env codec.TxEnvelope, msg codec.PlinkoSetPayoutTx) (*abci.ExecTxResult, error) {
	if st.Config == nil {
		return nil, ErrNotInitialized
	}
	if err := requireAccountAuth(st, env, msg.Authority); err != nil {
		return nil, err
	}
	if err := consumeNonce(st, env); err != nil {
		return nil, err
	}
	if st.Config.OddsLocked {
		return nil, ErrOddsLocked
	}
	if len(msg.Payouts) != len(msg.Weights) {
		return nil, fmt.Errorf("%w: %d payouts vs %d weights", ErrLengthMismatch, len(msg.Payouts), len(msg.Weights))
	}
	if !st.Config.IsOwner(msg.Authority) {
		return nil, fmt.Errorf("%w: only owner", ErrUnauthorized)
	}
	if len(msg.Payouts) == 0 {
		return nil, fmt.Errorf("%w: empty table", ErrBadBucketTable)
	}
	if len(msg.Payouts) > maxBucketCount {
		return nil, fmt.Errorf("%w: %d buckets > %d", ErrBadBucketTable, len(msg.Payouts), maxBucketCount)
	}

	buckets := make([]state.Bucket, len(msg.Payouts))
	for i := range msg.Payouts {
		if msg.Payouts[i] > maxBucketPayout {
			return nil, fmt.Errorf("%w: bucket %d payout %d > %d", ErrBadBucketTable, i, msg.Payouts[i], maxBucketPayout)
		}
		if msg.Weights[i] == 0 {
			return nil, fmt.Errorf("%w: bucket %d has zero weight", ErrBadBucketTable, i)
		}
		buckets[i] = state.Bucket{Payout: msg.Payouts[i], Weight: msg.Weights[i]}
	}
	if _, err := state.TotalWeight(buckets); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadBucketTable, err)
	}

	// Both columns swap in one assignment; no partial table is ever visible.
	st.Config.Buckets = buckets

	return okEvent("PayoutTableSet", map[string]string{
		"buckets": fmt.Sprintf("%d", len(buckets)),
	}), nil
}

func plinkoLockOdds(st *state.State, env codec.TxEnvelope, msg codec.PlinkoLockOddsTx) (*abci.ExecTxResult, error) {
	if err := requireOwner(st, env, msg.Authority); err != nil {
		return nil, err
	}
	// Locking twice is rejected rather than silently ignored; either way the
	// lock can never be undone.
	if st.Config.OddsLocked {
		return nil, ErrOddsLocked
	}
	st.Config.OddsLocked = true
	return okEvent("OddsLocked", map[string]string{
		"buckets": fmt.Sprintf("%d", len(st.Config.Buckets)),
	}), nil
}

func plinkoSetPaused(st *state.State, env codec.TxEnvelope, msg codec.PlinkoSetPausedTx) (*abci.ExecTxResult, error) {
	if err := requireOwner(st, env, msg.Authority); err != nil {
		return nil, err
	}
	st.Config.Paused = msg.Paused
	return okEvent("PauseSet", map[string]string{
		"paused": fmt.Sprintf("%t", msg.Paused),
	}), nil
}

func plinkoSetPlatformFee(st *state.State, env codec.TxEnvelope, msg codec.PlinkoSetPlatformFeeTx) (*abci.ExecTxResult, error) {
	if err := requireOwner(st, env, msg.Authority); err != nil {
		return nil, err
	}
	if msg.Fee > maxPlatformFee {
		return nil, fmt.Errorf("%w: %d bps > %d bps", ErrFeeTooHigh, msg.Fee, maxPlatformFee)
	}
	st.Config.PlatformFee = msg.Fee
	return okEvent("PlatformFeeSet", map[string]string{
		"fee": fmt.Sprintf("%d", msg.Fee),
	}), nil
}

func plinkoSetMinBuyIn(st *state.State, env codec.TxEnvelope, msg codec.PlinkoSetMinBuyInTx) (*abci.ExecTxResult, error) {
	if err := requireOwner(st, env, msg.Authority); err != nil {
		return nil, err
	}
	if msg.MinBuyIn == 0 {
		return nil, fmt.Errorf("%w: minBuyIn must be > 0", ErrInvalidValue)
	}
	st.Config.MinBuyIn = msg.MinBuyIn
	return okEvent("MinBuyInSet", map[string]string{
		"minBuyIn": fmt.Sprintf("%d", msg.MinBuyIn),
	}), nil
}

func plinkoSetMaxBalls(st *state.State, env codec.TxEnvelope, msg codec.PlinkoSetMaxBallsTx) (*abci.ExecTxResult, error) {
	if err := requireOwner(st, env, msg.Authority); err != nil {
		return nil, err
	}
	if msg.MaxBalls > maxBallsCap {
		return nil, fmt.Errorf("%w: %d > %d", ErrMaxBallsTooHigh, msg.MaxBalls, maxBallsCap)
	}
	st.Config.MaxBalls = msg.MaxBalls
	return okEvent("MaxBallsSet", map[string]string{
		"maxBalls": fmt.Sprintf("%d", msg.MaxBalls),
	}), nil
}

func plinkoWithdraw(st *state.State, env codec.TxEnvelope, msg codec.PlinkoWithdrawTx) (*abci.ExecTxResult, error) {
	if err := requireOwner(st, env, msg.Authority); err != nil {
		return nil, err
	}
	if msg.Amount > st.House.Balance {
		return nil, fmt.Errorf("%w: vault has %d, want %d", ErrInsufficientFunds, st.House.Balance, msg.Amount)
	}
	st.House.Balance -= msg.Amount
	if err := st.Credit(msg.Authority, msg.Amount); err != nil {
		return nil, fmt.Errorf("%w: credit owner: %v", ErrOverflow, err)
	}
	return okEvent("VaultWithdrawn", map[string]string{
		"owner":   msg.Authority,
		"amount":  fmt.Sprintf("%d", msg.Amount),
		"balance": fmt.Sprintf("%d", st.House.Balance),
	}), nil
}

func plinkoPlay(st *state.State, env codec.TxEnvelope, msg codec.PlinkoPlayTx, height int64) (*abci.ExecTxResult, error) {
	if st.Config == nil {
		return nil, ErrNotInitialized
	}
	if err := requireAccountAuth(st, env, msg.Player); err != nil {
		return nil, err
	}
	if err := consumeNonce(st, env); err != nil {
		return nil, err
	}

	cfg := st.Config
	if cfg.Paused {
		return nil, ErrPaused
	}
	if msg.NumBalls < 1 || msg.NumBalls > cfg.MaxBalls {
		return nil, fmt.Errorf("%w: %d (max %d)", ErrInvalidBallCount, msg.NumBalls, cfg.MaxBalls)
	}
	if msg.BetAmount < cfg.MinBuyIn {
		return nil, fmt.Errorf("%w: %d < %d", ErrBelowMinBuyIn, msg.BetAmount, cfg.MinBuyIn)
	}
	if len(cfg.Buckets) == 0 {
		return nil, fmt.Errorf("%w: payout table not set", ErrBadBucketTable)
	}
	if len(msg.Force) != forceLen {
		return nil, fmt.Errorf("%w: force must be %d bytes", ErrInvalidValue, forceLen)
	}
	if _, exists := st.Games[msg.GameID]; exists {
		return nil, fmt.Errorf("%w: %d", ErrDuplicateGameID, msg.GameID)
	}

	// The whole stake is escrowed. The integer-division remainder cannot be
	// split across balls, so it rides with the platform fee into the house
	// share; nothing leaks.
	betPerBall := msg.BetAmount / uint64(msg.NumBalls)
	if betPerBall == 0 {
		return nil, fmt.Errorf("%w: bet %d over %d balls", ErrZeroPerBall, msg.BetAmount, msg.NumBalls)
	}
	remainder := msg.BetAmount % uint64(msg.NumBalls)
	fee, err := mulDivU64(msg.BetAmount, cfg.PlatformFee, state.FeeDenominator, "platform fee")
	if err != nil {
		return nil, err
	}
	amountForHouse, err := addU64Checked(fee, remainder, "house share")
	if err != nil {
		return nil, err
	}

	if err := st.Debit(msg.Player, msg.BetAmount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	}
	newBalance, err := addU64Checked(st.House.Balance, msg.BetAmount, "vault balance")
	if err != nil {
		return nil, err
	}
	st.House.Balance = newBalance

	requestID := state.DeriveRequestID(msg.GameID, msg.Player, height)
	if _, exists := st.Requests[requestID]; exists {
		return nil, fmt.Errorf("%w: request id collision", ErrInvalidValue)
	}
	st.Requests[requestID] = &state.RandRequest{
		RequestID:     requestID,
		GameID:        msg.GameID,
		Force:         append([]byte(nil), msg.Force...),
		CreatedHeight: height,
	}
	st.House.PendingRequest++

	st.Games[msg.GameID] = &state.Game{
		GameID:         msg.GameID,
		Player:         msg.Player,
		BetAmount:      msg.BetAmount,
		BetPerBall:     betPerBall,
		NumBalls:       msg.NumBalls,
		AmountForHouse: amountForHouse,
		RequestID:      requestID,
		Payout:         0,
		HasEnded:       false,
		CreatedHeight:  height,
	}

	u := st.Users[msg.Player]
	if u == nil {
		u = &state.UserStats{User: msg.Player}
		st.Users[msg.Player] = u
	}
	totalGames, err := addU64Checked(u.TotalGames, 1, "user totalGames")
	if err != nil {
		return nil, err
	}
	totalWagered, err := addU64Checked(u.TotalWagered, msg.BetAmount, "user totalWagered")
	if err != nil {
		return nil, err
	}
	u.TotalGames = totalGames
	u.TotalWagered = totalWagered
	u.GameIDs = append(u.GameIDs, msg.GameID)

	return okEvent("GameStarted", map[string]string{
		"gameId":         fmt.Sprintf("%d", msg.GameID),
		"player":         msg.Player,
		"numBalls":       fmt.Sprintf("%d", msg.NumBalls),
		"betAmount":      fmt.Sprintf("%d", msg.BetAmount),
		"betPerBall":     fmt.Sprintf("%d", betPerBall),
		"amountForHouse": fmt.Sprintf("%d", amountForHouse),
		"requestId":      fmt.Sprintf("%d", requestID),
	}), nil
}

func plinkoFulfill(st *state.State, msg codec.PlinkoFulfillTx, height int64) (*abci.ExecTxResult, error) {
	if st.Config == nil {
		return nil, ErrNotInitialized
	}
	g, ok := st.Games[msg.GameID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrGameNotFound, msg.GameID)
	}
	if g.HasEnded {
		return nil, fmt.Errorf("%w: %d", ErrAlreadySettled, msg.GameID)
	}
	if msg.RequestID != g.RequestID {
		return nil, fmt.Errorf("%w: got %d want %d", ErrRequestIDMismatch, msg.RequestID, g.RequestID)
	}
	req, ok := st.Requests[msg.RequestID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrRequestNotFound, msg.RequestID)
	}
	if !bytes.Equal(req.Force, msg.Force) {
		return nil, ErrSeedMismatch
	}

	cfg := st.Config
	base := state.DeriveRandomBase(req.Force, req.RequestID)
	randoms := state.DeriveBallRandoms(base, int(g.NumBalls))

	buckets := make([]uint8, 0, g.NumBalls)
	var payout uint64
	for _, r := range randoms {
		idx, err := state.PickBucket(cfg.Buckets, r)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadBucketTable, err)
		}
		buckets = append(buckets, idx)

		ballPayout, err := mulDivU64(g.BetPerBall, cfg.Buckets[idx].Payout, state.PayoutScale, "ball payout")
		if err != nil {
			return nil, err
		}
		payout, err = addU64Checked(payout, ballPayout, "total payout")
		if err != nil {
			return nil, err
		}
	}

	if payout > 0 {
		// The vault must cover the full payout; a short vault is fatal for the
		// attempt, never a truncated payment.
		if payout > st.House.Balance {
			return nil, fmt.Errorf("%w: payout %d > vault %d", ErrInsufficientHouseFunds, payout, st.House.Balance)
		}
		st.House.Balance -= payout
		if err := st.Credit(g.Player, payout); err != nil {
			return nil, fmt.Errorf("%w: credit player: %v", ErrOverflow, err)
		}
	}

	housePayout, err := addU64Checked(st.House.TotalPayout, payout, "house totalPayout")
	if err != nil {
		return nil, err
	}
	userWon, err := addU64Checked(mustUser(st, g.Player).TotalWon, payout, "user totalWon")
	if err != nil {
		return nil, err
	}
	cfgGames, err := addU64Checked(cfg.TotalGames, 1, "totalGames")
	if err != nil {
		return nil, err
	}
	cfgVolume, err := addU64Checked(cfg.TotalVolume, g.BetAmount, "totalVolume")
	if err != nil {
		return nil, err
	}
	cfgPayouts, err := addU64Checked(cfg.TotalPayouts, payout, "totalPayouts")
	if err != nil {
		return nil, err
	}

	st.House.TotalPayout = housePayout
	mustUser(st, g.Player).TotalWon = userWon
	cfg.TotalGames = cfgGames
	cfg.TotalVolume = cfgVolume
	cfg.TotalPayouts = cfgPayouts
	cfg.LastSeed = append([]byte(nil), msg.Force...)

	if st.House.PendingRequest > 0 {
		st.House.PendingRequest--
	}
	delete(st.Requests, msg.RequestID)

	g.Buckets = buckets
	g.Payout = payout
	g.HasEnded = true
	g.SettledHeight = height

	return okEvent("GameSettled", map[string]string{
		"gameId":    fmt.Sprintf("%d", g.GameID),
		"player":    g.Player,
		"payout":    fmt.Sprintf("%d", payout),
		"buckets":   joinBuckets(buckets),
		"requestId": fmt.Sprintf("%d", msg.RequestID),
	}), nil
}

func mustUser(st *state.State, player string) *state.UserStats {
	u := st.Users[player]
	if u == nil {
		u = &state.UserStats{User: player}
		st.Users[player] = u
	}
	return u
}

func joinBuckets(buckets []uint8) string {
	parts := make([]string, len(buckets))
	for i, b := range buckets {
		parts[i] = fmt.Sprintf("%d", b)
	}
	return strings.Join(parts, ",")
}
