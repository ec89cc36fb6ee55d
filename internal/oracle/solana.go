// Package oracle answers "has this reference been paid?" against a Solana RPC node.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vybzcody/paymebro-sub003/internal/models"
	"github.com/vybzcody/paymebro-sub003/internal/monitor"
	"github.com/vybzcody/paymebro-sub003/utils"
)

const signatureLookback = 10

var (
	ErrInvalidReference  = errors.New("reference is not a valid public key")
	ErrNoTransactionData = errors.New("transaction has no meta or body")
)

// RPCClient is the subset of *rpc.Client the oracle uses.
type RPCClient interface {
	GetSignaturesForAddressWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error)
	GetTransaction(ctx context.Context, txSig solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
}

// Solana finds the transaction carrying a reference key and validates it
// against the expected transfer.
type Solana struct {
	client     RPCClient
	commitment rpc.CommitmentType
	logger     *zap.Logger
}

func NewSolana(client RPCClient, commitment rpc.CommitmentType, logger *zap.Logger) *Solana {
	if commitment == "" {
		commitment = rpc.CommitmentFinalized
	}
	return &Solana{client: client, commitment: commitment, logger: logger}
}

var _ monitor.Oracle = (*Solana)(nil)

func (s *Solana) CheckStatus(ctx context.Context, reference string, expected models.ExpectedPayment) (monitor.StatusResult, error) {
	refKey, err := solana.PublicKeyFromBase58(reference)
	if err != nil {
		return monitor.StatusResult{}, fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}

	limit := signatureLookback
	sigs, err := s.client.GetSignaturesForAddressWithOpts(ctx, refKey, &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: s.commitment,
	})
	if err != nil {
		return monitor.StatusResult{}, fmt.Errorf("get signatures for reference: %w", err)
	}
	if len(sigs) == 0 {
		return monitor.StatusResult{}, nil
	}

	// newest first; a failed attempt may be followed by a successful retry
	var candidate *rpc.TransactionSignature
	for _, sig := range sigs {
		if sig != nil && sig.Err == nil {
			candidate = sig
			break
		}
	}
	if candidate == nil {
		s.logger.Debug("reference only has failed transactions",
			zap.String("reference", reference),
			zap.String("signature", sigs[0].Signature.String()),
		)
		return monitor.StatusResult{Found: true, TerminalFailure: true, Signature: sigs[0].Signature.String()}, nil
	}

	maxVersion := uint64(0)
	txResult, err := s.client.GetTransaction(ctx, candidate.Signature, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     s.commitment,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		return monitor.StatusResult{}, fmt.Errorf("get transaction %s: %w", candidate.Signature, err)
	}
	if txResult == nil {
		// signature indexed before the transaction is queryable
		return monitor.StatusResult{}, nil
	}
	if txResult.Meta == nil || txResult.Transaction == nil {
		return monitor.StatusResult{}, ErrNoTransactionData
	}
	signature := candidate.Signature.String()
	if txResult.Meta.Err != nil {
		return monitor.StatusResult{Found: true, TerminalFailure: true, Signature: signature}, nil
	}

	tx, err := utils.DecodeTx(txResult.Transaction.GetBinary())
	if err != nil {
		return monitor.StatusResult{}, fmt.Errorf("decode transaction %s: %w", signature, err)
	}

	keys := ResolveAccountKeys(tx.Message.AccountKeys, txResult.Meta)
	matches, reason := ValidateTransfer(keys, txResult.Meta, refKey, expected)
	if !matches {
		s.logger.Info("transaction does not match payment request",
			zap.String("reference", reference),
			zap.String("signature", signature),
			zap.String("reason", reason),
		)
	}
	return monitor.StatusResult{Found: true, Matches: matches, Signature: signature}, nil
}

// ResolveAccountKeys returns the full account list balances are indexed by:
// static keys, then addresses loaded from lookup tables (writable before
// read-only) for v0 transactions.
func ResolveAccountKeys(static solana.PublicKeySlice, meta *rpc.TransactionMeta) solana.PublicKeySlice {
	keys := append(solana.PublicKeySlice{}, static...)
	if meta == nil {
		return keys
	}
	keys = append(keys, meta.LoadedAddresses.Writable...)
	return append(keys, meta.LoadedAddresses.ReadOnly...)
}

// ValidateTransfer checks recipient, currency and amount of a finalized
// transaction. Amounts must match exactly in base units. The second return
// value says why validation failed.
func ValidateTransfer(accountKeys solana.PublicKeySlice, meta *rpc.TransactionMeta, reference solana.PublicKey, expected models.ExpectedPayment) (bool, string) {
	if meta == nil {
		return false, "missing meta"
	}
	if !accountKeys.Contains(reference) {
		return false, "reference not in account keys"
	}
	recipient, err := solana.PublicKeyFromBase58(expected.Recipient)
	if err != nil {
		return false, "invalid expected recipient"
	}
	want, ok := toBaseUnits(expected.Amount, expected.Currency.ChainDecimals())
	if !ok {
		return false, "expected amount not representable in base units"
	}

	switch expected.Currency {
	case models.CurrencySOL:
		got, ok := lamportDelta(accountKeys, meta, recipient)
		if !ok {
			return false, "recipient not in transaction"
		}
		if got != want {
			return false, fmt.Sprintf("amount %d lamports, want %d", got, want)
		}
		return true, ""
	case models.CurrencyUSDC:
		mint, err := solana.PublicKeyFromBase58(expected.Mint)
		if err != nil {
			return false, "invalid expected mint"
		}
		got, ok := tokenDelta(meta, recipient, mint)
		if !ok {
			return false, "no token balance change for recipient and mint"
		}
		if got != want {
			return false, fmt.Sprintf("amount %d token units, want %d", got, want)
		}
		return true, ""
	default:
		return false, "unsupported currency"
	}
}

func toBaseUnits(amount decimal.Decimal, decimals int32) (uint64, bool) {
	shifted := amount.Shift(decimals)
	if !shifted.IsInteger() || shifted.IsNegative() {
		return 0, false
	}
	return shifted.BigInt().Uint64(), true
}

func lamportDelta(accountKeys solana.PublicKeySlice, meta *rpc.TransactionMeta, recipient solana.PublicKey) (uint64, bool) {
	for i, key := range accountKeys {
		if !key.Equals(recipient) {
			continue
		}
		if i >= len(meta.PreBalances) || i >= len(meta.PostBalances) {
			return 0, false
		}
		pre, post := meta.PreBalances[i], meta.PostBalances[i]
		if post <= pre {
			return 0, true
		}
		return post - pre, true
	}
	return 0, false
}

// tokenDelta sums the balance increase of every token account of mint owned
// by recipient. Raw amount strings are used to avoid float rounding.
func tokenDelta(meta *rpc.TransactionMeta, recipient, mint solana.PublicKey) (uint64, bool) {
	pre := make(map[uint16]uint64)
	for _, b := range meta.PreTokenBalances {
		if b.Mint.Equals(mint) {
			pre[b.AccountIndex] = rawAmount(b.UiTokenAmount)
		}
	}

	var total uint64
	found := false
	for _, post := range meta.PostTokenBalances {
		if !post.Mint.Equals(mint) || post.Owner == nil || !post.Owner.Equals(recipient) {
			continue
		}
		found = true
		after := rawAmount(post.UiTokenAmount)
		// missing pre balance means the account was created in this transaction
		if before := pre[post.AccountIndex]; after > before {
			total += after - before
		}
	}
	return total, found
}

func rawAmount(a *rpc.UiTokenAmount) uint64 {
	if a == nil {
		return 0
	}
	v, err := strconv.ParseUint(a.Amount, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
