package utils

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/require"
)

func TestDecodeTx(t *testing.T) {
	from := solana.NewWallet().PublicKey()
	to := solana.NewWallet().PublicKey()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(1000, from, to).Build()},
		solana.Hash{},
		solana.TransactionPayer(from),
	)
	require.NoError(t, err)

	raw, err := tx.MarshalBinary()
	require.NoError(t, err)

	got, err := DecodeTx(raw)
	require.NoError(t, err)
	require.Equal(t, tx.Message.AccountKeys, got.Message.AccountKeys)
}

func TestDecodeTxEmpty(t *testing.T) {
	_, err := DecodeTx(nil)
	require.ErrorIs(t, err, ErrEmptyTx)

	_, err = DecodeTx([]byte{0xff})
	require.Error(t, err)
}
