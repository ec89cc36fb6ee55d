package utils

import (
	"errors"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

var ErrEmptyTx = errors.New("empty transaction data")

// DecodeTx decodes a wire-format transaction, as returned by
// rpc.TransactionResultEnvelope.GetBinary.
func DecodeTx(data []byte) (*solana.Transaction, error) {
	if len(data) == 0 {
		return nil, ErrEmptyTx
	}
	return solana.TransactionFromDecoder(bin.NewBinDecoder(data))
}
