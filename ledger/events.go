package ledger

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	guessPaidSignature    = gethcrypto.Keccak256Hash([]byte("GuessPaid(uint256,address,uint256,uint256,uint256)"))
	roundStartedSignature = gethcrypto.Keccak256Hash([]byte("RoundStarted(uint256,uint256,bytes32)"))
)

// decodeGuessPaid scans the receipt for the first GuessPaid log emitted by
// the vault for the expected player.
func (v *EVMVault) decodeGuessPaid(receipt *gethtypes.Receipt, player common.Address) (PaymentEvent, error) {
	for _, log := range receipt.Logs {
		if log == nil || log.Address != v.address {
			continue
		}
		if len(log.Topics) < 3 || log.Topics[0] != guessPaidSignature {
			continue
		}
		logPlayer := common.BytesToAddress(log.Topics[2].Bytes())
		if logPlayer != player {
			continue
		}
		if len(log.Data) != 3*32 {
			return PaymentEvent{}, fmt.Errorf("malformed GuessPaid data length %d", len(log.Data))
		}
		return PaymentEvent{
			RoundID:    new(big.Int).SetBytes(log.Topics[1].Bytes()).Uint64(),
			Player:     logPlayer,
			Amount:     new(big.Int).SetBytes(log.Data[0:32]),
			PotAfter:   new(big.Int).SetBytes(log.Data[32:64]),
			GuessCount: new(big.Int).SetBytes(log.Data[64:96]).Uint64(),
		}, nil
	}
	return PaymentEvent{}, fmt.Errorf("%w for player %s in tx %s", ErrNoPaymentEvent, player.Hex(), receipt.TxHash.Hex())
}

func decodeRoundStarted(vault common.Address, receipt *gethtypes.Receipt) (uint64, bool) {
	for _, log := range receipt.Logs {
		if log == nil || log.Address != vault {
			continue
		}
		if len(log.Topics) < 2 || log.Topics[0] != roundStartedSignature {
			continue
		}
		return new(big.Int).SetBytes(log.Topics[1].Bytes()).Uint64(), true
	}
	return 0, false
}
