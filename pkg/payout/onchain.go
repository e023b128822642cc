/**
 * @description
 * On-chain payout provider: signs and broadcasts transfers directly with
 * the distributor's own key, either as a native-asset transaction or an
 * ERC-20 `transfer` call, and blocks until the chain confirms a receipt.
 * The receipt wait is a deliberate backpressure point for the worker pool.
 *
 * @dependencies
 * - github.com/ethereum/go-ethereum: ethclient, transaction types,
 *   secp256k1 signing, receipt polling.
 */
package payout

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/blockquiz/rewards-service/internal/domain"
)

// OnchainProvider signs and sends transactions through a JSON-RPC
// endpoint.
type OnchainProvider struct {
	client      *ethclient.Client
	key         *ecdsa.PrivateKey
	from        common.Address
	chainID     *big.Int
	usdcAddress string

	// Nonce assignment requires sends from one key to be serialized even
	// though the worker pool runs allocations concurrently.
	mu sync.Mutex
}

// NewOnchainProvider dials the RPC endpoint and loads the signing key,
// failing fast when either is absent.
func NewOnchainProvider(cfg Config) (*OnchainProvider, error) {
	if cfg.ChainRPCURL == "" {
		return nil, fmt.Errorf("%w: chain rpc url missing", ErrConfig)
	}
	keyHex := strings.TrimPrefix(cfg.DistributorKeyHex, "0x")
	if keyHex == "" {
		return nil, fmt.Errorf("%w: distributor private key missing", ErrConfig)
	}
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid distributor private key: %v", ErrConfig, err)
	}

	client, err := ethclient.Dial(strings.TrimSpace(cfg.ChainRPCURL))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to dial rpc endpoint: %v", ErrConfig, err)
	}

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		chainID, err = client.ChainID(context.Background())
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("%w: failed to read chain id: %v", ErrConfig, err)
		}
	}

	return &OnchainProvider{
		client:      client,
		key:         key,
		from:        crypto.PubkeyToAddress(key.PublicKey),
		chainID:     chainID,
		usdcAddress: cfg.OnchainUSDCAddress,
	}, nil
}

// Transfer broadcasts the transaction and waits for its receipt, returning
// the transaction hash as the settlement reference.
func (p *OnchainProvider) Transfer(ctx context.Context, token domain.RewardToken, destination string, amountUnits *big.Int) (string, error) {
	if !common.IsHexAddress(destination) {
		return "", fmt.Errorf("invalid destination address %q", destination)
	}
	dest := common.HexToAddress(destination)

	var to common.Address
	var value *big.Int
	var data []byte
	if token == domain.TokenETH {
		to = dest
		value = amountUnits
	} else {
		if p.usdcAddress == "" {
			return "", fmt.Errorf("%w: usdc token address missing", ErrConfig)
		}
		to = common.HexToAddress(p.usdcAddress)
		value = big.NewInt(0)
		data = erc20TransferData(dest, amountUnits)
	}

	tx, err := p.sendSigned(ctx, to, value, data)
	if err != nil {
		return "", err
	}

	receipt, err := bind.WaitMined(ctx, p.client, tx)
	if err != nil {
		return "", fmt.Errorf("failed waiting for transaction receipt: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", fmt.Errorf("transaction %s reverted", tx.Hash().Hex())
	}
	return tx.Hash().Hex(), nil
}

func (p *OnchainProvider) sendSigned(ctx context.Context, to common.Address, value *big.Int, data []byte) (*types.Transaction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	nonce, err := p.client.PendingNonceAt(ctx, p.from)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch nonce: %w", err)
	}
	gasPrice, err := p.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch gas price: %w", err)
	}
	gasLimit, err := p.client.EstimateGas(ctx, ethereum.CallMsg{From: p.from, To: &to, Value: value, Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to estimate gas: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(p.chainID), p.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	if err := p.client.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("failed to broadcast transaction: %w", err)
	}
	return signed, nil
}

// erc20TransferData encodes transfer(address,uint256) calldata.
func erc20TransferData(to common.Address, amount *big.Int) []byte {
	selector := crypto.Keccak256([]byte("transfer(address,uint256)"))[:4]
	data := make([]byte, 0, 4+32+32)
	data = append(data, selector...)
	data = append(data, common.LeftPadBytes(to.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
	return data
}

// Close releases the underlying RPC connection.
func (p *OnchainProvider) Close() {
	p.client.Close()
}
