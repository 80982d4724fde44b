package core

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"omnichain-deploy/display"

	"github.com/coming-chat/wallet-SDK/core/eth"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
)

const (
	priorityRate = 1.5 // MaxPriorityFee = SuggestGasTipCap * priorityRate
	maxFeeRate   = 2   // MaxFee = (MaxPriorityFee + BaseFee) * maxFeeRate
	gasPriceRate = 1.1 // 不支持 1559 的链，GasPrice = SuggestGasPrice * gasPriceRate
)

var (
	ErrNoSigner        = errors.New("no signer: set DEPLOYER_MNEMONIC or DEPLOYER_PRIVATE_KEY")
	ErrAmbiguousSigner = errors.New("both DEPLOYER_MNEMONIC and DEPLOYER_PRIVATE_KEY are set, keep only one")
)

// Tx 一笔待发送的交易，To 为 nil 表示部署合约
type Tx struct {
	Label string
	To    *common.Address
	Data  []byte
	Value *big.Int
}

type TxResult struct {
	Hash            common.Hash
	ContractAddress common.Address
	Proposed        bool // 只提交到了多签服务，尚未上链
}

type Sender interface {
	Address() common.Address
	Send(ctx context.Context, tx Tx) (TxResult, error)
}

// KeySender 用部署账户私钥签名并发送，等待交易上链
type KeySender struct {
	client        *Client
	key           *ecdsa.PrivateKey
	address       common.Address
	chainId       *big.Int
	gasMultiplier float64
}

func NewKeySender(client *Client, key *ecdsa.PrivateKey, chainId int64, gasMultiplier float64) *KeySender {
	return &KeySender{
		client:        client,
		key:           key,
		address:       crypto.PubkeyToAddress(key.PublicKey),
		chainId:       big.NewInt(chainId),
		gasMultiplier: gasMultiplier,
	}
}

func (s *KeySender) Address() common.Address {
	return s.address
}

func (s *KeySender) Send(ctx context.Context, tx Tx) (TxResult, error) {
	var signedTx *types.Transaction
	err := s.client.Call(ctx, func(c *ethclient.Client) error {
		rawTx, err := createRawTx(ctx, c, s.address, tx, s.gasMultiplier)
		if err != nil {
			return err
		}
		signedTx, err = types.SignTx(rawTx, types.LatestSignerForChainID(s.chainId), s.key)
		if err != nil {
			return err
		}
		return c.SendTransaction(ctx, signedTx)
	})
	if err != nil {
		return TxResult{}, fmt.Errorf("%s: %w", tx.Label, err)
	}
	display.PrintfWithTime("%s txHash: %s\n", tx.Label, signedTx.Hash().Hex())

	receipt, err := s.client.WaitMined(ctx, signedTx.Hash())
	if err != nil {
		return TxResult{Hash: signedTx.Hash()}, fmt.Errorf("%s: %w", tx.Label, err)
	}
	return TxResult{Hash: signedTx.Hash(), ContractAddress: receipt.ContractAddress}, nil
}

// createRawTx 获取 nonce、gas、gasprice 构造交易，签名由调用方完成
func createRawTx(ctx context.Context,
	client *ethclient.Client,
	from common.Address,
	tx Tx,
	gasMultiplier float64) (*types.Transaction, error) {
	value := tx.Value
	if value == nil {
		value = big.NewInt(0)
	}
	nonce, err := client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	estimateGas, err := client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: tx.To, Value: value, Data: tx.Data})
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w", err)
	}
	gasLimit := scaleGas(estimateGas, gasMultiplier)

	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("latest header: %w", err)
	}
	if header.BaseFee == nil {
		gasPrice, err := client.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("gas price: %w", err)
		}
		return types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			To:       tx.To,
			Value:    value,
			Gas:      gasLimit,
			GasPrice: legacyGasPrice(gasPrice),
			Data:     tx.Data,
		}), nil
	}

	tip, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas tip: %w", err)
	}
	maxPriorityFee, maxFee := dynamicFees(tip, header.BaseFee)
	return types.NewTx(&types.DynamicFeeTx{
		Nonce:     nonce,
		To:        tx.To,
		Value:     value,
		Gas:       gasLimit,
		GasFeeCap: maxFee,
		GasTipCap: maxPriorityFee,
		Data:      tx.Data,
	}), nil
}

func scaleGas(estimate uint64, multiplier float64) uint64 {
	return uint64(decimal.NewFromInt(int64(estimate)).Mul(decimal.NewFromFloat(multiplier)).Ceil().IntPart())
}

func dynamicFees(tip, baseFee *big.Int) (maxPriorityFee, maxFee *big.Int) {
	maxPriorityFee = decimal.NewFromBigInt(tip, 0).Mul(decimal.NewFromFloat(priorityRate)).BigInt()
	maxFee = decimal.NewFromBigInt(new(big.Int).Add(maxPriorityFee, baseFee), 0).Mul(decimal.NewFromInt(maxFeeRate)).BigInt()
	return maxPriorityFee, maxFee
}

func legacyGasPrice(gasPrice *big.Int) *big.Int {
	return decimal.NewFromBigInt(gasPrice, 0).Mul(decimal.NewFromFloat(gasPriceRate)).BigInt()
}

// LoadKey 助记词或十六进制私钥，只能配置其中一个
func LoadKey(secrets Secrets) (*ecdsa.PrivateKey, error) {
	words := strings.TrimSpace(secrets.Mnemonic)
	privateKey := strings.TrimSpace(secrets.PrivateKey)
	if words != "" && privateKey != "" {
		return nil, ErrAmbiguousSigner
	}
	if words != "" {
		account, err := eth.NewAccountWithMnemonic(words)
		if err != nil {
			return nil, fmt.Errorf("load mnemonic: %w", err)
		}
		privateKeyHex, err := account.PrivateKeyHex()
		if err != nil {
			return nil, fmt.Errorf("load mnemonic: %w", err)
		}
		return parsePrivateKey(privateKeyHex)
	}
	if privateKey != "" {
		return parsePrivateKey(privateKey)
	}
	return nil, ErrNoSigner
}

func parsePrivateKey(v string) (*ecdsa.PrivateKey, error) {
	v = strings.TrimPrefix(strings.TrimSpace(v), "0x")
	key, err := crypto.HexToECDSA(v)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}
