package core

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"omnichain-deploy/display"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/fatih/color"
)

const (
	safeOrigin      = "omnichain-deploy"
	safePendingPage = 100
)

var (
	ErrSafeCreate   = errors.New("contract creation cannot be proposed to a safe")
	ErrNotSafeOwner = errors.New("deployer is not an owner of the safe")
)

// SafeTx Gnosis Safe execTransaction 参数，gas 相关字段全部为 0 由执行者支付
type SafeTx struct {
	To             common.Address
	Value          *big.Int
	Data           []byte
	Operation      uint8
	SafeTxGas      *big.Int
	BaseGas        *big.Int
	GasPrice       *big.Int
	GasToken       common.Address
	RefundReceiver common.Address
	Nonce          *big.Int
}

func newSafeTx(to common.Address, value *big.Int, data []byte, nonce *big.Int) SafeTx {
	if value == nil {
		value = big.NewInt(0)
	}
	return SafeTx{
		To:        to,
		Value:     value,
		Data:      data,
		SafeTxGas: big.NewInt(0),
		BaseGas:   big.NewInt(0),
		GasPrice:  big.NewInt(0),
		Nonce:     nonce,
	}
}

var safeTxTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"SafeTx": {
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "data", Type: "bytes"},
		{Name: "operation", Type: "uint8"},
		{Name: "safeTxGas", Type: "uint256"},
		{Name: "baseGas", Type: "uint256"},
		{Name: "gasPrice", Type: "uint256"},
		{Name: "gasToken", Type: "address"},
		{Name: "refundReceiver", Type: "address"},
		{Name: "nonce", Type: "uint256"},
	},
}

// safeTxHash EIP-712 hash，等于 Safe.getTransactionHash 的返回值
func safeTxHash(chainId *big.Int, safe common.Address, tx SafeTx) (common.Hash, error) {
	typedData := apitypes.TypedData{
		Types:       safeTxTypes,
		PrimaryType: "SafeTx",
		Domain: apitypes.TypedDataDomain{
			ChainId:           (*math.HexOrDecimal256)(chainId),
			VerifyingContract: safe.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"to":             tx.To.Hex(),
			"value":          tx.Value.String(),
			"data":           hexutil.Bytes(tx.Data),
			"operation":      fmt.Sprint(tx.Operation),
			"safeTxGas":      tx.SafeTxGas.String(),
			"baseGas":        tx.BaseGas.String(),
			"gasPrice":       tx.GasPrice.String(),
			"gasToken":       tx.GasToken.Hex(),
			"refundReceiver": tx.RefundReceiver.Hex(),
			"nonce":          tx.Nonce.String(),
		},
	}
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("hash safe domain: %w", err)
	}
	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return common.Hash{}, fmt.Errorf("hash safe tx: %w", err)
	}
	raw := make([]byte, 0, 66)
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator...)
	raw = append(raw, messageHash...)
	return crypto.Keccak256Hash(raw), nil
}

// signSafeHash eth_sign 之外的直接签名，v 取 27/28
func signSafeHash(hash common.Hash, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(hash.Bytes(), key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

type safeProposal struct {
	To                      string `json:"to"`
	Value                   string `json:"value"`
	Data                    string `json:"data"`
	Operation               uint8  `json:"operation"`
	SafeTxGas               string `json:"safeTxGas"`
	BaseGas                 string `json:"baseGas"`
	GasPrice                string `json:"gasPrice"`
	GasToken                string `json:"gasToken"`
	RefundReceiver          string `json:"refundReceiver"`
	Nonce                   uint64 `json:"nonce"`
	ContractTransactionHash string `json:"contractTransactionHash"`
	Sender                  string `json:"sender"`
	Signature               string `json:"signature"`
	Origin                  string `json:"origin"`
}

// safePendingTx safe service 中尚未执行的提案
type safePendingTx struct {
	Nonce      uint64  `json:"nonce"`
	To         string  `json:"to"`
	Data       *string `json:"data"`
	SafeTxHash string  `json:"safeTxHash"`
}

type safePendingList struct {
	Results []safePendingTx `json:"results"`
}

func pendingKey(to common.Address, data []byte) string {
	return strings.ToLower(to.Hex()) + ":" + hexutil.Encode(data)
}

// SafeSender 把管理交易提交到 safe transaction service，由多签 owner 在外部确认执行
type SafeSender struct {
	safe       common.Address
	service    string
	chainId    *big.Int
	caller     bind.ContractCaller
	key        *ecdsa.PrivateKey
	signer     common.Address
	httpClient *http.Client

	nonce   *big.Int               // 下一个可用的 safe nonce，第一次提交时确定
	pending map[string]common.Hash // to+data -> 尚未执行的 safeTxHash
}

func NewSafeSender(chain Chain, caller bind.ContractCaller, key *ecdsa.PrivateKey) *SafeSender {
	return &SafeSender{
		safe:       common.HexToAddress(chain.Safe),
		service:    strings.TrimRight(chain.SafeService, "/"),
		chainId:    big.NewInt(chain.ChainId),
		caller:     caller,
		key:        key,
		signer:     crypto.PubkeyToAddress(key.PublicKey),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *SafeSender) Address() common.Address {
	return s.safe
}

func (s *SafeSender) Send(ctx context.Context, tx Tx) (TxResult, error) {
	if tx.To == nil {
		return TxResult{}, fmt.Errorf("%s: %w", tx.Label, ErrSafeCreate)
	}
	if s.nonce == nil {
		if err := s.checkOwner(ctx); err != nil {
			return TxResult{}, err
		}
		nonce, err := newSafeContract(s.safe).Nonce(ctx, s.caller)
		if err != nil {
			return TxResult{}, fmt.Errorf("safe nonce: %w", err)
		}
		s.loadPending(ctx, nonce)
	}
	key := pendingKey(*tx.To, tx.Data)
	if hash, ok := s.pending[key]; ok {
		display.PrintfWithTime("%s already pending in safe %s, safeTxHash %s\n", tx.Label, s.safe.Hex(), hash.Hex())
		return TxResult{Hash: hash, Proposed: true}, nil
	}

	safeTx := newSafeTx(*tx.To, tx.Value, tx.Data, new(big.Int).Set(s.nonce))
	hash, err := safeTxHash(s.chainId, s.safe, safeTx)
	if err != nil {
		return TxResult{}, err
	}
	signature, err := signSafeHash(hash, s.key)
	if err != nil {
		return TxResult{}, fmt.Errorf("sign safe tx: %w", err)
	}
	if err := s.propose(ctx, safeTx, hash, signature); err != nil {
		return TxResult{}, fmt.Errorf("%s: %w", tx.Label, err)
	}
	s.nonce.Add(s.nonce, big.NewInt(1))
	s.pending[key] = hash

	display.PrintfWithTime("%s proposed to safe %s, nonce %s, safeTxHash %s\n", tx.Label, s.safe.Hex(), safeTx.Nonce, hash.Hex())
	return TxResult{Hash: hash, Proposed: true}, nil
}

// loadPending 下一个 nonce 排在 service 中未执行提案之后，读取失败时使用链上 nonce
func (s *SafeSender) loadPending(ctx context.Context, onchain *big.Int) {
	s.nonce = new(big.Int).Set(onchain)
	s.pending = map[string]common.Hash{}
	list, err := s.listPending(ctx, onchain)
	if err != nil {
		display.PrintfWithTime("%s\n", color.HiYellowString("list pending safe txs: %v, using on-chain nonce %s", err, onchain))
		return
	}
	for _, p := range list {
		if next := new(big.Int).SetUint64(p.Nonce + 1); next.Cmp(s.nonce) > 0 {
			s.nonce = next
		}
		if !common.IsHexAddress(p.To) {
			continue
		}
		var data []byte
		if p.Data != nil {
			if data, err = hexutil.Decode(*p.Data); err != nil {
				continue
			}
		}
		s.pending[pendingKey(common.HexToAddress(p.To), data)] = common.HexToHash(p.SafeTxHash)
	}
}

func (s *SafeSender) listPending(ctx context.Context, onchain *big.Int) ([]safePendingTx, error) {
	query := url.Values{}
	query.Set("executed", "false")
	query.Set("nonce__gte", onchain.String())
	query.Set("limit", fmt.Sprint(safePendingPage))
	endpoint := fmt.Sprintf("%s/api/v1/safes/%s/multisig-transactions/?%s", s.service, s.safe.Hex(), query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("safe service: %s", resp.Status)
	}
	var list safePendingList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode pending safe txs: %w", err)
	}
	return list.Results, nil
}

func (s *SafeSender) checkOwner(ctx context.Context) error {
	var owners []common.Address
	if err := newSafeContract(s.safe).call(ctx, s.caller, &owners, "getOwners"); err != nil {
		return fmt.Errorf("safe owners: %w", err)
	}
	for _, owner := range owners {
		if owner == s.signer {
			return nil
		}
	}
	return fmt.Errorf("%w: %s not in owners of %s", ErrNotSafeOwner, s.signer.Hex(), s.safe.Hex())
}

func (s *SafeSender) propose(ctx context.Context, tx SafeTx, hash common.Hash, signature []byte) error {
	body, err := json.Marshal(safeProposal{
		To:                      tx.To.Hex(),
		Value:                   tx.Value.String(),
		Data:                    hexutil.Encode(tx.Data),
		Operation:               tx.Operation,
		SafeTxGas:               tx.SafeTxGas.String(),
		BaseGas:                 tx.BaseGas.String(),
		GasPrice:                tx.GasPrice.String(),
		GasToken:                tx.GasToken.Hex(),
		RefundReceiver:          tx.RefundReceiver.Hex(),
		Nonce:                   tx.Nonce.Uint64(),
		ContractTransactionHash: hash.Hex(),
		Sender:                  s.signer.Hex(),
		Signature:               hexutil.Encode(signature),
		Origin:                  safeOrigin,
	})
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/api/v1/safes/%s/multisig-transactions/", s.service, s.safe.Hex())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("safe service: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("safe service: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	return nil
}
