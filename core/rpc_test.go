package core

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

const (
	rpcNonce     = 7
	rpcGasUsed   = 21000
	rpcTip       = 2_000_000_000
	rpcGasPrice  = 5_000_000_000
	rpcChainId   = 31337
	rpcCreatedAt = 0xc0de
)

// rpcNode 最小的 json-rpc 节点，只实现客户端发交易和等回执用到的方法
type rpcNode struct {
	mu        sync.Mutex
	baseFee   *big.Int // nil 表示不支持 1559
	headerErr bool
	pending   int    // 前几次 eth_getTransactionByHash 返回 pending
	status    uint64 // 回执 status
	txs       map[common.Hash]*types.Transaction
	sent      []*types.Transaction
	calls     map[string]int
}

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Version string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

func newRPCNode(t *testing.T) (*rpcNode, *Client) {
	t.Helper()
	node := &rpcNode{
		status: types.ReceiptStatusSuccessful,
		txs:    map[common.Hash]*types.Transaction{},
		calls:  map[string]int{},
	}
	srv := httptest.NewServer(node)
	t.Cleanup(srv.Close)
	client := NewClient(Chain{Name: "local", ChainId: rpcChainId, Rpc: srv.URL})
	client.pollInterval = time.Millisecond
	t.Cleanup(client.Close)
	return node, client
}

func (n *rpcNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp := rpcResponse{Version: "2.0", ID: req.ID}
	result, err := n.handle(req.Method, req.Params)
	if err != nil {
		resp.Error = &rpcError{Code: -32000, Message: err.Error()}
	} else if result == nil {
		resp.Result = json.RawMessage("null")
	} else {
		resp.Result = result
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (n *rpcNode) handle(method string, params []json.RawMessage) (interface{}, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls[method]++
	switch method {
	case "eth_chainId":
		return hexutil.Uint64(rpcChainId), nil
	case "eth_getTransactionCount":
		return hexutil.Uint64(rpcNonce), nil
	case "eth_estimateGas":
		return hexutil.Uint64(rpcGasUsed), nil
	case "eth_maxPriorityFeePerGas":
		return (*hexutil.Big)(big.NewInt(rpcTip)), nil
	case "eth_gasPrice":
		return (*hexutil.Big)(big.NewInt(rpcGasPrice)), nil
	case "eth_getBlockByNumber":
		if n.headerErr {
			return nil, errors.New("header unavailable")
		}
		return &types.Header{
			Difficulty: big.NewInt(0),
			Number:     big.NewInt(100),
			GasLimit:   30_000_000,
			Time:       1_700_000_000,
			Extra:      []byte{},
			BaseFee:    n.baseFee,
		}, nil
	case "eth_sendRawTransaction":
		var raw hexutil.Bytes
		if err := json.Unmarshal(params[0], &raw); err != nil {
			return nil, err
		}
		tx := new(types.Transaction)
		if err := tx.UnmarshalBinary(raw); err != nil {
			return nil, err
		}
		n.sent = append(n.sent, tx)
		n.txs[tx.Hash()] = tx
		return tx.Hash(), nil
	case "eth_getTransactionByHash":
		tx, ok := n.lookup(params)
		if !ok {
			return nil, nil
		}
		return n.txJSON(tx, n.pending <= 0)
	case "eth_getTransactionReceipt":
		tx, ok := n.lookup(params)
		if !ok {
			return nil, nil
		}
		receipt := &types.Receipt{
			Type:              tx.Type(),
			Status:            n.status,
			CumulativeGasUsed: rpcGasUsed,
			Logs:              []*types.Log{},
			TxHash:            tx.Hash(),
			GasUsed:           rpcGasUsed,
			BlockHash:         common.HexToHash("0xb1"),
			BlockNumber:       big.NewInt(100),
		}
		if tx.To() == nil {
			receipt.ContractAddress = common.BigToAddress(big.NewInt(rpcCreatedAt))
		}
		return receipt, nil
	}
	return nil, errors.New("method not found: " + method)
}

func (n *rpcNode) lookup(params []json.RawMessage) (*types.Transaction, bool) {
	var hash common.Hash
	if err := json.Unmarshal(params[0], &hash); err != nil {
		return nil, false
	}
	tx, ok := n.txs[hash]
	return tx, ok
}

// txJSON mined 为 false 时不带 blockNumber，客户端视为 pending
func (n *rpcNode) txJSON(tx *types.Transaction, mined bool) (interface{}, error) {
	data, err := json.Marshal(tx)
	if err != nil {
		return nil, err
	}
	fields := map[string]interface{}{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	if mined {
		fields["blockNumber"] = "0x64"
		fields["blockHash"] = common.HexToHash("0xb1").Hex()
	} else {
		n.pending--
	}
	return fields, nil
}

func (n *rpcNode) sentTxs() []*types.Transaction {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*types.Transaction(nil), n.sent...)
}

func (n *rpcNode) callCount(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

func (n *rpcNode) add(tx *types.Transaction) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.txs[tx.Hash()] = tx
}
