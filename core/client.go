package core

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"omnichain-deploy/connpool"
	"omnichain-deploy/display"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

const (
	maxConnect          = 2
	defaultPollInterval = 3 * time.Second
)

var (
	ErrTxFailed = errors.New("transaction failed")
)

// Client 通过连接池访问单条链的 rpc，实现 bind.ContractCaller
type Client struct {
	pool         *connpool.EvmPool
	pollInterval time.Duration
}

func NewClient(chain Chain) *Client {
	return &Client{
		pool:         connpool.NewEvmPool(chain.Rpc, maxConnect, chain.Rps),
		pollInterval: defaultPollInterval,
	}
}

func (c *Client) Call(ctx context.Context, f func(*ethclient.Client) error) error {
	return c.pool.Call(ctx, f)
}

func (c *Client) Close() {
	c.pool.Close()
}

func (c *Client) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	var code []byte
	err := c.Call(ctx, func(client *ethclient.Client) (err error) {
		code, err = client.CodeAt(ctx, contract, blockNumber)
		return err
	})
	return code, err
}

func (c *Client) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	var res []byte
	err := c.Call(ctx, func(client *ethclient.Client) (err error) {
		res, err = client.CallContract(ctx, call, blockNumber)
		return err
	})
	return res, err
}

func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	var id *big.Int
	err := c.Call(ctx, func(client *ethclient.Client) (err error) {
		id, err = client.ChainID(ctx)
		return err
	})
	return id, err
}

// WaitMined 轮询直到交易上链，status 为 0 时返回 ErrTxFailed
func (c *Client) WaitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	display.Waiting("wait tx %s", txHash.Hex())
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait tx %s: %w", txHash.Hex(), ctx.Err())
		case <-ticker.C:
		}

		var receipt *types.Receipt
		err := c.Call(ctx, func(client *ethclient.Client) error {
			_, isPending, err := client.TransactionByHash(ctx, txHash)
			if err != nil || isPending {
				return err
			}
			receipt, err = client.TransactionReceipt(ctx, txHash)
			return err
		})
		if errors.Is(err, ethereum.NotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("wait tx %s: %w", txHash.Hex(), err)
		}
		if receipt == nil {
			continue
		}
		if receipt.Status == types.ReceiptStatusFailed {
			display.Failure("tx failed %s", txHash.Hex())
			return receipt, fmt.Errorf("%w: %s", ErrTxFailed, txHash.Hex())
		}
		display.Success("tx success %s", txHash.Hex())
		return receipt, nil
	}
}
