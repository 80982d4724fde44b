package connpool

import (
	"context"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/time/rate"
)

type EvmPool struct {
	*Pool
	limiter *rate.Limiter
}

// NewEvmPool 初始化 evm rpc 连接池，rps <= 0 时不限速
func NewEvmPool(rawUrl string, maxConnect int, rps float64) *EvmPool {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &EvmPool{
		Pool: NewPool(maxConnect, func(ctx context.Context) (Closeable, error) {
			return rpc.DialContext(ctx, rawUrl)
		}),
		limiter: rate.NewLimiter(limit, 1),
	}
}

func (e *EvmPool) Call(ctx context.Context, f func(*ethclient.Client) error) error {
	if err := e.limiter.Wait(ctx); err != nil {
		return err
	}
	return e.Pool.Call(ctx, func(closeable Closeable) error {
		client, ok := closeable.(*rpc.Client)
		if !ok {
			return ErrConnect
		}
		return f(ethclient.NewClient(client))
	})
}
