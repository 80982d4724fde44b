package connpool

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	ErrConnect = errors.New("connect error")
)

type Closeable interface {
	Close()
}

// Pool 构建基础的连接池
// 同时在用的连接数不超过 maxCount，空闲连接复用
type Pool struct {
	New   func(ctx context.Context) (Closeable, error)
	slots chan struct{}
	idle  chan Closeable
}

func NewPool(maxCount int, f func(ctx context.Context) (Closeable, error)) *Pool {
	if maxCount < 1 {
		maxCount = 1
	}
	return &Pool{
		New:   f,
		slots: make(chan struct{}, maxCount),
		idle:  make(chan Closeable, maxCount),
	}
}

// Call 取一个连接执行 f，返回连接错误时关闭该连接，否则放回连接池
func (p *Pool) Call(ctx context.Context, f func(closeable Closeable) error) error {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.slots }()

	conn, err := p.get(ctx)
	if err != nil {
		return err
	}

	err = f(conn)
	if isConnError(err) || !p.put(conn) {
		conn.Close()
	}
	return err
}

// Close 关闭所有空闲连接
func (p *Pool) Close() {
	for {
		select {
		case conn := <-p.idle:
			conn.Close()
		default:
			return
		}
	}
}

// get 从连接池获取连接，没有空闲连接时新建
func (p *Pool) get(ctx context.Context) (Closeable, error) {
	select {
	case conn := <-p.idle:
		return conn, nil
	default:
	}
	conn, err := p.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}
	if conn == nil {
		return nil, ErrConnect
	}
	return conn, nil
}

// put 把一个连接放入连接池
func (p *Pool) put(conn Closeable) bool {
	select {
	case p.idle <- conn:
		return true
	default:
		return false
	}
}

func isConnError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConnect) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
