package core

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

const (
	contractWalletLogic = "WalletLogic"
	contractProxyWallet = "ProxyWallet"
)

func swapKey(protocol string) string    { return "swap/" + protocol }
func lendingKey(protocol string) string { return "lending/" + protocol }

type DeployedContract struct {
	Address    string    `yaml:"address"`
	Artifact   string    `yaml:"artifact"`
	TxHash     string    `yaml:"tx_hash,omitempty"`
	DeployedAt time.Time `yaml:"deployed_at,omitempty"`
}

// Deployments 记录一个网络上 逻辑名 -> 合约地址
type Deployments struct {
	Network   string                      `yaml:"network"`
	ChainId   int64                       `yaml:"chainid"`
	Contracts map[string]DeployedContract `yaml:"contracts"`

	path string
}

func deploymentsPath(dir, network string) string {
	return filepath.Join(dir, network+".yaml")
}

// LoadDeployments 文件不存在时返回空记录
func LoadDeployments(dir string, chain Chain) (*Deployments, error) {
	d := &Deployments{
		Network:   chain.Name,
		ChainId:   chain.ChainId,
		Contracts: map[string]DeployedContract{},
		path:      deploymentsPath(dir, chain.Name),
	}
	data, err := os.ReadFile(d.path)
	if errors.Is(err, fs.ErrNotExist) {
		return d, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read deployments: %w", err)
	}
	if err := yaml.Unmarshal(data, d); err != nil {
		return nil, fmt.Errorf("parse deployments %s: %w", d.path, err)
	}
	if d.ChainId != chain.ChainId {
		return nil, fmt.Errorf("deployments %s: chainid %d does not match network chainid %d", d.path, d.ChainId, chain.ChainId)
	}
	if d.Contracts == nil {
		d.Contracts = map[string]DeployedContract{}
	}
	return d, nil
}

func (d *Deployments) Address(name string) (common.Address, bool) {
	c, ok := d.Contracts[name]
	if !ok || !common.IsHexAddress(c.Address) {
		return common.Address{}, false
	}
	return common.HexToAddress(c.Address), true
}

func (d *Deployments) Set(name string, c DeployedContract) {
	d.Contracts[name] = c
}

func (d *Deployments) Names() []string {
	names := make([]string, 0, len(d.Contracts))
	for name := range d.Contracts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Save 先写临时文件再 rename，中断时不会留下半个文件
func (d *Deployments) Save() error {
	data, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal deployments: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return fmt.Errorf("save deployments: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(d.path), "."+d.Network+"-*.yaml")
	if err != nil {
		return fmt.Errorf("save deployments: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("save deployments: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save deployments: %w", err)
	}
	if err := os.Rename(tmp.Name(), d.path); err != nil {
		return fmt.Errorf("save deployments: %w", err)
	}
	return nil
}
