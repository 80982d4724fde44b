package core

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

var (
	ErrUnsupportedChain = errors.New("unsupported chain")
	ErrInvalidConfig    = errors.New("invalid config")
)

type Config struct {
	Artifacts   string           `yaml:"artifacts"`
	Deployments string           `yaml:"deployments"`
	Networks    map[string]Chain `yaml:"networks"`
}

type Chain struct {
	Name          string                   `yaml:"-"`
	ChainId       int64                    `yaml:"chainid"`
	Rpc           string                   `yaml:"rpc"`
	Rps           float64                  `yaml:"rps"`            // rpc 每秒请求数上限，0 不限
	GasMultiplier float64                  `yaml:"gas_multiplier"` // estimateGas 的放大倍数
	ExplorerApi   string                   `yaml:"explorer_api"`   // etherscan 兼容的 api 地址，空则不做合约验证
	Safe          string                   `yaml:"safe"`           // 多签地址，合约 owner 是它时交易走 safe 服务
	SafeService   string                   `yaml:"safe_service"`
	Owner         string                   `yaml:"owner"` // 最终 owner，空则保持部署账户
	Wallet        WalletConfig             `yaml:"wallet"`
	Swap          map[string]SwapConfig    `yaml:"swap"`
	Lending       map[string]LendingConfig `yaml:"lending"`
}

type WalletConfig struct {
	SupportedWallets []string `yaml:"supported_wallets"`
	SupportedTokens  []string `yaml:"supported_tokens"`
}

type SwapConfig struct {
	Contract string   `yaml:"contract"`
	Routers  []string `yaml:"routers"`
}

type LendingConfig struct {
	Contract     string   `yaml:"contract"`
	Pools        []string `yaml:"pools"`
	ReferralCode uint16   `yaml:"referral_code"`
}

// Secrets 只从环境变量读取，不写进 config.yaml
type Secrets struct {
	Mnemonic     string `env:"DEPLOYER_MNEMONIC"`
	PrivateKey   string `env:"DEPLOYER_PRIVATE_KEY"`
	EtherscanKey string `env:"ETHERSCAN_API_KEY"`
}

const (
	defaultArtifactsDir   = "./artifacts"
	defaultDeploymentsDir = "./deployments"
	defaultGasMultiplier  = 1.3
)

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

func ParseConfig(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if config.Artifacts == "" {
		config.Artifacts = defaultArtifactsDir
	}
	if config.Deployments == "" {
		config.Deployments = defaultDeploymentsDir
	}
	for name, chain := range config.Networks {
		chain.Name = name
		chain.Rpc = os.ExpandEnv(chain.Rpc)
		if chain.GasMultiplier == 0 {
			chain.GasMultiplier = defaultGasMultiplier
		}
		config.Networks[name] = chain
	}
	return &config, nil
}

func LoadSecrets() (Secrets, error) {
	var secrets Secrets
	if err := env.Parse(&secrets); err != nil {
		return Secrets{}, fmt.Errorf("parse env: %w", err)
	}
	return secrets, nil
}

// Network 按名字取网络配置并校验
func (c *Config) Network(name string) (Chain, error) {
	chain, ok := c.Networks[name]
	if !ok {
		return Chain{}, fmt.Errorf("%w: %s", ErrUnsupportedChain, name)
	}
	if err := chain.Validate(); err != nil {
		return Chain{}, err
	}
	return chain, nil
}

func (c *Config) NetworkNames() []string {
	names := make([]string, 0, len(c.Networks))
	for name := range c.Networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Chain) Validate() error {
	if c.ChainId <= 0 {
		return fmt.Errorf("%w: %s: chainid is required", ErrInvalidConfig, c.Name)
	}
	if strings.TrimSpace(c.Rpc) == "" {
		return fmt.Errorf("%w: %s: rpc is required", ErrInvalidConfig, c.Name)
	}
	if c.GasMultiplier < 1 {
		return fmt.Errorf("%w: %s: gas_multiplier must be >= 1", ErrInvalidConfig, c.Name)
	}
	if c.Safe != "" && c.SafeService == "" {
		return fmt.Errorf("%w: %s: safe requires safe_service", ErrInvalidConfig, c.Name)
	}
	check := func(field string, values ...string) error {
		for _, v := range values {
			if !common.IsHexAddress(v) {
				return fmt.Errorf("%w: %s: %s: invalid address %q", ErrInvalidConfig, c.Name, field, v)
			}
		}
		return nil
	}
	if c.Safe != "" {
		if err := check("safe", c.Safe); err != nil {
			return err
		}
	}
	if c.Owner != "" {
		if err := check("owner", c.Owner); err != nil {
			return err
		}
	}
	if err := check("wallet.supported_wallets", c.Wallet.SupportedWallets...); err != nil {
		return err
	}
	if err := check("wallet.supported_tokens", c.Wallet.SupportedTokens...); err != nil {
		return err
	}
	for protocol, swap := range c.Swap {
		if err := check("swap."+protocol+".routers", swap.Routers...); err != nil {
			return err
		}
	}
	for protocol, lending := range c.Lending {
		if err := check("lending."+protocol+".pools", lending.Pools...); err != nil {
			return err
		}
	}
	return nil
}

func (c *Chain) SwapProtocols() []string {
	return sortedKeys(c.Swap)
}

func (c *Chain) LendingProtocols() []string {
	return sortedKeys(c.Lending)
}

// SwapContract 返回 swap 适配器的 artifact 名，默认 uniswap-v2 -> UniswapV2Adapter
func (c *Chain) SwapContract(protocol string) string {
	if name := c.Swap[protocol].Contract; name != "" {
		return name
	}
	return adapterName(protocol)
}

func (c *Chain) LendingContract(protocol string) string {
	if name := c.Lending[protocol].Contract; name != "" {
		return name
	}
	return adapterName(protocol)
}

func adapterName(protocol string) string {
	var b strings.Builder
	for _, part := range strings.FieldsFunc(protocol, func(r rune) bool { return r == '-' || r == '_' }) {
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(part[1:])
	}
	b.WriteString("Adapter")
	return b.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func hexToAddresses(values []string) []common.Address {
	out := make([]common.Address, 0, len(values))
	for _, v := range values {
		out = append(out, common.HexToAddress(v))
	}
	return out
}
