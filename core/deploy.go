package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"omnichain-deploy/display"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/fatih/color"
)

type Options struct {
	ConfigPath string
	Network    string
	DryRun     bool
	NoVerify   bool
	Redeploy   []string
	Timeout    time.Duration
}

// Deploy 读取配置、连接网络并执行一次完整的部署与配置同步
func Deploy(ctx context.Context, opts Options) (*Report, error) {
	config, err := LoadConfig(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	chain, err := config.Network(opts.Network)
	if err != nil {
		return nil, err
	}
	secrets, err := LoadSecrets()
	if err != nil {
		return nil, err
	}
	key, err := LoadKey(secrets)
	if err != nil && !(opts.DryRun && errors.Is(err, ErrNoSigner)) {
		return nil, err
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	client := NewClient(chain)
	defer client.Close()
	chainId, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", chain.Name, err)
	}
	if chainId.Int64() != chain.ChainId {
		return nil, fmt.Errorf("%w: %s rpc reports chainid %s, config has %d", ErrInvalidConfig, chain.Name, chainId, chain.ChainId)
	}

	deployments, err := LoadDeployments(config.Deployments, chain)
	if err != nil {
		return nil, err
	}

	cfg := DeployerConfig{
		Chain:       chain,
		Backend:     client,
		Artifacts:   NewArtifactStore(config.Artifacts),
		Deployments: deployments,
		DryRun:      opts.DryRun,
		Redeploy:    opts.Redeploy,
	}
	if key != nil {
		display.Field("account", crypto.PubkeyToAddress(key.PublicKey).Hex())
		cfg.Sender = NewKeySender(client, key, chain.ChainId, chain.GasMultiplier)
		if chain.Safe != "" {
			display.Field("safe", chain.Safe)
			cfg.Safe = NewSafeSender(chain, client, key)
		}
	}
	if !opts.NoVerify && chain.ExplorerApi != "" {
		if secrets.EtherscanKey == "" {
			display.PrintfWithTime("%s\n", color.HiYellowString("ETHERSCAN_API_KEY not set, skip verification"))
		} else {
			cfg.Verifier = NewEtherscanVerifier(chain.ExplorerApi, secrets.EtherscanKey, chain.ChainId)
		}
	}

	deployer, err := NewDeployer(cfg)
	if err != nil {
		return nil, err
	}
	return deployer.Run(ctx)
}

func ListNetworks(configPath string, w io.Writer) error {
	config, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	for _, name := range config.NetworkNames() {
		chain := config.Networks[name]
		multisig := ""
		if chain.Safe != "" {
			multisig = " safe " + chain.Safe
		}
		fmt.Fprintf(w, "%-20s chainid %-10d swap %d lending %d%s\n", name, chain.ChainId, len(chain.Swap), len(chain.Lending), multisig)
	}
	return nil
}

func ShowDeployments(configPath, network string, w io.Writer) error {
	config, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	chain, ok := config.Networks[network]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedChain, network)
	}
	deployments, err := LoadDeployments(config.Deployments, chain)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, color.HiBlueString("%s (chainid %d)", chain.Name, chain.ChainId))
	if len(deployments.Contracts) == 0 {
		fmt.Fprintln(w, "no contracts deployed")
		return nil
	}
	for _, name := range deployments.Names() {
		c := deployments.Contracts[name]
		fmt.Fprintf(w, "%-24s %s  %s\n", name, c.Address, c.Artifact)
	}
	return nil
}
