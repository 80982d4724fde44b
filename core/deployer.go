package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"omnichain-deploy/display"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNotOwner = errors.New("contract is not owned by the deployer or the configured safe")
)

type DeployerConfig struct {
	Chain       Chain
	Backend     bind.ContractCaller
	Sender      Sender // 部署账户，dry run 时可以为空
	Safe        Sender // 多签，未配置时为空
	Artifacts   *ArtifactStore
	Deployments *Deployments
	Verifier    Verifier // 为空时不做合约验证
	DryRun      bool
	Redeploy    []string
}

// Deployer 按固定顺序部署缺失的合约，并把链上配置调整到与 config 一致
type Deployer struct {
	chain       Chain
	backend     bind.ContractCaller
	sender      Sender
	safe        Sender
	deployer    common.Address
	artifacts   *ArtifactStore
	deployments *Deployments
	verifier    Verifier
	dryRun      bool
	redeploy    map[string]bool

	owners map[common.Address]common.Address
	report *Report
	now    func() time.Time
}

func NewDeployer(cfg DeployerConfig) (*Deployer, error) {
	if cfg.Backend == nil {
		return nil, errors.New("deployer: missing backend")
	}
	if cfg.Artifacts == nil || cfg.Deployments == nil {
		return nil, errors.New("deployer: missing artifacts or deployments")
	}
	if cfg.Sender == nil && !cfg.DryRun {
		return nil, ErrNoSigner
	}
	d := &Deployer{
		chain:       cfg.Chain,
		backend:     cfg.Backend,
		sender:      cfg.Sender,
		safe:        cfg.Safe,
		artifacts:   cfg.Artifacts,
		deployments: cfg.Deployments,
		verifier:    cfg.Verifier,
		dryRun:      cfg.DryRun,
		redeploy:    map[string]bool{},
		owners:      map[common.Address]common.Address{},
		now:         time.Now,
	}
	if cfg.Sender != nil {
		d.deployer = cfg.Sender.Address()
	}
	managed := managedContracts(cfg.Chain)
	for _, name := range cfg.Redeploy {
		if !managed[name] {
			return nil, fmt.Errorf("%w: redeploy %q is not a contract managed on %s", ErrInvalidConfig, name, cfg.Chain.Name)
		}
		d.redeploy[name] = true
	}
	d.report = &Report{
		Network:  cfg.Chain.Name,
		ChainId:  cfg.Chain.ChainId,
		Deployer: d.deployer,
		DryRun:   cfg.DryRun,
	}
	return d, nil
}

// managedContracts 当前网络配置下部署的全部逻辑名
func managedContracts(chain Chain) map[string]bool {
	names := map[string]bool{contractWalletLogic: true, contractProxyWallet: true}
	for protocol := range chain.Swap {
		names[swapKey(protocol)] = true
	}
	for protocol := range chain.Lending {
		names[lendingKey(protocol)] = true
	}
	return names
}

type adapterRef struct {
	key      string
	contract *baseContract
}

func (d *Deployer) Run(ctx context.Context) (*Report, error) {
	display.Title("network %s (chainid %d)", d.chain.Name, d.chain.ChainId)

	logic, err := d.ensureContract(ctx, contractWalletLogic, contractWalletLogic)
	if err != nil {
		return d.report, err
	}
	proxyAddress, err := d.ensureContract(ctx, contractProxyWallet, contractProxyWallet, logic, d.deployer)
	if err != nil {
		return d.report, err
	}
	proxy := newProxyWalletContract(proxyAddress)
	if err := d.ensureImplementation(ctx, proxy, logic); err != nil {
		return d.report, err
	}
	if err := d.reconcileSet(ctx, contractProxyWallet, proxy, setSupportedWallets, hexToAddresses(d.chain.Wallet.SupportedWallets)); err != nil {
		return d.report, err
	}
	if err := d.reconcileSet(ctx, contractProxyWallet, proxy, setSupportedTokens, hexToAddresses(d.chain.Wallet.SupportedTokens)); err != nil {
		return d.report, err
	}

	adapters := make([]adapterRef, 0, len(d.chain.Swap)+len(d.chain.Lending))
	for _, protocol := range d.chain.SwapProtocols() {
		key := swapKey(protocol)
		address, err := d.ensureContract(ctx, key, d.chain.SwapContract(protocol), d.deployer)
		if err != nil {
			return d.report, err
		}
		adapter := newSwapAdapterContract(address)
		if err := d.reconcileSet(ctx, key, adapter, setRouters, hexToAddresses(d.chain.Swap[protocol].Routers)); err != nil {
			return d.report, err
		}
		adapters = append(adapters, adapterRef{key: key, contract: adapter})
	}
	for _, protocol := range d.chain.LendingProtocols() {
		key := lendingKey(protocol)
		lending := d.chain.Lending[protocol]
		address, err := d.ensureContract(ctx, key, d.chain.LendingContract(protocol), d.deployer)
		if err != nil {
			return d.report, err
		}
		adapter := newLendingAdapterContract(address)
		if err := d.reconcileSet(ctx, key, adapter, setPools, hexToAddresses(lending.Pools)); err != nil {
			return d.report, err
		}
		if err := d.reconcileReferralCode(ctx, key, adapter, lending.ReferralCode); err != nil {
			return d.report, err
		}
		adapters = append(adapters, adapterRef{key: key, contract: adapter})
	}
	if err := d.reconcileAdapters(ctx, proxy, adapters); err != nil {
		return d.report, err
	}

	if err := d.reconcileOwner(ctx, contractProxyWallet, proxy); err != nil {
		return d.report, err
	}
	for _, adapter := range adapters {
		if err := d.reconcileOwner(ctx, adapter.key, adapter.contract); err != nil {
			return d.report, err
		}
	}
	display.Separator()
	return d.report, nil
}

// ensureContract 记录中有地址、链上有代码且 artifact 未变则复用，否则部署并立即写入记录
// dry run 时需要部署的合约返回零地址
func (d *Deployer) ensureContract(ctx context.Context, key, artifactName string, args ...interface{}) (common.Address, error) {
	address, reuse := d.deployments.Address(key)
	reuse = reuse && !d.redeploy[key]
	if prev := d.deployments.Contracts[key].Artifact; reuse && prev != "" && prev != artifactName {
		display.PrintfWithTime("%s recorded as %s, config wants %s, deploying again\n", key, prev, artifactName)
		reuse = false
	}
	if reuse {
		code, err := d.backend.CodeAt(ctx, address, nil)
		if err != nil {
			return common.Address{}, fmt.Errorf("%s: code at %s: %w", key, address.Hex(), err)
		}
		if len(code) > 0 {
			display.PrintfWithTime("%s already deployed at %s\n", key, address.Hex())
			return address, nil
		}
		display.PrintfWithTime("%s recorded at %s has no code, deploying again\n", key, address.Hex())
	}

	artifact, err := d.artifacts.Load(artifactName)
	if err != nil {
		return common.Address{}, fmt.Errorf("%s: %w", key, err)
	}
	constructorArgs, err := artifact.ConstructorArgs(args...)
	if err != nil {
		return common.Address{}, fmt.Errorf("%s: %w", key, err)
	}
	data := append(append([]byte{}, artifact.Bytecode...), constructorArgs...)

	action := Action{Kind: ActionDeploy, Target: key, Method: artifactName, Sender: d.deployer}
	if d.dryRun {
		action.Status = StatusPlanned
		d.report.add(action)
		return common.Address{}, nil
	}

	result, err := d.sender.Send(ctx, Tx{Label: "deploy " + key, Data: data})
	if err != nil {
		return common.Address{}, err
	}
	address = result.ContractAddress
	d.deployments.Set(key, DeployedContract{
		Address:    address.Hex(),
		Artifact:   artifactName,
		TxHash:     result.Hash.Hex(),
		DeployedAt: d.now().UTC(),
	})
	if err := d.deployments.Save(); err != nil {
		return address, err
	}
	action.Arg = address.Hex()
	action.Hash = result.Hash
	action.Status = StatusConfirmed
	d.report.add(action)
	d.owners[address] = d.deployer
	display.Success("%s deployed at %s", key, address.Hex())

	d.verify(ctx, VerifyRequest{Address: address, Artifact: artifact, ConstructorArgs: constructorArgs})
	return address, nil
}

// verify 验证失败只打印，不影响部署
func (d *Deployer) verify(ctx context.Context, req VerifyRequest) {
	if d.verifier == nil {
		return
	}
	if err := d.verifier.Verify(ctx, req); err != nil {
		display.Failure("verify %s at %s failed: %v", req.Artifact.ContractName, req.Address.Hex(), err)
	}
}

// ownerOf 新部署（或 dry run 中待部署）的合约 owner 是部署账户
func (d *Deployer) ownerOf(ctx context.Context, target string, contract *baseContract) (common.Address, error) {
	if contract.Address == (common.Address{}) {
		return d.deployer, nil
	}
	if owner, ok := d.owners[contract.Address]; ok {
		return owner, nil
	}
	owner, err := contract.Owner(ctx, d.backend)
	if err != nil {
		return common.Address{}, fmt.Errorf("%s: %w", target, err)
	}
	d.owners[contract.Address] = owner
	return owner, nil
}

// adminSender 按链上 owner 选择发送方：部署账户直接发送，safe 则提交多签
func (d *Deployer) adminSender(ctx context.Context, target string, contract *baseContract) (Sender, common.Address, error) {
	owner, err := d.ownerOf(ctx, target, contract)
	if err != nil {
		return nil, common.Address{}, err
	}
	if d.dryRun {
		return nil, owner, nil
	}
	if d.sender != nil && owner == d.sender.Address() {
		return d.sender, owner, nil
	}
	if d.safe != nil && owner == d.safe.Address() {
		return d.safe, owner, nil
	}
	return nil, owner, fmt.Errorf("%w: %s owner is %s", ErrNotOwner, target, owner.Hex())
}

// submit 发送一笔管理交易并记录到 report
func (d *Deployer) submit(ctx context.Context, target string, contract *baseContract, kind ActionKind, method string, arg interface{}) error {
	sender, owner, err := d.adminSender(ctx, target, contract)
	if err != nil {
		return err
	}
	action := Action{Kind: kind, Target: target, Method: method, Arg: formatArg(arg), Sender: owner}
	if d.dryRun {
		action.Status = StatusPlanned
		d.report.add(action)
		display.PrintfWithTime("plan %s %s.%s(%s)\n", kind, target, method, action.Arg)
		return nil
	}

	tx, err := contract.Tx(target+"."+method, method, arg)
	if err != nil {
		return fmt.Errorf("%s: %w", target, err)
	}
	result, err := sender.Send(ctx, tx)
	if err != nil {
		return err
	}
	action.Hash = result.Hash
	action.Status = StatusConfirmed
	if result.Proposed {
		action.Status = StatusProposed
	}
	d.report.add(action)
	return nil
}

func formatArg(arg interface{}) string {
	switch v := arg.(type) {
	case common.Address:
		if v == (common.Address{}) {
			return "(new)"
		}
		return v.Hex()
	default:
		return fmt.Sprint(v)
	}
}
