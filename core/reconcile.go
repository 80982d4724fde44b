package core

import (
	"context"
	"fmt"

	"omnichain-deploy/display"

	"github.com/ethereum/go-ethereum/common"
)

// ensureImplementation proxy 指向的逻辑合约与 WalletLogic 不一致时 upgradeTo
func (d *Deployer) ensureImplementation(ctx context.Context, proxy *baseContract, logic common.Address) error {
	if proxy.Address == (common.Address{}) {
		return nil
	}
	impl, err := proxy.Implementation(ctx, d.backend)
	if err != nil {
		return fmt.Errorf("%s: %w", contractProxyWallet, err)
	}
	if impl == logic {
		display.PrintfWithTime("%s implementation up to date %s\n", contractProxyWallet, impl.Hex())
		return nil
	}
	return d.submit(ctx, contractProxyWallet, proxy, ActionUpgrade, methodUpgradeTo, logic)
}

// reconcileSet 链上多出的先删，缺少的再加
func (d *Deployer) reconcileSet(ctx context.Context, target string, contract *baseContract, set addressSet, desired []common.Address) error {
	var current []common.Address
	if contract.Address != (common.Address{}) {
		var err error
		current, err = contract.List(ctx, d.backend, set)
		if err != nil {
			return fmt.Errorf("%s %s: %w", target, set.Name, err)
		}
	}
	remove, add := diffAddresses(current, desired)
	if len(remove) == 0 && len(add) == 0 {
		display.PrintfWithTime("%s %s up to date (%d)\n", target, set.Name, len(current))
		return nil
	}
	display.PrintfWithTime("%s %s: %d to remove, %d to add\n", target, set.Name, len(remove), len(add))
	for _, address := range remove {
		if err := d.submit(ctx, target, contract, ActionRemove, set.Remove, address); err != nil {
			return err
		}
	}
	for _, address := range add {
		if err := d.submit(ctx, target, contract, ActionAdd, set.Add, address); err != nil {
			return err
		}
	}
	return nil
}

func (d *Deployer) reconcileReferralCode(ctx context.Context, target string, contract *baseContract, desired uint16) error {
	var current uint16
	if contract.Address != (common.Address{}) {
		var err error
		current, err = contract.ReferralCode(ctx, d.backend)
		if err != nil {
			return fmt.Errorf("%s: %w", target, err)
		}
	}
	if current == desired {
		display.PrintfWithTime("%s referral code up to date (%d)\n", target, current)
		return nil
	}
	return d.submit(ctx, target, contract, ActionSet, methodSetReferralCode, desired)
}

// reconcileAdapters proxy 上登记的适配器应当正好是 config 中的全部适配器
func (d *Deployer) reconcileAdapters(ctx context.Context, proxy *baseContract, adapters []adapterRef) error {
	desired := make([]common.Address, 0, len(adapters))
	var pending []adapterRef
	for _, adapter := range adapters {
		if adapter.contract.Address == (common.Address{}) {
			pending = append(pending, adapter)
			continue
		}
		desired = append(desired, adapter.contract.Address)
	}
	if err := d.reconcileSet(ctx, contractProxyWallet, proxy, setAdapters, desired); err != nil {
		return err
	}
	// dry run 中待部署的适配器还没有地址
	for _, adapter := range pending {
		d.report.add(Action{
			Kind:   ActionAdd,
			Target: contractProxyWallet,
			Method: setAdapters.Add,
			Arg:    "(new " + adapter.key + ")",
			Sender: d.deployer,
			Status: StatusPlanned,
		})
	}
	return nil
}

func (d *Deployer) reconcileOwner(ctx context.Context, target string, contract *baseContract) error {
	if d.chain.Owner == "" {
		return nil
	}
	want := common.HexToAddress(d.chain.Owner)
	owner, err := d.ownerOf(ctx, target, contract)
	if err != nil {
		return err
	}
	if owner == want {
		return nil
	}
	if err := d.submit(ctx, target, contract, ActionTransfer, methodTransferOwnership, want); err != nil {
		return err
	}
	if !d.dryRun && d.report.Actions[len(d.report.Actions)-1].Status == StatusConfirmed {
		d.owners[contract.Address] = want
	}
	return nil
}
