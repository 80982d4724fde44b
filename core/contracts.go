package core

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

const (
	methodOwner             = "owner"
	methodTransferOwnership = "transferOwnership"
	methodImplementation    = "implementation"
	methodUpgradeTo         = "upgradeTo"
	methodReferralCode      = "referralCode"
	methodSetReferralCode   = "setReferralCode"
	methodNonce             = "nonce"
)

//go:embed abi/*.json
var abiFiles embed.FS

var (
	proxyWalletAbi    *abi.ABI
	swapAdapterAbi    *abi.ABI
	lendingAdapterAbi *abi.ABI
	safeAbi           *abi.ABI
)

func init() {
	initAbi(&proxyWalletAbi, "abi/proxy_wallet.json")
	initAbi(&swapAdapterAbi, "abi/swap_adapter.json")
	initAbi(&lendingAdapterAbi, "abi/lending_adapter.json")
	initAbi(&safeAbi, "abi/safe.json")
}

func initAbi(a **abi.ABI, path string) {
	file, err := abiFiles.Open(path)
	if err != nil {
		panic(err)
	}
	defer file.Close()
	tmpAbi, err := abi.JSON(file)
	if err != nil {
		panic(fmt.Errorf("load %s: %w", path, err))
	}
	*a = &tmpAbi
}

// addressSet 描述链上一组地址的 读/增/删 方法，例如 getRouters/addRouter/removeRouter
type addressSet struct {
	Name   string
	List   string
	Add    string
	Remove string
}

var (
	setSupportedWallets = addressSet{"supported wallets", "getSupportedWallets", "addSupportedWallet", "removeSupportedWallet"}
	setSupportedTokens  = addressSet{"supported tokens", "getSupportedTokens", "addSupportedToken", "removeSupportedToken"}
	setAdapters         = addressSet{"adapters", "getAdapters", "addAdapter", "removeAdapter"}
	setRouters          = addressSet{"routers", "getRouters", "addRouter", "removeRouter"}
	setPools            = addressSet{"pools", "getPools", "addPool", "removePool"}
)

type baseContract struct {
	Address common.Address
	Abi     *abi.ABI
}

func newProxyWalletContract(address common.Address) *baseContract {
	return &baseContract{Address: address, Abi: proxyWalletAbi}
}

func newSwapAdapterContract(address common.Address) *baseContract {
	return &baseContract{Address: address, Abi: swapAdapterAbi}
}

func newLendingAdapterContract(address common.Address) *baseContract {
	return &baseContract{Address: address, Abi: lendingAdapterAbi}
}

func newSafeContract(address common.Address) *baseContract {
	return &baseContract{Address: address, Abi: safeAbi}
}

func (c *baseContract) call(ctx context.Context, caller bind.ContractCaller, out interface{}, methodName string, args ...interface{}) error {
	msg, err := packInput(c.Abi, common.Address{}, c.Address, methodName, args...)
	if err != nil {
		return err
	}
	resData, err := caller.CallContract(ctx, msg, nil)
	if err != nil {
		return fmt.Errorf("call %s: %w", methodName, err)
	}
	if err := unpackOutput(out, c.Abi, methodName, resData); err != nil {
		return fmt.Errorf("unpack %s: %w", methodName, err)
	}
	return nil
}

// Tx 构造调用 methodName 的交易
func (c *baseContract) Tx(label, methodName string, args ...interface{}) (Tx, error) {
	data, err := c.Abi.Pack(methodName, args...)
	if err != nil {
		return Tx{}, fmt.Errorf("pack %s: %w", methodName, err)
	}
	to := c.Address
	return Tx{Label: label, To: &to, Data: data, Value: big.NewInt(0)}, nil
}

func (c *baseContract) Owner(ctx context.Context, caller bind.ContractCaller) (common.Address, error) {
	var owner common.Address
	err := c.call(ctx, caller, &owner, methodOwner)
	return owner, err
}

func (c *baseContract) Implementation(ctx context.Context, caller bind.ContractCaller) (common.Address, error) {
	var impl common.Address
	err := c.call(ctx, caller, &impl, methodImplementation)
	return impl, err
}

func (c *baseContract) ReferralCode(ctx context.Context, caller bind.ContractCaller) (uint16, error) {
	var code uint16
	err := c.call(ctx, caller, &code, methodReferralCode)
	return code, err
}

func (c *baseContract) Nonce(ctx context.Context, caller bind.ContractCaller) (*big.Int, error) {
	nonce := big.NewInt(0)
	err := c.call(ctx, caller, &nonce, methodNonce)
	return nonce, err
}

func (c *baseContract) List(ctx context.Context, caller bind.ContractCaller, set addressSet) ([]common.Address, error) {
	var addresses []common.Address
	err := c.call(ctx, caller, &addresses, set.List)
	return addresses, err
}

func packInput(pabi *abi.ABI, from, toContract common.Address, methodName string, args ...interface{}) (ethereum.CallMsg, error) {
	inputParams, err := pabi.Pack(methodName, args...)
	if err != nil {
		return ethereum.CallMsg{}, fmt.Errorf("pack %s: %w", methodName, err)
	}
	return ethereum.CallMsg{From: from, To: &toContract, Data: inputParams}, nil
}

func unpackOutput(out interface{}, pabi *abi.ABI, methodName string, resData []byte) error {
	method, ok := pabi.Methods[methodName]
	if !ok {
		return errors.New("not found method:" + methodName)
	}
	a, err := method.Outputs.Unpack(resData)
	if err != nil {
		return err
	}
	return method.Outputs.Copy(out, a)
}
