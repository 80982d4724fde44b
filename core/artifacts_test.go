package core

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

const buildInfoBody = `{"solcLongVersion":"0.8.19+commit.7dd6d404","input":{"language":"Solidity","sources":{}}}`

func TestLoadHardhatArtifact(t *testing.T) {
	dir := t.TempDir()
	contractDir := filepath.Join(dir, "contracts", "wallet", "ProxyWallet.sol")
	writeFile(t, filepath.Join(contractDir, "ProxyWallet.json"),
		`{"contractName":"ProxyWallet","sourceName":"contracts/wallet/ProxyWallet.sol","abi":`+proxyAbi+`,"bytecode":"0x6080"}`)
	writeFile(t, filepath.Join(contractDir, "ProxyWallet.dbg.json"), `{"buildInfo":"../../../build-info/abc.json"}`)
	writeFile(t, filepath.Join(dir, "build-info", "abc.json"), buildInfoBody)

	artifact, err := NewArtifactStore(dir).Load("ProxyWallet")
	if err != nil {
		t.Fatal(err)
	}
	if artifact.SourceName != "contracts/wallet/ProxyWallet.sol" {
		t.Fatalf("source = %q", artifact.SourceName)
	}
	if !bytes.Equal(artifact.Bytecode, []byte{0x60, 0x80}) {
		t.Fatalf("bytecode = %x", artifact.Bytecode)
	}
	info, err := artifact.LoadBuildInfo()
	if err != nil {
		t.Fatal(err)
	}
	if info.SolcLongVersion != "0.8.19+commit.7dd6d404" {
		t.Fatalf("version = %q", info.SolcLongVersion)
	}

	args, err := artifact.ConstructorArgs(walletA, deployerAddress)
	if err != nil {
		t.Fatal(err)
	}
	want := append(common.LeftPadBytes(walletA.Bytes(), 32), common.LeftPadBytes(deployerAddress.Bytes(), 32)...)
	if !bytes.Equal(args, want) {
		t.Fatalf("args = %x", args)
	}
	if _, err := artifact.ConstructorArgs(walletA); err == nil {
		t.Fatal("missing constructor arg accepted")
	}
}

func TestLoadFoundryArtifact(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "UniswapV2Adapter.sol", "UniswapV2Adapter.json"),
		`{"abi":`+adapterAbi+`,"bytecode":{"object":"0x60016002"},`+
			`"metadata":{"settings":{"compilationTarget":{"src/swap/UniswapV2Adapter.sol":"UniswapV2Adapter"}}}}`)

	artifact, err := NewArtifactStore(dir).Load("UniswapV2Adapter")
	if err != nil {
		t.Fatal(err)
	}
	if artifact.ContractName != "UniswapV2Adapter" || artifact.SourceName != "src/swap/UniswapV2Adapter.sol" {
		t.Fatalf("artifact = %s %s", artifact.ContractName, artifact.SourceName)
	}
	if !bytes.Equal(artifact.Bytecode, []byte{0x60, 0x01, 0x60, 0x02}) {
		t.Fatalf("bytecode = %x", artifact.Bytecode)
	}
	if _, err := artifact.LoadBuildInfo(); !errors.Is(err, ErrNoBuildInfo) {
		t.Fatalf("err = %v, want ErrNoBuildInfo", err)
	}
}

func TestLoadArtifactErrors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "Linked.json"),
		`{"abi":[],"bytecode":"0x6080__$abcdef$__6080"}`)
	writeFile(t, filepath.Join(dir, "IWallet.json"), `{"abi":[],"bytecode":"0x"}`)
	store := NewArtifactStore(dir)

	if _, err := store.Load("Missing"); !errors.Is(err, ErrArtifactNotFound) {
		t.Fatalf("missing: err = %v", err)
	}
	if _, err := store.Load("Linked"); err == nil {
		t.Fatal("unlinked bytecode accepted")
	}
	if _, err := store.Load("IWallet"); err == nil {
		t.Fatal("interface without bytecode accepted")
	}
}

func TestConstructorArgsNone(t *testing.T) {
	store := writeTestArtifacts(t)
	artifact, err := store.Load("WalletLogic")
	if err != nil {
		t.Fatal(err)
	}
	args, err := artifact.ConstructorArgs()
	if err != nil || args != nil {
		t.Fatalf("args = %x, err = %v", args, err)
	}
}
