package core

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestLoadDeploymentsMissingFile(t *testing.T) {
	d, err := LoadDeployments(t.TempDir(), testChain())
	if err != nil {
		t.Fatal(err)
	}
	if len(d.Contracts) != 0 || d.Network != "testnet" || d.ChainId != 31337 {
		t.Fatalf("deployments = %+v", d)
	}
	if _, ok := d.Address(contractProxyWallet); ok {
		t.Fatal("empty record has an address")
	}
}

func TestDeploymentsSaveAndLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "deployments")
	chain := testChain()
	d, err := LoadDeployments(dir, chain)
	if err != nil {
		t.Fatal(err)
	}
	deployedAt := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	d.Set(contractProxyWallet, DeployedContract{Address: walletA.Hex(), Artifact: "ProxyWallet", TxHash: "0x01", DeployedAt: deployedAt})
	d.Set(swapKey("uniswap-v2"), DeployedContract{Address: routerA.Hex(), Artifact: "UniswapV2Adapter"})
	if err := d.Save(); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "testnet.yaml" {
		t.Fatalf("files left in %s: %v", dir, entries)
	}

	loaded, err := LoadDeployments(dir, chain)
	if err != nil {
		t.Fatal(err)
	}
	if got := loaded.Names(); !reflect.DeepEqual(got, []string{"ProxyWallet", "swap/uniswap-v2"}) {
		t.Fatalf("names = %v", got)
	}
	if got, ok := loaded.Address(contractProxyWallet); !ok || got != walletA {
		t.Fatalf("proxy = %s", got.Hex())
	}
	if got := loaded.Contracts[contractProxyWallet].DeployedAt; !got.Equal(deployedAt) {
		t.Fatalf("deployed at = %v", got)
	}
}

func TestLoadDeploymentsChainMismatch(t *testing.T) {
	dir := t.TempDir()
	body := "network: testnet\nchainid: 1\ncontracts: {}\n"
	if err := os.WriteFile(filepath.Join(dir, "testnet.yaml"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := LoadDeployments(dir, testChain())
	if err == nil || !strings.Contains(err.Error(), "does not match") {
		t.Fatalf("err = %v", err)
	}
}
