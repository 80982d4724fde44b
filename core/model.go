package core

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
)

type ActionKind string

const (
	ActionDeploy   ActionKind = "deploy"
	ActionUpgrade  ActionKind = "upgrade"
	ActionAdd      ActionKind = "add"
	ActionRemove   ActionKind = "remove"
	ActionSet      ActionKind = "set"
	ActionTransfer ActionKind = "transfer"
)

type ActionStatus string

const (
	StatusPlanned   ActionStatus = "planned"
	StatusConfirmed ActionStatus = "confirmed"
	StatusProposed  ActionStatus = "proposed"
)

// Action 一次部署或配置改动
type Action struct {
	Kind   ActionKind
	Target string // 逻辑合约名，例如 ProxyWallet、swap/uniswap-v2
	Method string
	Arg    string
	Sender common.Address
	Hash   common.Hash
	Status ActionStatus
}

type Report struct {
	Network  string
	ChainId  int64
	Deployer common.Address
	DryRun   bool
	Actions  []Action
}

func (r *Report) add(a Action) {
	r.Actions = append(r.Actions, a)
}

// Count 按状态统计
func (r *Report) Count(status ActionStatus) int {
	n := 0
	for _, a := range r.Actions {
		if a.Status == status {
			n++
		}
	}
	return n
}

func (r *Report) Print(w io.Writer) {
	mode := "deploy"
	if r.DryRun {
		mode = "plan"
	}
	fmt.Fprintln(w, color.HiBlueString("%s %s (chainid %d) deployer %s", mode, r.Network, r.ChainId, r.Deployer.Hex()))
	if len(r.Actions) == 0 {
		fmt.Fprintln(w, color.HiGreenString("nothing to do, on-chain state matches config"))
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tKIND\tTARGET\tMETHOD\tARG\tSTATUS\tHASH")
	for i, a := range r.Actions {
		hash := ""
		if a.Hash != (common.Hash{}) {
			hash = a.Hash.Hex()
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n", i+1, a.Kind, a.Target, a.Method, a.Arg, a.Status, hash)
	}
	tw.Flush()
	fmt.Fprintf(w, "%d confirmed, %d proposed, %d planned\n", r.Count(StatusConfirmed), r.Count(StatusProposed), r.Count(StatusPlanned))
}
