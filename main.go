package main

import (
	"fmt"
	"os"
	"time"

	"omnichain-deploy/core"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	configPath string
	network    string
	timeout    time.Duration
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.HiRedString("error: %v", err))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "omnichain-deploy",
		Short:         "Deploy the proxy wallet suite and sync its on-chain configuration",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "./config.yaml", "network config file")
	root.AddCommand(deployCmd(), planCmd(), networksCmd(), showCmd())
	return root
}

func deployCmd() *cobra.Command {
	var (
		redeploy []string
		noVerify bool
	)
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy missing contracts and apply config changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, core.Options{
				ConfigPath: configPath,
				Network:    network,
				NoVerify:   noVerify,
				Redeploy:   redeploy,
				Timeout:    timeout,
			})
		},
	}
	networkFlags(cmd)
	cmd.Flags().StringSliceVar(&redeploy, "redeploy", nil, "force a fresh deploy of the named contracts (e.g. WalletLogic, swap/uniswap-v2)")
	cmd.Flags().BoolVar(&noVerify, "no-verify", false, "skip explorer verification")
	return cmd
}

func planCmd() *cobra.Command {
	var redeploy []string
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the transactions deploy would send, without sending them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, core.Options{
				ConfigPath: configPath,
				Network:    network,
				DryRun:     true,
				Redeploy:   redeploy,
				Timeout:    timeout,
			})
		},
	}
	networkFlags(cmd)
	cmd.Flags().StringSliceVar(&redeploy, "redeploy", nil, "plan a fresh deploy of the named contracts")
	return cmd
}

func networksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "networks",
		Short: "List configured networks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return core.ListNetworks(configPath, cmd.OutOrStdout())
		},
	}
}

func showCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the deployed contracts recorded for a network",
		RunE: func(cmd *cobra.Command, args []string) error {
			return core.ShowDeployments(configPath, network, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&network, "network", "n", "", "network name from config")
	_ = cmd.MarkFlagRequired("network")
	return cmd
}

func networkFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&network, "network", "n", "", "network name from config")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Minute, "overall deadline for the run")
	_ = cmd.MarkFlagRequired("network")
}

func run(cmd *cobra.Command, opts core.Options) error {
	report, err := core.Deploy(cmd.Context(), opts)
	if report != nil {
		report.Print(cmd.OutOrStdout())
	}
	return err
}
