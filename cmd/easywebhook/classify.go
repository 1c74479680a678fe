package main

import (
	"fmt"
	"net/netip"
	"os"

	"github.com/dawitel/easy-webhook/ipfilter"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func classifyCmd() *cobra.Command {
	var whitelist, blacklist, env string

	cmd := &cobra.Command{
		Use:   "classify [ip]",
		Short: "Classify a callback source address against allow and deny lists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ip, err := netip.ParseAddr(args[0])
			if err != nil {
				return fmt.Errorf("invalid address: %w", err)
			}

			logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel)
			rules := ipfilter.NewRules(whitelist, blacklist, ipfilter.Environment(env), logger)

			fmt.Fprintln(cmd.OutOrStdout(), rules.Classify(ip))
			return nil
		},
	}

	cmd.Flags().StringVar(&whitelist, "whitelist", "", "Semicolon-separated allowed addresses and CIDR ranges")
	cmd.Flags().StringVar(&blacklist, "blacklist", "", "Semicolon-separated denied addresses and CIDR ranges")
	cmd.Flags().StringVar(&env, "env", string(ipfilter.EnvironmentLive), "Provider environment for default ranges: live or test")

	return cmd
}
