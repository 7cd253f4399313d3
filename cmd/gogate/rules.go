package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	goGate "github.com/MrEthical07/goGate"
	"github.com/MrEthical07/goGate/config"
	"github.com/MrEthical07/goGate/policy"
)

// errShadowedRules makes `rules lint` exit non-zero.
var errShadowedRules = errors.New("rule table has unreachable rules")

func newRulesCmd(configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect the access rule table",
	}
	cmd.AddCommand(newRulesCheckCmd(configFile))
	cmd.AddCommand(newRulesLintCmd(configFile))
	return cmd
}

func loadTable(configFile string) (*policy.Table, error) {
	f, err := config.Load(configFile, nil)
	if err != nil {
		return nil, err
	}
	cfg, err := f.EngineConfig()
	if err != nil {
		return nil, err
	}
	return goGate.CompilePolicy(cfg)
}

func newRulesCheckCmd(configFile *string) *cobra.Command {
	var (
		path      string
		roles     []string
		anonymous bool
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Show which rule matches a path and the resulting decision",
		Example: `  gogate rules check --config gogate.yaml --path /db/users --role ADMIN --role DBA
  gogate rules check --config gogate.yaml --path /admin --anonymous`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			table, err := loadTable(*configFile)
			if err != nil {
				return err
			}

			var subject *policy.Subject
			if !anonymous {
				subject = &policy.Subject{PrincipalID: "cli", Roles: roles}
			}
			rule, decision := table.Evaluate(path, subject)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "path:     %s\n", policy.NormalizePath(path))
			fmt.Fprintf(out, "rule:     %s\n", rule)
			fmt.Fprintf(out, "decision: %s\n", decision)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "request path to evaluate")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "role held by the caller (repeatable)")
	cmd.Flags().BoolVar(&anonymous, "anonymous", false, "evaluate for an unauthenticated caller")
	_ = cmd.MarkFlagRequired("path")
	cmd.MarkFlagsMutuallyExclusive("role", "anonymous")
	return cmd
}

func newRulesLintCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "lint",
		Short: "Report rules that can never match",
		RunE: func(cmd *cobra.Command, _ []string) error {
			table, err := loadTable(*configFile)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, r := range table.Rules() {
				fmt.Fprintln(out, r)
			}
			fmt.Fprintln(out, table.Fallback())

			shadowed := table.Shadowed()
			if len(shadowed) == 0 {
				fmt.Fprintln(out, "ok: every rule is reachable")
				return nil
			}
			for _, r := range shadowed {
				fmt.Fprintf(out, "unreachable: %s\n", r)
			}
			return errShadowedRules
		},
	}
}
