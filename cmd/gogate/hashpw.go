package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	goGate "github.com/MrEthical07/goGate"
	"github.com/MrEthical07/goGate/password"
)

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Print an argon2id hash for a directory entry",
		Long: `Read a password from the first line of stdin and print its argon2id PHC
hash using the default cost parameters.`,
		Example: `  printf '%s\n' 'correct-horse-battery' | gogate hash-password`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return oops.In("hash-password").Code("READ_FAILED").Wrapf(err, "reading password from stdin")
			}
			secret := strings.TrimRight(line, "\r\n")

			p := goGate.DefaultConfig().Password
			hasher, err := password.NewArgon2(password.Config{
				Memory:      p.Memory,
				Time:        p.Time,
				Parallelism: p.Parallelism,
				SaltLength:  p.SaltLength,
				KeyLength:   p.KeyLength,
			})
			if err != nil {
				return err
			}
			hash, err := hasher.Hash(secret)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
