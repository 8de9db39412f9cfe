package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/password"
)

const redacted = "<redacted>"

func newCheckConfigCmd(opts *rootOptions) *cobra.Command {
	var show bool
	cmd := &cobra.Command{
		Use:   "check-config",
		Short: "Validate the resolved configuration",
		Long: `check-config resolves defaults, the YAML file and AUTHCORE_* environment
variables exactly as serve does, then validates the result and lists settings
that weaken the deployment. With --show the resolved configuration is printed
with secrets redacted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := authcore.LoadConfig(opts.configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config ok (profile %s)\n", cfg.Security.Profile)
			for _, w := range cfg.SecurityReport().Warnings() {
				fmt.Fprintf(out, "warning: %s\n", w)
			}
			if !show {
				return nil
			}
			enc := yaml.NewEncoder(out)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(redactConfig(cfg))
		},
	}
	cmd.Flags().BoolVar(&show, "show", false, "Print the resolved configuration")
	return cmd
}

func redactConfig(cfg authcore.Config) authcore.Config {
	for _, s := range []*string{
		&cfg.JWT.AccessSecret,
		&cfg.JWT.RefreshSecret,
		&cfg.JWT.PrivateKey,
		&cfg.Credential.Directory.BearerToken,
		&cfg.Credential.Cloud.BearerToken,
		&cfg.Server.RedisURL,
		&cfg.Server.DatabaseURL,
		&cfg.Server.CredentialKey,
	} {
		if *s != "" {
			*s = redacted
		}
	}
	return cfg
}

func newHashPasswordCmd() *cobra.Command {
	params := password.DefaultConfig()
	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Hash a password read from stdin as an argon2id PHC string",
		Long: `hash-password reads one line from stdin and prints its argon2id hash.
Use it to seed local users directly in the database.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return errors.New("no password on stdin")
			}
			pass := strings.TrimRight(line, "\r\n")

			hasher, err := password.NewArgon2(params)
			if err != nil {
				return err
			}
			hash, err := hasher.Hash(pass)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
	cmd.Flags().Uint32Var(&params.Memory, "memory-kb", params.Memory, "argon2 memory in KiB")
	cmd.Flags().Uint32Var(&params.Time, "time", params.Time, "argon2 iterations")
	cmd.Flags().Uint8Var(&params.Parallelism, "parallelism", params.Parallelism, "argon2 lanes")
	return cmd
}
