package main

import (
	"fmt"
	"time"

	"telephony-failover/internal/auth"
	"telephony-failover/internal/rbac"

	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an operator access token",
	Long: `Mint a signed access token for the operator API.

Examples:
  failoverctl token --operator alice --role operator
  failoverctl token --operator bob --role viewer --ttl 1h`,
	Args: cobra.NoArgs,
	RunE: runToken,
}

var (
	tokenOperator string
	tokenRole     string
	tokenTTL      time.Duration
)

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().StringVar(&tokenOperator, "operator", "", "Operator id recorded in the token (required)")
	tokenCmd.Flags().StringVar(&tokenRole, "role", rbac.RoleOperator, "Role: viewer, operator or admin")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime (default: JWT_ACCESS_TTL)")
	_ = tokenCmd.MarkFlagRequired("operator")
}

func runToken(cmd *cobra.Command, args []string) error {
	if !rbac.IsKnown(tokenRole) {
		return fmt.Errorf("unknown role %q", tokenRole)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	m, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return err
	}
	tok, err := m.Issue(time.Now(), tokenOperator, tokenRole, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), tok)
	return nil
}
