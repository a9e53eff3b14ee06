package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/statute-crawler/internal/statute"
)

// newPoolCmd creates the 'pool' command group.
func newPoolCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pool",
		Short: "Inspect and maintain the shared token pool",
	}
	cmd.AddCommand(newPoolStatusCmd())
	cmd.AddCommand(newPoolEnsureCmd())
	cmd.AddCommand(newPoolProbeCmd())
	cmd.AddCommand(newPoolClearCmd())
	cmd.AddCommand(newPoolPrimaryCmd())
	return cmd
}

func newPoolStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print pool size and primary slot state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			st, err := a.Pool().Status(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
}

func newPoolEnsureCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ensure",
		Short: "Mint tokens until the pool reaches its required size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			mgr := a.Pool()
			filled, err := mgr.EnsurePoolSize(cmd.Context())
			if err != nil {
				return fmt.Errorf("ensure pool size: %w", err)
			}
			if !filled {
				a.Logger().Warn("pool still below required size")
			}
			st, err := mgr.Status(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
}

func newPoolProbeCmd() *cobra.Command {
	var evict bool
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Probe every stored token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			reports, err := a.Pool().Sweep(cmd.Context(), evict)
			if err != nil {
				return fmt.Errorf("probe pool: %w", err)
			}
			healthy := 0
			for _, r := range reports {
				if r.Healthy {
					healthy++
				}
			}
			a.Logger().Info("pool probed", zap.Int("records", len(reports)), zap.Int("healthy", healthy))
			return printJSON(cmd.OutOrStdout(), reports)
		},
	}
	cmd.Flags().BoolVar(&evict, "evict", false, "remove tokens that fail the probe")
	return cmd
}

func newPoolClearCmd() *cobra.Command {
	var primary bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every token from the pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			mgr := a.Pool()
			removed, err := mgr.Clear(cmd.Context())
			if err != nil {
				return fmt.Errorf("clear pool: %w", err)
			}
			if primary {
				if err := mgr.ClearPrimary(cmd.Context()); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d records\n", removed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&primary, "primary", false, "also clear the primary slot")
	return cmd
}

func newPoolPrimaryCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "primary [token]",
		Short: "Show the primary fallback token, or set it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			mgr := a.Pool()
			if len(args) == 1 {
				if err := mgr.SetPrimary(cmd.Context(), args[0], ttl); err != nil {
					return err
				}
			}
			token, ok, err := mgr.Primary(cmd.Context())
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "primary token not set")
				return nil
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{"token": statute.MaskToken(token)})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "primary lifetime when setting; 0 uses store.primary_ttl_seconds")
	return cmd
}
