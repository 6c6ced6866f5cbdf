package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/app"
	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/app/config"
	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/logger"
)

var actor string

func main() {
	rootCmd := &cobra.Command{
		Use:   "admin",
		Short: "Operator tasks for the extraction backend",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setup(cmd.Context())
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&actor, "actor", "cli", "name recorded on ledger rows")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(creditsCmd())
	rootCmd.AddCommand(usersCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup(ctx context.Context) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init("console", logger.LogLevel(cfg.Logs.Level)); err != nil {
		log.Printf("logger init failed: %v", err)
	}
	if err := app.Init(ctx, cfg); err != nil {
		return fmt.Errorf("init: %w", err)
	}
	app.MustInitDB()
	return nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Println("schema applied")
			return nil
		},
	}
}

func creditsCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "credits",
		Short: "Set or adjust a user's credit balance",
	}

	set := &cobra.Command{
		Use:   "set [user-id] [total]",
		Short: "Force the total balance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("total must be an integer: %w", err)
			}
			p, err := app.AdminSetCredits(cmd.Context(), args[0], n, "admin:"+actor, note)
			if err != nil {
				return err
			}
			fmt.Printf("%s: allowance=%d topup=%d total=%d\n", p.UserID,
				p.CreditsAllowanceRemaining, p.CreditsTopupRemaining, p.CreditsRemaining)
			return nil
		},
	}

	add := &cobra.Command{
		Use:   "add [user-id] [delta]",
		Short: "Apply a signed correction",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("delta must be an integer: %w", err)
			}
			p, err := app.AdminAddCredits(cmd.Context(), args[0], n, "admin:"+actor, note)
			if err != nil {
				return err
			}
			fmt.Printf("%s: allowance=%d topup=%d total=%d\n", p.UserID,
				p.CreditsAllowanceRemaining, p.CreditsTopupRemaining, p.CreditsRemaining)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&note, "note", "", "reason stored with the ledger row")
	cmd.AddCommand(set, add)
	return cmd
}

func usersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Inspect profiles",
	}

	var limit, offset int
	list := &cobra.Command{
		Use:   "list",
		Short: "List profiles, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			users, err := app.ListProfiles(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "USER\tEMAIL\tPLAN\tALLOWANCE\tTOPUP\tTOTAL\tDELETED")
			for _, p := range users {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%t\n", p.UserID, p.Email, p.Plan,
					p.CreditsAllowanceRemaining, p.CreditsTopupRemaining, p.CreditsRemaining, p.DeletedAt != nil)
			}
			return w.Flush()
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 50, "maximum rows")
	list.Flags().IntVar(&offset, "offset", 0, "rows to skip")

	cmd.AddCommand(list)
	return cmd
}
