package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/zbnerd/TutorFlow/internal/app"
	"github.com/zbnerd/TutorFlow/internal/config"
	"github.com/zbnerd/TutorFlow/internal/domain"
	"github.com/zbnerd/TutorFlow/pkg/middleware"
)

var Version = "dev"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	rootCmd := &cobra.Command{
		Use:          "tutorflow-batch",
		Short:        "Scheduled jobs of the TutorFlow core",
		Version:      Version,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(settleCmd())
	rootCmd.AddCommand(autoAttendCmd())
	rootCmd.AddCommand(remindCmd())
	rootCmd.AddCommand(remindSessionsCmd())
	rootCmd.AddCommand(recomputeRatingsCmd())
	rootCmd.AddCommand(retryRefundsCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withApp runs fn against a fully wired App and prints its result as JSON
func withApp(fn func(ctx context.Context, a *app.App) (any, error)) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := app.New(ctx, cfg, app.NewLogger(cfg.Env))
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		out, err := fn(ctx, a)
		if out != nil {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(out); encErr != nil && err == nil {
				err = encErr
			}
		}
		return err
	}
}

func settleCmd() *cobra.Command {
	var month string
	cmd := &cobra.Command{
		Use:   "settle",
		Short: "Settle and disburse tutor earnings for a closed month",
		Long: `Computes one settlement per tutor with billable sessions in the month and
disburses the net amount. A month closes at the marking deadline of its last
day; overdue sessions are swept first. Completed settlements are skipped, so a
failed run can be repeated and only retries the tutors that failed.`,
		RunE: withApp(func(ctx context.Context, a *app.App) (any, error) {
			ym := a.Settlements.DefaultMonth()
			if month != "" {
				var err error
				if ym, err = domain.ParseYearMonth(month); err != nil {
					return nil, err
				}
			}
			// overdue sessions get their unmarked outcome before the month is priced
			if _, err := a.Attendance.Sweep(ctx); err != nil {
				return nil, err
			}
			report, err := a.Settlements.Run(ctx, ym)
			if err != nil {
				return nil, err
			}
			if report.Failed > 0 {
				return report, fmt.Errorf("%d of %d settlements failed", report.Failed, len(report.Results))
			}
			return report, nil
		}),
	}
	cmd.Flags().StringVarP(&month, "month", "m", "", "Month to settle as YYYY-MM (default: previous month)")
	return cmd
}

func autoAttendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auto-attend",
		Short: "Apply the unmarked-session rule to sessions past their marking deadline",
		RunE: withApp(func(ctx context.Context, a *app.App) (any, error) {
			return a.Attendance.Sweep(ctx)
		}),
	}
}

func remindCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remind-attendance",
		Short: "Emit reminders for sessions still awaiting a mark",
		RunE: withApp(func(ctx context.Context, a *app.App) (any, error) {
			n, err := a.Attendance.RemindUnmarked(ctx)
			return map[string]int{"reminders": n}, err
		}),
	}
}

func remindSessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remind-sessions",
		Short: "Remind students of sessions starting tomorrow",
		Long:  "Run once a day, typically at 09:00 platform time. Every scheduled session of an approved booking that starts on the next calendar day gets one reminder event.",
		RunE: withApp(func(ctx context.Context, a *app.App) (any, error) {
			n, err := a.Attendance.RemindUpcoming(ctx)
			return map[string]int{"reminders": n}, err
		}),
	}
}

func recomputeRatingsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recompute-ratings",
		Short: "Rebuild every tutor rating and badge tier from active reviews",
		RunE: withApp(func(ctx context.Context, a *app.App) (any, error) {
			report, err := a.Reviews.RecomputeAll(ctx)
			if err != nil {
				return nil, err
			}
			return report, nil
		}),
	}
}

func retryRefundsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "retry-refunds",
		Short: "Issue pending, failed and stuck refunds again",
		RunE: withApp(func(ctx context.Context, a *app.App) (any, error) {
			return a.Refunds.RetryFailed(ctx, limit)
		}),
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "Maximum refunds per status")
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		userID int64
		role   string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("JWT_SECRET")
			if secret == "" {
				return fmt.Errorf("JWT_SECRET is not set")
			}
			if !domain.Role(role).Valid() {
				return fmt.Errorf("role must be STUDENT, TUTOR or ADMIN")
			}
			tok, err := middleware.IssueToken([]byte(secret), userID, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().Int64VarP(&userID, "user", "u", 0, "User ID")
	cmd.Flags().StringVarP(&role, "role", "r", string(domain.RoleStudent), "Role")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
