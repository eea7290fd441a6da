package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/points-engine/api"
	"github.com/warp/points-engine/calendar"
	"github.com/warp/points-engine/ledger"
	"github.com/warp/points-engine/points"
	"github.com/warp/points-engine/quiz"
)

// cli carries the persistent flag values shared by every command.
type cli struct {
	overrides
	json bool
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "points",
		Short: "Personal points ledger",
		Long: `points keeps an append-only ledger of earned and spent points.
Sign in daily, complete tasks, redeem rewards and bet on a daily quiz.
The ledger lives in a single document on the configured store backend.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.backend, "backend", "", "Store backend (memory, sqlite, file, gitee, httpobject, redis)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&c.json, "json", false, "Print JSON instead of text")

	root.AddCommand(
		c.serveCmd(),
		c.statusCmd(),
		c.signInCmd(),
		c.taskCmd(),
		c.redeemCmd(),
		c.voucherCmd(),
		c.manualCmd(),
		c.quizCmd(),
		c.adminCmd(),
	)
	return root
}

// withService wires an app for a one-shot command and closes it afterwards.
func (c *cli) withService(cmd *cobra.Command, fn func(ctx context.Context, svc *points.Service) error) error {
	cfg, err := loadConfig(c.overrides)
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), a.service)
}

// print writes v as indented JSON with --json, otherwise runs text.
func (c *cli) print(w io.Writer, v any, text func(io.Writer)) error {
	if c.json {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

// ─── serve ──────────────────────────────────────────────────────────────────

func (c *cli) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API. The server starts even when the store is unreachable;
state endpoints answer 503 until a reload succeeds. With
POINTS_REFRESH_INTERVAL set the document and catalog are re-read in the
background.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error { return c.runServe(cmd) },
	}
	cmd.Flags().StringVar(&c.addr, "addr", "", "Listen address (overrides POINTS_ADDR)")
	return cmd
}

func (c *cli) runServe(cmd *cobra.Command) error {
	cfg, err := loadConfig(c.overrides)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	handler := api.NewHandler(a.service, a.log)
	router := api.NewRouter(handler, api.RouterOptions{
		CORSOrigins: cfg.CORSOrigins,
		Gatherer:    a.registry,
		Logger:      a.log,
	})

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	refresher := api.NewRefreshScheduler(a.service, cfg.RefreshInterval, a.log)

	failed := make(chan error, 1)
	go func() {
		a.log.Info("server starting", zap.String("addr", cfg.Addr), zap.String("backend", a.backend.Name))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			failed <- err
		}
	}()
	refresher.Start()

	select {
	case <-ctx.Done():
		a.log.Info("shutting down server")
	case err := <-failed:
		refresher.Stop()
		return fmt.Errorf("server failed: %w", err)
	}

	refresher.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	a.log.Info("server stopped")
	return nil
}

// ─── status ─────────────────────────────────────────────────────────────────

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show balance, today's tasks and rewards, vouchers and quiz",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withService(cmd, func(_ context.Context, svc *points.Service) error {
				d, err := svc.State()
				if err != nil {
					return err
				}
				return c.print(cmd.OutOrStdout(), d, func(w io.Writer) { printDashboard(w, d) })
			})
		},
	}
}

func printDashboard(w io.Writer, d points.Dashboard) {
	fmt.Fprintf(w, "Day:       %s\n", d.Day)
	fmt.Fprintf(w, "Balance:   %d (earned %d, spent %d, %d records)\n",
		d.Summary.Balance, d.Summary.Earned, d.Summary.Spent, d.Summary.Count)
	fmt.Fprintf(w, "Signed in: %s\n", yesNo(d.SignedIn))
	fmt.Fprintf(w, "Quiz:      %s\n", d.Quiz.Status)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if len(d.Tasks) > 0 {
		fmt.Fprintln(tw, "\nTASK\tNAME\tPOINTS\tTODAY\t")
		for _, t := range d.Tasks {
			fmt.Fprintf(tw, "%s\t%s\t%+d\t%s\t\n", t.Code, t.Name, t.Points, usage(t.CompletedCount, t.MaxDailyTimes))
		}
	}
	if len(d.Rewards) > 0 {
		fmt.Fprintln(tw, "\nREWARD\tNAME\tCOST\tTODAY\tAFFORDABLE")
		for _, r := range d.Rewards {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", r.Code, r.Name, r.Points, usage(r.RedeemedCount, r.MaxDailyTimes), yesNo(r.Affordable))
		}
	}
	tw.Flush()

	if len(d.Vouchers) > 0 {
		fmt.Fprintln(w)
		printVouchers(w, d.Vouchers)
	}
}

// ─── earning and spending ───────────────────────────────────────────────────

func (c *cli) signInCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "signin",
		Short: "Daily sign-in for a random amount of points",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.recordCmd(cmd, func(ctx context.Context, svc *points.Service) (ledger.Record, error) {
				return svc.SignIn(ctx)
			})
		},
	}
}

func (c *cli) taskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "task CODE",
		Short: "Complete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.recordCmd(cmd, func(ctx context.Context, svc *points.Service) (ledger.Record, error) {
				return svc.CompleteTask(ctx, args[0])
			})
		},
	}
}

func (c *cli) redeemCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "redeem CODE",
		Short: "Redeem a reward; the record becomes an unused voucher",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.recordCmd(cmd, func(ctx context.Context, svc *points.Service) (ledger.Record, error) {
				return svc.RedeemReward(ctx, args[0])
			})
		},
	}
}

func (c *cli) manualCmd() *cobra.Command {
	var pts, reason string
	cmd := &cobra.Command{
		Use:   "manual --points N --reason TEXT",
		Short: "Add a manual adjustment (negative points deduct)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.recordCmd(cmd, func(ctx context.Context, svc *points.Service) (ledger.Record, error) {
				return svc.AddManual(ctx, pts, reason)
			})
		},
	}
	cmd.Flags().StringVar(&pts, "points", "", "Whole number of points, may be negative")
	cmd.Flags().StringVar(&reason, "reason", "", "Why the adjustment was made")
	return cmd
}

// recordCmd runs an action that appends or updates one record.
func (c *cli) recordCmd(cmd *cobra.Command, fn func(context.Context, *points.Service) (ledger.Record, error)) error {
	return c.withService(cmd, func(ctx context.Context, svc *points.Service) error {
		rec, err := fn(ctx, svc)
		if err != nil {
			return err
		}
		return c.print(cmd.OutOrStdout(), rec, func(w io.Writer) {
			fmt.Fprintln(w, describe(rec))
			if s, err := svc.State(); err == nil {
				fmt.Fprintf(w, "Balance: %d\n", s.Summary.Balance)
			}
		})
	})
}

// ─── vouchers ───────────────────────────────────────────────────────────────

func (c *cli) voucherCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "voucher",
		Short: "List or use redeemed vouchers",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List vouchers, unused first",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.withService(cmd, func(_ context.Context, svc *points.Service) error {
					vs, err := svc.Vouchers()
					if err != nil {
						return err
					}
					return c.print(cmd.OutOrStdout(), vs, func(w io.Writer) { printVouchers(w, vs) })
				})
			},
		},
		&cobra.Command{
			Use:   "use ID",
			Short: "Mark a voucher as used",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.recordCmd(cmd, func(ctx context.Context, svc *points.Service) (ledger.Record, error) {
					return svc.UseVoucher(ctx, args[0])
				})
			},
		},
	)
	return cmd
}

func printVouchers(w io.Writer, vs []ledger.Record) {
	if len(vs) == 0 {
		fmt.Fprintln(w, "No vouchers.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tREWARD\tREDEEMED\tUSED")
	for _, v := range vs {
		used := "no"
		if v.UsedAt != nil {
			used = v.UsedAt.Format(time.DateTime)
		} else if v.Used {
			used = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", v.ID, v.RewardName, v.Date.Format(time.DateTime), used)
	}
	tw.Flush()
}

// ─── quiz ───────────────────────────────────────────────────────────────────

func (c *cli) quizCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quiz",
		Short: "Daily two-question quiz with a points bet",
		Long: `Bet points on two questions. The bet is deducted on start; submitting
pays back bet x 2 for two correct answers, bet for one and nothing for none.
One attempt per day; solved questions are never drawn again.`,
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Show today's quiz",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.withService(cmd, func(_ context.Context, svc *points.Service) error {
					q, err := svc.Quiz()
					if err != nil {
						return err
					}
					return c.print(cmd.OutOrStdout(), q, func(w io.Writer) { printQuiz(w, q) })
				})
			},
		},
		&cobra.Command{
			Use:   "start BET",
			Short: "Start today's quiz, deducting BET points",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				bet, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("bet %q: %w", args[0], quiz.ErrInvalidBet)
				}
				return c.withService(cmd, func(ctx context.Context, svc *points.Service) error {
					q, err := svc.StartQuiz(ctx, bet)
					if err != nil {
						return err
					}
					return c.print(cmd.OutOrStdout(), q, func(w io.Writer) { printQuiz(w, q) })
				})
			},
		},
		&cobra.Command{
			Use:   "submit ANSWER...",
			Short: "Answer every question (letters, in order) and submit",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withService(cmd, func(ctx context.Context, svc *points.Service) error {
					for i, choice := range args {
						if _, err := svc.AnswerQuiz(i, strings.ToUpper(choice)); err != nil {
							return err
						}
					}
					res, err := svc.SubmitQuiz(ctx)
					if err != nil {
						return err
					}
					return c.print(cmd.OutOrStdout(), res, func(w io.Writer) { printResult(w, res) })
				})
			},
		},
		&cobra.Command{
			Use:   "review [DATE]",
			Short: "Review the quiz finished on DATE (YYYY-MM-DD, default today)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withService(cmd, func(_ context.Context, svc *points.Service) error {
					var key calendar.DayKey
					if len(args) == 1 {
						k, err := calendar.ParseKey(args[0])
						if err != nil {
							return err
						}
						key = k
					} else {
						d, err := svc.State()
						if err != nil {
							return err
						}
						key = d.Day
					}
					res, err := svc.ReviewQuiz(key)
					if err != nil {
						return err
					}
					return c.print(cmd.OutOrStdout(), res, func(w io.Writer) { printResult(w, res) })
				})
			},
		},
		&cobra.Command{
			Use:   "history",
			Short: "List finished quizzes, newest first",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.withService(cmd, func(_ context.Context, svc *points.Service) error {
					rs, err := svc.QuizHistory()
					if err != nil {
						return err
					}
					return c.print(cmd.OutOrStdout(), rs, func(w io.Writer) {
						if len(rs) == 0 {
							fmt.Fprintln(w, "No finished quizzes.")
							return
						}
						tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
						fmt.Fprintln(tw, "DAY\tBET\tCORRECT\tPAYOUT\tNET")
						for _, r := range rs {
							fmt.Fprintf(tw, "%s\t%d\t%d/%d\t%d\t%+d\n", r.Day, r.Bet, r.Correct, len(r.Questions), r.Payout, r.Net)
						}
						tw.Flush()
					})
				})
			},
		},
	)
	return cmd
}

func printQuiz(w io.Writer, q quiz.Quiz) {
	fmt.Fprintf(w, "Quiz %s: %s\n", q.Day, q.Status)
	if q.Bet > 0 {
		fmt.Fprintf(w, "Bet: %d\n", q.Bet)
	}
	for i, qv := range q.Questions {
		fmt.Fprintf(w, "\n%d. %s\n", i+1, qv.Question)
		for j, choice := range qv.Choices {
			fmt.Fprintf(w, "   %s) %s\n", string(rune('A'+j)), choice)
		}
	}
	if q.Result != nil {
		fmt.Fprintln(w)
		printResult(w, *q.Result)
	}
}

func printResult(w io.Writer, r quiz.Result) {
	fmt.Fprintf(w, "%d of %d correct. Bet %d, payout %d, net %+d\n", r.Correct, len(r.Questions), r.Bet, r.Payout, r.Net)
	for i, qr := range r.Results {
		mark := "wrong"
		if qr.Correct {
			mark = "right"
		}
		fmt.Fprintf(w, "  %d. chose %s, answer %s (%s)\n", i+1, qr.Choice, qr.Answer, mark)
	}
}

// ─── admin ──────────────────────────────────────────────────────────────────

func (c *cli) adminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Maintenance commands",
	}

	var yes bool
	clearCmd := &cobra.Command{
		Use:   "clear --yes",
		Short: "Erase every record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to clear the ledger without --yes")
			}
			return c.withService(cmd, func(ctx context.Context, svc *points.Service) error {
				if err := svc.Clear(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Ledger cleared.")
				return nil
			})
		},
	}
	clearCmd.Flags().BoolVar(&yes, "yes", false, "Confirm erasing the ledger")

	var limit int
	revisions := &cobra.Command{
		Use:   "revisions",
		Short: "List stored document revisions (sqlite and redis backends)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withService(cmd, func(ctx context.Context, svc *points.Service) error {
				revs, err := svc.Revisions(ctx, limit)
				if err != nil {
					return err
				}
				return c.print(cmd.OutOrStdout(), revs, func(w io.Writer) {
					tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
					fmt.Fprintln(tw, "REV\tWRITTEN\tRECORDS\tBALANCE")
					for _, r := range revs {
						fmt.Fprintf(tw, "%d\t%s\t%d\t%d\n", r.Number, r.WrittenAt.Format(time.DateTime), r.Records, r.Balance)
					}
					tw.Flush()
				})
			})
		},
	}
	revisions.Flags().IntVar(&limit, "limit", 20, "Maximum revisions to list")

	cmd.AddCommand(clearCmd, revisions)
	return cmd
}

// ─── formatting ─────────────────────────────────────────────────────────────

func describe(r ledger.Record) string {
	switch r.Type {
	case ledger.TypeSignIn:
		return fmt.Sprintf("Signed in: %+d", r.Points)
	case ledger.TypeTask:
		return fmt.Sprintf("Task %q: %+d", r.TaskName, r.Points)
	case ledger.TypeReward:
		if r.Used {
			return fmt.Sprintf("Voucher %s (%s) used", r.ID, r.RewardName)
		}
		return fmt.Sprintf("Redeemed %q for %d, voucher %s", r.RewardName, -r.Points, r.ID)
	case ledger.TypeManual:
		return fmt.Sprintf("Manual %+d: %s", r.Points, r.Reason)
	}
	return fmt.Sprintf("%s %+d", r.Type, r.Points)
}

func usage(count int, limit *int) string {
	if limit == nil {
		return strconv.Itoa(count)
	}
	return fmt.Sprintf("%d/%d", count, *limit)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
