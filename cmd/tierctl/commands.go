package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"storagetier/internal/app"
	"storagetier/internal/models"
)

func dailyCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "daily",
		Short: "Run the daily snapshot, recommendations and migration check once",
		Long: `Runs one pass of the daily scheduler. Intended for an external cron; concurrent runs
sharing REDIS_URL skip while another run holds the lock.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withComponents(cmd, func(ctx context.Context, c *app.Components) error {
				report, err := c.Scheduler.RunOnce(ctx)
				if err != nil {
					return err
				}
				if flags.jsonOutput {
					return printJSON(cmd.OutOrStdout(), report)
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderDailyReport(report))
				return nil
			})
		},
	}
}

func compareCostsCmd(flags *rootFlags) *cobra.Command {
	var (
		fileSize  string
		downloads float64
		window    int
	)
	cmd := &cobra.Command{
		Use:   "compare-costs",
		Short: "Price a file on every backend, or compare current and optimized spend",
		Long: `With --size, prices one file of that size on every configured backend, cheapest first.
Without it, compares the current monthly spend against the optimal tier placement.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var size int64
			if fileSize != "" {
				parsed, err := parseSize(fileSize)
				if err != nil {
					return err
				}
				size = parsed
			}
			return flags.withComponents(cmd, func(ctx context.Context, c *app.Components) error {
				if fileSize != "" {
					quotes := c.Router.CompareCosts(size, downloads)
					if flags.jsonOutput {
						return printJSON(cmd.OutOrStdout(), quotes)
					}
					fmt.Fprintln(cmd.OutOrStdout(), renderQuotes(size, downloads, quotes))
					return nil
				}
				cmp := c.Optimizer.CostComparison(ctx, window)
				if flags.jsonOutput {
					return printJSON(cmd.OutOrStdout(), cmp)
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderComparison(cmp))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&fileSize, "size", "", "file size to price (e.g. 750MB, 2GiB, 1048576)")
	cmd.Flags().Float64Var(&downloads, "downloads", 0, "full downloads per month")
	cmd.Flags().IntVar(&window, "days", 30, "cost metrics window for the comparison")
	return cmd
}

func statusCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show migration queue counts and realized savings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withComponents(cmd, func(ctx context.Context, c *app.Components) error {
				status, err := c.Migrations.QueueStatus(ctx)
				if err != nil {
					return err
				}
				health := c.Registry.Health(ctx)
				if flags.jsonOutput {
					return printJSON(cmd.OutOrStdout(), map[string]any{"queue": status, "backends": health})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderStatus(status, health))
				return nil
			})
		},
	}
}

func recommendationsCmd(flags *rootFlags) *cobra.Command {
	var (
		kind  string
		limit int
	)
	cmd := &cobra.Command{
		Use:     "recommendations",
		Aliases: []string{"recs"},
		Short:   "List cost optimization recommendations, highest value first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if kind != "" {
				switch models.RecommendationType(kind) {
				case models.RecommendMigrate, models.RecommendDelete, models.RecommendCompress:
				default:
					return fmt.Errorf("unknown recommendation type %q (expected migrate, delete or compress)", kind)
				}
			}
			return flags.withComponents(cmd, func(ctx context.Context, c *app.Components) error {
				recs := filterRecommendations(c.Optimizer.GenerateRecommendations(ctx), models.RecommendationType(kind), limit)
				if flags.jsonOutput {
					return printJSON(cmd.OutOrStdout(), recs)
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderRecommendations(recs))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kind, "type", "", "only show this type (migrate, delete, compress)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows (0=all)")
	return cmd
}

func routeCmd(flags *rootFlags) *cobra.Command {
	var (
		source      string
		packageType string
		fileSize    string
		userID      string
		isTest      bool
	)
	cmd := &cobra.Command{
		Use:   "route",
		Short: "Show which backend an upload would be routed to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			size, err := parseSize(fileSize)
			if err != nil {
				return err
			}
			uploadSource, err := models.ParseUploadSource(source)
			if err != nil {
				return err
			}
			return flags.withComponents(cmd, func(ctx context.Context, c *app.Components) error {
				decision, err := c.Router.Route(ctx, models.RouteContext{
					UploadSource: uploadSource,
					PackageType:  packageType,
					FileSize:     size,
					UserID:       userID,
					IsTest:       isTest,
				})
				if err != nil {
					return err
				}
				if flags.jsonOutput {
					return printJSON(cmd.OutOrStdout(), decision)
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderDecision(decision))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&source, "source", string(models.UploadSourceUser), "upload source (user or ai_agent)")
	cmd.Flags().StringVar(&packageType, "type", "dataset", "package type")
	cmd.Flags().StringVar(&fileSize, "size", "0", "file size (e.g. 750MB, 2GiB, 1048576)")
	cmd.Flags().StringVar(&userID, "user", "", "uploading user id")
	cmd.Flags().BoolVar(&isTest, "test", false, "mark the upload as test data")
	return cmd
}

func processCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "process",
		Short: "Run one pass over the pending migration queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withComponents(cmd, func(ctx context.Context, c *app.Components) error {
				summary := c.Migrations.ProcessMigrationQueue(ctx)
				if flags.jsonOutput {
					return printJSON(cmd.OutOrStdout(), summary)
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderProcessSummary(summary))
				return nil
			})
		},
	}
}
