package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/andresuchdata/orderpoint/internal/clock"
	"github.com/andresuchdata/orderpoint/internal/config"
	"github.com/andresuchdata/orderpoint/internal/cron"
	"github.com/andresuchdata/orderpoint/internal/domain"
	"github.com/andresuchdata/orderpoint/internal/forecast"
	"github.com/andresuchdata/orderpoint/internal/leadtime"
	"github.com/andresuchdata/orderpoint/internal/replenish"
	"github.com/andresuchdata/orderpoint/internal/repository"
	"github.com/andresuchdata/orderpoint/internal/repository/postgres"
	"github.com/andresuchdata/orderpoint/internal/rules"
	"github.com/andresuchdata/orderpoint/pkg/logger"
)

// Version must match the base module version recorded in the database.
var Version = "1.0"

func newDBURLFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:     "db-url",
		Usage:    "Database connection string",
		Required: true,
		EnvVars:  []string{"DATABASE_URL"},
	}
}

func newNotifyFnFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "notify-fn",
		Usage:   "SQL function used to emit cron wake-ups",
		Value:   "pg_notify",
		EnvVars: []string{"DB_NOTIFY_FUNCTION"},
	}
}

// stack is the full pipeline wired against one connection, enough to
// run any cron action from the command line.
type stack struct {
	db           *postgres.DB
	cronStore    repository.CronStore
	orderpoints  repository.OrderpointRepository
	scheduler    *cron.Scheduler
	orchestrator *replenish.Orchestrator
}

func buildStack(c *cli.Context) (*stack, error) {
	db, err := postgres.Open(c.String("db-url"), c.String("notify-fn"))
	if err != nil {
		return nil, err
	}

	clk := clock.System()
	opLog := logger.WithComponent("opctl")

	cronStore := postgres.NewCronStore(db)
	moduleStore := postgres.NewModuleStore(db)
	orderpoints := postgres.NewOrderpointRepository(db)
	stock := postgres.NewStockRepository(db)
	products := postgres.NewProductRepository(db)
	locations := postgres.NewLocationRepository(db)
	ruleReader := postgres.NewRuleRepository(db)
	supplyOrders := postgres.NewSupplyOrderRepository(db)
	activities := postgres.NewActivityRepository(db)

	selector := rules.NewSelector(ruleReader, locations)
	engine := rules.NewEngine(selector, products, locations, rules.NewSupplyRunner(supplyOrders), opLog)
	resolver := leadtime.NewResolver(selector, clk)
	forecaster := forecast.NewEngine(stock, resolver, clk, c.Int("visibility-days"))
	orchestrator := replenish.NewOrchestrator(orderpoints, products, locations, stock, forecaster, engine, ruleReader, activities, clk, opLog)

	registry := cron.NewRegistry()
	registry.MustRegister(cron.VacuumActionName, cron.NewVacuumAction(cronStore, clk))
	replenish.RegisterActions(registry, orchestrator)

	// Zero CronConfig means the executor's built-in limits apply.
	executor := cron.NewExecutor(cronStore, registry, clk, config.CronConfig{}, cron.LogAdminNotifier{Log: opLog}, opLog)
	scheduler := cron.NewScheduler(cronStore, moduleStore, executor, registry, clk, Version, opLog)

	return &stack{
		db:           db,
		cronStore:    cronStore,
		orderpoints:  orderpoints,
		scheduler:    scheduler,
		orchestrator: orchestrator,
	}, nil
}

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("warning: could not load .env file: %v", err)
	}

	app := &cli.App{
		Name:  "opctl",
		Usage: "Administer the replenishment scheduler",
		Commands: []*cli.Command{
			migrateCommand(),
			cronCommand(),
			runOnceCommand(),
			triggerCommand(),
			gcCommand(),
			replenishCommand(),
			seedCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply the database schema",
		Flags: []cli.Flag{newDBURLFlag(), newNotifyFnFlag()},
		Action: func(c *cli.Context) error {
			db, err := postgres.Open(c.String("db-url"), c.String("notify-fn"))
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Migrate(c.Context); err != nil {
				return err
			}
			fmt.Println("schema applied")
			return nil
		},
	}
}

func cronCommand() *cli.Command {
	return &cli.Command{
		Name:  "cron",
		Usage: "Inspect and manage scheduled jobs",
		Subcommands: []*cli.Command{
			{
				Name:  "ls",
				Usage: "List jobs with their running statistics",
				Flags: []cli.Flag{newDBURLFlag(), newNotifyFnFlag()},
				Action: func(c *cli.Context) error {
					s, err := buildStack(c)
					if err != nil {
						return err
					}
					defer s.db.Close()

					jobs, err := s.cronStore.ListJobs(c.Context)
					if err != nil {
						return err
					}

					w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
					fmt.Fprintln(w, "ID\tNAME\tACTION\tACTIVE\tNEXTCALL\tFAILS\tRUNS\tMEAN(s)\tLAST(s)")
					for _, j := range jobs {
						fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%s\t%d\t%d\t%.2f\t%.2f\n",
							j.ID, j.Name, j.Action, j.Active,
							j.Nextcall.Format(time.RFC3339),
							j.FailureCount, j.TotalCount, j.MeanDuration, j.LastDuration)
					}
					return w.Flush()
				},
			},
			{
				Name:      "create",
				Usage:     "Register a new scheduled job",
				ArgsUsage: "NAME ACTION",
				Flags: []cli.Flag{
					newDBURLFlag(),
					newNotifyFnFlag(),
					&cli.IntFlag{Name: "every", Usage: "Interval count", Value: 1},
					&cli.StringFlag{Name: "unit", Usage: "Interval unit (minutes|hours|days|weeks|months)", Value: "days"},
					&cli.Int64Flag{Name: "user-id", Usage: "User the job runs as", Value: 1},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() != 2 {
						return fmt.Errorf("expected NAME and ACTION arguments")
					}
					s, err := buildStack(c)
					if err != nil {
						return err
					}
					defer s.db.Close()

					job := &domain.CronJob{
						Name:           c.Args().Get(0),
						Action:         c.Args().Get(1),
						UserID:         c.Int64("user-id"),
						Active:         true,
						IntervalNumber: c.Int("every"),
						IntervalType:   domain.IntervalType(c.String("unit")),
						Nextcall:       time.Now(),
					}
					if err := s.scheduler.CreateJob(c.Context, job); err != nil {
						return err
					}
					fmt.Printf("created job %d (%s)\n", job.ID, job.Name)
					return nil
				},
			},
		},
	}
}

func runOnceCommand() *cli.Command {
	return &cli.Command{
		Name:      "run-once",
		Usage:     "Execute one job immediately, bypassing the schedule",
		ArgsUsage: "JOB_ID",
		Flags:     []cli.Flag{newDBURLFlag(), newNotifyFnFlag()},
		Action: func(c *cli.Context) error {
			id, err := jobIDArg(c)
			if err != nil {
				return err
			}
			s, err := buildStack(c)
			if err != nil {
				return err
			}
			defer s.db.Close()

			status, err := s.scheduler.DirectRun(c.Context, id)
			if err != nil {
				return err
			}
			fmt.Printf("job %d finished: %s\n", id, status)
			return nil
		},
	}
}

func triggerCommand() *cli.Command {
	return &cli.Command{
		Name:      "trigger",
		Usage:     "Queue a one-shot execution request for a job",
		ArgsUsage: "JOB_ID",
		Flags: []cli.Flag{
			newDBURLFlag(),
			newNotifyFnFlag(),
			&cli.TimestampFlag{
				Name:   "at",
				Usage:  "When the trigger becomes due (default now)",
				Layout: time.RFC3339,
			},
		},
		Action: func(c *cli.Context) error {
			id, err := jobIDArg(c)
			if err != nil {
				return err
			}
			s, err := buildStack(c)
			if err != nil {
				return err
			}
			defer s.db.Close()

			at := time.Now()
			if t := c.Timestamp("at"); t != nil {
				at = *t
			}
			if err := s.scheduler.Trigger(c.Context, id, []time.Time{at}); err != nil {
				return err
			}
			fmt.Printf("trigger queued for job %d at %s\n", id, at.Format(time.RFC3339))
			return nil
		},
	}
}

func gcCommand() *cli.Command {
	return &cli.Command{
		Name:  "gc",
		Usage: "Delete spent auto orderpoints and aged scheduler records",
		Flags: []cli.Flag{newDBURLFlag(), newNotifyFnFlag()},
		Action: func(c *cli.Context) error {
			s, err := buildStack(c)
			if err != nil {
				return err
			}
			defer s.db.Close()

			if err := s.orchestrator.GarbageCollect(c.Context); err != nil {
				return err
			}

			cutoff := time.Now().Add(-7 * 24 * time.Hour)
			for {
				triggers, err := s.cronStore.VacuumTriggers(c.Context, cutoff, 1000)
				if err != nil {
					return err
				}
				progress, err := s.cronStore.VacuumProgress(c.Context, cutoff, 1000)
				if err != nil {
					return err
				}
				if triggers < 1000 && progress < 1000 {
					break
				}
			}
			fmt.Println("garbage collection done")
			return nil
		},
	}
}

func replenishCommand() *cli.Command {
	return &cli.Command{
		Name:      "replenish",
		Usage:     "Run the replenishment engine for explicit orderpoints",
		ArgsUsage: "ID[,ID...]",
		Flags: []cli.Flag{
			newDBURLFlag(),
			newNotifyFnFlag(),
			&cli.BoolFlag{Name: "force-to-max", Usage: "Fill up to the maximum regardless of the minimum test"},
			&cli.IntFlag{Name: "visibility-days", Usage: "Company-wide visibility day add-on", EnvVars: []string{"STOCK_VISIBILITY_DAYS"}},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected a comma-separated list of orderpoint ids")
			}
			ids, err := parseIDs(c.Args().Get(0))
			if err != nil {
				return err
			}
			s, err := buildStack(c)
			if err != nil {
				return err
			}
			defer s.db.Close()

			if err := s.orchestrator.Replenish(c.Context, ids, c.Bool("force-to-max")); err != nil {
				return err
			}
			fmt.Printf("replenished %d orderpoints\n", len(ids))
			return nil
		},
	}
}

func jobIDArg(c *cli.Context) (int64, error) {
	if c.NArg() != 1 {
		return 0, fmt.Errorf("expected a JOB_ID argument")
	}
	id, err := strconv.ParseInt(c.Args().Get(0), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid job id %q", c.Args().Get(0))
	}
	return id, nil
}

func parseIDs(arg string) ([]int64, error) {
	parts := strings.Split(arg, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid orderpoint id %q", part)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no orderpoint ids given")
	}
	return ids, nil
}
