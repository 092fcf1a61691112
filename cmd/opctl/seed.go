package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/andresuchdata/orderpoint/internal/cron"
	"github.com/andresuchdata/orderpoint/internal/domain"
	"github.com/andresuchdata/orderpoint/internal/replenish"
)

// defaultJobs are the jobs every fresh installation needs: the nightly
// replenishment cycle and the two garbage collectors.
var defaultJobs = []domain.CronJob{
	{
		Name:           "Replenishment: run reordering rules",
		Action:         replenish.ActionReplenish,
		UserID:         1,
		Active:         true,
		IntervalNumber: 1,
		IntervalType:   domain.IntervalDays,
	},
	{
		Name:           "Scheduler: vacuum triggers and progress",
		Action:         cron.VacuumActionName,
		UserID:         1,
		Active:         true,
		IntervalNumber: 1,
		IntervalType:   domain.IntervalDays,
	},
	{
		Name:           "Replenishment: drop spent auto orderpoints",
		Action:         replenish.ActionOrderpointGC,
		UserID:         1,
		Active:         true,
		IntervalNumber: 1,
		IntervalType:   domain.IntervalWeeks,
	},
}

func seedCommand() *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "Seed the database with the default cron jobs and optional demo data",
		Flags: []cli.Flag{
			newDBURLFlag(),
			newNotifyFnFlag(),
			&cli.BoolFlag{Name: "demo", Usage: "Also create a small demo warehouse with one orderpoint"},
		},
		Action: runSeeder,
	}
}

func runSeeder(c *cli.Context) error {
	s, err := buildStack(c)
	if err != nil {
		return err
	}
	defer s.db.Close()

	if err := s.db.Migrate(c.Context); err != nil {
		return err
	}

	for _, tpl := range defaultJobs {
		job := tpl
		job.Nextcall = time.Now()

		var exists bool
		err := s.db.GetContext(c.Context, &exists,
			`SELECT EXISTS (SELECT 1 FROM cron_job WHERE name = $1)`, job.Name)
		if err != nil {
			return fmt.Errorf("failed to check cron job %q: %w", job.Name, err)
		}
		if exists {
			continue
		}

		if err := s.scheduler.CreateJob(c.Context, &job); err != nil {
			return fmt.Errorf("failed to create cron job %q: %w", job.Name, err)
		}
		fmt.Printf("created job %q\n", job.Name)
	}

	if c.Bool("demo") {
		if err := seedDemoData(c, s); err != nil {
			return err
		}
	}

	fmt.Println("seeding done")
	return nil
}

// seedDemoData creates one warehouse with a stock location, a buy route
// and a reordering rule, enough to exercise a full cycle by hand.
func seedDemoData(c *cli.Context, s *stack) error {
	stmts := []string{
		`INSERT INTO location (id, name, parent_id, warehouse_id, replenish)
			VALUES (1, 'WH', NULL, 1, FALSE), (2, 'WH/Stock', 1, 1, TRUE)
			ON CONFLICT (id) DO NOTHING`,
		`INSERT INTO product (id, name, uom_rounding, responsible_id)
			VALUES (1, 'Demo Bolt M8', 1, 1)
			ON CONFLICT (id) DO NOTHING`,
		`INSERT INTO route_rule (id, action, source_location_id, dest_location_id, route_id, route_sequence, lead_days, group_propagation, warehouse_id, company_id)
			VALUES (1, 'buy', NULL, 2, 1, 10, 2, 'propagate', 1, 1)
			ON CONFLICT (id) DO NOTHING`,
		`INSERT INTO warehouse_route (warehouse_id, route_id)
			VALUES (1, 1)
			ON CONFLICT DO NOTHING`,
		`INSERT INTO supplier_info (product_id, delay_days)
			VALUES (1, 3)
			ON CONFLICT DO NOTHING`,
		`INSERT INTO orderpoint (product_id, location_id, warehouse_id, company_id, "trigger", origin, active, product_min_qty, product_max_qty, qty_multiple)
			SELECT 1, 2, 1, 1, 'auto', 'manual', TRUE, 10, 50, 5
			WHERE NOT EXISTS (
				SELECT 1 FROM orderpoint WHERE product_id = 1 AND location_id = 2 AND company_id = 1 AND active
			)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(c.Context, stmt); err != nil {
			return fmt.Errorf("failed to seed demo data: %w", err)
		}
	}
	fmt.Println("demo data created")
	return nil
}
