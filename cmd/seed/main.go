package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/scheduling-engine/internal/availability"
	"github.com/hackgods/scheduling-engine/internal/civil"
	"github.com/hackgods/scheduling-engine/internal/config"
	"github.com/hackgods/scheduling-engine/internal/db"
	"github.com/hackgods/scheduling-engine/internal/engine"
	"github.com/hackgods/scheduling-engine/internal/lock"
	"github.com/hackgods/scheduling-engine/internal/logging"
	"github.com/hackgods/scheduling-engine/internal/resource"
	"github.com/hackgods/scheduling-engine/internal/token"
)

type seedOptions struct {
	facility      string
	patients      int
	practitioners int
	days          int
}

func main() {
	var opts seedOptions
	cmd := &cobra.Command{
		Use:          "seed",
		Short:        "Populate Postgres with patients, practitioner schedules and token categories",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts)
		},
	}
	cmd.Flags().StringVar(&opts.facility, "facility", "", "Facility id to seed (random when empty)")
	cmd.Flags().IntVar(&opts.patients, "patients", 9000, "Number of patients")
	cmd.Flags().IntVar(&opts.practitioners, "practitioners", 100, "Number of practitioners with a schedule")
	cmd.Flags().IntVar(&opts.days, "days", 90, "How many days the schedules stay valid")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(opts seedOptions) error {
	cfg, err := config.Load(true)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Env, cfg.LogLevel)
	logger.Info().Msg("seed starting")

	facility := uuid.New()
	if opts.facility != "" {
		if facility, err = uuid.Parse(opts.facility); err != nil {
			return fmt.Errorf("invalid --facility: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if _, err := db.Migrate(context.Background(), pool); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	gofakeit.Seed(time.Now().UnixNano())

	if err := seedPatients(context.Background(), pool, opts.patients, logger); err != nil {
		return fmt.Errorf("seed patients: %w", err)
	}

	eng := engine.Postgres(cfg, pool, lock.NewLocal(), logger)
	if err := seedCategories(context.Background(), eng, facility, logger); err != nil {
		return fmt.Errorf("seed categories: %w", err)
	}
	if err := seedSchedules(context.Background(), eng, facility, opts, cfg.Timezone, logger); err != nil {
		return fmt.Errorf("seed schedules: %w", err)
	}

	logger.Info().Str("facility_id", facility.String()).Msg("seed complete")
	return nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int, logger zerolog.Logger) error {
	logger.Info().Int("count", count).Msg("seeding patients")

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, uuid.New(), gofakeit.Name(), gofakeit.Email())
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		logger.Info().Int("done", end).Int("total", count).Msg("patients seeded")
	}

	return nil
}

var categories = []struct {
	name      string
	shorthand string
	isDefault bool
}{
	{"General", "G", true},
	{"Emergency", "E", false},
	{"Follow-up", "F", false},
}

func seedCategories(ctx context.Context, eng *engine.Engine, facility uuid.UUID, logger zerolog.Logger) error {
	for _, rt := range []resource.Type{resource.TypePractitioner, resource.TypeLocation, resource.TypeHealthcareService} {
		for _, c := range categories {
			cat := &token.Category{
				FacilityID:   facility,
				ResourceType: rt,
				Name:         c.name,
				Shorthand:    c.shorthand,
				IsDefault:    c.isDefault,
			}
			if err := eng.Tokens.CreateCategory(ctx, cat); err != nil {
				return err
			}
		}
	}
	logger.Info().Int("count", 3*len(categories)).Msg("token categories seeded")
	return nil
}

// seedSchedules gives every practitioner a weekday clinic: mornings in
// appointment slots, a closed lunch hour and an open walk-in afternoon.
func seedSchedules(ctx context.Context, eng *engine.Engine, facility uuid.UUID, opts seedOptions, loc *time.Location, logger zerolog.Logger) error {
	logger.Info().Int("count", opts.practitioners).Msg("seeding practitioner schedules")

	today := civil.DateOf(time.Now().In(loc))
	sizes := []int{10, 15, 20, 30}

	for i := 0; i < opts.practitioners; i++ {
		size := sizes[gofakeit.Number(0, len(sizes)-1)]
		capacity := gofakeit.Number(1, 4)

		var morning, lunch, afternoon []availability.Rule
		for day := time.Monday; day <= time.Friday; day++ {
			morning = append(morning, availability.Rule{DayOfWeek: day, StartTime: civil.NewTimeOfDay(9, 0), EndTime: civil.NewTimeOfDay(12, 0)})
			lunch = append(lunch, availability.Rule{DayOfWeek: day, StartTime: civil.NewTimeOfDay(12, 0), EndTime: civil.NewTimeOfDay(13, 0)})
			afternoon = append(afternoon, availability.Rule{DayOfWeek: day, StartTime: civil.NewTimeOfDay(13, 0), EndTime: civil.NewTimeOfDay(16, 0)})
		}

		sched := &availability.Schedule{
			FacilityID: facility,
			Resource:   resource.Ref{Type: resource.TypePractitioner, ID: uuid.New()},
			Name:       "Dr. " + gofakeit.LastName() + " OPD",
			ValidFrom:  today.In(loc),
			ValidTo:    today.AddDays(opts.days).In(loc),
			Availabilities: []availability.Availability{
				{
					Name:              "Morning clinic",
					SlotType:          availability.SlotTypeAppointment,
					SlotSizeInMinutes: &size,
					TokensPerSlot:     &capacity,
					Rules:             morning,
				},
				{
					Name:     "Lunch",
					SlotType: availability.SlotTypeClosed,
					Reason:   "Lunch break",
					Rules:    lunch,
				},
				{
					Name:     "Walk-in",
					SlotType: availability.SlotTypeOpen,
					Rules:    afternoon,
				},
			},
		}
		if err := eng.Availability.CreateSchedule(ctx, sched); err != nil {
			return err
		}
	}

	logger.Info().Msg("practitioner schedules seeded")
	return nil
}
