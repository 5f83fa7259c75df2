// Package engine assembles the scheduling services over a chosen store.
package engine

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/scheduling-engine/internal/appointment"
	"github.com/hackgods/scheduling-engine/internal/availability"
	"github.com/hackgods/scheduling-engine/internal/config"
	"github.com/hackgods/scheduling-engine/internal/db"
	"github.com/hackgods/scheduling-engine/internal/lock"
	"github.com/hackgods/scheduling-engine/internal/memstore"
	"github.com/hackgods/scheduling-engine/internal/slots"
	"github.com/hackgods/scheduling-engine/internal/token"
)

// Stores is the persistence the services run on.
type Stores struct {
	Availability availability.Repository
	Appointments appointment.Repository
	Tokens       token.Repository
	Tx           db.Transactor
}

type Engine struct {
	Availability *availability.Service
	Slots        *slots.Service
	Appointments *appointment.Service
	Tokens       *token.Service
}

func New(cfg config.Config, stores Stores, locker lock.Locker, logger zerolog.Logger) *Engine {
	avail := availability.NewService(stores.Availability, stores.Appointments, stores.Tx, cfg, logger)
	slotSvc := slots.NewService(avail, stores.Appointments, logger)
	appts := appointment.NewService(stores.Appointments, slotSvc, stores.Tx, locker, cfg, logger)
	tokens := token.NewService(stores.Tokens, appts, stores.Tx, locker, cfg, logger)
	appts.SetTokenReleaser(tokens)

	return &Engine{
		Availability: avail,
		Slots:        slotSvc,
		Appointments: appts,
		Tokens:       tokens,
	}
}

// Postgres wires the services to pgx repositories.
func Postgres(cfg config.Config, pool *pgxpool.Pool, locker lock.Locker, logger zerolog.Logger) *Engine {
	return New(cfg, Stores{
		Availability: availability.NewPgRepository(pool),
		Appointments: appointment.NewPgRepository(pool),
		Tokens:       token.NewPgRepository(pool),
		Tx:           db.NewTransactor(pool, cfg.TxRetries),
	}, locker, logger)
}

// Memory wires the services to a fresh in-memory store guarded by an
// in-process locker.
func Memory(cfg config.Config, logger zerolog.Logger) (*Engine, *memstore.Store) {
	store := memstore.New()
	return New(cfg, Stores{
		Availability: store,
		Appointments: store,
		Tokens:       store,
		Tx:           store,
	}, lock.NewLocal(), logger), store
}
