// Package app assembles the service: configuration in, fully wired
// components out.
package app

import (
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avelin0/sage/internal/api"
	"github.com/avelin0/sage/internal/config"
	"github.com/avelin0/sage/internal/encoder"
	"github.com/avelin0/sage/internal/knowledge"
	"github.com/avelin0/sage/internal/log"
	"github.com/avelin0/sage/internal/retrieval"
	"github.com/avelin0/sage/internal/syncer"
)

// App holds every initialized component. Construct with Setup; release
// with Close.
type App struct {
	Config       *config.Config
	Genkit       *genkit.Genkit
	Pool         *pgxpool.Pool
	Source       *knowledge.PostgresSource
	Encoder      encoder.Encoder
	Syncer       *syncer.Syncer
	Orchestrator *retrieval.Orchestrator
	Server       *api.Server

	logger log.Logger
}

// Close releases held resources. Safe to call on a partially
// initialized App, which Setup relies on for cleanup after a failed
// step.
func (a *App) Close() error {
	if a.Pool != nil {
		a.Pool.Close()
		a.logger.Debug("database pool closed")
	}
	return nil
}
