// Copyright 2024 eMobility Hub GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package postgresql archives finalized CDRs and completed sessions. The
// in-memory store stays the source of truth; the archive is fire-and-forget
// and a full buffer drops the oldest-pending write rather than backpressuring
// the request path.
package postgresql

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/heptiolabs/healthcheck"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/omeid/pgerror"
	"github.com/united-manufacturing-hub/umh-utils/env"
	"go.uber.org/zap"

	"github.com/emobility-hub/ocpi-hub/cmd/ocpi-hub/events"
	"github.com/emobility-hub/ocpi-hub/cmd/ocpi-hub/models"
)

// Archive is the postgres sink. A nil *Archive is valid and inert, which is
// how the hub runs when POSTGRES_HOST is not configured.
type Archive struct {
	db       *pgxpool.Pool
	pending  chan archiveRow
	archived atomic.Uint64
	dropped  atomic.Uint64
}

type archiveRow struct {
	table       string
	party       models.PartyID
	id          string
	lastUpdated time.Time
	body        []byte
}

// Connect reads the POSTGRES_* environment and opens the pool. Returns
// (nil, nil) when no host is configured.
func Connect(ctx context.Context) (*Archive, error) {
	PQHost, _ := env.GetAsString("POSTGRES_HOST", false, "") //nolint:errcheck
	if PQHost == "" {
		zap.S().Infof("No POSTGRES_HOST configured, archive disabled")
		return nil, nil
	}

	PQPort, err := env.GetAsInt("POSTGRES_PORT", false, 5432)
	if err != nil {
		return nil, err
	}
	PQUser, err := env.GetAsString("POSTGRES_USER", true, "")
	if err != nil {
		return nil, err
	}
	PQPassword, err := env.GetAsString("POSTGRES_PASSWORD", true, "")
	if err != nil {
		return nil, err
	}
	PQDBName, err := env.GetAsString("POSTGRES_DATABASE", true, "")
	if err != nil {
		return nil, err
	}
	PQSSLMode, err := env.GetAsString("POSTGRES_SSL_MODE", false, "require")
	if err != nil {
		return nil, err
	}

	zap.S().Infof("Connecting to %s@%s:%d/%s [%s]", PQUser, PQHost, PQPort, PQDBName, PQSSLMode)

	conString := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		PQHost, PQPort, PQUser, PQPassword, PQDBName, PQSSLMode)

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	db, err := pgxpool.New(connectCtx, conString)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection to postgres database: %w", err)
	}

	archive := &Archive{
		db:      db,
		pending: make(chan archiveRow, 10000),
	}
	go archive.worker()
	return archive, nil
}

// Run consumes CDR and session changes from the bus.
func (a *Archive) Run(bus *events.Bus) {
	if a == nil {
		return
	}
	go func() {
		for event := range bus.Subscribe("archive", 1024) {
			if event.Type != events.ResourceChanged || event.Change == events.ChangeRemoved {
				continue
			}
			switch event.Resource {
			case "cdr":
				a.submit("archived_cdr", event, event.Payload)
			case "session":
				session, ok := event.Payload.(*models.Session)
				if !ok || session.Status != models.SessionStatusCompleted {
					continue
				}
				a.submit("archived_session", event, session)
			}
		}
	}()
}

func (a *Archive) submit(table string, event events.Event, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		zap.S().Errorf("Failed to serialize %s %s for archiving: %s", table, event.ResourceID, err)
		return
	}
	row := archiveRow{
		table:       table,
		party:       event.Party,
		id:          event.ResourceID,
		lastUpdated: event.Time,
		body:        body,
	}
	select {
	case a.pending <- row:
	default:
		a.dropped.Add(1)
		zap.S().Warnf("Archive buffer full, dropping %s %s", table, event.ResourceID)
	}
}

func (a *Archive) worker() {
	for row := range a.pending {
		a.insert(row)
	}
}

func (a *Archive) insert(row archiveRow) {
	sqlStatement := fmt.Sprintf(
		`INSERT INTO %s (country_code, party_id, id, last_updated, body) VALUES ($1, $2, $3, $4, $5)`,
		row.table)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := a.db.Exec(ctx, sqlStatement,
		row.party.CountryCode, row.party.PartyID, row.id, row.lastUpdated, row.body)
	if err != nil {
		// CDRs are write-once; an id that is already archived is fine.
		if e := pgerror.UniqueViolation(err); e != nil {
			zap.S().Debugf("Skipping already archived %s %s", row.table, row.id)
			return
		}
		if e := pgerror.ConnectionException(err); e != nil {
			zap.S().Warnf("Archive connection problem, re-queueing %s %s: %s", row.table, row.id, err)
			time.Sleep(time.Second)
			select {
			case a.pending <- row:
			default:
				a.dropped.Add(1)
			}
			return
		}
		zap.S().Errorf("Failed to archive %s %s: %s", row.table, row.id, err)
		return
	}
	a.archived.Add(1)
}

// HealthCheck pings the pool; wired into the readiness endpoint.
func (a *Archive) HealthCheck() healthcheck.Check {
	return func() error {
		if a == nil {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.db.Ping(ctx)
	}
}

// Shutdown closes the pool.
func (a *Archive) Shutdown() {
	if a == nil {
		return
	}
	close(a.pending)
	a.db.Close()
}
