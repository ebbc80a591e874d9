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

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/emobility-hub/ocpi-hub/cmd/ocpi-hub/models"
)

func testLocation(id string, updated time.Time) *models.Location {
	return &models.Location{
		CountryCode: "DE",
		PartyID:     "EMH",
		ID:          id,
		Publish:     true,
		Address:     "Hauptstrasse 1",
		City:        "Aachen",
		Country:     "DEU",
		Coordinates: models.GeoLocation{Latitude: "50.776", Longitude: "6.084"},
		TimeZone:    "Europe/Berlin",
		EVSEs: []models.EVSE{
			{
				UID:    "E1",
				Status: models.ConnectorStatusAvailable,
				Connectors: []models.Connector{
					{
						ID:          "1",
						Standard:    "IEC_62196_T2",
						Format:      "SOCKET",
						PowerType:   "AC_3_PHASE",
						MaxVoltage:  400,
						MaxAmperage: 32,
						LastUpdated: updated,
					},
				},
				LastUpdated: updated,
			},
		},
		LastUpdated: updated,
	}
}

func TestGetEVSEAndConnector(t *testing.T) {
	locations := NewLocations()
	ctx := context.Background()
	t1 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	_, _, err := locations.Upsert(ctx, locationKey(testParty, "LOC1"), testLocation("LOC1", t1), false)
	assert.NoError(t, err)

	evse, err := locations.GetEVSE(ctx, testParty, "LOC1", "E1")
	assert.NoError(t, err)
	assert.Equal(t, "E1", evse.Resource.(*models.EVSE).UID)
	assert.NotEmpty(t, evse.ETag)

	connector, err := locations.GetConnector(ctx, testParty, "LOC1", "E1", "1")
	assert.NoError(t, err)
	assert.Equal(t, "1", connector.Resource.(*models.Connector).ID)
	// the child validator is derived from the child body, not the parent's
	assert.NotEqual(t, evse.ETag, connector.ETag)

	_, err = locations.GetEVSE(ctx, testParty, "LOC1", "E9")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = locations.GetConnector(ctx, testParty, "LOC1", "E1", "9")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestUpsertEVSEAddsAndAdvancesLocation(t *testing.T) {
	locations := NewLocations()
	ctx := context.Background()
	t1 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	_, _, err := locations.Upsert(ctx, locationKey(testParty, "LOC1"), testLocation("LOC1", t1), false)
	assert.NoError(t, err)

	evse := &models.EVSE{UID: "E2", Status: models.ConnectorStatusPlanned, LastUpdated: t1.Add(time.Minute)}
	stored, created, err := locations.UpsertEVSE(ctx, testParty, "LOC1", evse, false)
	assert.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, t1.Add(time.Minute), stored.LastUpdated)

	location, err := locations.Get(ctx, locationKey(testParty, "LOC1"))
	assert.NoError(t, err)
	assert.Len(t, location.Resource.(*models.Location).EVSEs, 2)
	// the parent document advances past the child write
	assert.True(t, location.LastUpdated.After(t1))
}

func TestUpsertEVSEDowngradeProtection(t *testing.T) {
	locations := NewLocations()
	ctx := context.Background()
	t1 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	_, _, err := locations.Upsert(ctx, locationKey(testParty, "LOC1"), testLocation("LOC1", t1), false)
	assert.NoError(t, err)

	stale := &models.EVSE{UID: "E1", Status: models.ConnectorStatusBlocked, LastUpdated: t1.Add(-time.Hour)}
	_, _, err = locations.UpsertEVSE(ctx, testParty, "LOC1", stale, false)
	var conflict *ConflictError
	assert.True(t, errors.As(err, &conflict))

	// unaffected siblings keep their state
	evse, err := locations.GetEVSE(ctx, testParty, "LOC1", "E1")
	assert.NoError(t, err)
	assert.Equal(t, models.ConnectorStatusAvailable, evse.Resource.(*models.EVSE).Status)

	// forced downgrade replaces the child
	_, _, err = locations.UpsertEVSE(ctx, testParty, "LOC1", stale, true)
	assert.NoError(t, err)
}

func TestUpsertEVSEUnknownLocation(t *testing.T) {
	locations := NewLocations()
	ctx := context.Background()

	evse := &models.EVSE{UID: "E1", Status: models.ConnectorStatusAvailable}
	_, _, err := locations.UpsertEVSE(ctx, testParty, "NOPE", evse, false)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestPatchEVSE(t *testing.T) {
	locations := NewLocations()
	ctx := context.Background()
	t1 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	_, _, err := locations.Upsert(ctx, locationKey(testParty, "LOC1"), testLocation("LOC1", t1), false)
	assert.NoError(t, err)

	stored, err := locations.PatchEVSE(ctx, testParty, "LOC1", "E1", []byte(`{"status":"CHARGING"}`))
	assert.NoError(t, err)
	patched := stored.Resource.(*models.EVSE)
	assert.Equal(t, models.ConnectorStatusCharging, patched.Status)
	// connectors survive a sibling-field patch
	assert.Len(t, patched.Connectors, 1)
	assert.True(t, stored.LastUpdated.After(t1))
}

func TestRemoveEVSE(t *testing.T) {
	locations := NewLocations()
	ctx := context.Background()
	t1 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	_, _, err := locations.Upsert(ctx, locationKey(testParty, "LOC1"), testLocation("LOC1", t1), false)
	assert.NoError(t, err)

	removed, err := locations.RemoveEVSE(ctx, testParty, "LOC1", "E1")
	assert.NoError(t, err)
	assert.Equal(t, "E1", removed.Resource.(*models.EVSE).UID)

	_, err = locations.GetEVSE(ctx, testParty, "LOC1", "E1")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = locations.RemoveEVSE(ctx, testParty, "LOC1", "E1")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestUpsertConnector(t *testing.T) {
	locations := NewLocations()
	ctx := context.Background()
	t1 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	_, _, err := locations.Upsert(ctx, locationKey(testParty, "LOC1"), testLocation("LOC1", t1), false)
	assert.NoError(t, err)

	connector := &models.Connector{
		ID:          "2",
		Standard:    "IEC_62196_T2",
		Format:      "CABLE",
		PowerType:   "AC_3_PHASE",
		MaxVoltage:  400,
		MaxAmperage: 16,
		LastUpdated: t1.Add(time.Minute),
	}
	_, created, err := locations.UpsertConnector(ctx, testParty, "LOC1", "E1", connector, false)
	assert.NoError(t, err)
	assert.True(t, created)

	evse, err := locations.GetEVSE(ctx, testParty, "LOC1", "E1")
	assert.NoError(t, err)
	assert.Len(t, evse.Resource.(*models.EVSE).Connectors, 2)

	stale := &models.Connector{ID: "1", Standard: "IEC_62196_T2", Format: "SOCKET", PowerType: "AC_3_PHASE", LastUpdated: t1.Add(-time.Hour)}
	_, _, err = locations.UpsertConnector(ctx, testParty, "LOC1", "E1", stale, false)
	var conflict *ConflictError
	assert.True(t, errors.As(err, &conflict))

	_, _, err = locations.UpsertConnector(ctx, testParty, "LOC1", "E9", connector, false)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestPatchConnector(t *testing.T) {
	locations := NewLocations()
	ctx := context.Background()
	t1 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	_, _, err := locations.Upsert(ctx, locationKey(testParty, "LOC1"), testLocation("LOC1", t1), false)
	assert.NoError(t, err)

	stored, err := locations.PatchConnector(ctx, testParty, "LOC1", "E1", "1", []byte(`{"max_amperage":63}`))
	assert.NoError(t, err)
	assert.Equal(t, 63, stored.Resource.(*models.Connector).MaxAmperage)

	_, err = locations.PatchConnector(ctx, testParty, "LOC1", "E1", "9", []byte(`{}`))
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRemoveConnector(t *testing.T) {
	locations := NewLocations()
	ctx := context.Background()
	t1 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	_, _, err := locations.Upsert(ctx, locationKey(testParty, "LOC1"), testLocation("LOC1", t1), false)
	assert.NoError(t, err)

	removed, err := locations.RemoveConnector(ctx, testParty, "LOC1", "E1", "1")
	assert.NoError(t, err)
	assert.Equal(t, "1", removed.Resource.(*models.Connector).ID)

	evse, err := locations.GetEVSE(ctx, testParty, "LOC1", "E1")
	assert.NoError(t, err)
	assert.Empty(t, evse.Resource.(*models.EVSE).Connectors)
}
