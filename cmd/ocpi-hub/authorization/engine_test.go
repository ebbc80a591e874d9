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

package authorization

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/emobility-hub/ocpi-hub/cmd/ocpi-hub/models"
	"github.com/emobility-hub/ocpi-hub/cmd/ocpi-hub/store"
)

var (
	emsp = models.NewPartyID("DE", "EMH")
	cpo  = models.NewPartyID("DE", "CPO")
)

func seededEngine(t *testing.T) *Engine {
	t.Helper()
	stores := store.NewStores()
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	token := &models.Token{
		CountryCode: "DE",
		PartyID:     "EMH",
		UID:         "TK1",
		Type:        models.TokenTypeRFID,
		ContractID:  "DE-EMH-C00001",
		Issuer:      "eMobility Hub",
		Valid:       true,
		Whitelist:   models.WhitelistAllowed,
		Language:    "de",
		LastUpdated: now,
	}
	_, _, err := stores.Tokens.Upsert(ctx, models.NewResourceKey(emsp, "TK1"), token, false)
	assert.NoError(t, err)

	location := &models.Location{
		CountryCode: "DE",
		PartyID:     "CPO",
		ID:          "LOC1",
		Address:     "Hauptstrasse 1",
		City:        "Aachen",
		Country:     "DEU",
		TimeZone:    "Europe/Berlin",
		EVSEs: []models.EVSE{
			{UID: "E1", Status: models.ConnectorStatusAvailable, LastUpdated: now},
			{UID: "E2", Status: models.ConnectorStatusAvailable, LastUpdated: now},
		},
		LastUpdated: now,
	}
	_, _, err = stores.Locations.Upsert(ctx, models.NewResourceKey(cpo, "LOC1"), location, false)
	assert.NoError(t, err)

	return NewEngine(stores)
}

func TestAuthorizeAllowed(t *testing.T) {
	engine := seededEngine(t)

	info, err := engine.Authorize(context.Background(), Request{
		TargetParty: emsp,
		TokenUID:    "TK1",
	})
	assert.NoError(t, err)
	assert.Equal(t, models.AllowedYes, info.Allowed)
	assert.NotEmpty(t, info.AuthorizationReference)
	assert.NotNil(t, info.Info)
	assert.NotEmpty(t, info.Info.Text)
	// localized to the token's language
	assert.Equal(t, "de", info.Info.Language)
}

func TestAuthorizeUnknownToken(t *testing.T) {
	engine := seededEngine(t)

	info, err := engine.Authorize(context.Background(), Request{
		TargetParty: emsp,
		TokenUID:    "NOPE",
	})
	assert.True(t, errors.Is(err, ErrUnknownToken))
	assert.Equal(t, models.AllowedNotAllowed, info.Allowed)
	assert.NotEmpty(t, info.AuthorizationReference)
}

func TestAuthorizeTokenTypeMismatch(t *testing.T) {
	engine := seededEngine(t)

	_, err := engine.Authorize(context.Background(), Request{
		TargetParty: emsp,
		TokenUID:    "TK1",
		TokenType:   models.TokenTypeAppUser,
	})
	assert.True(t, errors.Is(err, ErrUnknownToken))
}

func TestAuthorizeBlockedToken(t *testing.T) {
	engine := seededEngine(t)
	blocked := &models.Token{
		CountryCode: "DE", PartyID: "EMH", UID: "TK2",
		Type: models.TokenTypeRFID, ContractID: "DE-EMH-C00002",
		Issuer: "eMobility Hub", Valid: false, Whitelist: models.WhitelistAllowed,
		LastUpdated: time.Now().UTC(),
	}
	_, _, err := engine.stores.Tokens.Upsert(context.Background(), models.NewResourceKey(emsp, "TK2"), blocked, false)
	assert.NoError(t, err)

	info, err := engine.Authorize(context.Background(), Request{TargetParty: emsp, TokenUID: "TK2"})
	assert.NoError(t, err)
	assert.Equal(t, models.AllowedBlocked, info.Allowed)
}

func TestAuthorizeWhitelistNeverWithoutDelegate(t *testing.T) {
	engine := seededEngine(t)
	realtime := &models.Token{
		CountryCode: "DE", PartyID: "EMH", UID: "TK3",
		Type: models.TokenTypeRFID, ContractID: "DE-EMH-C00003",
		Issuer: "eMobility Hub", Valid: true, Whitelist: models.WhitelistNever,
		LastUpdated: time.Now().UTC(),
	}
	_, _, err := engine.stores.Tokens.Upsert(context.Background(), models.NewResourceKey(emsp, "TK3"), realtime, false)
	assert.NoError(t, err)

	info, err := engine.Authorize(context.Background(), Request{TargetParty: emsp, TokenUID: "TK3"})
	assert.NoError(t, err)
	assert.Equal(t, models.AllowedNotAllowed, info.Allowed)
}

func TestAuthorizeNarrowsEVSEs(t *testing.T) {
	engine := seededEngine(t)

	info, err := engine.Authorize(context.Background(), Request{
		RequesterParty: cpo,
		TargetParty:    emsp,
		TokenUID:       "TK1",
		Location:       &models.LocationReference{LocationID: "LOC1", EVSEUIDs: []string{"E1", "E9"}},
	})
	assert.NoError(t, err)
	assert.Equal(t, models.AllowedYes, info.Allowed)
	assert.NotNil(t, info.Location)
	assert.Equal(t, []string{"E1"}, info.Location.EVSEUIDs)
}

func TestAuthorizeAllEVSEsUnknown(t *testing.T) {
	engine := seededEngine(t)

	info, err := engine.Authorize(context.Background(), Request{
		RequesterParty: cpo,
		TargetParty:    emsp,
		TokenUID:       "TK1",
		Location:       &models.LocationReference{LocationID: "LOC1", EVSEUIDs: []string{"E9"}},
	})
	assert.NoError(t, err)
	assert.Equal(t, models.AllowedNotAllowed, info.Allowed)
	assert.Contains(t, info.Info.Text, "EVSE(s) unknown")
}

func TestAuthorizeUnknownLocation(t *testing.T) {
	engine := seededEngine(t)

	info, err := engine.Authorize(context.Background(), Request{
		RequesterParty: cpo,
		TargetParty:    emsp,
		TokenUID:       "TK1",
		Location:       &models.LocationReference{LocationID: "NOPE"},
	})
	assert.NoError(t, err)
	assert.Equal(t, models.AllowedNotAllowed, info.Allowed)
	assert.Contains(t, info.Info.Text, "location unknown")
}

func TestAuthorizeLocationOwnerFromSingleRole(t *testing.T) {
	engine := seededEngine(t)

	info, err := engine.Authorize(context.Background(), Request{
		RequesterRoles: []models.PartyID{cpo},
		TargetParty:    emsp,
		TokenUID:       "TK1",
		Location:       &models.LocationReference{LocationID: "LOC1"},
	})
	assert.NoError(t, err)
	assert.Equal(t, models.AllowedYes, info.Allowed)
}

func TestAuthorizeAmbiguousLocationOwner(t *testing.T) {
	engine := seededEngine(t)

	info, err := engine.Authorize(context.Background(), Request{
		RequesterRoles: []models.PartyID{cpo, models.NewPartyID("NL", "CPX")},
		TargetParty:    emsp,
		TokenUID:       "TK1",
		Location:       &models.LocationReference{LocationID: "LOC1"},
	})
	assert.NoError(t, err)
	assert.Equal(t, models.AllowedNotAllowed, info.Allowed)
	assert.Contains(t, info.Info.Text, "cannot determine location owner")
}

type stubDelegate struct {
	info models.AuthorizationInfo
	err  error
}

func (s *stubDelegate) Authorize(ctx context.Context, req Request) (models.AuthorizationInfo, error) {
	return s.info, s.err
}

func TestAuthorizeDelegateDecides(t *testing.T) {
	engine := seededEngine(t)
	engine.SetDelegate(&stubDelegate{info: models.AuthorizationInfo{
		Allowed: models.AllowedNoCredit,
		Token:   models.Token{UID: "TK1"},
	}})

	info, err := engine.Authorize(context.Background(), Request{TargetParty: emsp, TokenUID: "TK1"})
	assert.NoError(t, err)
	assert.Equal(t, models.AllowedNoCredit, info.Allowed)
	// the engine still enforces reference and info invariants
	assert.NotEmpty(t, info.AuthorizationReference)
	assert.NotNil(t, info.Info)
}

func TestAuthorizeDelegateFailureDegrades(t *testing.T) {
	engine := seededEngine(t)
	engine.SetDelegate(&stubDelegate{err: errors.New("upstream gone")})

	info, err := engine.Authorize(context.Background(), Request{TargetParty: emsp, TokenUID: "TK1"})
	assert.NoError(t, err)
	assert.Equal(t, models.AllowedNotAllowed, info.Allowed)
	assert.Contains(t, info.Info.Text, "real-time authorization failed")
}

type panicDelegate struct{}

func (p *panicDelegate) Authorize(ctx context.Context, req Request) (models.AuthorizationInfo, error) {
	panic("boom")
}

func TestAuthorizeDelegatePanicDegrades(t *testing.T) {
	engine := seededEngine(t)
	engine.SetDelegate(&panicDelegate{})

	info, err := engine.Authorize(context.Background(), Request{TargetParty: emsp, TokenUID: "TK1"})
	assert.NoError(t, err)
	assert.Equal(t, models.AllowedNotAllowed, info.Allowed)
}

func TestDecisionTextFallsBackToEnglish(t *testing.T) {
	text := DecisionText(models.AllowedYes, "xx")
	assert.Equal(t, "en", text.Language)
	assert.NotEmpty(t, text.Text)

	localized := DecisionText(models.AllowedBlocked, "nl")
	assert.Equal(t, "nl", localized.Language)
	assert.NotEmpty(t, localized.Text)
}
