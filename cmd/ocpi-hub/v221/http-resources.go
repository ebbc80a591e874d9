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

package v221

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/emobility-hub/ocpi-hub/cmd/ocpi-hub/events"
	"github.com/emobility-hub/ocpi-hub/cmd/ocpi-hub/helpers"
	"github.com/emobility-hub/ocpi-hub/cmd/ocpi-hub/models"
	"github.com/emobility-hub/ocpi-hub/cmd/ocpi-hub/store"
)

// resourceBinding adapts the shared flat-resource flow to one table. param is
// the gin path parameter carrying the resource id; bind decodes and checks a
// PUT body against the path identity.
type resourceBinding struct {
	name  string
	param string
	table func() *store.Table
	bind  func(c *gin.Context, party models.PartyID, id string) (models.Resource, error)
}

var tariffBinding = resourceBinding{
	name:  "tariff",
	param: "tariff_id",
	table: func() *store.Table { return stores.Tariffs },
	bind: func(c *gin.Context, party models.PartyID, id string) (models.Resource, error) {
		var tariff models.Tariff
		if err := c.ShouldBindJSON(&tariff); err != nil {
			return nil, err
		}
		if err := matchesPath(party, id, tariff.CountryCode, tariff.PartyID, tariff.ID); err != nil {
			return nil, err
		}
		return &tariff, nil
	},
}

var sessionBinding = resourceBinding{
	name:  "session",
	param: "session_id",
	table: func() *store.Table { return stores.Sessions },
	bind: func(c *gin.Context, party models.PartyID, id string) (models.Resource, error) {
		var session models.Session
		if err := c.ShouldBindJSON(&session); err != nil {
			return nil, err
		}
		if err := matchesPath(party, id, session.CountryCode, session.PartyID, session.ID); err != nil {
			return nil, err
		}
		return &session, nil
	},
}

var tokenBinding = resourceBinding{
	name:  "token",
	param: "token_uid",
	table: func() *store.Table { return stores.Tokens },
	bind: func(c *gin.Context, party models.PartyID, id string) (models.Resource, error) {
		var token models.Token
		if err := c.ShouldBindJSON(&token); err != nil {
			return nil, err
		}
		if err := matchesPath(party, id, token.CountryCode, token.PartyID, token.UID); err != nil {
			return nil, err
		}
		return &token, nil
	},
}

func listResource(c *gin.Context, binding resourceBinding) {
	party := partyFromPath(c)
	filter, err := helpers.ParseListFilter(c)
	if err != nil {
		helpers.HandleInvalidInputError(c, err)
		return
	}
	if serveCachedList(c) {
		return
	}

	items, total, err := binding.table().List(c.Request.Context(), party, filter)
	if err != nil {
		helpers.HandleStoreError(c, err)
		return
	}
	helpers.SetTotalCount(c, total)

	resources := make([]models.Resource, 0, len(items))
	for _, item := range items {
		resources = append(resources, item.Resource)
	}
	cacheList(c, total, resources)
	helpers.HandleSuccess(c, resources)
}

func getResource(c *gin.Context, binding resourceBinding) {
	party := partyFromPath(c)
	key := models.NewResourceKey(party, c.Param(binding.param))

	stored, err := binding.table().Get(c.Request.Context(), key)
	if err != nil {
		helpers.HandleStoreError(c, err)
		return
	}
	if notModified(c, stored) {
		return
	}
	respondStored(c, stored, false)
}

func putResource(c *gin.Context, binding resourceBinding) {
	party := partyFromPath(c)
	if err := helpers.CheckIfPartyIsAllowed(c, party); err != nil {
		return
	}

	id := c.Param(binding.param)
	candidate, err := binding.bind(c, party, id)
	if err != nil {
		helpers.HandleInvalidInputError(c, err)
		return
	}

	key := models.NewResourceKey(party, id)
	stored, created, err := binding.table().Upsert(
		c.Request.Context(), key, candidate, helpers.DowngradeAllowed(c))
	if err != nil {
		helpers.HandleStoreError(c, err)
		return
	}

	publishChange(party, binding.name, id, events.ChangeUpserted, stored.Resource)
	respondStored(c, stored, created)
}

func patchResource(c *gin.Context, binding resourceBinding) {
	party := partyFromPath(c)
	if err := helpers.CheckIfPartyIsAllowed(c, party); err != nil {
		return
	}
	patch, err := c.GetRawData()
	if err != nil {
		helpers.HandleInvalidInputError(c, err)
		return
	}

	id := c.Param(binding.param)
	key := models.NewResourceKey(party, id)
	stored, err := binding.table().Patch(c.Request.Context(), key, patch)
	if err != nil {
		helpers.HandleStoreError(c, err)
		return
	}

	publishChange(party, binding.name, id, events.ChangePatched, stored.Resource)
	respondStored(c, stored, false)
}

func deleteResource(c *gin.Context, binding resourceBinding) {
	party := partyFromPath(c)
	if err := helpers.CheckIfPartyIsAllowed(c, party); err != nil {
		return
	}

	id := c.Param(binding.param)
	key := models.NewResourceKey(party, id)
	stored, err := binding.table().Remove(c.Request.Context(), key)
	if err != nil {
		helpers.HandleStoreError(c, err)
		return
	}

	publishChange(party, binding.name, id, events.ChangeRemoved, stored.Resource)
	helpers.HandleSuccess(c, nil)
}

func GetTariffsHandler(c *gin.Context)   { listResource(c, tariffBinding) }
func GetTariffHandler(c *gin.Context)    { getResource(c, tariffBinding) }
func PutTariffHandler(c *gin.Context)    { putResource(c, tariffBinding) }
func PatchTariffHandler(c *gin.Context)  { patchResource(c, tariffBinding) }
func DeleteTariffHandler(c *gin.Context) { deleteResource(c, tariffBinding) }

func GetSessionsHandler(c *gin.Context)   { listResource(c, sessionBinding) }
func GetSessionHandler(c *gin.Context)    { getResource(c, sessionBinding) }
func PutSessionHandler(c *gin.Context)    { putResource(c, sessionBinding) }
func PatchSessionHandler(c *gin.Context)  { patchResource(c, sessionBinding) }
func DeleteSessionHandler(c *gin.Context) { deleteResource(c, sessionBinding) }

func GetTokensHandler(c *gin.Context)   { listResource(c, tokenBinding) }
func GetTokenHandler(c *gin.Context)    { getResource(c, tokenBinding) }
func PutTokenHandler(c *gin.Context)    { putResource(c, tokenBinding) }
func PatchTokenHandler(c *gin.Context)  { patchResource(c, tokenBinding) }
func DeleteTokenHandler(c *gin.Context) { deleteResource(c, tokenBinding) }

// GetCdrsHandler lists a party's CDRs.
func GetCdrsHandler(c *gin.Context) {
	party := partyFromPath(c)
	filter, err := helpers.ParseListFilter(c)
	if err != nil {
		helpers.HandleInvalidInputError(c, err)
		return
	}

	if serveCachedList(c) {
		return
	}

	items, total, err := stores.CDRs.List(c.Request.Context(), party, filter)
	if err != nil {
		helpers.HandleStoreError(c, err)
		return
	}
	helpers.SetTotalCount(c, total)

	cdrs := make([]models.Resource, 0, len(items))
	for _, item := range items {
		cdrs = append(cdrs, item.Resource)
	}
	cacheList(c, total, cdrs)
	helpers.HandleSuccess(c, cdrs)
}

// GetCdrHandler returns one CDR.
func GetCdrHandler(c *gin.Context) {
	party := partyFromPath(c)
	key := models.NewResourceKey(party, c.Param("cdr_id"))

	stored, err := stores.CDRs.Get(c.Request.Context(), key)
	if err != nil {
		helpers.HandleStoreError(c, err)
		return
	}
	if notModified(c, stored) {
		return
	}
	respondStored(c, stored, false)
}

// PostCdrHandler appends a new CDR. CDRs are write-once, posting an id that
// already exists is a conflict that echoes the rejected candidate.
func PostCdrHandler(c *gin.Context) {
	party := partyFromPath(c)
	if err := helpers.CheckIfPartyIsAllowed(c, party); err != nil {
		return
	}

	var cdr models.CDR
	if err := c.ShouldBindJSON(&cdr); err != nil {
		helpers.HandleInvalidInputError(c, err)
		return
	}
	if cdr.ID == "" {
		helpers.HandleInvalidInputError(c, fmt.Errorf("cdr misses id"))
		return
	}
	if err := matchesPath(party, cdr.ID, cdr.CountryCode, cdr.PartyID, cdr.ID); err != nil {
		helpers.HandleInvalidInputError(c, err)
		return
	}

	key := models.NewResourceKey(party, cdr.ID)
	stored, err := stores.CDRs.Add(c.Request.Context(), key, &cdr)
	if err != nil {
		helpers.HandleStoreError(c, err)
		return
	}

	c.Header("Location", c.Request.URL.Path+"/"+cdr.ID)
	publishChange(party, "cdr", cdr.ID, events.ChangeUpserted, stored.Resource)
	respondStored(c, stored, true)
}

// DeleteCdrHandler removes a CDR, an administrative extension reserved for
// the hub operator account.
func DeleteCdrHandler(c *gin.Context) {
	account, ok := helpers.AccountFor(c)
	if !ok || !account.Admin {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	party := partyFromPath(c)
	cdrID := c.Param("cdr_id")
	key := models.NewResourceKey(party, cdrID)
	stored, err := stores.CDRs.Remove(c.Request.Context(), key)
	if err != nil {
		helpers.HandleStoreError(c, err)
		return
	}

	publishChange(party, "cdr", cdrID, events.ChangeRemoved, stored.Resource)
	helpers.HandleSuccess(c, nil)
}
