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

	"github.com/gin-gonic/gin"

	"github.com/emobility-hub/ocpi-hub/cmd/ocpi-hub/events"
	"github.com/emobility-hub/ocpi-hub/cmd/ocpi-hub/helpers"
	"github.com/emobility-hub/ocpi-hub/cmd/ocpi-hub/models"
)

// GetLocationsHandler lists a party's locations.
func GetLocationsHandler(c *gin.Context) {
	party := partyFromPath(c)
	filter, err := helpers.ParseListFilter(c)
	if err != nil {
		helpers.HandleInvalidInputError(c, err)
		return
	}

	if serveCachedList(c) {
		return
	}

	items, total, err := stores.Locations.List(c.Request.Context(), party, filter)
	if err != nil {
		helpers.HandleStoreError(c, err)
		return
	}
	helpers.SetTotalCount(c, total)

	locations := make([]models.Resource, 0, len(items))
	for _, item := range items {
		locations = append(locations, item.Resource)
	}
	cacheList(c, total, locations)
	helpers.HandleSuccess(c, locations)
}

// GetLocationHandler returns one location including its EVSE tree.
func GetLocationHandler(c *gin.Context) {
	party := partyFromPath(c)
	key := models.NewResourceKey(party, c.Param("location_id"))

	stored, err := stores.Locations.Get(c.Request.Context(), key)
	if err != nil {
		helpers.HandleStoreError(c, err)
		return
	}
	if notModified(c, stored) {
		return
	}
	respondStored(c, stored, false)
}

// PutLocationHandler upserts a full location document.
func PutLocationHandler(c *gin.Context) {
	party := partyFromPath(c)
	if err := helpers.CheckIfPartyIsAllowed(c, party); err != nil {
		return
	}

	var location models.Location
	if err := c.ShouldBindJSON(&location); err != nil {
		helpers.HandleInvalidInputError(c, err)
		return
	}
	locationID := c.Param("location_id")
	if err := matchesPath(party, locationID, location.CountryCode, location.PartyID, location.ID); err != nil {
		helpers.HandleInvalidInputError(c, err)
		return
	}

	key := models.NewResourceKey(party, locationID)
	stored, created, err := stores.Locations.Upsert(
		c.Request.Context(), key, &location, helpers.DowngradeAllowed(c))
	if err != nil {
		helpers.HandleStoreError(c, err)
		return
	}

	publishChange(party, "location", locationID, events.ChangeUpserted, stored.Resource)
	respondStored(c, stored, created)
}

// PatchLocationHandler applies a merge patch to a location.
func PatchLocationHandler(c *gin.Context) {
	party := partyFromPath(c)
	if err := helpers.CheckIfPartyIsAllowed(c, party); err != nil {
		return
	}
	patch, err := c.GetRawData()
	if err != nil {
		helpers.HandleInvalidInputError(c, err)
		return
	}

	locationID := c.Param("location_id")
	key := models.NewResourceKey(party, locationID)
	stored, err := stores.Locations.Patch(c.Request.Context(), key, patch)
	if err != nil {
		helpers.HandleStoreError(c, err)
		return
	}

	publishChange(party, "location", locationID, events.ChangePatched, stored.Resource)
	respondStored(c, stored, false)
}

// DeleteLocationHandler removes a location and its whole EVSE tree.
func DeleteLocationHandler(c *gin.Context) {
	party := partyFromPath(c)
	if err := helpers.CheckIfPartyIsAllowed(c, party); err != nil {
		return
	}

	locationID := c.Param("location_id")
	key := models.NewResourceKey(party, locationID)
	stored, err := stores.Locations.Remove(c.Request.Context(), key)
	if err != nil {
		helpers.HandleStoreError(c, err)
		return
	}

	publishChange(party, "location", locationID, events.ChangeRemoved, stored.Resource)
	helpers.HandleSuccess(c, nil)
}

// GetEVSEHandler returns one EVSE of a location.
func GetEVSEHandler(c *gin.Context) {
	party := partyFromPath(c)
	stored, err := stores.Locations.GetEVSE(
		c.Request.Context(), party, c.Param("location_id"), c.Param("evse_uid"))
	if err != nil {
		helpers.HandleStoreError(c, err)
		return
	}
	if notModified(c, stored) {
		return
	}
	respondStored(c, stored, false)
}

// PutEVSEHandler upserts one EVSE under an existing location.
func PutEVSEHandler(c *gin.Context) {
	party := partyFromPath(c)
	if err := helpers.CheckIfPartyIsAllowed(c, party); err != nil {
		return
	}

	var evse models.EVSE
	if err := c.ShouldBindJSON(&evse); err != nil {
		helpers.HandleInvalidInputError(c, err)
		return
	}
	evseUID := c.Param("evse_uid")
	if evse.UID != "" && evse.UID != evseUID {
		helpers.HandleInvalidInputError(c,
			fmt.Errorf("body uid %s does not match path uid %s", evse.UID, evseUID))
		return
	}
	evse.UID = evseUID

	locationID := c.Param("location_id")
	stored, created, err := stores.Locations.UpsertEVSE(
		c.Request.Context(), party, locationID, &evse, helpers.DowngradeAllowed(c))
	if err != nil {
		helpers.HandleStoreError(c, err)
		return
	}

	publishChange(party, "evse", locationID+"/"+evseUID, events.ChangeUpserted, stored.Resource)
	respondStored(c, stored, created)
}

// PatchEVSEHandler applies a merge patch to one EVSE.
func PatchEVSEHandler(c *gin.Context) {
	party := partyFromPath(c)
	if err := helpers.CheckIfPartyIsAllowed(c, party); err != nil {
		return
	}
	patch, err := c.GetRawData()
	if err != nil {
		helpers.HandleInvalidInputError(c, err)
		return
	}

	locationID := c.Param("location_id")
	evseUID := c.Param("evse_uid")
	stored, err := stores.Locations.PatchEVSE(c.Request.Context(), party, locationID, evseUID, patch)
	if err != nil {
		helpers.HandleStoreError(c, err)
		return
	}

	publishChange(party, "evse", locationID+"/"+evseUID, events.ChangePatched, stored.Resource)
	respondStored(c, stored, false)
}

// DeleteEVSEHandler removes one EVSE from its location.
func DeleteEVSEHandler(c *gin.Context) {
	party := partyFromPath(c)
	if err := helpers.CheckIfPartyIsAllowed(c, party); err != nil {
		return
	}

	locationID := c.Param("location_id")
	evseUID := c.Param("evse_uid")
	stored, err := stores.Locations.RemoveEVSE(c.Request.Context(), party, locationID, evseUID)
	if err != nil {
		helpers.HandleStoreError(c, err)
		return
	}

	publishChange(party, "evse", locationID+"/"+evseUID, events.ChangeRemoved, stored.Resource)
	helpers.HandleSuccess(c, nil)
}

// GetConnectorHandler returns one connector of an EVSE.
func GetConnectorHandler(c *gin.Context) {
	party := partyFromPath(c)
	stored, err := stores.Locations.GetConnector(
		c.Request.Context(), party, c.Param("location_id"), c.Param("evse_uid"), c.Param("connector_id"))
	if err != nil {
		helpers.HandleStoreError(c, err)
		return
	}
	if notModified(c, stored) {
		return
	}
	respondStored(c, stored, false)
}

// PutConnectorHandler upserts one connector under an existing EVSE.
func PutConnectorHandler(c *gin.Context) {
	party := partyFromPath(c)
	if err := helpers.CheckIfPartyIsAllowed(c, party); err != nil {
		return
	}

	var connector models.Connector
	if err := c.ShouldBindJSON(&connector); err != nil {
		helpers.HandleInvalidInputError(c, err)
		return
	}
	connectorID := c.Param("connector_id")
	if connector.ID != "" && connector.ID != connectorID {
		helpers.HandleInvalidInputError(c,
			fmt.Errorf("body id %s does not match path id %s", connector.ID, connectorID))
		return
	}
	connector.ID = connectorID

	locationID := c.Param("location_id")
	evseUID := c.Param("evse_uid")
	stored, created, err := stores.Locations.UpsertConnector(
		c.Request.Context(), party, locationID, evseUID, &connector, helpers.DowngradeAllowed(c))
	if err != nil {
		helpers.HandleStoreError(c, err)
		return
	}

	publishChange(party, "connector", locationID+"/"+evseUID+"/"+connectorID, events.ChangeUpserted, stored.Resource)
	respondStored(c, stored, created)
}

// PatchConnectorHandler applies a merge patch to one connector.
func PatchConnectorHandler(c *gin.Context) {
	party := partyFromPath(c)
	if err := helpers.CheckIfPartyIsAllowed(c, party); err != nil {
		return
	}
	patch, err := c.GetRawData()
	if err != nil {
		helpers.HandleInvalidInputError(c, err)
		return
	}

	locationID := c.Param("location_id")
	evseUID := c.Param("evse_uid")
	connectorID := c.Param("connector_id")
	stored, err := stores.Locations.PatchConnector(
		c.Request.Context(), party, locationID, evseUID, connectorID, patch)
	if err != nil {
		helpers.HandleStoreError(c, err)
		return
	}

	publishChange(party, "connector", locationID+"/"+evseUID+"/"+connectorID, events.ChangePatched, stored.Resource)
	respondStored(c, stored, false)
}

// DeleteConnectorHandler removes one connector from its EVSE.
func DeleteConnectorHandler(c *gin.Context) {
	party := partyFromPath(c)
	if err := helpers.CheckIfPartyIsAllowed(c, party); err != nil {
		return
	}

	locationID := c.Param("location_id")
	evseUID := c.Param("evse_uid")
	connectorID := c.Param("connector_id")
	stored, err := stores.Locations.RemoveConnector(
		c.Request.Context(), party, locationID, evseUID, connectorID)
	if err != nil {
		helpers.HandleStoreError(c, err)
		return
	}

	publishChange(party, "connector", locationID+"/"+evseUID+"/"+connectorID, events.ChangeRemoved, stored.Resource)
	helpers.HandleSuccess(c, nil)
}

// matchesPath checks that the identity carried in a PUT body agrees with the
// request path. Empty body fields are tolerated and filled from the path by
// the caller where appropriate.
func matchesPath(party models.PartyID, id string, bodyCountry string, bodyParty string, bodyID string) error {
	if bodyCountry != "" && models.NewPartyID(bodyCountry, party.PartyID).CountryCode != party.CountryCode {
		return fmt.Errorf("body country_code %s does not match path %s", bodyCountry, party.CountryCode)
	}
	if bodyParty != "" && models.NewPartyID(party.CountryCode, bodyParty).PartyID != party.PartyID {
		return fmt.Errorf("body party_id %s does not match path %s", bodyParty, party.PartyID)
	}
	if bodyID != "" && bodyID != id {
		return fmt.Errorf("body id %s does not match path id %s", bodyID, id)
	}
	return nil
}
