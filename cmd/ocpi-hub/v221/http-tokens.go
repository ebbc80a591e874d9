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
	"errors"
	"io"
	"strings"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"

	"github.com/emobility-hub/ocpi-hub/cmd/ocpi-hub/authorization"
	"github.com/emobility-hub/ocpi-hub/cmd/ocpi-hub/helpers"
	"github.com/emobility-hub/ocpi-hub/cmd/ocpi-hub/models"
)

// PostAuthorizeHandler runs the token authorization decision procedure. The
// optional request body narrows the decision to a location and EVSEs.
func PostAuthorizeHandler(c *gin.Context) {
	party := partyFromPath(c)

	req := authorization.Request{
		RequesterRoles: helpers.RequesterParties(c),
		TargetParty:    party,
		TokenUID:       c.Param("token_uid"),
		TokenType:      models.TokenType(strings.ToUpper(c.Query("type"))),
	}

	body, err := c.GetRawData()
	if err != nil && !errors.Is(err, io.EOF) {
		helpers.HandleInvalidInputError(c, err)
		return
	}
	if len(body) > 0 {
		var location models.LocationReference
		if err := json.Unmarshal(body, &location); err != nil {
			helpers.HandleInvalidInputError(c, err)
			return
		}
		if location.LocationID == "" {
			helpers.HandleInvalidInputError(c,
				errors.New("location reference misses location_id"))
			return
		}
		req.Location = &location
	}

	info, err := engine.Authorize(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, authorization.ErrUnknownToken) {
			// the rejection still carries a finalized decision so the
			// field device can render the localized text
			helpers.HandleUnknownToken(c, info)
			return
		}
		helpers.HandleInternalServerError(c, err)
		return
	}
	helpers.HandleSuccess(c, info)
}
