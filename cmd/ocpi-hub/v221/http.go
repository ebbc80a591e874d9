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

// Package v221 holds the OCPI 2.2.1 request handlers.
package v221

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"

	"github.com/emobility-hub/ocpi-hub/cmd/ocpi-hub/authorization"
	"github.com/emobility-hub/ocpi-hub/cmd/ocpi-hub/commands"
	"github.com/emobility-hub/ocpi-hub/cmd/ocpi-hub/events"
	"github.com/emobility-hub/ocpi-hub/cmd/ocpi-hub/helpers"
	"github.com/emobility-hub/ocpi-hub/cmd/ocpi-hub/models"
	"github.com/emobility-hub/ocpi-hub/cmd/ocpi-hub/store"
	"github.com/emobility-hub/ocpi-hub/internal"
)

var (
	stores     *store.Stores
	engine     *authorization.Engine
	dispatcher *commands.Dispatcher
	mailbox    *commands.Mailbox
	bus        *events.Bus
)

// Init wires the handler package to its collaborators. Must run before any
// route is served.
func Init(
	s *store.Stores,
	e *authorization.Engine,
	d *commands.Dispatcher,
	m *commands.Mailbox,
	b *events.Bus) {
	stores = s
	engine = e
	dispatcher = d
	mailbox = m
	bus = b
}

func partyFromPath(c *gin.Context) models.PartyID {
	return models.NewPartyID(c.Param("country_code"), c.Param("party_id"))
}

func publishChange(party models.PartyID, resource string, id string, change events.ChangeKind, payload interface{}) {
	if bus == nil {
		return
	}
	bus.Publish(events.Event{
		Type:       events.ResourceChanged,
		Party:      party,
		Resource:   resource,
		ResourceID: id,
		Change:     change,
		Payload:    payload,
	})
}

// notModified answers conditional GETs from the stored validators. ETag
// comparison wins over Last-Modified when both headers are present.
func notModified(c *gin.Context, stored store.Stored) bool {
	if match := c.GetHeader("If-None-Match"); match != "" {
		if !strings.Contains(match, stored.ETag) {
			return false
		}
	} else if since := c.GetHeader("If-Modified-Since"); since != "" {
		t, err := http.ParseTime(since)
		if err != nil || stored.LastUpdated.After(t) {
			return false
		}
	} else {
		return false
	}
	helpers.SetValidators(c, stored)
	c.Status(http.StatusNotModified)
	return true
}

func respondStored(c *gin.Context, stored store.Stored, created bool) {
	helpers.SetValidators(c, stored)
	if created {
		helpers.HandleCreated(c, stored.Resource)
		return
	}
	helpers.HandleSuccess(c, stored.Resource)
}

type cachedPage struct {
	Total int             `json:"total"`
	Items json.RawMessage `json:"items"`
}

// serveCachedList answers a list request from the tiered response cache. Pages
// live for a few seconds only, writes become visible once the entry expires.
func serveCachedList(c *gin.Context) bool {
	hit, raw := internal.GetTiered(c.Request.URL.RequestURI())
	if !hit {
		return false
	}
	var page cachedPage
	if err := json.Unmarshal(raw, &page); err != nil {
		return false
	}
	helpers.SetTotalCount(c, page.Total)
	helpers.HandleSuccess(c, page.Items)
	return true
}

func cacheList(c *gin.Context, total int, items interface{}) {
	raw, err := json.Marshal(items)
	if err != nil {
		return
	}
	page, err := json.Marshal(cachedPage{Total: total, Items: raw})
	if err != nil {
		return
	}
	internal.SetTiered(c.Request.URL.RequestURI(), page, 0)
}
