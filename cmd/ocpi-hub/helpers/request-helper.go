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

package helpers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/emobility-hub/ocpi-hub/cmd/ocpi-hub/events"
	"github.com/emobility-hub/ocpi-hub/cmd/ocpi-hub/models"
	"github.com/emobility-hub/ocpi-hub/cmd/ocpi-hub/store"
	"github.com/emobility-hub/ocpi-hub/internal"
)

var bus *events.Bus

// Init hands the helpers the event bus used for response lifecycle events.
func Init(eventBus *events.Bus) {
	bus = eventBus
}

func publishResponse(c *gin.Context, statusCode int) {
	if bus == nil {
		return
	}
	bus.Publish(events.Event{
		Type:       events.ResponseSent,
		Endpoint:   c.FullPath(),
		Method:     c.Request.Method,
		StatusCode: statusCode,
	})
}

// Respond writes an OCPI envelope and publishes the response event.
func Respond(c *gin.Context, httpStatus int, envelope models.Envelope) {
	publishResponse(c, envelope.StatusCode)
	c.JSON(httpStatus, envelope)
}

func HandleSuccess(c *gin.Context, data interface{}) {
	Respond(c, http.StatusOK, models.NewEnvelope(data))
}

func HandleCreated(c *gin.Context, data interface{}) {
	Respond(c, http.StatusCreated, models.NewEnvelope(data))
}

func HandleInvalidInputError(c *gin.Context, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	erx := internal.SanitizeString(err.Error())
	zap.S().Infow("Invalid input", "error", erx, "route", c.FullPath())
	Respond(c, http.StatusBadRequest,
		models.NewErrorEnvelope(models.StatusInvalidParams, erx, nil))
}

func HandleNotFound(c *gin.Context) {
	Respond(c, http.StatusNotFound,
		models.NewErrorEnvelope(models.StatusClientError, "Unknown resource", nil))
}

// HandleConflict echoes the rejected candidate back so the caller can diff
// it against the stored resource.
func HandleConflict(c *gin.Context, conflict *store.ConflictError) {
	Respond(c, http.StatusConflict,
		models.NewErrorEnvelope(models.StatusClientError, conflict.Reason, conflict.Candidate))
}

func HandleUnknownToken(c *gin.Context, data interface{}) {
	Respond(c, http.StatusNotFound,
		models.NewErrorEnvelope(models.StatusUnknownToken, "Unknown token", data))
}

func HandleUnknownCommand(c *gin.Context) {
	Respond(c, http.StatusNotFound,
		models.NewErrorEnvelope(models.StatusUnknownCommand, "Unknown command id", nil))
}

func HandleInternalServerError(c *gin.Context, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	erx := internal.SanitizeString(err.Error())
	zap.S().Errorw("Internal server error", "error", erx, "route", c.FullPath())
	Respond(c, http.StatusInternalServerError,
		models.NewErrorEnvelope(models.StatusServerError, "The server had an internal error.", nil))
}

// HandleStoreError routes a store failure to the right response shape.
func HandleStoreError(c *gin.Context, err error) {
	var conflict *store.ConflictError
	var validation *store.ValidationError
	switch {
	case errors.Is(err, store.ErrNotFound):
		HandleNotFound(c)
	case errors.As(err, &conflict):
		HandleConflict(c, conflict)
	case errors.As(err, &validation):
		Respond(c, http.StatusBadRequest,
			models.NewErrorEnvelope(models.StatusInvalidParams, validation.Reason, nil))
	default:
		HandleInternalServerError(c, err)
	}
}

// SetValidators emits the cache validation headers derived from the stored
// resource.
func SetValidators(c *gin.Context, stored store.Stored) {
	c.Header("ETag", `"`+stored.ETag+`"`)
	c.Header("Last-Modified", stored.LastUpdated.UTC().Format(http.TimeFormat))
}

// SetTotalCount reports the pre-pagination match count of a list response.
func SetTotalCount(c *gin.Context, total int) {
	c.Header("X-Total-Count", strconv.Itoa(total))
}

// ParseListFilter reads the date_from/date_to/offset/limit query parameters.
// date_from is exclusive and date_to inclusive, matching the store filter.
func ParseListFilter(c *gin.Context) (store.Filter, error) {
	var filter store.Filter

	if raw := c.Query("date_from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("date_from is not a RFC3339 timestamp: %s", internal.SanitizeString(raw))
		}
		filter.DateFrom = t
	}
	if raw := c.Query("date_to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("date_to is not a RFC3339 timestamp: %s", internal.SanitizeString(raw))
		}
		filter.DateTo = t
	}

	offset, err := parseCount(c, "offset", 0)
	if err != nil {
		return filter, err
	}
	limit, err := parseCount(c, "limit", defaultPageSize)
	if err != nil {
		return filter, err
	}
	filter.Offset = offset
	filter.Limit = limit
	return filter, nil
}
