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
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"

	"github.com/emobility-hub/ocpi-hub/cmd/ocpi-hub/authorization"
	"github.com/emobility-hub/ocpi-hub/cmd/ocpi-hub/commands"
	"github.com/emobility-hub/ocpi-hub/cmd/ocpi-hub/events"
	"github.com/emobility-hub/ocpi-hub/cmd/ocpi-hub/helpers"
	"github.com/emobility-hub/ocpi-hub/cmd/ocpi-hub/models"
	"github.com/emobility-hub/ocpi-hub/cmd/ocpi-hub/store"
)

type testPublisher struct{}

func (p *testPublisher) PublishCommand(ctx context.Context, cmdType models.CommandType, commandID string, payload interface{}) error {
	return nil
}

func setupTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	testStores := store.NewStores()
	testMailbox := commands.NewMailbox()
	Init(
		testStores,
		authorization.NewEngine(testStores),
		commands.NewDispatcher(testMailbox, &testPublisher{}, 30*time.Second),
		testMailbox,
		events.NewBus())

	helpers.RegisterAccount("testadmin", helpers.Account{Role: "HUB", Admin: true})
	assert.NoError(t, helpers.SetAllowDowngrade(""))

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(gin.AuthUserKey, "testadmin")
		c.Next()
	})

	locations := router.Group("/locations")
	{
		locations.GET("/:country_code/:party_id", GetLocationsHandler)
		locations.GET("/:country_code/:party_id/:location_id", GetLocationHandler)
		locations.PUT("/:country_code/:party_id/:location_id", PutLocationHandler)
		locations.PATCH("/:country_code/:party_id/:location_id", PatchLocationHandler)
		locations.DELETE("/:country_code/:party_id/:location_id", DeleteLocationHandler)
		locations.GET("/:country_code/:party_id/:location_id/:evse_uid", GetEVSEHandler)
		locations.PUT("/:country_code/:party_id/:location_id/:evse_uid", PutEVSEHandler)
	}
	cdrs := router.Group("/cdrs")
	{
		cdrs.GET("/:country_code/:party_id", GetCdrsHandler)
		cdrs.POST("/:country_code/:party_id", PostCdrHandler)
	}
	tokens := router.Group("/tokens")
	{
		tokens.PUT("/:country_code/:party_id/:token_uid", PutTokenHandler)
		tokens.POST("/:country_code/:party_id/:token_uid/authorize", PostAuthorizeHandler)
	}
	cmds := router.Group("/commands")
	{
		cmds.POST("/:command_type", PostCommandHandler)
		cmds.POST("/:command_type/:command_uid", PostCommandResultHandler)
		cmds.GET("/:command_type/:command_uid", GetCommandResultHandler)
	}
	return router
}

func doJSON(router *gin.Engine, method string, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	return recorder
}

func decodeEnvelope(t *testing.T, recorder *httptest.ResponseRecorder) models.Envelope {
	t.Helper()
	var envelope models.Envelope
	assert.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &envelope))
	return envelope
}

func sampleLocation(updated time.Time) map[string]interface{} {
	return map[string]interface{}{
		"country_code": "DE",
		"party_id":     "CPO",
		"id":           "LOC1",
		"publish":      true,
		"address":      "Hauptstrasse 1",
		"city":         "Aachen",
		"country":      "DEU",
		"coordinates":  map[string]string{"latitude": "50.776", "longitude": "6.084"},
		"time_zone":    "Europe/Berlin",
		"evses": []map[string]interface{}{
			{"uid": "E1", "status": "AVAILABLE", "last_updated": updated.Format(time.RFC3339)},
		},
		"last_updated": updated.Format(time.RFC3339),
	}
}

func TestPutAndGetLocation(t *testing.T) {
	router := setupTestRouter(t)
	t1 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	put := doJSON(router, http.MethodPut, "/locations/DE/CPO/LOC1", sampleLocation(t1))
	assert.Equal(t, http.StatusCreated, put.Code)
	assert.Equal(t, models.StatusSuccess, decodeEnvelope(t, put).StatusCode)
	etag := put.Header().Get("ETag")
	assert.NotEmpty(t, etag)
	assert.NotEmpty(t, put.Header().Get("Last-Modified"))

	get := doJSON(router, http.MethodGet, "/locations/DE/CPO/LOC1", nil)
	assert.Equal(t, http.StatusOK, get.Code)
	assert.Equal(t, etag, get.Header().Get("ETag"))

	// conditional GET answers 304 from the validator
	req := httptest.NewRequest(http.MethodGet, "/locations/DE/CPO/LOC1", nil)
	req.Header.Set("If-None-Match", etag)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	assert.Equal(t, http.StatusNotModified, recorder.Code)
}

func TestGetLocationNotFound(t *testing.T) {
	router := setupTestRouter(t)

	get := doJSON(router, http.MethodGet, "/locations/DE/CPO/NOPE", nil)
	assert.Equal(t, http.StatusNotFound, get.Code)
	assert.Equal(t, models.StatusClientError, decodeEnvelope(t, get).StatusCode)
}

func TestPutLocationDowngradeConflict(t *testing.T) {
	router := setupTestRouter(t)
	t1 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	put := doJSON(router, http.MethodPut, "/locations/DE/CPO/LOC1", sampleLocation(t1))
	assert.Equal(t, http.StatusCreated, put.Code)

	stale := doJSON(router, http.MethodPut, "/locations/DE/CPO/LOC1", sampleLocation(t1.Add(-time.Hour)))
	assert.Equal(t, http.StatusConflict, stale.Code)
	envelope := decodeEnvelope(t, stale)
	assert.Equal(t, models.StatusClientError, envelope.StatusCode)
	// the rejected candidate is echoed back
	assert.NotNil(t, envelope.Data)

	forced := doJSON(router, http.MethodPut, "/locations/DE/CPO/LOC1?forceDowngrade=true", sampleLocation(t1.Add(-time.Hour)))
	assert.Equal(t, http.StatusOK, forced.Code)
}

func TestPutLocationIdentityMismatch(t *testing.T) {
	router := setupTestRouter(t)
	body := sampleLocation(time.Now().UTC())
	body["id"] = "OTHER"

	put := doJSON(router, http.MethodPut, "/locations/DE/CPO/LOC1", body)
	assert.Equal(t, http.StatusBadRequest, put.Code)
	assert.Equal(t, models.StatusInvalidParams, decodeEnvelope(t, put).StatusCode)
}

func TestListLocationsPagination(t *testing.T) {
	router := setupTestRouter(t)
	t1 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for _, id := range []string{"LOC1", "LOC2", "LOC3"} {
		body := sampleLocation(t1)
		body["id"] = id
		put := doJSON(router, http.MethodPut, "/locations/DE/CPO/"+id, body)
		assert.Equal(t, http.StatusCreated, put.Code)
	}

	list := doJSON(router, http.MethodGet, "/locations/DE/CPO?offset=1&limit=1", nil)
	assert.Equal(t, http.StatusOK, list.Code)
	assert.Equal(t, "3", list.Header().Get("X-Total-Count"))

	envelope := decodeEnvelope(t, list)
	page, ok := envelope.Data.([]interface{})
	assert.True(t, ok)
	assert.Len(t, page, 1)

	bad := doJSON(router, http.MethodGet, "/locations/DE/CPO?offset=x", nil)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestPatchLocation(t *testing.T) {
	router := setupTestRouter(t)
	t1 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	put := doJSON(router, http.MethodPut, "/locations/DE/CPO/LOC1", sampleLocation(t1))
	assert.Equal(t, http.StatusCreated, put.Code)

	patch := doJSON(router, http.MethodPatch, "/locations/DE/CPO/LOC1", map[string]interface{}{"name": "Rathaus"})
	assert.Equal(t, http.StatusOK, patch.Code)
	assert.NotEqual(t, put.Header().Get("ETag"), patch.Header().Get("ETag"))

	missing := doJSON(router, http.MethodPatch, "/locations/DE/CPO/NOPE", map[string]interface{}{"name": "x"})
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestPutEVSEUnderLocation(t *testing.T) {
	router := setupTestRouter(t)
	t1 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	put := doJSON(router, http.MethodPut, "/locations/DE/CPO/LOC1", sampleLocation(t1))
	assert.Equal(t, http.StatusCreated, put.Code)

	evse := map[string]interface{}{
		"uid": "E2", "status": "PLANNED",
		"last_updated": t1.Add(time.Minute).Format(time.RFC3339),
	}
	created := doJSON(router, http.MethodPut, "/locations/DE/CPO/LOC1/E2", evse)
	assert.Equal(t, http.StatusCreated, created.Code)

	get := doJSON(router, http.MethodGet, "/locations/DE/CPO/LOC1/E2", nil)
	assert.Equal(t, http.StatusOK, get.Code)

	orphan := doJSON(router, http.MethodPut, "/locations/DE/CPO/NOPE/E2", evse)
	assert.Equal(t, http.StatusNotFound, orphan.Code)
}

func TestPostCdrIsWriteOnce(t *testing.T) {
	router := setupTestRouter(t)
	cdr := map[string]interface{}{
		"country_code":     "DE",
		"party_id":         "CPO",
		"id":               "CDR1",
		"currency":         "EUR",
		"start_date_time":  "2024-05-01T10:00:00Z",
		"end_date_time":    "2024-05-01T11:00:00Z",
		"auth_method":      "AUTH_REQUEST",
		"charging_periods": []interface{}{},
		"total_cost":       map[string]float64{"excl_vat": 12.5},
		"total_energy":     30.2,
		"total_time":       1.0,
		"last_updated":     "2024-05-01T11:00:00Z",
	}

	first := doJSON(router, http.MethodPost, "/cdrs/DE/CPO", cdr)
	assert.Equal(t, http.StatusCreated, first.Code)
	assert.True(t, strings.HasSuffix(first.Header().Get("Location"), "/CDR1"))

	second := doJSON(router, http.MethodPost, "/cdrs/DE/CPO", cdr)
	assert.Equal(t, http.StatusConflict, second.Code)
	envelope := decodeEnvelope(t, second)
	assert.Equal(t, models.StatusClientError, envelope.StatusCode)
	assert.NotNil(t, envelope.Data)
}

func TestAuthorizeEndpoint(t *testing.T) {
	router := setupTestRouter(t)

	token := map[string]interface{}{
		"country_code": "DE",
		"party_id":     "EMH",
		"uid":          "TK1",
		"type":         "RFID",
		"contract_id":  "DE-EMH-C00001",
		"issuer":       "eMobility Hub",
		"valid":        true,
		"whitelist":    "ALLOWED",
		"last_updated": "2024-05-01T12:00:00Z",
	}
	put := doJSON(router, http.MethodPut, "/tokens/DE/EMH/TK1", token)
	assert.Equal(t, http.StatusCreated, put.Code)

	authorized := doJSON(router, http.MethodPost, "/tokens/DE/EMH/TK1/authorize", nil)
	assert.Equal(t, http.StatusOK, authorized.Code)
	envelope := decodeEnvelope(t, authorized)
	assert.Equal(t, models.StatusSuccess, envelope.StatusCode)
	info := envelope.Data.(map[string]interface{})
	assert.Equal(t, "ALLOWED", info["allowed"])
	assert.NotEmpty(t, info["authorization_reference"])

	unknown := doJSON(router, http.MethodPost, "/tokens/DE/EMH/NOPE/authorize", nil)
	assert.Equal(t, http.StatusNotFound, unknown.Code)
	rejection := decodeEnvelope(t, unknown)
	assert.Equal(t, models.StatusUnknownToken, rejection.StatusCode)
	// the rejection envelope still carries the decision object
	assert.NotNil(t, rejection.Data)
	decision := rejection.Data.(map[string]interface{})
	assert.Equal(t, "NOT_ALLOWED", decision["allowed"])
	assert.NotEmpty(t, decision["authorization_reference"])
}

func TestCommandRoundTrip(t *testing.T) {
	router := setupTestRouter(t)

	cmd := map[string]interface{}{
		"response_url": "https://emsp.example/cb",
		"token": map[string]interface{}{
			"country_code": "DE", "party_id": "EMH", "uid": "TK1",
			"type": "RFID", "contract_id": "DE-EMH-C00001",
			"issuer": "eMobility Hub", "valid": true, "whitelist": "ALLOWED",
			"last_updated": "2024-05-01T12:00:00Z",
		},
		"location_id": "LOC1",
	}
	dispatched := doJSON(router, http.MethodPost, "/commands/START_SESSION", cmd)
	assert.Equal(t, http.StatusOK, dispatched.Code)
	envelope := decodeEnvelope(t, dispatched)
	assert.Equal(t, models.StatusSuccess, envelope.StatusCode)
	response := envelope.Data.(map[string]interface{})
	assert.Equal(t, "ACCEPTED", response["result"])

	location := dispatched.Header().Get("Location")
	assert.NotEmpty(t, location)
	commandID := location[strings.LastIndex(location, "/")+1:]

	// pending: data stays null until the callback arrives
	pending := doJSON(router, http.MethodGet, "/commands/START_SESSION/"+commandID, nil)
	assert.Equal(t, http.StatusOK, pending.Code)
	assert.Nil(t, decodeEnvelope(t, pending).Data)

	callback := doJSON(router, http.MethodPost, "/commands/START_SESSION/"+commandID,
		map[string]interface{}{"result": "ACCEPTED"})
	assert.Equal(t, http.StatusOK, callback.Code)

	delivered := doJSON(router, http.MethodGet, "/commands/START_SESSION/"+commandID, nil)
	assert.Equal(t, http.StatusOK, delivered.Code)
	result := decodeEnvelope(t, delivered).Data.(map[string]interface{})
	assert.Equal(t, "ACCEPTED", result["result"])

	// consumed exactly once
	gone := doJSON(router, http.MethodGet, "/commands/START_SESSION/"+commandID, nil)
	assert.Equal(t, http.StatusNotFound, gone.Code)
	assert.Equal(t, models.StatusUnknownCommand, decodeEnvelope(t, gone).StatusCode)
}

func TestCommandResultUnknownID(t *testing.T) {
	router := setupTestRouter(t)

	callback := doJSON(router, http.MethodPost, "/commands/STOP_SESSION/nope",
		map[string]interface{}{"result": "ACCEPTED"})
	assert.Equal(t, http.StatusNotFound, callback.Code)
	assert.Equal(t, models.StatusUnknownCommand, decodeEnvelope(t, callback).StatusCode)
}

func TestCommandInvalidType(t *testing.T) {
	router := setupTestRouter(t)

	dispatched := doJSON(router, http.MethodPost, "/commands/MAKE_COFFEE",
		map[string]interface{}{"response_url": "https://emsp.example/cb"})
	assert.Equal(t, http.StatusBadRequest, dispatched.Code)
	assert.Equal(t, models.StatusInvalidParams, decodeEnvelope(t, dispatched).StatusCode)
}

func TestCommandMissingResponseURL(t *testing.T) {
	router := setupTestRouter(t)

	dispatched := doJSON(router, http.MethodPost, "/commands/STOP_SESSION",
		map[string]interface{}{"session_id": "S1"})
	assert.Equal(t, http.StatusBadRequest, dispatched.Code)
}
