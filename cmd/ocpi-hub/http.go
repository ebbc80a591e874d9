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

package main

import (
	"net/http"
	"time"

	"github.com/gin-contrib/gzip"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/emobility-hub/ocpi-hub/cmd/ocpi-hub/events"
	"github.com/emobility-hub/ocpi-hub/cmd/ocpi-hub/v221"
)

type versionDetails struct {
	Version string `json:"version"`
	URL     string `json:"url"`
}

// SetupRestAPI initializes the REST API and starts listening
func SetupRestAPI(accounts gin.Accounts, version string, bus *events.Bus) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	// Add a ginzap middleware, which:
	//   - Logs all requests, like a combined access and error log.
	//   - Logs to stdout.
	//   - RFC3339 with UTC time format.
	router.Use(ginzap.Ginzap(zap.L(), time.RFC3339, true))

	// Logs all panic to error log
	//   - stack means whether output the stack info.
	router.Use(ginzap.RecoveryWithZap(zap.L(), true))

	router.Use(gzip.Gzip(gzip.DefaultCompression))

	// Request lifecycle events feed the request counters.
	router.Use(func(c *gin.Context) {
		bus.Publish(events.Event{
			Type:     events.RequestReceived,
			Endpoint: c.FullPath(),
			Method:   c.Request.Method,
		})
		c.Next()
	})

	// Healthcheck
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "online")
	})

	// Version discovery, unauthenticated like the OCPI versions endpoint.
	router.GET("/ocpi/versions", func(c *gin.Context) {
		c.JSON(http.StatusOK, []versionDetails{
			{Version: version, URL: "/ocpi/cpo/" + version},
		})
	})

	auth := gin.BasicAuth(accounts)

	// WARNING: Need to check in each specific handler whether the user is
	// actually allowed to write the party it addresses, so that a valid CPO
	// "DE*ABC" cannot push data for party "DE*XYZ".
	cpo := router.Group("/ocpi/cpo/"+version, auth)
	{
		locations := cpo.Group("/locations")
		{
			locations.GET("/:country_code/:party_id", v221.GetLocationsHandler)
			locations.GET("/:country_code/:party_id/:location_id", v221.GetLocationHandler)
			locations.PUT("/:country_code/:party_id/:location_id", v221.PutLocationHandler)
			locations.PATCH("/:country_code/:party_id/:location_id", v221.PatchLocationHandler)
			locations.DELETE("/:country_code/:party_id/:location_id", v221.DeleteLocationHandler)
			locations.GET("/:country_code/:party_id/:location_id/:evse_uid", v221.GetEVSEHandler)
			locations.PUT("/:country_code/:party_id/:location_id/:evse_uid", v221.PutEVSEHandler)
			locations.PATCH("/:country_code/:party_id/:location_id/:evse_uid", v221.PatchEVSEHandler)
			locations.DELETE("/:country_code/:party_id/:location_id/:evse_uid", v221.DeleteEVSEHandler)
			locations.GET("/:country_code/:party_id/:location_id/:evse_uid/:connector_id", v221.GetConnectorHandler)
			locations.PUT("/:country_code/:party_id/:location_id/:evse_uid/:connector_id", v221.PutConnectorHandler)
			locations.PATCH("/:country_code/:party_id/:location_id/:evse_uid/:connector_id", v221.PatchConnectorHandler)
			locations.DELETE("/:country_code/:party_id/:location_id/:evse_uid/:connector_id", v221.DeleteConnectorHandler)
		}

		tariffs := cpo.Group("/tariffs")
		{
			tariffs.GET("/:country_code/:party_id", v221.GetTariffsHandler)
			tariffs.GET("/:country_code/:party_id/:tariff_id", v221.GetTariffHandler)
			tariffs.PUT("/:country_code/:party_id/:tariff_id", v221.PutTariffHandler)
			tariffs.PATCH("/:country_code/:party_id/:tariff_id", v221.PatchTariffHandler)
			tariffs.DELETE("/:country_code/:party_id/:tariff_id", v221.DeleteTariffHandler)
		}

		sessions := cpo.Group("/sessions")
		{
			sessions.GET("/:country_code/:party_id", v221.GetSessionsHandler)
			sessions.GET("/:country_code/:party_id/:session_id", v221.GetSessionHandler)
			sessions.PUT("/:country_code/:party_id/:session_id", v221.PutSessionHandler)
			sessions.PATCH("/:country_code/:party_id/:session_id", v221.PatchSessionHandler)
			sessions.DELETE("/:country_code/:party_id/:session_id", v221.DeleteSessionHandler)
		}

		cdrs := cpo.Group("/cdrs")
		{
			cdrs.GET("/:country_code/:party_id", v221.GetCdrsHandler)
			cdrs.GET("/:country_code/:party_id/:cdr_id", v221.GetCdrHandler)
			cdrs.POST("/:country_code/:party_id", v221.PostCdrHandler)
			cdrs.DELETE("/:country_code/:party_id/:cdr_id", v221.DeleteCdrHandler)
		}

		tokens := cpo.Group("/tokens")
		{
			tokens.GET("/:country_code/:party_id", v221.GetTokensHandler)
			tokens.GET("/:country_code/:party_id/:token_uid", v221.GetTokenHandler)
			tokens.PUT("/:country_code/:party_id/:token_uid", v221.PutTokenHandler)
			tokens.PATCH("/:country_code/:party_id/:token_uid", v221.PatchTokenHandler)
			tokens.DELETE("/:country_code/:party_id/:token_uid", v221.DeleteTokenHandler)
			tokens.POST("/:country_code/:party_id/:token_uid/authorize", v221.PostAuthorizeHandler)
		}
	}

	// eMSPs dispatch commands here; the charge point side posts the
	// asynchronous result back on the CPO-facing callback path below.
	emsp := router.Group("/ocpi/emsp/"+version, auth)
	{
		emspCommands := emsp.Group("/commands")
		{
			emspCommands.POST("/:command_type", v221.PostCommandHandler)
			emspCommands.GET("/:command_type/:command_uid", v221.GetCommandResultHandler)
		}
	}
	cpoCommands := cpo.Group("/commands")
	{
		cpoCommands.POST("/:command_type/:command_uid", v221.PostCommandResultHandler)
	}

	server := &http.Server{
		Addr:    ":80",
		Handler: router,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zap.S().Fatalf("REST API failed: %s", err)
		}
	}()
	return server
}
