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
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rung/go-safecast"
	"go.uber.org/zap"

	"github.com/emobility-hub/ocpi-hub/cmd/ocpi-hub/models"
	"github.com/emobility-hub/ocpi-hub/internal"
)

const defaultPageSize = 100
const maxPageSize = 1000

// Account is one configured API user. Platforms act for one or more parties;
// admins act for all of them.
type Account struct {
	Password string
	Role     string
	Parties  []models.PartyID
	Admin    bool
}

var accountRegistry = make(map[string]Account)

// globalAllowDowngrade mirrors the ALLOW_DOWNGRADE environment variable.
// nil means unset, in which case the per-request forceDowngrade query
// parameter decides.
var globalAllowDowngrade *bool

// LoadAccounts reads the numbered ACCOUNT_* environment variables, plus the
// OCPI_HUB_USER/OCPI_HUB_PASSWORD admin pair.
func LoadAccounts() (gin.Accounts, error) {
	accountRegistry = make(map[string]Account)
	accounts := gin.Accounts{}

	zap.S().Debugf("Loading accounts from environment..")

	for i := 1; i <= 100; i++ {
		tempUser := os.Getenv("ACCOUNT_NAME_" + strconv.Itoa(i))
		tempPassword := os.Getenv("ACCOUNT_PASSWORD_" + strconv.Itoa(i))
		if tempUser == "" || tempPassword == "" {
			continue
		}
		tempRole := os.Getenv("ACCOUNT_ROLE_" + strconv.Itoa(i))
		if tempRole == "" {
			tempRole = "CPO"
		}

		var parties []models.PartyID
		for _, raw := range strings.Split(os.Getenv("ACCOUNT_PARTIES_"+strconv.Itoa(i)), ",") {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				continue
			}
			fields := strings.Split(raw, "*")
			if len(fields) != 2 {
				return nil, fmt.Errorf(
					"malformed party %s in ACCOUNT_PARTIES_%d, expected CC*PID", internal.SanitizeString(raw), i)
			}
			parties = append(parties, models.NewPartyID(fields[0], fields[1]))
		}

		zap.S().Infof("Added account for %s [%s] with %d parties", tempUser, tempRole, len(parties))
		accounts[tempUser] = tempPassword
		accountRegistry[tempUser] = Account{
			Password: tempPassword,
			Role:     strings.ToUpper(tempRole),
			Parties:  parties,
		}
	}

	// also add admin access
	RESTUser := os.Getenv("OCPI_HUB_USER")
	RESTPassword := os.Getenv("OCPI_HUB_PASSWORD")
	if RESTUser != "" && RESTPassword != "" {
		accounts[RESTUser] = RESTPassword
		accountRegistry[RESTUser] = Account{Password: RESTPassword, Role: "HUB", Admin: true}
	}

	if len(accounts) == 0 {
		return nil, fmt.Errorf("no accounts configured, set ACCOUNT_NAME_1/ACCOUNT_PASSWORD_1 or OCPI_HUB_USER/OCPI_HUB_PASSWORD")
	}
	return accounts, nil
}

// RegisterAccount adds a single account, used by tests.
func RegisterAccount(user string, account Account) {
	accountRegistry[user] = account
}

// AccountFor returns the registered account of the authenticated user.
func AccountFor(c *gin.Context) (Account, bool) {
	user, ok := c.Get(gin.AuthUserKey)
	if !ok {
		return Account{}, false
	}
	account, ok := accountRegistry[user.(string)]
	return account, ok
}

// RequesterParties lists the party IDs the authenticated user may act for.
func RequesterParties(c *gin.Context) []models.PartyID {
	account, ok := AccountFor(c)
	if !ok {
		return nil
	}
	return account.Parties
}

// CheckIfPartyIsAllowed checks if the authenticated user may write data owned
// by the given party.
func CheckIfPartyIsAllowed(c *gin.Context, party models.PartyID) error {
	account, ok := AccountFor(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return fmt.Errorf("no account for authenticated user")
	}
	if account.Admin {
		return nil
	}
	for _, p := range account.Parties {
		if p == party {
			return nil
		}
	}
	user, _ := c.Get(gin.AuthUserKey)
	zap.S().Infof("User %v unauthorized to access %s", user, internal.SanitizeString(party.String()))
	c.AbortWithStatus(http.StatusUnauthorized)
	return fmt.Errorf("user %v unauthorized to access %s", user, party)
}

// SetAllowDowngrade configures the global downgrade override from the
// ALLOW_DOWNGRADE environment value. Empty leaves it unset.
func SetAllowDowngrade(raw string) error {
	if raw == "" {
		globalAllowDowngrade = nil
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fmt.Errorf("ALLOW_DOWNGRADE must be a boolean, got %s", internal.SanitizeString(raw))
	}
	globalAllowDowngrade = &v
	return nil
}

// DowngradeAllowed resolves whether a stale-candidate write may replace a
// newer stored resource. The forceDowngrade query parameter only takes
// effect while the global setting is unset.
func DowngradeAllowed(c *gin.Context) bool {
	if globalAllowDowngrade != nil {
		return *globalAllowDowngrade
	}
	v, err := strconv.ParseBool(c.DefaultQuery("forceDowngrade", "false"))
	if err != nil {
		return false
	}
	return v
}

func parseCount(c *gin.Context, name string, fallback int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := safecast.Atoi32(raw)
	if err != nil {
		return 0, fmt.Errorf("%s is not a valid count: %s", name, internal.SanitizeString(raw))
	}
	if v < 0 {
		return 0, fmt.Errorf("%s must not be negative", name)
	}
	if name == "limit" && v > maxPageSize {
		v = maxPageSize
	}
	return int(v), nil
}
