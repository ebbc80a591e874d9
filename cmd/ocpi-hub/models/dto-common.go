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

package models

import (
	"fmt"
	"strings"
	"time"
)

// PartyID identifies a roaming party by ISO-3166 alpha-2 country code and
// CPO/eMSP party id. It is used as a namespace key, so it must stay comparable.
type PartyID struct {
	CountryCode string `json:"country_code"`
	PartyID     string `json:"party_id"`
}

func NewPartyID(countryCode string, partyID string) PartyID {
	return PartyID{
		CountryCode: strings.ToUpper(countryCode),
		PartyID:     strings.ToUpper(partyID),
	}
}

func (p PartyID) String() string {
	return p.CountryCode + "*" + p.PartyID
}

func (p PartyID) IsZero() bool {
	return p.CountryCode == "" && p.PartyID == ""
}

// ResourceKey addresses a single versioned resource. EVSEs nest under a
// location uid and connectors under (location uid, evse uid), so ParentIDs
// holds zero, one or two elements.
type ResourceKey struct {
	Party     PartyID
	ID        string
	ParentIDs []string
}

func NewResourceKey(party PartyID, parentsAndID ...string) ResourceKey {
	if len(parentsAndID) == 0 {
		return ResourceKey{Party: party}
	}
	return ResourceKey{
		Party:     party,
		ID:        parentsAndID[len(parentsAndID)-1],
		ParentIDs: parentsAndID[:len(parentsAndID)-1],
	}
}

// String flattens the key for use in lock tables and maps. The separator
// cannot occur in OCPI ids (CiString excludes control characters).
func (k ResourceKey) String() string {
	var sb strings.Builder
	sb.WriteString(k.Party.String())
	for _, parent := range k.ParentIDs {
		sb.WriteString("\x1f")
		sb.WriteString(parent)
	}
	sb.WriteString("\x1f")
	sb.WriteString(k.ID)
	return sb.String()
}

func (k ResourceKey) Validate() error {
	if k.Party.CountryCode == "" || k.Party.PartyID == "" {
		return fmt.Errorf("resource key misses party identity")
	}
	if k.ID == "" {
		return fmt.Errorf("resource key misses id")
	}
	for _, parent := range k.ParentIDs {
		if parent == "" {
			return fmt.Errorf("resource key has empty parent id")
		}
	}
	return nil
}

// Resource is the shape shared by every synchronized OCPI object. The stored
// last_updated timestamp is the sole downgrade protection signal.
type Resource interface {
	Updated() time.Time
	Touch(t time.Time)
}

// DisplayText is a localized message as defined by OCPI.
type DisplayText struct {
	Language string `json:"language"`
	Text     string `json:"text"`
}

// GeoLocation in decimal degrees, stored as OCPI string fields.
type GeoLocation struct {
	Latitude  string `json:"latitude"`
	Longitude string `json:"longitude"`
}

// Price is a net/gross amount pair.
type Price struct {
	ExclVat float64  `json:"excl_vat"`
	InclVat *float64 `json:"incl_vat,omitempty"`
}
