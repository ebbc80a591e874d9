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

import "time"

type ConnectorStatus string

const (
	ConnectorStatusAvailable   ConnectorStatus = "AVAILABLE"
	ConnectorStatusBlocked     ConnectorStatus = "BLOCKED"
	ConnectorStatusCharging    ConnectorStatus = "CHARGING"
	ConnectorStatusInoperative ConnectorStatus = "INOPERATIVE"
	ConnectorStatusOutOfOrder  ConnectorStatus = "OUTOFORDER"
	ConnectorStatusPlanned     ConnectorStatus = "PLANNED"
	ConnectorStatusRemoved     ConnectorStatus = "REMOVED"
	ConnectorStatusReserved    ConnectorStatus = "RESERVED"
	ConnectorStatusUnknown     ConnectorStatus = "UNKNOWN"
)

// Location is a CPO-owned charging site with nested EVSEs and connectors.
type Location struct {
	CountryCode  string           `json:"country_code"`
	PartyID      string           `json:"party_id"`
	ID           string           `json:"id"`
	Publish      bool             `json:"publish"`
	Name         string           `json:"name,omitempty"`
	Address      string           `json:"address"`
	City         string           `json:"city"`
	PostalCode   string           `json:"postal_code,omitempty"`
	Country      string           `json:"country"`
	Coordinates  GeoLocation      `json:"coordinates"`
	EVSEs        []EVSE           `json:"evses,omitempty"`
	Operator     *BusinessDetails `json:"operator,omitempty"`
	TimeZone     string           `json:"time_zone"`
	OpeningTimes *Hours           `json:"opening_times,omitempty"`
	LastUpdated  time.Time        `json:"last_updated"`
}

func (l *Location) Updated() time.Time { return l.LastUpdated }
func (l *Location) Touch(t time.Time)  { l.LastUpdated = t }

// EVSE returns the nested EVSE with the given uid, if any.
func (l *Location) EVSE(uid string) *EVSE {
	for i := range l.EVSEs {
		if l.EVSEs[i].UID == uid {
			return &l.EVSEs[i]
		}
	}
	return nil
}

type EVSE struct {
	UID               string          `json:"uid"`
	EVSEID            string          `json:"evse_id,omitempty"`
	Status            ConnectorStatus `json:"status"`
	Capabilities      []string        `json:"capabilities,omitempty"`
	Connectors        []Connector     `json:"connectors,omitempty"`
	FloorLevel        string          `json:"floor_level,omitempty"`
	Coordinates       *GeoLocation    `json:"coordinates,omitempty"`
	PhysicalReference string          `json:"physical_reference,omitempty"`
	LastUpdated       time.Time       `json:"last_updated"`
}

func (e *EVSE) Updated() time.Time { return e.LastUpdated }
func (e *EVSE) Touch(t time.Time)  { e.LastUpdated = t }

// Connector returns the nested connector with the given id, if any.
func (e *EVSE) Connector(id string) *Connector {
	for i := range e.Connectors {
		if e.Connectors[i].ID == id {
			return &e.Connectors[i]
		}
	}
	return nil
}

type Connector struct {
	ID                 string    `json:"id"`
	Standard           string    `json:"standard"`
	Format             string    `json:"format"`
	PowerType          string    `json:"power_type"`
	MaxVoltage         int       `json:"max_voltage"`
	MaxAmperage        int       `json:"max_amperage"`
	MaxElectricPower   int       `json:"max_electric_power,omitempty"`
	TariffIDs          []string  `json:"tariff_ids,omitempty"`
	TermsAndConditions string    `json:"terms_and_conditions,omitempty"`
	LastUpdated        time.Time `json:"last_updated"`
}

func (c *Connector) Updated() time.Time { return c.LastUpdated }
func (c *Connector) Touch(t time.Time)  { c.LastUpdated = t }

type BusinessDetails struct {
	Name    string `json:"name"`
	Website string `json:"website,omitempty"`
}

type Hours struct {
	TwentyFourSeven bool           `json:"twentyfourseven"`
	RegularHours    []RegularHours `json:"regular_hours,omitempty"`
}

type RegularHours struct {
	Weekday     int    `json:"weekday"`
	PeriodBegin string `json:"period_begin"`
	PeriodEnd   string `json:"period_end"`
}
