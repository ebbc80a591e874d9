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

type TariffDimension string

const (
	TariffDimensionEnergy      TariffDimension = "ENERGY"
	TariffDimensionFlat        TariffDimension = "FLAT"
	TariffDimensionParkingTime TariffDimension = "PARKING_TIME"
	TariffDimensionTime        TariffDimension = "TIME"
)

type Tariff struct {
	CountryCode   string          `json:"country_code"`
	PartyID       string          `json:"party_id"`
	ID            string          `json:"id"`
	Currency      string          `json:"currency"`
	Type          string          `json:"type,omitempty"`
	TariffAltText []DisplayText   `json:"tariff_alt_text,omitempty"`
	TariffAltURL  string          `json:"tariff_alt_url,omitempty"`
	MinPrice      *Price          `json:"min_price,omitempty"`
	MaxPrice      *Price          `json:"max_price,omitempty"`
	Elements      []TariffElement `json:"elements"`
	StartDateTime *time.Time      `json:"start_date_time,omitempty"`
	EndDateTime   *time.Time      `json:"end_date_time,omitempty"`
	LastUpdated   time.Time       `json:"last_updated"`
}

func (t *Tariff) Updated() time.Time { return t.LastUpdated }
func (t *Tariff) Touch(ts time.Time) { t.LastUpdated = ts }

type TariffElement struct {
	PriceComponents []PriceComponent    `json:"price_components"`
	Restrictions    *TariffRestrictions `json:"restrictions,omitempty"`
}

type PriceComponent struct {
	Type     TariffDimension `json:"type"`
	Price    float64         `json:"price"`
	Vat      *float64        `json:"vat,omitempty"`
	StepSize int             `json:"step_size"`
}

type TariffRestrictions struct {
	StartTime   string   `json:"start_time,omitempty"`
	EndTime     string   `json:"end_time,omitempty"`
	MinKwh      *float64 `json:"min_kwh,omitempty"`
	MaxKwh      *float64 `json:"max_kwh,omitempty"`
	MinPower    *float64 `json:"min_power,omitempty"`
	MaxPower    *float64 `json:"max_power,omitempty"`
	MinDuration *int     `json:"min_duration,omitempty"`
	MaxDuration *int     `json:"max_duration,omitempty"`
	DayOfWeek   []string `json:"day_of_week,omitempty"`
}
