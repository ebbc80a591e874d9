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

package store

import "github.com/emobility-hub/ocpi-hub/cmd/ocpi-hub/models"

// Stores bundles one table per synchronized resource type.
type Stores struct {
	Locations *Locations
	Tariffs   *Table
	Sessions  *Table
	CDRs      *Table
	Tokens    *Table
}

func NewStores() *Stores {
	return &Stores{
		Locations: NewLocations(),
		Tariffs:   NewTable("tariff", func() models.Resource { return &models.Tariff{} }),
		Sessions:  NewTable("session", func() models.Resource { return &models.Session{} }),
		CDRs:      NewTable("cdr", func() models.Resource { return &models.CDR{} }),
		Tokens:    NewTable("token", func() models.Resource { return &models.Token{} }),
	}
}
