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

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	"github.com/emobility-hub/ocpi-hub/cmd/ocpi-hub/models"
)

// Locations layers the nested EVSE and connector operations on top of the
// generic location table. Every nested write locks the owning location key,
// so a location and its children share one serialization domain and readers
// never see a torn document.
type Locations struct {
	*Table
}

func NewLocations() *Locations {
	return &Locations{Table: NewTable("location", func() models.Resource { return &models.Location{} })}
}

func locationKey(party models.PartyID, locationID string) models.ResourceKey {
	return models.NewResourceKey(party, locationID)
}

// getLocked fetches and decodes the location while the caller holds its key
// lock.
func (l *Locations) getLocked(ks string) (*models.Location, *entry, error) {
	e, ok := l.snapshot(ks)
	if !ok {
		return nil, nil, ErrNotFound
	}
	stored, err := l.decode(e)
	if err != nil {
		return nil, nil, err
	}
	return stored.Resource.(*models.Location), e, nil
}

// GetEVSE returns a copy of one EVSE with validators derived from its own
// serialized form.
func (l *Locations) GetEVSE(ctx context.Context, party models.PartyID, locationID string, evseUID string) (Stored, error) {
	stored, err := l.Get(ctx, locationKey(party, locationID))
	if err != nil {
		return Stored{}, err
	}
	evse := stored.Resource.(*models.Location).EVSE(evseUID)
	if evse == nil {
		return Stored{}, ErrNotFound
	}
	return subView(evse)
}

// GetConnector returns a copy of one connector.
func (l *Locations) GetConnector(ctx context.Context, party models.PartyID, locationID string, evseUID string, connectorID string) (Stored, error) {
	stored, err := l.Get(ctx, locationKey(party, locationID))
	if err != nil {
		return Stored{}, err
	}
	evse := stored.Resource.(*models.Location).EVSE(evseUID)
	if evse == nil {
		return Stored{}, ErrNotFound
	}
	connector := evse.Connector(connectorID)
	if connector == nil {
		return Stored{}, ErrNotFound
	}
	return subView(connector)
}

// UpsertEVSE inserts or replaces one EVSE inside its location. Downgrade
// protection applies to the EVSE's own last_updated; the location document
// itself is always advanced to the write time.
func (l *Locations) UpsertEVSE(ctx context.Context, party models.PartyID, locationID string, candidate *models.EVSE, allowDowngrade bool) (Stored, bool, error) {
	if candidate.UID == "" {
		return Stored{}, false, &ValidationError{Reason: "evse misses uid"}
	}
	if candidate.Updated().IsZero() {
		candidate.Touch(time.Now().UTC())
	}

	ks := locationKey(party, locationID).String()
	if err := l.lockKey(ctx, ks); err != nil {
		return Stored{}, false, err
	}
	defer l.locks.Unlock(ks)

	location, existing, err := l.getLocked(ks)
	if err != nil {
		return Stored{}, false, err
	}

	wasCreated := true
	if current := location.EVSE(candidate.UID); current != nil {
		wasCreated = false
		if !allowDowngrade && candidate.Updated().Before(current.Updated()) {
			return Stored{}, false, &ConflictError{
				Reason: fmt.Sprintf(
					"evse %s: submitted last_updated %s is older than stored %s",
					candidate.UID,
					candidate.Updated().Format(time.RFC3339),
					current.Updated().Format(time.RFC3339)),
				Candidate: candidate,
			}
		}
		*current = *candidate
	} else {
		location.EVSEs = append(location.EVSEs, *candidate)
	}

	location.Touch(time.Now().UTC())
	if _, err := l.put(ctx, ks, location, existing); err != nil {
		return Stored{}, false, err
	}
	stored, err := subView(candidate)
	return stored, wasCreated, err
}

// PatchEVSE merge-patches one EVSE subtree.
func (l *Locations) PatchEVSE(ctx context.Context, party models.PartyID, locationID string, evseUID string, patch []byte) (Stored, error) {
	patchObj, err := decodePatch(patch)
	if err != nil {
		return Stored{}, err
	}

	ks := locationKey(party, locationID).String()
	if err := l.lockKey(ctx, ks); err != nil {
		return Stored{}, err
	}
	defer l.locks.Unlock(ks)

	location, existing, err := l.getLocked(ks)
	if err != nil {
		return Stored{}, err
	}
	current := location.EVSE(evseUID)
	if current == nil {
		return Stored{}, ErrNotFound
	}

	patched := &models.EVSE{}
	if err := mergeInto(current, patchObj, patched); err != nil {
		return Stored{}, err
	}
	if _, patchedTimestamp := patchObj["last_updated"]; !patchedTimestamp {
		patched.Touch(time.Now().UTC())
	}
	*current = *patched

	location.Touch(time.Now().UTC())
	if _, err := l.put(ctx, ks, location, existing); err != nil {
		return Stored{}, err
	}
	return subView(patched)
}

// RemoveEVSE deletes one EVSE from its location.
func (l *Locations) RemoveEVSE(ctx context.Context, party models.PartyID, locationID string, evseUID string) (Stored, error) {
	ks := locationKey(party, locationID).String()
	if err := l.lockKey(ctx, ks); err != nil {
		return Stored{}, err
	}
	defer l.locks.Unlock(ks)

	location, existing, err := l.getLocked(ks)
	if err != nil {
		return Stored{}, err
	}

	for i := range location.EVSEs {
		if location.EVSEs[i].UID != evseUID {
			continue
		}
		removed := location.EVSEs[i]
		location.EVSEs = append(location.EVSEs[:i], location.EVSEs[i+1:]...)
		location.Touch(time.Now().UTC())
		if _, err := l.put(ctx, ks, location, existing); err != nil {
			return Stored{}, err
		}
		return subView(&removed)
	}
	return Stored{}, ErrNotFound
}

// UpsertConnector inserts or replaces one connector inside its EVSE.
func (l *Locations) UpsertConnector(ctx context.Context, party models.PartyID, locationID string, evseUID string, candidate *models.Connector, allowDowngrade bool) (Stored, bool, error) {
	if candidate.ID == "" {
		return Stored{}, false, &ValidationError{Reason: "connector misses id"}
	}
	if candidate.Updated().IsZero() {
		candidate.Touch(time.Now().UTC())
	}

	ks := locationKey(party, locationID).String()
	if err := l.lockKey(ctx, ks); err != nil {
		return Stored{}, false, err
	}
	defer l.locks.Unlock(ks)

	location, existing, err := l.getLocked(ks)
	if err != nil {
		return Stored{}, false, err
	}
	evse := location.EVSE(evseUID)
	if evse == nil {
		return Stored{}, false, ErrNotFound
	}

	wasCreated := true
	if current := evse.Connector(candidate.ID); current != nil {
		wasCreated = false
		if !allowDowngrade && candidate.Updated().Before(current.Updated()) {
			return Stored{}, false, &ConflictError{
				Reason: fmt.Sprintf(
					"connector %s: submitted last_updated %s is older than stored %s",
					candidate.ID,
					candidate.Updated().Format(time.RFC3339),
					current.Updated().Format(time.RFC3339)),
				Candidate: candidate,
			}
		}
		*current = *candidate
	} else {
		evse.Connectors = append(evse.Connectors, *candidate)
	}

	evse.Touch(time.Now().UTC())
	location.Touch(time.Now().UTC())
	if _, err := l.put(ctx, ks, location, existing); err != nil {
		return Stored{}, false, err
	}
	stored, err := subView(candidate)
	return stored, wasCreated, err
}

// PatchConnector merge-patches one connector subtree.
func (l *Locations) PatchConnector(ctx context.Context, party models.PartyID, locationID string, evseUID string, connectorID string, patch []byte) (Stored, error) {
	patchObj, err := decodePatch(patch)
	if err != nil {
		return Stored{}, err
	}

	ks := locationKey(party, locationID).String()
	if err := l.lockKey(ctx, ks); err != nil {
		return Stored{}, err
	}
	defer l.locks.Unlock(ks)

	location, existing, err := l.getLocked(ks)
	if err != nil {
		return Stored{}, err
	}
	evse := location.EVSE(evseUID)
	if evse == nil {
		return Stored{}, ErrNotFound
	}
	current := evse.Connector(connectorID)
	if current == nil {
		return Stored{}, ErrNotFound
	}

	patched := &models.Connector{}
	if err := mergeInto(current, patchObj, patched); err != nil {
		return Stored{}, err
	}
	if _, patchedTimestamp := patchObj["last_updated"]; !patchedTimestamp {
		patched.Touch(time.Now().UTC())
	}
	*current = *patched

	evse.Touch(time.Now().UTC())
	location.Touch(time.Now().UTC())
	if _, err := l.put(ctx, ks, location, existing); err != nil {
		return Stored{}, err
	}
	return subView(patched)
}

// RemoveConnector deletes one connector from its EVSE.
func (l *Locations) RemoveConnector(ctx context.Context, party models.PartyID, locationID string, evseUID string, connectorID string) (Stored, error) {
	ks := locationKey(party, locationID).String()
	if err := l.lockKey(ctx, ks); err != nil {
		return Stored{}, err
	}
	defer l.locks.Unlock(ks)

	location, existing, err := l.getLocked(ks)
	if err != nil {
		return Stored{}, err
	}
	evse := location.EVSE(evseUID)
	if evse == nil {
		return Stored{}, ErrNotFound
	}

	for i := range evse.Connectors {
		if evse.Connectors[i].ID != connectorID {
			continue
		}
		removed := evse.Connectors[i]
		evse.Connectors = append(evse.Connectors[:i], evse.Connectors[i+1:]...)
		evse.Touch(time.Now().UTC())
		location.Touch(time.Now().UTC())
		if _, err := l.put(ctx, ks, location, existing); err != nil {
			return Stored{}, err
		}
		return subView(&removed)
	}
	return Stored{}, ErrNotFound
}

// subView derives a Stored view for a nested resource from its own
// serialized form.
func subView(resource models.Resource) (Stored, error) {
	body, err := json.Marshal(resource)
	if err != nil {
		return Stored{}, &ValidationError{Reason: err.Error()}
	}
	return Stored{Resource: resource, ETag: ComputeETag(body), LastUpdated: resource.Updated()}, nil
}

func decodePatch(patch []byte) (map[string]interface{}, error) {
	var tree interface{}
	if err := json.Unmarshal(patch, &tree); err != nil {
		return nil, &ValidationError{Reason: "patch is not valid JSON: " + err.Error()}
	}
	obj, ok := tree.(map[string]interface{})
	if !ok {
		return nil, &ValidationError{Reason: "patch must be a JSON object"}
	}
	return obj, nil
}

// mergeInto merge-patches the JSON form of target and decodes the result
// into out, which is where the typed re-validation happens.
func mergeInto(target interface{}, patchObj map[string]interface{}, out interface{}) error {
	body, err := json.Marshal(target)
	if err != nil {
		return &ValidationError{Reason: err.Error()}
	}
	var tree interface{}
	if err := json.Unmarshal(body, &tree); err != nil {
		return &ValidationError{Reason: err.Error()}
	}
	merged := MergeJSON(tree, patchObj)
	mergedBody, err := json.Marshal(merged)
	if err != nil {
		return &ValidationError{Reason: err.Error()}
	}
	if err := json.Unmarshal(mergedBody, out); err != nil {
		return &ValidationError{Reason: "patched body no longer matches the resource shape: " + err.Error()}
	}
	return nil
}
