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

// Package store keeps the synchronized OCPI resources. One Table per resource
// type, entries held as canonical JSON so readers always get a private copy
// and never observe a half-applied patch.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/EagleChen/mapmutex"
	json "github.com/goccy/go-json"

	"github.com/emobility-hub/ocpi-hub/cmd/ocpi-hub/models"
)

// Stored is a read-only view of a stored resource plus its cache validators.
type Stored struct {
	Resource    models.Resource
	ETag        string
	LastUpdated time.Time
}

// Filter narrows List results. DateFrom is exclusive, DateTo inclusive,
// matching the OCPI date_from/date_to query parameters.
type Filter struct {
	DateFrom time.Time
	DateTo   time.Time
	Offset   int
	Limit    int
}

type entry struct {
	body    []byte
	updated time.Time
	etag    string
	seq     uint64
}

// Table is a keyed table of one resource type. Writes to the same key are
// serialized through a per-key mutex, writes to distinct keys run
// independently. Reads only take the short map lock and decode a fresh copy.
type Table struct {
	name  string
	newFn func() models.Resource

	mu      sync.RWMutex
	entries map[string]*entry
	seq     uint64

	locks *mapmutex.Mutex
}

func NewTable(name string, newFn func() models.Resource) *Table {
	return &Table{
		name:    name,
		newFn:   newFn,
		entries: make(map[string]*entry),
		locks: mapmutex.NewCustomizedMapMutex(
			800,
			100000000,
			10,
			1.1,
			0.2), // default configs: maxDelay:  100000000, // 0.1 second baseDelay: 10,        // 10 nanosecond
	}
}

func (t *Table) Name() string {
	return t.name
}

// Len reports the number of live entries, used by readiness checks and tests.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// lockKey serializes writers on a single resource key. mapmutex backs off
// internally; the outer loop keeps retrying until the context is cancelled so
// a contended write waits instead of failing.
func (t *Table) lockKey(ctx context.Context, key string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if t.locks.TryLock(key) {
			return nil
		}
	}
}

func (t *Table) snapshot(key string) (*entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[key]
	return e, ok
}

func (t *Table) decode(e *entry) (Stored, error) {
	resource := t.newFn()
	if err := json.Unmarshal(e.body, resource); err != nil {
		// Stored bodies are written by us; failing to decode one is a
		// corrupted-index class bug, not an expected condition.
		return Stored{}, fmt.Errorf("corrupted %s entry: %w", t.name, err)
	}
	return Stored{Resource: resource, ETag: e.etag, LastUpdated: e.updated}, nil
}

// Get returns a private copy of the resource under key, or ErrNotFound.
func (t *Table) Get(ctx context.Context, key models.ResourceKey) (Stored, error) {
	if err := ctx.Err(); err != nil {
		return Stored{}, err
	}
	e, ok := t.snapshot(key.String())
	if !ok {
		return Stored{}, ErrNotFound
	}
	return t.decode(e)
}

// List returns the party's resources in insertion order, filtered by the
// half-open (DateFrom, DateTo] interval and paginated by Offset/Limit. The
// second return value is the total match count before pagination.
func (t *Table) List(ctx context.Context, party models.PartyID, filter Filter) ([]Stored, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	prefix := party.String() + "\x1f"

	t.mu.RLock()
	matched := make([]*entry, 0, len(t.entries))
	for key, e := range t.entries {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if !filter.DateFrom.IsZero() && !e.updated.After(filter.DateFrom) {
			continue
		}
		if !filter.DateTo.IsZero() && e.updated.After(filter.DateTo) {
			continue
		}
		matched = append(matched, e)
	}
	t.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })

	total := len(matched)
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[filter.Offset:]
		}
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}

	page := make([]Stored, 0, len(matched))
	for _, e := range matched {
		stored, err := t.decode(e)
		if err != nil {
			return nil, 0, err
		}
		page = append(page, stored)
	}
	return page, total, nil
}

// Upsert inserts or replaces the resource under key. An existing resource is
// only replaced when the candidate is not older, unless allowDowngrade is
// set. Returns the stored view and whether the resource was created.
func (t *Table) Upsert(ctx context.Context, key models.ResourceKey, candidate models.Resource, allowDowngrade bool) (Stored, bool, error) {
	if err := key.Validate(); err != nil {
		return Stored{}, false, &ValidationError{Reason: err.Error()}
	}
	if candidate.Updated().IsZero() {
		candidate.Touch(time.Now().UTC())
	}

	ks := key.String()
	if err := t.lockKey(ctx, ks); err != nil {
		return Stored{}, false, err
	}
	defer t.locks.Unlock(ks)

	existing, exists := t.snapshot(ks)
	if exists && !allowDowngrade && candidate.Updated().Before(existing.updated) {
		return Stored{}, false, &ConflictError{
			Reason: fmt.Sprintf(
				"%s %s: submitted last_updated %s is older than stored %s",
				t.name, key.ID,
				candidate.Updated().Format(time.RFC3339),
				existing.updated.Format(time.RFC3339)),
			Candidate: candidate,
		}
	}

	stored, err := t.put(ctx, ks, candidate, existing)
	return stored, !exists, err
}

// Add inserts a write-once resource, used for CDRs. Re-sending an id that is
// already stored is a Conflict, never a replace.
func (t *Table) Add(ctx context.Context, key models.ResourceKey, candidate models.Resource) (Stored, error) {
	if err := key.Validate(); err != nil {
		return Stored{}, &ValidationError{Reason: err.Error()}
	}
	if candidate.Updated().IsZero() {
		candidate.Touch(time.Now().UTC())
	}

	ks := key.String()
	if err := t.lockKey(ctx, ks); err != nil {
		return Stored{}, err
	}
	defer t.locks.Unlock(ks)

	if _, exists := t.snapshot(ks); exists {
		return Stored{}, &ConflictError{
			Reason:    fmt.Sprintf("%s %s already exists and is immutable", t.name, key.ID),
			Candidate: candidate,
		}
	}

	return t.put(ctx, ks, candidate, nil)
}

// put marshals and commits a resource under an already held key lock.
func (t *Table) put(ctx context.Context, ks string, resource models.Resource, existing *entry) (Stored, error) {
	if err := ctx.Err(); err != nil {
		return Stored{}, err
	}

	body, err := json.Marshal(resource)
	if err != nil {
		return Stored{}, &ValidationError{Reason: err.Error()}
	}
	etag := ComputeETag(body)

	t.mu.Lock()
	seq := t.seq
	if existing != nil {
		seq = existing.seq
	} else {
		t.seq++
	}
	t.entries[ks] = &entry{body: body, updated: resource.Updated(), etag: etag, seq: seq}
	t.mu.Unlock()

	return Stored{Resource: resource, ETag: etag, LastUpdated: resource.Updated()}, nil
}

// Patch applies an RFC 7386 merge patch to the resource under key. The merged
// tree is re-decoded into the typed shape, which is where value-level
// validation happens. An empty patch document still counts as a write: it
// advances last_updated and the ETag.
func (t *Table) Patch(ctx context.Context, key models.ResourceKey, patch []byte) (Stored, error) {
	var patchTree interface{}
	if err := json.Unmarshal(patch, &patchTree); err != nil {
		return Stored{}, &ValidationError{Reason: "patch is not valid JSON: " + err.Error()}
	}
	patchObj, ok := patchTree.(map[string]interface{})
	if !ok {
		return Stored{}, &ValidationError{Reason: "patch must be a JSON object"}
	}

	ks := key.String()
	if err := t.lockKey(ctx, ks); err != nil {
		return Stored{}, err
	}
	defer t.locks.Unlock(ks)

	existing, exists := t.snapshot(ks)
	if !exists {
		return Stored{}, ErrNotFound
	}

	var target interface{}
	if err := json.Unmarshal(existing.body, &target); err != nil {
		return Stored{}, fmt.Errorf("corrupted %s entry: %w", t.name, err)
	}

	merged := MergeJSON(target, patchObj)
	mergedBody, err := json.Marshal(merged)
	if err != nil {
		return Stored{}, &ValidationError{Reason: err.Error()}
	}

	resource := t.newFn()
	if err := json.Unmarshal(mergedBody, resource); err != nil {
		return Stored{}, &ValidationError{Reason: "patched body no longer matches the resource shape: " + err.Error()}
	}

	// A patch that does not supply last_updated itself still advances it.
	if _, patchedTimestamp := patchObj["last_updated"]; !patchedTimestamp {
		resource.Touch(time.Now().UTC())
	}

	return t.put(ctx, ks, resource, existing)
}

// Remove deletes the resource under key and returns its last stored view.
// DELETE is a non-standard extension of the protocol, kept for operator
// tooling.
func (t *Table) Remove(ctx context.Context, key models.ResourceKey) (Stored, error) {
	ks := key.String()
	if err := t.lockKey(ctx, ks); err != nil {
		return Stored{}, err
	}
	defer t.locks.Unlock(ks)

	e, ok := t.snapshot(ks)
	if !ok {
		return Stored{}, ErrNotFound
	}
	stored, err := t.decode(e)
	if err != nil {
		return Stored{}, err
	}

	t.mu.Lock()
	delete(t.entries, ks)
	t.mu.Unlock()

	return stored, nil
}

// RemoveAll drops every resource of a party and reports how many were removed.
func (t *Table) RemoveAll(ctx context.Context, party models.PartyID) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	prefix := party.String() + "\x1f"

	t.mu.Lock()
	removed := 0
	for key := range t.entries {
		if strings.HasPrefix(key, prefix) {
			delete(t.entries, key)
			removed++
		}
	}
	t.mu.Unlock()

	return removed, nil
}
