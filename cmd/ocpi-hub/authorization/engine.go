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

// Package authorization decides whether a presented token may start
// charging. The engine performs no writes and is safe to invoke repeatedly.
package authorization

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/emobility-hub/ocpi-hub/cmd/ocpi-hub/models"
	"github.com/emobility-hub/ocpi-hub/cmd/ocpi-hub/store"
)

// ErrUnknownToken marks a decision that failed because the token is not
// known to the target party. The façade surfaces it as OCPI status 2004
// instead of a generic 2000.
var ErrUnknownToken = errors.New("unknown token")

// Request carries one authorization call.
type Request struct {
	// RequesterParty identifies the calling CPO when the transport layer
	// knows it. Zero value means unknown.
	RequesterParty models.PartyID
	// RequesterRoles lists every CPO role the caller's credentials grant.
	// Used to resolve the location owner when RequesterParty is unknown.
	RequesterRoles []models.PartyID
	// TargetParty is the eMSP that issued the token.
	TargetParty models.PartyID
	TokenUID    string
	// TokenType is optional; when set it must match the stored token.
	TokenType models.TokenType
	// Location optionally narrows the request to a location and EVSEs.
	Location *models.LocationReference
}

// RealTimeAuthorizer is an optional external decision delegate. Any error it
// returns degrades to a NOT_ALLOWED decision, never to a protocol fault.
type RealTimeAuthorizer interface {
	Authorize(ctx context.Context, req Request) (models.AuthorizationInfo, error)
}

// Engine resolves authorization requests against the resource store, or
// against a registered real-time delegate.
type Engine struct {
	stores *store.Stores

	mu              sync.RWMutex
	delegate        RealTimeAuthorizer
	delegateTimeout time.Duration
}

func NewEngine(stores *store.Stores) *Engine {
	return &Engine{stores: stores, delegateTimeout: 10 * time.Second}
}

// SetDelegate registers (or with nil, removes) the external delegate.
func (e *Engine) SetDelegate(delegate RealTimeAuthorizer) {
	e.mu.Lock()
	e.delegate = delegate
	e.mu.Unlock()
}

func (e *Engine) currentDelegate() RealTimeAuthorizer {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.delegate
}

// Authorize runs the decision procedure. The returned decision always
// carries a non-empty authorization reference and localized info text. A
// non-nil error is only returned alongside a decision for conditions the
// façade maps to dedicated status codes (unknown token).
func (e *Engine) Authorize(ctx context.Context, req Request) (models.AuthorizationInfo, error) {
	if delegate := e.currentDelegate(); delegate != nil {
		info := e.askDelegate(ctx, delegate, req)
		return e.finalize(info), nil
	}
	return e.resolveLocally(ctx, req)
}

// askDelegate invokes the external delegate with a bounded context. Failures
// and timeouts degrade to NOT_ALLOWED carrying the failure reason.
func (e *Engine) askDelegate(ctx context.Context, delegate RealTimeAuthorizer, req Request) (info models.AuthorizationInfo) {
	defer func() {
		if r := recover(); r != nil {
			zap.S().Errorf("Authorization delegate panicked for token %s: %v", req.TokenUID, r)
			info = e.notAllowed(req, fmt.Sprintf("real-time authorization failed: %v", r))
		}
	}()

	delegateCtx, cancel := context.WithTimeout(ctx, e.delegateTimeout)
	defer cancel()

	result, err := delegate.Authorize(delegateCtx, req)
	if err != nil {
		zap.S().Warnf("Authorization delegate failed for token %s: %s", req.TokenUID, err)
		return e.notAllowed(req, "real-time authorization failed: "+err.Error())
	}
	return result
}

// resolveLocally is the fallback when no delegate is registered.
func (e *Engine) resolveLocally(ctx context.Context, req Request) (models.AuthorizationInfo, error) {
	tokenKey := models.NewResourceKey(req.TargetParty, req.TokenUID)
	stored, err := e.stores.Tokens.Get(ctx, tokenKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return e.finalize(e.notAllowed(req, "unknown token")), ErrUnknownToken
		}
		return models.AuthorizationInfo{}, err
	}
	token := *stored.Resource.(*models.Token)

	if req.TokenType != "" && req.TokenType != token.Type {
		return e.finalize(e.notAllowedToken(token, "unknown token")), ErrUnknownToken
	}

	info := models.AuthorizationInfo{Token: token}

	if req.Location != nil {
		narrowed, reason, err := e.resolveLocation(ctx, req)
		if err != nil {
			return models.AuthorizationInfo{}, err
		}
		if reason != "" {
			return e.finalize(e.notAllowedToken(token, reason)), nil
		}
		info.Location = narrowed
	}

	info.Allowed = decideFromToken(token)
	return e.finalize(info), nil
}

// resolveLocation scopes the location reference down to EVSEs that exist.
// A non-empty reason means the request must be rejected.
func (e *Engine) resolveLocation(ctx context.Context, req Request) (*models.LocationReference, string, error) {
	owner := req.RequesterParty
	if owner.IsZero() {
		if len(req.RequesterRoles) != 1 {
			return nil, "cannot determine location owner", nil
		}
		owner = req.RequesterRoles[0]
	}

	stored, err := e.stores.Locations.Get(ctx, models.NewResourceKey(owner, req.Location.LocationID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, "location unknown", nil
		}
		return nil, "", err
	}
	location := stored.Resource.(*models.Location)

	narrowed := &models.LocationReference{LocationID: req.Location.LocationID}
	for _, uid := range req.Location.EVSEUIDs {
		if location.EVSE(uid) != nil {
			narrowed.EVSEUIDs = append(narrowed.EVSEUIDs, uid)
		}
	}
	if len(req.Location.EVSEUIDs) > 0 && len(narrowed.EVSEUIDs) == 0 {
		return nil, "EVSE(s) unknown", nil
	}
	return narrowed, "", nil
}

// decideFromToken computes the outcome from the stored token state alone.
func decideFromToken(token models.Token) models.Allowed {
	if !token.Valid {
		return models.AllowedBlocked
	}
	if token.Whitelist == models.WhitelistNever {
		// NEVER means the issuer demands a real-time decision; without a
		// delegate there is nobody to ask.
		return models.AllowedNotAllowed
	}
	return models.AllowedYes
}

func (e *Engine) notAllowed(req Request, reason string) models.AuthorizationInfo {
	return models.AuthorizationInfo{
		Allowed: models.AllowedNotAllowed,
		Token:   models.Token{UID: req.TokenUID, Type: req.TokenType},
		Info:    &models.DisplayText{Language: "en", Text: reason},
	}
}

func (e *Engine) notAllowedToken(token models.Token, reason string) models.AuthorizationInfo {
	text := DecisionText(models.AllowedNotAllowed, token.Language)
	text.Text = reason
	return models.AuthorizationInfo{
		Allowed: models.AllowedNotAllowed,
		Token:   token,
		Info:    &text,
	}
}

// finalize guarantees the invariants of every returned decision: a non-empty
// authorization reference and non-empty localized info text.
func (e *Engine) finalize(info models.AuthorizationInfo) models.AuthorizationInfo {
	if info.AuthorizationReference == "" {
		info.AuthorizationReference = uuid.NewString()
	}
	if info.Info == nil || info.Info.Text == "" {
		text := DecisionText(info.Allowed, info.Token.Language)
		info.Info = &text
	}
	return info
}
