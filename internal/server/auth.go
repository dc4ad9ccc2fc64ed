/*
 * Copyright (c) 2025 by the canvasqr authors.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ownerHeader names the caller directly when trust_owner_header is on,
// for deployments behind an authenticating proxy.
const ownerHeader = "X-Owner"

// tokenIssuer is stamped into every token and required on verification.
const tokenIssuer = "canvasqr"

// SignToken issues an HS256 bearer token for subject.
func SignToken(secret, subject string, exp time.Time) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("auth secret is required")
	}
	if strings.TrimSpace(subject) == "" {
		return "", fmt.Errorf("subject is required")
	}
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken checks the signature, issuer and expiry and returns the subject.
func VerifyToken(secret, token string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("auth secret is required")
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "", fmt.Errorf("token expired")
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "", fmt.Errorf("bad signature")
	case err != nil:
		return "", fmt.Errorf("invalid token: %w", err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return claims.Subject, nil
}

type ownerKey struct{}

// ownerFrom returns the authenticated caller, or "" for anonymous requests.
func ownerFrom(ctx context.Context) string {
	s, _ := ctx.Value(ownerKey{}).(string)
	return s
}

// identify resolves the caller from a bearer token or, when trusted, the
// owner header. A present but invalid token is rejected; no credentials
// means anonymous.
func (s *Server) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := ""
		if auth := r.Header.Get("Authorization"); auth != "" {
			const prefix = "bearer "
			if !strings.HasPrefix(strings.ToLower(auth), prefix) || s.secret == "" {
				writeError(w, r, fmt.Errorf("%w: bearer token not accepted", errUnauthorized))
				return
			}
			sub, err := VerifyToken(s.secret, strings.TrimSpace(auth[len(prefix):]))
			if err != nil {
				writeError(w, r, fmt.Errorf("%w: %v", errUnauthorized, err))
				return
			}
			owner = sub
		} else if s.cfg.Server.TrustOwnerHdr {
			owner = strings.TrimSpace(r.Header.Get(ownerHeader))
		}
		if owner != "" {
			r = r.WithContext(context.WithValue(r.Context(), ownerKey{}, owner))
		}
		next.ServeHTTP(w, r)
	})
}

// canRead allows the owner, anyone on unowned designs, and anyone on
// public designs.
func canRead(owner string, ownerID string, public bool) bool {
	return ownerID == "" || public || owner == ownerID
}

// canWrite allows the owner and anyone on unowned designs.
func canWrite(owner, ownerID string) bool {
	return ownerID == "" || owner == ownerID
}
