// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/pkcebridge/jwt"
	"github.com/hashicorp/pkcebridge/oidc"
	"github.com/hashicorp/pkcebridge/profile"
	"github.com/hashicorp/pkcebridge/sdk/id"
	"github.com/hashicorp/pkcebridge/session"
)

// TokenExchanger exchanges an authorization code and verifier at the
// provider's token endpoint.  *oidc.Provider implements it.
type TokenExchanger interface {
	Exchange(ctx context.Context, code, verifier, redirectURL string) (*oidc.Token, error)
}

// AssertionVerifier verifies an id_token and returns its claims.
// *oidc.Provider implements it.
type AssertionVerifier interface {
	VerifyIdToken(ctx context.Context, t oidc.IdToken) (*oidc.Claims, error)
}

// Service is the backend exchange service.  It holds no per-request state
// and is safe for concurrent use.
type Service struct {
	tokens        TokenExchanger
	assertions    AssertionVerifier
	profiles      profile.Store
	minter        session.Minter
	logger        hclog.Logger
	customClaims  []string
	subjectIDFunc func(sub string) string
}

// NewService creates a Service from its collaborators, none of which may be
// nil.
//
// Supported options: WithLogger, WithCustomClaims, WithSubjectIDFunc
func NewService(tokens TokenExchanger, assertions AssertionVerifier, profiles profile.Store, minter session.Minter, opt ...Option) (*Service, error) {
	const op = "exchange.NewService"
	var missing []string
	if tokens == nil {
		missing = append(missing, "token exchanger")
	}
	if assertions == nil {
		missing = append(missing, "assertion verifier")
	}
	if profiles == nil {
		missing = append(missing, "profile store")
	}
	if minter == nil {
		missing = append(missing, "session minter")
	}
	if len(missing) > 0 {
		return nil, oidc.NewError(oidc.ConfigurationError, oidc.WithOp(op),
			oidc.WithMsg(fmt.Sprintf("missing %s", strings.Join(missing, ", "))), oidc.WithWrap(oidc.ErrNilParameter))
	}
	opts := getServiceOpts(opt...)
	return &Service{
		tokens:        tokens,
		assertions:    assertions,
		profiles:      profiles,
		minter:        minter,
		logger:        opts.withLogger,
		customClaims:  opts.withCustomClaims,
		subjectIDFunc: opts.withSubjectIDFunc,
	}, nil
}

// DefaultSubjectID derives the stable subject id from a "sub" claim by
// dropping any provider prefix: "idp.example|12345" becomes "12345".
func DefaultSubjectID(sub string) string {
	if i := strings.LastIndex(sub, "|"); i >= 0 {
		return sub[i+1:]
	}
	return sub
}

// Exchange converts one authorization code into a session credential.  The
// profile is upserted before minting and a failed upsert is fatal: no
// credential is issued for an identity that wasn't persisted.
func (s *Service) Exchange(ctx context.Context, req *oidc.ExchangeRequest) (*oidc.ExchangeResponse, error) {
	const op = "exchange.(Service).Exchange"
	attemptID, err := id.New("xa")
	if err != nil {
		return nil, s.failWith(s.logger, op, oidc.Internal, "unable to generate attempt id", err)
	}
	logger := s.logger.With("attempt_id", attemptID)

	if err := req.Validate(); err != nil {
		return nil, s.failWith(logger, op, oidc.InvalidRequest, "invalid exchange request", err)
	}

	tk, err := s.tokens.Exchange(ctx, req.Code, string(req.CodeVerifier), req.RedirectUri)
	if err != nil {
		return nil, s.failWith(logger, op, exchangeCategory(err), "token exchange failed", err)
	}

	claims, err := s.assertions.VerifyIdToken(ctx, tk.IdToken)
	if err != nil {
		return nil, s.failWith(logger, op, assertionCategory(err), "id_token verification failed", err)
	}

	subjectID := s.subjectIDFunc(claims.Subject)
	if subjectID == "" {
		return nil, s.failWith(logger, op, oidc.AssertionInvalid, "empty subject id", fmt.Errorf("sub %q: %w", claims.Subject, oidc.ErrMissingSubject))
	}
	logger = logger.With("subject_id", subjectID)

	custom := s.custom(claims)
	p := &profile.Profile{
		Subject:    claims.Subject,
		Email:      claims.Email,
		Name:       claims.Name,
		GivenName:  claims.GivenName,
		FamilyName: claims.FamilyName,
		Phone:      claims.PhoneNumber,
		Custom:     custom,
	}
	if err := s.profiles.Upsert(ctx, subjectID, p); err != nil {
		category := oidc.StorageFailure
		if errors.Is(err, profile.ErrInvalidParameter) {
			category = oidc.AssertionInvalid
		}
		return nil, s.failWith(logger, op, category, "profile upsert failed", err)
	}
	logger.Debug("profile upserted")

	credential, err := s.minter.Mint(ctx, subjectID, custom)
	if err != nil {
		return nil, s.failWith(logger, op, oidc.Internal, "unable to mint session credential", err)
	}
	logger.Info("login exchanged")
	return &oidc.ExchangeResponse{
		SessionCredential: credential,
		SubjectId:         subjectID,
	}, nil
}

func (s *Service) custom(claims *oidc.Claims) map[string]interface{} {
	var out map[string]interface{}
	for _, name := range s.customClaims {
		v, ok := claims.Get(name)
		if !ok || v == nil {
			continue
		}
		if out == nil {
			out = map[string]interface{}{}
		}
		out[name] = v
	}
	return out
}

func (s *Service) failWith(logger hclog.Logger, op string, c oidc.Category, msg string, err error) error {
	if c == oidc.InvalidRequest {
		logger.Warn(msg, "category", c, "error", err)
	} else {
		logger.Error(msg, "category", c, "error", err)
	}
	return oidc.NewError(c, oidc.WithOp(op), oidc.WithMsg(msg), oidc.WithWrap(err))
}

func exchangeCategory(err error) oidc.Category {
	switch {
	case errors.Is(err, oidc.ErrExchangeUnreachable):
		return oidc.ExchangeUnreachable
	case errors.Is(err, oidc.ErrExchangeRejected), errors.Is(err, oidc.ErrMissingIdToken):
		return oidc.ProviderDenied
	case errors.Is(err, oidc.ErrInvalidParameter),
		errors.Is(err, oidc.ErrInvalidCodeVerifier),
		errors.Is(err, oidc.ErrRedirectNotAllowed):
		return oidc.InvalidRequest
	default:
		return oidc.Internal
	}
}

func assertionCategory(err error) oidc.Category {
	if errors.Is(err, jwt.ErrKeySetUnreachable) {
		return oidc.ExchangeUnreachable
	}
	return oidc.AssertionInvalid
}
