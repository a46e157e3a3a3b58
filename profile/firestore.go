// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package profile

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Firestore document field names.
const (
	fieldSubject    = "sub"
	fieldEmail      = "email"
	fieldName       = "name"
	fieldGivenName  = "given_name"
	fieldFamilyName = "family_name"
	fieldPhone      = "phone_number"
	fieldUpdatedAt  = "updated_at"
)

// FirestoreStore is a Store backed by a Cloud Firestore collection.  Custom
// claims are written as top level document fields.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	ownsClient bool
}

var _ Store = (*FirestoreStore)(nil)

// NewFirestoreStore creates a Firestore client for projectID and a store on
// top of it.  The client honours FIRESTORE_EMULATOR_HOST.
//
// Supported options: WithCollection, WithDatabase
func NewFirestoreStore(ctx context.Context, projectID string, opt ...Option) (*FirestoreStore, error) {
	const op = "profile.NewFirestoreStore"
	if projectID == "" {
		return nil, fmt.Errorf("%s: project id is empty: %w", op, ErrInvalidParameter)
	}
	opts := getStoreOpts(opt...)

	var client *firestore.Client
	var err error
	if opts.withDatabase != "" && opts.withDatabase != firestore.DefaultDatabaseID {
		client, err = firestore.NewClientWithDatabase(ctx, projectID, opts.withDatabase)
	} else {
		client, err = firestore.NewClient(ctx, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create firestore client: %w", op, err)
	}
	s, err := NewFirestoreStoreFromClient(client, opt...)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	s.ownsClient = true
	return s, nil
}

// NewFirestoreStoreFromClient creates a store using an existing client.  The
// client is not closed by Close.
//
// Supported options: WithCollection
func NewFirestoreStoreFromClient(client *firestore.Client, opt ...Option) (*FirestoreStore, error) {
	const op = "profile.NewFirestoreStoreFromClient"
	if client == nil {
		return nil, fmt.Errorf("%s: client is nil: %w", op, ErrNilParameter)
	}
	opts := getStoreOpts(opt...)
	return &FirestoreStore{
		client:     client,
		collection: opts.withCollection,
	}, nil
}

// Upsert merges p into the document {collection}/{id}.  Empty fields are
// omitted so they never erase stored values.
func (s *FirestoreStore) Upsert(ctx context.Context, id string, p *Profile) error {
	const op = "FirestoreStore.Upsert"
	if err := validateID(op, id); err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("%s: profile is nil: %w", op, ErrNilParameter)
	}
	if _, err := s.client.Collection(s.collection).Doc(id).Set(ctx, toDocument(p), firestore.MergeAll); err != nil {
		return fmt.Errorf("%s: unable to write profile %q: %w", op, id, err)
	}
	return nil
}

// Get reads the document {collection}/{id}.
func (s *FirestoreStore) Get(ctx context.Context, id string) (*Profile, error) {
	const op = "FirestoreStore.Get"
	if err := validateID(op, id); err != nil {
		return nil, err
	}
	doc, err := s.client.Collection(s.collection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("%s: %q: %w", op, id, ErrNotFound)
		}
		return nil, fmt.Errorf("%s: unable to read profile %q: %w", op, id, err)
	}
	return fromDocument(doc.Data()), nil
}

// Close closes the Firestore client when the store created it.
func (s *FirestoreStore) Close() error {
	if !s.ownsClient {
		return nil
	}
	return s.client.Close()
}

func toDocument(p *Profile) map[string]interface{} {
	doc := map[string]interface{}{}
	for k, v := range p.Custom {
		if v != nil {
			doc[k] = v
		}
	}
	for k, v := range map[string]string{
		fieldSubject:    p.Subject,
		fieldEmail:      p.Email,
		fieldName:       p.Name,
		fieldGivenName:  p.GivenName,
		fieldFamilyName: p.FamilyName,
		fieldPhone:      p.Phone,
	} {
		if v != "" {
			doc[k] = v
		}
	}
	doc[fieldUpdatedAt] = firestore.ServerTimestamp
	return doc
}

func fromDocument(doc map[string]interface{}) *Profile {
	p := &Profile{}
	str := func(name string) string {
		s, _ := doc[name].(string)
		return s
	}
	p.Subject = str(fieldSubject)
	p.Email = str(fieldEmail)
	p.Name = str(fieldName)
	p.GivenName = str(fieldGivenName)
	p.FamilyName = str(fieldFamilyName)
	p.Phone = str(fieldPhone)
	if t, ok := doc[fieldUpdatedAt].(time.Time); ok {
		p.UpdatedAt = t
	}
	for k, v := range doc {
		switch k {
		case fieldSubject, fieldEmail, fieldName, fieldGivenName, fieldFamilyName, fieldPhone, fieldUpdatedAt:
			continue
		}
		if p.Custom == nil {
			p.Custom = map[string]interface{}{}
		}
		p.Custom[k] = v
	}
	return p
}
