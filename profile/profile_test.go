// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package profile

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestProfile_Merge(t *testing.T) {
	t.Parallel()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		name    string
		current *Profile
		update  *Profile
		want    *Profile
	}{
		{
			name:    "into-empty",
			current: &Profile{},
			update:  &Profile{Subject: "idp|1", Email: "alice@example.com", Name: "Alice"},
			want:    &Profile{Subject: "idp|1", Email: "alice@example.com", Name: "Alice"},
		},
		{
			name:    "empty-fields-keep-stored",
			current: &Profile{Subject: "idp|1", Email: "alice@example.com", GivenName: "Alice"},
			update:  &Profile{Subject: "idp|1", Name: "Alice Liddell"},
			want:    &Profile{Subject: "idp|1", Email: "alice@example.com", GivenName: "Alice", Name: "Alice Liddell"},
		},
		{
			name:    "overwrite",
			current: &Profile{Email: "old@example.com", FamilyName: "Old"},
			update:  &Profile{Email: "new@example.com", FamilyName: "New", UpdatedAt: at},
			want:    &Profile{Email: "new@example.com", FamilyName: "New", UpdatedAt: at},
		},
		{
			name:    "custom-claims-merge",
			current: &Profile{Custom: map[string]interface{}{"national_id": "111", "tier": "gold"}},
			update:  &Profile{Custom: map[string]interface{}{"national_id": "222", "ignored": nil}},
			want:    &Profile{Custom: map[string]interface{}{"national_id": "222", "tier": "gold"}},
		},
		{
			name:    "nil-update",
			current: &Profile{Email: "alice@example.com"},
			want:    &Profile{Email: "alice@example.com"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.current.Merge(tt.update)
			if diff := cmp.Diff(tt.want, tt.current); diff != "" {
				t.Errorf("Merge() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestProfile_Clone(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	p := &Profile{Email: "alice@example.com", Custom: map[string]interface{}{"k": "v"}}
	c := p.Clone()
	assert.Equal(p, c)
	c.Custom["k"] = "changed"
	assert.Equal("v", p.Custom["k"])
	assert.Nil((*Profile)(nil).Clone())
}

func TestValidateID(t *testing.T) {
	t.Parallel()
	for _, id := range []string{"", ".", "..", "a/b"} {
		assert.ErrorIs(t, validateID("test", id), ErrInvalidParameter, "id %q", id)
	}
	assert.NoError(t, validateID("test", "248289761001"))
}
