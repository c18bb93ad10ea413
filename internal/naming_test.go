package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lychee-technology/dataverse"
)

func TestSchemaNameFromLogical(t *testing.T) {
	tests := []struct {
		name      string
		logical   string
		want      string
		expectErr string
	}{
		{name: "bare name capitalized", logical: "account", want: "Account"},
		{name: "prefixed name capitalizes after prefix", logical: "new_sampleitem", want: "new_Sampleitem"},
		{name: "later underscores kept", logical: "abc_unit_price", want: "abc_Unit_price"},
		{name: "surrounding whitespace trimmed", logical: "  account  ", want: "Account"},
		{name: "empty name rejected", logical: "", expectErr: "cannot be empty"},
		{name: "blank name rejected", logical: "   ", expectErr: "cannot be empty"},
		{name: "empty part after underscore rejected", logical: "new_", expectErr: "empty part after underscore"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := SchemaNameFromLogical(tt.logical)
			if tt.expectErr != "" {
				require.Error(t, err)
				assert.True(t, dataverse.IsValidationError(err))
				assert.Contains(t, err.Error(), tt.expectErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToPascal(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "sample item", want: "SampleItem"},
		{in: "my-table_2", want: "MyTable2"},
		{in: "Fruit", want: "Fruit"},
		{in: "  spaced   out  ", want: "SpacedOut"},
		{in: "", want: ""},
		{in: "---", want: ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ToPascal(tt.in), "ToPascal(%q)", tt.in)
	}
}

func TestDeriveTableSchemaName(t *testing.T) {
	tests := []struct {
		name      string
		in        string
		want      string
		expectErr string
	}{
		{name: "bare name gets default prefix", in: "fruit", want: "new_Fruit"},
		{name: "multi word name collapses", in: "sample item", want: "new_SampleItem"},
		{name: "prefixed name passes through", in: "new_sampleitem", want: "new_sampleitem"},
		{name: "custom publisher prefix passes through", in: "abc_Thing", want: "abc_Thing"},
		{name: "empty name rejected", in: "", expectErr: "cannot be empty"},
		{name: "blank name rejected", in: "  ", expectErr: "cannot be empty"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := DeriveTableSchemaName(tt.in)
			if tt.expectErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSchemaPrefix(t *testing.T) {
	assert.Equal(t, "new", SchemaPrefix("new_Fruit"))
	assert.Equal(t, "abc", SchemaPrefix("abc_Unit_price"))
	assert.Equal(t, "Account", SchemaPrefix("Account"))
}

func TestODataLiteral(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{in: "abc", want: "'abc'"},
		{in: "O'Brien", want: "'O''Brien'"},
		{in: "", want: "''"},
		{in: 42, want: "42"},
		{in: int64(42), want: "42"},
		{in: 3.5, want: "3.5"},
		{in: true, want: "true"},
		{in: false, want: "false"},
		{in: nil, want: "null"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ODataLiteral(tt.in), "ODataLiteral(%v)", tt.in)
	}
}

func TestBuildKeySegment(t *testing.T) {
	tests := []struct {
		name      string
		key       map[string]any
		want      string
		expectErr string
	}{
		{
			name: "single string key quoted",
			key:  map[string]any{"accountnumber": "ACC-001"},
			want: "accountnumber='ACC-001'",
		},
		{
			name: "composite key lowercased and sorted",
			key:  map[string]any{"NumberOfEmployees": 250, "accountnumber": "ACC-001"},
			want: "accountnumber='ACC-001',numberofemployees=250",
		},
		{
			name: "embedded quote doubled",
			key:  map[string]any{"name": "O'Brien"},
			want: "name='O''Brien'",
		},
		{
			name:      "empty key rejected",
			key:       map[string]any{},
			expectErr: "cannot be empty",
		},
		{
			name:      "empty attribute name rejected",
			key:       map[string]any{" ": "x"},
			expectErr: "empty attribute name",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildKeySegment(tt.key)
			if tt.expectErr != "" {
				require.Error(t, err)
				assert.True(t, dataverse.IsValidationError(err))
				assert.Contains(t, err.Error(), tt.expectErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGUIDFromEntityID(t *testing.T) {
	tests := []struct {
		name     string
		entityID string
		want     string
		ok       bool
	}{
		{
			name:     "record url",
			entityID: "https://org.crm.dynamics.com/api/data/v9.2/accounts(2fa2d4d6-5a57-4f60-a0f4-f9e989f20f36)",
			want:     "2fa2d4d6-5a57-4f60-a0f4-f9e989f20f36",
			ok:       true,
		},
		{
			name:     "nested metadata url yields the last segment",
			entityID: "https://org.crm.dynamics.com/api/data/v9.2/EntityDefinitions(70816501-edb9-4740-a16c-6a5efbc05d84)/Keys(5f5e1f2a-3d27-4a5b-9101-63b1c6b7baf1)",
			want:     "5f5e1f2a-3d27-4a5b-9101-63b1c6b7baf1",
			ok:       true,
		},
		{name: "no parentheses", entityID: "https://org.crm.dynamics.com/accounts"},
		{name: "parentheses without a guid", entityID: "accounts(not a guid)"},
		{name: "empty", entityID: ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, ok := GUIDFromEntityID(tt.entityID)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeGUID(t *testing.T) {
	got, err := NormalizeGUID("2FA2D4D6-5A57-4F60-A0F4-F9E989F20F36")
	require.NoError(t, err)
	assert.Equal(t, "2fa2d4d6-5a57-4f60-a0f4-f9e989f20f36", got)

	got, err = NormalizeGUID("  2fa2d4d6-5a57-4f60-a0f4-f9e989f20f36  ")
	require.NoError(t, err)
	assert.Equal(t, "2fa2d4d6-5a57-4f60-a0f4-f9e989f20f36", got)

	_, err = NormalizeGUID("not-a-guid")
	require.Error(t, err)
	assert.True(t, dataverse.IsValidationError(err))
	assert.Contains(t, err.Error(), "invalid record id")
}
