package internal

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lychee-technology/dataverse"
)

func TestClient_FindTable(t *testing.T) {
	f, c := newFakeOrg(t)
	f.addTable("new_fruit", "new_fruits")
	ctx := context.Background()

	// Bare names are derived to the default-prefix schema name.
	info, ok, err := c.FindTable(ctx, "fruit")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "new_Fruit", info.SchemaName)
	assert.Equal(t, "new_fruits", info.EntitySetName)
	assert.True(t, info.IsCustom)

	// Prefixed names pass through untouched.
	_, ok, err = c.FindTable(ctx, "new_Fruit")
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = c.FindTable(ctx, "banana")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = c.FindTable(ctx, "")
	require.Error(t, err)
	assert.True(t, dataverse.IsValidationError(err))
}

func TestClient_CreateTable(t *testing.T) {
	f, c := newFakeOrg(t, func(cfg *dataverse.Config) {
		cfg.SolutionName = "unittests"
	})

	def := entityDefinition{
		MetadataID:         "5d8f0f2a-94c3-4f3e-9d4e-000000000010",
		LogicalName:        "new_fruit",
		SchemaName:         "new_Fruit",
		EntitySetName:      "new_fruits",
		PrimaryIDAttribute: "new_fruitid",
		IsCustomEntity:     true,
	}

	var mu sync.Mutex
	lookups := 0
	f.handle("GET EntityDefinitions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "SchemaName eq 'new_Fruit'", r.URL.Query().Get("$filter"))
		mu.Lock()
		lookups++
		n := lookups
		mu.Unlock()
		if n == 1 {
			// The pre-create existence check comes back empty.
			writeJSON(w, http.StatusOK, map[string]any{"value": []any{}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"value": []entityDefinition{def}})
	})
	f.handle("POST EntityDefinitions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "unittests", r.Header.Get("MSCRM.SolutionUniqueName"))
		var body map[string]any
		decodeBody(t, r, &body)
		assert.Equal(t, "Microsoft.Dynamics.CRM.EntityMetadata", body["@odata.type"])
		assert.Equal(t, "new_Fruit", body["SchemaName"])
		assert.Equal(t, "UserOwned", body["OwnershipType"])

		display := body["DisplayName"].(map[string]any)
		labels := display["LocalizedLabels"].([]any)
		label := labels[0].(map[string]any)
		assert.Equal(t, "Fruit", label["Label"])
		assert.Equal(t, float64(1033), label["LanguageCode"])
		collection := body["DisplayCollectionName"].(map[string]any)
		collectionLabel := collection["LocalizedLabels"].([]any)[0].(map[string]any)
		assert.Equal(t, "Fruits", collectionLabel["Label"])

		attrs := body["Attributes"].([]any)
		if assert.Len(t, attrs, 2) {
			primary := attrs[0].(map[string]any)
			assert.Equal(t, "new_Name", primary["SchemaName"])
			assert.Equal(t, true, primary["IsPrimaryName"])
			assert.Equal(t, "Microsoft.Dynamics.CRM.StringAttributeMetadata", primary["@odata.type"])
			quantity := attrs[1].(map[string]any)
			assert.Equal(t, "new_Quantity", quantity["SchemaName"])
			assert.Equal(t, "Microsoft.Dynamics.CRM.IntegerAttributeMetadata", quantity["@odata.type"])
		}
		w.WriteHeader(http.StatusNoContent)
	})

	info, err := c.CreateTable(context.Background(), &dataverse.TableSpec{
		SchemaName:  "fruit",
		DisplayName: "Fruit",
		Columns: []dataverse.ColumnSpec{
			{SchemaName: "new_Quantity", Type: dataverse.ColumnTypeInt},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "new_fruits", info.EntitySetName)
	assert.Equal(t, "new_fruitid", info.PrimaryIDName)

	// One existence check plus one readiness poll.
	mu.Lock()
	assert.Equal(t, 2, lookups)
	mu.Unlock()
}

func TestClient_CreateTable_AlreadyExists(t *testing.T) {
	f, c := newFakeOrg(t)
	f.addTable("new_fruit", "new_fruits")

	_, err := c.CreateTable(context.Background(), &dataverse.TableSpec{SchemaName: "new_Fruit"})
	require.Error(t, err)
	de, ok := dataverse.AsDataverseError(err)
	require.True(t, ok)
	assert.Equal(t, dataverse.SubcodeValidationConflict, de.Subcode)
	assert.Contains(t, de.Message, "already exists, no update performed")
	assert.Zero(t, f.count("POST EntityDefinitions"))
}

func TestClient_CreateTable_NilSpec(t *testing.T) {
	_, c := newFakeOrg(t)
	_, err := c.CreateTable(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, dataverse.IsValidationError(err))
}

func TestClient_CreateTable_ReadinessNeverArrives(t *testing.T) {
	f, c := newFakeOrg(t)

	f.handle("GET EntityDefinitions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"value": []any{}})
	})
	f.handle("POST EntityDefinitions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	_, err := c.CreateTable(context.Background(), &dataverse.TableSpec{SchemaName: "fruit"})
	require.Error(t, err)
	de, ok := dataverse.AsDataverseError(err)
	require.True(t, ok)
	assert.Equal(t, dataverse.SubcodeMetadataTableNotFound, de.Subcode)
	assert.Contains(t, de.Message, "EntitySetName not available")
	assert.Equal(t, 3, de.Details["polls"])
	// One existence check plus every scheduled readiness poll.
	assert.Equal(t, 4, f.count("GET EntityDefinitions"))
}

func TestClient_DeleteTable(t *testing.T) {
	f, c := newFakeOrg(t, func(cfg *dataverse.Config) {
		cfg.SolutionName = "unittests"
	})
	def := f.addTable("new_fruit", "new_fruits")
	ctx := context.Background()

	f.handle("DELETE EntityDefinitions("+def.MetadataID+")", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("MSCRM.SolutionUniqueName"))
		w.WriteHeader(http.StatusNoContent)
	})

	// Warm the resolver cache so the invalidation is observable.
	_, err := c.res.ResolveEntity(ctx, "new_fruit")
	require.NoError(t, err)
	assert.Equal(t, 1, f.count("GET EntityDefinitions"))

	require.NoError(t, c.DeleteTable(ctx, "fruit"))
	assert.Equal(t, 2, f.count("GET EntityDefinitions"))

	_, err = c.res.ResolveEntity(ctx, "new_fruit")
	require.NoError(t, err)
	assert.Equal(t, 3, f.count("GET EntityDefinitions"))
}

func TestClient_DeleteTable_NotFound(t *testing.T) {
	_, c := newFakeOrg(t)

	err := c.DeleteTable(context.Background(), "ghost")
	require.Error(t, err)
	de, ok := dataverse.AsDataverseError(err)
	require.True(t, ok)
	assert.Equal(t, dataverse.SubcodeMetadataTableNotFound, de.Subcode)
}

func TestClient_ListTables(t *testing.T) {
	f, c := newFakeOrg(t)

	f.handle("GET EntityDefinitions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "IsCustomEntity eq true", r.URL.Query().Get("$filter"))
		writeJSON(w, http.StatusOK, map[string]any{"value": []entityDefinition{
			{MetadataID: "m1", LogicalName: "new_fruit", SchemaName: "new_Fruit", EntitySetName: "new_fruits", PrimaryIDAttribute: "new_fruitid", IsCustomEntity: true},
			{MetadataID: "m2", LogicalName: "new_veg", SchemaName: "new_Veg", EntitySetName: "new_vegs", PrimaryIDAttribute: "new_vegid", IsCustomEntity: true},
		}})
	})

	infos, err := c.ListTables(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "new_fruit", infos[0].LogicalName)
	assert.Equal(t, "new_vegs", infos[1].EntitySetName)
}

func TestClient_AddColumns(t *testing.T) {
	f, c := newFakeOrg(t, func(cfg *dataverse.Config) {
		cfg.SolutionName = "unittests"
	})
	def := f.addTable("new_fruit", "new_fruits")

	endpoint := "POST EntityDefinitions(" + def.MetadataID + ")/Attributes"
	var mu sync.Mutex
	var schemas []string
	f.handle(endpoint, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "unittests", r.Header.Get("MSCRM.SolutionUniqueName"))
		var body map[string]any
		decodeBody(t, r, &body)
		mu.Lock()
		schemas = append(schemas, body["SchemaName"].(string))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})

	err := c.AddColumns(context.Background(), "new_fruit", []dataverse.ColumnSpec{
		{SchemaName: "new_Color", Type: dataverse.ColumnTypeString},
		{SchemaName: "new_Weight", Type: dataverse.ColumnTypeDecimal},
	})
	require.NoError(t, err)
	mu.Lock()
	assert.Equal(t, []string{"new_Color", "new_Weight"}, schemas)
	mu.Unlock()

	err = c.AddColumns(context.Background(), "new_fruit", nil)
	require.Error(t, err)
	assert.True(t, dataverse.IsValidationError(err))
}

func TestClient_AddColumns_FailureNamesColumn(t *testing.T) {
	f, c := newFakeOrg(t)
	def := f.addTable("new_fruit", "new_fruits")

	f.handle("POST EntityDefinitions("+def.MetadataID+")/Attributes", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": map[string]any{"code": "0x80044150", "message": "duplicate attribute"},
		})
	})

	err := c.AddColumns(context.Background(), "new_fruit", []dataverse.ColumnSpec{
		{SchemaName: "new_Color", Type: dataverse.ColumnTypeString},
	})
	require.Error(t, err)
	de, ok := dataverse.AsDataverseError(err)
	require.True(t, ok)
	assert.Equal(t, "new_Color", de.Details["column"])
}

func TestClient_RemoveColumns(t *testing.T) {
	f, c := newFakeOrg(t)
	def := f.addTable("new_fruit", "new_fruits")

	f.handle("GET EntityDefinitions(LogicalName='new_fruit')/Attributes(LogicalName='new_color')", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"LogicalName": "new_color"})
	})
	deleted := "DELETE EntityDefinitions(" + def.MetadataID + ")/Attributes(LogicalName='new_color')"
	f.handle(deleted, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	err := c.RemoveColumns(context.Background(), "new_fruit", []string{"New_Color"})
	require.NoError(t, err)
	assert.Equal(t, 1, f.count(deleted))
}

func TestClient_RemoveColumns_MissingColumn(t *testing.T) {
	f, c := newFakeOrg(t)
	f.addTable("new_fruit", "new_fruits")

	endpoint := "GET EntityDefinitions(LogicalName='new_fruit')/Attributes(LogicalName='new_ghost')"
	f.handle(endpoint, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	err := c.RemoveColumns(context.Background(), "new_fruit", []string{"new_ghost"})
	require.Error(t, err)
	de, ok := dataverse.AsDataverseError(err)
	require.True(t, ok)
	assert.Equal(t, dataverse.SubcodeMetadataAttributeRetryExhaust, de.Subcode)
	assert.Equal(t, 3, f.count(endpoint))
}

func TestColumnPayload_Shapes(t *testing.T) {
	c := &client{cfg: testConfig()}

	tests := []struct {
		name   string
		col    dataverse.ColumnSpec
		expect func(t *testing.T, payload dataverse.Record)
	}{
		{
			name: "string defaults",
			col:  dataverse.ColumnSpec{SchemaName: "new_Name", Type: dataverse.ColumnTypeString},
			expect: func(t *testing.T, payload dataverse.Record) {
				assert.Equal(t, "Microsoft.Dynamics.CRM.StringAttributeMetadata", payload["@odata.type"])
				assert.Equal(t, 200, payload["MaxLength"])
				assert.Equal(t, dataverse.Record{"Value": "Text"}, payload["FormatName"])
				assert.NotContains(t, payload, "IsPrimaryName")
			},
		},
		{
			name: "string custom length",
			col:  dataverse.ColumnSpec{SchemaName: "new_Code", Type: dataverse.ColumnTypeString, MaxLength: 40},
			expect: func(t *testing.T, payload dataverse.Record) {
				assert.Equal(t, 40, payload["MaxLength"])
			},
		},
		{
			name: "memo defaults",
			col:  dataverse.ColumnSpec{SchemaName: "new_Notes", Type: dataverse.ColumnTypeMemo},
			expect: func(t *testing.T, payload dataverse.Record) {
				assert.Equal(t, "Microsoft.Dynamics.CRM.MemoAttributeMetadata", payload["@odata.type"])
				assert.Equal(t, 2000, payload["MaxLength"])
				assert.Equal(t, "TextArea", payload["Format"])
			},
		},
		{
			name: "int range",
			col:  dataverse.ColumnSpec{SchemaName: "new_Quantity", Type: dataverse.ColumnTypeInt},
			expect: func(t *testing.T, payload dataverse.Record) {
				assert.Equal(t, "Microsoft.Dynamics.CRM.IntegerAttributeMetadata", payload["@odata.type"])
				assert.Equal(t, -2147483648, payload["MinValue"])
				assert.Equal(t, 2147483647, payload["MaxValue"])
			},
		},
		{
			name: "decimal precision",
			col:  dataverse.ColumnSpec{SchemaName: "new_Price", Type: dataverse.ColumnTypeDecimal},
			expect: func(t *testing.T, payload dataverse.Record) {
				assert.Equal(t, "Microsoft.Dynamics.CRM.DecimalAttributeMetadata", payload["@odata.type"])
				assert.Equal(t, 2, payload["Precision"])
			},
		},
		{
			name: "float uses double metadata",
			col:  dataverse.ColumnSpec{SchemaName: "new_Rating", Type: dataverse.ColumnTypeFloat},
			expect: func(t *testing.T, payload dataverse.Record) {
				assert.Equal(t, "Microsoft.Dynamics.CRM.DoubleAttributeMetadata", payload["@odata.type"])
			},
		},
		{
			name: "datetime date only",
			col:  dataverse.ColumnSpec{SchemaName: "new_PickedOn", Type: dataverse.ColumnTypeDateTime},
			expect: func(t *testing.T, payload dataverse.Record) {
				assert.Equal(t, "Microsoft.Dynamics.CRM.DateTimeAttributeMetadata", payload["@odata.type"])
				assert.Equal(t, "DateOnly", payload["Format"])
			},
		},
		{
			name: "bool carries its option pair",
			col:  dataverse.ColumnSpec{SchemaName: "new_InStock", Type: dataverse.ColumnTypeBool},
			expect: func(t *testing.T, payload dataverse.Record) {
				assert.Equal(t, "Microsoft.Dynamics.CRM.BooleanAttributeMetadata", payload["@odata.type"])
				optionSet := payload["OptionSet"].(dataverse.Record)
				trueOption := optionSet["TrueOption"].(dataverse.Record)
				assert.Equal(t, 1, trueOption["Value"])
			},
		},
		{
			name: "picklist numbers options from the customization base",
			col:  dataverse.ColumnSpec{SchemaName: "new_Category", Type: dataverse.ColumnTypePicklist, Options: []string{"Hardware", "Software", "Service"}},
			expect: func(t *testing.T, payload dataverse.Record) {
				assert.Equal(t, "Microsoft.Dynamics.CRM.PicklistAttributeMetadata", payload["@odata.type"])
				optionSet := payload["OptionSet"].(dataverse.Record)
				assert.Equal(t, "Picklist", optionSet["OptionSetType"])
				options := optionSet["Options"].([]dataverse.Record)
				require.Len(t, options, 3)
				assert.Equal(t, 100000000, options[0]["Value"])
				assert.Equal(t, 100000001, options[1]["Value"])
				assert.Equal(t, 100000002, options[2]["Value"])
			},
		},
		{
			name: "file column",
			col:  dataverse.ColumnSpec{SchemaName: "new_Document", Type: dataverse.ColumnTypeFile},
			expect: func(t *testing.T, payload dataverse.Record) {
				assert.Equal(t, "Microsoft.Dynamics.CRM.FileAttributeMetadata", payload["@odata.type"])
			},
		},
		{
			name: "required level",
			col:  dataverse.ColumnSpec{SchemaName: "new_Name", Type: dataverse.ColumnTypeString, Required: true},
			expect: func(t *testing.T, payload dataverse.Record) {
				assert.Equal(t, dataverse.Record{"Value": "ApplicationRequired"}, payload["RequiredLevel"])
			},
		},
		{
			name: "alias types resolve",
			col:  dataverse.ColumnSpec{SchemaName: "new_Price", Type: "money"},
			expect: func(t *testing.T, payload dataverse.Record) {
				assert.Equal(t, "Microsoft.Dynamics.CRM.DecimalAttributeMetadata", payload["@odata.type"])
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			payload, err := c.columnPayload(&tt.col, false)
			require.NoError(t, err)
			tt.expect(t, payload)
		})
	}
}

func TestColumnPayload_Rejections(t *testing.T) {
	c := &client{cfg: testConfig()}

	_, err := c.columnPayload(&dataverse.ColumnSpec{SchemaName: " ", Type: dataverse.ColumnTypeString}, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema name cannot be empty")

	_, err = c.columnPayload(&dataverse.ColumnSpec{SchemaName: "new_X", Type: "wibble"}, false)
	require.Error(t, err)

	_, err = c.columnPayload(&dataverse.ColumnSpec{SchemaName: "new_Category", Type: dataverse.ColumnTypePicklist}, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one option label")
}

func TestDisplayFromSchema(t *testing.T) {
	assert.Equal(t, "Quantity", displayFromSchema("new_Quantity"))
	assert.Equal(t, "price", displayFromSchema("abc_unit_price"))
	assert.Equal(t, "Name", displayFromSchema("Name"))
	assert.Equal(t, "new_", displayFromSchema("new_"))
}
