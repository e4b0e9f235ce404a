package db_migrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeType(t *testing.T) {
	cases := map[string]string{
		"VARCHAR(255)":                   "character varying",
		"character varying":              "character varying",
		"int4":                           "integer",
		"INTEGER":                        "integer",
		"timestamp":                      "timestamp without time zone",
		"numeric(10, 2)":                 "numeric",
		"  Double   Precision ":          "double precision",
		`"roletype"`:                     "roletype",
		"timestamp(6) with time zone":    "timestamp with time zone",
		"timestamptz":                    "timestamp with time zone",
		"bool":                           "boolean",
		"character varying(100)":         "character varying",
		"timestamp without time zone(3)": "timestamp without time zone",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeType(in), in)
	}
}

func tenantsSchema() *Schema {
	s := NewSchema()
	tenants := s.AddTable("tenants",
		Column{Name: "id", Type: "integer", PrimaryKey: true},
		Column{Name: "slug", Type: "varchar(100)"},
		Column{Name: "country", Type: "varchar(100)", Nullable: true},
	)
	tenants.Indexes["ix_tenants_slug"] = Index{Name: "ix_tenants_slug", Table: "tenants", Columns: []string{"slug"}, Unique: true}
	tenants.Constraints["ck_country"] = "CHECK (country <> '')"
	s.Enums["roletype"] = []string{"STAFF", "GUEST"}
	return s
}

func TestCompareSchemas_NoDrift(t *testing.T) {
	live := tenantsSchema()
	live.Tables["tenants"].Columns[1].Type = "character varying"
	live.Tables["tenants"].Constraints["ck_country"] = "CHECK ((country)::text <> ''::text)"

	assert.Empty(t, compareSchemas(tenantsSchema(), live))
}

func TestCompareSchemas_Kinds(t *testing.T) {
	live := tenantsSchema()
	tenants := live.Tables["tenants"]
	tenants.Columns = []Column{
		{Name: "id", Type: "bigint", PrimaryKey: true},
		{Name: "slug", Type: "varchar(100)", Nullable: true},
		{Name: "legacy_code", Type: "text", Nullable: true},
	}
	tenants.Indexes["ix_tenants_slug"] = Index{Name: "ix_tenants_slug", Table: "tenants", Columns: []string{"slug"}}
	tenants.Indexes["ix_manual"] = Index{Name: "ix_manual", Table: "tenants", Columns: []string{"legacy_code"}}
	delete(tenants.Constraints, "ck_country")
	tenants.Constraints["ck_manual"] = "CHECK (true)"
	live.AddTable("audit_log", Column{Name: "id", Type: "integer"})
	live.Enums["roletype"] = []string{"STAFF"}
	live.Enums["eventstatus"] = []string{"DRAFT"}

	declared := tenantsSchema()
	declared.AddTable("user_roles", Column{Name: "id", Type: "integer"})
	declared.Enums["visatype"] = []string{"EVISA"}

	got := compareSchemas(declared, live)
	assert.Equal(t, []Discrepancy{
		{Kind: DriftExtraTable, Object: "audit_log"},
		{Kind: DriftExtraEnum, Object: "eventstatus", Actual: "DRAFT"},
		{Kind: DriftExtraIndex, Object: "ix_manual", Actual: "tenants(legacy_code)"},
		{Kind: DriftIndexDefinition, Object: "ix_tenants_slug", Expected: "unique tenants(slug)", Actual: "tenants(slug)"},
		{Kind: DriftEnumValues, Object: "roletype", Expected: "STAFF,GUEST", Actual: "STAFF"},
		{Kind: DriftMissingConstraint, Object: "tenants.ck_country"},
		{Kind: DriftExtraConstraint, Object: "tenants.ck_manual"},
		{Kind: DriftMissingColumn, Object: "tenants.country", Expected: "varchar(100)"},
		{Kind: DriftColumnType, Object: "tenants.id", Expected: "integer", Actual: "bigint"},
		{Kind: DriftExtraColumn, Object: "tenants.legacy_code", Actual: "text"},
		{Kind: DriftColumnNullability, Object: "tenants.slug", Expected: "not null", Actual: "null"},
		{Kind: DriftMissingTable, Object: "user_roles"},
		{Kind: DriftMissingEnum, Object: "visatype", Expected: "EVISA"},
	}, got)
}

func TestCompareSchemas_SkipsConstraintsWithoutCatalog(t *testing.T) {
	live := tenantsSchema()
	live.Constraints = false
	delete(live.Tables["tenants"].Constraints, "ck_country")

	assert.Empty(t, compareSchemas(tenantsSchema(), live))
}

func TestDriftDetector(t *testing.T) {
	g := msafiriGraph(t)

	t.Run("declared schema follows applied revisions", func(t *testing.T) {
		declared, err := NewDriftDetector(g, []string{"003b"}).Declared()
		require.NoError(t, err)
		assert.Equal(t, []string{"tenants", "user_roles"}, declared.TableNames())
		assert.Empty(t, declared.Enums)
	})

	t.Run("report", func(t *testing.T) {
		live, err := NewDriftDetector(g, []string{"004"}).Declared()
		require.NoError(t, err)
		live = live.Clone()
		live.Tables["tenants"].Columns = live.Tables["tenants"].Columns[:2]

		report, err := NewDriftDetector(g, []string{"004"}).Report(live)
		require.NoError(t, err)
		assert.True(t, report.HasDrift())
		assert.Equal(t, []Discrepancy{
			{Kind: DriftMissingColumn, Object: "tenants.country", Expected: "varchar(100)"},
		}, report.Discrepancies)

		var drift *DriftDetectedError
		require.ErrorAs(t, report.Err(), &drift)
		assert.Equal(t, []string{"004"}, drift.Applied)
	})

	t.Run("clean report has no error", func(t *testing.T) {
		live, err := NewDriftDetector(g, []string{"004"}).Declared()
		require.NoError(t, err)

		report, err := NewDriftDetector(g, []string{"004"}).Report(live)
		require.NoError(t, err)
		assert.False(t, report.HasDrift())
		assert.NoError(t, report.Err())
	})

	t.Run("unknown applied revision", func(t *testing.T) {
		_, err := NewDriftDetector(g, []string{"999"}).Declared()
		assert.ErrorIs(t, err, ErrUnknownRevision)
	})
}

func TestDiscrepancy_String(t *testing.T) {
	assert.Equal(t, "extra_table audit_log", Discrepancy{Kind: DriftExtraTable, Object: "audit_log"}.String())
	assert.Equal(t,
		"missing_column tenants.country: expected varchar(100), got <none>",
		Discrepancy{Kind: DriftMissingColumn, Object: "tenants.country", Expected: "varchar(100)"}.String(),
	)
}
