package db_migrator

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

func rev(id string, parents ...string) *Revision {
	return NewRevision(id, parents)
}

func revAt(id string, minutes int, parents ...string) *Revision {
	return NewRevision(id, parents, WithCreatedAt(baseTime.Add(time.Duration(minutes)*time.Minute)))
}

// msafiriGraph - 001 -> 002 -> {003a, 003b} -> 004 (merge).
func msafiriGraph(t *testing.T) *Graph {
	t.Helper()
	g, err := NewGraph(
		NewRevision("001", nil, WithLabel("create tenants"), WithCreatedAt(baseTime), WithUpgrade(
			CreateTable{Table: "tenants", Columns: []Column{
				{Name: "id", Type: "integer", PrimaryKey: true},
				{Name: "name", Type: "varchar(255)"},
			}},
		)),
		NewRevision("002", []string{"001"}, WithCreatedAt(baseTime.Add(time.Hour)), WithUpgrade(
			AddColumn{Table: "tenants", Column: Column{Name: "country", Type: "varchar(100)", Nullable: true}},
		)),
		NewRevision("003a", []string{"002"}, WithCreatedAt(baseTime.Add(2*time.Hour)), WithUpgrade(
			CreateEnum{Name: "roletype", Values: []string{"SUPER_ADMIN", "STAFF"}},
		)),
		NewRevision("003b", []string{"002"}, WithCreatedAt(baseTime.Add(3*time.Hour)), WithUpgrade(
			CreateTable{Table: "user_roles", Columns: []Column{
				{Name: "id", Type: "integer", PrimaryKey: true},
				{Name: "role", Type: "varchar(50)"},
			}},
		)),
		NewRevision("004", []string{"003a", "003b"}, WithCreatedAt(baseTime.Add(4*time.Hour))),
	)
	require.NoError(t, err)
	_, err = g.Validate()
	require.NoError(t, err)
	return g
}

func TestNewGraph_Duplicates(t *testing.T) {
	t.Run("identical definitions are merged", func(t *testing.T) {
		a := NewRevision("001", nil, WithLabel("create tenants"))
		b := NewRevision("001", nil, WithLabel("create tenants"))
		b.Source = "other/001.yaml"

		g, err := NewGraph(a, b, rev("002", "001"))
		require.NoError(t, err)
		assert.Equal(t, 2, g.Len())
		assert.Equal(t, []string{"001", "002"}, g.IDs())
	})

	t.Run("conflicting definitions fail", func(t *testing.T) {
		a := NewRevision("001", nil, WithLabel("create tenants"))
		a.Source = "a/001.yaml"
		b := NewRevision("001", nil, WithLabel("create tenant"))
		b.Source = "b/001.yaml"

		_, err := NewGraph(a, b)
		var dup *DuplicateRevisionError
		require.ErrorAs(t, err, &dup)
		assert.Equal(t, "001", dup.ID)
		assert.Equal(t, []string{"a/001.yaml", "b/001.yaml"}, dup.Sources)
	})

	t.Run("invalid revision fails", func(t *testing.T) {
		_, err := NewGraph(rev("head"))
		var invalid *InvalidRevisionError
		require.ErrorAs(t, err, &invalid)
	})
}

func TestValidate(t *testing.T) {
	t.Run("dangling parent", func(t *testing.T) {
		g, err := NewGraph(rev("001"), rev("002", "001"), rev("003", "missing"))
		require.NoError(t, err)

		_, err = g.Validate()
		var dangling *DanglingParentError
		require.ErrorAs(t, err, &dangling)
		assert.Equal(t, "003", dangling.Revision)
		assert.Equal(t, "missing", dangling.Parent)
	})

	t.Run("cycle is reported in order", func(t *testing.T) {
		g, err := NewGraph(rev("a", "c"), rev("b", "a"), rev("c", "b"))
		require.NoError(t, err)

		_, err = g.Validate()
		var cyclic *CyclicGraphError
		require.ErrorAs(t, err, &cyclic)
		assert.Equal(t, []string{"a", "b", "c", "a"}, cyclic.Cycle)
	})

	t.Run("cycle next to a valid lineage", func(t *testing.T) {
		g, err := NewGraph(rev("001"), rev("002", "001", "y"), rev("x", "y"), rev("y", "x"))
		require.NoError(t, err)

		_, err = g.Validate()
		var cyclic *CyclicGraphError
		require.ErrorAs(t, err, &cyclic)
		assert.Equal(t, cyclic.Cycle[0], cyclic.Cycle[len(cyclic.Cycle)-1])
		assert.ElementsMatch(t, []string{"x", "y"}, cyclic.Cycle[:len(cyclic.Cycle)-1])
	})

	t.Run("multiple heads are not an error", func(t *testing.T) {
		g, err := NewGraph(revAt("001", 0), revAt("002a", 1, "001"), revAt("002b", 2, "001"))
		require.NoError(t, err)

		v, err := g.Validate()
		require.NoError(t, err)
		assert.Equal(t, []string{"002a", "002b"}, v.Heads)
		assert.Equal(t, []string{"001"}, v.Bases)
		require.NotNil(t, v.MultipleHeads)
		assert.Equal(t, []string{"002a", "002b"}, v.MultipleHeads.Heads)
	})

	t.Run("merge joins heads", func(t *testing.T) {
		v, err := msafiriGraph(t).Validate()
		require.NoError(t, err)
		assert.Equal(t, []string{"004"}, v.Heads)
		assert.Equal(t, []string{"004"}, v.Merges)
		assert.Nil(t, v.MultipleHeads)
	})

	t.Run("independent lineages", func(t *testing.T) {
		g, err := NewGraph(revAt("a1", 0), revAt("b1", 1), revAt("m", 2, "a1", "b1"))
		require.NoError(t, err)

		v, err := g.Validate()
		require.NoError(t, err)
		assert.Equal(t, []string{"a1", "b1"}, v.Bases)
		assert.Equal(t, []string{"m"}, v.Heads)
	})
}

func TestValidate_DerivedDowngradeLosesObjects(t *testing.T) {
	tenants := NewRevision("001", nil, WithCreatedAt(baseTime), WithUpgrade(
		CreateTable{Table: "tenants", Columns: []Column{
			{Name: "id", Type: "integer", PrimaryKey: true},
			{Name: "country", Type: "varchar(100)", Nullable: true},
		}},
		CreateIndex{Name: "ix_tenants_country", Table: "tenants", Columns: []string{"country"}},
		AddConstraint{Table: "tenants", Name: "ck_tenants_country", Definition: "CHECK (country <> '')"},
	))
	country := Column{Name: "country", Type: "varchar(100)", Nullable: true}
	columns := []Column{{Name: "id", Type: "integer", PrimaryKey: true}, country}
	countryIndex := TableIndex{Name: "ix_tenants_country", Columns: []string{"country"}}

	lossy := map[string]struct {
		op   Operation
		lost []string
	}{
		"drop column": {
			op:   DropColumn{Table: "tenants", Column: country},
			lost: []string{"missing_index ix_tenants_country"},
		},
		"drop table": {
			op:   DropTable{Table: "tenants", Columns: columns},
			lost: []string{"missing_index ix_tenants_country", "missing_constraint tenants.ck_tenants_country"},
		},
	}
	for name, tc := range lossy {
		t.Run(name, func(t *testing.T) {
			g, err := NewGraph(tenants, NewRevision("002", []string{"001"}, WithCreatedAt(baseTime.Add(time.Hour)), WithUpgrade(tc.op)))
			require.NoError(t, err)

			_, err = g.Validate()
			var invalid *InvalidRevisionError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, "002", invalid.Revision)
			for _, lost := range tc.lost {
				assert.Contains(t, invalid.Reason, lost)
			}
		})
	}

	reversible := map[string]*Revision{
		"dependents listed": NewRevision("002", []string{"001"}, WithUpgrade(
			DropColumn{Table: "tenants", Column: country, Indexes: []TableIndex{countryIndex}},
		)),
		"declared downgrade": NewRevision("002", []string{"001"},
			WithUpgrade(DropTable{Table: "tenants", Columns: columns}),
			WithDowngrade(SQL{SQL: "-- restored from backup"}),
		),
		"irreversible": NewRevision("002", []string{"001"},
			WithUpgrade(DropTable{Table: "tenants", Columns: columns}),
			MarkIrreversible("tenants are archived"),
		),
	}
	for name, r := range reversible {
		t.Run(name, func(t *testing.T) {
			r.CreatedAt = baseTime.Add(time.Hour)
			g, err := NewGraph(tenants, r)
			require.NoError(t, err)
			_, err = g.Validate()
			assert.NoError(t, err)
		})
	}

	t.Run("opaque sql stops the replay", func(t *testing.T) {
		g, err := NewGraph(
			NewRevision("001", nil, WithCreatedAt(baseTime), WithUpgrade(SQL{SQL: "CREATE TABLE legacy (id integer)", Reverse: "DROP TABLE legacy"})),
			NewRevision("002", []string{"001"}, WithCreatedAt(baseTime.Add(time.Hour)), WithUpgrade(
				AddColumn{Table: "legacy", Column: Column{Name: "note", Type: "text", Nullable: true}},
			)),
		)
		require.NoError(t, err)
		_, err = g.Validate()
		assert.NoError(t, err)
	})
}

func TestGraph_Queries(t *testing.T) {
	g := msafiriGraph(t)

	assert.Equal(t, []string{"003a", "003b"}, g.Children("002"))
	assert.Equal(t, []string{"003a", "003b"}, g.Parents("004"))
	assert.Nil(t, g.Parents("nope"))

	assert.Equal(t, map[string]bool{"001": true, "002": true, "003a": true}, g.Ancestors("003a"))
	assert.Equal(t, map[string]bool{"003a": true, "003b": true, "004": true}, g.Descendants("002"))
	assert.Empty(t, g.Descendants("004"))

	assert.Equal(t, []string{"003a", "003b"}, g.HeadsOf(map[string]bool{
		"001": true, "002": true, "003a": true, "003b": true,
	}))
	assert.Empty(t, g.HeadsOf(nil))
}

func TestGraph_Resolve(t *testing.T) {
	g := msafiriGraph(t)

	id, err := g.Resolve("003a")
	require.NoError(t, err)
	assert.Equal(t, "003a", id)

	id, err = g.Resolve("00")
	assert.ErrorIs(t, err, ErrAmbiguousRevision)
	assert.Empty(t, id)

	id, err = g.Resolve("003")
	assert.ErrorIs(t, err, ErrAmbiguousRevision)
	assert.Empty(t, id)

	id, err = g.Resolve("004")
	require.NoError(t, err)
	assert.Equal(t, "004", id)

	_, err = g.Resolve("9")
	assert.True(t, errors.Is(err, ErrUnknownRevision))

	_, err = g.Resolve("")
	assert.ErrorIs(t, err, ErrUnknownRevision)
}
