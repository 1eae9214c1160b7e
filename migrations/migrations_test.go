package migrations

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListOrdersEmbeddedFiles(t *testing.T) {
	all, err := List()
	require.NoError(t, err)
	require.NotEmpty(t, all)
	assert.Equal(t, uint(1), all[0].Version)
	assert.Equal(t, "init", all[0].Name)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].Version, all[i].Version)
	}
}

func TestInitSchemaCarriesConstraints(t *testing.T) {
	all, err := List()
	require.NoError(t, err)
	sql := all[0].Up
	for _, want := range []string{
		"UNIQUE (cnpj, category_code)",
		"number      TEXT NOT NULL UNIQUE",
		"UNIQUE (quotation_id, requisition_id)",
		"UNIQUE (quotation_id, supplier_id, category_code)",
		"UNIQUE (link_id, requisition_id)",
		"PRIMARY KEY (key, module)",
	} {
		assert.Contains(t, sql, want)
	}
}

func TestEveryMigrationCanRollBack(t *testing.T) {
	all, err := List()
	require.NoError(t, err)
	for _, m := range all {
		assert.NotEmpty(t, m.Down, "migration %d has no down file", m.Version)
	}
	// Down drops children before the tables they reference.
	down := all[0].Down
	assert.Less(t, strings.Index(down, "supplier_links"), strings.Index(down, "suppliers;"))
	assert.Less(t, strings.Index(down, "quotation_items"), strings.Index(down, "quotations;"))
}
