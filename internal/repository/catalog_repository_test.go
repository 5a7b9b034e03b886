package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turri/tastehub/internal/models"
)

func TestBuildNearestQuery(t *testing.T) {
	vec := []float32{0.1, 0.2}

	t.Run("product taste without filter", func(t *testing.T) {
		query, args, err := buildNearestQuery(models.KindProduct, ColumnTaste, vec, models.CatalogFilter{}, 9)

		require.NoError(t, err)
		assert.Len(t, args, 2)
		assert.Contains(t, query, "FROM products")
		assert.Contains(t, query, "taste_embedding IS NOT NULL")
		assert.Contains(t, query, "ORDER BY taste_embedding <-> $1, id")
		assert.Contains(t, query, "LIMIT $2")
		assert.NotContains(t, query, "status")
		assert.Equal(t, 9, args[1])
	})

	t.Run("product embedding with status filter", func(t *testing.T) {
		filter := models.CatalogFilter{ProductStatuses: []string{"publish"}}

		query, args, err := buildNearestQuery(models.KindProduct, ColumnEmbedding, vec, filter, 6)

		require.NoError(t, err)
		require.Len(t, args, 3)
		assert.Contains(t, query, "embedding IS NOT NULL AND status = ANY($2)")
		assert.Contains(t, query, "LIMIT $3")
		assert.Equal(t, []string{"publish"}, args[1])
		assert.Equal(t, 6, args[2])
	})

	t.Run("status filter ignored for producers", func(t *testing.T) {
		filter := models.CatalogFilter{ProductStatuses: []string{"publish"}}

		query, args, err := buildNearestQuery(models.KindProducer, ColumnTaste, vec, filter, 3)

		require.NoError(t, err)
		assert.Len(t, args, 2)
		assert.Contains(t, query, "FROM producers")
		assert.NotContains(t, query, "status")
	})

	t.Run("rejects unknown kind", func(t *testing.T) {
		_, _, err := buildNearestQuery(models.EntityKind("category"), ColumnTaste, vec, models.CatalogFilter{}, 3)
		assert.Error(t, err)
	})

	t.Run("rejects unknown column", func(t *testing.T) {
		_, _, err := buildNearestQuery(models.KindProduct, "price", vec, models.CatalogFilter{}, 3)
		assert.Error(t, err)
	})

	t.Run("rejects non-positive limit", func(t *testing.T) {
		_, _, err := buildNearestQuery(models.KindProduct, ColumnTaste, vec, models.CatalogFilter{}, 0)
		assert.Error(t, err)
	})
}
