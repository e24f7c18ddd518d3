package ports

import (
	"context"
	"testing"

	"github.com/aretw0/switchboard/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunDefinitionStoreContract runs a suite of tests to verify that a DefinitionStore
// implementation adheres to the interface contract. The store must start empty.
func RunDefinitionStoreContract(t *testing.T, store DefinitionStore) {
	ctx := context.Background()
	def := []byte(`{"id":"contract_ivr","initial":"idle","transitions":[{"name":"go","from":"idle","to":"done"}]}`)

	t.Run("Write and Read", func(t *testing.T) {
		require.NoError(t, store.Write(ctx, "contract_ivr", def))

		data, err := store.Read(ctx, "contract_ivr")
		require.NoError(t, err)
		assert.JSONEq(t, string(def), string(data))
	})

	t.Run("Read Non-Existent", func(t *testing.T) {
		_, err := store.Read(ctx, "missing_machine")
		assert.ErrorIs(t, err, domain.ErrDefinitionNotFound)
	})

	t.Run("List", func(t *testing.T) {
		require.NoError(t, store.Write(ctx, "another_ivr", def))

		ids, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, "contract_ivr")
		assert.Contains(t, ids, "another_ivr")
	})

	t.Run("Overwrite", func(t *testing.T) {
		updated := []byte(`{"id":"contract_ivr","initial":"busy","transitions":[]}`)
		require.NoError(t, store.Write(ctx, "contract_ivr", updated))

		data, err := store.Read(ctx, "contract_ivr")
		require.NoError(t, err)
		assert.JSONEq(t, string(updated), string(data))
	})

	t.Run("Delete", func(t *testing.T) {
		existed, err := store.Delete(ctx, "contract_ivr")
		require.NoError(t, err)
		assert.True(t, existed)

		_, err = store.Read(ctx, "contract_ivr")
		assert.ErrorIs(t, err, domain.ErrDefinitionNotFound)

		ids, err := store.List(ctx)
		require.NoError(t, err)
		assert.NotContains(t, ids, "contract_ivr")
	})

	t.Run("Delete Non-Existent", func(t *testing.T) {
		existed, err := store.Delete(ctx, "never_written")
		require.NoError(t, err)
		assert.False(t, existed)
	})
}
