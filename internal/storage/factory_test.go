package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatabaseForRejectsEmptyUserID(t *testing.T) {
	factory := NewFactory(t.TempDir())
	_, err := factory.DatabaseFor("")
	assert.Error(t, err)
}

func TestDatabaseForReturnsSameHandleOnRepeatedCalls(t *testing.T) {
	factory := NewFactory(t.TempDir())
	t.Cleanup(func() { factory.CloseAll() })

	first, err := factory.DatabaseFor("user-1")
	require.NoError(t, err)
	second, err := factory.DatabaseFor("user-1")
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestKnownUserIDsSurvivesAcrossFactoryInstances(t *testing.T) {
	dir := t.TempDir()
	factoryA := NewFactory(dir)
	_, err := factoryA.DatabaseFor("user-1")
	require.NoError(t, err)
	require.NoError(t, factoryA.CloseAll())

	factoryB := NewFactory(dir)
	t.Cleanup(func() { factoryB.CloseAll() })
	ids, err := factoryB.KnownUserIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"user-1"}, ids)
}

func TestKnownUserIDsDoesNotDuplicateOnRepeatedOpen(t *testing.T) {
	dir := t.TempDir()
	factory := NewFactory(dir)
	t.Cleanup(func() { factory.CloseAll() })

	_, err := factory.DatabaseFor("user-1")
	require.NoError(t, err)
	_, err = factory.DatabaseFor("user-1")
	require.NoError(t, err)

	ids, err := factory.KnownUserIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"user-1"}, ids)
}

func TestOpenHandlesReflectsCurrentlyOpenUsers(t *testing.T) {
	factory := NewFactory(t.TempDir())
	t.Cleanup(func() { factory.CloseAll() })

	assert.Empty(t, factory.OpenHandles())

	_, err := factory.DatabaseFor("user-1")
	require.NoError(t, err)
	_, err = factory.DatabaseFor("user-2")
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"user-1", "user-2"}, factory.OpenHandles())
}

func TestCloseAllClearsOpenHandles(t *testing.T) {
	factory := NewFactory(t.TempDir())
	_, err := factory.DatabaseFor("user-1")
	require.NoError(t, err)

	require.NoError(t, factory.CloseAll())
	assert.Empty(t, factory.OpenHandles())
}

func TestSanitizeUserIDReplacesUnsafeCharacters(t *testing.T) {
	assert.Equal(t, "user_example.com", sanitizeUserID("user@example.com"))
	assert.Equal(t, "simple-user_1", sanitizeUserID("simple-user_1"))
}
