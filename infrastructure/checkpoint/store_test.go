package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sprisk/domain/scan"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestStore_Start_PersistsInitialRecord(t *testing.T) {
	// Arrange
	store := newTestStore(t)

	// Act
	rec := store.Start(scan.OperationEnumeration, scan.ScopeTenant)

	// Assert
	assert.Equal(t, scan.OperationEnumeration, rec.OperationType)
	assert.Equal(t, scan.ScopeTenant, rec.Scope)
	assert.Equal(t, "Initializing", rec.Phase)
	assert.Equal(t, scan.StatusInProgress, rec.Status)
	assert.Empty(t, rec.CompletedPhases)
	assert.Empty(t, rec.ProcessedItems)

	path := store.path(scan.OperationEnumeration)
	assert.FileExists(t, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk Record
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, scan.StatusInProgress, onDisk.Status)
}

func TestStore_Update_TracksPhaseTransitions(t *testing.T) {
	// Arrange
	store := newTestStore(t)
	store.Start(scan.OperationEnumeration, scan.ScopeTenant)

	// Act
	store.Update(scan.StandardStages.SiteDiscovery, "sites", 3, 10)
	store.Update(scan.StandardStages.UserDiscovery, "users", 5, 0)

	// Assert
	loaded := store.Load(scan.OperationEnumeration)
	require.NotNil(t, loaded)
	assert.Equal(t, scan.StandardStages.UserDiscovery, loaded.Phase)
	assert.Equal(t, []string{"Initializing", scan.StandardStages.SiteDiscovery}, loaded.CompletedPhases)
	assert.Equal(t, 3, loaded.ProcessedItems["sites"])
	assert.Equal(t, 10, loaded.TotalItems["sites"])
	assert.Equal(t, 5, loaded.ProcessedItems["users"])
	_, hasUserTotal := loaded.TotalItems["users"]
	assert.False(t, hasUserTotal, "zero totals are not recorded")
}

func TestStore_Complete_Completed_DeletesFile(t *testing.T) {
	// Arrange
	store := newTestStore(t)
	store.Start(scan.OperationEnumeration, scan.ScopeTenant)
	path := store.path(scan.OperationEnumeration)
	require.FileExists(t, path)

	// Act
	store.Complete(scan.StatusCompleted)

	// Assert
	assert.NoFileExists(t, path, "completed checkpoints must be deleted")
	assert.Nil(t, store.Load(scan.OperationEnumeration))
}

func TestStore_Complete_Failed_RetainsFileButNotResumable(t *testing.T) {
	// Arrange
	store := newTestStore(t)
	store.Start(scan.OperationPermissionAnalysis, "https://contoso.sharepoint.com")
	path := store.path(scan.OperationPermissionAnalysis)

	// Act
	store.Complete(scan.StatusFailed)

	// Assert
	assert.FileExists(t, path, "failed checkpoints are kept for inspection")
	assert.Nil(t, store.Load(scan.OperationPermissionAnalysis),
		"only InProgress checkpoints are eligible for resume")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var rec Record
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, scan.StatusFailed, rec.Status)
	require.NotNil(t, rec.CompletedAt)
}

func TestStore_Load_MissingFileReturnsNil(t *testing.T) {
	store := newTestStore(t)

	assert.Nil(t, store.Load(scan.OperationEnrichment))
}

func TestStore_Load_CorruptFileReturnsNil(t *testing.T) {
	// Arrange
	store := newTestStore(t)
	path := store.path(scan.OperationEnumeration)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	// Act + Assert
	assert.Nil(t, store.Load(scan.OperationEnumeration))
}

func TestStore_Path_IsPerOperationType(t *testing.T) {
	store := newTestStore(t)

	enumPath := store.path(scan.OperationEnumeration)
	analysisPath := store.path(scan.OperationPermissionAnalysis)

	assert.NotEqual(t, enumPath, analysisPath)
	assert.Equal(t, "enumeration.checkpoint.json", filepath.Base(enumPath))
	assert.Equal(t, "permission_analysis.checkpoint.json", filepath.Base(analysisPath))
}
