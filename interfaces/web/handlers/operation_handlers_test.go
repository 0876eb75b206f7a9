package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sprisk/application"
	"sprisk/datastore"
	"sprisk/domain/risk"
	"sprisk/domain/scan"
	"sprisk/domain/sharepoint"
	"sprisk/infrastructure/checkpoint"
	"sprisk/infrastructure/throttle"
)

// stubCollector blocks tenant collection until released so tests can
// observe the in-flight state.
type stubCollector struct {
	release chan struct{}
}

func (c *stubCollector) CollectTenantData(ctx context.Context, scope string, reporter scan.ProgressReporter) error {
	if c.release != nil {
		<-c.release
	}
	return nil
}

func (c *stubCollector) AnalyzeSitePermissions(ctx context.Context, siteURL string, policy scan.ScanPolicy, reporter scan.ProgressReporter) (*sharepoint.PermissionMatrix, error) {
	return &sharepoint.PermissionMatrix{
		Root:        &sharepoint.PermissionNode{Title: siteURL, Kind: sharepoint.NodeKindContainerRoot, Address: siteURL},
		Policy:      string(policy),
		CompletedAt: time.Now(),
	}, nil
}

func (c *stubCollector) CollectSharingData(ctx context.Context, scope string, reporter scan.ProgressReporter) error {
	return nil
}

func newTestHandlers(t *testing.T, collector application.Collector) (*OperationHandlers, *application.OperationState) {
	t.Helper()

	state := application.NewOperationState()
	checkpoints, err := checkpoint.NewStore(t.TempDir())
	require.NoError(t, err)

	runner := application.NewOperationRunner(context.Background(), state, nil)
	guard := throttle.NewGuardWithPolicy(1, time.Millisecond)
	service := application.NewAuditService(runner, state, collector, checkpoints, guard, datastore.New(), risk.NewEngine())

	return NewOperationHandlers(service), state
}

func waitUntilComplete(t *testing.T, state *application.OperationState) {
	t.Helper()
	require.Eventually(t, func() bool {
		return state.Snapshot().Complete
	}, 2*time.Second, 5*time.Millisecond)
}

func TestOperationHandlers_StartEnumeration_Accepted(t *testing.T) {
	// Arrange
	handlers, state := newTestHandlers(t, &stubCollector{})
	req := httptest.NewRequest(http.MethodPost, "/operations/enumerate", strings.NewReader(`{"scope":"tenant"}`))
	rec := httptest.NewRecorder()

	// Act
	handlers.StartEnumeration(rec, req)

	// Assert
	assert.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.NotEmpty(t, resp["operation_id"])
	assert.Equal(t, "enumeration", resp["type"])
	assert.Equal(t, "tenant", resp["scope"])

	waitUntilComplete(t, state)
}

func TestOperationHandlers_StartEnumeration_EmptyBodyIsAccepted(t *testing.T) {
	handlers, state := newTestHandlers(t, &stubCollector{})
	req := httptest.NewRequest(http.MethodPost, "/operations/enumerate", nil)
	rec := httptest.NewRecorder()

	handlers.StartEnumeration(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	waitUntilComplete(t, state)
}

func TestOperationHandlers_StartAnalysis_RequiresSiteURL(t *testing.T) {
	handlers, _ := newTestHandlers(t, &stubCollector{})
	req := httptest.NewRequest(http.MethodPost, "/operations/analyze", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	handlers.StartAnalysis(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "site_url is required")
}

func TestOperationHandlers_ConcurrentStartIsConflict(t *testing.T) {
	// Arrange: hold the first operation open.
	release := make(chan struct{})
	handlers, state := newTestHandlers(t, &stubCollector{release: release})

	first := httptest.NewRecorder()
	handlers.StartEnumeration(first, httptest.NewRequest(http.MethodPost, "/operations/enumerate", nil))
	require.Equal(t, http.StatusAccepted, first.Code)

	// Act
	second := httptest.NewRecorder()
	handlers.StartEnrichment(second, httptest.NewRequest(http.MethodPost, "/operations/enrich", nil))

	// Assert
	assert.Equal(t, http.StatusConflict, second.Code)
	var resp map[string]string
	require.NoError(t, json.NewDecoder(second.Body).Decode(&resp))
	assert.NotEmpty(t, resp["error"])

	close(release)
	waitUntilComplete(t, state)
}

func TestOperationHandlers_GetProgress_ReflectsTranscript(t *testing.T) {
	// Arrange
	handlers, state := newTestHandlers(t, &stubCollector{})
	rec := httptest.NewRecorder()
	handlers.StartEnumeration(rec, httptest.NewRequest(http.MethodPost, "/operations/enumerate", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)
	waitUntilComplete(t, state)

	// Act
	progress := httptest.NewRecorder()
	handlers.GetProgress(progress, httptest.NewRequest(http.MethodGet, "/operations/progress", nil))

	// Assert
	assert.Equal(t, http.StatusOK, progress.Code)
	var snapshot struct {
		Messages []string `json:"messages"`
		Running  bool     `json:"running"`
		Complete bool     `json:"complete"`
	}
	require.NoError(t, json.NewDecoder(progress.Body).Decode(&snapshot))
	assert.True(t, snapshot.Complete)
	assert.False(t, snapshot.Running)
	assert.NotEmpty(t, snapshot.Messages)
}

func TestOperationHandlers_GetRisk_ReturnsAssessment(t *testing.T) {
	handlers, _ := newTestHandlers(t, &stubCollector{})
	rec := httptest.NewRecorder()

	handlers.GetRisk(rec, httptest.NewRequest(http.MethodGet, "/risk", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var assessment struct {
		OverallScore float64 `json:"overall_score"`
		Level        string  `json:"level"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&assessment))
	assert.Equal(t, float64(0), assessment.OverallScore)
}
