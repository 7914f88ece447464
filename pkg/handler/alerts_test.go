package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prahari-ai/sentinel/pkg/alerts"
	"github.com/prahari-ai/sentinel/pkg/messages"
	"github.com/prahari-ai/sentinel/pkg/policy"
)

func alertFixture(t *testing.T) (*AlertHandler, *alerts.Manager, messages.Alert) {
	t.Helper()

	checker, err := policy.NewChecker(context.Background())
	require.NoError(t, err)

	manager := alerts.NewManager(zerolog.Nop())
	raised, _ := manager.Upsert("ALPINIST_RED", "did:eth:0xRED...002",
		messages.AlertGeofenceBreach, messages.SeverityHigh,
		"Entered restricted zone: Tawang Sector Red", messages.GeoPoint{Lat: 27.588, Lng: 91.862})

	h := NewAlertHandler(manager, checker, nil, nil, zerolog.Nop())
	return h, manager, raised
}

func doAlertRequest(h *AlertHandler, method, path, role, actor string, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if role != "" {
		req.Header.Set(HeaderRole, role)
	}
	if actor != "" {
		req.Header.Set(HeaderActorID, actor)
	}
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

func TestListActive(t *testing.T) {
	h, _, _ := alertFixture(t)

	rec := doAlertRequest(h, http.MethodGet, "/", "", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AlertListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, messages.AlertGeofenceBreach, resp.Alerts[0].Type)
}

func TestGetAlertNotFound(t *testing.T) {
	h, _, _ := alertFixture(t)

	rec := doAlertRequest(h, http.MethodGet, "/missing-id", "", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAcknowledgeAsOperator(t *testing.T) {
	h, _, raised := alertFixture(t)

	rec := doAlertRequest(h, http.MethodPatch, "/"+raised.AlertID+"/acknowledge", policy.RoleOperator, "OP_7", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got messages.Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, messages.AlertAcknowledged, got.Status)
	assert.Equal(t, "OP_7", got.AckBy)
}

func TestAcknowledgeTwiceConflicts(t *testing.T) {
	h, _, raised := alertFixture(t)

	doAlertRequest(h, http.MethodPatch, "/"+raised.AlertID+"/acknowledge", policy.RoleOperator, "OP_7", "")
	rec := doAlertRequest(h, http.MethodPatch, "/"+raised.AlertID+"/acknowledge", policy.RoleOperator, "OP_8", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestResolveRequiresCommanderRole(t *testing.T) {
	h, manager, raised := alertFixture(t)

	rec := doAlertRequest(h, http.MethodPatch, "/"+raised.AlertID+"/resolve", policy.RoleOperator, "OP_7", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doAlertRequest(h, http.MethodPatch, "/"+raised.AlertID+"/resolve", policy.RoleCommander, "CMD_1", `{"reason":"false positive"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, manager.ActiveCount())
}

func TestContextActorTakesPrecedenceOverHeader(t *testing.T) {
	h, _, raised := alertFixture(t)

	req := httptest.NewRequest(http.MethodPatch, "/"+raised.AlertID+"/acknowledge", strings.NewReader("{}"))
	req.Header.Set(HeaderRole, policy.RoleOperator)
	req = req.WithContext(WithUserID(req.Context(), "OP_CTX"))

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var got messages.Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "OP_CTX", got.AckBy, "actor resolved from the request context, no header needed")
}

func TestMissingActorIsBadRequest(t *testing.T) {
	h, _, raised := alertFixture(t)

	rec := doAlertRequest(h, http.MethodPatch, "/"+raised.AlertID+"/acknowledge", policy.RoleOperator, "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClaimAppendsHandoffRecord(t *testing.T) {
	h, _, raised := alertFixture(t)

	rec := doAlertRequest(h, http.MethodPatch, "/"+raised.AlertID+"/claim", policy.RoleSupervisor, "SUP_2", `{"reason":"shift start"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var got messages.Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "SUP_2", got.OwnerID)
	require.Len(t, got.HandoffLog, 1)
	assert.Equal(t, "shift start", got.HandoffLog[0].Reason)
}

func TestAttestRequiresNodeRole(t *testing.T) {
	h, _, raised := alertFixture(t)

	rec := doAlertRequest(h, http.MethodPatch, "/"+raised.AlertID+"/attest", policy.RoleOperator, "OP_7", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doAlertRequest(h, http.MethodPatch, "/"+raised.AlertID+"/attest", policy.RoleNode, "NODE_A", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got messages.Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, messages.AttestationAttested, got.Attestation, "default quorum of one")
}
