package offsync

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestService(config *ServiceConfig) *SyncService {
	s := &SyncService{
		config:           config,
		registeredTables: map[string]bool{},
	}
	for _, table := range config.RegisteredTables {
		s.registeredTables[table] = true
	}
	return s
}

func validChange() ChangeUpload {
	return ChangeUpload{
		OpID:    "op-1",
		Table:   "notes",
		ItemID:  "1",
		Op:      OpInsert,
		Payload: json.RawMessage(`{"title":"hello"}`),
	}
}

func TestValidateChangeAccepts(t *testing.T) {
	s := newTestService(&ServiceConfig{RegisteredTables: []string{"notes"}})

	reason, _ := s.validateChange(validChange())
	require.Empty(t, reason)

	// DELETE needs no payload.
	del := validChange()
	del.Op = OpDelete
	del.Payload = nil
	reason, _ = s.validateChange(del)
	require.Empty(t, reason)
}

func TestValidateChangeRejections(t *testing.T) {
	s := newTestService(&ServiceConfig{RegisteredTables: []string{"notes"}, MaxPayloadBytes: 32})

	missing := validChange()
	missing.ItemID = ""
	reason, _ := s.validateChange(missing)
	require.Equal(t, ReasonBadPayload, reason)

	unknownOp := validChange()
	unknownOp.Op = "MERGE"
	reason, _ = s.validateChange(unknownOp)
	require.Equal(t, ReasonBadPayload, reason)

	unregistered := validChange()
	unregistered.Table = "secrets"
	reason, _ = s.validateChange(unregistered)
	require.Equal(t, ReasonUnregisteredTable, reason)

	badJSON := validChange()
	badJSON.Payload = json.RawMessage(`{not json`)
	reason, _ = s.validateChange(badJSON)
	require.Equal(t, ReasonBadPayload, reason)

	tooBig := validChange()
	tooBig.Payload = json.RawMessage(`{"title":"0123456789012345678901234567890123456789"}`)
	reason, _ = s.validateChange(tooBig)
	require.Equal(t, ReasonPayloadTooLarge, reason)
}

func TestValidateRequestBatchLimit(t *testing.T) {
	s := newTestService(&ServiceConfig{RegisteredTables: []string{"notes"}, MaxUploadBatchSize: 1})

	req := &UploadRequest{Changes: []ChangeUpload{validChange(), validChange()}}
	reason, _ := s.validateRequest(req)
	require.Equal(t, ReasonBatchTooLarge, reason)

	req.Changes = req.Changes[:1]
	reason, _ = s.validateRequest(req)
	require.Empty(t, reason)
}

func TestConflictStatusShape(t *testing.T) {
	serverItem := json.RawMessage(`{"server_version":5,"deleted":false,"payload":{"name":"new"}}`)
	status := statusConflict("op-1", serverItem, "version mismatch")

	require.Equal(t, StConflict, status.Status)
	require.NotNil(t, status.Code)
	require.Equal(t, 412, *status.Code)
	require.JSONEq(t, string(serverItem), string(status.ServerItem))

	// Absent server item stays absent on the wire.
	empty := statusConflict("op-2", nil, "item does not exist on server")
	b, err := json.Marshal(empty)
	require.NoError(t, err)
	require.NotContains(t, string(b), "server_item")
}
