package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/sqlgate/pkg/config"
	"github.com/txn2/sqlgate/pkg/session"
)

func TestGetInfo(t *testing.T) {
	svc, _ := newTestService(t, config.ModeMulti)
	ctx := context.Background()

	handle, err := svc.OpenSession(ctx, "alice", nil)
	require.NoError(t, err)
	_, err = svc.ExecuteStatement(ctx, handle, numbersStatement, nil, false)
	require.NoError(t, err)

	tests := []struct {
		kind InfoKind
		want string
	}{
		{InfoServerName, "sqlgate"},
		{InfoServerVersion, "1.2.3"},
		{InfoEngineName, "memory"},
		{InfoSessionMode, config.ModeMulti},
		{InfoActiveSessions, "1"},
		{InfoActiveOperations, "1"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			value, err := svc.GetInfo(handle, tt.kind)
			require.NoError(t, err)
			assert.Equal(t, tt.want, value)
		})
	}
}

func TestGetInfo_UnknownKind(t *testing.T) {
	svc, _ := newTestService(t, config.ModeMulti)

	handle, err := svc.OpenSession(context.Background(), "alice", nil)
	require.NoError(t, err)

	_, err = svc.GetInfo(handle, InfoKind("uptime"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown info kind")
}

func TestGetInfo_InvalidHandle(t *testing.T) {
	svc, _ := newTestService(t, config.ModeMulti)

	_, err := svc.GetInfo("no-such-session", InfoServerName)
	require.ErrorIs(t, err, session.ErrInvalidHandle)
}
