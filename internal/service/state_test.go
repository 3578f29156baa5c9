package service

import (
	"testing"

	"github.com/glowcast/payout-engine/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestRequestTransitions(t *testing.T) {
	allowed := [][2]string{
		{domain.RequestStatusPending, domain.RequestStatusApproved},
		{domain.RequestStatusPending, domain.RequestStatusDenied},
		{domain.RequestStatusApproved, domain.RequestStatusProcessing},
		{domain.RequestStatusProcessing, domain.RequestStatusFulfilled},
		{domain.RequestStatusProcessing, domain.RequestStatusFailed},
		{domain.RequestStatusFailed, domain.RequestStatusPending},
	}
	for _, edge := range allowed {
		require.True(t, canTransition(edge[0], edge[1]), "%s -> %s should be allowed", edge[0], edge[1])
	}

	forbidden := [][2]string{
		{domain.RequestStatusPending, domain.RequestStatusProcessing},
		{domain.RequestStatusPending, domain.RequestStatusFulfilled},
		{domain.RequestStatusApproved, domain.RequestStatusPending},
		{domain.RequestStatusApproved, domain.RequestStatusFulfilled},
		{domain.RequestStatusFulfilled, domain.RequestStatusFailed},
		{domain.RequestStatusFulfilled, domain.RequestStatusPending},
		{domain.RequestStatusDenied, domain.RequestStatusPending},
		{domain.RequestStatusFailed, domain.RequestStatusProcessing},
	}
	for _, edge := range forbidden {
		require.False(t, canTransition(edge[0], edge[1]), "%s -> %s should be rejected", edge[0], edge[1])
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	require.Empty(t, requestTransitions[domain.RequestStatusFulfilled])
	require.Empty(t, requestTransitions[domain.RequestStatusDenied])
}
