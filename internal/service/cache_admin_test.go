package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/edison-alpha/backendmome/internal/errors"
)

func TestCacheAdmin(t *testing.T) {
	fast, mr := newFastTier(t)
	admin := NewCacheAdmin(fast)
	ctx := testContext(t)

	for _, key := range []string{"activity:global:20", "activity:raffle:1:20", "stats:platform", "leaderboard:global:10"} {
		require.NoError(t, fast.SetWithTTL(ctx, key, 1, time.Minute))
	}

	deleted, err := admin.DeletePattern(ctx, ActivityPattern)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
	assert.False(t, mr.Exists("activity:global:20"))
	assert.True(t, mr.Exists("stats:platform"))

	require.NoError(t, admin.DeleteKey(ctx, "stats:platform"))
	assert.False(t, mr.Exists("stats:platform"))

	require.NoError(t, admin.Flush(ctx))
	assert.False(t, mr.Exists("leaderboard:global:10"))
}

func TestCacheAdmin_Validation(t *testing.T) {
	fast, _ := newFastTier(t)
	admin := NewCacheAdmin(fast)
	ctx := testContext(t)

	_, err := admin.DeletePattern(ctx, " ")
	assert.True(t, apperrors.IsValidation(err))

	_, err = admin.DeletePattern(ctx, "*")
	assert.True(t, apperrors.IsValidation(err))

	assert.True(t, apperrors.IsValidation(admin.DeleteKey(ctx, "")))
}
