package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService() (*Service, *MemoryStore) {
	store := NewMemoryStore()
	return NewService(nil, NewNormalizer("55"), store), store
}

func TestResolvePhoneDirect(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService()
	phone, err := svc.ResolvePhone(context.Background(), "+55 (31) 99999-8888")
	require.NoError(t, err)
	assert.Equal(t, "5531999998888", phone)
}

func TestResolvePhoneViaMapping(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService()
	ctx := context.Background()

	require.NoError(t, svc.RegisterMapping(ctx, "5531999998888", "98765@lid"))

	phone, err := svc.ResolvePhone(ctx, "98765@lid")
	require.NoError(t, err)
	assert.Equal(t, "5531999998888", phone)
}

func TestResolvePhoneUnknownLID(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService()
	_, err := svc.ResolvePhone(context.Background(), "55555@lid")
	assert.ErrorIs(t, err, ErrMappingNotFound)
}

func TestRegisterMappingLastWriteWins(t *testing.T) {
	t.Parallel()

	svc, store := newTestService()
	ctx := context.Background()

	require.NoError(t, svc.RegisterMapping(ctx, "5531999998888", "111@lid"))
	require.NoError(t, svc.RegisterMapping(ctx, "5531888887777", "111@lid"))

	phone, err := svc.ResolvePhone(ctx, "111@lid")
	require.NoError(t, err)
	assert.Equal(t, "5531888887777", phone)

	// The old phone keeps its row but loses the LID.
	old, err := store.FindByPhone(ctx, "5531999998888")
	require.NoError(t, err)
	assert.Empty(t, old.LID)
}

func TestRegisterMappingPhoneUpdatesLID(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService()
	ctx := context.Background()

	// App reinstall: same phone shows up with a fresh LID.
	require.NoError(t, svc.RegisterMapping(ctx, "5531999998888", "111@lid"))
	require.NoError(t, svc.RegisterMapping(ctx, "5531999998888", "222@lid"))

	phone, err := svc.ResolvePhone(ctx, "222@lid")
	require.NoError(t, err)
	assert.Equal(t, "5531999998888", phone)
}

func TestRegisterContactKeepsProfile(t *testing.T) {
	t.Parallel()

	svc, store := newTestService()
	ctx := context.Background()

	require.NoError(t, svc.RegisterContact(ctx, "31999998888", "333@lid", "Maria", "https://example.com/a.jpg"))
	// A later webhook without profile fields must not erase them.
	require.NoError(t, svc.RegisterContact(ctx, "31999998888", "", "", ""))

	m, err := store.FindByPhone(ctx, "5531999998888")
	require.NoError(t, err)
	assert.Equal(t, "Maria", m.DisplayName)
	assert.Equal(t, "https://example.com/a.jpg", m.AvatarURL)
	assert.Equal(t, "333@lid", m.LID)
}

func TestRegisterMappingRejectsInvalidPhone(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService()
	err := svc.RegisterMapping(context.Background(), "12345", "111@lid")
	assert.ErrorIs(t, err, ErrInvalidPhone)
}
