package rbac

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcoraddatz/entrust/internal/platform/cache"
	"github.com/marcoraddatz/entrust/internal/shared"
	_ "github.com/marcoraddatz/entrust/testing"
)

type mockRepo struct {
	cfg Config

	users map[int64]struct{}
	roles map[int64]Role
	perms map[int64]Permission

	userRoles map[int64]map[int64]struct{}
	rolePerms map[int64]map[int64]struct{}

	deletedUsers map[int64]bool
	deletedRoles map[int64]bool

	rolesForCalls int
	permsForCalls int
	attachCalls   int
	detachAll     int
}

func newMockRepo(cfg Config) *mockRepo {
	return &mockRepo{
		cfg:          cfg,
		users:        make(map[int64]struct{}),
		roles:        make(map[int64]Role),
		perms:        make(map[int64]Permission),
		userRoles:    make(map[int64]map[int64]struct{}),
		rolePerms:    make(map[int64]map[int64]struct{}),
		deletedUsers: make(map[int64]bool),
		deletedRoles: make(map[int64]bool),
	}
}

func (m *mockRepo) relationSet(rel Relation) map[int64]map[int64]struct{} {
	if rel.Table == m.cfg.RoleUserTable {
		return m.userRoles
	}
	return m.rolePerms
}

func (m *mockRepo) RolesForUser(ctx context.Context, userID int64) ([]Role, error) {
	m.rolesForCalls++
	var out []Role
	for id := range m.userRoles[userID] {
		if m.deletedRoles[id] {
			continue
		}
		out = append(out, m.roles[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockRepo) PermissionsForRole(ctx context.Context, roleID int64) ([]Permission, error) {
	m.permsForCalls++
	var out []Permission
	for id := range m.rolePerms[roleID] {
		out = append(out, m.perms[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockRepo) Attach(ctx context.Context, rel Relation, ownerID, targetID int64) error {
	m.attachCalls++
	if rel.Table == m.cfg.RoleUserTable {
		if _, ok := m.roles[targetID]; !ok {
			return shared.ErrNotFound
		}
	} else {
		if _, ok := m.perms[targetID]; !ok {
			return shared.ErrNotFound
		}
	}
	set := m.relationSet(rel)
	if set[ownerID] == nil {
		set[ownerID] = make(map[int64]struct{})
	}
	set[ownerID][targetID] = struct{}{}
	return nil
}

func (m *mockRepo) Detach(ctx context.Context, rel Relation, ownerID, targetID int64) error {
	delete(m.relationSet(rel)[ownerID], targetID)
	return nil
}

func (m *mockRepo) DetachAll(ctx context.Context, rel Relation, ownerID int64) error {
	m.detachAll++
	delete(m.relationSet(rel), ownerID)
	return nil
}

func (m *mockRepo) DetachAllTargets(ctx context.Context, rel Relation, targetID int64) error {
	for owner := range m.relationSet(rel) {
		delete(m.relationSet(rel)[owner], targetID)
	}
	return nil
}

func (m *mockRepo) Sync(ctx context.Context, rel Relation, ownerID int64, targetIDs []int64) error {
	set := make(map[int64]struct{}, len(targetIDs))
	for _, id := range targetIDs {
		set[id] = struct{}{}
	}
	m.relationSet(rel)[ownerID] = set
	return nil
}

func (m *mockRepo) DeleteUser(ctx context.Context, id int64) error {
	if _, ok := m.users[id]; !ok {
		return shared.ErrNotFound
	}
	if m.cfg.SupportsSoftDelete(m.cfg.PrincipalEntity) {
		if m.deletedUsers[id] {
			return shared.ErrNotFound
		}
		m.deletedUsers[id] = true
		return nil
	}
	delete(m.userRoles, id)
	delete(m.users, id)
	return nil
}

func (m *mockRepo) DeleteRole(ctx context.Context, id int64) error {
	if _, ok := m.roles[id]; !ok {
		return shared.ErrNotFound
	}
	if m.cfg.SupportsSoftDelete(m.cfg.RoleEntity) {
		if m.deletedRoles[id] {
			return shared.ErrNotFound
		}
		m.deletedRoles[id] = true
		return nil
	}
	for owner := range m.userRoles {
		delete(m.userRoles[owner], id)
	}
	delete(m.rolePerms, id)
	delete(m.roles, id)
	return nil
}

func (m *mockRepo) RestoreUser(ctx context.Context, id int64) error {
	if !m.deletedUsers[id] {
		return shared.ErrNotFound
	}
	delete(m.deletedUsers, id)
	return nil
}

func (m *mockRepo) RestoreRole(ctx context.Context, id int64) error {
	if !m.deletedRoles[id] {
		return shared.ErrNotFound
	}
	delete(m.deletedRoles, id)
	return nil
}

func (m *mockRepo) SupportsSoftDelete(entityType string) bool {
	return m.cfg.SupportsSoftDelete(entityType)
}

func testConfig() Config {
	return Config{
		RoleUserTable:       "role_user",
		PermissionRoleTable: "permission_role",
		CacheTTL:            time.Minute,
		PrincipalEntity:     "user",
		RoleEntity:          "role",
		PermissionEntity:    "permission",
	}
}

func newTestService(t *testing.T, cfg Config) (*Service, *mockRepo) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := newMockRepo(cfg)
	repo.users[7] = struct{}{}
	repo.roles[1] = Role{ID: 1, Name: "admin"}
	repo.roles[2] = Role{ID: 2, Name: "editor"}
	repo.perms[10] = Permission{ID: 10, Name: "posts.edit"}
	repo.perms[11] = Permission{ID: 11, Name: "posts.create"}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(repo, cache.NewRedisStore(client, cfg.CacheTTL), cfg, logger, nil)
	return svc, repo
}

func TestHasRoleReflectsAttachAfterCachedRead(t *testing.T) {
	svc, repo := newTestService(t, testConfig())
	ctx := context.Background()

	ok, err := svc.HasRole(ctx, 7, "admin", false)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, repo.rolesForCalls, "first read populates the cache")

	require.NoError(t, svc.AttachRole(ctx, 7, int64(1)))

	ok, err = svc.HasRole(ctx, 7, "admin", false)
	require.NoError(t, err)
	assert.True(t, ok, "the mutation must be visible immediately")
	assert.Equal(t, 2, repo.rolesForCalls, "attach invalidates the cached snapshot")
}

func TestHasRoleServesFromCacheBetweenMutations(t *testing.T) {
	svc, repo := newTestService(t, testConfig())
	ctx := context.Background()

	require.NoError(t, svc.AttachRole(ctx, 7, int64(1)))
	for i := 0; i < 3; i++ {
		ok, err := svc.HasRole(ctx, 7, "admin", false)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, 1, repo.rolesForCalls, "repeated reads must hit the cache")
}

func TestAttachRoleIsIdempotent(t *testing.T) {
	svc, repo := newTestService(t, testConfig())
	ctx := context.Background()

	require.NoError(t, svc.AttachRole(ctx, 7, int64(1)))
	require.NoError(t, svc.AttachRole(ctx, 7, int64(1)))

	roles, err := svc.RolesFor(ctx, 7)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, "admin", roles[0].Name)
	assert.Len(t, repo.userRoles[7], 1)
}

func TestAttachRoleUnknownTargetReturnsNotFound(t *testing.T) {
	svc, _ := newTestService(t, testConfig())

	err := svc.AttachRole(context.Background(), 7, int64(99))
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestAttachRolesMalformedTargetFailsBeforeAnyWrite(t *testing.T) {
	svc, repo := newTestService(t, testConfig())

	err := svc.AttachRoles(context.Background(), 7, []any{int64(1), "bogus"})
	require.ErrorIs(t, err, shared.ErrInvalidArgument)
	assert.Zero(t, repo.attachCalls, "a malformed target must fail before the first write")
}

func TestAttachRoleAcceptsEntityAndRecordTargets(t *testing.T) {
	svc, _ := newTestService(t, testConfig())
	ctx := context.Background()

	require.NoError(t, svc.AttachRole(ctx, 7, Role{ID: 1, Name: "admin"}))
	require.NoError(t, svc.AttachRole(ctx, 7, map[string]any{"id": float64(2)}))

	roles, err := svc.RolesFor(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, roles, 2)
}

func TestDetachRolesWithoutTargetsRemovesEverything(t *testing.T) {
	svc, repo := newTestService(t, testConfig())
	ctx := context.Background()

	require.NoError(t, svc.AttachRoles(ctx, 7, []any{int64(1), int64(2)}))
	require.NoError(t, svc.DetachRoles(ctx, 7, nil))

	roles, err := svc.RolesFor(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, roles)
	assert.Equal(t, 1, repo.detachAll, "detach-all goes through the store, not the cache")
}

func TestCanReflectsPermissionSyncAfterCachedRead(t *testing.T) {
	svc, _ := newTestService(t, testConfig())
	ctx := context.Background()

	require.NoError(t, svc.AttachRole(ctx, 7, int64(2)))
	require.NoError(t, svc.AttachPermission(ctx, 2, int64(10)))

	ok, err := svc.Can(ctx, 7, "posts.*", false)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, svc.SavePermissions(ctx, 2, nil))

	ok, err = svc.Can(ctx, 7, "posts.*", false)
	require.NoError(t, err)
	assert.False(t, ok, "an emptied grant set must be visible immediately")
}

func TestSavePermissionsReplacesGrantSet(t *testing.T) {
	svc, _ := newTestService(t, testConfig())
	ctx := context.Background()

	require.NoError(t, svc.AttachPermission(ctx, 2, int64(10)))
	require.NoError(t, svc.SavePermissions(ctx, 2, []int64{11}))

	perms, err := svc.PermissionsFor(ctx, 2)
	require.NoError(t, err)
	require.Len(t, perms, 1)
	assert.Equal(t, "posts.create", perms[0].Name)
}

func TestOnSaveFailedWriteKeepsCachedSnapshot(t *testing.T) {
	svc, repo := newTestService(t, testConfig())
	ctx := context.Background()

	_, err := svc.RolesFor(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, 1, repo.rolesForCalls)

	assert.False(t, svc.OnSave(ctx, "user", 7, false))

	_, err = svc.RolesFor(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.rolesForCalls, "a failed write must not invalidate")

	assert.True(t, svc.OnSave(ctx, "user", 7, true))

	_, err = svc.RolesFor(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, repo.rolesForCalls, "a successful write invalidates")
}

func TestOnDeleteRoleCascadesAssignmentsAndGrants(t *testing.T) {
	svc, repo := newTestService(t, testConfig())
	ctx := context.Background()

	require.NoError(t, svc.AttachRole(ctx, 7, int64(2)))
	require.NoError(t, svc.AttachPermission(ctx, 2, int64(10)))

	require.NoError(t, svc.OnDelete(ctx, "role", 2))

	assert.Empty(t, repo.userRoles[7])
	assert.Empty(t, repo.rolePerms[2])

	ok, err := svc.HasRole(ctx, 7, "editor", false)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOnDeleteSoftDeletableSkipsCascade(t *testing.T) {
	cfg := testConfig()
	cfg.SoftDeleteEntities = []string{"role"}
	svc, repo := newTestService(t, cfg)
	ctx := context.Background()

	require.NoError(t, svc.AttachRole(ctx, 7, int64(2)))
	require.NoError(t, svc.OnDelete(ctx, "role", 2))

	assert.Len(t, repo.userRoles[7], 1, "soft deleted roles keep their relations for restore")
}

func TestOnRestoreDropsStaleNegativeLookups(t *testing.T) {
	cfg := testConfig()
	cfg.SoftDeleteEntities = []string{"user"}
	svc, repo := newTestService(t, cfg)
	ctx := context.Background()

	ok, err := svc.HasRole(ctx, 7, "admin", false)
	require.NoError(t, err)
	require.False(t, ok)

	// The store regains the assignment out of band, as a restore does.
	repo.userRoles[7] = map[int64]struct{}{1: {}}

	assert.False(t, svc.OnRestore(ctx, "user", 7, false))
	ok, err = svc.HasRole(ctx, 7, "admin", false)
	require.NoError(t, err)
	assert.False(t, ok, "a failed restore must not invalidate")

	assert.True(t, svc.OnRestore(ctx, "user", 7, true))
	ok, err = svc.HasRole(ctx, 7, "admin", false)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDeleteRoleRemovesItFromEffectiveSets(t *testing.T) {
	svc, repo := newTestService(t, testConfig())
	ctx := context.Background()

	require.NoError(t, svc.AttachRole(ctx, 7, int64(2)))
	require.NoError(t, svc.AttachPermission(ctx, 2, int64(10)))

	ok, err := svc.HasRole(ctx, 7, "editor", false)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, svc.DeleteRole(ctx, 2))

	ok, err = svc.HasRole(ctx, 7, "editor", false)
	require.NoError(t, err)
	assert.False(t, ok, "a deleted role must vanish from the effective set immediately")
	assert.Empty(t, repo.userRoles[7])
	assert.Empty(t, repo.rolePerms[2])

	require.ErrorIs(t, svc.DeleteRole(ctx, 2), shared.ErrNotFound)
}

func TestDeleteUserCascadesAssignments(t *testing.T) {
	svc, repo := newTestService(t, testConfig())
	ctx := context.Background()

	require.NoError(t, svc.AttachRole(ctx, 7, int64(1)))
	require.NoError(t, svc.DeleteUser(ctx, 7))

	assert.Empty(t, repo.userRoles[7])
	require.ErrorIs(t, svc.DeleteUser(ctx, 7), shared.ErrNotFound)
}

func TestSoftDeletedRoleDropsOutUntilRestored(t *testing.T) {
	cfg := testConfig()
	cfg.SoftDeleteEntities = []string{"role"}
	svc, repo := newTestService(t, cfg)
	ctx := context.Background()

	require.NoError(t, svc.AttachRole(ctx, 7, int64(2)))

	ok, err := svc.HasRole(ctx, 7, "editor", false)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, svc.DeleteRole(ctx, 2))

	ok, err = svc.HasRole(ctx, 7, "editor", false)
	require.NoError(t, err)
	assert.False(t, ok, "soft deleted roles leave the effective set")
	assert.Len(t, repo.userRoles[7], 1, "the relation rows stay for restore")

	require.NoError(t, svc.RestoreRole(ctx, 2))

	ok, err = svc.HasRole(ctx, 7, "editor", false)
	require.NoError(t, err)
	assert.True(t, ok, "a restored role rejoins the effective set")
}

func TestRestoreWithoutPriorDeleteReturnsNotFound(t *testing.T) {
	cfg := testConfig()
	cfg.SoftDeleteEntities = []string{"user"}
	svc, repo := newTestService(t, cfg)
	ctx := context.Background()

	_, err := svc.RolesFor(ctx, 7)
	require.NoError(t, err)
	calls := repo.rolesForCalls

	require.ErrorIs(t, svc.RestoreUser(ctx, 7), shared.ErrNotFound)

	_, err = svc.RolesFor(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, calls, repo.rolesForCalls, "a failed restore must not invalidate")
}

func TestRoleRestoreFollowsSameConventionAsPrincipal(t *testing.T) {
	cfg := testConfig()
	cfg.SoftDeleteEntities = []string{"role"}
	svc, repo := newTestService(t, cfg)
	ctx := context.Background()

	require.NoError(t, svc.AttachRole(ctx, 7, int64(2)))
	require.NoError(t, svc.AttachPermission(ctx, 2, int64(10)))

	_, err := svc.PermissionsFor(ctx, 2)
	require.NoError(t, err)
	calls := repo.permsForCalls

	assert.True(t, svc.OnRestore(ctx, "role", 2, true))

	_, err = svc.PermissionsFor(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, calls+1, repo.permsForCalls, "role restore invalidates its grant snapshot")
}

type recordingWarmer struct {
	entities []string
	ids      []int64
}

func (w *recordingWarmer) EnqueueWarmup(ctx context.Context, entityType string, id int64) error {
	w.entities = append(w.entities, entityType)
	w.ids = append(w.ids, id)
	return nil
}

func TestMutationsEnqueueWarmup(t *testing.T) {
	cfg := testConfig()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := newMockRepo(cfg)
	repo.roles[1] = Role{ID: 1, Name: "admin"}

	warmer := &recordingWarmer{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(repo, cache.NewRedisStore(client, cfg.CacheTTL), cfg, logger, warmer)

	require.NoError(t, svc.AttachRole(context.Background(), 7, int64(1)))

	require.Len(t, warmer.entities, 1)
	assert.Equal(t, "user", warmer.entities[0])
	assert.Equal(t, int64(7), warmer.ids[0])
}
