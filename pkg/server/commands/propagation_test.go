package commands

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/inkwell-hq/inkwell/pkg/access"
)

func TestPropagateClosure(t *testing.T) {
	f := newFixture(t)

	col := f.collection("col")
	docA := f.document("a", "col", "")
	docB := f.document("b", "col", "a")
	docC := f.document("c", "col", "b")

	alice := access.NewUserPrincipal("alice")
	resp := f.mustGrant(alice, col, access.PermissionReadWrite)
	require.Equal(t, 3, resp.Propagation.Created)

	root := resp.Membership
	require.True(t, root.IsRoot())

	for _, descendant := range []access.Resource{docA, docB, docC} {
		m := f.requireMembership(alice, descendant)
		require.Equal(t, root.ID, m.SourceID)
		require.Equal(t, access.PermissionReadWrite, m.Permission)
		require.Equal(t, "col", m.CollectionID)
	}
}

func TestPropagateClosureForGroups(t *testing.T) {
	f := newFixture(t)

	f.collection("col")
	top := f.document("top", "col", "")
	nested := f.document("nested", "col", "top")

	editors := access.NewGroupPrincipal("editors")
	resp := f.mustGrant(editors, top, access.PermissionRead)
	require.Equal(t, 1, resp.Propagation.Created)

	m := f.requireMembership(editors, nested)
	require.Equal(t, resp.Membership.ID, m.SourceID)
	require.Equal(t, access.PermissionRead, m.Permission)
}

func TestPropagateOverridePriority(t *testing.T) {
	f := newFixture(t)

	col := f.collection("col")
	docA := f.document("a", "col", "")
	docB := f.document("b", "col", "a")

	alice := access.NewUserPrincipal("alice")

	// Alice's own grant on a fans out to b.
	override := f.mustGrant(alice, docA, access.PermissionAdmin)

	// A collection-wide grant must not cross the override boundary.
	colGrant := f.mustGrant(alice, col, access.PermissionRead)
	require.Equal(t, 0, colGrant.Propagation.Created)
	require.Equal(t, 0, colGrant.Propagation.Updated)

	onA := f.requireMembership(alice, docA)
	require.True(t, onA.IsRoot())
	require.Equal(t, access.PermissionAdmin, onA.Permission)

	onB := f.requireMembership(alice, docB)
	require.Equal(t, override.Membership.ID, onB.SourceID)
	require.Equal(t, access.PermissionAdmin, onB.Permission)
}

func TestPropagateIdempotence(t *testing.T) {
	f := newFixture(t)

	col := f.collection("col")
	f.document("a", "col", "")
	f.document("b", "col", "a")

	alice := access.NewUserPrincipal("alice")

	first := f.mustGrant(alice, col, access.PermissionReadWrite)
	require.Equal(t, 2, first.Propagation.Created)

	second := f.mustGrant(alice, col, access.PermissionReadWrite)
	require.Equal(t, first.Membership.ID, second.Membership.ID)
	require.Equal(t, 0, second.Propagation.Created)
	require.Equal(t, 0, second.Propagation.Updated)
	require.Equal(t, 0, second.Propagation.Deleted)
}

func TestPermissionChangeRewritesFanoutOnly(t *testing.T) {
	f := newFixture(t)

	col := f.collection("col")
	doc1 := f.document("doc1", "col", "")
	doc2 := f.document("doc2", "col", "")
	doc3 := f.document("doc3", "col", "")

	alice := access.NewUserPrincipal("alice")
	f.mustGrant(alice, col, access.PermissionReadWrite)

	// An administrator revokes the inherited grant on doc3; that decision
	// is terminal.
	f.mustRevoke(alice, doc3)
	require.Nil(t, f.membershipOrNil(alice, doc3))

	// Raising the root grant's level touches only the rows it fanned out.
	changed := f.mustGrant(alice, col, access.PermissionAdmin)
	require.Equal(t, 0, changed.Propagation.Created)
	require.Equal(t, 2, changed.Propagation.Updated)

	require.Equal(t, access.PermissionAdmin, f.requireMembership(alice, doc1).Permission)
	require.Equal(t, access.PermissionAdmin, f.requireMembership(alice, doc2).Permission)
	require.Nil(t, f.membershipOrNil(alice, doc3), "a revoked inherited grant must not be resurrected by a permission change")
}

func TestGrantOverInheritedRowPromotesToRoot(t *testing.T) {
	f := newFixture(t)

	col := f.collection("col")
	docA := f.document("a", "col", "")
	docB := f.document("b", "col", "a")

	alice := access.NewUserPrincipal("alice")
	f.mustGrant(alice, col, access.PermissionRead)

	inherited := f.requireMembership(alice, docA)
	require.False(t, inherited.IsRoot())

	promoted := f.mustGrant(alice, docA, access.PermissionAdmin)
	require.True(t, promoted.Membership.IsRoot())
	require.Equal(t, inherited.ID, promoted.Membership.ID)

	// The promoted grant now governs the subtree below it.
	onB := f.requireMembership(alice, docB)
	require.Equal(t, promoted.Membership.ID, onB.SourceID)
	require.Equal(t, access.PermissionAdmin, onB.Permission)

	require.Equal(t, 1, f.membershipCount(alice, docA))
	require.Equal(t, 1, f.membershipCount(alice, docB))
}
