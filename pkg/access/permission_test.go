package access

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPermissionOrdering(t *testing.T) {
	require.True(t, PermissionAdmin.AtLeast(PermissionReadWrite))
	require.True(t, PermissionAdmin.AtLeast(PermissionAdmin))
	require.True(t, PermissionReadWrite.AtLeast(PermissionRead))
	require.False(t, PermissionRead.AtLeast(PermissionReadWrite))
	require.False(t, PermissionReadWrite.AtLeast(PermissionAdmin))
}

func TestParsePermission(t *testing.T) {
	p, err := ParsePermission("read_write")
	require.NoError(t, err)
	require.Equal(t, PermissionReadWrite, p)

	_, err = ParsePermission("owner")
	require.Error(t, err)

	_, err = ParsePermission("")
	require.Error(t, err)
}
