package access

import "fmt"

// Permission is the ordered grant level: Read < ReadWrite < Admin.
type Permission string

const (
	PermissionRead      Permission = "read"
	PermissionReadWrite Permission = "read_write"
	PermissionAdmin     Permission = "admin"
)

// DefaultApprovedPermission is granted when an access request is approved
// without choosing a level.
const DefaultApprovedPermission = PermissionReadWrite

var permissionRank = map[Permission]int{
	PermissionRead:      1,
	PermissionReadWrite: 2,
	PermissionAdmin:     3,
}

func (p Permission) Valid() bool {
	_, ok := permissionRank[p]
	return ok
}

// AtLeast reports whether p grants everything other does.
func (p Permission) AtLeast(other Permission) bool {
	return permissionRank[p] >= permissionRank[other]
}

func ParsePermission(s string) (Permission, error) {
	p := Permission(s)
	if !p.Valid() {
		return "", fmt.Errorf("invalid permission %q", s)
	}
	return p, nil
}
