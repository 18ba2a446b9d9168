package domain

// Role is the principal's role within the school system. Exactly one per user.
type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleAdmin      Role = "admin"
	RoleTeacher    Role = "teacher"
	RoleStudent    Role = "student"
	RoleAccountant Role = "accountant"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleTeacher, RoleStudent, RoleAccountant:
		return true
	}
	return false
}

// Permission is one capability consulted by the permission guards. Typed
// constants and set membership replace string switches so a typo fails to
// compile instead of silently matching nothing.
type Permission string

const (
	PermManageUsers       Permission = "users:manage"
	PermManageStudents    Permission = "students:manage"
	PermViewStudents      Permission = "students:view"
	PermManageTeachers    Permission = "teachers:manage"
	PermManageClasses     Permission = "classes:manage"
	PermManageGrades      Permission = "grades:manage"
	PermViewGrades        Permission = "grades:view"
	PermManageFees        Permission = "fees:manage"
	PermRecordPayments    Permission = "payments:record"
	PermManageAttendance  Permission = "attendance:manage"
	PermManageExams       Permission = "exams:manage"
	PermPostAnnouncements Permission = "announcements:post"
	PermManagePolicies    Permission = "policies:manage"
	PermManageSessions    Permission = "sessions:manage"
)

type permissionSet map[Permission]struct{}

func permSet(perms ...Permission) permissionSet {
	set := make(permissionSet, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// rolePermissions maps each role to its capability set. super_admin is not
// listed because it bypasses permission checks entirely.
var rolePermissions = map[Role]permissionSet{
	RoleAdmin: permSet(
		PermManageUsers, PermManageStudents, PermViewStudents, PermManageTeachers,
		PermManageClasses, PermManageGrades, PermViewGrades, PermManageFees,
		PermRecordPayments, PermManageAttendance, PermManageExams,
		PermPostAnnouncements, PermManagePolicies, PermManageSessions,
	),
	RoleTeacher: permSet(
		PermViewStudents, PermManageGrades, PermViewGrades,
		PermManageAttendance, PermManageExams, PermPostAnnouncements,
	),
	RoleStudent: permSet(
		PermViewGrades,
	),
	RoleAccountant: permSet(
		PermViewStudents, PermManageFees, PermRecordPayments,
	),
}

// HasPermission reports whether the role grants the capability. super_admin
// holds every permission.
func (r Role) HasPermission(p Permission) bool {
	if r == RoleSuperAdmin {
		return true
	}
	_, ok := rolePermissions[r][p]
	return ok
}

// HasAnyPermission reports whether the role grants at least one of the
// capabilities.
func (r Role) HasAnyPermission(perms ...Permission) bool {
	for _, p := range perms {
		if r.HasPermission(p) {
			return true
		}
	}
	return false
}
