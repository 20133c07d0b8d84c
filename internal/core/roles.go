package core

// RoleCode is the two digit category of work performed on a project.
type RoleCode string

const (
	RoleBusinessDevelopment RoleCode = "00"
	RoleProposal            RoleCode = "05"
	RoleOperations          RoleCode = "10"
	RoleConsulting          RoleCode = "20"
	RoleOfficeHours         RoleCode = "21"
	RoleGroupTraining       RoleCode = "30"
	RoleWorkshop            RoleCode = "31"
	RoleSettlement          RoleCode = "40"
)

// Role pairs a code with its display name.
type Role struct {
	Code RoleCode
	Name string
}

var roles = []Role{
	{RoleBusinessDevelopment, "사업개발"},
	{RoleProposal, "제안"},
	{RoleOperations, "사업운영"},
	{RoleConsulting, "컨설팅"},
	{RoleOfficeHours, "오피스아워"},
	{RoleGroupTraining, "집체교육"},
	{RoleWorkshop, "워크샵"},
	{RoleSettlement, "정산"},
}

var roleNames = func() map[RoleCode]string {
	m := make(map[RoleCode]string, len(roles))
	for _, r := range roles {
		m[r.Code] = r.Name
	}
	return m
}()

// Roles returns every role in display order.
func Roles() []Role {
	return append([]Role(nil), roles...)
}

// LookupRole returns the role for code and whether it exists.
func LookupRole(code RoleCode) (Role, bool) {
	name, ok := roleNames[code]
	if !ok {
		return Role{}, false
	}
	return Role{Code: code, Name: name}, true
}

// Name returns the display name, or "" for an unknown code.
func (c RoleCode) Name() string {
	return roleNames[c]
}
