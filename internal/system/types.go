package system

// Dept is an organisation unit.
type Dept struct {
	ID       int64  `json:"id,omitempty"`
	ParentID int64  `json:"parentId,omitempty"`
	Name     string `json:"deptName"`
	Leader   string `json:"leader,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Email    string `json:"email,omitempty"`
	Sort     int    `json:"sort,omitempty"`
	Status   int    `json:"status"`
}

// User is a console operator account.
type User struct {
	ID       int64   `json:"id,omitempty"`
	DeptID   int64   `json:"deptId,omitempty"`
	Username string  `json:"username"`
	Nickname string  `json:"nickname,omitempty"`
	Email    string  `json:"email,omitempty"`
	Phone    string  `json:"phone,omitempty"`
	Status   int     `json:"status"`
	RoleIDs  []int64 `json:"roleIds,omitempty"`
}

// Role groups permissions.
type Role struct {
	ID      int64   `json:"id,omitempty"`
	Name    string  `json:"roleName"`
	Key     string  `json:"roleKey"`
	Sort    int     `json:"sort,omitempty"`
	Status  int     `json:"status"`
	Remark  string  `json:"remark,omitempty"`
	MenuIDs []int64 `json:"menuIds,omitempty"`
}

// Configuration is one key/value system setting.
type Configuration struct {
	ID     int64  `json:"id,omitempty"`
	Name   string `json:"configName"`
	Key    string `json:"configKey"`
	Value  string `json:"configValue"`
	Remark string `json:"remark,omitempty"`
}

// Page is one page of a list query.
type Page[T any] struct {
	Records  []T   `json:"records"`
	Total    int64 `json:"total"`
	PageNum  int   `json:"pageNum"`
	PageSize int   `json:"pageSize"`
}

// Query selects a page. Zero values fall back to page 1 of 10.
type Query struct {
	PageNum  int
	PageSize int
	Keyword  string
}
