package system

// Collection names under the system base URL.
const (
	ResourceDept          = "dept"
	ResourceUser          = "user"
	ResourceRole          = "role"
	ResourceConfiguration = "configuration"
)

// Client bundles the system collections.
type Client struct {
	Depts          *Resource[Dept]
	Users          *Resource[User]
	Roles          *Resource[Role]
	Configurations *Resource[Configuration]
}

// NewClient binds every collection to baseURL.
func NewClient(gateway Sender, baseURL string) *Client {
	return &Client{
		Depts:          NewResource[Dept](gateway, baseURL, ResourceDept),
		Users:          NewResource[User](gateway, baseURL, ResourceUser),
		Roles:          NewResource[Role](gateway, baseURL, ResourceRole),
		Configurations: NewResource[Configuration](gateway, baseURL, ResourceConfiguration),
	}
}
