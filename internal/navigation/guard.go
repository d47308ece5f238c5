package navigation

// Paths the guard redirects to.
const (
	LoginPath = "/login"
	HomePath  = "/"
)

// GuardInput is everything the guard needs to decide one navigation.
type GuardInput struct {
	TargetRequiresAuth bool
	IsLoginPath        bool
	Authenticated      bool
}

// Decision is the guard's verdict. Redirect is empty when navigation proceeds.
type Decision struct {
	Redirect string
}

// Proceed reports whether navigation continues to the requested target.
func (d Decision) Proceed() bool { return d.Redirect == "" }

// Guard is the navigation rule: protected views need a token, and an
// authenticated operator never sees the login view.
func Guard(in GuardInput) Decision {
	switch {
	case in.TargetRequiresAuth && !in.Authenticated:
		return Decision{Redirect: LoginPath}
	case in.IsLoginPath && in.Authenticated:
		return Decision{Redirect: HomePath}
	}
	return Decision{}
}
