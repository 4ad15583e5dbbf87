package models

// Auth is the resolved authorization of a request. It is either OwnerAuth or
// SuperuserAuth and is built once at the HTTP boundary.
type Auth interface {
	isAuth()
}

// OwnerAuth authenticates as the account itself.
type OwnerAuth struct {
	Name     string
	Password string
}

// SuperuserAuth acts on behalf of the referenced account using the shared
// superuser secret.
type SuperuserAuth struct {
	Secret  string
	Account AccountRef
}

func (OwnerAuth) isAuth()     {}
func (SuperuserAuth) isAuth() {}

type RefKind int

const (
	RefByName RefKind = iota
	RefByCode
)

// AccountRef identifies an account by name or by code.
type AccountRef struct {
	Kind  RefKind
	Value string
}

func ByName(name string) AccountRef { return AccountRef{Kind: RefByName, Value: name} }

func ByCode(code string) AccountRef { return AccountRef{Kind: RefByCode, Value: code} }
