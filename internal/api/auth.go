package api

import (
	"net/http"

	"github.com/freieslabor/prepaid-mate/internal/models"
)

const (
	fieldName              = "name"
	fieldPassword          = "password"
	fieldSuperuserPassword = "superuserpassword"
	fieldAccountCode       = "account_code"
)

// formValue returns a POST form field and whether it was sent at all.
func formValue(r *http.Request, key string) (string, bool) {
	values, ok := r.PostForm[key]
	if !ok || len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// optionalField returns nil for an absent field so that an empty but present
// field can be told apart from a missing one.
func optionalField(r *http.Request, key string) *string {
	v, ok := formValue(r, key)
	if !ok {
		return nil
	}
	return &v
}

// requireFields returns the values of keys, or false if any is missing.
func requireFields(r *http.Request, keys ...string) ([]string, bool) {
	values := make([]string, 0, len(keys))
	for _, key := range keys {
		v, ok := formValue(r, key)
		if !ok {
			return nil, false
		}
		values = append(values, v)
	}
	return values, true
}

// resolveAuth picks superuser mode when superuserpassword is present and
// owner mode otherwise. In superuser mode the target account is taken from
// name, falling back to account_code.
func resolveAuth(r *http.Request) (models.Auth, error) {
	if secret, ok := formValue(r, fieldSuperuserPassword); ok {
		if name, ok := formValue(r, fieldName); ok {
			return models.SuperuserAuth{Secret: secret, Account: models.ByName(name)}, nil
		}
		if code, ok := formValue(r, fieldAccountCode); ok {
			return models.SuperuserAuth{Secret: secret, Account: models.ByCode(code)}, nil
		}
		return nil, models.ErrIncompleteRequest
	}

	values, ok := requireFields(r, fieldName, fieldPassword)
	if !ok {
		return nil, models.ErrIncompleteRequest
	}
	return models.OwnerAuth{Name: values[0], Password: values[1]}, nil
}
