// Package identity defines the identity contract blueauth works with and the
// gateway through which identities are looked up and created.
//
// Identities are owned by the application. blueauth only requires a stable ID
// and, for the email flow, an Email. Everything else travels in Traits and is
// passed through untouched.
//
// # Gateway
//
// Applications plug their user store in by implementing Gateway, or by wrapping
// two functions with Funcs:
//
//	gw := identity.Funcs{
//	    Find: func(ctx context.Context, q *identity.Identity) (*identity.Identity, error) {
//	        u, err := users.ByEmailOrID(ctx, q.Email, q.ID)
//	        if errors.Is(err, sql.ErrNoRows) {
//	            return nil, identity.ErrNotFound
//	        }
//	        return toIdentity(u), err
//	    },
//	    Insert: createUser,
//	}
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
)

// ErrNotFound is returned by a Finder when no identity matches the query.
var ErrNotFound = errors.New("identity: not found")

// Traits holds application-specific identity attributes.
type Traits map[string]any

// Identity is an application-defined user record.
type Identity struct {
	ID     string
	Email  string
	Traits Traits
}

// MarshalJSON flattens Traits next to id and email.
func (i Identity) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(i.Traits)+2)
	for k, v := range i.Traits {
		out[k] = v
	}
	if i.ID != "" {
		out["id"] = i.ID
	}
	if i.Email != "" {
		out["email"] = i.Email
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads id and email and keeps every other field as a trait.
func (i *Identity) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*i = Identity{}
	if v, ok := raw["id"]; ok {
		id, err := stringify(v)
		if err != nil {
			return err
		}
		i.ID = id
		delete(raw, "id")
	}
	if v, ok := raw["email"]; ok {
		email, ok := v.(string)
		if !ok {
			return errors.New("identity: email must be a string")
		}
		i.Email = email
		delete(raw, "email")
	}
	if len(raw) > 0 {
		i.Traits = Traits(raw)
	}
	return nil
}

func stringify(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case nil:
		return "", nil
	default:
		return "", errors.New("identity: id must be a string or number")
	}
}

// Clone returns a copy whose Traits map is not shared with i.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	c := *i
	if i.Traits != nil {
		c.Traits = make(Traits, len(i.Traits))
		for k, v := range i.Traits {
			c.Traits[k] = v
		}
	}
	return &c
}

// Finder looks up a single identity matching the query's ID or Email.
type Finder interface {
	FindUnique(ctx context.Context, query *Identity) (*Identity, error)
}

// Creator persists a new identity and returns the record of truth.
type Creator interface {
	Create(ctx context.Context, payload *Identity) (*Identity, error)
}

// Gateway combines lookup and creation.
type Gateway interface {
	Finder
	Creator
}

// FindFunc is the function form of Finder.
type FindFunc func(ctx context.Context, query *Identity) (*Identity, error)

// CreateFunc is the function form of Creator.
type CreateFunc func(ctx context.Context, payload *Identity) (*Identity, error)

// Funcs adapts a pair of functions to Gateway.
type Funcs struct {
	Find   FindFunc
	Insert CreateFunc
}

func (f Funcs) FindUnique(ctx context.Context, query *Identity) (*Identity, error) {
	if f.Find == nil {
		return nil, errors.New("identity: find function not configured")
	}
	return f.Find(ctx, query)
}

func (f Funcs) Create(ctx context.Context, payload *Identity) (*Identity, error) {
	if f.Insert == nil {
		return nil, errors.New("identity: create function not configured")
	}
	return f.Insert(ctx, payload)
}

// Lookup calls f and folds ErrNotFound, or a nil identity, into (nil, nil).
func Lookup(ctx context.Context, f Finder, query *Identity) (*Identity, error) {
	ident, err := f.FindUnique(ctx, query)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ident, nil
}
