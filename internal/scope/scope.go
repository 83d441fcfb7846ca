// Package scope narrows queries to the documents a caller may see.
//
// Admins see everything. Supervisors see documents owned by the enumerators
// whose supervisor_id is theirs. Enumerators see only their own documents.
package scope

import (
	"context"
	"fmt"
	"slices"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/PaulBabatuyi/fieldsync/internal/data"
)

// Filter returns base narrowed by the ownership rule of role. base is never
// modified; the result is always non-nil.
func Filter(base bson.M, role data.Role, callerID string, subordinates []string, ownerField string) bson.M {
	switch role {
	case data.RoleAdmin:
		return And(base)
	case data.RoleSupervisor:
		if subordinates == nil {
			subordinates = []string{}
		}
		return And(base, bson.M{ownerField: bson.M{"$in": subordinates}})
	default:
		return And(base, bson.M{ownerField: callerID})
	}
}

// And combines clauses with $and, dropping empty ones. One clause is
// returned as a copy; none yields an empty filter.
func And(clauses ...bson.M) bson.M {
	var parts bson.A
	for _, c := range clauses {
		if len(c) > 0 {
			parts = append(parts, c)
		}
	}
	switch len(parts) {
	case 0:
		return bson.M{}
	case 1:
		out := bson.M{}
		for k, v := range parts[0].(bson.M) {
			out[k] = v
		}
		return out
	}
	return bson.M{"$and": parts}
}

// SubordinateLister looks up a supervisor's enumerators.
type SubordinateLister interface {
	SubordinateIDs(ctx context.Context, supervisorID string) ([]string, error)
}

// Resolver builds per-resource scoped filters. Subordinates are looked up
// on every call; membership changes apply to the next request.
type Resolver struct {
	users SubordinateLister
}

// NewResolver returns a Resolver backed by users.
func NewResolver(users SubordinateLister) *Resolver {
	return &Resolver{users: users}
}

// Subordinates returns the caller's enumerators, or nil for non-supervisors.
func (r *Resolver) Subordinates(ctx context.Context, caller *data.User) ([]string, error) {
	if caller.Role != data.RoleSupervisor {
		return nil, nil
	}
	ids, err := r.users.SubordinateIDs(ctx, caller.ID.Hex())
	if err != nil {
		return nil, fmt.Errorf("load subordinates: %w", err)
	}
	return ids, nil
}

// Owned scopes base on a field holding the owning enumerator's id.
func (r *Resolver) Owned(ctx context.Context, caller *data.User, base bson.M, ownerField string) (bson.M, error) {
	subs, err := r.Subordinates(ctx, caller)
	if err != nil {
		return nil, err
	}
	return Filter(base, caller.Role, caller.ID.Hex(), subs, ownerField), nil
}

// Respondents scopes respondent queries on enumerator_id.
func (r *Resolver) Respondents(ctx context.Context, caller *data.User, base bson.M) (bson.M, error) {
	return r.Owned(ctx, caller, base, "enumerator_id")
}

// Locations scopes location queries on user_id.
func (r *Resolver) Locations(ctx context.Context, caller *data.User, base bson.M) (bson.M, error) {
	return r.Owned(ctx, caller, base, "user_id")
}

// Surveys scopes survey queries on membership lists.
func Surveys(caller *data.User, base bson.M) bson.M {
	switch caller.Role {
	case data.RoleAdmin:
		return And(base)
	case data.RoleSupervisor:
		return And(base, bson.M{"supervisor_ids": caller.ID.Hex()})
	default:
		return And(base, bson.M{"enumerator_ids": caller.ID.Hex()})
	}
}

// Users scopes user listings: supervisors see their enumerators, an
// enumerator sees only itself.
func Users(caller *data.User, base bson.M) bson.M {
	switch caller.Role {
	case data.RoleAdmin:
		return And(base)
	case data.RoleSupervisor:
		return And(base, bson.M{"supervisor_id": caller.ID.Hex()})
	default:
		return And(base, bson.M{"_id": caller.ID})
	}
}

// Messages scopes message queries: enumerators see their own traffic,
// supervisors that of their enumerators and themselves.
func (r *Resolver) Messages(ctx context.Context, caller *data.User, base bson.M) (bson.M, error) {
	switch caller.Role {
	case data.RoleAdmin:
		return And(base), nil
	case data.RoleSupervisor:
		subs, err := r.Subordinates(ctx, caller)
		if err != nil {
			return nil, err
		}
		ids := append(slices.Clone(subs), caller.ID.Hex())
		return And(base, bson.M{"$or": bson.A{
			bson.M{"sender_id": bson.M{"$in": ids}},
			bson.M{"receiver_id": bson.M{"$in": ids}},
		}}), nil
	default:
		return And(base, Participant(caller.ID.Hex())), nil
	}
}

// Participant matches messages sent or received by userID.
func Participant(userID string) bson.M {
	return bson.M{"$or": bson.A{
		bson.M{"sender_id": userID},
		bson.M{"receiver_id": userID},
	}}
}

// CanAccessUser reports whether caller may act on userID's data: admins
// always, supervisors for their enumerators, anyone for themselves.
func (r *Resolver) CanAccessUser(ctx context.Context, caller *data.User, userID string) (bool, error) {
	if caller.Role == data.RoleAdmin || caller.ID.Hex() == userID {
		return true, nil
	}
	if caller.Role != data.RoleSupervisor {
		return false, nil
	}
	subs, err := r.Subordinates(ctx, caller)
	if err != nil {
		return false, err
	}
	return slices.Contains(subs, userID), nil
}
