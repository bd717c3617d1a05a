package commands

import (
	"context"
	"errors"
	"sort"

	"github.com/inkwell-hq/inkwell/pkg/access"
	"github.com/inkwell-hq/inkwell/pkg/logger"
	serverErrors "github.com/inkwell-hq/inkwell/pkg/server/errors"
	"github.com/inkwell-hq/inkwell/pkg/storage"
)

// ListEffectiveAccessQuery resolves the full access list of a resource: who
// holds what level, whether it is inherited, and from which resource.
type ListEffectiveAccessQuery struct {
	datastore storage.Datastore
	logger    logger.Logger
}

func NewListEffectiveAccessQuery(datastore storage.Datastore, l logger.Logger) *ListEffectiveAccessQuery {
	return &ListEffectiveAccessQuery{datastore: datastore, logger: l}
}

type ListEffectiveAccessRequest struct {
	Resource access.Resource
}

type ListEffectiveAccessResponse struct {
	Entries []access.EffectiveAccess
}

func (q *ListEffectiveAccessQuery) Execute(ctx context.Context, req *ListEffectiveAccessRequest) (*ListEffectiveAccessResponse, error) {
	if !req.Resource.Kind.Valid() || req.Resource.ID == "" {
		return nil, serverErrors.Validation("invalid resource %q", req.Resource)
	}

	if err := resolveResource(ctx, q.datastore, req.Resource); err != nil {
		return nil, commandError(err)
	}

	entries := make([]access.EffectiveAccess, 0)
	for _, kind := range access.PrincipalKinds {
		memberships, err := q.datastore.ListMemberships(ctx, kind, req.Resource)
		if err != nil {
			return nil, commandError(err)
		}

		for _, membership := range memberships {
			entry := access.EffectiveAccess{
				Principal:  membership.Principal,
				Permission: membership.Permission,
			}
			if !membership.IsRoot() {
				source, err := q.datastore.GetMembershipByID(ctx, kind, membership.SourceID)
				if err != nil && !errors.Is(err, storage.ErrNotFound) {
					return nil, commandError(err)
				}
				entry.IsInherited = true
				if source != nil {
					entry.SourceResourceID = source.Resource.ID
				}
			}
			entries = append(entries, entry)
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Principal.Kind != entries[j].Principal.Kind {
			return entries[i].Principal.Kind < entries[j].Principal.Kind
		}
		return entries[i].Principal.ID < entries[j].Principal.ID
	})

	return &ListEffectiveAccessResponse{Entries: entries}, nil
}
