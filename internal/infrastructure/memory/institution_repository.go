package memory

import (
	"context"
	"sort"
	"time"

	"finsync/internal/domain/institution"
)

// InstitutionRepository implements institution.Repository.
type InstitutionRepository struct {
	store *Store
}

var _ institution.Repository = (*InstitutionRepository)(nil)

func (r *InstitutionRepository) Create(ctx context.Context, params institution.CreateParams) (*institution.LinkedInstitution, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fault != nil {
		if err := s.fault("institutions.create"); err != nil {
			return nil, err
		}
	}
	if _, ok := s.institutions[params.ID]; ok {
		return nil, ErrDuplicate
	}
	for _, inst := range s.institutions {
		if inst.ItemID == params.ItemID {
			return nil, ErrDuplicate
		}
	}

	now := s.now().UTC()
	inst := &institution.LinkedInstitution{
		ID:              params.ID,
		ItemID:          params.ItemID,
		UserID:          params.UserID,
		InstitutionName: params.InstitutionName,
		CredentialRef:   params.CredentialRef,
		Status:          institution.StatusIdle,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.institutions[inst.ID] = inst
	s.order(inst.ID)
	return cloneInstitution(inst), nil
}

func (r *InstitutionRepository) GetByID(ctx context.Context, id string) (*institution.LinkedInstitution, error) {
	var out *institution.LinkedInstitution
	r.store.read(func() {
		if inst, ok := r.store.institutions[id]; ok {
			out = cloneInstitution(inst)
		}
	})
	if out == nil {
		return nil, institution.ErrInstitutionNotFound
	}
	return out, nil
}

func (r *InstitutionRepository) FindByItemID(ctx context.Context, itemID string) (*institution.LinkedInstitution, error) {
	var out *institution.LinkedInstitution
	r.store.read(func() {
		for _, inst := range r.store.institutions {
			if inst.ItemID == itemID {
				out = cloneInstitution(inst)
				return
			}
		}
	})
	return out, nil
}

func (r *InstitutionRepository) ListByUserID(ctx context.Context, userID string) ([]*institution.LinkedInstitution, error) {
	return r.list(func(inst *institution.LinkedInstitution) bool { return inst.UserID == userID }), nil
}

func (r *InstitutionRepository) ListLinked(ctx context.Context) ([]*institution.LinkedInstitution, error) {
	return r.list(func(inst *institution.LinkedInstitution) bool {
		return inst.CredentialRef != "" && inst.DisconnectedAt == nil
	}), nil
}

func (r *InstitutionRepository) list(keep func(*institution.LinkedInstitution) bool) []*institution.LinkedInstitution {
	var out []*institution.LinkedInstitution
	r.store.read(func() {
		for _, inst := range r.store.institutions {
			if keep(inst) {
				out = append(out, cloneInstitution(inst))
			}
		}
		sort.Slice(out, func(i, j int) bool {
			return r.store.seq[out[i].ID] < r.store.seq[out[j].ID]
		})
	})
	return out
}

func (r *InstitutionRepository) Reactivate(ctx context.Context, id, credentialRef string) (*institution.LinkedInstitution, error) {
	var out *institution.LinkedInstitution
	err := r.store.updateInstitution(id, "institutions.reactivate", func(inst *institution.LinkedInstitution) {
		inst.CredentialRef = credentialRef
		inst.DisconnectedAt = nil
		inst.Status = institution.StatusIdle
		inst.LastErrorKind = ""
		inst.LastError = ""
	})
	if err != nil {
		return nil, err
	}
	r.store.read(func() { out = cloneInstitution(r.store.institutions[id]) })
	return out, nil
}

func (r *InstitutionRepository) MarkDisconnected(ctx context.Context, id string, at time.Time) error {
	return r.store.updateInstitution(id, "institutions.disconnect", func(inst *institution.LinkedInstitution) {
		inst.CredentialRef = ""
		inst.DisconnectedAt = &at
		inst.Status = institution.StatusIdle
		inst.LastErrorKind = ""
		inst.LastError = ""
	})
}
