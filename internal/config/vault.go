package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/manthysbr/socialpilot/internal/core/domain"
	"github.com/manthysbr/socialpilot/internal/core/ports"
)

// OwnerRepository is the owner table the vault sits on.
type OwnerRepository interface {
	SaveOwner(ctx context.Context, owner domain.Owner) error
	GetOwnerRecord(ctx context.Context, id domain.OwnerID) (domain.Owner, error)
}

// ErrInvalidOwner wraps every rejected owner update.
var ErrInvalidOwner = errors.New("invalid owner")

// OwnerVault stores owners with their access tokens sealed by the SecretKey
// and hands them back decrypted to the job runner.
type OwnerVault struct {
	repo   OwnerRepository
	secret *SecretKey
	now    func() time.Time
}

var _ ports.OwnerDirectory = (*OwnerVault)(nil)

func NewOwnerVault(repo OwnerRepository, secret *SecretKey) *OwnerVault {
	return &OwnerVault{repo: repo, secret: secret, now: time.Now}
}

// GetOwner returns the owner with a plaintext token.
func (v *OwnerVault) GetOwner(ctx context.Context, id domain.OwnerID) (domain.Owner, error) {
	owner, err := v.repo.GetOwnerRecord(ctx, id)
	if err != nil {
		return domain.Owner{}, err
	}
	token, err := v.secret.Decrypt(owner.AccessToken)
	if err != nil {
		return domain.Owner{}, fmt.Errorf("failed to decrypt token of owner %s: %w", id, err)
	}
	owner.AccessToken = token
	return owner, nil
}

// PutOwner creates or updates an owner. An empty or masked token keeps the
// stored one, so a round-tripped masked record never wipes the credential.
func (v *OwnerVault) PutOwner(ctx context.Context, owner domain.Owner) (domain.Owner, error) {
	if owner.ID == "" {
		return domain.Owner{}, fmt.Errorf("%w: id is required", ErrInvalidOwner)
	}
	if owner.Profile == "" {
		owner.Profile = domain.SpeedNormal
	}
	if !owner.Profile.Valid() {
		return domain.Owner{}, fmt.Errorf("%w: unknown speed profile %q", ErrInvalidOwner, owner.Profile)
	}
	if owner.Timezone != "" {
		if _, err := time.LoadLocation(owner.Timezone); err != nil {
			return domain.Owner{}, fmt.Errorf("%w: timezone %q: %v", ErrInvalidOwner, owner.Timezone, err)
		}
	}
	for action, limit := range owner.LimitOverrides {
		if !action.Known() || limit < 0 {
			return domain.Owner{}, fmt.Errorf("%w: bad limit override %s=%d", ErrInvalidOwner, action, limit)
		}
	}

	now := v.now().UTC()
	existing, err := v.repo.GetOwnerRecord(ctx, owner.ID)
	switch {
	case err == nil:
		owner.CreatedAt = existing.CreatedAt
		if owner.AccessToken == "" || isMasked(owner.AccessToken) {
			owner.AccessToken = existing.AccessToken
		} else if owner.AccessToken, err = v.secret.Encrypt(owner.AccessToken); err != nil {
			return domain.Owner{}, fmt.Errorf("encrypt token: %w", err)
		}
	case errors.Is(err, domain.ErrOwnerNotFound):
		owner.CreatedAt = now
		if isMasked(owner.AccessToken) {
			owner.AccessToken = ""
		}
		if owner.AccessToken, err = v.secret.Encrypt(owner.AccessToken); err != nil {
			return domain.Owner{}, fmt.Errorf("encrypt token: %w", err)
		}
	default:
		return domain.Owner{}, err
	}
	owner.UpdatedAt = now

	if err := v.repo.SaveOwner(ctx, owner); err != nil {
		return domain.Owner{}, fmt.Errorf("failed to save owner: %w", err)
	}
	saved, err := v.GetOwner(ctx, owner.ID)
	if err != nil {
		return domain.Owner{}, err
	}
	return Masked(saved), nil
}

// Masked returns a decrypted owner safe for API responses.
func Masked(owner domain.Owner) domain.Owner {
	owner.AccessToken = MaskSecret(owner.AccessToken)
	return owner
}

func isMasked(s string) bool {
	return len(s) >= 4 && s[:4] == "****"
}
