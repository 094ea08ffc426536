package ledger

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"
)

// Policy answers capability questions about callers.
type Policy interface {
	IsAdmin(ctx context.Context, addr common.Address) (bool, error)
	CanResolve(ctx context.Context, addr common.Address) (bool, error)
}

// Viewer runs read-only queries against the world state.
type Viewer interface {
	View(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// RegistryPolicy reads the admin from the ledger parameters and the
// resolver set from the resolvers table. The admin may always resolve.
type RegistryPolicy struct {
	viewer Viewer
}

// NewRegistryPolicy returns a policy that reads through viewer, so
// checks made inside a call see that call's uncommitted writes.
func NewRegistryPolicy(viewer Viewer) *RegistryPolicy {
	return &RegistryPolicy{viewer: viewer}
}

// IsAdmin reports whether addr is the admin recorded at deployment.
func (p *RegistryPolicy) IsAdmin(ctx context.Context, addr common.Address) (bool, error) {
	var admin bool
	err := p.viewer.View(ctx, func(tx *gorm.DB) error {
		params, err := loadParams(tx, false)
		if err != nil {
			return err
		}
		admin = params.Admin == addr
		return nil
	})
	return admin, err
}

// CanResolve reports whether addr may resolve disputes: the admin or any
// address in the resolver set.
func (p *RegistryPolicy) CanResolve(ctx context.Context, addr common.Address) (bool, error) {
	if admin, err := p.IsAdmin(ctx, addr); err != nil || admin {
		return admin, err
	}

	var allowed bool
	err := p.viewer.View(ctx, func(tx *gorm.DB) error {
		var err error
		allowed, err = isResolver(tx, addr)
		return err
	})
	return allowed, err
}
