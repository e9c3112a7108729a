package sqlstore

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"icauth/internal/domain"
	"icauth/internal/icauth"
)

// CachedUsers keeps recently seen users in an LRU in front of another
// store. Entries are dropped when their last login changes.
type CachedUsers struct {
	next        icauth.UserStore
	byID        *lru.Cache[string, domain.User]
	byPrincipal *lru.Cache[domain.Principal, string]
}

var _ icauth.UserStore = (*CachedUsers)(nil)

// NewCachedUsers wraps next with a cache of at most size users.
func NewCachedUsers(next icauth.UserStore, size int) (*CachedUsers, error) {
	byID, err := lru.New[string, domain.User](size)
	if err != nil {
		return nil, err
	}
	byPrincipal, err := lru.New[domain.Principal, string](size)
	if err != nil {
		return nil, err
	}
	return &CachedUsers{next: next, byID: byID, byPrincipal: byPrincipal}, nil
}

func (c *CachedUsers) FindOrCreate(ctx context.Context, principal domain.Principal) (domain.User, bool, error) {
	if u, ok := c.cachedPrincipal(principal); ok {
		return u, false, nil
	}
	u, created, err := c.next.FindOrCreate(ctx, principal)
	if err != nil {
		return domain.User{}, false, err
	}
	c.add(u)
	return u, created, nil
}

func (c *CachedUsers) FindByPrincipal(ctx context.Context, principal domain.Principal) (domain.User, error) {
	if u, ok := c.cachedPrincipal(principal); ok {
		return u, nil
	}
	u, err := c.next.FindByPrincipal(ctx, principal)
	if err != nil {
		return domain.User{}, err
	}
	c.add(u)
	return u, nil
}

func (c *CachedUsers) FindByID(ctx context.Context, id string) (domain.User, error) {
	if u, ok := c.byID.Get(id); ok {
		return u, nil
	}
	u, err := c.next.FindByID(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	c.add(u)
	return u, nil
}

func (c *CachedUsers) TouchLogin(ctx context.Context, id string, at time.Time) error {
	if u, ok := c.byID.Peek(id); ok {
		c.byPrincipal.Remove(u.Principal)
	}
	c.byID.Remove(id)
	return c.next.TouchLogin(ctx, id, at)
}

// Len returns the number of cached users (for testing).
func (c *CachedUsers) Len() int {
	return c.byID.Len()
}

func (c *CachedUsers) cachedPrincipal(p domain.Principal) (domain.User, bool) {
	id, ok := c.byPrincipal.Get(p)
	if !ok {
		return domain.User{}, false
	}
	u, ok := c.byID.Get(id)
	if !ok {
		c.byPrincipal.Remove(p)
	}
	return u, ok
}

func (c *CachedUsers) add(u domain.User) {
	c.byID.Add(u.ID, u)
	c.byPrincipal.Add(u.Principal, u.ID)
}
