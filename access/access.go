// Package access decides who may use the bot and where.
package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/songzhibin97/genai-bot/storage"
	"github.com/songzhibin97/genai-bot/types"
)

var (
	// ErrPermissionDenied is returned when a non-admin calls an admin operation.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrGlobalAdmin is returned when removing the configured global admin.
	ErrGlobalAdmin = errors.New("cannot remove the global admin")
	// ErrBanAdmin is returned when banning an admin.
	ErrBanAdmin = errors.New("cannot ban an admin")
)

// Checker answers permission questions from the access lists.
type Checker struct {
	store       storage.AccessStore
	globalAdmin string
}

// NewChecker returns a Checker. globalAdmin is always an admin; it may be empty.
func NewChecker(store storage.AccessStore, globalAdmin string) *Checker {
	return &Checker{store: store, globalAdmin: globalAdmin}
}

// IsAdmin reports whether userID is the global admin or on the admin list.
func (c *Checker) IsAdmin(ctx context.Context, userID string) (bool, error) {
	if c.globalAdmin != "" && userID == c.globalAdmin {
		return true, nil
	}
	return c.store.IsMember(ctx, types.ListAdmins, userID)
}

// IsBanned reports whether userID is on the ban list.
func (c *Checker) IsBanned(ctx context.Context, userID string) (bool, error) {
	return c.store.IsMember(ctx, types.ListBans, userID)
}

// IsAllowedChannel reports whether the bot answers in channelID. An empty
// allow-list permits every channel.
func (c *Checker) IsAllowedChannel(ctx context.Context, channelID string) (bool, error) {
	n, err := c.store.CountMembers(ctx, types.ListChannels)
	if err != nil {
		return false, err
	}
	if n == 0 {
		return true, nil
	}
	return c.store.IsMember(ctx, types.ListChannels, channelID)
}

// AddAdmin puts userID on the admin list. caller must be an admin.
func (c *Checker) AddAdmin(ctx context.Context, caller, userID string) error {
	if err := c.requireAdmin(ctx, caller); err != nil {
		return err
	}
	return c.store.AddMember(ctx, types.ListAdmins, userID)
}

// RemoveAdmin takes userID off the admin list. The global admin cannot be removed.
func (c *Checker) RemoveAdmin(ctx context.Context, caller, userID string) error {
	if err := c.requireAdmin(ctx, caller); err != nil {
		return err
	}
	if c.globalAdmin != "" && userID == c.globalAdmin {
		return ErrGlobalAdmin
	}
	return c.store.RemoveMember(ctx, types.ListAdmins, userID)
}

// Ban puts userID on the ban list. Admins cannot be banned.
func (c *Checker) Ban(ctx context.Context, caller, userID string) error {
	if err := c.requireAdmin(ctx, caller); err != nil {
		return err
	}
	admin, err := c.IsAdmin(ctx, userID)
	if err != nil {
		return err
	}
	if admin {
		return ErrBanAdmin
	}
	return c.store.AddMember(ctx, types.ListBans, userID)
}

// Unban takes userID off the ban list.
func (c *Checker) Unban(ctx context.Context, caller, userID string) error {
	if err := c.requireAdmin(ctx, caller); err != nil {
		return err
	}
	return c.store.RemoveMember(ctx, types.ListBans, userID)
}

// AllowChannel adds channelID to the channel allow-list.
func (c *Checker) AllowChannel(ctx context.Context, caller, channelID string) error {
	if err := c.requireAdmin(ctx, caller); err != nil {
		return err
	}
	return c.store.AddMember(ctx, types.ListChannels, channelID)
}

// DisallowChannel removes channelID from the channel allow-list.
func (c *Checker) DisallowChannel(ctx context.Context, caller, channelID string) error {
	if err := c.requireAdmin(ctx, caller); err != nil {
		return err
	}
	return c.store.RemoveMember(ctx, types.ListChannels, channelID)
}

// requireAdmin fails with ErrPermissionDenied unless caller is an admin.
func (c *Checker) requireAdmin(ctx context.Context, caller string) error {
	ok, err := c.IsAdmin(ctx, caller)
	if err != nil {
		return fmt.Errorf("check admin %s: %w", caller, err)
	}
	if !ok {
		return ErrPermissionDenied
	}
	return nil
}
