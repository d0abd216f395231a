package lifecycle

import (
	"context"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"simplemounts.ai/internal/config"
	"simplemounts.ai/internal/mount"
	"simplemounts.ai/internal/mount/attr"
	"simplemounts.ai/internal/mount/kinds"
	"simplemounts.ai/internal/mounterr"
)

// ValidateName checks a display name against the configured bounds and blacklist and
// returns its normalized form. The empty name is valid and means unnamed.
func ValidateName(nc config.NamesConfig, name string) (string, error) {
	const op = "lifecycle.validate_name"
	name = norm.NFC.String(strings.TrimSpace(name))
	if name == "" {
		return "", nil
	}
	if strings.HasPrefix(name, "#") {
		return "", mounterr.Validation(op, mounterr.CodeNameInvalid, "names cannot start with '#'")
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return "", mounterr.Validation(op, mounterr.CodeNameInvalid, "name contains control characters")
		}
	}
	n := mount.NameLength(name)
	if n < nc.MinLength {
		return "", mounterr.Validation(op, mounterr.CodeNameTooShort, "name must be at least %d characters", nc.MinLength)
	}
	if nc.MaxLength > 0 && n > nc.MaxLength {
		return "", mounterr.Validation(op, mounterr.CodeNameTooLong, "name must be at most %d characters", nc.MaxLength)
	}
	folded := mount.FoldName(name)
	for _, word := range nc.Blacklist {
		w := mount.FoldName(word)
		if w != "" && strings.Contains(folded, w) {
			return "", mounterr.Validation(op, mounterr.CodeNameBlacklisted, "name is not allowed")
		}
	}
	return name, nil
}

// CanClaimMore checks the owner's total limit and then the kind limit. has reports the
// owner's permissions; nil means none.
func (m *Manager) CanClaimMore(ctx context.Context, owner string, kind mount.Kind, has func(permission string) bool) error {
	return m.checkLimits(ctx, m.cfg.Current().Limits.Resolve(has), owner, kind)
}

func (m *Manager) checkLimits(ctx context.Context, lim config.Limits, owner string, kind mount.Kind) error {
	const op = "lifecycle.can_claim_more"
	total, err := m.store.CountByOwner(ctx, owner)
	if err != nil {
		return err
	}
	if total >= lim.Total {
		return mounterr.Validation(op, mounterr.CodeLimitTotal, "limit of %d mounts reached", lim.Total)
	}
	capN, ok := lim.Kind(string(kind))
	if !ok {
		return nil
	}
	n, err := m.store.CountByOwnerAndKind(ctx, owner, kind)
	if err != nil {
		return err
	}
	if n >= capN {
		return mounterr.Validation(op, mounterr.CodeLimitKind, "limit of %d %s mounts reached", capN, kind)
	}
	return nil
}

// checkClaimable rejects live objects that cannot become mounts.
func checkClaimable(kind mount.Kind, b attr.Bag) error {
	const op = "lifecycle.claim"
	spec, ok := kinds.Lookup(kind)
	if !ok {
		return mounterr.Validation(op, mounterr.CodeUnsupportedKind, "%s cannot be claimed", kind)
	}
	if !spec.Rideable || kinds.Baby(b) {
		return mounterr.Validation(op, mounterr.CodeNotRideable, "%s cannot be ridden", kind)
	}
	return nil
}

// uniqueName fails when another of the owner's records already uses name.
func (m *Manager) uniqueName(ctx context.Context, opName, owner, name string, self int64) error {
	if name == "" {
		return nil
	}
	recs, err := m.store.FindByName(ctx, owner, name)
	if err != nil {
		return err
	}
	for _, r := range recs {
		if r.ID != self {
			return mounterr.Conflict(opName, mounterr.CodeDuplicateName, "you already have a mount named %q", r.DisplayName())
		}
	}
	return nil
}

// findRecord resolves ref among the owner's records.
func (m *Manager) findRecord(ctx context.Context, opName, owner string, ref mount.Ref) (mount.Record, error) {
	if ref.ByID() {
		return m.store.GetRecord(ctx, owner, ref.ID)
	}
	recs, err := m.store.FindByName(ctx, owner, ref.Name)
	if err != nil {
		return mount.Record{}, err
	}
	switch len(recs) {
	case 0:
		return mount.Record{}, mounterr.NotFound(opName, mounterr.CodeNotFound, "no mount named %q", ref.Name)
	case 1:
		return recs[0], nil
	}
	return mount.Record{}, mounterr.Conflict(opName, mounterr.CodeDuplicateName,
		"%d mounts are named %q; use #%d or #%d", len(recs), ref.Name, recs[0].ID, recs[1].ID)
}
