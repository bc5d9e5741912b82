package rbac

import (
	"context"
	"sort"
	"strings"

	"github.com/frahmantamala/ssoflow/internal/identity"
)

// Resolver answers "what may this principal see and call" from the role bindings.
type Resolver struct {
	repo Repository
}

func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo}
}

// ActiveRoles returns the enabled roles of a user, narrowed to roleFilter when the user holds it.
func (r *Resolver) ActiveRoles(ctx context.Context, userID int64, roleFilter *int64) ([]*Role, error) {
	roles, err := r.repo.ListUserRoles(ctx, userID)
	if err != nil {
		return nil, err
	}
	enabled := make([]*Role, 0, len(roles))
	for _, role := range roles {
		if role.Status == identity.StatusEnabled {
			enabled = append(enabled, role)
		}
	}
	if roleFilter == nil {
		return enabled, nil
	}
	for _, role := range enabled {
		if role.ID == *roleFilter {
			return []*Role{role}, nil
		}
	}
	return enabled, nil
}

// IsAdmin is true when the user holds an enabled role with the admin code.
func (r *Resolver) IsAdmin(ctx context.Context, userID int64) (bool, error) {
	roles, err := r.ActiveRoles(ctx, userID, nil)
	if err != nil {
		return false, err
	}
	return hasAdmin(roles), nil
}

// EffectivePermissions is the union of permissions over the active roles; admins get the whole catalogue.
func (r *Resolver) EffectivePermissions(ctx context.Context, userID int64, roleFilter *int64) ([]*Permission, error) {
	roles, err := r.ActiveRoles(ctx, userID, roleFilter)
	if err != nil {
		return nil, err
	}
	if hasAdmin(roles) {
		return r.repo.AllPermissions(ctx)
	}
	return r.repo.PermissionsForRoles(ctx, roleIDs(roles))
}

// EffectiveMenus returns the granted menus as a tree. Ancestors of a granted menu are kept so it stays reachable.
func (r *Resolver) EffectiveMenus(ctx context.Context, userID int64, roleFilter *int64) ([]*MenuNode, error) {
	roles, err := r.ActiveRoles(ctx, userID, roleFilter)
	if err != nil {
		return nil, err
	}
	all, err := r.repo.AllMenus(ctx)
	if err != nil {
		return nil, err
	}
	if hasAdmin(roles) {
		return BuildMenuTree(enabledMenus(all), nil), nil
	}
	granted, err := r.repo.MenuIDsForRoles(ctx, roleIDs(roles))
	if err != nil {
		return nil, err
	}
	set := make(map[int64]bool, len(granted))
	for _, id := range granted {
		set[id] = true
	}
	return BuildMenuTree(enabledMenus(all), set), nil
}

// UserIDsWithRole lists the holders of a role; a disabled or missing role has none.
func (r *Resolver) UserIDsWithRole(ctx context.Context, roleID int64) ([]int64, error) {
	role, err := r.repo.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if role.Status != identity.StatusEnabled {
		return nil, nil
	}
	return r.repo.UserIDsWithRole(ctx, roleID)
}

// Allowed reports whether one of perms covers method and path.
func Allowed(perms []*Permission, method, pattern, path string) bool {
	for _, p := range perms {
		if p.Method != "*" && !strings.EqualFold(p.Method, method) {
			continue
		}
		if p.Path == pattern || MatchPath(p.Path, path) {
			return true
		}
	}
	return false
}

// MatchPath matches a request path against a permission path where {name} matches one segment
// and a trailing * matches the rest.
func MatchPath(permPath, path string) bool {
	want := splitPath(permPath)
	got := splitPath(path)
	for i, seg := range want {
		if seg == "*" && i == len(want)-1 {
			return true
		}
		if i >= len(got) {
			return false
		}
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			continue
		}
		if seg != got[i] {
			return false
		}
	}
	return len(want) == len(got)
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// BuildMenuTree links menus by parent_id. With a non-nil grant set only granted menus and their
// ancestors are kept. Siblings are sorted by sort_order then id.
func BuildMenuTree(menus []*Menu, granted map[int64]bool) []*MenuNode {
	byID := make(map[int64]*Menu, len(menus))
	for _, m := range menus {
		byID[m.ID] = m
	}
	keep := make(map[int64]bool, len(menus))
	for _, m := range menus {
		if granted != nil && !granted[m.ID] {
			continue
		}
		for cur := m; cur != nil && !keep[cur.ID]; cur = byID[cur.ParentID] {
			keep[cur.ID] = true
			if cur.ParentID == 0 {
				break
			}
		}
	}

	nodes := make(map[int64]*MenuNode, len(keep))
	for _, m := range menus {
		if keep[m.ID] {
			nodes[m.ID] = &MenuNode{Menu: m, Children: []*MenuNode{}}
		}
	}
	roots := []*MenuNode{}
	for _, m := range menus {
		n, ok := nodes[m.ID]
		if !ok {
			continue
		}
		if parent, ok := nodes[m.ParentID]; ok && m.ParentID != m.ID {
			parent.Children = append(parent.Children, n)
		} else {
			roots = append(roots, n)
		}
	}
	sortNodes(roots)
	return roots
}

func sortNodes(nodes []*MenuNode) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].SortOrder != nodes[j].SortOrder {
			return nodes[i].SortOrder < nodes[j].SortOrder
		}
		return nodes[i].ID < nodes[j].ID
	})
	for _, n := range nodes {
		sortNodes(n.Children)
	}
}

func enabledMenus(menus []*Menu) []*Menu {
	out := make([]*Menu, 0, len(menus))
	for _, m := range menus {
		if m.Status == "" || m.Status == identity.StatusEnabled {
			out = append(out, m)
		}
	}
	return out
}

func hasAdmin(roles []*Role) bool {
	for _, role := range roles {
		if role.Code == AdminRoleCode {
			return true
		}
	}
	return false
}

func roleIDs(roles []*Role) []int64 {
	ids := make([]int64, 0, len(roles))
	for _, role := range roles {
		ids = append(ids, role.ID)
	}
	return ids
}
