package postgres

import (
	"context"
	"errors"
	"time"

	model "github.com/frahmantamala/ssoflow/internal/core/datamodel/oidc"
	"github.com/frahmantamala/ssoflow/internal/core/dbutil"
	"github.com/frahmantamala/ssoflow/internal/oidc"
	"gorm.io/gorm"
)

type OIDCRepository struct {
	db *gorm.DB
}

func NewOIDCRepository(db *gorm.DB) *OIDCRepository {
	return &OIDCRepository{db: db}
}

var _ oidc.Repository = (*OIDCRepository)(nil)

func (r *OIDCRepository) CreateClient(ctx context.Context, c *model.Client) error {
	return dbutil.MapWriteError(r.db.WithContext(ctx).Create(c).Error, oidc.ErrDuplicate)
}

func (r *OIDCRepository) UpdateClient(ctx context.Context, c *model.Client) error {
	err := r.db.WithContext(ctx).Model(&model.Client{}).Where("id = ?", c.ID).Updates(map[string]interface{}{
		"name":                      c.Name,
		"description":               c.Description,
		"logo_url":                  c.LogoURL,
		"redirect_uris":             c.RedirectURIs,
		"post_logout_redirect_uris": c.PostLogoutRedirectURIs,
		"allowed_scopes":            c.AllowedScopes,
		"grant_types":               c.GrantTypes,
		"access_token_ttl":          c.AccessTokenTTL,
		"refresh_token_ttl":         c.RefreshTokenTTL,
		"force_consent":             c.ForceConsent,
		"status":                    c.Status,
	}).Error
	return dbutil.MapWriteError(err, oidc.ErrDuplicate)
}

func (r *OIDCRepository) UpdateClientSecret(ctx context.Context, id int64, secretHash string) error {
	res := r.db.WithContext(ctx).Model(&model.Client{}).Where("id = ?", id).Update("client_secret_hash", secretHash)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return oidc.ErrClientNotFound
	}
	return nil
}

func (r *OIDCRepository) GetClient(ctx context.Context, id int64) (*model.Client, error) {
	var c model.Client
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, dbutil.MapNotFound(err, oidc.ErrClientNotFound)
	}
	return &c, nil
}

func (r *OIDCRepository) GetClientByClientID(ctx context.Context, clientID string) (*model.Client, error) {
	var c model.Client
	if err := r.db.WithContext(ctx).Where("client_id = ?", clientID).First(&c).Error; err != nil {
		return nil, dbutil.MapNotFound(err, oidc.ErrClientNotFound)
	}
	return &c, nil
}

func (r *OIDCRepository) ListClients(ctx context.Context, f oidc.ClientFilter) ([]*model.Client, int64, error) {
	q := r.db.WithContext(ctx).Model(&model.Client{})
	if f.TenantID > 0 {
		q = q.Where("tenant_id = ?", f.TenantID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Keyword != "" {
		kw := dbutil.Like(f.Keyword)
		q = q.Where("LOWER(name) LIKE ? OR LOWER(client_id) LIKE ?", kw, kw)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []*model.Client
	err := q.Order("id ASC").Scopes(dbutil.Paginate(f.PageRequest)).Find(&out).Error
	return out, total, err
}

func (r *OIDCRepository) DeleteClient(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c model.Client
		if err := tx.Where("id = ?", id).First(&c).Error; err != nil {
			return dbutil.MapNotFound(err, oidc.ErrClientNotFound)
		}
		for _, m := range []interface{}{&model.AuthorizedApp{}, &model.RefreshToken{}, &model.AuthorizationCode{}} {
			if err := tx.Where("client_id = ?", c.ClientID).Delete(m).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&c).Error
	})
}

func (r *OIDCRepository) CreateCode(ctx context.Context, code *model.AuthorizationCode) error {
	return r.db.WithContext(ctx).Create(code).Error
}

func (r *OIDCRepository) ConsumeCode(ctx context.Context, codeHash, clientID string, now time.Time) (*model.AuthorizationCode, error) {
	res := r.db.WithContext(ctx).Model(&model.AuthorizationCode{}).
		Where("code_hash = ? AND client_id = ? AND consumed_at IS NULL AND expires_at > ?", codeHash, clientID, now).
		Update("consumed_at", now)
	if res.Error != nil {
		return nil, res.Error
	}

	var code model.AuthorizationCode
	if err := r.db.WithContext(ctx).Where("code_hash = ?", codeHash).First(&code).Error; err != nil {
		return nil, dbutil.MapNotFound(err, oidc.ErrCodeNotFound)
	}
	if res.RowsAffected == 1 {
		return &code, nil
	}
	if code.ClientID != clientID {
		return nil, oidc.ErrCodeClient
	}
	if code.ConsumedAt != nil {
		return &code, oidc.ErrCodeReplayed
	}
	return nil, oidc.ErrCodeExpired
}

func (r *OIDCRepository) DeleteExpiredCodes(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at < ?", before).Delete(&model.AuthorizationCode{})
	return res.RowsAffected, res.Error
}

func (r *OIDCRepository) GetAuthorizedApp(ctx context.Context, userID int64, clientID string) (*model.AuthorizedApp, error) {
	var app model.AuthorizedApp
	if err := r.db.WithContext(ctx).Where("user_id = ? AND client_id = ?", userID, clientID).First(&app).Error; err != nil {
		return nil, dbutil.MapNotFound(err, oidc.ErrAuthorizedAppNotFound)
	}
	return &app, nil
}

func (r *OIDCRepository) SaveAuthorizedApp(ctx context.Context, app *model.AuthorizedApp) error {
	if app.ID == 0 {
		err := r.db.WithContext(ctx).Create(app).Error
		if err == nil || !dbutil.IsUniqueViolation(err) {
			return err
		}
		// a concurrent consent won the insert; fold our scopes into it
		existing, gerr := r.GetAuthorizedApp(ctx, app.UserID, app.ClientID)
		if gerr != nil {
			return gerr
		}
		app.ID = existing.ID
		app.Scope = oidc.ParseScopes(existing.Scope).Union(oidc.ParseScopes(app.Scope)).String()
	}
	return r.db.WithContext(ctx).Model(&model.AuthorizedApp{}).Where("id = ?", app.ID).
		Updates(map[string]interface{}{"scope": app.Scope, "authorized_at": app.AuthorizedAt}).Error
}

func (r *OIDCRepository) ListAuthorizedApps(ctx context.Context, userID int64) ([]*oidc.AuthorizedAppView, error) {
	var out []*oidc.AuthorizedAppView
	err := r.db.WithContext(ctx).Table("oidc_authorized_apps AS a").
		Select("a.client_id, c.name AS client_name, c.logo_url, a.scope, a.authorized_at").
		Joins("JOIN oidc_clients c ON c.client_id = a.client_id").
		Where("a.user_id = ?", userID).
		Order("a.authorized_at DESC").
		Scan(&out).Error
	return out, err
}

func (r *OIDCRepository) RevokeAuthorizedApp(ctx context.Context, userID int64, clientID string, now time.Time) (bool, error) {
	found := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("user_id = ? AND client_id = ?", userID, clientID).Delete(&model.AuthorizedApp{})
		if res.Error != nil {
			return res.Error
		}
		found = res.RowsAffected > 0
		return tx.Model(&model.RefreshToken{}).
			Where("user_id = ? AND client_id = ? AND revoked_at IS NULL", userID, clientID).
			Update("revoked_at", now).Error
	})
	return found, err
}

func (r *OIDCRepository) CreateRefreshToken(ctx context.Context, t *model.RefreshToken) error {
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *OIDCRepository) GetRefreshToken(ctx context.Context, tokenHash string) (*model.RefreshToken, error) {
	var t model.RefreshToken
	if err := r.db.WithContext(ctx).Where("token_hash = ?", tokenHash).First(&t).Error; err != nil {
		return nil, dbutil.MapNotFound(err, oidc.ErrRefreshTokenNotFound)
	}
	return &t, nil
}

func (r *OIDCRepository) RotateRefreshToken(ctx context.Context, oldID int64, next *model.RefreshToken, now time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.RefreshToken{}).Where("id = ? AND revoked_at IS NULL", oldID).Update("revoked_at", now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return oidc.ErrRefreshTokenRevoked
		}
		return tx.Create(next).Error
	})
}

func (r *OIDCRepository) RevokeRefreshTokensByCode(ctx context.Context, codeHash string, now time.Time) (int64, error) {
	if codeHash == "" {
		return 0, errors.New("empty code hash")
	}
	res := r.db.WithContext(ctx).Model(&model.RefreshToken{}).
		Where("code_hash = ? AND revoked_at IS NULL", codeHash).
		Update("revoked_at", now)
	return res.RowsAffected, res.Error
}
