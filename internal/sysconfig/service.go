package sysconfig

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/frahmantamala/ssoflow/internal"
	"gorm.io/datatypes"
)

type validatable interface {
	Validate() error
}

// typed returns a fresh settings value for keys with a known shape.
func typed(key string) validatable {
	switch key {
	case KeyOIDC:
		return &OIDCSettings{}
	case KeyEmail:
		return &EmailSettings{}
	case KeyStorage:
		return &StorageSettings{}
	case KeyNotify:
		return &NotifySettings{}
	}
	return nil
}

type Service struct {
	repo   Repository
	logger *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// Get returns the masked document. Typed keys that were never written return their zero settings.
func (s *Service) Get(ctx context.Context, key string) (map[string]any, error) {
	doc, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	return mask(doc), nil
}

func (s *Service) List(ctx context.Context) (map[string]any, error) {
	entries, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(entries))
	for _, e := range entries {
		var doc map[string]any
		if err := json.Unmarshal(e.Value, &doc); err != nil {
			s.logger.Warn("skipping unreadable system config", "key", e.Key, "error", err)
			continue
		}
		out[e.Key] = mask(doc)
	}
	return out, nil
}

// Put validates and stores a document. Secret fields sent back as Mask keep their stored value.
func (s *Service) Put(ctx context.Context, key string, raw json.RawMessage, userID int64) (map[string]any, error) {
	if !keyPattern.MatchString(key) {
		return nil, ErrInvalidKey
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil || doc == nil {
		return nil, internal.NewValidationError("config value must be a JSON object", internal.ErrCodeInvalidBody)
	}

	current, err := s.load(ctx, key)
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	unmask(doc, current)

	value, err := json.Marshal(doc)
	if err != nil {
		return nil, internal.NewInternalError("failed to encode config", err)
	}
	if t := typed(key); t != nil {
		dec := json.NewDecoder(bytes.NewReader(value))
		dec.DisallowUnknownFields()
		if err := dec.Decode(t); err != nil {
			return nil, internal.NewValidationError("invalid "+key+" config: "+err.Error(), internal.ErrCodeValidationFailed)
		}
		if err := t.Validate(); err != nil {
			return nil, err
		}
	}

	if err := s.repo.Put(ctx, &Entry{Key: key, Value: datatypes.JSON(value), UpdatedBy: userID}); err != nil {
		return nil, err
	}
	s.logger.Info("system config updated", "key", key, "user_id", userID)
	return mask(doc), nil
}

func (s *Service) Email(ctx context.Context) (*EmailSettings, error) {
	out := &EmailSettings{}
	return out, s.decode(ctx, KeyEmail, out)
}

func (s *Service) Notify(ctx context.Context) (*NotifySettings, error) {
	out := &NotifySettings{}
	return out, s.decode(ctx, KeyNotify, out)
}

func (s *Service) Storage(ctx context.Context) (*StorageSettings, error) {
	out := &StorageSettings{}
	return out, s.decode(ctx, KeyStorage, out)
}

func (s *Service) OIDC(ctx context.Context) (*OIDCSettings, error) {
	out := &OIDCSettings{}
	return out, s.decode(ctx, KeyOIDC, out)
}

// decode leaves dst at its zero value when the key was never written.
func (s *Service) decode(ctx context.Context, key string, dst any) error {
	e, err := s.repo.Get(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return err
	}
	if err := json.Unmarshal(e.Value, dst); err != nil {
		return internal.NewInternalError("stored "+key+" config is unreadable", err)
	}
	return nil
}

func (s *Service) load(ctx context.Context, key string) (map[string]any, error) {
	e, err := s.repo.Get(ctx, key)
	if err != nil {
		if isNotFound(err) && typed(key) != nil {
			return zeroDoc(key), nil
		}
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(e.Value, &doc); err != nil {
		return nil, internal.NewInternalError("stored "+key+" config is unreadable", err)
	}
	return doc, nil
}

func zeroDoc(key string) map[string]any {
	b, _ := json.Marshal(typed(key))
	var doc map[string]any
	_ = json.Unmarshal(b, &doc)
	return doc
}

func isNotFound(err error) bool {
	appErr, ok := internal.IsAppError(err)
	return ok && appErr.Type == internal.ErrorTypeNotFound
}

func isSecret(name string) bool {
	name = strings.ToLower(name)
	return name == "password" || name == "secret" || name == "client_secret" || strings.HasSuffix(name, "_secret")
}

// mask copies doc with every non-empty secret replaced, at any depth.
func mask(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		switch t := v.(type) {
		case map[string]any:
			out[k] = mask(t)
		case string:
			if isSecret(k) && t != "" {
				out[k] = Mask
			} else {
				out[k] = t
			}
		default:
			out[k] = v
		}
	}
	return out
}

// unmask restores secrets that came back as Mask from the stored document.
func unmask(doc, stored map[string]any) {
	for k, v := range doc {
		switch t := v.(type) {
		case map[string]any:
			prev, _ := stored[k].(map[string]any)
			unmask(t, prev)
		case string:
			if t == Mask && isSecret(k) {
				doc[k] = stored[k]
				if doc[k] == nil {
					doc[k] = ""
				}
			}
		}
	}
}
