// Package session 管理访客的聊天身份：创建、本地保存、
// 以及通过恢复码或魔法链接找回。
package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"sudooom.portfolio.chat/internal/localstore"
	"sudooom.portfolio.chat/internal/model"
	"sudooom.portfolio.chat/internal/store"
	appErrors "sudooom.portfolio.chat/pkg/errors"
)

// maxShortCodeAttempts 恢复码冲突时的最大重试次数
const maxShortCodeAttempts = 8

// Source 会话来源
type Source int

const (
	SourceMinted Source = iota // 新建
	SourceLocal                // 本地存储
	SourceURL                  // 魔法链接
	SourceLegacy               // 旧版 chatUserId
	SourceCode                 // 恢复码
)

// String 来源名称
func (s Source) String() string {
	switch s {
	case SourceLocal:
		return "local"
	case SourceURL:
		return "url"
	case SourceLegacy:
		return "legacy"
	case SourceCode:
		return "code"
	default:
		return "minted"
	}
}

// Resolution 会话解析结果，不可变值
type Resolution struct {
	Session model.Session
	Source  Source
	// StripURLParam 页面地址带有会话参数，需要从可见地址中去掉
	StripURLParam bool
}

// Known 会话已存在于存储中，跳过名字引导
func (r Resolution) Known() bool {
	return r.Source != SourceMinted
}

// Manager 会话身份管理
type Manager struct {
	sessions store.SessionStore
	now      func() time.Time
	logger   *slog.Logger
}

// NewManager 创建会话身份管理
func NewManager(sessions store.SessionStore) *Manager {
	return &Manager{
		sessions: sessions,
		now:      time.Now,
		logger:   slog.Default(),
	}
}

// Resolve 按 URL > 本地存储 > 新建 的顺序解析会话
func (m *Manager) Resolve(ctx context.Context, local localstore.Storage, urlSessionRef string) (Resolution, error) {
	stripURL := urlSessionRef != ""

	// 1. 魔法链接
	if urlSessionRef != "" {
		s, err := m.lookup(ctx, urlSessionRef)
		if err != nil {
			return Resolution{}, err
		}
		if s != nil {
			if err := m.saveLocal(ctx, local, s.ID); err != nil {
				return Resolution{}, err
			}
			m.logger.Info("Session resolved from magic link", "session_id", s.ID)
			return Resolution{Session: *s, Source: SourceURL, StripURLParam: true}, nil
		}
		m.logger.Info("Magic link session not found", "session_id", urlSessionRef)
	}

	// 2. 本地存储
	localID, ok, err := local.Get(ctx, localstore.KeySessionID)
	if err != nil {
		return Resolution{}, appErrors.ErrStore.Wrap(err)
	}
	if ok && localID != "" {
		s, err := m.lookup(ctx, localID)
		if err != nil {
			return Resolution{}, err
		}
		if s != nil {
			return Resolution{Session: *s, Source: SourceLocal, StripURLParam: stripURL}, nil
		}
	}

	// 旧版窗口只保存了 chatUserId/chatUserName
	if res, ok, err := m.resolveLegacy(ctx, local); err != nil {
		return Resolution{}, err
	} else if ok {
		res.StripURLParam = stripURL
		return res, nil
	}

	// 3. 新建，只保存在本地，提交名字后才写入存储
	s := model.Session{
		ID:        GenerateSessionID(m.now()),
		ShortCode: GenerateShortCode(),
	}
	if err := m.saveLocal(ctx, local, s.ID); err != nil {
		return Resolution{}, err
	}
	return Resolution{Session: s, Source: SourceMinted, StripURLParam: stripURL}, nil
}

// resolveLegacy 把旧版本地身份迁移为会话记录
func (m *Manager) resolveLegacy(ctx context.Context, local localstore.Storage) (Resolution, bool, error) {
	legacyID, ok, err := local.Get(ctx, localstore.KeyLegacyUserID)
	if err != nil {
		return Resolution{}, false, appErrors.ErrStore.Wrap(err)
	}
	if !ok || legacyID == "" {
		return Resolution{}, false, nil
	}

	s, err := m.lookup(ctx, legacyID)
	if err != nil {
		return Resolution{}, false, err
	}
	if s == nil {
		name, _, err := local.Get(ctx, localstore.KeyLegacyUserName)
		if err != nil {
			return Resolution{}, false, appErrors.ErrStore.Wrap(err)
		}
		if name == "" {
			return Resolution{}, false, nil
		}
		s = &model.Session{ID: legacyID, ShortCode: GenerateShortCode(), UserName: name}
		if err := m.Persist(ctx, s); err != nil {
			return Resolution{}, false, err
		}
		m.logger.Info("Legacy chat identity migrated", "session_id", s.ID)
	}

	if err := m.saveLocal(ctx, local, s.ID); err != nil {
		return Resolution{}, false, err
	}
	return Resolution{Session: *s, Source: SourceLegacy}, true, nil
}

// RecoverByCode 通过恢复码找回会话
// 格式不合法时直接拒绝，不查询存储
func (m *Manager) RecoverByCode(ctx context.Context, local localstore.Storage, code string) (Resolution, error) {
	code = NormalizeShortCode(code)
	if !ValidShortCode(code) {
		return Resolution{}, appErrors.ErrInvalidShortCode
	}

	found, err := m.sessions.FindSessionsByShortCode(ctx, code)
	if err != nil {
		m.logger.Error("Failed to look up short code", "error", err)
		return Resolution{}, appErrors.ErrStore.Wrap(err)
	}
	if len(found) == 0 {
		return Resolution{}, appErrors.ErrSessionNotFound
	}
	if len(found) > 1 {
		m.logger.Warn("Short code matches several sessions, using most recent", "short_code", code, "count", len(found))
	}

	s := found[0]
	if err := m.saveLocal(ctx, local, s.ID); err != nil {
		return Resolution{}, err
	}
	m.logger.Info("Session recovered by short code", "session_id", s.ID)
	return Resolution{Session: s, Source: SourceCode}, nil
}

// Persist 会话不存在时写入存储，已存在则用存储中的记录覆盖 s
// 新会话的恢复码与已有会话冲突时重新生成
func (m *Manager) Persist(ctx context.Context, s *model.Session) error {
	existing, err := m.lookup(ctx, s.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		*s = *existing
		return nil
	}

	if err := m.ensureUniqueShortCode(ctx, s); err != nil {
		return err
	}

	if err := m.sessions.CreateSession(ctx, s); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			existing, err := m.lookup(ctx, s.ID)
			if err != nil {
				return err
			}
			if existing != nil {
				*s = *existing
			}
			return nil
		}
		m.logger.Error("Failed to create session", "session_id", s.ID, "error", err)
		return appErrors.ErrStore.Wrap(err)
	}

	m.logger.Info("Session created", "session_id", s.ID, "short_code", s.ShortCode)
	return nil
}

// SetEmail 保存访客邮箱
func (m *Manager) SetEmail(ctx context.Context, sessionID, email string) error {
	if !ValidEmail(email) {
		return appErrors.ErrInvalidEmail
	}
	if err := m.sessions.UpdateSession(ctx, sessionID, model.SessionPatch{Email: &email}); err != nil {
		return m.updateError(sessionID, err)
	}
	return nil
}

// Touch 更新最后活跃时间
func (m *Manager) Touch(ctx context.Context, sessionID string) error {
	if err := m.sessions.UpdateSession(ctx, sessionID, model.SessionPatch{TouchActivity: true}); err != nil {
		return m.updateError(sessionID, err)
	}
	return nil
}

func (m *Manager) ensureUniqueShortCode(ctx context.Context, s *model.Session) error {
	if s.ShortCode == "" {
		s.ShortCode = GenerateShortCode()
	}
	for attempt := 0; attempt < maxShortCodeAttempts; attempt++ {
		found, err := m.sessions.FindSessionsByShortCode(ctx, s.ShortCode)
		if err != nil {
			return appErrors.ErrStore.Wrap(err)
		}
		if len(found) == 0 {
			return nil
		}
		m.logger.Info("Short code collision, regenerating", "short_code", s.ShortCode)
		s.ShortCode = GenerateShortCode()
	}
	// 码空间 676 万，连续冲突说明存储异常
	return appErrors.ErrServerError.Wrap(errors.New("short code space exhausted"))
}

// lookup 读取会话，不存在返回 nil
func (m *Manager) lookup(ctx context.Context, id string) (*model.Session, error) {
	s, err := m.sessions.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		m.logger.Error("Failed to get session", "session_id", id, "error", err)
		return nil, appErrors.ErrStore.Wrap(err)
	}
	return s, nil
}

func (m *Manager) saveLocal(ctx context.Context, local localstore.Storage, id string) error {
	if err := local.Set(ctx, localstore.KeySessionID, id); err != nil {
		m.logger.Error("Failed to save session locally", "session_id", id, "error", err)
		return appErrors.ErrStore.Wrap(err)
	}
	return nil
}

func (m *Manager) updateError(sessionID string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return appErrors.ErrSessionNotFound
	}
	m.logger.Error("Failed to update session", "session_id", sessionID, "error", err)
	return appErrors.ErrStore.Wrap(err)
}
