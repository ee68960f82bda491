// identity.go — сопоставление аутентифицированного пользователя
// с его учётной записью в реестре когорт.
//
// JWT подтверждает личность (login), но права определяет реестр:
// пользователь считается исследователем, если в sec_user_role есть
// хотя бы одна ограничивающая роль (role_id = 2 или role_id >= 1000),
// и администратором — если таких ролей нет.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bigkaa/godatacenter/internal/domain/model"
	"github.com/bigkaa/godatacenter/internal/repository"
)

// IdentityService — разрешение личности и роли пользователя по реестру.
type IdentityService struct {
	registry repository.RegistryRepository
}

// NewIdentityService создаёт сервис идентификации.
func NewIdentityService(registry repository.RegistryRepository) *IdentityService {
	return &IdentityService{registry: registry}
}

// ResolveID возвращает идентификатор пользователя реестра по логину.
func (s *IdentityService) ResolveID(ctx context.Context, login string) (int64, error) {
	u, err := s.registry.GetUserByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, fmt.Errorf("%w: пользователь %q не зарегистрирован в реестре", ErrNotFound, login)
		}
		return 0, fmt.Errorf("ошибка поиска пользователя в реестре: %w", err)
	}
	return u.ID, nil
}

// ResolveRole возвращает роль пользователя реестра.
func (s *IdentityService) ResolveRole(ctx context.Context, userID int64) (model.Role, error) {
	restricted, err := s.registry.HasRestrictedRole(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("ошибка определения роли: %w", err)
	}
	if restricted {
		return model.RolePublic, nil
	}
	return model.RoleAdmin, nil
}

// UserName возвращает отображаемое имя пользователя реестра.
func (s *IdentityService) UserName(ctx context.Context, userID int64) (string, error) {
	u, err := s.registry.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("ошибка чтения пользователя: %w", err)
	}
	return u.Name, nil
}

// MapUserNames возвращает имена пользователей для списка идентификаторов.
func (s *IdentityService) MapUserNames(ctx context.Context, ids []int64) (map[int64]string, error) {
	names, err := s.registry.MapUserNames(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения имён пользователей: %w", err)
	}
	return names, nil
}
