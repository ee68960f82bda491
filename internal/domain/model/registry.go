package model

import "time"

// Role — роль пользователя в системе.
type Role string

const (
	// RoleAdmin — администратор (может одобрять/отклонять заявки).
	RoleAdmin Role = "admin"
	// RolePublic — обычный исследователь.
	RolePublic Role = "public"
)

// CohortDefinition — определение когорты во внешнем реестре (webapi.cohort_definition).
// Реестр владеет этой сущностью и меняет её; модуль только читает.
type CohortDefinition struct {
	// ID — идентификатор определения когорты
	ID int64
	// Name — имя когорты
	Name string
	// Description — описание когорты
	Description *string
	// CreatedDate — время создания в реестре
	CreatedDate time.Time
	// ModifiedDate — время последнего изменения в реестре (источник drift-детекции)
	ModifiedDate time.Time
	// CreatedByID — идентификатор создателя (sec_user.id)
	CreatedByID int64
}

// RegistryUser — пользователь внешнего реестра (webapi.sec_user).
type RegistryUser struct {
	// ID — идентификатор пользователя
	ID int64
	// Login — логин (совпадает с principal из токена)
	Login string
	// Name — отображаемое имя
	Name string
}
