package model

import (
	"time"

	"github.com/bigkaa/godatacenter/internal/domain/cdm"
)

// CertStatus — статус сертификата заявки.
type CertStatus string

const (
	// StatusBeforeApply — заявка ещё не подана (начальное состояние).
	StatusBeforeApply CertStatus = "before_apply"
	// StatusApplied — заявка подана, ожидает решения администратора.
	StatusApplied CertStatus = "applied"
	// StatusApproved — заявка одобрена, схема выделена.
	StatusApproved CertStatus = "approved"
	// StatusRejected — заявка отклонена.
	StatusRejected CertStatus = "rejected"
)

// Terminal возвращает true для конечных статусов (approved, rejected).
// Выход из конечного статуса возможен только через drift-сброс в before_apply.
func (s CertStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// OriginATLAS — единственный поддерживаемый источник определений когорт.
const OriginATLAS = "ATLAS"

// ApplicationInfo — локальный кэш когорты, по которой подаётся заявка на доступ.
// Хранится в таблице dc_management.application_info.
type ApplicationInfo struct {
	// ID — внутренний идентификатор заявки
	ID int64
	// ExtID — идентификатор определения когорты во внешнем реестре
	ExtID int64
	// Owner — идентификатор пользователя-владельца (sec_user.id реестра)
	Owner int64
	// Tables — выбранные CDM-таблицы; nil означает «выбор ещё не сделан»
	Tables *cdm.Set
	// Origin — источник определения когорты (всегда "ATLAS")
	Origin string
	// ModifiedAt — копия modified_date внешнего определения на момент последней синхронизации
	ModifiedAt time.Time
	// Name — снапшот имени когорты
	Name string
	// Description — снапшот описания когорты
	Description *string
	// CreatedAt — снапшот времени создания когорты
	CreatedAt time.Time
}

// ApplicationCertificate — статус согласования заявки (1:1 с ApplicationInfo).
// Хранится в таблице dc_management.application_cert, PK совпадает с application_info.id.
type ApplicationCertificate struct {
	// ID — идентификатор заявки
	ID int64
	// AppliedAt — время подачи заявки; nil пока статус before_apply
	AppliedAt *time.Time
	// CurStatus — текущий статус согласования
	CurStatus CertStatus
	// ResolvedAt — время решения; не nil только для approved/rejected
	ResolvedAt *time.Time
	// Review — комментарий администратора
	Review *string
}

// DocCategory — категория комплаенс-документа.
type DocCategory string

const (
	// CategoryIRB — одобрение Institutional Review Board.
	CategoryIRB DocCategory = "IRB"
	// CategoryDRB — одобрение Data Review Board.
	CategoryDRB DocCategory = "DRB"
	// CategoryETC — прочие подтверждающие документы.
	CategoryETC DocCategory = "ETC"
)

// ComplianceDocument — комплаенс-документ, приложенный к заявке (IRB/DRB).
// Хранится в таблице dc_management.compliance_document.
type ComplianceDocument struct {
	// ID — идентификатор документа
	ID int64
	// Name — оригинальное имя файла
	Name string
	// Path — путь файла в docstore вида /{appID}/{appID}_{docID}.{ext}
	Path string
	// Type — расширение файла с точкой, например ".pdf"
	Type string
	// Category — категория, выведенная из имени файла (IRB/DRB/ETC)
	Category DocCategory
	// DocumentFor — идентификатор заявки-владельца
	DocumentFor int64
}

// ProvisionedConnection — реквизиты выделенной схемы БД (1:0..1 с ApplicationInfo).
// Создаётся однократно при одобрении, удаляется при отклонении или drift-сбросе.
// Отсутствие записи означает «схема ещё не выделена».
type ProvisionedConnection struct {
	// ID — идентификатор заявки
	ID int64
	// Host — хост БД дата-центра
	Host string
	// Port — порт БД
	Port int
	// Username — выделенная роль вида u<ownerID>
	Username string
	// Password — пароль роли (выдаётся исследователю, хранится открытым)
	Password string
	// SchemaName — выделенная схема вида schema_<ownerID>_<appID>
	SchemaName string
	// CreatedAt — время выделения
	CreatedAt time.Time
}

// ApplicationDetail — агрегированный снапшот заявки для выдачи наружу.
type ApplicationDetail struct {
	Info        *ApplicationInfo
	Certificate *ApplicationCertificate
	Documents   []*ComplianceDocument
	// Connection — nil, если схема не выделена
	Connection *ProvisionedConnection
	// Synced — false, если внешнее определение изменилось после последней синхронизации
	Synced bool
	// OwnerName — отображаемое имя владельца из реестра (заполняется в admin-выдаче)
	OwnerName string
}
