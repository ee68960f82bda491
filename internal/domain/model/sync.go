package model

import "time"

// SyncEvent — тип изменения, внесённого синхронизацией по одной заявке.
type SyncEvent string

const (
	// SyncEventNone — локальная копия актуальна, изменений нет.
	SyncEventNone SyncEvent = "none"
	// SyncEventNewCohort — в реестре обнаружена новая когорта, создана локальная запись.
	SyncEventNewCohort SyncEvent = "new_cohort"
	// SyncEventDrift — внешнее определение изменилось, согласование сброшено.
	SyncEventDrift SyncEvent = "drift"
)

// SyncResult — результат одного прохода синхронизации по пользователю.
type SyncResult struct {
	// UserID — владелец, по которому шла синхронизация
	UserID int64
	// Created — создано новых локальных заявок
	Created int
	// DriftReset — заявок сброшено из-за изменения внешнего определения
	DriftReset int
	// StartedAt — время начала прохода
	StartedAt time.Time
	// CompletedAt — время завершения прохода
	CompletedAt time.Time
}

// Changed возвращает true, если проход внёс хотя бы одно изменение.
func (r *SyncResult) Changed() bool {
	return r.Created > 0 || r.DriftReset > 0
}
