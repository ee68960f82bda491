package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bigkaa/godatacenter/internal/domain/cdm"
	"github.com/bigkaa/godatacenter/internal/domain/model"
)

type approvalTestEnv struct {
	registry    *fakeRegistryRepo
	apps        *fakeApplicationRepo
	certs       *fakeCertificateRepo
	docs        *fakeDocumentRepo
	conns       *fakeConnectionRepo
	provisioner *fakeProvisioner
	syncer      *fakeSyncer
	svc         *ApprovalService
}

// setupApprovalTest создаёт сервис согласования с заявкой владельца 7
// (когорта 101) в статусе before_apply.
func setupApprovalTest(t *testing.T) (*approvalTestEnv, int64) {
	t.Helper()

	env := &approvalTestEnv{
		registry:    newFakeRegistryRepo(),
		apps:        newFakeApplicationRepo(),
		certs:       newFakeCertificateRepo(),
		docs:        newFakeDocumentRepo(),
		conns:       newFakeConnectionRepo(),
		provisioner: &fakeProvisioner{},
		syncer:      &fakeSyncer{},
	}
	env.svc = NewApprovalService(env.registry, env.apps, env.certs, env.docs, env.conns,
		fakeTxRunner{}, env.provisioner, env.syncer, testLogger())

	ctx := context.Background()
	modified := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	env.registry.cohorts[101] = newCohort(101, 7, "Гипертония", modified)
	env.registry.users[7] = &model.RegistryUser{ID: 7, Login: "researcher", Name: "Исследователь"}
	env.registry.users[1] = &model.RegistryUser{ID: 1, Login: "admin", Name: "Администратор"}

	appID, err := env.apps.Create(ctx, &model.ApplicationInfo{
		ExtID:      101,
		Owner:      7,
		Tables:     cdm.NewSet(),
		Origin:     model.OriginATLAS,
		ModifiedAt: modified,
		Name:       "Гипертония",
		CreatedAt:  modified.Add(-24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("Ошибка создания заявки: %v", err)
	}
	if err := env.certs.Create(ctx, appID); err != nil {
		t.Fatalf("Ошибка создания сертификата: %v", err)
	}
	return env, appID
}

// apply подаёт заявку из before_apply в applied.
func apply(t *testing.T, env *approvalTestEnv, appID int64) {
	t.Helper()
	desc := "исследование"
	_, err := env.svc.Apply(context.Background(), appID, 7,
		[]string{"PERSON", "CONDITION_OCCURRENCE"}, &desc)
	if err != nil {
		t.Fatalf("Apply() ошибка: %v", err)
	}
}

func TestApply(t *testing.T) {
	env, appID := setupApprovalTest(t)
	ctx := context.Background()

	desc := "исследование гипертонии"
	detail, err := env.svc.Apply(ctx, appID, 7, []string{"PERSON", "CONCEPT"}, &desc)
	if err != nil {
		t.Fatalf("Apply() ошибка: %v", err)
	}
	if detail.Certificate.CurStatus != model.StatusApplied {
		t.Errorf("статус = %q, хотели applied", detail.Certificate.CurStatus)
	}
	if detail.Certificate.AppliedAt == nil {
		t.Error("AppliedAt не установлен")
	}
	if detail.Info.Tables.Len() != 2 || !detail.Info.Tables.Contains(cdm.Person) {
		t.Errorf("Tables = %v, хотели {PERSON, CONCEPT}", detail.Info.Tables.Names())
	}
	if detail.Info.Description == nil || *detail.Info.Description != desc {
		t.Errorf("Description = %v, хотели %q", detail.Info.Description, desc)
	}
}

func TestApplyValidation(t *testing.T) {
	env, appID := setupApprovalTest(t)
	ctx := context.Background()

	// Пустой набор таблиц
	if _, err := env.svc.Apply(ctx, appID, 7, nil, nil); !errors.Is(err, ErrValidation) {
		t.Errorf("Apply() без таблиц = %v, хотели ErrValidation", err)
	}

	// Неизвестная таблица
	if _, err := env.svc.Apply(ctx, appID, 7, []string{"NOT_A_TABLE"}, nil); !errors.Is(err, ErrValidation) {
		t.Errorf("Apply() с неизвестной таблицей = %v, хотели ErrValidation", err)
	}

	// Не владелец
	if _, err := env.svc.Apply(ctx, appID, 9, []string{"PERSON"}, nil); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("Apply() чужим пользователем = %v, хотели ErrPermissionDenied", err)
	}

	// Повторная подача разрешена и обновляет выбор таблиц
	apply(t, env, appID)
	detail, err := env.svc.Apply(ctx, appID, 7, []string{"PERSON", "MEASUREMENT"}, nil)
	if err != nil {
		t.Fatalf("повторный Apply() = %v, хотели успех", err)
	}
	if detail.Info.Tables.Len() != 2 {
		t.Errorf("после повторной подачи %d таблиц, хотели 2", detail.Info.Tables.Len())
	}
}

// TestApplyAfterRejection — повторная подача после отклонения возвращает
// заявку на рассмотрение и снимает решение.
func TestApplyAfterRejection(t *testing.T) {
	env, appID := setupApprovalTest(t)
	ctx := context.Background()
	apply(t, env, appID)

	review := "не хватает IRB"
	if _, err := env.svc.Reject(ctx, appID, &review); err != nil {
		t.Fatalf("Reject() ошибка: %v", err)
	}

	detail, err := env.svc.Apply(ctx, appID, 7, []string{"PERSON"}, nil)
	if err != nil {
		t.Fatalf("Apply() после отклонения = %v, хотели успех", err)
	}
	if detail.Certificate.CurStatus != model.StatusApplied {
		t.Errorf("статус = %q, хотели applied", detail.Certificate.CurStatus)
	}
	if detail.Certificate.ResolvedAt != nil || detail.Certificate.Review != nil {
		t.Errorf("решение не снято: resolved_at=%v review=%v",
			detail.Certificate.ResolvedAt, detail.Certificate.Review)
	}
}

func TestApprove(t *testing.T) {
	env, appID := setupApprovalTest(t)
	ctx := context.Background()
	apply(t, env, appID)

	review := "документы в порядке"
	detail, err := env.svc.Approve(ctx, appID, &review)
	if err != nil {
		t.Fatalf("Approve() ошибка: %v", err)
	}
	if detail.Certificate.CurStatus != model.StatusApproved {
		t.Errorf("статус = %q, хотели approved", detail.Certificate.CurStatus)
	}
	if detail.Certificate.Review == nil || *detail.Certificate.Review != review {
		t.Errorf("Review = %v, хотели %q", detail.Certificate.Review, review)
	}
	if detail.OwnerName != "Исследователь" {
		t.Errorf("OwnerName = %q, хотели отображаемое имя владельца", detail.OwnerName)
	}

	if len(env.provisioner.provisioned) != 1 || env.provisioner.provisioned[0] != appID {
		t.Errorf("Provision вызван для %v, хотели [%d]", env.provisioner.provisioned, appID)
	}
}

// Смена статуса возможна только из applied.
func TestApproveInvalidTransition(t *testing.T) {
	env, appID := setupApprovalTest(t)
	ctx := context.Background()

	if _, err := env.svc.Approve(ctx, appID, nil); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Approve() из before_apply = %v, хотели ErrInvalidTransition", err)
	}

	apply(t, env, appID)
	if _, err := env.svc.Approve(ctx, appID, nil); err != nil {
		t.Fatalf("Approve() ошибка: %v", err)
	}

	// Терминальный статус окончателен
	if _, err := env.svc.Approve(ctx, appID, nil); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("повторный Approve() = %v, хотели ErrInvalidTransition", err)
	}
	if _, err := env.svc.Reject(ctx, appID, nil); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Reject() после approve = %v, хотели ErrInvalidTransition", err)
	}

	if _, err := env.svc.Approve(ctx, 999, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("Approve(999) = %v, хотели ErrNotFound", err)
	}
}

// Сбой provisioning оставляет заявку approved без реквизитов;
// доступ выдаётся повторным Reprovision.
func TestApproveProvisionFailure(t *testing.T) {
	env, appID := setupApprovalTest(t)
	ctx := context.Background()
	apply(t, env, appID)

	env.provisioner.err = errors.New("postgres_fdw недоступен")
	if _, err := env.svc.Approve(ctx, appID, nil); err == nil {
		t.Fatal("Approve() при сбое provisioning должен вернуть ошибку")
	}

	cert, _ := env.certs.GetByID(ctx, appID)
	if cert.CurStatus != model.StatusApproved {
		t.Errorf("статус после сбоя = %q, хотели approved", cert.CurStatus)
	}

	env.provisioner.err = nil
	detail, err := env.svc.Reprovision(ctx, appID)
	if err != nil {
		t.Fatalf("Reprovision() ошибка: %v", err)
	}
	if detail.Certificate.CurStatus != model.StatusApproved {
		t.Errorf("статус = %q, хотели approved", detail.Certificate.CurStatus)
	}
	if len(env.provisioner.provisioned) != 1 {
		t.Errorf("Provision вызван %d раз, хотели 1", len(env.provisioner.provisioned))
	}
}

func TestReprovisionRequiresApproved(t *testing.T) {
	env, appID := setupApprovalTest(t)
	ctx := context.Background()

	if _, err := env.svc.Reprovision(ctx, appID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Reprovision() из before_apply = %v, хотели ErrInvalidTransition", err)
	}
}

func TestReject(t *testing.T) {
	env, appID := setupApprovalTest(t)
	ctx := context.Background()
	apply(t, env, appID)

	review := "нет одобрения IRB"
	detail, err := env.svc.Reject(ctx, appID, &review)
	if err != nil {
		t.Fatalf("Reject() ошибка: %v", err)
	}
	if detail.Certificate.CurStatus != model.StatusRejected {
		t.Errorf("статус = %q, хотели rejected", detail.Certificate.CurStatus)
	}

	// Ресурсы снимаются даже если не выделялись: Deprovision идемпотентен
	if len(env.provisioner.deprovisioned) != 1 || env.provisioner.deprovisioned[0] != appID {
		t.Errorf("Deprovision вызван для %v, хотели [%d]", env.provisioner.deprovisioned, appID)
	}
	if len(env.provisioner.provisioned) != 0 {
		t.Error("Provision не должен вызываться при отклонении")
	}
}

func TestDetailAccess(t *testing.T) {
	env, appID := setupApprovalTest(t)
	ctx := context.Background()

	// Владелец
	detail, err := env.svc.Detail(ctx, appID, 7, model.RolePublic)
	if err != nil {
		t.Fatalf("Detail() владельцем: %v", err)
	}
	if !detail.Synced {
		t.Error("Synced = false для актуального снапшота")
	}
	if detail.Connection != nil {
		t.Error("Connection не nil до одобрения")
	}

	// Посторонний
	if _, err := env.svc.Detail(ctx, appID, 9, model.RolePublic); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("Detail() посторонним = %v, хотели ErrPermissionDenied", err)
	}

	// Администратор видит любую заявку
	if _, err := env.svc.Detail(ctx, appID, 1, model.RoleAdmin); err != nil {
		t.Errorf("Detail() администратором = %v", err)
	}
}

// Изменение когорты в реестре после синхронизации помечает снапшот
// неактуальным.
func TestDetailSyncedFlag(t *testing.T) {
	env, appID := setupApprovalTest(t)
	ctx := context.Background()

	newModified := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	env.registry.cohorts[101] = newCohort(101, 7, "Гипертония v2", newModified)

	detail, err := env.svc.Detail(ctx, appID, 7, model.RolePublic)
	if err != nil {
		t.Fatalf("Detail() ошибка: %v", err)
	}
	if detail.Synced {
		t.Error("Synced = true после изменения когорты в реестре")
	}
}

func TestListMineSyncsFirst(t *testing.T) {
	env, _ := setupApprovalTest(t)
	ctx := context.Background()

	list, err := env.svc.ListMine(ctx, 7)
	if err != nil {
		t.Fatalf("ListMine() ошибка: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("ListMine() = %d заявок, хотели 1", len(list))
	}
	if len(env.syncer.calls) != 1 || env.syncer.calls[0] != 7 {
		t.Errorf("SyncUser вызван для %v, хотели [7]", env.syncer.calls)
	}
}

func TestListApplied(t *testing.T) {
	env, appID := setupApprovalTest(t)
	ctx := context.Background()
	apply(t, env, appID)

	list, err := env.svc.ListApplied(ctx)
	if err != nil {
		t.Fatalf("ListApplied() ошибка: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("ListApplied() = %d заявок, хотели 1", len(list))
	}
	if list[0].Certificate.CurStatus != model.StatusApplied {
		t.Errorf("статус = %q, хотели applied", list[0].Certificate.CurStatus)
	}
	if list[0].OwnerName != "Исследователь" {
		t.Errorf("OwnerName = %q, хотели отображаемое имя владельца", list[0].OwnerName)
	}
}
