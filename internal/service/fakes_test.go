// fakes_test.go — in-memory реализации репозиториев для unit-тестов
// сервисов. Интеграционные тесты репозиториев с реальным PostgreSQL
// живут в пакете repository.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/godatacenter/internal/domain/cdm"
	"github.com/bigkaa/godatacenter/internal/domain/model"
	"github.com/bigkaa/godatacenter/internal/repository"
)

// testLogger — логгер для тестов, пишет только ошибки.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeTxRunner выполняет функцию без реальной транзакции.
// Атомарность отката проверяется интеграционными тестами репозиториев.
type fakeTxRunner struct{}

func (fakeTxRunner) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

// --- fakeApplicationRepo ---

type fakeApplicationRepo struct {
	apps   map[int64]*model.ApplicationInfo
	nextID int64
}

func newFakeApplicationRepo() *fakeApplicationRepo {
	return &fakeApplicationRepo{apps: make(map[int64]*model.ApplicationInfo), nextID: 1}
}

func (f *fakeApplicationRepo) Create(ctx context.Context, app *model.ApplicationInfo) (int64, error) {
	for _, a := range f.apps {
		if a.ExtID == app.ExtID {
			return 0, repository.ErrConflict
		}
	}
	cp := *app
	cp.ID = f.nextID
	f.nextID++
	f.apps[cp.ID] = &cp
	return cp.ID, nil
}

func (f *fakeApplicationRepo) GetByID(ctx context.Context, id int64) (*model.ApplicationInfo, error) {
	app, ok := f.apps[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *app
	return &cp, nil
}

func (f *fakeApplicationRepo) GetByExtID(ctx context.Context, extID int64) (*model.ApplicationInfo, error) {
	for _, app := range f.apps {
		if app.ExtID == extID {
			cp := *app
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeApplicationRepo) ListByOwner(ctx context.Context, ownerID int64) ([]*model.ApplicationInfo, error) {
	var out []*model.ApplicationInfo
	for _, app := range f.apps {
		if app.Owner == ownerID {
			cp := *app
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeApplicationRepo) UpdateTables(ctx context.Context, id int64, tables *cdm.Set) error {
	app, ok := f.apps[id]
	if !ok {
		return repository.ErrNotFound
	}
	app.Tables = tables
	return nil
}

func (f *fakeApplicationRepo) UpdateDescription(ctx context.Context, id int64, description *string) error {
	app, ok := f.apps[id]
	if !ok {
		return repository.ErrNotFound
	}
	app.Description = description
	return nil
}

func (f *fakeApplicationRepo) ResetDrift(ctx context.Context, id int64, name string, description *string, modifiedAt time.Time) error {
	app, ok := f.apps[id]
	if !ok {
		return repository.ErrNotFound
	}
	app.Tables = cdm.NewSet()
	app.Name = name
	app.Description = description
	app.ModifiedAt = modifiedAt
	return nil
}

func (f *fakeApplicationRepo) WithTx(tx pgx.Tx) repository.ApplicationRepository { return f }

// --- fakeCertificateRepo ---

type fakeCertificateRepo struct {
	certs map[int64]*model.ApplicationCertificate
}

func newFakeCertificateRepo() *fakeCertificateRepo {
	return &fakeCertificateRepo{certs: make(map[int64]*model.ApplicationCertificate)}
}

func (f *fakeCertificateRepo) Create(ctx context.Context, appID int64) error {
	if _, ok := f.certs[appID]; ok {
		return repository.ErrConflict
	}
	f.certs[appID] = &model.ApplicationCertificate{ID: appID, CurStatus: model.StatusBeforeApply}
	return nil
}

func (f *fakeCertificateRepo) GetByID(ctx context.Context, appID int64) (*model.ApplicationCertificate, error) {
	cert, ok := f.certs[appID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *cert
	return &cp, nil
}

func (f *fakeCertificateRepo) GetForUpdate(ctx context.Context, appID int64) (*model.ApplicationCertificate, error) {
	return f.GetByID(ctx, appID)
}

func (f *fakeCertificateRepo) ListByStatus(ctx context.Context, status model.CertStatus) ([]*model.ApplicationCertificate, error) {
	var out []*model.ApplicationCertificate
	for _, cert := range f.certs {
		if cert.CurStatus == status {
			cp := *cert
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeCertificateRepo) MarkApplied(ctx context.Context, appID int64, appliedAt time.Time) error {
	cert, ok := f.certs[appID]
	if !ok {
		return repository.ErrNotFound
	}
	cert.CurStatus = model.StatusApplied
	cert.AppliedAt = &appliedAt
	cert.ResolvedAt = nil
	cert.Review = nil
	return nil
}

func (f *fakeCertificateRepo) MarkResolved(ctx context.Context, appID int64, status model.CertStatus, resolvedAt time.Time, review *string) error {
	cert, ok := f.certs[appID]
	if !ok {
		return repository.ErrNotFound
	}
	cert.CurStatus = status
	cert.ResolvedAt = &resolvedAt
	cert.Review = review
	return nil
}

func (f *fakeCertificateRepo) Reset(ctx context.Context, appID int64) error {
	cert, ok := f.certs[appID]
	if !ok {
		return repository.ErrNotFound
	}
	cert.CurStatus = model.StatusBeforeApply
	cert.AppliedAt = nil
	cert.ResolvedAt = nil
	cert.Review = nil
	return nil
}

func (f *fakeCertificateRepo) WithTx(tx pgx.Tx) repository.CertificateRepository { return f }

// --- fakeDocumentRepo ---

type fakeDocumentRepo struct {
	docs   map[int64]*model.ComplianceDocument
	nextID int64
}

func newFakeDocumentRepo() *fakeDocumentRepo {
	return &fakeDocumentRepo{docs: make(map[int64]*model.ComplianceDocument), nextID: 1}
}

func (f *fakeDocumentRepo) Create(ctx context.Context, doc *model.ComplianceDocument) (int64, error) {
	cp := *doc
	cp.ID = f.nextID
	cp.Path = ""
	f.nextID++
	f.docs[cp.ID] = &cp
	return cp.ID, nil
}

func (f *fakeDocumentRepo) UpdatePath(ctx context.Context, id int64, path string) error {
	doc, ok := f.docs[id]
	if !ok {
		return repository.ErrNotFound
	}
	doc.Path = path
	return nil
}

func (f *fakeDocumentRepo) GetByID(ctx context.Context, id int64) (*model.ComplianceDocument, error) {
	doc, ok := f.docs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

func (f *fakeDocumentRepo) ListByApplication(ctx context.Context, appID int64) ([]*model.ComplianceDocument, error) {
	var out []*model.ComplianceDocument
	for _, doc := range f.docs {
		if doc.DocumentFor == appID {
			cp := *doc
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeDocumentRepo) DeleteByApplication(ctx context.Context, appID int64, retainedPaths []string) ([]string, error) {
	retained := make(map[string]struct{}, len(retainedPaths))
	for _, p := range retainedPaths {
		retained[p] = struct{}{}
	}

	var paths []string
	for id, doc := range f.docs {
		if doc.DocumentFor != appID {
			continue
		}
		if _, keep := retained[doc.Path]; keep {
			continue
		}
		if doc.Path != "" {
			paths = append(paths, doc.Path)
		}
		delete(f.docs, id)
	}
	return paths, nil
}

func (f *fakeDocumentRepo) ListAllPaths(ctx context.Context) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	for _, doc := range f.docs {
		if doc.Path != "" {
			out[doc.Path] = struct{}{}
		}
	}
	return out, nil
}

func (f *fakeDocumentRepo) WithTx(tx pgx.Tx) repository.DocumentRepository { return f }

// --- fakeConnectionRepo ---

type fakeConnectionRepo struct {
	conns map[int64]*model.ProvisionedConnection
}

func newFakeConnectionRepo() *fakeConnectionRepo {
	return &fakeConnectionRepo{conns: make(map[int64]*model.ProvisionedConnection)}
}

func (f *fakeConnectionRepo) Upsert(ctx context.Context, conn *model.ProvisionedConnection) error {
	cp := *conn
	f.conns[cp.ID] = &cp
	return nil
}

func (f *fakeConnectionRepo) GetByID(ctx context.Context, appID int64) (*model.ProvisionedConnection, error) {
	conn, ok := f.conns[appID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *conn
	return &cp, nil
}

func (f *fakeConnectionRepo) Delete(ctx context.Context, appID int64) error {
	delete(f.conns, appID)
	return nil
}

func (f *fakeConnectionRepo) WithTx(tx pgx.Tx) repository.ConnectionRepository { return f }

// --- fakeRegistryRepo ---

type fakeRegistryRepo struct {
	cohorts    map[int64]*model.CohortDefinition
	users      map[int64]*model.RegistryUser
	restricted map[int64]bool
	// err, если задана, возвращается из всех методов (недоступный реестр)
	err error
}

func newFakeRegistryRepo() *fakeRegistryRepo {
	return &fakeRegistryRepo{
		cohorts:    make(map[int64]*model.CohortDefinition),
		users:      make(map[int64]*model.RegistryUser),
		restricted: make(map[int64]bool),
	}
}

func (f *fakeRegistryRepo) GetCohortDefinition(ctx context.Context, id int64) (*model.CohortDefinition, error) {
	if f.err != nil {
		return nil, f.err
	}
	cd, ok := f.cohorts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *cd
	return &cp, nil
}

func (f *fakeRegistryRepo) ListCohortDefinitionsByOwner(ctx context.Context, userID int64) ([]*model.CohortDefinition, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []*model.CohortDefinition
	for _, cd := range f.cohorts {
		if cd.CreatedByID == userID {
			cp := *cd
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRegistryRepo) GetUserByLogin(ctx context.Context, login string) (*model.RegistryUser, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, u := range f.users {
		if u.Login == login {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeRegistryRepo) GetUserByID(ctx context.Context, id int64) (*model.RegistryUser, error) {
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeRegistryRepo) HasRestrictedRole(ctx context.Context, userID int64) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.restricted[userID], nil
}

func (f *fakeRegistryRepo) MapUserNames(ctx context.Context, ids []int64) (map[int64]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[int64]string)
	for _, id := range ids {
		if u, ok := f.users[id]; ok {
			out[id] = u.Name
		}
	}
	return out, nil
}

// --- fakeProvisioner ---

type fakeProvisioner struct {
	provisioned   []int64
	deprovisioned []int64
	// err возвращается из Provision (сбой выделения схемы)
	err error
}

func (f *fakeProvisioner) Provision(ctx context.Context, app *model.ApplicationInfo) (*model.ProvisionedConnection, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.provisioned = append(f.provisioned, app.ID)
	return &model.ProvisionedConnection{
		ID:         app.ID,
		Host:       "dc.example.org",
		Port:       5432,
		Username:   RoleName(app.Owner),
		Password:   "test-password",
		SchemaName: SchemaName(app.Owner, app.ID),
	}, nil
}

func (f *fakeProvisioner) Reprovision(ctx context.Context, app *model.ApplicationInfo) (*model.ProvisionedConnection, error) {
	return f.Provision(ctx, app)
}

func (f *fakeProvisioner) Deprovision(ctx context.Context, app *model.ApplicationInfo) error {
	f.deprovisioned = append(f.deprovisioned, app.ID)
	return nil
}

// fakeSyncer считает вызовы SyncUser.
type fakeSyncer struct {
	calls []int64
}

func (f *fakeSyncer) SyncUser(ctx context.Context, userID int64) (*model.SyncResult, error) {
	f.calls = append(f.calls, userID)
	return &model.SyncResult{UserID: userID}, nil
}

// newCohort — краткий конструктор определения когорты для тестов.
func newCohort(id, ownerID int64, name string, modified time.Time) *model.CohortDefinition {
	desc := fmt.Sprintf("описание %s", name)
	return &model.CohortDefinition{
		ID:           id,
		Name:         name,
		Description:  &desc,
		CreatedDate:  modified.Add(-24 * time.Hour),
		ModifiedDate: modified,
		CreatedByID:  ownerID,
	}
}
