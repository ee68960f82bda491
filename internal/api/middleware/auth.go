// auth.go — JWT middleware для аутентификации запросов.
// Валидирует подпись токена через JWKS провайдера идентификации,
// извлекает preferred_username и сопоставляет его с пользователем
// реестра когорт: незарегистрированный в реестре субъект не имеет
// доступа к API независимо от валидности токена.
package middleware

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/godatacenter/internal/api/errors"
	"github.com/bigkaa/godatacenter/internal/domain/model"
	"github.com/bigkaa/godatacenter/internal/service"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

// ContextKeyPrincipal — аутентифицированный субъект в контексте запроса.
const ContextKeyPrincipal contextKey = "principal"

// Principal — аутентифицированный пользователь реестра.
type Principal struct {
	// UserID — идентификатор пользователя в реестре (sec_user.id)
	UserID int64
	// Login — логин из preferred_username токена
	Login string
	// Role — роль, вычисленная по ролям реестра
	Role model.Role
}

// IsAdmin сообщает, является ли субъект администратором.
func (p *Principal) IsAdmin() bool {
	return p.Role == model.RoleAdmin
}

// IdentityResolver — сопоставление логина токена с пользователем реестра.
// Реализуется service.IdentityService.
type IdentityResolver interface {
	ResolveID(ctx context.Context, login string) (int64, error)
	ResolveRole(ctx context.Context, userID int64) (model.Role, error)
}

// tokenClaims — raw claims из JWT для парсинга.
type tokenClaims struct {
	jwt.RegisteredClaims
	// PreferredUsername — имя пользователя.
	PreferredUsername string `json:"preferred_username"`
}

// JWTAuth — middleware для JWT-аутентификации через JWKS.
type JWTAuth struct {
	jwks      keyfunc.Keyfunc
	identity  IdentityResolver
	issuer    string
	jwtLeeway time.Duration
	logger    *slog.Logger
}

// NewJWTAuth создаёт JWT middleware с JWKS провайдера идентификации.
// jwksURL — URL к JWKS endpoint.
// caCertPath — опциональный путь к CA-сертификату для TLS.
// issuer — ожидаемый issuer JWT (пустой — не проверяется).
// identity — сопоставление логина с пользователем реестра.
// jwksRefreshInterval — интервал обновления JWKS-ключей (DC_JWKS_REFRESH_INTERVAL).
// jwtLeeway — допустимое отклонение времени при проверке JWT (DC_JWT_LEEWAY).
func NewJWTAuth(
	jwksURL string,
	caCertPath string,
	issuer string,
	identity IdentityResolver,
	jwksRefreshInterval time.Duration,
	jwtLeeway time.Duration,
	logger *slog.Logger,
) (*JWTAuth, error) {
	httpClient := http.DefaultClient
	if caCertPath != "" {
		var err error
		httpClient, err = httpClientWithCA(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата %s: %w", caCertPath, err)
		}
		logger.Info("CA-сертификат для JWKS добавлен в пул доверия",
			slog.String("ca_cert", caCertPath),
		)
	}

	// JWKS Storage с фоновым обновлением.
	// NoErrorReturnFirstHTTPReq — стартуем даже если провайдер ещё недоступен.
	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    httpClient,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           jwksRefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", jwksURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{
		Storage: storage,
	})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	return &JWTAuth{
		jwks:      k,
		identity:  identity,
		issuer:    issuer,
		jwtLeeway: jwtLeeway,
		logger:    logger.With(slog.String("component", "jwt_auth")),
	}, nil
}

// NewJWTAuthWithKeyfunc создаёт JWT middleware с предоставленной keyfunc.
// Используется в тестах для подстановки mock JWKS.
func NewJWTAuthWithKeyfunc(
	kf keyfunc.Keyfunc,
	issuer string,
	identity IdentityResolver,
	logger *slog.Logger,
) *JWTAuth {
	return &JWTAuth{
		jwks:     kf,
		identity: identity,
		issuer:   issuer,
		logger:   logger.With(slog.String("component", "jwt_auth")),
	}
}

// httpClientWithCA создаёт HTTP-клиент с кастомным CA-сертификатом.
func httpClientWithCA(caCertPath string) (*http.Client, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, err
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				RootCAs: caCertPool,
			},
		},
	}, nil
}

// Middleware возвращает HTTP middleware для JWT-аутентификации.
// Извлекает Bearer token, валидирует подпись (RS256), извлекает
// preferred_username и резолвит Principal через реестр когорт.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apierrors.Unauthorized(w, "Отсутствует заголовок Authorization")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				apierrors.Unauthorized(w, "Неверный формат Authorization: ожидается Bearer <token>")
				return
			}

			tokenString := parts[1]
			if tokenString == "" {
				apierrors.Unauthorized(w, "Пустой Bearer token")
				return
			}

			rawClaims := &tokenClaims{}
			parserOpts := []jwt.ParserOption{
				jwt.WithValidMethods([]string{"RS256"}),
				jwt.WithExpirationRequired(),
				jwt.WithLeeway(j.jwtLeeway),
			}
			if j.issuer != "" {
				parserOpts = append(parserOpts, jwt.WithIssuer(j.issuer))
			}

			token, err := jwt.ParseWithClaims(tokenString, rawClaims, j.jwks.KeyfuncCtx(r.Context()), parserOpts...)
			if err != nil {
				j.logger.Debug("JWT валидация не пройдена",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}
			if !token.Valid {
				apierrors.Unauthorized(w, "Невалидный токен")
				return
			}

			login := rawClaims.PreferredUsername
			if login == "" {
				apierrors.Unauthorized(w, "Отсутствует preferred_username в токене")
				return
			}

			principal, err := j.resolvePrincipal(r.Context(), login)
			if err != nil {
				switch {
				case errors.Is(err, service.ErrNotFound):
					apierrors.NotFound(w, fmt.Sprintf("Пользователь %q не зарегистрирован в реестре когорт", login))
				default:
					j.logger.Error("Ошибка резолва пользователя реестра",
						slog.String("login", login),
						slog.String("error", err.Error()),
					)
					apierrors.RegistryUnavailable(w, "Реестр когорт недоступен")
				}
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyPrincipal, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// resolvePrincipal сопоставляет логин токена с пользователем реестра
// и вычисляет его роль.
func (j *JWTAuth) resolvePrincipal(ctx context.Context, login string) (*Principal, error) {
	userID, err := j.identity.ResolveID(ctx, login)
	if err != nil {
		return nil, err
	}
	role, err := j.identity.ResolveRole(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Principal{UserID: userID, Login: login, Role: role}, nil
}

// RequireAdmin возвращает middleware, пропускающий только администраторов.
// Должен использоваться ПОСЛЕ JWTAuth.Middleware().
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFromContext(r.Context())
			if p == nil {
				apierrors.Unauthorized(w, "Отсутствует аутентификация")
				return
			}
			if !p.IsAdmin() {
				apierrors.Forbidden(w, "Требуются права администратора")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// PrincipalFromContext извлекает Principal из контекста запроса.
// Возвращает nil, если аутентификация не выполнялась.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(ContextKeyPrincipal).(*Principal)
	return p
}

// --- ReadinessChecker для провайдера идентификации ---

// JWKSReadinessChecker — проверка доступности JWKS endpoint.
type JWKSReadinessChecker struct {
	jwksURL string
	client  *http.Client
}

// NewJWKSReadinessChecker создаёт checker доступности провайдера идентификации.
func NewJWKSReadinessChecker(jwksURL, caCertPath string) (*JWKSReadinessChecker, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	if caCertPath != "" {
		var err error
		client, err = httpClientWithCA(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA для readiness checker: %w", err)
		}
	}

	return &JWKSReadinessChecker{
		jwksURL: jwksURL,
		client:  client,
	}, nil
}

// CheckReady проверяет доступность JWKS endpoint.
func (k *JWKSReadinessChecker) CheckReady() (status, message string) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, k.jwksURL, http.NoBody)
	if err != nil {
		return "fail", "ошибка создания запроса: " + err.Error()
	}
	resp, err := k.client.Do(req)
	if err != nil {
		return "fail", fmt.Sprintf("JWKS недоступен: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "fail", fmt.Sprintf("JWKS вернул статус %d", resp.StatusCode)
	}
	return "ok", "JWKS доступен"
}
