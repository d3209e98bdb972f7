// Пакет api — OpenAPI контракт CRM Bridge и middleware валидации запросов.
// Контракт встроен в бинарник; валидация выполняется через kin-openapi
// до передачи запроса в обработчики.
package api

import (
	"embed"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"

	apierrors "github.com/bigkaa/crmbridge/internal/api/errors"
)

//go:embed openapi.yaml
var specFS embed.FS

// LoadSpec загружает и валидирует встроенный OpenAPI контракт.
func LoadSpec() (*openapi3.T, error) {
	data, err := specFS.ReadFile("openapi.yaml")
	if err != nil {
		return nil, fmt.Errorf("чтение встроенного контракта: %w", err)
	}

	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, fmt.Errorf("разбор OpenAPI контракта: %w", err)
	}
	if err := doc.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("валидация OpenAPI контракта: %w", err)
	}
	return doc, nil
}

// ValidationMiddleware возвращает middleware, валидирующий запросы
// по OpenAPI контракту. Запросы вне контракта (health, metrics)
// проходят без валидации.
func ValidationMiddleware(doc *openapi3.T) (func(http.Handler) http.Handler, error) {
	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("создание OpenAPI router: %w", err)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route, pathParams, findErr := router.FindRoute(r)
			if findErr != nil {
				// Путь вне контракта — health, metrics
				if findErr == routers.ErrPathNotFound || findErr == routers.ErrMethodNotAllowed {
					next.ServeHTTP(w, r)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			input := &openapi3filter.RequestValidationInput{
				Request:    r,
				PathParams: pathParams,
				Route:      route,
				Options: &openapi3filter.Options{
					// Аутентификация — на JWT middleware, не здесь
					AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
				},
			}
			if validErr := openapi3filter.ValidateRequest(r.Context(), input); validErr != nil {
				apierrors.ValidationError(w, validErr.Error())
				return
			}

			next.ServeHTTP(w, r)
		})
	}, nil
}
