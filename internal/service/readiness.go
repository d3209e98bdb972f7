// readiness.go — проверка готовности сервера CRM для readiness probe.
package service

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

// Константы статусов health check.
const (
	statusOK   = "ok"
	statusFail = "fail"
)

// CRMReadinessChecker — проверка доступности сервера CRM.
// Дешёвый HTTP-зонд discovery endpoint: без аутентификации,
// без SOAP — важна только достижимость сервера.
type CRMReadinessChecker struct {
	probeURL string
	client   *http.Client
}

// NewCRMReadinessChecker создаёт checker доступности CRM.
// crmURL — базовый URL сервера, probePath — путь discovery endpoint.
func NewCRMReadinessChecker(crmURL, probePath, caCertPath string, readinessTimeout time.Duration) (*CRMReadinessChecker, error) {
	client := &http.Client{Timeout: readinessTimeout}
	if caCertPath != "" {
		caCert, err := os.ReadFile(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA для readiness checker: %w", err)
		}
		caCertPool, err := x509.SystemCertPool()
		if err != nil {
			caCertPool = x509.NewCertPool()
		}
		caCertPool.AppendCertsFromPEM(caCert)
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{RootCAs: caCertPool},
		}
	}

	return &CRMReadinessChecker{
		probeURL: strings.TrimRight(crmURL, "/") + probePath,
		client:   client,
	}, nil
}

// CheckReady проверяет доступность discovery endpoint CRM.
// Любой HTTP-ответ сервера (включая 401/405 на GET к SOAP endpoint)
// означает, что сервер жив; fail — только сетевая недостижимость.
func (c *CRMReadinessChecker) CheckReady() (status, message string) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, c.probeURL, http.NoBody)
	if err != nil {
		return statusFail, "ошибка создания запроса: " + err.Error()
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return statusFail, fmt.Sprintf("сервер CRM недоступен: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return "degraded", fmt.Sprintf("сервер CRM вернул статус %d", resp.StatusCode)
	}
	return statusOK, fmt.Sprintf("сервер CRM отвечает, статус %d", resp.StatusCode)
}
