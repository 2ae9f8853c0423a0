package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func up(context.Context) ComponentHealth { return ComponentHealth{Status: StatusUp} }
func down(context.Context) ComponentHealth {
	return ComponentHealth{Status: StatusDown, Message: "unreachable"}
}

func TestRunAllUp(t *testing.T) {
	c := NewChecker()
	c.Register("registry", up)
	c.RegisterOptional("redis", up)
	report := c.Run(context.Background())
	assert.Equal(t, StatusUp, report.Status)
	assert.Len(t, report.Components, 2)
}

func TestOptionalFailureDegrades(t *testing.T) {
	c := NewChecker()
	c.Register("registry", up)
	c.RegisterOptional("redis", down)
	report := c.Run(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, StatusDegraded, report.Components["redis"].Status)

	rec := httptest.NewRecorder()
	c.ReadyHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequiredFailureIsDown(t *testing.T) {
	c := NewChecker()
	c.Register("registry", down)
	c.RegisterOptional("redis", up)
	assert.Equal(t, StatusDown, c.Run(context.Background()).Status)

	rec := httptest.NewRecorder()
	c.ReadyHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLiveHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	NewChecker().LiveHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"alive"}`, rec.Body.String())
}
