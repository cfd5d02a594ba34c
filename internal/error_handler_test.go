package internal

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dushixiang/stepbot/internal/xe"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestWithErrorHandler(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"bot not found", xe.ErrBotNotFound, http.StatusNotFound},
		{"invalid bot", fmt.Errorf("%w: entry_step", xe.ErrInvalidBot), http.StatusBadRequest},
		{"canceled", xe.ErrEngineCanceled, http.StatusServiceUnavailable},
		{"http error", echo.NewHTTPError(http.StatusBadRequest, "id 为必填字段"), http.StatusBadRequest},
		{"unexpected", errors.New("db closed"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)

			h := WithErrorHandler(zap.NewNop())(func(c echo.Context) error { return tt.err })
			assert.NoError(t, h(c))
			assert.Equal(t, tt.code, rec.Code)
			assert.Contains(t, rec.Body.String(), "message")
		})
	}
}
