package response

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"SafeHaven/pkg/errors"
	"SafeHaven/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(t *testing.T, err error) (*httptest.ResponseRecorder, Body) {
	t.Helper()
	r := gin.New()
	r.GET("/x", func(c *gin.Context) { Error(c, err) })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	var body Body
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func TestErrorMapsKind(t *testing.T) {
	w, body := serve(t, errors.Conflict("sos already active"))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.False(t, body.Success)
	require.NotNil(t, body.Error)
	assert.Equal(t, errors.KindConflict, body.Error.Kind)
	assert.Equal(t, "sos already active", body.Error.Message)
}

func TestInternalErrorIsMaskedAndLogged(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	logger.Set(zap.New(core))
	defer logger.Set(zap.NewNop())

	w, body := serve(t, errors.Wrap(stderrors.New("pq: relation does not exist"), "query failed"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	require.NotNil(t, body.Error)
	assert.Equal(t, errors.KindInternal, body.Error.Kind)
	assert.Equal(t, "internal server error", body.Message)
	assert.NotContains(t, w.Body.String(), "relation")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "/x", fields["path"])
	assert.NotEmpty(t, fields["stack"])
}
