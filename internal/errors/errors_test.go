package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructorsSetCategoryAndStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		category ErrorCategory
		status   int
	}{
		{
			name:     "data format",
			err:      NewDataFormatError("bad header", map[string]string{"column": "3"}),
			category: CategoryDataFormat,
			status:   http.StatusBadRequest,
		},
		{
			name:     "insufficient data",
			err:      NewInsufficientDataError("p7", "no scoreable responses"),
			category: CategoryInsufficientData,
			status:   http.StatusUnprocessableEntity,
		},
		{
			name:     "incomplete profile",
			err:      NewIncompleteProfileError("p7", "trait scores"),
			category: CategoryIncompleteProfile,
			status:   http.StatusInternalServerError,
		},
		{
			name:     "configuration",
			err:      NewConfigurationError("bad templates", nil),
			category: CategoryConfiguration,
			status:   http.StatusInternalServerError,
		},
		{
			name:     "rate limit",
			err:      NewRateLimitError("30"),
			category: CategoryRateLimit,
			status:   http.StatusTooManyRequests,
		},
		{
			name:     "internal",
			err:      NewInternalError("boom", fmt.Errorf("cause")),
			category: CategoryInternal,
			status:   http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.category, tt.err.Category)
			assert.Equal(t, tt.status, tt.err.HTTPStatus)
			assert.False(t, tt.err.Timestamp.IsZero())
		})
	}
}

func TestErrorMessageCarriesCategory(t *testing.T) {
	err := NewDataFormatError("duplicate person identifier", nil)
	assert.Equal(t, "[data_format] duplicate person identifier", err.Error())
}

func TestIsBatchFatal(t *testing.T) {
	assert.True(t, IsBatchFatal(NewDataFormatError("x", nil)))
	assert.True(t, IsBatchFatal(NewIncompleteProfileError("p1", "x")))
	assert.True(t, IsBatchFatal(NewConfigurationError("x", nil)))

	assert.False(t, IsBatchFatal(NewInsufficientDataError("p1", "x")))
	assert.False(t, IsBatchFatal(NewRateLimitError("30")))
	assert.False(t, IsBatchFatal(NewInternalError("x", nil)))
	assert.False(t, IsBatchFatal(fmt.Errorf("plain error")))
}

func TestToAppError(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.Nil(t, ToAppError(nil))
	})

	t.Run("app error passes through", func(t *testing.T) {
		orig := NewDataFormatError("x", nil)
		assert.Same(t, orig, ToAppError(orig))
	})

	t.Run("wrapped app error is unwrapped", func(t *testing.T) {
		orig := NewConfigurationError("x", nil)
		wrapped := fmt.Errorf("outer: %w", orig)
		assert.Same(t, orig, ToAppError(wrapped))
	})

	t.Run("plain error becomes internal", func(t *testing.T) {
		converted := ToAppError(fmt.Errorf("plain"))
		require.NotNil(t, converted)
		assert.Equal(t, CategoryInternal, converted.Category)
	})
}

func TestIncompleteProfileCapturesStack(t *testing.T) {
	err := NewIncompleteProfileError("p1", "cluster assignment")
	assert.NotEmpty(t, err.StackTrace)
}

func TestMarshalJSONWithoutCause(t *testing.T) {
	// Constructors that never set a cause must still marshal.
	tests := []struct {
		name string
		err  *AppError
	}{
		{name: "data format", err: NewDataFormatError("ragged row", map[string]string{"row": "3"})},
		{name: "rate limit", err: NewRateLimitError("30")},
		{name: "insufficient data", err: NewInsufficientDataError("p7", "too few responses")},
		{name: "internal without cause", err: NewInternalError("boom", nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.err)
			require.NoError(t, err)
			assert.Contains(t, string(data), fmt.Sprintf(`"category":%q`, tt.err.Category))
			assert.NotContains(t, string(data), `"cause"`)
		})
	}
}

func TestMarshalJSONIncludesCause(t *testing.T) {
	data, err := json.Marshal(NewInternalError("save failed", fmt.Errorf("disk full")))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"cause":"disk full"`)
	assert.Contains(t, string(data), `"message":"save failed"`)
}

func TestMarshalJSONRoundTrip(t *testing.T) {
	orig := NewDataFormatError("duplicate person identifier", map[string]string{"person": "p2"})

	data, err := json.Marshal(orig)
	require.NoError(t, err)

	var decoded AppError
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, CategoryDataFormat, decoded.Category)
	assert.Equal(t, http.StatusBadRequest, decoded.HTTPStatus)
	assert.Equal(t, orig.ErrBuilder.Msg, decoded.ErrBuilder.Msg)
	assert.Equal(t, orig.ErrBuilder.ErrCode(), decoded.ErrBuilder.ErrCode())
	assert.Equal(t, "p2", decoded.ErrBuilder.Details.Errors.Get("person"))
}

func TestErrorHandlerRendersCategoryJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RecoveryHandler())
	r.Use(ErrorHandler())
	r.GET("/bad", func(c *gin.Context) {
		c.Error(NewDataFormatError("ragged row", nil))
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bad", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"category":"data_format"`)
	assert.Contains(t, rec.Body.String(), "ragged row")
}

func TestRecoveryHandlerConvertsPanics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RecoveryHandler())
	r.Use(ErrorHandler())
	r.GET("/boom", func(c *gin.Context) {
		panic("kaput")
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), `"category":"internal"`)
}
