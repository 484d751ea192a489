package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mycelic/cogmem/internal/storeerr"
	"github.com/mycelic/cogmem/internal/workingset"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestHealthHandler_ReportsWorkingSetBound(t *testing.T) {
	s := &Server{workingSet: workingset.New(nil, 7)}
	router := gin.New()
	router.GET("/health", s.healthHandler)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(7), data["working_set_bound"])
}

func TestRespondError_MapsEveryKindToItsStatus(t *testing.T) {
	cases := []struct {
		kind   storeerr.Kind
		status int
	}{
		{storeerr.InvalidInput, http.StatusBadRequest},
		{storeerr.NotFound, http.StatusNotFound},
		{storeerr.DuplicateContent, http.StatusConflict},
		{storeerr.InvalidTierTransition, http.StatusConflict},
		{storeerr.StorageExhausted, http.StatusInsufficientStorage},
		{storeerr.Transient, http.StatusServiceUnavailable},
		{storeerr.Fatal, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		router := gin.New()
		router.GET("/err", func(c *gin.Context) {
			RespondError(c, storeerr.New(tc.kind, nil))
		})

		req := httptest.NewRequest(http.MethodGet, "/err", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, tc.status, rec.Code, "kind=%s", tc.kind)
	}
}

func TestRespondError_UntypedErrorFallsBackTo500(t *testing.T) {
	router := gin.New()
	router.GET("/err", func(c *gin.Context) {
		RespondError(c, assertError("boom"))
	})

	req := httptest.NewRequest(http.MethodGet, "/err", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

type assertError string

func (e assertError) Error() string { return string(e) }
