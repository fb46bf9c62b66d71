package statusserver_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hybridtrain/core/memtrack"
	"github.com/hybridtrain/core/statusserver"
	"github.com/hybridtrain/core/tensor"
)

func TestStatusEndpointReportsAccountantSnapshot(t *testing.T) {
	acc := memtrack.New()
	acc.Register(tensor.ModelWeights, 1024)

	srv := statusserver.New(acc)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTPForTest(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.EqualValues(t, 1024, body["current_bytes"])
}
