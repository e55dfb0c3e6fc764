package inference

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fake inference server: value = mean of the position's planes, policy =
// the position index repeated, so the client's slicing is observable.
func newFakeServer(t *testing.T, policySize int) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var req remoteRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			stride := len(req.Planes) / req.Batch
			resp := remoteResponse{
				Values:   make([]float32, req.Batch),
				Policies: make([]float32, req.Batch*policySize),
			}
			for b := 0; b < req.Batch; b++ {
				sum := float32(0)
				for _, f := range req.Planes[b*stride : (b+1)*stride] {
					sum += f
				}
				resp.Values[b] = sum / float32(stride)
				for i := 0; i < policySize; i++ {
					resp.Policies[b*policySize+i] = float32(b)
				}
			}
			if err := conn.WriteJSON(resp); err != nil {
				return
			}
		}
	}))
}

func TestRemoteEvaluatorPredictBatch(t *testing.T) {
	const policySize = 4
	server := newFakeServer(t, policySize)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	eval, err := NewRemoteEvaluator(url, RemoteConfig{
		NumInputValues: 2,
		PolicySize:     policySize,
	})
	require.NoError(t, err)
	defer eval.Close()

	planes := []float32{1, 3, 5, 7} // two positions of two floats each
	values := make([]float32, 2)
	policies := make([]float32, 2*policySize)

	require.NoError(t, eval.PredictBatch(planes, 2, values, policies))

	assert.Equal(t, float32(2), values[0])
	assert.Equal(t, float32(6), values[1])
	assert.Equal(t, float32(0), policies[0])
	assert.Equal(t, float32(1), policies[policySize])
}

func TestRemoteEvaluatorEmptyBatch(t *testing.T) {
	eval := &RemoteEvaluator{policySize: 4, numInputValues: 2}
	assert.NoError(t, eval.PredictBatch(nil, 0, nil, nil))
}
