package inference

import (
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// RemoteEvaluator talks to an inference server over a websocket. Batches
// are shipped as JSON; the server answers each request with the values and
// flattened policies for the whole batch.
//
// One connection serves one evaluator; requests are serialized under the
// connection lock, matching the one-batch-at-a-time cadence of a worker.
type RemoteEvaluator struct {
	mu   sync.Mutex
	conn *websocket.Conn

	numInputValues int
	policySize     int
	isPolicyMap    bool
	version        int
}

type remoteRequest struct {
	Batch  int       `json:"batch"`
	Planes []float32 `json:"planes"`
}

type remoteResponse struct {
	Values   []float32 `json:"values"`
	Policies []float32 `json:"policies"`
	Error    string    `json:"error,omitempty"`
}

// RemoteConfig mirrors the model metadata the server was started with.
type RemoteConfig struct {
	NumInputValues int
	PolicySize     int
	IsPolicyMap    bool
	PlanesVersion  int
}

// NewRemoteEvaluator dials url (ws:// or wss://) and returns an evaluator
// bound to that connection.
func NewRemoteEvaluator(url string, cfg RemoteConfig) (*RemoteEvaluator, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial inference server: %w", err)
	}
	return &RemoteEvaluator{
		conn:           conn,
		numInputValues: cfg.NumInputValues,
		policySize:     cfg.PolicySize,
		isPolicyMap:    cfg.IsPolicyMap,
		version:        cfg.PlanesVersion,
	}, nil
}

func (e *RemoteEvaluator) Close() error {
	return e.conn.Close()
}

func (e *RemoteEvaluator) NumInputValues() int { return e.numInputValues }

func (e *RemoteEvaluator) PolicySize() int { return e.policySize }

func (e *RemoteEvaluator) IsPolicyMap() bool { return e.isPolicyMap }

func (e *RemoteEvaluator) Version() int { return e.version }

func (e *RemoteEvaluator) PredictBatch(planes []float32, batch int, values []float32, policies []float32) error {
	if batch <= 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	req := remoteRequest{Batch: batch, Planes: planes[:batch*e.numInputValues]}
	if err := e.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	var resp remoteResponse
	if err := e.conn.ReadJSON(&resp); err != nil {
		return fmt.Errorf("read prediction: %w", err)
	}
	if resp.Error != "" {
		return fmt.Errorf("inference server: %s", resp.Error)
	}
	if len(resp.Values) < batch || len(resp.Policies) < batch*e.policySize {
		return fmt.Errorf("short prediction: %d values, %d policy floats for batch %d",
			len(resp.Values), len(resp.Policies), batch)
	}

	copy(values, resp.Values[:batch])
	copy(policies, resp.Policies[:batch*e.policySize])
	return nil
}
