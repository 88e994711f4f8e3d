package rpc

import "encoding/json"

// Envelope is the single wire message this service's one RPC method
// exchanges in both directions, carrying a command/query name plus its
// JSON payload, mirroring pkg/types.Command's tagged-union shape out to
// the network since no protobuf message set exists to generate one
// envelope type per RPC.
type Envelope struct {
	Method  string          `json:"method"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// ErrorKind/ErrorMessage reconstruct a *types.Error on the caller side;
	// Leader carries the responding node's Node.LeaderAddr() on every error
	// response, and the client redials it when ErrorKind is "unavailable",
	// without a separate discovery RPC.
	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	Leader       string `json:"leader,omitempty"`
}

func newEnvelope(method string, payload any) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{Method: method, Payload: data}, nil
}

func decodePayload[T any](env *Envelope) (T, error) {
	var v T
	if len(env.Payload) == 0 {
		return v, nil
	}
	err := json.Unmarshal(env.Payload, &v)
	return v, err
}
