package backend

import (
	"context"
	"encoding/json"
	"net/http"
)

// Functions invokes the backend's edge functions.
type Functions struct {
	client *Client
}

func NewFunctions(client *Client) *Functions {
	return &Functions{client: client}
}

type envelope struct {
	Data json.RawMessage `json:"data"`
}

// Invoke calls the named function and decodes the {data} envelope into out.
// A response without an envelope is decoded as-is.
func (f *Functions) Invoke(ctx context.Context, name, method string, body interface{}, out interface{}) error {
	op := "function " + name
	if method == "" {
		method = http.MethodPost
	}
	_, raw, err := f.client.do(ctx, op, method, "/functions/v1/"+name, nil, nil, body)
	if err != nil {
		return err
	}
	return decodeEnvelope(op, raw, out)
}

func decodeEnvelope(op string, raw []byte, out interface{}) error {
	if out == nil || len(raw) == 0 {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && len(env.Data) > 0 && string(env.Data) != "null" {
		return decodeJSON(op, env.Data, out)
	}
	return decodeJSON(op, raw, out)
}
