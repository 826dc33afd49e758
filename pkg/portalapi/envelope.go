package portalapi

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// The portal answers with either {code, message, data} or {success, message, data}.
const envelopeSchema = `{
  "type": "object",
  "anyOf": [
    {"required": ["code"]},
    {"required": ["success"]}
  ],
  "properties": {
    "code": {"type": ["integer", "string"]},
    "success": {"type": "boolean"},
    "message": {"type": ["string", "null"]},
    "msg": {"type": ["string", "null"]}
  }
}`

var compiledEnvelope = jsonschema.MustCompileString("envelope.json", envelopeSchema)

// ErrMalformedEnvelope is returned when a response body matches neither envelope shape.
var ErrMalformedEnvelope = errors.New("portalapi: malformed response envelope")

// Result is the single internal shape both upstream envelopes are normalised into.
type Result[T any] struct {
	Code    int
	Message string
	Data    T
}

type envelope struct {
	Code    json.RawMessage `json:"code"`
	Success *bool           `json:"success"`
	Message string          `json:"message"`
	Msg     string          `json:"msg"`
	Data    json.RawMessage `json:"data"`
}

func parseEnvelope(body []byte) (envelope, error) {
	var document interface{}
	if err := json.Unmarshal(body, &document); err != nil {
		return envelope{}, errors.Wrap(ErrMalformedEnvelope, err.Error())
	}
	if err := compiledEnvelope.Validate(document); err != nil {
		return envelope{}, errors.Wrap(ErrMalformedEnvelope, err.Error())
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return envelope{}, errors.Wrap(ErrMalformedEnvelope, err.Error())
	}
	return env, nil
}

func (e envelope) code() int {
	raw := strings.Trim(strings.TrimSpace(string(e.Code)), `"`)
	if raw == "" || raw == "null" {
		return 0
	}
	code, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return code
}

func (e envelope) ok() bool {
	if e.Success != nil {
		return *e.Success
	}
	code := e.code()
	return code == 200 || code == 0
}

func (e envelope) message() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Msg
}

func decodeResult[T any](env envelope) (Result[T], error) {
	result := Result[T]{Code: env.code(), Message: env.message()}
	if env.Success != nil && *env.Success && result.Code == 0 {
		result.Code = 200
	}

	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return result, nil
	}
	if err := json.Unmarshal(data, &result.Data); err != nil {
		return result, errors.Wrap(err, "decode envelope data")
	}
	return result, nil
}

// Page is a paginated list. Upstream pages arrive as a bare array or as an object that carries
// the rows under one of several keys.
type Page[T any] struct {
	Items []T
	Total int64
}

var pageItemKeys = []string{"records", "list", "items", "rows", "content", "data"}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Page[T]) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &p.Items); err != nil {
			return err
		}
		p.Total = int64(len(p.Items))
		return nil
	}

	var object map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &object); err != nil {
		return err
	}

	for _, key := range pageItemKeys {
		raw, ok := object[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, &p.Items); err != nil {
			return err
		}
		break
	}

	p.Total = int64(len(p.Items))
	for _, key := range []string{"total", "totalCount", "count"} {
		if raw, ok := object[key]; ok {
			if total, err := strconv.ParseInt(strings.Trim(string(raw), `"`), 10, 64); err == nil {
				p.Total = total
			}
			break
		}
	}
	return nil
}

// Ignored discards whatever payload a mutation endpoint returns.
type Ignored struct{}

// UnmarshalJSON implements json.Unmarshaler.
func (Ignored) UnmarshalJSON([]byte) error { return nil }
