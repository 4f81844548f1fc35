package bdc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/broadband-coverage/internal/core/model"
)

// flexID accepts provider ids encoded as JSON strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("provider id: %w", err)
		}
		*f = flexID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("provider id: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		*f = flexID(strconv.FormatInt(i, 10))
		return nil
	}
	*f = flexID(n.String())
	return nil
}

type providerRow struct {
	ID   flexID `json:"provider_id"`
	Name string `json:"provider_name"`
}

type envelope struct {
	Status  json.RawMessage `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type envelopeError struct {
	status  string
	message string
}

func (e *envelopeError) Error() string {
	if e.message == "" {
		return "upstream error status " + e.status
	}
	return fmt.Sprintf("upstream error status %s: %s", e.status, e.message)
}

// parseProviderList accepts a bare row array or a {status,message,data}
// envelope. Rows missing an id or name are dropped.
func parseProviderList(body []byte) ([]model.ProviderIdentity, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return []model.ProviderIdentity{}, nil
	}

	var rows []providerRow
	switch body[0] {
	case '[':
		if err := json.Unmarshal(body, &rows); err != nil {
			return nil, fmt.Errorf("decode rows: %w", err)
		}
	case '{':
		var env envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("decode envelope: %w", err)
		}
		if st := statusText(env.Status); st != "" && !statusOK(st) {
			return nil, &envelopeError{status: st, message: env.Message}
		}
		data := bytes.TrimSpace(env.Data)
		if len(data) == 0 || bytes.Equal(data, []byte("null")) {
			return []model.ProviderIdentity{}, nil
		}
		if err := json.Unmarshal(data, &rows); err != nil {
			return nil, fmt.Errorf("decode envelope data: %w", err)
		}
	default:
		return nil, errors.New("unexpected provider list payload")
	}

	out := make([]model.ProviderIdentity, 0, len(rows))
	for _, r := range rows {
		id, name := string(r.ID), strings.TrimSpace(r.Name)
		if id == "" || name == "" {
			continue
		}
		out = append(out, model.ProviderIdentity{ID: id, Name: name, Scheme: model.SchemePrimary})
	}
	return out, nil
}

func statusText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.ToLower(strings.TrimSpace(s))
	}
	return strings.ToLower(string(raw))
}

func statusOK(s string) bool {
	switch s {
	case "ok", "success", "successful", "200", "true":
		return true
	}
	return false
}
