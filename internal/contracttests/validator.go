// Package contracttests checks the wire contract shared by the HTTP and TCP
// transports: JSON-RPC 2.0 envelopes and the result shapes of the module verbs.
package contracttests

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

var macPattern = regexp.MustCompile(`^([0-9a-f]{2}:){5}[0-9a-f]{2}$`)

// JSONRPCEnvelope validates JSON-RPC 2.0 envelope structure
type JSONRPCEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

// ValidateEnvelope validates JSON-RPC 2.0 envelope compliance
func ValidateEnvelope(data []byte) (*JSONRPCEnvelope, error) {
	var envelope JSONRPCEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	if envelope.JSONRPC != "2.0" {
		return nil, fmt.Errorf("jsonrpc must be '2.0', got '%s'", envelope.JSONRPC)
	}
	if len(envelope.ID) == 0 {
		return nil, errors.New("id field is required")
	}

	hasResult := len(envelope.Result) > 0
	hasError := len(envelope.Error) > 0
	if hasResult && hasError {
		return nil, errors.New("both result and error cannot be present")
	}
	if !hasResult && !hasError {
		return nil, errors.New("either result or error must be present")
	}
	// null ids are reserved for requests that could not be parsed
	if hasResult && string(envelope.ID) == "null" {
		return nil, errors.New("successful response must echo a request id")
	}

	if hasError {
		if _, err := ValidateErrorResponse(envelope.Error); err != nil {
			return nil, err
		}
	}
	return &envelope, nil
}

// ErrorObject is the decoded error member
type ErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details string `json:"details,omitempty"`
	} `json:"data,omitempty"`
}

// ValidateErrorResponse validates JSON-RPC error structure. Module errors
// carry their command code both as message and in data.
func ValidateErrorResponse(errorData json.RawMessage) (*ErrorObject, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(errorData, &raw); err != nil {
		return nil, fmt.Errorf("error must be an object: %w", err)
	}
	if _, ok := raw["code"].(float64); !ok {
		return nil, errors.New("error code must be numeric")
	}
	if _, ok := raw["message"].(string); !ok {
		return nil, errors.New("error message must be string")
	}

	var obj ErrorObject
	if err := json.Unmarshal(errorData, &obj); err != nil {
		return nil, fmt.Errorf("malformed error object: %w", err)
	}
	if obj.Data != nil {
		if obj.Data.Code == "" {
			return nil, errors.New("error data must carry a code")
		}
		if obj.Data.Code != obj.Message {
			return nil, fmt.Errorf("error message %q must match data code %q", obj.Message, obj.Data.Code)
		}
	}
	return &obj, nil
}

// ValidateSetChannelResult validates ["SET_CHANNEL_OK", channel, 0]
func ValidateSetChannelResult(result json.RawMessage) error {
	var arr []interface{}
	if err := json.Unmarshal(result, &arr); err != nil {
		return fmt.Errorf("result must be an array: %w", err)
	}
	if len(arr) != 3 || arr[0] != "SET_CHANNEL_OK" || arr[2] != float64(0) {
		return fmt.Errorf("unexpected set_channel result %s", result)
	}
	if _, ok := arr[1].(float64); !ok {
		return errors.New("set_channel must echo a numeric channel")
	}
	return nil
}

// ValidateMACList validates an array of lower-case MAC addresses
func ValidateMACList(result json.RawMessage) error {
	var arr []string
	if err := json.Unmarshal(result, &arr); err != nil {
		return fmt.Errorf("result must be array of strings: %w", err)
	}
	for _, mac := range arr {
		if !macPattern.MatchString(mac) {
			return fmt.Errorf("invalid MAC address %q", mac)
		}
	}
	return nil
}

// numericFields are station info fields whose value is a decimal string
var numericFields = map[string]bool{
	"inactive time": true, "rx bytes": true, "rx packets": true,
	"tx bytes": true, "tx packets": true, "tx retries": true, "tx failed": true,
	"signal": true, "signal avg": true, "tx bitrate": true, "rx bitrate": true,
	"expected throughput": true,
}

// ValidateStationInfo validates {mac: {field: [value, unit|null]}}
func ValidateStationInfo(result json.RawMessage) error {
	var info map[string]map[string][]interface{}
	if err := json.Unmarshal(result, &info); err != nil {
		return fmt.Errorf("result must map MAC to station fields: %w", err)
	}

	for mac, fields := range info {
		if !macPattern.MatchString(mac) {
			return fmt.Errorf("invalid MAC address %q", mac)
		}
		for _, required := range []string{"tx packets", "rx packets", "timestamp"} {
			if _, ok := fields[required]; !ok {
				return fmt.Errorf("%s is missing %q", mac, required)
			}
		}
		for name, measurement := range fields {
			if len(measurement) != 2 {
				return fmt.Errorf("%s/%s must be a [value, unit] pair", mac, name)
			}
			value, ok := measurement[0].(string)
			if !ok {
				return fmt.Errorf("%s/%s value must be a string", mac, name)
			}
			if measurement[1] != nil {
				if _, ok := measurement[1].(string); !ok {
					return fmt.Errorf("%s/%s unit must be a string or null", mac, name)
				}
			}
			if !numericFields[name] {
				continue
			}
			if _, err := strconv.ParseFloat(value, 64); err != nil {
				return fmt.Errorf("%s/%s value %q is not numeric", mac, name, value)
			}
		}
	}
	return nil
}
