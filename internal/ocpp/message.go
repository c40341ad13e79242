package ocpp

import (
	"encoding/json"
	"fmt"
)

// MessageType OCPP-J 消息类型编号
type MessageType int

const (
	CallType       MessageType = 2
	CallResultType MessageType = 3
	CallErrorType  MessageType = 4
)

// ErrorCode OCPP-J CALLERROR 标准错误码
type ErrorCode string

const (
	ErrNotImplemented                ErrorCode = "NotImplemented"
	ErrNotSupported                  ErrorCode = "NotSupported"
	ErrInternalError                 ErrorCode = "InternalError"
	ErrProtocolError                 ErrorCode = "ProtocolError"
	ErrSecurityError                 ErrorCode = "SecurityError"
	ErrFormationViolation            ErrorCode = "FormationViolation"
	ErrPropertyConstraintViolation   ErrorCode = "PropertyConstraintViolation"
	ErrOccurrenceConstraintViolation ErrorCode = "OccurrenceConstraintViolation"
	ErrTypeConstraintViolation       ErrorCode = "TypeConstraintViolation"
	ErrGenericError                  ErrorCode = "GenericError"
)

// Error 协议级错误，转换为 CALLERROR 帧发出
type Error struct {
	Code        ErrorCode
	Description string
	Details     map[string]interface{}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewError 构造协议错误
func NewError(code ErrorCode, description string) *Error {
	return &Error{Code: code, Description: description}
}

// Call 请求帧 [2,"<id>","<Action>",{...}]
type Call struct {
	MessageID string
	Action    Action
	Payload   json.RawMessage
}

// CallResult 响应帧 [3,"<id>",{...}]
type CallResult struct {
	MessageID string
	Payload   json.RawMessage
}

// CallError 错误帧 [4,"<id>","<code>","<desc>",{...}]
type CallError struct {
	MessageID   string
	Code        ErrorCode
	Description string
	Details     map[string]interface{}
}

// MarshalJSON 编码为 OCPP-J 数组信封
func (c Call) MarshalJSON() ([]byte, error) {
	payload := c.Payload
	if payload == nil {
		payload = json.RawMessage("{}")
	}
	return json.Marshal([]interface{}{CallType, c.MessageID, c.Action, payload})
}

// MarshalJSON 编码为 OCPP-J 数组信封
func (c CallResult) MarshalJSON() ([]byte, error) {
	payload := c.Payload
	if payload == nil {
		payload = json.RawMessage("{}")
	}
	return json.Marshal([]interface{}{CallResultType, c.MessageID, payload})
}

// MarshalJSON 编码为 OCPP-J 数组信封
func (c CallError) MarshalJSON() ([]byte, error) {
	details := c.Details
	if details == nil {
		details = map[string]interface{}{}
	}
	return json.Marshal([]interface{}{CallErrorType, c.MessageID, c.Code, c.Description, details})
}

// Parse 解析一帧 OCPP-J 消息，返回 *Call / *CallResult / *CallError 之一。
// 信封本身损坏（非数组、类型号未知、字段缺失）返回 error；payload 内容不在此校验。
func Parse(data []byte) (interface{}, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return nil, fmt.Errorf("ocpp: frame is not a JSON array: %w", err)
	}
	if len(parts) < 3 {
		return nil, fmt.Errorf("ocpp: frame has %d elements, need >=3", len(parts))
	}

	var typeID int
	if err := json.Unmarshal(parts[0], &typeID); err != nil {
		return nil, fmt.Errorf("ocpp: bad message type id: %w", err)
	}
	var messageID string
	if err := json.Unmarshal(parts[1], &messageID); err != nil {
		return nil, fmt.Errorf("ocpp: bad message id: %w", err)
	}
	if messageID == "" {
		return nil, fmt.Errorf("ocpp: empty message id")
	}

	switch MessageType(typeID) {
	case CallType:
		if len(parts) < 4 {
			return nil, fmt.Errorf("ocpp: CALL frame needs 4 elements, got %d", len(parts))
		}
		var action Action
		if err := json.Unmarshal(parts[2], &action); err != nil {
			return nil, fmt.Errorf("ocpp: bad action: %w", err)
		}
		return &Call{MessageID: messageID, Action: action, Payload: parts[3]}, nil
	case CallResultType:
		return &CallResult{MessageID: messageID, Payload: parts[2]}, nil
	case CallErrorType:
		if len(parts) < 4 {
			return nil, fmt.Errorf("ocpp: CALLERROR frame needs >=4 elements, got %d", len(parts))
		}
		var code ErrorCode
		if err := json.Unmarshal(parts[2], &code); err != nil {
			return nil, fmt.Errorf("ocpp: bad error code: %w", err)
		}
		var desc string
		if err := json.Unmarshal(parts[3], &desc); err != nil {
			return nil, fmt.Errorf("ocpp: bad error description: %w", err)
		}
		ce := &CallError{MessageID: messageID, Code: code, Description: desc}
		if len(parts) >= 5 {
			_ = json.Unmarshal(parts[4], &ce.Details)
		}
		return ce, nil
	default:
		return nil, fmt.Errorf("ocpp: unknown message type id %d", typeID)
	}
}
