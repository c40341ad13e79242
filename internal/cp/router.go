// Package cp 实现模拟充电桩客户端：WebSocket 传输、OCPP-J 收发与关联、
// 入站动作分发（validate → handle → respond）以及多步异步后续序列。
package cp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/evsim-code/ocpp-simulator/internal/ocpp"
)

// route 一个入站动作的分发表项：显式注册，不做运行时反射扫描
type route struct {
	newReq func() interface{}
	handle func(ctx context.Context, req interface{}) (interface{}, error)
	// fallback 内部错误时的保守拒绝应答；nil 则回 CALLERROR InternalError
	fallback interface{}
}

// Router 入站 CALL 分发器。每个动作遵循 validate → handle → respond 契约：
// 载荷畸形回 CALLERROR，状态冲突由 handler 以拒绝状态的 CALLRESULT 表达，
// handler 内部异常被兜住并转成该动作最保守的拒绝应答——CALL 永远有应答。
type Router struct {
	validate *validator.Validate
	routes   map[ocpp.Action]route
	log      *zap.Logger
}

// NewRouter 创建空分发器
func NewRouter(log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{
		validate: validator.New(),
		routes:   make(map[ocpp.Action]route),
		log:      log,
	}
}

// Register 注册一个动作
func (r *Router) Register(action ocpp.Action, newReq func() interface{},
	handle func(ctx context.Context, req interface{}) (interface{}, error), fallback interface{}) {
	r.routes[action] = route{newReq: newReq, handle: handle, fallback: fallback}
}

// Actions 已注册动作列表
func (r *Router) Actions() []ocpp.Action {
	out := make([]ocpp.Action, 0, len(r.routes))
	for a := range r.routes {
		out = append(out, a)
	}
	return out
}

// Dispatch 处理一帧入站 CALL，返回要回写的 CALLRESULT 或 CALLERROR
func (r *Router) Dispatch(ctx context.Context, call *ocpp.Call) interface{} {
	rt, ok := r.routes[call.Action]
	if !ok {
		return ocpp.CallError{
			MessageID:   call.MessageID,
			Code:        ocpp.ErrNotImplemented,
			Description: fmt.Sprintf("action %s not implemented", call.Action),
		}
	}

	req := rt.newReq()
	if err := json.Unmarshal(call.Payload, req); err != nil {
		return ocpp.CallError{
			MessageID:   call.MessageID,
			Code:        ocpp.ErrFormationViolation,
			Description: err.Error(),
		}
	}
	if err := r.validate.Struct(req); err != nil {
		return ocpp.CallError{
			MessageID:   call.MessageID,
			Code:        validationCode(err),
			Description: err.Error(),
		}
	}

	resp, err := r.safeHandle(ctx, rt, req)
	if err != nil {
		var pe *ocpp.Error
		if errors.As(err, &pe) {
			return ocpp.CallError{MessageID: call.MessageID, Code: pe.Code, Description: pe.Description, Details: pe.Details}
		}
		r.log.Warn("handler error, answering conservative rejection",
			zap.String("action", string(call.Action)), zap.Error(err))
		if rt.fallback != nil {
			resp = rt.fallback
		} else {
			return ocpp.CallError{MessageID: call.MessageID, Code: ocpp.ErrInternalError, Description: "internal error"}
		}
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		return ocpp.CallError{MessageID: call.MessageID, Code: ocpp.ErrInternalError, Description: "response encoding failed"}
	}
	return ocpp.CallResult{MessageID: call.MessageID, Payload: payload}
}

// safeHandle 兜住 handler 的 panic，保证会话不被打挂
func (r *Router) safeHandle(ctx context.Context, rt route, req interface{}) (resp interface{}, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return rt.handle(ctx, req)
}

// validationCode 缺失必填字段按 FormationViolation，取值越界按
// PropertyConstraintViolation 上报
func validationCode(err error) ocpp.ErrorCode {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			if fe.Tag() == "required" {
				return ocpp.ErrFormationViolation
			}
		}
		return ocpp.ErrPropertyConstraintViolation
	}
	return ocpp.ErrFormationViolation
}
