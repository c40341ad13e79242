package cp

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/evsim-code/ocpp-simulator/internal/elec"
	"github.com/evsim-code/ocpp-simulator/internal/ocpp"
	"github.com/evsim-code/ocpp-simulator/internal/session"
)

// Calls 依附于某个会话的出站调用集合：把桩侧主动上报的报文
// 组装成带会话语义的类型化调用。
type Calls struct {
	Client *Client
	Sess   *session.Session
	Log    *zap.Logger

	Vendor   string
	Model    string
	Firmware string
}

// BootNotification 上电注册
func (c *Calls) BootNotification(ctx context.Context) (ocpp.BootNotificationResponse, error) {
	fw := c.Firmware
	req := ocpp.BootNotificationRequest{
		ChargePointVendor: c.Vendor,
		ChargePointModel:  c.Model,
	}
	if fw != "" {
		req.FirmwareVersion = &fw
	}
	var resp ocpp.BootNotificationResponse
	err := c.Client.Call(ctx, ocpp.ActionBootNotification, req, &resp)
	return resp, err
}

// Heartbeat 心跳
func (c *Calls) Heartbeat(ctx context.Context) (ocpp.HeartbeatResponse, error) {
	var resp ocpp.HeartbeatResponse
	err := c.Client.Call(ctx, ocpp.ActionHeartbeat, ocpp.HeartbeatRequest{}, &resp)
	return resp, err
}

// Authorize 授权 idTag
func (c *Calls) Authorize(ctx context.Context, idTag string) (ocpp.AuthorizeResponse, error) {
	var resp ocpp.AuthorizeResponse
	err := c.Client.Call(ctx, ocpp.ActionAuthorize, ocpp.AuthorizeRequest{IdTag: idTag}, &resp)
	return resp, err
}

// StatusNotification 上报连接器状态
func (c *Calls) StatusNotification(ctx context.Context, status ocpp.ChargePointStatus, errorCode ocpp.ChargePointErrorCode) error {
	if errorCode == "" {
		errorCode = ocpp.ErrorCodeNoError
	}
	now := ocpp.Now()
	req := ocpp.StatusNotificationRequest{
		ConnectorID: c.Sess.ConnectorID,
		ErrorCode:   errorCode,
		Status:      status,
		Timestamp:   &now,
	}
	return c.Client.Call(ctx, ocpp.ActionStatusNotification, req, &ocpp.StatusNotificationResponse{})
}

// StartTransaction 开始交易。应答中的交易号记录到会话。
func (c *Calls) StartTransaction(ctx context.Context, idTag string, reservationID *int) (ocpp.StartTransactionResponse, error) {
	_, _, _, energyWh := c.Sess.Meter()
	req := ocpp.StartTransactionRequest{
		ConnectorID:   c.Sess.ConnectorID,
		IdTag:         idTag,
		MeterStart:    int(energyWh),
		ReservationID: reservationID,
		Timestamp:     ocpp.Now(),
	}
	var resp ocpp.StartTransactionResponse
	if err := c.Client.Call(ctx, ocpp.ActionStartTransaction, req, &resp); err != nil {
		return resp, err
	}
	if resp.IdTagInfo.Status == ocpp.AuthorizationAccepted {
		c.Sess.BeginTransaction(resp.TransactionID, idTag, time.Now())
	}
	return resp, nil
}

// StopTransaction 结束交易并清理会话交易状态
func (c *Calls) StopTransaction(ctx context.Context, reason ocpp.Reason) (ocpp.StopTransactionResponse, error) {
	txID, ok := c.Sess.EndTransaction()
	if !ok {
		return ocpp.StopTransactionResponse{}, fmt.Errorf("cp: no active transaction to stop")
	}
	_, _, _, energyWh := c.Sess.Meter()
	idTag := c.Sess.IdTag()
	req := ocpp.StopTransactionRequest{
		MeterStop:     int(energyWh),
		Timestamp:     ocpp.Now(),
		TransactionID: txID,
	}
	if idTag != "" {
		req.IdTag = &idTag
	}
	if reason != "" {
		req.Reason = &reason
	}
	var resp ocpp.StopTransactionResponse
	err := c.Client.Call(ctx, ocpp.ActionStopTransaction, req, &resp)
	return resp, err
}

// MeterValues 上报当前采样。读数先过电气合理性校验，问题只记日志，
// 永不阻断发送。
func (c *Calls) MeterValues(ctx context.Context) error {
	soc, currentA, powerW, energyWh := c.Sess.Meter()
	ec := c.Sess.ElectricalConfig()

	for _, issue := range elec.Check(elec.Reading{
		PowerW: powerW, VoltageV: ec.VoltageV, CurrentA: currentA,
		Phases: ec.Phases, ChargerType: ec.ChargerType,
	}) {
		if issue.Level == elec.LevelError {
			c.Log.Error("implausible meter reading", zap.String("cpId", c.Sess.CPID), zap.String("issue", issue.Message))
		} else {
			c.Log.Warn("suspicious meter reading", zap.String("cpId", c.Sess.CPID), zap.String("issue", issue.Message))
		}
	}

	mv := ocpp.MeterValue{
		Timestamp: ocpp.Now(),
		SampledValue: []ocpp.SampledValue{
			{Value: strconv.FormatFloat(energyWh, 'f', 0, 64), Measurand: ocpp.MeasurandEnergyActiveImportRegister, Unit: "Wh"},
			{Value: strconv.FormatFloat(powerW, 'f', 1, 64), Measurand: ocpp.MeasurandPowerActiveImport, Unit: "W"},
			{Value: strconv.FormatFloat(currentA, 'f', 2, 64), Measurand: ocpp.MeasurandCurrentImport, Unit: "A"},
			{Value: strconv.FormatFloat(soc, 'f', 1, 64), Measurand: ocpp.MeasurandSoC, Unit: "Percent"},
		},
	}
	req := ocpp.MeterValuesRequest{
		ConnectorID: c.Sess.ConnectorID,
		MeterValue:  []ocpp.MeterValue{mv},
	}
	if txID, ok := c.Sess.TransactionID(); ok {
		req.TransactionID = &txID
	}
	return c.Client.Call(ctx, ocpp.ActionMeterValues, req, &ocpp.MeterValuesResponse{})
}

// DiagnosticsStatusNotification 上报诊断上传状态
func (c *Calls) DiagnosticsStatusNotification(ctx context.Context, status ocpp.DiagnosticsStatus) error {
	req := ocpp.DiagnosticsStatusNotificationRequest{Status: status}
	return c.Client.Call(ctx, ocpp.ActionDiagnosticsStatusNotification, req, &ocpp.DiagnosticsStatusNotificationResponse{})
}

// DataTransfer 厂商自定义数据上行
func (c *Calls) DataTransfer(ctx context.Context, messageID, data string) (ocpp.DataTransferResponse, error) {
	req := ocpp.DataTransferRequest{VendorID: c.Vendor}
	if messageID != "" {
		req.MessageID = &messageID
	}
	if data != "" {
		req.Data = &data
	}
	var resp ocpp.DataTransferResponse
	err := c.Client.Call(ctx, ocpp.ActionDataTransfer, req, &resp)
	return resp, err
}
