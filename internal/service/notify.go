package service

import (
	"context"
	"time"

	"veribill/internal/config"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// VerificationEvent 推送给签发方 webhook 的事件体
type VerificationEvent struct {
	EventID    string  `json:"event_id"`
	EventType  string  `json:"event_type"` // bill.verified
	BillNumber string  `json:"bill_number"`
	BillType   string  `json:"bill_type"`
	Status     string  `json:"status"`
	Fee        float64 `json:"fee"`
	VerifiedAt string  `json:"verified_at"`
}

// IssuerNotifier 签发方 webhook 回调客户端
// 纯通知用途，失败不影响主流程
type IssuerNotifier struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewIssuerNotifier 创建 webhook 回调客户端
func NewIssuerNotifier(cfg config.NotifyConfig, logger *zap.Logger) *IssuerNotifier {
	client := resty.New().
		SetTimeout(time.Duration(cfg.TimeoutSeconds) * time.Second).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "veribill-notifier/1.0")

	return &IssuerNotifier{
		httpClient: client,
		logger:     logger,
	}
}

// NotifyVerification 推送一次校验事件到签发方 webhook
func (n *IssuerNotifier) NotifyVerification(ctx context.Context, webhookURL string, event VerificationEvent) {
	event.EventID = uuid.New().String()
	event.EventType = "bill.verified"

	resp, err := n.httpClient.R().
		SetContext(ctx).
		SetBody(event).
		Post(webhookURL)

	if err != nil {
		n.logger.Warn("Webhook notification failed",
			zap.String("webhook_url", webhookURL),
			zap.String("bill_number", event.BillNumber),
			zap.Error(err),
		)
		return
	}

	if resp.StatusCode() >= 300 {
		n.logger.Warn("Webhook notification rejected",
			zap.String("webhook_url", webhookURL),
			zap.String("bill_number", event.BillNumber),
			zap.Int("status_code", resp.StatusCode()),
		)
		return
	}

	n.logger.Info("Webhook notification delivered",
		zap.String("bill_number", event.BillNumber),
		zap.String("event_id", event.EventID),
	)
}
