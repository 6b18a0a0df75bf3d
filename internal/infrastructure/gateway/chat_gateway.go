package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"edunotify/internal/config"
)

// Transport 聊天消息网关的发送能力
//
// 调度器只依赖这个接口；发送失败统一抛错误，不区分瞬时/永久原因，
// 由重试策略兜底
type Transport interface {
	// Send 发送一条消息，成功时返回网关侧的消息ID
	Send(ctx context.Context, chatID, content string, opts *SendOptions) (string, error)
	// GetIdentity 查询机器人自身信息，用于启动时的令牌探活
	GetIdentity(ctx context.Context) (*Identity, error)
}

// SendOptions 发送附加选项
type SendOptions struct {
	ParseMode string `json:"parse_mode,omitempty"` // 如 HTML、MarkdownV2，内容已经格式化好，这里只透传
}

// Identity 网关机器人自身信息
type Identity struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// ChatGateway Bot API 风格的 HTTP 网关客户端
type ChatGateway struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewChatGateway(cfg *config.GatewayConfig) *ChatGateway {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ChatGateway{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		client:  &http.Client{Timeout: timeout},
	}
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}

type sendMessageResult struct {
	MessageID int64 `json:"message_id"`
}

func (g *ChatGateway) Send(ctx context.Context, chatID, content string, opts *SendOptions) (string, error) {
	reqBody := sendMessageRequest{
		ChatID: chatID,
		Text:   content,
	}
	if opts != nil {
		reqBody.ParseMode = opts.ParseMode
	}

	var result sendMessageResult
	if err := g.call(ctx, "sendMessage", reqBody, &result); err != nil {
		return "", err
	}
	if result.MessageID == 0 {
		return "", fmt.Errorf("网关响应缺少 message_id")
	}
	return strconv.FormatInt(result.MessageID, 10), nil
}

func (g *ChatGateway) GetIdentity(ctx context.Context) (*Identity, error) {
	var identity Identity
	if err := g.call(ctx, "getMe", nil, &identity); err != nil {
		return nil, err
	}
	return &identity, nil
}

// call 调用网关方法：POST {base}/bot{token}/{method}
func (g *ChatGateway) call(ctx context.Context, method string, payload interface{}, out interface{}) error {
	url := fmt.Sprintf("%s/bot%s/%s", g.baseURL, g.token, method)

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return fmt.Errorf("解析网关响应失败: %w body=%q", err, string(respBody))
	}
	if !apiResp.OK {
		return fmt.Errorf("网关返回失败: status=%d description=%q", resp.StatusCode, apiResp.Description)
	}
	if out != nil {
		if err := json.Unmarshal(apiResp.Result, out); err != nil {
			return fmt.Errorf("解析网关结果失败: %w body=%q", err, string(respBody))
		}
	}
	return nil
}
