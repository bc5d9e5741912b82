package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/frahmantamala/ssoflow/internal/sysconfig"
	"github.com/google/go-querystring/query"
)

type robotKind int

const (
	robotDingTalk robotKind = iota
	robotWeChat
)

// RobotSender posts markdown messages to a DingTalk or WeCom group robot webhook.
type RobotSender struct {
	kind     robotKind
	settings Settings
	client   *http.Client
	now      func() time.Time
}

func NewDingTalkSender(settings Settings, client *http.Client) *RobotSender {
	return newRobotSender(robotDingTalk, settings, client)
}

func NewWeChatSender(settings Settings, client *http.Client) *RobotSender {
	return newRobotSender(robotWeChat, settings, client)
}

func newRobotSender(kind robotKind, settings Settings, client *http.Client) *RobotSender {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RobotSender{kind: kind, settings: settings, client: client, now: time.Now}
}

type signature struct {
	Timestamp int64  `url:"timestamp"`
	Sign      string `url:"sign"`
}

type robotReply struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

func (s *RobotSender) Send(ctx context.Context, msg Message) error {
	cfg, err := s.settings.Notify(ctx)
	if err != nil {
		return fmt.Errorf("load notify settings: %w", err)
	}
	hook := s.hook(cfg)
	if !hook.Enabled || hook.WebhookURL == "" {
		return ErrChannelUnavailable
	}

	target, err := s.target(hook)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(s.payload(msg))
	if err != nil {
		return fmt.Errorf("marshal robot message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create robot request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("robot webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("robot webhook returned status %d", resp.StatusCode)
	}
	var reply robotReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return fmt.Errorf("decode robot reply: %w", err)
	}
	if reply.ErrCode != 0 {
		return fmt.Errorf("robot webhook rejected message: %d %s", reply.ErrCode, reply.ErrMsg)
	}
	return nil
}

func (s *RobotSender) hook(cfg *sysconfig.NotifySettings) sysconfig.WebhookSettings {
	if s.kind == robotDingTalk {
		return cfg.DingTalk
	}
	return cfg.WeChat
}

// target appends the DingTalk signature when the robot has a signing secret.
func (s *RobotSender) target(hook sysconfig.WebhookSettings) (string, error) {
	if s.kind != robotDingTalk || hook.Secret == "" {
		return hook.WebhookURL, nil
	}
	u, err := url.Parse(hook.WebhookURL)
	if err != nil {
		return "", fmt.Errorf("parse webhook url: %w", err)
	}
	ts := s.now().UnixMilli()
	mac := hmac.New(sha256.New, []byte(hook.Secret))
	fmt.Fprintf(mac, "%d\n%s", ts, hook.Secret)
	extra, err := query.Values(signature{Timestamp: ts, Sign: base64.StdEncoding.EncodeToString(mac.Sum(nil))})
	if err != nil {
		return "", fmt.Errorf("encode signature: %w", err)
	}
	q := u.Query()
	for k, v := range extra {
		q[k] = v
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *RobotSender) payload(msg Message) map[string]any {
	text := fmt.Sprintf("### %s\n\n%s", msg.Subject, msg.Body)
	if len(msg.To) > 0 {
		text += "\n\n" + strings.Join(msg.To, ", ")
	}
	if s.kind == robotDingTalk {
		return map[string]any{
			"msgtype":  "markdown",
			"markdown": map[string]any{"title": msg.Subject, "text": text},
		}
	}
	return map[string]any{
		"msgtype":  "markdown",
		"markdown": map[string]any{"content": text},
	}
}
