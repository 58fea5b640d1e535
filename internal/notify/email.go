package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/mail"
	"strings"
	"sync"
	"time"

	"gopkg.in/gomail.v2"

	"ticket_grabber/internal/model"
)

type EmailSettingsSource interface {
	GetEmailSettings(ctx context.Context) (model.EmailSettings, bool, error)
}

// EmailNotifier 在 summaryWindow 内合并成功订单，空闲后发一封汇总邮件。
type EmailNotifier struct {
	settings EmailSettingsSource
	log      Logger

	mu     sync.Mutex
	queue  chan OrderEvent
	ctx    context.Context
	cancel func()
	wg     sync.WaitGroup

	summaryWindow time.Duration
	maxBatch      int
	send          func(ctx context.Context, settings model.EmailSettings, events []OrderEvent) error
}

func NewEmailNotifier(settings EmailSettingsSource, log Logger, summaryWindow time.Duration) *EmailNotifier {
	return newEmailNotifier(settings, log, summaryWindow, SendOrderSummaryEmail)
}

func newEmailNotifier(settings EmailSettingsSource, log Logger, summaryWindow time.Duration, send func(context.Context, model.EmailSettings, []OrderEvent) error) *EmailNotifier {
	if log == nil {
		log = nopLogger{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	n := &EmailNotifier{
		settings:      settings,
		log:           log,
		queue:         make(chan OrderEvent, 200),
		ctx:           ctx,
		cancel:        cancel,
		summaryWindow: summaryWindow,
		maxBatch:      80,
		send:          send,
	}
	n.wg.Add(1)
	go n.loop()
	return n
}

// Close 发送剩余的汇总并等待后台协程退出。
func (n *EmailNotifier) Close(ctx context.Context) error {
	n.mu.Lock()
	cancel := n.cancel
	n.cancel = nil
	n.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *EmailNotifier) NotifyOrder(_ context.Context, evt OrderEvent) {
	select {
	case n.queue <- evt:
	default:
		n.log.Log("warn", "邮件通知丢弃：队列已满", map[string]any{
			"taskId":  evt.TaskID,
			"orderId": evt.OrderID,
		})
	}
}

func (n *EmailNotifier) loop() {
	defer n.wg.Done()

	var (
		pending []OrderEvent
		timer   *time.Timer
		timerCh <-chan time.Time
	)

	stopTimer := func() {
		if timer == nil {
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer = nil
		timerCh = nil
	}

	resetTimer := func() {
		if timer == nil {
			timer = time.NewTimer(n.summaryWindow)
			timerCh = timer.C
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(n.summaryWindow)
	}

	flush := func(reason string) {
		if len(pending) == 0 {
			stopTimer()
			return
		}
		events := append([]OrderEvent(nil), pending...)
		pending = pending[:0]
		stopTimer()
		n.handleBatch(reason, events)
	}

	for {
		select {
		case <-n.ctx.Done():
			// 关闭前把队列里剩下的也带上
			for {
				select {
				case evt := <-n.queue:
					pending = append(pending, evt)
					continue
				default:
				}
				break
			}
			flush("shutdown")
			return
		case evt := <-n.queue:
			pending = append(pending, evt)
			if n.maxBatch > 0 && len(pending) >= n.maxBatch {
				flush("max")
				continue
			}
			if n.summaryWindow <= 0 {
				flush("immediate")
				continue
			}
			resetTimer()
		case <-timerCh:
			flush("idle")
		}
	}
}

func (n *EmailNotifier) handleBatch(reason string, events []OrderEvent) {
	if n.settings == nil {
		return
	}

	// 关闭时 n.ctx 已取消，读配置和发送用独立的超时
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	settings, ok, err := n.settings.GetEmailSettings(ctx)
	if err != nil {
		n.log.Log("warn", "读取邮件配置失败", map[string]any{"error": err.Error()})
		return
	}
	if !ok || !settings.Enabled {
		n.log.Log("info", "邮件通知未启用", map[string]any{
			"count":  len(events),
			"reason": reason,
		})
		return
	}

	if err := validateEmailSettings(settings); err != nil {
		n.log.Log("warn", "邮件配置无效", map[string]any{"error": err.Error()})
		return
	}

	if err := n.send(ctx, settings, events); err != nil {
		n.log.Log("warn", "邮件发送失败", map[string]any{
			"error":  err.Error(),
			"count":  len(events),
			"reason": reason,
		})
		return
	}

	n.log.Log("info", "通知邮件已发送", map[string]any{
		"count":  len(events),
		"reason": reason,
		"to":     strings.TrimSpace(settings.Email),
	})
}

func validateEmailSettings(s model.EmailSettings) error {
	email := strings.TrimSpace(s.Email)
	if email == "" {
		return errors.New("email is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return errors.New("invalid email")
	}
	if strings.TrimSpace(s.AuthCode) == "" {
		return errors.New("authCode is required")
	}
	return nil
}

// SendTestEmail 用当前配置发一封测试邮件。
func SendTestEmail(ctx context.Context, settings model.EmailSettings) error {
	text := "这是一封测试邮件，收到说明邮件通知配置正确。\n发送时间：" + time.Now().Format("2006-01-02 15:04:05")
	return sendMail(ctx, settings, "抢票助手测试邮件", text, "")
}

func SendOrderSummaryEmail(ctx context.Context, settings model.EmailSettings, events []OrderEvent) error {
	if len(events) == 0 {
		return errors.New("no events")
	}
	htmlBody, textBody, err := buildSummaryEmailBody(events)
	if err != nil {
		return err
	}
	return sendMail(ctx, settings, buildSummarySubject(events), textBody, htmlBody)
}

func sendMail(ctx context.Context, settings model.EmailSettings, subject, textBody, htmlBody string) error {
	if err := validateEmailSettings(settings); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	email := strings.TrimSpace(settings.Email)
	host, port, useSSL, err := smtpConfigForEmail(email)
	if err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", msg.FormatAddress(email, "抢票助手"))
	msg.SetHeader("To", email)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", textBody)
	if htmlBody != "" {
		msg.AddAlternative("text/html", htmlBody)
	}

	d := gomail.NewDialer(host, port, email, strings.TrimSpace(settings.AuthCode))
	d.SSL = useSSL
	return d.DialAndSend(msg)
}

func smtpConfigForEmail(email string) (host string, port int, useSSL bool, err error) {
	parts := strings.Split(strings.TrimSpace(email), "@")
	if len(parts) != 2 || strings.TrimSpace(parts[1]) == "" {
		return "", 0, false, errors.New("invalid email format")
	}
	domain := strings.ToLower(strings.TrimSpace(parts[1]))
	is := func(names ...string) bool {
		for _, n := range names {
			if domain == n || strings.HasSuffix(domain, "."+n) {
				return true
			}
		}
		return false
	}

	switch {
	case is("qq.com", "foxmail.com"):
		return "smtp.qq.com", 465, true, nil
	case is("163.com", "126.com", "yeah.net"):
		return "smtp.163.com", 465, true, nil
	case is("gmail.com"):
		return "smtp.gmail.com", 587, false, nil
	case is("outlook.com", "hotmail.com", "live.com"):
		return "smtp.office365.com", 587, false, nil
	case is("sina.com"):
		return "smtp.sina.com", 465, true, nil
	case is("aliyun.com"):
		return "smtp.aliyun.com", 465, true, nil
	default:
		return "smtp." + domain, 465, true, nil
	}
}

func buildSummarySubject(events []OrderEvent) string {
	if len(events) == 1 {
		return events[0].Title()
	}
	return fmt.Sprintf("抢票结果汇总（%d单）", len(events))
}

var emailSummaryHTMLTpl = template.Must(template.New("email-summary").Parse(`
<!doctype html>
<html lang="zh-CN">
  <head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width" />
    <title>抢票结果汇总</title>
  </head>
  <body style="margin:0;padding:0;background:#f6f8fb;font-family:-apple-system,BlinkMacSystemFont,'Segoe UI',Roboto,'PingFang SC','Microsoft YaHei',sans-serif;">
    <div style="max-width:720px;margin:0 auto;padding:24px;">
      <div style="background:#ffffff;border:1px solid #e6e8ef;border-radius:14px;overflow:hidden;">
        <div style="padding:18px 22px;background:linear-gradient(135deg,#fb7299,#6366f1);color:#ffffff;">
          <div style="font-size:16px;font-weight:700;">抢票结果汇总</div>
          <div style="margin-top:6px;font-size:12px;opacity:.95;">共 {{ .Total }} 单，{{ .Start }} ~ {{ .End }}</div>
        </div>
        <div style="padding:22px;">
          <table role="presentation" cellspacing="0" cellpadding="0" border="0" style="width:100%;border-collapse:collapse;border:1px solid #eef0f6;">
            <thead>
              <tr style="background:#fafbff;">
                <th style="padding:10px 12px;text-align:left;font-size:12px;color:#6b7280;">时间</th>
                <th style="padding:10px 12px;text-align:left;font-size:12px;color:#6b7280;">项目</th>
                <th style="padding:10px 12px;text-align:left;font-size:12px;color:#6b7280;">场次 / 票种</th>
                <th style="padding:10px 12px;text-align:left;font-size:12px;color:#6b7280;">账号</th>
                <th style="padding:10px 12px;text-align:left;font-size:12px;color:#6b7280;">订单号</th>
              </tr>
            </thead>
            <tbody>
              {{ range .Rows }}
              <tr>
                <td style="padding:10px 12px;font-size:12px;color:#111827;border-top:1px solid #eef0f6;">{{ .At }}</td>
                <td style="padding:10px 12px;font-size:12px;color:#111827;border-top:1px solid #eef0f6;">{{ .Project }}</td>
                <td style="padding:10px 12px;font-size:12px;color:#111827;border-top:1px solid #eef0f6;">{{ .Screen }} / {{ .Ticket }}</td>
                <td style="padding:10px 12px;font-size:12px;color:#111827;border-top:1px solid #eef0f6;">{{ .Account }}</td>
                <td style="padding:10px 12px;font-size:12px;color:#111827;border-top:1px solid #eef0f6;">
                  {{ if .PayURL }}<a href="{{ .PayURL }}">{{ .OrderID }}</a>{{ else }}{{ .OrderID }}{{ end }}
                </td>
              </tr>
              {{ end }}
            </tbody>
          </table>
          <div style="margin-top:14px;color:#9ca3af;font-size:12px;line-height:1.6;">请尽快前往订单中心完成支付，此邮件由系统自动发送</div>
        </div>
      </div>
    </div>
  </body>
</html>
`))

type summaryRow struct {
	At      string
	Project string
	Screen  string
	Ticket  string
	Account string
	OrderID string
	PayURL  string
}

func buildSummaryEmailBody(events []OrderEvent) (htmlBody string, textBody string, err error) {
	if len(events) == 0 {
		return "", "", errors.New("no events")
	}

	rows := make([]summaryRow, 0, len(events))
	var minAt, maxAt time.Time
	for i, evt := range events {
		at := evt.At
		if at.IsZero() {
			at = time.Now()
		}
		if i == 0 || at.Before(minAt) {
			minAt = at
		}
		if i == 0 || at.After(maxAt) {
			maxAt = at
		}
		account := evt.Account
		if account == "" {
			account = fmt.Sprintf("%d", evt.UID)
		}
		rows = append(rows, summaryRow{
			At:      at.Format("2006-01-02 15:04:05"),
			Project: orDefault(evt.ProjectName, "未知项目"),
			Screen:  orDefault(evt.ScreenName, "-"),
			Ticket:  orDefault(evt.TicketName, "-"),
			Account: account,
			OrderID: evt.OrderID,
			PayURL:  evt.PayURL,
		})
	}

	data := struct {
		Total int
		Start string
		End   string
		Rows  []summaryRow
	}{
		Total: len(events),
		Start: minAt.Format("2006-01-02 15:04:05"),
		End:   maxAt.Format("2006-01-02 15:04:05"),
		Rows:  rows,
	}

	var buf bytes.Buffer
	if err := emailSummaryHTMLTpl.Execute(&buf, data); err != nil {
		return "", "", err
	}

	text := new(strings.Builder)
	text.WriteString("抢票结果汇总\n")
	fmt.Fprintf(text, "共 %d 单，时间范围：%s ~ %s\n", len(events), data.Start, data.End)
	for _, row := range rows {
		fmt.Fprintf(text, "- %s | %s | %s / %s | %s | 订单 %s\n", row.At, row.Project, row.Screen, row.Ticket, row.Account, row.OrderID)
	}

	return buf.String(), text.String(), nil
}
