package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/smtp"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	apperrors "github.com/esotel/zabbix/errors"
	"github.com/esotel/zabbix/worker"
)

const deliveryTimeout = 60 * time.Second

// SMTP security modes.
const (
	smtpSecurityNone     = 0
	smtpSecuritySTARTTLS = 1
	smtpSecuritySSL      = 2
)

func sendEmail(job *worker.EmailJob) error {
	addr := fmt.Sprintf("%s:%d", job.SMTPServer, job.SMTPPort)

	tlsConfig := &tls.Config{
		ServerName:         job.SMTPServer,
		InsecureSkipVerify: !job.SMTPVerifyPeer && !job.SMTPVerifyHost,
	}

	var (
		client *smtp.Client
		err    error
	)
	if job.SMTPSecurity == smtpSecuritySSL {
		conn, derr := tls.DialWithDialer(&net.Dialer{Timeout: deliveryTimeout}, "tcp", addr, tlsConfig)
		if derr != nil {
			return apperrors.MapNetworkError(derr, "email")
		}
		client, err = smtp.NewClient(conn, job.SMTPServer)
	} else {
		client, err = smtp.Dial(addr)
	}
	if err != nil {
		return apperrors.MapNetworkError(err, "email")
	}
	defer client.Close()

	helo := job.SMTPHelo
	if helo == "" {
		helo = "localhost"
	}
	if err := client.Hello(helo); err != nil {
		return apperrors.MapSMTPError(err)
	}

	if job.SMTPSecurity == smtpSecuritySTARTTLS {
		if err := client.StartTLS(tlsConfig); err != nil {
			return apperrors.MapSMTPError(err)
		}
	}

	if job.SMTPAuthentication != 0 {
		auth := smtp.PlainAuth("", job.Username, job.Password, job.SMTPServer)
		if err := client.Auth(auth); err != nil {
			return apperrors.MapSMTPError(err)
		}
	}

	if err := client.Mail(job.SMTPEmail); err != nil {
		return apperrors.MapSMTPError(err)
	}
	if err := client.Rcpt(job.SendTo); err != nil {
		return apperrors.MapSMTPError(err)
	}

	w, err := client.Data()
	if err != nil {
		return apperrors.MapSMTPError(err)
	}
	body := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		job.SMTPEmail, job.SendTo, job.Subject, job.Message)
	if _, err := w.Write([]byte(body)); err != nil {
		return apperrors.MapSMTPError(err)
	}
	if err := w.Close(); err != nil {
		return apperrors.MapSMTPError(err)
	}
	if err := client.Quit(); err != nil {
		return apperrors.MapSMTPError(err)
	}
	return nil
}

// sendXMPP speaks the legacy jabber:iq:auth handshake: plaintext stream,
// non-SASL authentication, one message stanza.
func sendXMPP(job *worker.XMPPJob) error {
	user, domain, ok := strings.Cut(job.Username, "@")
	if !ok {
		return fmt.Errorf("xmpp username %q must be user@domain", job.Username)
	}

	conn, err := net.DialTimeout("tcp", net.JoinHostPort(domain, "5222"), deliveryTimeout)
	if err != nil {
		return apperrors.MapNetworkError(err, "xmpp")
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(deliveryTimeout))

	fmt.Fprintf(conn, "<stream:stream to='%s' xmlns='jabber:client' xmlns:stream='http://etherx.jabber.org/streams'>",
		xmlEscape(domain))

	fmt.Fprintf(conn,
		"<iq type='set' id='auth'><query xmlns='jabber:iq:auth'>"+
			"<username>%s</username><password>%s</password><resource>alerter</resource></query></iq>",
		xmlEscape(user), xmlEscape(job.Password))

	fmt.Fprintf(conn,
		"<message to='%s' type='chat'><subject>%s</subject><body>%s</body></message>",
		xmlEscape(job.SendTo), xmlEscape(job.Subject), xmlEscape(job.Message))

	fmt.Fprint(conn, "</stream:stream>")

	// Drain the server's side of the stream; an auth failure surfaces as
	// an error stanza before the stream closes.
	reply, _ := io.ReadAll(io.LimitReader(conn, 64<<10))
	if strings.Contains(string(reply), "not-authorized") {
		return apperrors.NewWithMediaType(apperrors.CodeUnauthorized, apperrors.CategoryAuth,
			"xmpp authentication failed", "xmpp")
	}
	if strings.Contains(string(reply), "<error") {
		return apperrors.NewWithMediaType(apperrors.CodeSendingFailed, apperrors.CategoryTransport,
			"xmpp server rejected delivery", "xmpp")
	}
	return nil
}

func xmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", "'", "&apos;", `"`, "&quot;")
	return r.Replace(s)
}

// sendSMS drives a locally attached GSM modem in text mode.
func sendSMS(job *worker.SMSJob) error {
	modem, err := os.OpenFile(job.GSMModem, os.O_RDWR, 0)
	if err != nil {
		return apperrors.WrapWithMediaType(apperrors.CodeSendingFailed, apperrors.CategoryTransport,
			fmt.Sprintf("cannot open modem %s", job.GSMModem), "sms", err)
	}
	defer modem.Close()

	commands := []string{
		"AT\r",
		"AT+CMGF=1\r",
		fmt.Sprintf("AT+CMGS=\"%s\"\r", job.SendTo),
		job.Message + "\x1a",
	}
	for _, cmd := range commands {
		if _, err := modem.WriteString(cmd); err != nil {
			return apperrors.WrapWithMediaType(apperrors.CodeSendingFailed, apperrors.CategoryTransport,
				"cannot write to modem", "sms", err)
		}
		// Give the modem time to process before the next command; real
		// flow control would read back OK/ERROR prompts.
		time.Sleep(100 * time.Millisecond)
	}
	return nil
}

const textGatewayBase = "https://app.eztexting.com"

func sendTextGateway(job *worker.TextGatewayJob) error {
	form := url.Values{
		"user":        {job.Username},
		"pass":        {job.Password},
		"phonenumber": {job.SendTo},
		"message":     {job.Message},
	}

	httpClient := &http.Client{Timeout: deliveryTimeout}
	resp, err := httpClient.PostForm(textGatewayBase+job.EndpointPath, form)
	if err != nil {
		return apperrors.MapNetworkError(err, "eztexting")
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode != http.StatusOK {
		return apperrors.MapHTTPError(resp.StatusCode, string(body), "eztexting")
	}
	if code := strings.TrimSpace(string(body)); code != "" && code[0] == '-' {
		return apperrors.NewWithMediaType(apperrors.CodeSendingFailed, apperrors.CategoryTransport,
			fmt.Sprintf("text gateway error code %s", code), "eztexting")
	}
	return nil
}

func runExec(job *worker.ExecJob) error {
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", job.Command)
	output, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(output))
		if msg == "" {
			msg = "script failed"
		}
		return apperrors.Wrap(apperrors.CodeExecFailed, apperrors.CategoryTransport, msg, err)
	}
	return nil
}
