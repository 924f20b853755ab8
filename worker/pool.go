package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/esotel/zabbix/alert"
	"github.com/esotel/zabbix/errors"
	"github.com/esotel/zabbix/ipc"
	"github.com/esotel/zabbix/logger"
	"github.com/esotel/zabbix/macro"
	"github.com/esotel/zabbix/queue"
	"github.com/esotel/zabbix/retrypolicy"
)

// Client is the connection handle the pool dispatches through. Satisfied
// by *ipc.Client; tests substitute a capture fake.
type Client interface {
	Send(code uint32, data []byte) error
	Close() error
}

// Alerter is one worker slot: the connection to a registered worker
// process and the alert currently dispatched to it, if any.
type Alerter struct {
	client       Client
	alert        *alert.Alert
	dispatchedAt time.Time
}

// Alert returns the alert currently in flight on this slot, or nil.
func (a *Alerter) Alert() *alert.Alert { return a.alert }

// Pool owns the worker slots. Like the rest of the dispatch core it is
// single-threaded: all calls happen on the manager's event loop.
type Pool struct {
	capacity  int
	parentPID int
	scripts   string

	alerters []*Alerter
	byClient map[Client]*Alerter
	free     []*Alerter

	macros macro.Expander
	log    logger.Interface
}

// NewPool creates a pool accepting up to capacity worker registrations.
// parentPID is the pid a REGISTER payload must announce; scriptsDir
// prefixes exec media type script paths.
func NewPool(capacity, parentPID int, scriptsDir string, macros macro.Expander, log logger.Interface) *Pool {
	if macros == nil {
		macros = macro.Default
	}
	return &Pool{
		capacity:  capacity,
		parentPID: parentPID,
		scripts:   scriptsDir,
		byClient:  make(map[Client]*Alerter),
		macros:    macros,
		log:       log,
	}
}

// RegisterAlerter handles a REGISTER message. A client announcing a
// foreign parent pid is closed and ignored; registering more workers than
// the pool was sized for is a protocol violation the caller must treat as
// fatal.
func (p *Pool) RegisterAlerter(client Client, data []byte) error {
	var req RegisterRequest
	if err := json.Unmarshal(data, &req); err != nil {
		_ = client.Close()
		p.log.Warn(context.Background(), "refusing connection with malformed registration: %v", err)
		return nil
	}

	if req.PPID != p.parentPID {
		_ = client.Close()
		p.log.Debug(context.Background(), "refusing connection from foreign process (ppid %d)", req.PPID)
		return nil
	}

	if len(p.alerters) == p.capacity {
		return errors.New(errors.CodeProcessingFailed, errors.CategoryInternal,
			fmt.Sprintf("all %d workers are already registered", p.capacity))
	}

	alerter := &Alerter{client: client}
	p.alerters = append(p.alerters, alerter)
	p.byClient[client] = alerter
	p.free = append(p.free, alerter)
	p.log.Debug(context.Background(), "registered worker %d/%d", len(p.alerters), p.capacity)
	return nil
}

// PopFree takes an idle worker slot off the FIFO.
func (p *Pool) PopFree() (*Alerter, bool) {
	if len(p.free) == 0 {
		return nil, false
	}
	alerter := p.free[0]
	p.free = p.free[1:]
	return alerter, true
}

// PushFree returns a worker slot to the FIFO.
func (p *Pool) PushFree(a *Alerter) {
	p.free = append(p.free, a)
}

// FreeCount returns the number of idle worker slots.
func (p *Pool) FreeCount() int { return len(p.free) }

// Registered returns the number of registered workers.
func (p *Pool) Registered() int { return len(p.alerters) }

// ProcessAlert serializes a's delivery job for its media type and hands it
// to alerter. Alerts whose media type is unsupported or whose exec command
// cannot be prepared are failed terminally without a worker round-trip; a
// missing media type frees the alert defensively. A non-nil error means
// the slot was not consumed and the caller should return it to the free
// pool.
func (p *Pool) ProcessAlert(q *queue.Manager, alerter *Alerter, a *alert.Alert, now int64) error {
	mt, ok := q.MediaType(a.MediaTypeID)
	if !ok {
		q.RemoveAlert(a)
		return errors.New(errors.CodeInvalidMediaType, errors.CategoryInternal,
			fmt.Sprintf("media type %d absent for alert %d", a.MediaTypeID, a.AlertID))
	}
	cfg := &mt.Config

	var (
		code    uint32
		payload interface{}
	)

	switch cfg.Kind {
	case alert.MediaEmail:
		code = ipc.CodeEmail
		payload = EmailJob{
			AlertID: a.AlertID, SendTo: a.SendTo, Subject: a.Subject, Message: a.Message,
			SMTPServer: cfg.SMTPServer, SMTPPort: cfg.SMTPPort, SMTPHelo: cfg.SMTPHelo,
			SMTPEmail: cfg.SMTPEmail, SMTPSecurity: cfg.SMTPSecurity,
			SMTPVerifyPeer: cfg.SMTPVerifyPeer, SMTPVerifyHost: cfg.SMTPVerifyHost,
			SMTPAuthentication: cfg.SMTPAuthentication,
			Username:           cfg.Username, Password: cfg.Password,
		}
	case alert.MediaXMPP:
		code = ipc.CodeJabber
		payload = XMPPJob{
			AlertID: a.AlertID, SendTo: a.SendTo, Subject: a.Subject, Message: a.Message,
			Username: cfg.Username, Password: cfg.Password,
		}
	case alert.MediaSMS:
		code = ipc.CodeSMS
		payload = SMSJob{AlertID: a.AlertID, SendTo: a.SendTo, Message: a.Message, GSMModem: cfg.GSMModem}
	case alert.MediaTextGateway:
		code = ipc.CodeEZTexting
		payload = TextGatewayJob{
			AlertID: a.AlertID, SendTo: a.SendTo, Message: a.Message,
			Username: cfg.Username, Password: cfg.Password, EndpointPath: cfg.ExecPath,
		}
	case alert.MediaExec:
		code = ipc.CodeExec
		command, err := p.prepareExecCommand(cfg, a)
		if err != nil {
			retrypolicy.Fail(q, a, err.Error())
			return errors.Wrap(errors.CodeExecFailed, errors.CategoryConfig, "cannot prepare exec command", err)
		}
		payload = ExecJob{AlertID: a.AlertID, Command: command}
	default:
		retrypolicy.Fail(q, a, "unsupported media type")
		p.log.Error(context.Background(), "cannot process alert %d: unsupported media type: %d", a.AlertID, cfg.Kind)
		return errors.New(errors.CodeInvalidMediaType, errors.CategoryConfig,
			fmt.Sprintf("unsupported media type: %d", cfg.Kind))
	}

	data, err := json.Marshal(payload)
	if err != nil {
		retrypolicy.Fail(q, a, err.Error())
		return errors.Wrap(errors.CodeProcessingFailed, errors.CategoryInternal, "cannot serialize job", err)
	}

	if err := alerter.client.Send(code, data); err != nil {
		// Worker connection is broken: treat as a transient delivery
		// failure so the alert keeps its retry budget.
		retrypolicy.Apply(q, a, 1, fmt.Sprintf("cannot send job to worker: %s", err), true, now)
		return errors.Wrap(errors.CodeNetworkError, errors.CategoryNetwork, "cannot send job to worker", err)
	}

	alerter.alert = a
	alerter.dispatchedAt = time.Now()
	return nil
}

// ProcessResult handles a RESULT message from client: applies the outcome
// state machine to the alert in flight on that slot and returns the slot
// to the free FIFO. A result from an unregistered client is a protocol
// violation the caller must treat as fatal. sent reports whether the
// delivery succeeded; elapsed is the time the job spent on the worker.
func (p *Pool) ProcessResult(q *queue.Manager, client Client, data []byte, now int64) (sent bool, elapsed time.Duration, err error) {
	alerter, ok := p.byClient[client]
	if !ok {
		return false, 0, errors.New(errors.CodeProcessingFailed, errors.CategoryInternal,
			"received result from unregistered client")
	}
	if alerter.alert == nil {
		return false, 0, errors.New(errors.CodeProcessingFailed, errors.CategoryInternal,
			"received result from idle worker")
	}

	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return false, 0, errors.Wrap(errors.CodeProcessingFailed, errors.CategoryInternal,
			"cannot deserialize result", err)
	}

	status := retrypolicy.Apply(q, alerter.alert, res.ErrCode, res.ErrMsg, res.Retryable, now)
	elapsed = time.Since(alerter.dispatchedAt)
	alerter.alert = nil
	p.PushFree(alerter)

	return status == alert.StatusSent, elapsed, nil
}

// prepareExecCommand assembles the shell command for an exec media type:
// the script path under the configured scripts directory, followed by one
// single-quoted argument per newline-terminated exec_params template,
// macro-expanded against the alert. The script must be executable.
func (p *Pool) prepareExecCommand(cfg *alert.MediaType, a *alert.Alert) (string, error) {
	command := filepath.Join(p.scripts, cfg.ExecPath)
	if err := unix.Access(command, unix.X_OK); err != nil {
		return "", fmt.Errorf("cannot execute command %q: %v", command, err)
	}

	var b strings.Builder
	b.WriteString(command)

	params := cfg.ExecParams
	for {
		idx := strings.IndexByte(params, '\n')
		if idx < 0 {
			break
		}
		expanded := p.macros.Expand(params[:idx], a)
		b.WriteString(" '")
		b.WriteString(escapeShellSingleQuote(expanded))
		b.WriteString("'")
		params = params[idx+1:]
	}

	return b.String(), nil
}

// escapeShellSingleQuote makes s safe inside single quotes by closing the
// quote, emitting an escaped quote, and reopening.
func escapeShellSingleQuote(s string) string {
	return strings.ReplaceAll(s, "'", `'\''`)
}
