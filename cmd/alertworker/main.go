// The alertworker process performs deliveries on behalf of the alert
// manager: it registers over the manager's socket, then executes one job
// at a time and reports the outcome.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/esotel/zabbix/config"
	apperrors "github.com/esotel/zabbix/errors"
	"github.com/esotel/zabbix/ipc"
	"github.com/esotel/zabbix/worker"
)

func main() {
	socketPath := flag.String("socket", config.DefaultSocketPath, "path to the alert manager socket")
	flag.Parse()

	client, err := ipc.Dial(*socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot connect to alert manager: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	reg, err := json.Marshal(worker.RegisterRequest{PPID: os.Getppid()})
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot serialize registration: %v\n", err)
		os.Exit(1)
	}
	if err := client.Send(ipc.CodeRegister, reg); err != nil {
		fmt.Fprintf(os.Stderr, "cannot register with alert manager: %v\n", err)
		os.Exit(1)
	}

	for {
		msg, err := client.Recv()
		if err != nil {
			// Manager went away; nothing left to do.
			os.Exit(1)
		}

		result := worker.Result{}
		if err := deliver(msg); err != nil {
			result.ErrCode = 1
			result.ErrMsg = err.Error()
			result.Retryable = isRetryable(err)
		}

		data, err := json.Marshal(result)
		if err != nil {
			data = []byte(`{"errcode":1,"error":"cannot serialize result"}`)
		}
		if err := client.Send(ipc.CodeResult, data); err != nil {
			os.Exit(1)
		}
	}
}

// isRetryable maps a transport error to the retry hint reported back to
// the manager. Unclassified errors default to retryable so a surprise
// failure still gets its bounded attempts.
func isRetryable(err error) bool {
	var me *apperrors.ManagerError
	if errors.As(err, &me) {
		return me.IsRetryable()
	}
	return true
}

func deliver(msg *ipc.Message) error {
	switch msg.Code {
	case ipc.CodeEmail:
		var job worker.EmailJob
		if err := json.Unmarshal(msg.Data, &job); err != nil {
			return fmt.Errorf("cannot deserialize email job: %w", err)
		}
		return sendEmail(&job)
	case ipc.CodeJabber:
		var job worker.XMPPJob
		if err := json.Unmarshal(msg.Data, &job); err != nil {
			return fmt.Errorf("cannot deserialize xmpp job: %w", err)
		}
		return sendXMPP(&job)
	case ipc.CodeSMS:
		var job worker.SMSJob
		if err := json.Unmarshal(msg.Data, &job); err != nil {
			return fmt.Errorf("cannot deserialize sms job: %w", err)
		}
		return sendSMS(&job)
	case ipc.CodeEZTexting:
		var job worker.TextGatewayJob
		if err := json.Unmarshal(msg.Data, &job); err != nil {
			return fmt.Errorf("cannot deserialize text gateway job: %w", err)
		}
		return sendTextGateway(&job)
	case ipc.CodeExec:
		var job worker.ExecJob
		if err := json.Unmarshal(msg.Data, &job); err != nil {
			return fmt.Errorf("cannot deserialize exec job: %w", err)
		}
		return runExec(&job)
	default:
		return fmt.Errorf("unsupported command code %d", msg.Code)
	}
}
