// Package macro expands alert macros in media type parameter templates.
// The script media type's exec_params field is a newline-separated list of
// templates; each is expanded against the alert being dispatched before it
// becomes a command line argument.
package macro

import (
	"strings"

	"github.com/esotel/zabbix/alert"
)

// Macros recognized in templates. Only alert payload fields are injected;
// a template without macros passes through unchanged.
const (
	SendTo  = "{ALERT.SENDTO}"
	Subject = "{ALERT.SUBJECT}"
	Message = "{ALERT.MESSAGE}"
)

// Expander substitutes alert macros into a template string.
type Expander interface {
	Expand(template string, a *alert.Alert) string
}

// Default is the standard expander.
var Default Expander = expander{}

type expander struct{}

func (expander) Expand(template string, a *alert.Alert) string {
	r := strings.NewReplacer(
		SendTo, a.SendTo,
		Subject, a.Subject,
		Message, a.Message,
	)
	return r.Replace(template)
}
