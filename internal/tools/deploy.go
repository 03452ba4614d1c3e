package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vantagesec/vantage/internal/agent"
	"github.com/vantagesec/vantage/internal/sandbox"
	"github.com/vantagesec/vantage/internal/search"
)

// DeployExposePort obtains a public URL forwarding to a sandbox port.
type DeployExposePort struct {
	Handle sandbox.Handle
}

func (t *DeployExposePort) Name() string { return "deploy_expose_port" }
func (t *DeployExposePort) Description() string {
	return "Expose a local sandbox port on a public URL, e.g. to serve a payload or receive a callback."
}

func (t *DeployExposePort) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"port": {"type": "integer", "minimum": 1, "maximum": 65535}
		},
		"required": ["port"]
	}`)
}

func (t *DeployExposePort) Execute(ctx context.Context, params json.RawMessage, _ agent.EventSink) (string, error) {
	var args struct {
		Port int `json:"port"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return "", fmt.Errorf("deploy_expose_port arguments: %w", err)
	}
	url, err := t.Handle.ExposePort(ctx, args.Port)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("port %d is reachable at %s", args.Port, url), nil
}

// BuildRegistry assembles the agent tool set for one turn against the
// given sandbox handle. In ask-every-time mode the autonomous shell tools
// are replaced by the confirmation variant.
func BuildRegistry(handle sandbox.Handle, truncator *agent.Truncator, searcher search.Searcher, recorder AttachmentRecorder, askMode bool) (*agent.Registry, error) {
	r := agent.NewRegistry()

	var toolSet []agent.Tool
	if askMode {
		toolSet = append(toolSet, AskShellExec{})
	} else {
		toolSet = append(toolSet,
			&ShellExec{Handle: handle, Truncator: truncator},
			&ShellBackground{Handle: handle},
		)
	}
	toolSet = append(toolSet,
		NewShellWait(),
		&FileRead{Handle: handle, Truncator: truncator},
		&FileWrite{Handle: handle, Truncator: truncator},
		&FileStrReplace{Handle: handle, Truncator: truncator},
		&InfoSearchWeb{Searcher: searcher},
		&DeployExposePort{Handle: handle},
		&MessageNotifyUser{Handle: handle, Recorder: recorder},
		MessageAskUser{},
		Idle{},
	)

	for _, t := range toolSet {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}
