package nlu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
)

type execClassifier struct {
	cmd []string
	mu  sync.Mutex
}

type execRequest struct {
	Text string `json:"text"`
}

// NewExecClassifier shells out to a local classifier command: the request is
// written to stdin as JSON, the intent read from stdout as JSON.
func NewExecClassifier(command string) (Classifier, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse nlu command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("nlu command is empty")
	}
	return &execClassifier{cmd: args}, nil
}

func (c *execClassifier) Classify(ctx context.Context, text string) (Intent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	payload, err := json.Marshal(execRequest{Text: text})
	if err != nil {
		return Intent{}, err
	}

	command := exec.CommandContext(ctx, c.cmd[0], c.cmd[1:]...)
	command.Stdin = bytes.NewReader(payload)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return Intent{}, fmt.Errorf("nlu command failed: %w: %s", err, stderr.String())
	}

	var intent Intent
	if err := json.Unmarshal(stdout.Bytes(), &intent); err != nil {
		return Intent{}, fmt.Errorf("decode nlu response: %w", err)
	}
	return intent, nil
}
