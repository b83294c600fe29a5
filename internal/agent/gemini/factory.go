package gemini

import (
	"context"
	"fmt"

	"github.com/Rrens/agent-bridge/internal/agent"
	"github.com/Rrens/agent-bridge/internal/config"
	"github.com/google/generative-ai-go/genai"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"google.golang.org/api/option"
)

const defaultModel = "gemini-2.0-flash"

// ToolProvider supplies the tool declarations sent to the model and the
// executor serving a working directory
type ToolProvider interface {
	Declarations() []*genai.FunctionDeclaration
	Executor(workDir string) agent.ToolExecutor
}

// Factory creates session clients sharing one API client
type Factory struct {
	client *genai.Client
	cfg    config.AgentConfig
	fs     afero.Fs
	clock  clockwork.Clock
	tools  ToolProvider
}

var _ agent.Factory = (*Factory)(nil)

func NewFactory(ctx context.Context, cfg config.AgentConfig, fs afero.Fs, tools ToolProvider) (*Factory, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini agent is not configured (missing API key)")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &Factory{client: client, cfg: cfg, fs: fs, clock: clockwork.NewRealClock(), tools: tools}, nil
}

func (f *Factory) model() *genai.GenerativeModel {
	name := f.cfg.Model
	if name == "" {
		name = defaultModel
	}
	m := f.client.GenerativeModel(name)
	m.SetTemperature(f.cfg.Temperature)
	if f.cfg.SystemInstruction != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(f.cfg.SystemInstruction)}}
	}
	if decls := f.tools.Declarations(); len(decls) > 0 {
		m.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return m
}

// NewSession returns an uninitialized client and the tool executor for opts.WorkDir
func (f *Factory) NewSession(ctx context.Context, opts agent.SessionOptions) (agent.Client, agent.ToolExecutor, error) {
	m := f.model()
	c := newClient(f.fs, f.clock, opts, f.cfg.MaxRetries, func() chatSession {
		return &genaiChat{cs: m.StartChat()}
	})
	return c, f.tools.Executor(opts.WorkDir), nil
}

func newClient(fs afero.Fs, clock clockwork.Clock, opts agent.SessionOptions, maxRetries int, newChat func() chatSession) *Client {
	return &Client{
		fs:         fs,
		clock:      clock,
		sessionID:  opts.SessionID,
		workDir:    opts.WorkDir,
		recordPath: opts.RecordPath,
		maxRetries: maxRetries,
		newChat:    newChat,
	}
}

func (f *Factory) Close() error {
	return f.client.Close()
}
