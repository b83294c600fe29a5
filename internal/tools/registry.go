// Package tools is the tool executor behind agent tool calls. Every session
// gets an executor confined to its working directory.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/Rrens/agent-bridge/internal/agent"
	"github.com/Rrens/agent-bridge/internal/config"
	"github.com/Rrens/agent-bridge/internal/tools/sqldb"
	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

var ErrUnknownTool = errors.New("unknown tool")

// Output is what a tool hands back: Content goes to the agent, Display to the user
type Output struct {
	Content string
	Display string
}

// Env is the per-session view a tool runs against
type Env struct {
	FS      afero.Fs
	WorkDir string
	DB      *sqldb.Pool
	Limits  config.ToolsConfig
}

type Tool interface {
	Name() string
	Declaration() *genai.FunctionDeclaration
	Run(ctx context.Context, env *Env, args map[string]any) (Output, error)
}

// Registry holds the available tools
type Registry struct {
	fs     afero.Fs
	pool   *sqldb.Pool
	limits config.ToolsConfig
	tools  map[string]Tool
}

// NewRegistry registers the file tools, plus the database tools when pool has
// any database configured. pool may be nil.
func NewRegistry(fs afero.Fs, limits config.ToolsConfig, pool *sqldb.Pool) *Registry {
	r := &Registry{fs: fs, pool: pool, limits: limits, tools: make(map[string]Tool)}
	r.Register(listDirectory{})
	r.Register(readFile{})
	r.Register(writeFile{})
	r.Register(globTool{})
	if pool != nil && len(pool.Databases()) > 0 {
		r.Register(listDatabases{})
		r.Register(describeDatabase{})
		r.Register(queryDatabase{})
	}
	return r
}

func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

// Declarations returns the function declarations sorted by name
func (r *Registry) Declarations() []*genai.FunctionDeclaration {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	decls := make([]*genai.FunctionDeclaration, 0, len(names))
	for _, name := range names {
		decls = append(decls, r.tools[name].Declaration())
	}
	return decls
}

// Executor returns a tool executor rooted at workDir
func (r *Registry) Executor(workDir string) agent.ToolExecutor {
	return &executor{
		tools: r.tools,
		env: &Env{
			FS:      afero.NewBasePathFs(r.fs, workDir),
			WorkDir: workDir,
			DB:      r.pool,
			Limits:  r.limits,
		},
	}
}

type executor struct {
	tools map[string]Tool
	env   *Env
}

func (e *executor) Execute(ctx context.Context, req agent.ToolCallRequest) (*agent.ToolCallResponse, error) {
	resp := &agent.ToolCallResponse{CallID: req.CallID}

	tool, ok := e.tools[req.Name]
	if !ok {
		resp.Error = fmt.Errorf("%w: %s", ErrUnknownTool, req.Name)
		resp.ResultDisplay = resp.Error.Error()
		return resp, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out, err := tool.Run(ctx, e.env, req.Args)
	if err != nil {
		log.Debug().Err(err).Str("tool", req.Name).Str("call_id", req.CallID).Msg("tool failed")
		resp.Error = err
		resp.ResultDisplay = err.Error()
		return resp, nil
	}

	resp.ResponseParts = []genai.Part{genai.FunctionResponse{
		Name:     req.Name,
		Response: map[string]any{"output": out.Content},
	}}
	resp.ResultDisplay = out.Display
	if resp.ResultDisplay == "" {
		resp.ResultDisplay = out.Content
	}
	return resp, nil
}

func stringArg(args map[string]any, key string, required bool) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		if required {
			return "", fmt.Errorf("missing required argument %q", key)
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string", key)
	}
	if required && s == "" {
		return "", fmt.Errorf("argument %q must not be empty", key)
	}
	return s, nil
}

func intArg(args map[string]any, key string, def int) (int, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case int:
		return n, nil
	case int64:
		return int(n), nil
	}
	return 0, fmt.Errorf("argument %q must be a number", key)
}

func objectSchema(required []string, props map[string]*genai.Schema) *genai.Schema {
	return &genai.Schema{Type: genai.TypeObject, Properties: props, Required: required}
}

func stringProp(desc string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeString, Description: desc}
}
