package stdlib

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/eikobot/eikobot/pkg/handlers"
	"github.com/eikobot/eikobot/pkg/plugin"
	"github.com/eikobot/eikobot/pkg/transports/ssh"
)

// HostModel is the linked model of std.ssh.Host.
type HostModel struct {
	Hostname string
	Username string
	Port     int64
	Password string
	KeyPath  string `eiko:"key_path"`
	Timeout  int64
}

// EikoResource names the resource definition this model binds to.
func (*HostModel) EikoResource() string { return "Host" }

func (m *HostModel) sshConfig() *ssh.Config {
	timeout := SSHTimeout()
	if m.Timeout > 0 {
		timeout = time.Duration(m.Timeout) * time.Second
	}
	return &ssh.Config{
		Host:     m.Hostname,
		Port:     int(m.Port),
		User:     m.Username,
		Password: m.Password,
		KeyPath:  m.KeyPath,
		Timeout:  timeout,
	}
}

// CmdModel is the linked model of std.ssh.Cmd.
type CmdModel struct {
	Host *HostModel
	Cmd  string
}

// EikoResource names the resource definition this model binds to.
func (*CmdModel) EikoResource() string { return "Cmd" }

// CmdHandler executes a command on a remote host.
type CmdHandler struct{}

// EikoResource names the resource definition this handler deploys.
func (*CmdHandler) EikoResource() string { return "Cmd" }

// Execute runs the command once; a non-zero exit code fails the task.
func (h *CmdHandler) Execute(ctx context.Context, c *handlers.Context) error {
	model, ok := c.Resource.(*CmdModel)
	if !ok {
		return fmt.Errorf("expected a Cmd resource")
	}

	client, err := ssh.CachedClient(model.Host.sshConfig())
	if err != nil {
		return err
	}

	result, err := client.Execute(ctx, model.Cmd)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		c.Error(fmt.Sprintf("command exited with %d: %s", result.ExitCode, result.Stderr))
		c.Failed = true
		return nil
	}
	if result.Stdout != "" {
		c.Info(result.Stdout)
	}
	c.Deployed = true
	return nil
}

// FileModel is the linked model of std.file.File.
type FileModel struct {
	Host    *HostModel
	Path    string
	Content string
	Mode    string
}

// EikoResource names the resource definition this model binds to.
func (*FileModel) EikoResource() string { return "File" }

// FileHandler manages a file on a remote host through the CRUD loop.
type FileHandler struct {
	handlers.CRUDBase
}

// EikoResource names the resource definition this handler deploys.
func (*FileHandler) EikoResource() string { return "File" }

// Read compares remote content with desired content.
func (h *FileHandler) Read(ctx context.Context, c *handlers.Context) error {
	model, ok := c.Resource.(*FileModel)
	if !ok {
		return fmt.Errorf("expected a File resource")
	}

	client, err := ssh.CachedClient(model.Host.sshConfig())
	if err != nil {
		return err
	}

	exists, err := client.FileExists(ctx, model.Path)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	content, err := client.ReadFile(ctx, model.Path)
	if err != nil {
		return err
	}
	if string(content) != model.Content {
		c.AddChange("content", model.Content)
	}
	c.Deployed = true
	return nil
}

// Create writes the file.
func (h *FileHandler) Create(ctx context.Context, c *handlers.Context) error {
	return h.write(ctx, c)
}

// Update rewrites the file with the desired content.
func (h *FileHandler) Update(ctx context.Context, c *handlers.Context) error {
	if err := h.write(ctx, c); err != nil {
		return err
	}
	c.Updated = true
	return nil
}

func (h *FileHandler) write(ctx context.Context, c *handlers.Context) error {
	model, ok := c.Resource.(*FileModel)
	if !ok {
		return fmt.Errorf("expected a File resource")
	}

	client, err := ssh.CachedClient(model.Host.sshConfig())
	if err != nil {
		return err
	}

	mode, err := strconv.ParseUint(model.Mode, 8, 32)
	if err != nil {
		return fmt.Errorf("invalid file mode %q: %w", model.Mode, err)
	}

	if err := client.WriteFile(ctx, model.Path, []byte(model.Content), os.FileMode(mode)); err != nil {
		return err
	}
	c.Deployed = true
	return nil
}

func registerHandlers(registry *plugin.Registry) {
	registry.RegisterModel(&HostModel{})
	registry.RegisterModel(&CmdModel{})
	registry.RegisterModel(&FileModel{})

	registry.RegisterHandler(func() handlers.Handler { return &CmdHandler{} })
	registry.RegisterCRUDHandler(func() handlers.CRUDHandler { return &FileHandler{} })
}
