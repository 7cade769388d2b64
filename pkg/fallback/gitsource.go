package fallback

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
)

// GitSourceConfig configures a git-backed policy source.
type GitSourceConfig struct {
	// Repository is the clone URL
	Repository string `yaml:"repository"`

	// Branch to track (default: main)
	Branch string `yaml:"branch"`

	// Path is the policy file path inside the repository
	Path string `yaml:"path"`

	// LocalPath is where the repository is cloned (default: temp dir)
	LocalPath string `yaml:"local_path"`

	// PollInterval is how often to pull for changes (default: 1m)
	PollInterval time.Duration `yaml:"poll_interval"`

	// Username and Token enable HTTP basic auth for private repositories
	Username string `yaml:"username"`
	Token    string `yaml:"token"`
}

// GitSource keeps an Engine's policies in sync with a YAML file in a git
// repository. It clones on start and polls the tracked branch, replacing
// the installed policy set whenever the policy file's content changes.
type GitSource struct {
	config GitSourceConfig
	engine *Engine

	mu       sync.Mutex
	repo     *gogit.Repository
	lastHash plumbing.Hash
	stopCh   chan struct{}
	doneCh   chan struct{}
	running  bool
}

// NewGitSource creates a git policy source.
func NewGitSource(cfg GitSourceConfig, engine *Engine) (*GitSource, error) {
	if cfg.Repository == "" {
		return nil, fmt.Errorf("git policy repository URL is required")
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("git policy file path is required")
	}
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	if cfg.LocalPath == "" {
		cfg.LocalPath = filepath.Join(os.TempDir(), "helios-policies")
	}

	return &GitSource{
		config: cfg,
		engine: engine,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Start clones the repository, installs the initial policy set, and begins
// polling for changes.
func (g *GitSource) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		return fmt.Errorf("git policy source already running")
	}
	g.running = true
	g.mu.Unlock()

	fail := func(err error) error {
		g.mu.Lock()
		g.running = false
		g.mu.Unlock()
		return err
	}

	if err := g.clone(ctx); err != nil {
		return fail(err)
	}
	if err := g.install(); err != nil {
		return fail(err)
	}

	go g.poll(ctx)
	return nil
}

func (g *GitSource) clone(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	// Reuse an existing clone when present.
	if _, err := os.Stat(filepath.Join(g.config.LocalPath, ".git")); err == nil {
		repo, err := gogit.PlainOpen(g.config.LocalPath)
		if err != nil {
			return fmt.Errorf("failed to open existing policy repo: %w", err)
		}
		g.repo = repo
		return nil
	}

	if err := os.MkdirAll(g.config.LocalPath, 0o755); err != nil {
		return fmt.Errorf("failed to create policy repo directory: %w", err)
	}

	repo, err := gogit.PlainCloneContext(ctx, g.config.LocalPath, false, &gogit.CloneOptions{
		URL:           g.config.Repository,
		ReferenceName: plumbing.NewBranchReferenceName(g.config.Branch),
		SingleBranch:  true,
		Auth:          g.auth(),
	})
	if err != nil {
		return fmt.Errorf("failed to clone policy repository: %w", err)
	}

	g.repo = repo
	return nil
}

func (g *GitSource) auth() *githttp.BasicAuth {
	if g.config.Token == "" {
		return nil
	}
	username := g.config.Username
	if username == "" {
		// GitHub-style token auth accepts any non-empty username.
		username = "git"
	}
	return &githttp.BasicAuth{Username: username, Password: g.config.Token}
}

func (g *GitSource) poll(ctx context.Context) {
	defer close(g.doneCh)

	ticker := time.NewTicker(g.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-g.stopCh:
			return
		case <-ticker.C:
			if err := g.pullAndInstall(ctx); err != nil {
				slog.Warn("git policy sync failed, keeping previous set", "error", err)
			}
		}
	}
}

func (g *GitSource) pullAndInstall(ctx context.Context) error {
	g.mu.Lock()
	wt, err := g.repo.Worktree()
	if err != nil {
		g.mu.Unlock()
		return fmt.Errorf("failed to get worktree: %w", err)
	}

	err = wt.PullContext(ctx, &gogit.PullOptions{
		ReferenceName: plumbing.NewBranchReferenceName(g.config.Branch),
		SingleBranch:  true,
		Auth:          g.auth(),
	})
	if err != nil && err != gogit.NoErrAlreadyUpToDate {
		g.mu.Unlock()
		return fmt.Errorf("failed to pull policy repository: %w", err)
	}

	head, err := g.repo.Head()
	if err != nil {
		g.mu.Unlock()
		return fmt.Errorf("failed to read HEAD: %w", err)
	}
	changed := head.Hash() != g.lastHash
	g.lastHash = head.Hash()
	g.mu.Unlock()

	if !changed {
		return nil
	}
	return g.install()
}

func (g *GitSource) install() error {
	path := filepath.Join(g.config.LocalPath, g.config.Path)
	policies, err := LoadPolicies(path)
	if err != nil {
		return err
	}
	if err := g.engine.Replace(policies); err != nil {
		return err
	}

	slog.Info("fallback policies synced from git",
		"repository", g.config.Repository,
		"branch", g.config.Branch,
		"count", len(policies),
	)
	return nil
}

// Stop stops polling.
func (g *GitSource) Stop() {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return
	}
	g.running = false
	g.mu.Unlock()

	close(g.stopCh)
	<-g.doneCh
}
