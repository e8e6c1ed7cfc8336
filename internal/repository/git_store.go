package repository

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"memo-sync/internal/domain"
	"memo-sync/pkg/logger"
)

const gitDataDir = "data"

type GitStoreConfig struct {
	Dir         string
	RemoteURL   string
	Username    string
	Password    string
	Branch      string
	AuthorName  string
	AuthorEmail string
}

// gitStore keeps data/notes.json and data/stats.json in a git working tree and
// commits every write. With a remote configured, each commit is pushed.
type gitStore struct {
	mu     sync.Mutex
	cfg    GitStoreConfig
	repo   *git.Repository
	auth   *http.BasicAuth
	logger *zap.Logger
}

func NewGitStore(cfg GitStoreConfig, lg *zap.Logger) (NoteStore, error) {
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}
	s := &gitStore{cfg: cfg, logger: logger.OrNop(lg)}
	if cfg.Username != "" || cfg.Password != "" {
		s.auth = &http.BasicAuth{Username: cfg.Username, Password: cfg.Password}
	}

	repo, err := s.open()
	if err != nil {
		return nil, err
	}
	s.repo = repo
	return s, nil
}

func (s *gitStore) open() (*git.Repository, error) {
	if _, err := os.Stat(filepath.Join(s.cfg.Dir, ".git")); err == nil {
		repo, err := git.PlainOpen(s.cfg.Dir)
		if err != nil {
			return nil, errors.Wrap(err, "git open failed")
		}
		return repo, nil
	}

	branchRef := plumbing.NewBranchReferenceName(s.cfg.Branch)

	if s.cfg.RemoteURL != "" {
		s.logger.Info("Cloning notes repository", zap.String(logger.FieldPath, s.cfg.Dir))
		repo, err := git.PlainClone(s.cfg.Dir, false, &git.CloneOptions{
			URL:           s.cfg.RemoteURL,
			Auth:          s.authMethod(),
			ReferenceName: branchRef,
			SingleBranch:  true,
		})
		if err == nil {
			return repo, nil
		}
		if !errors.Is(err, transport.ErrEmptyRemoteRepository) {
			return nil, errors.Wrap(err, "git clone failed")
		}
		_ = os.RemoveAll(s.cfg.Dir)
	}

	s.logger.Info("Initializing notes repository", zap.String(logger.FieldPath, s.cfg.Dir))
	repo, err := git.PlainInitWithOptions(s.cfg.Dir, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: branchRef},
	})
	if err != nil {
		return nil, errors.Wrap(err, "git init failed")
	}

	if s.cfg.RemoteURL != "" {
		if _, err := repo.CreateRemote(&config.RemoteConfig{
			Name: git.DefaultRemoteName,
			URLs: []string{s.cfg.RemoteURL},
		}); err != nil {
			return nil, errors.Wrap(err, "git create remote failed")
		}
	}
	return repo, nil
}

func (s *gitStore) authMethod() transport.AuthMethod {
	if s.auth == nil {
		return nil
	}
	return s.auth
}

func (s *gitStore) path(name string) string {
	return filepath.Join(s.cfg.Dir, gitDataDir, name)
}

func (s *gitStore) ReadNotes(ctx context.Context) ([]*domain.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return readNotesFile(s.path(notesFileName))
}

func (s *gitStore) SaveNote(ctx context.Context, note *domain.Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	notes, err := readNotesFile(s.path(notesFileName))
	if err != nil {
		return err
	}
	if err := writeJSONAtomic(s.path(notesFileName), upsertNote(notes, note)); err != nil {
		return err
	}
	return s.commit(ctx, notesFileName, "Update notes")
}

func (s *gitStore) ReadStats(ctx context.Context) (*domain.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return readStatsFile(s.path(statsFileName))
}

func (s *gitStore) WriteStats(ctx context.Context, stats *domain.Stats) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeJSONAtomic(s.path(statsFileName), stats); err != nil {
		return err
	}
	return s.commit(ctx, statsFileName, "Update stats")
}

func (s *gitStore) commit(ctx context.Context, name, message string) error {
	wt, err := s.repo.Worktree()
	if err != nil {
		return errors.Wrap(err, "git worktree failed")
	}

	if _, err := wt.Add(filepath.ToSlash(filepath.Join(gitDataDir, name))); err != nil {
		return errors.Wrap(err, "git add failed")
	}

	status, err := wt.Status()
	if err != nil {
		return errors.Wrap(err, "git status failed")
	}
	if status.IsClean() {
		return nil
	}

	_, err = wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  s.cfg.AuthorName,
			Email: s.cfg.AuthorEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return errors.Wrap(err, "git commit failed")
	}

	if s.cfg.RemoteURL == "" {
		return nil
	}

	branch := plumbing.NewBranchReferenceName(s.cfg.Branch)
	err = s.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: git.DefaultRemoteName,
		Auth:       s.authMethod(),
		RefSpecs:   []config.RefSpec{config.RefSpec(branch + ":" + branch)},
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		// The commit is durable locally; the next successful push carries it.
		s.logger.Warn("git push failed", zap.Error(err), zap.String(logger.FieldPath, name))
	}
	return nil
}

func (s *gitStore) Close() error {
	return nil
}
