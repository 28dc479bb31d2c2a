// Package cache holds per-project metadata snapshots with a 7 day TTL.
// Entries are replaced whole; readers always see a complete old or new
// snapshot. Concurrent expiries may race into duplicate refreshes, which is
// tolerated since refresh is idempotent.
package cache

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	jira "github.com/andygrunwald/go-jira"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	jiraclient "github.com/clintrovert/excelsior/internal/jira"
	"github.com/clintrovert/excelsior/pkg/types"
)

// TTL is how long a metadata snapshot stays valid.
const TTL = 7 * 24 * time.Hour

// sampleSprints is how many recent sprints get sampled for status vocabulary
// and roster discovery.
const sampleSprints = 5

const sampleIssueMax = 100

// Backend is the slice of the Jira client a refresh needs.
type Backend interface {
	ListSprints(ctx context.Context) ([]types.Sprint, error)
	SprintIssues(ctx context.Context, sprintID, max int) ([]jira.Issue, error)
	ListFields(ctx context.Context) ([]jira.Field, error)
	ProjectMeta(ctx context.Context) (versions, components []string, err error)
	ListPriorities(ctx context.Context) ([]string, error)
}

// Store is the keyed metadata cache, one entry per project config id.
type Store struct {
	mu       sync.RWMutex
	entries  map[string]*types.CacheEntry
	backends map[string]Backend
	ttl      time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewStore creates a cache store over the given per-project backends.
func NewStore(backends map[string]Backend, logger *zap.Logger) *Store {
	return &Store{
		entries:  make(map[string]*types.CacheEntry),
		backends: backends,
		ttl:      TTL,
		logger:   logger,
		now:      time.Now,
	}
}

// Get returns a valid snapshot for the config, refreshing transparently when
// the entry is absent or expired.
func (s *Store) Get(ctx context.Context, configID string) (*types.CacheEntry, error) {
	s.mu.RLock()
	entry := s.entries[configID]
	s.mu.RUnlock()

	if entry != nil && s.now().Sub(entry.FetchedAt) < s.ttl {
		return entry, nil
	}
	return s.Refresh(ctx, configID)
}

// Refresh rebuilds the snapshot for a config and swaps it in whole. Errors
// propagate; there is no stale fallback past a failed first load.
func (s *Store) Refresh(ctx context.Context, configID string) (*types.CacheEntry, error) {
	backend, ok := s.backends[configID]
	if !ok {
		return nil, fmt.Errorf("unknown project config %q", configID)
	}

	entry, err := s.fetch(ctx, backend)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh metadata for %s: %w", configID, err)
	}

	s.mu.Lock()
	s.entries[configID] = entry
	s.mu.Unlock()

	s.logger.Info("metadata cache refreshed",
		zap.String("config_id", configID),
		zap.Int("sprints", len(entry.Sprints)),
		zap.Int("team_members", len(entry.TeamMembers)),
	)
	return entry, nil
}

// Invalidate drops a config's snapshot so the next Get refreshes.
func (s *Store) Invalidate(configID string) {
	s.mu.Lock()
	delete(s.entries, configID)
	s.mu.Unlock()
}

// Info reports validity and age without triggering a refresh.
func (s *Store) Info(configID string) types.CacheInfo {
	s.mu.RLock()
	entry := s.entries[configID]
	s.mu.RUnlock()

	if entry == nil {
		return types.CacheInfo{}
	}
	age := s.now().Sub(entry.FetchedAt)
	return types.CacheInfo{
		Valid:     age < s.ttl,
		Age:       age,
		ExpiresIn: s.ttl - age,
	}
}

func (s *Store) fetch(ctx context.Context, backend Backend) (*types.CacheEntry, error) {
	entry := &types.CacheEntry{FetchedAt: s.now()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sprints, err := backend.ListSprints(gctx)
		if err != nil {
			return err
		}
		entry.Sprints = sprints
		return nil
	})
	g.Go(func() error {
		fields, err := backend.ListFields(gctx)
		if err != nil {
			return err
		}
		entry.FieldMappings = types.FieldMappings{StoryPoints: DiscoverStoryPoints(fields)}
		return nil
	})
	g.Go(func() error {
		versions, components, err := backend.ProjectMeta(gctx)
		if err != nil {
			return err
		}
		entry.Versions = versions
		entry.Components = components
		return nil
	})
	g.Go(func() error {
		priorities, err := backend.ListPriorities(gctx)
		if err != nil {
			return err
		}
		entry.Priorities = priorities
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	statuses, roster, err := s.sample(ctx, backend, entry.Sprints)
	if err != nil {
		return nil, err
	}
	entry.Statuses = statuses
	entry.TeamMembers = roster

	return entry, nil
}

// sample derives the observed status vocabulary and the deduplicated roster
// from the issues of the most recent sprints.
func (s *Store) sample(ctx context.Context, backend Backend, sprints []types.Sprint) ([]string, []types.TeamMember, error) {
	recent := recentSprints(sprints, sampleSprints)

	var mu sync.Mutex
	var issues []jira.Issue

	g, gctx := errgroup.WithContext(ctx)
	for _, sp := range recent {
		sp := sp
		g.Go(func() error {
			batch, err := backend.SprintIssues(gctx, sp.ID, sampleIssueMax)
			if err != nil {
				return err
			}
			mu.Lock()
			issues = append(issues, batch...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	statuses := jiraclient.Statuses(issues)

	// Dedup by lowercase email; the first name seen for an email wins.
	seen := make(map[string]bool)
	var roster []types.TeamMember
	for _, rec := range jiraclient.Assignees(issues) {
		key := strings.ToLower(rec.Email)
		if seen[key] {
			continue
		}
		seen[key] = true
		roster = append(roster, types.TeamMember{Name: rec.Name, Email: rec.Email})
	}

	return statuses, roster, nil
}

func recentSprints(sprints []types.Sprint, n int) []types.Sprint {
	sorted := make([]types.Sprint, len(sprints))
	copy(sorted, sprints)
	sort.SliceStable(sorted, func(i, j int) bool {
		si, sj := sorted[i].StartDate, sorted[j].StartDate
		if si == nil {
			return false
		}
		if sj == nil {
			return true
		}
		return si.After(*sj)
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}
