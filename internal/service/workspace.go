package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/Strob0t/QueryForge/internal/domain"
	"github.com/Strob0t/QueryForge/internal/domain/agent"
	"github.com/Strob0t/QueryForge/internal/domain/datasource"
	"github.com/Strob0t/QueryForge/internal/port/cache"
	"github.com/Strob0t/QueryForge/internal/port/database"
	"github.com/Strob0t/QueryForge/internal/port/messagequeue"
)

// WorkspaceService answers which backend types a workspace has. Answers are
// cached and concurrent misses for one workspace share a single lookup.
type WorkspaceService struct {
	catalog database.DatabaseCatalog
	cache   cache.Cache
	ttl     time.Duration
	group   singleflight.Group
	queue   messagequeue.Queue
}

// NewWorkspaceService creates a WorkspaceService. A nil cache disables caching.
func NewWorkspaceService(catalog database.DatabaseCatalog, c cache.Cache, ttl time.Duration) *WorkspaceService {
	return &WorkspaceService{catalog: catalog, cache: c, ttl: ttl}
}

// SetQueue enables change notifications so other replicas drop their
// cached availability when a database is added.
func (s *WorkspaceService) SetQueue(q messagequeue.Queue) { s.queue = q }

// ValidateWorkspaceID rejects ids that are not UUIDs.
func ValidateWorkspaceID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: workspaceId is required", domain.ErrValidation)
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: workspaceId is not a valid id", domain.ErrValidation)
	}
	return nil
}

func availabilityKey(workspaceID string) string {
	return "ws:availability:" + workspaceID
}

// Availability reports the backend types connected to the workspace.
func (s *WorkspaceService) Availability(ctx context.Context, workspaceID string) (agent.Availability, error) {
	key := availabilityKey(workspaceID)
	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, key); err != nil {
			slog.WarnContext(ctx, "availability cache read failed", "workspace_id", workspaceID, "error", err)
		} else if ok {
			var a agent.Availability
			if err := json.Unmarshal(data, &a); err == nil {
				return a, nil
			}
		}
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		dbs, err := s.catalog.ListWorkspaceDatabases(ctx, workspaceID)
		if err != nil {
			return nil, err
		}
		a := datasource.Availability(dbs)
		if s.cache != nil {
			data, _ := json.Marshal(a)
			if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
				slog.WarnContext(ctx, "availability cache write failed", "workspace_id", workspaceID, "error", err)
			}
		}
		return a, nil
	})
	if err != nil {
		return agent.Availability{}, fmt.Errorf("workspace %s availability: %w", workspaceID, err)
	}
	return v.(agent.Availability), nil
}

// Invalidate drops the cached answer, e.g. after a database was added.
func (s *WorkspaceService) Invalidate(ctx context.Context, workspaceID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, availabilityKey(workspaceID)); err != nil {
		slog.WarnContext(ctx, "availability cache delete failed", "workspace_id", workspaceID, "error", err)
	}
}

// ListDatabases returns the databases registered in a workspace.
func (s *WorkspaceService) ListDatabases(ctx context.Context, workspaceID string) ([]datasource.Database, error) {
	return s.catalog.ListWorkspaceDatabases(ctx, workspaceID)
}

// AddDatabase registers a database and drops the cached availability.
func (s *WorkspaceService) AddDatabase(ctx context.Context, db *datasource.Database) error {
	if err := ValidateWorkspaceID(db.WorkspaceID); err != nil {
		return err
	}
	if err := db.Validate(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	if err := s.catalog.CreateWorkspaceDatabase(ctx, db); err != nil {
		return err
	}
	s.Invalidate(ctx, db.WorkspaceID)
	slog.InfoContext(ctx, "workspace database added", "workspace_id", db.WorkspaceID, "database_id", db.ID, "type", db.Type)
	s.notifyChanged(ctx, db)
	return nil
}

func (s *WorkspaceService) notifyChanged(ctx context.Context, db *datasource.Database) {
	if s.queue == nil {
		return
	}
	data, err := json.Marshal(messagequeue.WorkspaceChangedPayload{
		WorkspaceID: db.WorkspaceID,
		DatabaseID:  db.ID,
		Type:        db.Type,
	})
	if err != nil {
		slog.ErrorContext(ctx, "marshal workspace change", "workspace_id", db.WorkspaceID, "error", err)
		return
	}
	if err := s.queue.Publish(ctx, messagequeue.SubjectWorkspaceChanged, data); err != nil {
		slog.WarnContext(ctx, "publish workspace change failed", "workspace_id", db.WorkspaceID, "error", err)
	}
}

// StartChangeSubscriber drops cached availability whenever any replica,
// or the admin CLI, reports a workspace change. The returned function
// stops the subscription.
func (s *WorkspaceService) StartChangeSubscriber(ctx context.Context) (func(), error) {
	if s.queue == nil {
		return func() {}, nil
	}
	return s.queue.Subscribe(ctx, messagequeue.SubjectWorkspaceChanged, s.handleChanged)
}

func (s *WorkspaceService) handleChanged(ctx context.Context, _ string, data []byte) error {
	var p messagequeue.WorkspaceChangedPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode workspace change: %w", err)
	}
	s.Invalidate(ctx, p.WorkspaceID)
	slog.DebugContext(ctx, "workspace availability invalidated", "workspace_id", p.WorkspaceID, "database_id", p.DatabaseID)
	return nil
}
