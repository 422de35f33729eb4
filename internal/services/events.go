// internal/services/events.go
package services

import (
	"context"

	"github.com/Corphon/AdScriptStudio/internal/models"
)

// Event types pushed to script subscribers.
const (
	EventScriptGenerated = "script.generated"
	EventScriptRefined   = "script.refined"
)

// EventPublisher fans script events out to subscribers. The realtime hub implements it.
type EventPublisher interface {
	Publish(scriptID, eventType string, payload interface{})
}

// ScriptStore is the persistence the services need.
type ScriptStore interface {
	CreateScript(ctx context.Context, session *models.ScriptSession) error
	AppendRevision(ctx context.Context, rev *models.Revision) error
	GetScript(ctx context.Context, id string) (*models.ScriptSession, error)
	ListRevisions(ctx context.Context, id string) ([]models.Revision, error)
}

// RevisionExporter writes a human-readable copy of every stored revision.
type RevisionExporter interface {
	SaveRevision(brief models.AdBrief, rev models.Revision) (string, error)
	LoadRevision(scriptID string, number int) ([]byte, error)
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, string, interface{}) {}
