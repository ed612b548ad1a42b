package rbac

import (
	"encoding/json"
	"os"
	"strings"
	"sync"
	"time"

	"fleetward/app/models"
	"fleetward/app/repo"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Auditor writes the immutable trail. A failed store write falls back to
// an append-only JSONL file; a failure there too is the only point where
// we settle for an error log, so the write never fails silently.
type Auditor struct {
	repo         *repo.AuditRepository
	fallbackPath string
	log          zerolog.Logger
	mu           sync.Mutex
}

func NewAuditor(auditRepo *repo.AuditRepository, fallbackPath string, log zerolog.Logger) *Auditor {
	return &Auditor{
		repo:         auditRepo,
		fallbackPath: fallbackPath,
		log:          log.With().Str("component", "audit").Logger(),
	}
}

func (a *Auditor) Write(actor Actor, action string, targets []string, result, details string) {
	entry := &models.AuditLogEntry{
		EntryUUID:     uuid.NewString(),
		Timestamp:     time.Now(),
		User:          actor.Name,
		Role:          actor.Role,
		Action:        action,
		Targets:       strings.Join(targets, ","),
		Result:        result,
		SourceAddress: actor.Source,
		Details:       details,
	}
	if err := a.repo.Append(entry); err != nil {
		a.log.Error().Err(err).Str("action", action).Msg("audit store write failed, using file sink")
		a.appendFile(entry)
	}
}

func (a *Auditor) appendFile(entry *models.AuditLogEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	f, err := os.OpenFile(a.fallbackPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		a.log.Error().Err(err).Msg("audit fallback sink unavailable")
		return
	}
	defer f.Close()
	line, err := json.Marshal(entry)
	if err != nil {
		a.log.Error().Err(err).Msg("audit entry marshal failed")
		return
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		a.log.Error().Err(err).Msg("audit fallback write failed")
	}
}
