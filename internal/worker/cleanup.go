package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"gmaildispatch/internal/storage"
	"gmaildispatch/pkg/gmail"
)

// cleanupJobParams mirrors policy.cleanupJobParams's JSON shape. The two
// types are intentionally independent — the worker package has no reason
// to import the policy engine just to decode a job payload it already
// knows the shape of.
type cleanupJobParams struct {
	PolicyID int64                 `json:"policy_id"`
	EmailIDs []string              `json:"email_ids"`
	Action   storage.CleanupAction `json:"action"`
}

// CleanupResults is the results payload written back for a "cleanup" job.
type CleanupResults struct {
	Action    string `json:"action"`
	Requested int    `json:"requested"`
	Succeeded int    `json:"succeeded"`
}

// gmailClientFor builds a Gmail API client authenticated as userID, using
// whatever OAuth token the Tool Dispatcher's authenticate flow has stashed
// in the token store. A worker never triggers an OAuth flow itself — if no
// token is on file, the job fails with a clear, non-retryable reason.
func (p *Pool) gmailClientFor(ctx context.Context, userID string) (*gmail.Service, error) {
	if p.tokens == nil || p.oauthConfig == nil {
		return nil, fmt.Errorf("gmail credentials are not configured for this process")
	}
	token, err := p.tokens.Get(userID)
	if err != nil {
		return nil, fmt.Errorf("loading stored token: %w", err)
	}
	if token == nil {
		return nil, fmt.Errorf("no Gmail token on file for user %s; re-authenticate", userID)
	}
	httpClient := p.oauthConfig.Client(ctx, token)
	return gmail.NewService(ctx, option.WithHTTPClient(httpClient))
}

func (p *Pool) runCleanup(log *zap.Logger, userID, jobID string, requestParams []byte) {
	var params cleanupJobParams
	if err := json.Unmarshal(requestParams, &params); err != nil {
		p.store.Fail(userID, jobID, fmt.Errorf("invalid request params: %w", err))
		return
	}
	if len(params.EmailIDs) == 0 {
		p.store.Complete(userID, jobID, mustMarshal(CleanupResults{Action: params.Action.Kind, Requested: 0, Succeeded: 0}))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := p.factory.DatabaseFor(userID)
	if err != nil {
		p.store.Fail(userID, jobID, fmt.Errorf("opening user database: %w", err))
		return
	}

	gsvc, err := p.gmailClientFor(ctx, userID)
	if err != nil {
		log.Error("cleanup job cannot reach gmail", zap.String("job_id", jobID), zap.Error(err))
		p.store.Fail(userID, jobID, err)
		return
	}

	log.Info("running cleanup job",
		zap.String("job_id", jobID),
		zap.String("action", params.Action.Kind),
		zap.Int("email_count", len(params.EmailIDs)),
	)

	var gmailErr error
	switch params.Action.Kind {
	case "archive":
		gmailErr = gsvc.BatchModifyMessages(ctx, userID, params.EmailIDs, nil, []string{"INBOX"})
		if gmailErr == nil {
			if _, err := db.ArchiveEmails(params.EmailIDs, params.Action.Method); err != nil {
				log.Error("gmail archive succeeded but local index update failed",
					zap.String("job_id", jobID), zap.Error(err))
			}
			for _, id := range params.EmailIDs {
				db.RecordArchive(id, params.Action.Method, "")
			}
		}
	case "delete":
		gmailErr = gsvc.BatchTrashMessages(ctx, userID, params.EmailIDs)
		if gmailErr == nil {
			if _, err := db.DeleteEmails(params.EmailIDs); err != nil {
				log.Error("gmail trash succeeded but local index update failed",
					zap.String("job_id", jobID), zap.Error(err))
			}
		}
	default:
		p.store.Fail(userID, jobID, fmt.Errorf("unsupported cleanup action %q", params.Action.Kind))
		return
	}

	if gmailErr != nil {
		log.Error("cleanup job failed against gmail", zap.String("job_id", jobID), zap.Error(gmailErr))
		p.store.Fail(userID, jobID, gmailErr)
		return
	}

	log.Info("cleanup job completed", zap.String("job_id", jobID), zap.Int("succeeded", len(params.EmailIDs)))
	p.store.Complete(userID, jobID, mustMarshal(CleanupResults{
		Action:    params.Action.Kind,
		Requested: len(params.EmailIDs),
		Succeeded: len(params.EmailIDs),
	}))
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return b
}
